package session

import (
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/yashagw/cranecursor/internal/metadata"
)

// Role is the replication role of the local node.
type Role uint8

const (
	Standalone Role = iota
	Master
	Replica
)

func (r Role) String() string {
	switch r {
	case Master:
		return "master"
	case Replica:
		return "replica"
	}
	return "standalone"
}

// Privilege is an operation a user may be granted on a relation or column.
type Privilege uint8

const (
	PrivSelect Privilege = iota
	PrivUpdate
	PrivDelete
)

func (p Privilege) String() string {
	switch p {
	case PrivUpdate:
		return "UPDATE"
	case PrivDelete:
		return "DELETE"
	}
	return "SELECT"
}

// Privileges answers authorization questions. Implementations are consulted
// on every operation, so grants and revokes apply at the next call.
type Privileges interface {
	Table(user string, rel *metadata.Relation, p Privilege) bool
	Column(user string, rel *metadata.Relation, col int, p Privilege) bool
}

// AllowAll grants everything.
type AllowAll struct{}

func (AllowAll) Table(string, *metadata.Relation, Privilege) bool { return true }
func (AllowAll) Column(string, *metadata.Relation, int, Privilege) bool { return true }

// Settings are the tuning parameters of a session.
type Settings struct {
	OptimizeRowCount int64
	CursorPoolSize   int
	MaxConstraints   int
	MaxBlobCompare   int
	LogLevel         string
	LogFormat        string
}

func DefaultSettings() Settings {
	return Settings{
		CursorPoolSize: 4,
		MaxConstraints: 256,
		MaxBlobCompare: 1024,
		LogLevel:       "INFO",
		LogFormat:      "text",
	}
}

// Session is the explicit per-connection context cursors read their
// identity, authorization and tuning from.
type Session struct {
	user            string
	role            Role
	writeSubscribed bool
	syncID          uuid.UUID
	privileges      Privileges
	settings        atomic.Pointer[Settings]
}

type Option func(*Session)

func WithRole(r Role) Option {
	return func(s *Session) { s.role = r }
}

// WithWriteSubscription marks a replica that receives writes back from its
// master.
func WithWriteSubscription() Option {
	return func(s *Session) { s.writeSubscribed = true }
}

func WithSyncID(id uuid.UUID) Option {
	return func(s *Session) { s.syncID = id }
}

func WithPrivileges(p Privileges) Option {
	return func(s *Session) { s.privileges = p }
}

func WithSettings(st Settings) Option {
	return func(s *Session) { s.settings.Store(&st) }
}

func New(user string, opts ...Option) *Session {
	s := &Session{user: user, syncID: uuid.New(), privileges: AllowAll{}}
	def := DefaultSettings()
	s.settings.Store(&def)
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Session) User() string { return s.user }
func (s *Session) Role() Role { return s.role }
func (s *Session) WriteSubscribed() bool { return s.writeSubscribed }
func (s *Session) SyncID() uuid.UUID { return s.syncID }
func (s *Session) Privileges() Privileges { return s.privileges }

// Settings returns the current snapshot. Callers must not keep it across
// operations.
func (s *Session) Settings() Settings {
	return *s.settings.Load()
}

// UpdateSettings atomically replaces the tuning parameters.
func (s *Session) UpdateSettings(fn func(*Settings)) {
	for {
		old := s.settings.Load()
		next := *old
		fn(&next)
		if s.settings.CompareAndSwap(old, &next) {
			return
		}
	}
}

// TracksHistory reports whether mutations on history-tracked relations
// capture a pre-image in this session.
func (s *Session) TracksHistory() bool {
	return s.role == Master || (s.role == Replica && !s.writeSubscribed)
}
