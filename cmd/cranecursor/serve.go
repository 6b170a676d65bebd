package main

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/yashagw/cranecursor/internal/logging"
)

var (
	serveAddr   string
	metricsAddr string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "serve JSON scan requests over TCP",
	Long: `
  Accepts one JSON request per line and answers with one JSON response per
  line. QUIT or EXIT closes the connection.
`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (defaults to server.addr)")
	serveCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "address serving /metrics, disabled when empty")
}

// Response is the line written back for every request.
type Response struct {
	Type string `json:"type"`
	*Result
	Error string `json:"error,omitempty"`
}

type Server struct {
	engine *Engine
	log    *slog.Logger
	wg     sync.WaitGroup

	mu    sync.Mutex
	conns map[net.Conn]struct{}
}

func NewServer(e *Engine) *Server {
	return &Server{engine: e, log: logging.WithComponent("server"), conns: make(map[net.Conn]struct{})}
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}

	reg := prometheus.NewRegistry()
	e := NewEngine(cfg, reg)
	if err := e.Seed(ctx, seedRows); err != nil {
		return err
	}
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logging.WithComponent("metrics").Warn("metrics server stopped", "error", err)
			}
		}()
		defer metricsSrv.Close()
	}

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "listening on %s", addr)
	}
	s := NewServer(e)
	s.log.Info("cranecursor server listening", "addr", listener.Addr().String(), "rows", seedRows)
	return s.Serve(ctx, listener)
}

// Serve accepts connections until ctx is done. Open connections are closed
// on shutdown and Serve returns once their handlers exit.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	defer s.wg.Wait()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
		case <-stop:
		}
		listener.Close()
		s.closeConns()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.log.Warn("error accepting connection", "error", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handleConnection(ctx, conn)
		}()
	}
}

// track registers conn for shutdown. It refuses once the server is closing.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns == nil {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

func (s *Server) closeConns() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for conn := range s.conns {
		conn.Close()
	}
	s.conns = nil
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	writer := bufio.NewWriter(conn)

	for {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil && err != io.EOF {
				s.log.Warn("error reading from client", "error", err)
			}
			break
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		if upper := strings.ToUpper(line); upper == "QUIT" || upper == "EXIT" {
			writer.WriteString("Goodbye!\n")
			writer.Flush()
			break
		}

		response := s.execute(ctx, line)

		jsonData, err := json.Marshal(response)
		if err != nil {
			jsonData, _ = json.Marshal(Response{Type: "error", Error: "failed to serialize response: " + err.Error()})
		}

		writer.Write(jsonData)
		writer.WriteString("\n")
		writer.Flush()
	}
}

func (s *Server) execute(ctx context.Context, line string) Response {
	var req Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return Response{Type: "error", Error: "malformed request: " + err.Error()}
	}
	res, err := s.engine.Run(ctx, &req)
	if err != nil {
		return Response{Type: "error", Error: err.Error()}
	}
	kind := req.Action
	if kind == "" {
		kind = "scan"
	}
	return Response{Type: kind, Result: res}
}
