package metadata

import (
	"sync"
)

// StatInfo holds statistical information about a relation
type StatInfo struct {
	numRecs      int64
	distinctVals map[int]int64
	mutex        sync.RWMutex
}

// NewStatInfo creates a new StatInfo instance
func NewStatInfo(numRecs int64) *StatInfo {
	return &StatInfo{
		numRecs:      numRecs,
		distinctVals: make(map[int]int64),
	}
}

// RecordsOutput returns the number of records in this relation
func (s *StatInfo) RecordsOutput() int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.numRecs
}

// AddRecords adjusts the record count by delta.
func (s *StatInfo) AddRecords(delta int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.numRecs += delta
	if s.numRecs < 0 {
		s.numRecs = 0
	}
}

// SetDistinct records the number of distinct values of a column.
func (s *StatInfo) SetDistinct(col int, n int64) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.distinctVals[col] = n
}

// DistinctValues returns the distinct value count of a column. Without a
// recorded figure it assumes a third of the records are distinct.
func (s *StatInfo) DistinctValues(col int) int64 {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	if n, ok := s.distinctVals[col]; ok && n > 0 {
		if n > s.numRecs && s.numRecs > 0 {
			return s.numRecs
		}
		return n
	}
	if s.numRecs < 3 {
		return max(s.numRecs, 1)
	}
	return s.numRecs / 3
}
