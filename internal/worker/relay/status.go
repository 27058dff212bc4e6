package relay

import (
	"sync"
	"time"
)

// StatusSnapshot はスケジューラの直近の実行状況。
type StatusSnapshot struct {
	Running     bool      `json:"running"`
	Runs        int       `json:"runs"`
	LastRunID   string    `json:"lastRunId,omitempty"`
	LastRunAt   time.Time `json:"lastRunAt,omitzero"`
	LastError   string    `json:"lastError,omitempty"`
	Discovered  int       `json:"discovered"`
	Forwarded   int       `json:"forwarded"`
	Failed      int       `json:"failed"`
	GaveUp      int       `json:"gaveUp"`
	RateLimited bool      `json:"rateLimited"`
	Entries     int       `json:"entries"`
}

// Status は実行結果を保持し、運用エンドポイントから参照できるようにする。
// 複数goroutineから安全に使用できる。
type Status struct {
	mu   sync.RWMutex
	snap StatusSnapshot
}

// Begin は実行開始を記録する。
func (s *Status) Begin() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap.Running = true
}

// Record は1回の実行結果を記録する。
func (s *Status) Record(summary RunSummary, err error, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snap.Running = false
	s.snap.Runs++
	s.snap.LastRunID = summary.RunID
	s.snap.LastRunAt = at
	s.snap.Discovered = summary.Discovered
	s.snap.Forwarded = summary.Stats.Forwarded
	s.snap.Failed = summary.Stats.Failed
	s.snap.GaveUp = summary.Stats.GaveUp
	s.snap.RateLimited = summary.Stats.RateLimited
	s.snap.Entries = summary.Entries
	s.snap.LastError = ""
	if err != nil {
		s.snap.LastError = err.Error()
	}
}

// Snapshot は現在の実行状況のコピーを返す。
func (s *Status) Snapshot() StatusSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.snap
}
