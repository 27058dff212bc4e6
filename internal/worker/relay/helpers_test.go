package relay

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/holmirdas/internal/model"
)

func newTestLogger(buf *bytes.Buffer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(buf, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
}

// fakeForwarder はURLごとに結果を返すテスト用Forwarder。
// outcomesに登録のないURLは成功する。
type fakeForwarder struct {
	mu       sync.Mutex
	outcomes map[string]error
	calls    []string
	// nthErr は呼び出し順（1始まり）ごとのエラー。outcomesより優先する。
	nthErr map[int]error
}

func newFakeForwarder() *fakeForwarder {
	return &fakeForwarder{
		outcomes: make(map[string]error),
		nthErr:   make(map[int]error),
	}
}

func (f *fakeForwarder) Forward(_ context.Context, postURL string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, postURL)
	if err, ok := f.nthErr[len(f.calls)]; ok {
		return err
	}
	return f.outcomes[postURL]
}

func (f *fakeForwarder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// recordingSleep は待機時間を記録するだけのSleepFunc。
type recordingSleep struct {
	durations []time.Duration
}

func (r *recordingSleep) sleep(ctx context.Context, d time.Duration) error {
	r.durations = append(r.durations, d)
	return ctx.Err()
}

func newTestDispatcher(fwd Forwarder, buf *bytes.Buffer, maxRetries int) (*Dispatcher, *recordingSleep) {
	d := NewDispatcher(fwd, newTestLogger(buf), nil, maxRetries)
	rs := &recordingSleep{}
	d.sleep = rs.sleep
	return d, rs
}

func rateLimitedErr() error {
	return fmt.Errorf("転送先がステータス 429 を返しました: %w", model.ErrRateLimited)
}

func todo(url string) model.LogEntry {
	return model.LogEntry{PostURL: url, State: model.StateTodo}
}

func entry(url string, state model.EntryState, tries int) model.LogEntry {
	return model.LogEntry{PostURL: url, State: state, Tries: tries}
}

func urlsOf(entries []model.LogEntry) []string {
	urls := make([]string, len(entries))
	for i, e := range entries {
		urls[i] = e.PostURL
	}
	return urls
}

// memoryStore はメモリ上で転送ログを保持するテスト用LogStore。
type memoryStore struct {
	entries []model.LogEntry
	loadErr error
	saves   int
}

func (m *memoryStore) Load(context.Context) ([]model.LogEntry, error) {
	if m.loadErr != nil {
		return nil, m.loadErr
	}
	return append([]model.LogEntry(nil), m.entries...), nil
}

func (m *memoryStore) Save(_ context.Context, entries []model.LogEntry) error {
	m.saves++
	m.entries = append([]model.LogEntry(nil), entries...)
	return nil
}

// staticSource はフィードURLごとに固定の投稿URLを返すテスト用FeedSource。
type staticSource struct {
	feeds map[string][]string
	errs  map[string]error
	calls []string
}

func (s *staticSource) PostURLs(_ context.Context, feedURL string) ([]string, error) {
	s.calls = append(s.calls, feedURL)
	if err, ok := s.errs[feedURL]; ok {
		return nil, err
	}
	return s.feeds[feedURL], nil
}
