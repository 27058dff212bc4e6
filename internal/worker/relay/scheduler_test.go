package relay

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hitoshi/holmirdas/internal/model"
)

type countingPipeline struct {
	count atomic.Int32
	err   error
}

func (p *countingPipeline) RunOnce(context.Context) (RunSummary, error) {
	p.count.Add(1)
	return RunSummary{}, p.err
}

func TestScheduler_RunsImmediatelyAndStopsOnCancel(t *testing.T) {
	var buf bytes.Buffer
	p := &countingPipeline{}
	s := NewScheduler(p, newTestLogger(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), 150*time.Millisecond)
	defer cancel()

	if err := s.Start(ctx, 40*time.Millisecond); err != nil {
		t.Fatalf("Start がエラーを返した: %v", err)
	}
	if got := p.count.Load(); got < 2 {
		t.Errorf("実行回数 = %d, want >= 2", got)
	}
}

func TestScheduler_ContinuesAfterOrdinaryError(t *testing.T) {
	var buf bytes.Buffer
	p := &countingPipeline{err: errors.New("転送ログの保存に失敗")}
	s := NewScheduler(p, newTestLogger(&buf))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := s.Start(ctx, 20*time.Millisecond); err != nil {
		t.Fatalf("Start がエラーを返した: %v", err)
	}
	if got := p.count.Load(); got < 2 {
		t.Errorf("実行回数 = %d, want >= 2", got)
	}
}

func TestScheduler_StopsOnCorruptedLog(t *testing.T) {
	var buf bytes.Buffer
	p := &countingPipeline{err: fmt.Errorf("読み込み失敗: %w", model.ErrCorruptedLog)}
	s := NewScheduler(p, newTestLogger(&buf))

	err := s.Start(context.Background(), time.Hour)
	if !errors.Is(err, model.ErrCorruptedLog) {
		t.Fatalf("err = %v, want ErrCorruptedLog", err)
	}
	if got := p.count.Load(); got != 1 {
		t.Errorf("実行回数 = %d, want 1", got)
	}
}

func TestScheduler_RecordsStatus(t *testing.T) {
	var buf bytes.Buffer
	p := &countingPipeline{err: fmt.Errorf("読み込み失敗: %w", model.ErrCorruptedLog)}
	s := NewScheduler(p, newTestLogger(&buf))

	_ = s.Start(context.Background(), time.Hour)

	snap := s.Status().Snapshot()
	if snap.Runs != 1 {
		t.Errorf("Runs = %d, want 1", snap.Runs)
	}
	if snap.Running {
		t.Error("実行終了後もRunningがtrueになっている")
	}
	if snap.LastError == "" {
		t.Error("LastError が記録されていない")
	}
	if snap.LastRunAt.IsZero() {
		t.Error("LastRunAt が記録されていない")
	}
}

func TestScheduler_RejectsNonPositiveInterval(t *testing.T) {
	for _, interval := range []time.Duration{0, -time.Second} {
		var buf bytes.Buffer
		p := &countingPipeline{}
		s := NewScheduler(p, newTestLogger(&buf))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		if err := s.Start(ctx, interval); err == nil {
			t.Errorf("interval %v でエラーが返されるべき", interval)
		}
		if got := p.count.Load(); got != 0 {
			t.Errorf("interval %v で実行回数 = %d, want 0", interval, got)
		}
	}
}
