package reconcile

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

type mockRunner struct {
	runs int64
	err  error
}

func (m *mockRunner) RunBatch(ctx context.Context) (*Result, error) {
	atomic.AddInt64(&m.runs, 1)
	if m.err != nil {
		return nil, m.err
	}
	return &Result{}, nil
}

// TestScheduler_RunsImmediatelyAndStops は起動直後の実行と
// コンテキストキャンセルでの停止を検証する。
func TestScheduler_RunsImmediatelyAndStops(t *testing.T) {
	runner := &mockRunner{}
	s := NewScheduler(runner, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, time.Hour)
		close(done)
	}()

	// 起動直後の1回目の実行を待つ
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&runner.runs) == 0 {
		select {
		case <-deadline:
			t.Fatal("scheduler did not run the first batch")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}

	if got := atomic.LoadInt64(&runner.runs); got != 1 {
		t.Errorf("runs = %d, want 1 (interval is one hour)", got)
	}
}

// TestScheduler_BatchErrorDoesNotStop はバッチの失敗でスケジューラが
// 停止しないことを検証する。
func TestScheduler_BatchErrorDoesNotStop(t *testing.T) {
	runner := &mockRunner{err: errors.New("boom")}
	s := NewScheduler(runner, discardLogger())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Start(ctx, 20*time.Millisecond)
		close(done)
	}()

	deadline := time.After(2 * time.Second)
	for atomic.LoadInt64(&runner.runs) < 2 {
		select {
		case <-deadline:
			t.Fatal("scheduler stopped after a batch error")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after context cancellation")
	}
}
