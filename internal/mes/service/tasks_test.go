package service

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
)

func TestSyncTaskRunnerRunsInline(t *testing.T) {
	runner := NewSyncTaskRunner(zap.NewNop())
	var ran atomic.Bool
	if ok := runner.Offload("test", func() error {
		ran.Store(true)
		return nil
	}); !ok {
		t.Fatal("sync offload should always succeed")
	}
	if !ran.Load() {
		t.Fatal("sync task should run inline")
	}
}

func TestTaskRunnerOffload(t *testing.T) {
	runner := NewTaskRunner(4, zap.NewNop())
	done := make(chan struct{})
	if ok := runner.Offload("test", func() error {
		close(done)
		return nil
	}); !ok {
		t.Fatal("offload to empty queue should succeed")
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not run")
	}
	runner.Stop()
}

func TestTaskRunnerStoppedRejects(t *testing.T) {
	runner := NewTaskRunner(4, zap.NewNop())
	runner.Stop()
	if ok := runner.Offload("test", func() error { return nil }); ok {
		t.Fatal("stopped runner should reject tasks")
	}
	if err := runner.RunOrFail("test", func() error { return nil }); err == nil {
		t.Fatal("RunOrFail should report failure on stopped runner")
	}
}

func TestSyncRunnerRunOrFailPropagatesNothing(t *testing.T) {
	runner := NewSyncTaskRunner(zap.NewNop())
	// 同步模式下任务错误只记日志，投递本身总是成功
	if err := runner.RunOrFail("test", func() error { return errors.New("boom") }); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}
