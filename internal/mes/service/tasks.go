package service

import (
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// 后台任务名
const (
	TaskCompleteAllocations = "build.complete_allocations"
	TaskCreateChildBuilds   = "build.create_child_builds"
	TaskCheckOverdueBuilds  = "build.check_overdue"
	TaskNotify              = "notify"
)

type task struct {
	name string
	run  func() error
}

// TaskRunner 后台任务执行器
// Offload 尽力投递到工作协程，失败时返回 false，由调用方决定同步降级还是报错；
// 同步模式（测试用）直接在调用方协程内执行
type TaskRunner struct {
	queue   chan task
	logger  *zap.Logger
	sync    bool
	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

func NewTaskRunner(buffer int, logger *zap.Logger) *TaskRunner {
	if buffer <= 0 {
		buffer = 64
	}
	r := &TaskRunner{
		queue:  make(chan task, buffer),
		logger: logger,
		done:   make(chan struct{}),
	}
	go r.worker()
	return r
}

// NewSyncTaskRunner 同步执行器，任务在调用方协程内立即执行
func NewSyncTaskRunner(logger *zap.Logger) *TaskRunner {
	return &TaskRunner{logger: logger, sync: true}
}

func (r *TaskRunner) worker() {
	defer close(r.done)
	for t := range r.queue {
		if err := t.run(); err != nil {
			r.logger.Error("后台任务失败", zap.String("task", t.name), zap.Error(err))
		} else {
			r.logger.Debug("后台任务完成", zap.String("task", t.name))
		}
	}
}

// Offload 投递任务；返回是否投递成功
func (r *TaskRunner) Offload(name string, fn func() error) bool {
	if r.sync {
		if err := fn(); err != nil {
			r.logger.Error("同步任务失败", zap.String("task", name), zap.Error(err))
		}
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return false
	}
	select {
	case r.queue <- task{name: name, run: fn}:
		return true
	default:
		return false
	}
}

// RunOrFail 必须投递成功的任务，失败时返回错误而不是静默丢弃
func (r *TaskRunner) RunOrFail(name string, fn func() error) error {
	if !r.Offload(name, fn) {
		return fmt.Errorf("后台任务投递失败: %s", name)
	}
	return nil
}

// Stop 停止接收新任务并等待队列排空
func (r *TaskRunner) Stop() {
	if r.sync {
		return
	}
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.stopped = true
	r.mu.Unlock()
	close(r.queue)
	<-r.done
}
