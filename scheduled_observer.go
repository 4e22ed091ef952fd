// ScheduledObserver for rxgo-subjects
// 调度观察者：产生通知的goroutine只负责入队，投递由调度器上的排空完成
package rxgo

import (
	"context"
	"sync"

	"go.uber.org/multierr"
)

// ScheduledObserver 把通知的产生与投递解耦
//
// OnNext/OnError/OnCompleted只入队，排空按FIFO顺序投递，同一个观察者同一时刻
// 最多一个排空。终止通知投递之后不再调用被包装的观察者。
type ScheduledObserver[T any] struct {
	observer  Observer[T]
	scheduler Scheduler
	onError   func(error)

	mu             sync.Mutex
	queue          *ringQueue[Notification[T]]
	running        bool
	terminalQueued bool
	finished       bool
	disposed       bool
}

// NewScheduledObserver 包装observer，EnsureActive启动的排空运行在scheduler上
// 不在EnsureActive调用内完成的排空，其观察者错误交给onError
func NewScheduledObserver[T any](scheduler Scheduler, observer Observer[T], onError func(error)) *ScheduledObserver[T] {
	if scheduler == nil {
		scheduler = ImmediateScheduler
	}
	return &ScheduledObserver[T]{
		observer:  observer,
		scheduler: scheduler,
		onError:   onError,
		queue:     newRingQueue[Notification[T]](minQueueCapacity),
	}
}

// OnNext 值入队，从不调用被包装的观察者
func (so *ScheduledObserver[T]) OnNext(_ context.Context, value T) error {
	so.enqueue(NextNotification(value))
	return nil
}

// OnError 错误终止入队
func (so *ScheduledObserver[T]) OnError(_ context.Context, err error) error {
	so.enqueue(ErrorNotification[T](err))
	return nil
}

// OnCompleted 完成终止入队
func (so *ScheduledObserver[T]) OnCompleted(context.Context) error {
	so.enqueue(CompletedNotification[T]())
	return nil
}

// enqueue 终止通知之后入队的内容被丢弃
func (so *ScheduledObserver[T]) enqueue(n Notification[T]) {
	so.mu.Lock()
	defer so.mu.Unlock()
	if so.disposed || so.terminalQueued {
		return
	}
	if n.IsTerminal() {
		so.terminalQueued = true
	}
	so.queue.offer(n)
}

// Pending 等待投递的通知数
func (so *ScheduledObserver[T]) Pending() int {
	so.mu.Lock()
	defer so.mu.Unlock()
	return so.queue.len()
}

// Drain 在调用方goroutine上投递直到队列为空，已有排空在运行时立即返回nil
//
// 观察者返回错误时停止本次排空并返回该错误；失败的通知不会重试，
// 下一次排空从它之后继续。
func (so *ScheduledObserver[T]) Drain(ctx context.Context) error {
	if !so.claim() {
		return nil
	}
	return so.drain(ctx)
}

// EnsureActive 没有排空在运行且队列非空时，在调度器上启动排空
//
// 调度器在Schedule调用内同步执行排空时（例如ImmediateScheduler），观察者的错误
// 合并后由EnsureActive返回；之后在其他时刻或goroutine上发生的错误交给onError。
// 每个错误只报告一次，出错后排空继续投递后面的通知。
func (so *ScheduledObserver[T]) EnsureActive(ctx context.Context) error {
	if !so.claim() {
		return nil
	}
	ctx = context.WithoutCancel(ctx)

	var mu sync.Mutex
	inline := true
	var inlineErr error
	report := func(err error) {
		mu.Lock()
		if inline {
			inlineErr = multierr.Append(inlineErr, err)
			mu.Unlock()
			return
		}
		mu.Unlock()
		if so.onError != nil {
			so.onError(err)
		}
	}

	so.scheduler.Schedule(0, func() {
		for {
			err := so.drain(ctx)
			if err == nil {
				return
			}
			report(err)
			if !so.claim() {
				return
			}
		}
	})

	mu.Lock()
	inline = false
	err := inlineErr
	mu.Unlock()
	return err
}

// claim 有待投递的通知且没有排空在运行时，标记排空开始
func (so *ScheduledObserver[T]) claim() bool {
	so.mu.Lock()
	defer so.mu.Unlock()
	if so.running || so.disposed || so.finished || so.queue.len() == 0 {
		return false
	}
	so.running = true
	return true
}

// drain 只在claim成功后调用
// running在观察到空队列的同一临界区内清除，并发的入队加EnsureActive不会丢失
func (so *ScheduledObserver[T]) drain(ctx context.Context) error {
	released := false
	defer func() {
		if !released {
			so.mu.Lock()
			so.running = false
			so.mu.Unlock()
		}
	}()

	for {
		so.mu.Lock()
		if so.disposed || so.finished || so.queue.len() == 0 {
			so.running = false
			released = true
			so.mu.Unlock()
			return nil
		}
		n, _ := so.queue.poll()
		if n.IsTerminal() {
			so.finished = true
			so.queue.clear()
		}
		so.mu.Unlock()

		if err := n.Accept(ctx, so.observer); err != nil {
			return err
		}
	}
}

// Dispose 停止投递并丢弃队列中剩余的通知
func (so *ScheduledObserver[T]) Dispose() {
	so.mu.Lock()
	defer so.mu.Unlock()
	so.disposed = true
	so.queue.clear()
}

// IsDisposed 检查是否已释放
func (so *ScheduledObserver[T]) IsDisposed() bool {
	so.mu.Lock()
	defer so.mu.Unlock()
	return so.disposed
}
