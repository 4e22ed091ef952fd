// ReplaySubject for rxgo-subjects
// ReplaySubject：缓存历史并在订阅时重放，每个订阅者由独立的ScheduledObserver投递
package rxgo

import (
	"context"
	"log/slog"
	"time"
)

// ReplaySubject 按保留策略缓存历史值，新订阅者先收到历史，再收到实时值
//
// 所有状态修改都在挂起锁内完成：订阅时的裁剪、重放与注册是一个原子步骤，
// 实时值在锁内排入各订阅者的队列，排空在锁外由Dispatcher驱动。
// 排空在调用内同步完成时（默认的ImmediateScheduler），观察者返回的错误由
// OnNext/OnError/OnCompleted或Subscribe返回；其他调度器上的排空错误交给
// WithErrorHandler设置的处理函数。
type ReplaySubject[T any] struct {
	*subjectCore[T]
	term   termination
	buffer replayBuffer[T]
}

// NewReplaySubject 创建无界重放的ReplaySubject
func NewReplaySubject[T any](opts ...Option) (*ReplaySubject[T], error) {
	return newReplaySubject[T]("replay.all", &replayAll[T]{}, opts)
}

// NewReplaySubjectWithSize 创建最多重放capacity个值的ReplaySubject
func NewReplaySubjectWithSize[T any](capacity int, opts ...Option) (*ReplaySubject[T], error) {
	if capacity < 0 {
		return nil, invalidArgument("replay capacity is negative")
	}
	if capacity == 1 {
		return newReplaySubject[T]("replay.one", &replayOne[T]{}, opts)
	}
	return newReplaySubject[T]("replay.many", newReplayMany[T](capacity), opts)
}

// NewReplaySubjectWithTime 创建重放最近window时间内的值的ReplaySubject
// capacity<=0表示不限制数量
func NewReplaySubjectWithTime[T any](window time.Duration, capacity int, opts ...Option) (*ReplaySubject[T], error) {
	if window <= 0 {
		return nil, invalidArgument("replay window must be positive")
	}
	if capacity < 0 {
		capacity = 0
	}
	return newReplaySubject[T]("replay.time", newReplayTime[T](window, capacity), opts)
}

func newReplaySubject[T any](kind string, buffer replayBuffer[T], opts []Option) (*ReplaySubject[T], error) {
	config := newConfig(opts)
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &ReplaySubject[T]{
		subjectCore: newSubjectCore[T](kind, newSuspendingLock(), config),
		buffer:      buffer,
	}, nil
}

// Subscribe 重放历史后注册；已终止时重放历史并追加终止通知
//
// 返回的Disposable释放后，尚未投递的历史与实时值都会被丢弃。
// 同步重放时观察者返回的错误与有效的Disposable一起返回，订阅保持有效。
func (s *ReplaySubject[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	if observer == nil {
		return nil, invalidArgument("observer is nil")
	}

	so := NewScheduledObserver(s.config.Scheduler, observer, s.drainFailed)

	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		release()
		return nil, ErrDisposed
	}

	s.buffer.trim(s.config.Scheduler.Now())
	replayed := s.buffer.replay(ctx, so)

	var sub Disposable
	if n, terminal := terminalNotification[T](s.term); terminal {
		_ = n.Accept(ctx, so)
		sub = NewDisposable(so.Dispose)
	} else {
		_, sub, err = s.register(ctx, so, so.Dispose)
	}
	release()
	if err != nil {
		return nil, err
	}

	if replayed > 0 {
		s.metrics.notified(ctx, KindNext, replayed)
		s.logger.DebugContext(ctx, "history replayed", slog.Int("values", replayed))
	}
	if err := so.EnsureActive(ctx); err != nil {
		s.metrics.failed(ctx)
		s.logger.ErrorContext(ctx, "observer rejected replayed notification", slog.Any("error", err))
		return sub, err
	}
	return sub, nil
}

// OnNext 缓存值并排入所有订阅者的队列
func (s *ReplaySubject[T]) OnNext(ctx context.Context, value T) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Load() || !s.term.active() {
		release()
		return nil
	}

	now := s.config.Scheduler.Now()
	s.buffer.push(value, now)
	s.buffer.trim(now)
	regs := s.registry.snapshot()
	for _, reg := range regs {
		_ = reg.observer.OnNext(ctx, value)
	}
	release()

	return s.activate(ctx, regs, KindNext)
}

// OnError 以错误终止，历史保留给之后的订阅者
func (s *ReplaySubject[T]) OnError(ctx context.Context, err error) error {
	if err == nil {
		return invalidArgument("error is nil")
	}

	_, release, lockErr := s.lock.acquire(ctx)
	if lockErr != nil {
		return lockErr
	}
	if s.closed.Load() || !s.term.fail(err) {
		release()
		return nil
	}
	regs := s.terminate(ctx, ErrorNotification[T](err))
	release()

	s.terminated(ctx, KindError, len(regs))
	return s.activate(ctx, regs, KindError)
}

// OnCompleted 正常终止
func (s *ReplaySubject[T]) OnCompleted(ctx context.Context) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Load() || !s.term.complete() {
		release()
		return nil
	}
	regs := s.terminate(ctx, CompletedNotification[T]())
	release()

	s.terminated(ctx, KindCompleted, len(regs))
	return s.activate(ctx, regs, KindCompleted)
}

// terminate 锁内调用：裁剪、清空注册表并把终止通知排入每个订阅者
func (s *ReplaySubject[T]) terminate(ctx context.Context, n Notification[T]) []*registration[T] {
	s.buffer.trim(s.config.Scheduler.Now())
	regs := s.detach(ctx)
	for _, reg := range regs {
		_ = n.Accept(ctx, reg.observer)
	}
	return regs
}

// activate 锁外启动快照中每个订阅者的排空，返回同步排空中观察者的错误
func (s *ReplaySubject[T]) activate(ctx context.Context, regs []*registration[T], kind Kind) error {
	return s.broadcast(ctx, regs, kind, func(ctx context.Context, o Observer[T]) error {
		if so, ok := o.(*ScheduledObserver[T]); ok {
			return so.EnsureActive(ctx)
		}
		return nil
	})
}

// drainFailed 处理异步排空中观察者返回的错误
func (s *ReplaySubject[T]) drainFailed(err error) {
	s.metrics.failed(context.Background())
	if s.config.ErrorHandler != nil {
		s.config.ErrorHandler(err)
		return
	}
	s.logger.Error("scheduled delivery failed", slog.Any("error", err))
}

// BufferedValues 当前缓冲（裁剪后）的副本
func (s *ReplaySubject[T]) BufferedValues() []T {
	_, release, _ := s.lock.acquire(context.Background())
	defer release()

	s.buffer.trim(s.config.Scheduler.Now())
	return s.buffer.values()
}

// BufferedLen 当前缓冲的项数
func (s *ReplaySubject[T]) BufferedLen() int {
	_, release, _ := s.lock.acquire(context.Background())
	defer release()

	s.buffer.trim(s.config.Scheduler.Now())
	return s.buffer.len()
}

var _ Subject[int] = (*ReplaySubject[int])(nil)
