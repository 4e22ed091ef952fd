// Subject implementations for rxgo-subjects
// Subject实现：PublishSubject、BehaviorSubject、AsyncSubject共享同一套注册表与终止协议
package rxgo

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

// ============================================================================
// 公共核心
// ============================================================================

// subjectCore 各变体共享的注册表、日志、指标与释放逻辑
//
// 变体在构造时选定lock，终止状态与缓冲只在lock内读写；注册表自身是写时复制的，
// 广播时读取的快照不受之后订阅或取消订阅的影响。
type subjectCore[T any] struct {
	id     string
	kind   string
	lock   locker
	config *Config

	logger   *slog.Logger
	metrics  *subjectMetrics
	registry *observerRegistry[T]
	closed   atomic.Bool
}

func newSubjectCore[T any](kind string, lock locker, config *Config) *subjectCore[T] {
	id := uuid.NewString()
	return &subjectCore[T]{
		id:     id,
		kind:   kind,
		lock:   lock,
		config: config,
		logger: config.Logger.With(
			slog.String("subject.id", id),
			slog.String("subject.kind", kind),
			slog.String("subject.name", config.Name),
		),
		metrics:  newSubjectMetrics(config.Meter, kind, config.Name),
		registry: newObserverRegistry[T](),
	}
}

// register 在变体的锁内调用
//
// Dispose不持有变体的锁：它先置位closed再清空注册表，所以注册之后再检查一次closed，
// 与Dispose交错时撤销这次注册并返回ErrDisposed。
func (c *subjectCore[T]) register(ctx context.Context, observer Observer[T], cancel func()) (*registration[T], Disposable, error) {
	reg := c.registry.add(observer, cancel)
	c.metrics.subscribed(ctx)
	if c.closed.Load() {
		c.unregister(reg)
		return nil, nil, ErrDisposed
	}
	c.logger.DebugContext(ctx, "observer subscribed", slog.Int("observers", c.registry.len()))
	return reg, NewDisposable(func() { c.unregister(reg) }), nil
}

// unregister 移除注册项；注册项已被终止或释放清空时只执行cancel
func (c *subjectCore[T]) unregister(reg *registration[T]) {
	if c.registry.remove(reg) {
		c.metrics.unsubscribed(context.Background(), 1)
		c.logger.Debug("observer unsubscribed", slog.Int("observers", c.registry.len()))
	}
	if reg.cancel != nil {
		reg.cancel()
	}
}

// detach 终止时清空注册表，返回需要收到终止通知的快照
func (c *subjectCore[T]) detach(ctx context.Context) []*registration[T] {
	regs := c.registry.clear()
	c.metrics.unsubscribed(ctx, len(regs))
	return regs
}

// broadcast 在锁外把一次通知投递给快照中的所有观察者
func (c *subjectCore[T]) broadcast(
	ctx context.Context,
	regs []*registration[T],
	kind Kind,
	deliver func(ctx context.Context, observer Observer[T]) error,
) error {
	if len(regs) == 0 {
		return nil
	}

	start := time.Now()
	err := c.config.Dispatcher.Dispatch(ctx, len(regs), func(ctx context.Context, i int) error {
		if err := deliver(ctx, regs[i].observer); err != nil {
			c.metrics.failed(ctx)
			return err
		}
		return nil
	})
	c.metrics.notified(ctx, kind, len(regs))
	c.metrics.dispatched(ctx, start)

	if err != nil {
		c.logger.ErrorContext(ctx, "observer rejected notification",
			slog.String("notification", kind.String()),
			slog.Any("error", err))
	}
	return err
}

// terminated 记录终止日志
func (c *subjectCore[T]) terminated(ctx context.Context, kind Kind, observers int) {
	c.logger.DebugContext(ctx, "subject terminated",
		slog.String("notification", kind.String()),
		slog.Int("observers", observers))
}

// HasObservers 检查是否有观察者
func (c *subjectCore[T]) HasObservers() bool {
	return c.registry.len() > 0
}

// ObserverCount 获取观察者数量
func (c *subjectCore[T]) ObserverCount() int {
	return c.registry.len()
}

// Dispose 释放Subject：清空观察者，之后的生产者调用被忽略，新订阅返回ErrDisposed
//
// 被清空的观察者不会收到任何终止通知。Dispose不等待变体的锁，
// 可以在观察者回调中调用。
func (c *subjectCore[T]) Dispose() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	regs := c.registry.clear()

	c.metrics.unsubscribed(context.Background(), len(regs))
	for _, reg := range regs {
		if reg.cancel != nil {
			reg.cancel()
		}
	}
	c.logger.Debug("subject disposed", slog.Int("observers", len(regs)))
}

// IsDisposed 检查Subject是否已释放
func (c *subjectCore[T]) IsDisposed() bool {
	return c.closed.Load()
}

// ============================================================================
// PublishSubject - 只向当前订阅者广播
// ============================================================================

// PublishSubject 把通知广播给调用时已订阅的观察者，不缓存任何值
//
// 终止后订阅的观察者立即收到终止通知。使用阻塞锁，锁内从不调用观察者。
type PublishSubject[T any] struct {
	*subjectCore[T]
	term termination
}

// NewPublishSubject 创建PublishSubject
func NewPublishSubject[T any](opts ...Option) *PublishSubject[T] {
	config := newConfig(opts)
	return &PublishSubject[T]{
		subjectCore: newSubjectCore[T]("publish", &blockingLock{}, config),
	}
}

// Subscribe 订阅，终止后订阅会同步收到终止通知并得到已释放的Disposable
func (s *PublishSubject[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	if observer == nil {
		return nil, invalidArgument("observer is nil")
	}

	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		release()
		return nil, ErrDisposed
	}
	if !s.term.active() {
		term := s.term
		release()
		return alreadyDisposed(), deliverTerminal(ctx, term, observer)
	}
	_, sub, err := s.register(ctx, observer, nil)
	release()
	return sub, err
}

// OnNext 广播值给当前快照，终止后忽略
func (s *PublishSubject[T]) OnNext(ctx context.Context, value T) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Load() || !s.term.active() {
		release()
		return nil
	}
	regs := s.registry.snapshot()
	release()

	return s.broadcast(ctx, regs, KindNext, func(ctx context.Context, o Observer[T]) error {
		return o.OnNext(ctx, value)
	})
}

// OnError 以错误终止，只有第一次终止生效
func (s *PublishSubject[T]) OnError(ctx context.Context, err error) error {
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
	regs := s.detach(ctx)
	release()

	s.terminated(ctx, KindError, len(regs))
	return s.broadcast(ctx, regs, KindError, func(ctx context.Context, o Observer[T]) error {
		return o.OnError(ctx, err)
	})
}

// OnCompleted 正常终止，只有第一次终止生效
func (s *PublishSubject[T]) OnCompleted(ctx context.Context) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Load() || !s.term.complete() {
		release()
		return nil
	}
	regs := s.detach(ctx)
	release()

	s.terminated(ctx, KindCompleted, len(regs))
	return s.broadcast(ctx, regs, KindCompleted, func(ctx context.Context, o Observer[T]) error {
		return o.OnCompleted(ctx)
	})
}

// ============================================================================
// BehaviorSubject - 持有当前值
// ============================================================================

// BehaviorSubject 持有最近一个值，新订阅者先收到当前值
//
// 注册与当前值的投递在同一个挂起锁临界区内完成，因此订阅者看到的第一个值
// 与之后的广播之间没有缝隙。等待锁的调用在ctx取消时放弃。
// 当前值投递时观察者收到的ctx代表临界区的持有者，用它回调Subscribe、OnNext、
// OnError或OnCompleted会直接进入，不会等待自己。
type BehaviorSubject[T any] struct {
	*subjectCore[T]

	// value与term只在挂起锁内修改，修改时同时持有mu，Value只需要mu
	mu    sync.Mutex
	term  termination
	value T
}

// NewBehaviorSubject 创建带初始值的BehaviorSubject
func NewBehaviorSubject[T any](initial T, opts ...Option) *BehaviorSubject[T] {
	config := newConfig(opts)
	return &BehaviorSubject[T]{
		subjectCore: newSubjectCore[T]("behavior", newSuspendingLock(), config),
		value:       initial,
	}
}

// Subscribe 订阅并同步收到当前值
//
// 当前值投递失败时撤销注册并返回观察者的错误。终止后订阅只收到终止通知。
func (s *BehaviorSubject[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	if observer == nil {
		return nil, invalidArgument("observer is nil")
	}

	ctx, release, err := s.lock.acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	if s.closed.Load() {
		return nil, ErrDisposed
	}
	if !s.term.active() {
		return alreadyDisposed(), deliverTerminal(ctx, s.term, observer)
	}

	reg, sub, err := s.register(ctx, observer, nil)
	if err != nil {
		return nil, err
	}
	if err := observer.OnNext(ctx, s.value); err != nil {
		s.metrics.failed(ctx)
		s.unregister(reg)
		return nil, err
	}
	s.metrics.notified(ctx, KindNext, 1)
	return sub, nil
}

// OnNext 更新当前值并广播
func (s *BehaviorSubject[T]) OnNext(ctx context.Context, value T) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Load() || !s.term.active() {
		release()
		return nil
	}
	s.mu.Lock()
	s.value = value
	s.mu.Unlock()
	regs := s.registry.snapshot()
	release()

	return s.broadcast(ctx, regs, KindNext, func(ctx context.Context, o Observer[T]) error {
		return o.OnNext(ctx, value)
	})
}

// OnError 以错误终止
func (s *BehaviorSubject[T]) OnError(ctx context.Context, err error) error {
	if err == nil {
		return invalidArgument("error is nil")
	}

	_, release, lockErr := s.lock.acquire(ctx)
	if lockErr != nil {
		return lockErr
	}
	if s.closed.Load() || !s.transition(func(t *termination) bool { return t.fail(err) }) {
		release()
		return nil
	}
	regs := s.detach(ctx)
	release()

	s.terminated(ctx, KindError, len(regs))
	return s.broadcast(ctx, regs, KindError, func(ctx context.Context, o Observer[T]) error {
		return o.OnError(ctx, err)
	})
}

// OnCompleted 正常终止，当前值保留
func (s *BehaviorSubject[T]) OnCompleted(ctx context.Context) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Load() || !s.transition((*termination).complete) {
		release()
		return nil
	}
	regs := s.detach(ctx)
	release()

	s.terminated(ctx, KindCompleted, len(regs))
	return s.broadcast(ctx, regs, KindCompleted, func(ctx context.Context, o Observer[T]) error {
		return o.OnCompleted(ctx)
	})
}

// transition 在挂起锁内调用，修改终止状态时持有mu
func (s *BehaviorSubject[T]) transition(change func(t *termination) bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return change(&s.term)
}

// Value 当前值；以错误终止后返回该错误，释放后返回ErrDisposed
// 不等待挂起锁，可以在观察者回调中调用。
func (s *BehaviorSubject[T]) Value() (T, error) {
	var zero T
	if s.closed.Load() {
		return zero, ErrDisposed
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.term.state == stateErrored {
		return zero, s.term.err
	}
	return s.value, nil
}

// TryValue 非错误状态下返回当前值
func (s *BehaviorSubject[T]) TryValue() (T, bool) {
	value, err := s.Value()
	return value, err == nil
}

// ============================================================================
// AsyncSubject - 只在完成时发出最后一个值
// ============================================================================

// AsyncSubject 缓存最后一个值，只在OnCompleted时把它连同完成信号发给观察者
//
// 活跃期间观察者收不到任何值；以错误终止时丢弃缓存的值。
type AsyncSubject[T any] struct {
	*subjectCore[T]
	term     termination
	value    T
	hasValue bool
	done     chan struct{}
}

// NewAsyncSubject 创建AsyncSubject
func NewAsyncSubject[T any](opts ...Option) *AsyncSubject[T] {
	config := newConfig(opts)
	return &AsyncSubject[T]{
		subjectCore: newSubjectCore[T]("async", &blockingLock{}, config),
		done:        make(chan struct{}),
	}
}

// Subscribe 订阅；已终止时同步收到最终结果
func (s *AsyncSubject[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	if observer == nil {
		return nil, invalidArgument("observer is nil")
	}

	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return nil, err
	}
	if s.closed.Load() {
		release()
		return nil, ErrDisposed
	}
	if !s.term.active() {
		term, value, hasValue := s.term, s.value, s.hasValue
		release()
		if term.state == stateCompleted {
			return alreadyDisposed(), s.deliverResult(ctx, observer, value, hasValue)
		}
		return alreadyDisposed(), deliverTerminal(ctx, term, observer)
	}
	_, sub, err := s.register(ctx, observer, nil)
	release()
	return sub, err
}

// deliverResult 先发最后一个值再发完成；值投递失败时仍然发送完成
func (s *AsyncSubject[T]) deliverResult(ctx context.Context, observer Observer[T], value T, hasValue bool) error {
	var err error
	if hasValue {
		err = observer.OnNext(ctx, value)
	}
	return multierr.Append(err, observer.OnCompleted(ctx))
}

// OnNext 只缓存值，不广播
func (s *AsyncSubject[T]) OnNext(ctx context.Context, value T) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if s.closed.Load() || !s.term.active() {
		return nil
	}
	s.value = value
	s.hasValue = true
	return nil
}

// OnError 以错误终止并丢弃缓存的值
func (s *AsyncSubject[T]) OnError(ctx context.Context, err error) error {
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
	var zero T
	s.value, s.hasValue = zero, false
	regs := s.detach(ctx)
	close(s.done)
	release()

	s.terminated(ctx, KindError, len(regs))
	return s.broadcast(ctx, regs, KindError, func(ctx context.Context, o Observer[T]) error {
		return o.OnError(ctx, err)
	})
}

// OnCompleted 发出缓存的最后一个值（如果有）和完成信号
func (s *AsyncSubject[T]) OnCompleted(ctx context.Context) error {
	_, release, err := s.lock.acquire(ctx)
	if err != nil {
		return err
	}
	if s.closed.Load() || !s.term.complete() {
		release()
		return nil
	}
	value, hasValue := s.value, s.hasValue
	regs := s.detach(ctx)
	close(s.done)
	release()

	s.terminated(ctx, KindCompleted, len(regs))
	return s.broadcast(ctx, regs, KindCompleted, func(ctx context.Context, o Observer[T]) error {
		return s.deliverResult(ctx, o, value, hasValue)
	})
}

// Done 在Subject终止时关闭
func (s *AsyncSubject[T]) Done() <-chan struct{} {
	return s.done
}

// Result 终止后的结果；活跃期间返回ok=false与nil错误
func (s *AsyncSubject[T]) Result() (value T, ok bool, err error) {
	_, release, _ := s.lock.acquire(context.Background())
	defer release()

	switch s.term.state {
	case stateCompleted:
		return s.value, s.hasValue, nil
	case stateErrored:
		return value, false, s.term.err
	default:
		return value, false, nil
	}
}

// Await 阻塞直到Subject终止或ctx结束
func (s *AsyncSubject[T]) Await(ctx context.Context) (T, bool, error) {
	select {
	case <-s.done:
		return s.Result()
	case <-ctx.Done():
		var zero T
		return zero, false, ctx.Err()
	}
}

var (
	_ Subject[int] = (*PublishSubject[int])(nil)
	_ Subject[int] = (*BehaviorSubject[int])(nil)
	_ Subject[int] = (*AsyncSubject[int])(nil)
)
