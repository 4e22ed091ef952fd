// ConnectableObservable implementation for rxgo-subjects
// ConnectableObservable：冷数据源+Subject，Connect时才把数据源接入Subject，支持多播
package rxgo

import (
	"context"
	"log/slog"
	"sync"
)

// ============================================================================
// ConnectableObservable 实现
// ============================================================================

// ConnectableObservable 把冷数据源source多播给subject的订阅者
//
// 订阅只订阅subject，不会触发连接。同一时刻最多一个连接；每次Connect到
// 对应Disposable释放之间是一个连接周期，释放旧周期的句柄不会影响新周期。
type ConnectableObservable[T any] struct {
	source  Observable[T]
	subject Subject[T]
	logger  *slog.Logger

	mu   sync.Mutex
	conn *connection[T]
}

// Multicast 用指定的subject创建ConnectableObservable
// source或subject为nil时，Connect与Subscribe返回ErrInvalidArgument
func Multicast[T any](source Observable[T], subject Subject[T], opts ...Option) *ConnectableObservable[T] {
	config := newConfig(opts)
	return &ConnectableObservable[T]{
		source:  source,
		subject: subject,
		logger:  config.Logger.With(slog.String("connectable.name", config.Name)),
	}
}

// Publish 以PublishSubject多播
func Publish[T any](source Observable[T], opts ...Option) *ConnectableObservable[T] {
	return Multicast[T](source, NewPublishSubject[T](opts...), opts...)
}

// PublishBehavior 以BehaviorSubject多播，订阅者先收到最近的值
func PublishBehavior[T any](source Observable[T], initial T, opts ...Option) *ConnectableObservable[T] {
	return Multicast[T](source, NewBehaviorSubject(initial, opts...), opts...)
}

// PublishLast 以AsyncSubject多播，只发出数据源的最后一个值
func PublishLast[T any](source Observable[T], opts ...Option) *ConnectableObservable[T] {
	return Multicast[T](source, NewAsyncSubject[T](opts...), opts...)
}

// Replay 以无界ReplaySubject多播
func Replay[T any](source Observable[T], opts ...Option) (*ConnectableObservable[T], error) {
	subject, err := NewReplaySubject[T](opts...)
	if err != nil {
		return nil, err
	}
	return Multicast[T](source, subject, opts...), nil
}

// ReplayWithSize 以最多重放capacity个值的ReplaySubject多播
func ReplayWithSize[T any](source Observable[T], capacity int, opts ...Option) (*ConnectableObservable[T], error) {
	subject, err := NewReplaySubjectWithSize[T](capacity, opts...)
	if err != nil {
		return nil, err
	}
	return Multicast[T](source, subject, opts...), nil
}

// Share 以PublishSubject多播并按引用计数自动连接，即Publish(source).RefCount()
func Share[T any](source Observable[T], opts ...Option) Observable[T] {
	return Publish[T](source, opts...).RefCount()
}

// Subscribe 订阅subject，不会连接数据源
func (co *ConnectableObservable[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	if co.subject == nil {
		return nil, invalidArgument("connectable subject is nil")
	}
	return co.subject.Subscribe(ctx, observer)
}

// Subject 底层Subject
func (co *ConnectableObservable[T]) Subject() Subject[T] {
	return co.subject
}

// Connect 把数据源接入subject；已连接时返回当前连接
//
// ctx控制上游订阅的生命周期，取消ctx等同于数据源被释放。数据源在锁外订阅，
// 同步发射的数据源可以在回调中释放连接。
func (co *ConnectableObservable[T]) Connect(ctx context.Context) (Disposable, error) {
	if co.source == nil {
		return nil, invalidArgument("connectable source is nil")
	}
	if co.subject == nil {
		return nil, invalidArgument("connectable subject is nil")
	}

	co.mu.Lock()
	if co.conn != nil {
		conn := co.conn
		co.mu.Unlock()
		return conn, nil
	}
	conn := &connection[T]{parent: co}
	co.conn = conn
	co.mu.Unlock()

	co.logger.DebugContext(ctx, "connecting source")
	upstream, err := co.source.Subscribe(ctx, forwarder[T]{subject: co.subject})
	if err != nil {
		if upstream != nil {
			upstream.Dispose()
		}
		co.release(conn)
		co.logger.ErrorContext(ctx, "connect failed", slog.Any("error", err))
		return nil, err
	}
	conn.attach(upstream)
	return conn, nil
}

// IsConnected 检查当前是否有连接
func (co *ConnectableObservable[T]) IsConnected() bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	return co.conn != nil
}

// release 只在conn仍是当前连接时清除记录
func (co *ConnectableObservable[T]) release(conn *connection[T]) bool {
	co.mu.Lock()
	defer co.mu.Unlock()
	if co.conn != conn {
		return false
	}
	co.conn = nil
	return true
}

// connection 一个连接周期
type connection[T any] struct {
	parent *ConnectableObservable[T]

	mu       sync.Mutex
	upstream Disposable
	disposed bool
}

// attach 记录上游订阅；连接在订阅完成前已被释放时立即释放上游
func (c *connection[T]) attach(upstream Disposable) {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		upstream.Dispose()
		return
	}
	c.upstream = upstream
	c.mu.Unlock()
}

// Dispose 结束这个连接周期
func (c *connection[T]) Dispose() {
	c.mu.Lock()
	if c.disposed {
		c.mu.Unlock()
		return
	}
	c.disposed = true
	upstream := c.upstream
	c.upstream = nil
	c.mu.Unlock()

	if c.parent.release(c) {
		c.parent.logger.Debug("source disconnected")
	}
	if upstream != nil {
		upstream.Dispose()
	}
}

// IsDisposed 检查连接是否已结束
func (c *connection[T]) IsDisposed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.disposed
}

// forwarder 把数据源的通知转发给subject
//
// subject观察者的失败已由subject记录，不回传给数据源，
// 否则一个失败的订阅者会让数据源停止向所有订阅者发射。
type forwarder[T any] struct {
	subject Subject[T]
}

func (f forwarder[T]) OnNext(ctx context.Context, value T) error {
	_ = f.subject.OnNext(ctx, value)
	return nil
}

func (f forwarder[T]) OnError(ctx context.Context, err error) error {
	_ = f.subject.OnError(ctx, err)
	return nil
}

func (f forwarder[T]) OnCompleted(ctx context.Context) error {
	_ = f.subject.OnCompleted(ctx)
	return nil
}

// ============================================================================
// RefCount - 按订阅者数量自动连接/断开
// ============================================================================

// refCountObservable 第一个订阅者到来时连接，订阅者数归零时断开
type refCountObservable[T any] struct {
	parent *ConnectableObservable[T]

	mu    sync.Mutex
	count int
	conn  Disposable
}

// RefCount 返回按引用计数自动连接的Observable
// 连接不受触发它的订阅者ctx取消的影响。
func (co *ConnectableObservable[T]) RefCount() Observable[T] {
	return &refCountObservable[T]{parent: co}
}

func (r *refCountObservable[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	sub, err := r.parent.Subscribe(ctx, observer)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	r.count++
	first := r.count == 1
	r.mu.Unlock()

	if first {
		conn, err := r.parent.Connect(context.WithoutCancel(ctx))
		if err != nil {
			r.mu.Lock()
			r.count--
			r.mu.Unlock()
			sub.Dispose()
			return nil, err
		}

		r.mu.Lock()
		if r.count == 0 {
			// 连接完成前所有订阅者已离开
			r.mu.Unlock()
			conn.Dispose()
		} else {
			r.conn = conn
			r.mu.Unlock()
		}
	}

	return NewDisposable(func() {
		sub.Dispose()

		r.mu.Lock()
		r.count--
		var conn Disposable
		if r.count == 0 {
			conn = r.conn
			r.conn = nil
		}
		r.mu.Unlock()

		if conn != nil {
			conn.Dispose()
		}
	}), nil
}

// ============================================================================
// AutoConnect - 第n个订阅者到来时连接
// ============================================================================

// autoConnectObservable 订阅者数量达到threshold时连接一次，之后不再断开
type autoConnectObservable[T any] struct {
	parent    *ConnectableObservable[T]
	threshold int

	mu        sync.Mutex
	count     int
	connected bool
}

// AutoConnect 返回在第n个订阅者到来时连接的Observable；n<=0时立即连接
func (co *ConnectableObservable[T]) AutoConnect(ctx context.Context, n int) (Observable[T], error) {
	if n <= 0 {
		if _, err := co.Connect(ctx); err != nil {
			return nil, err
		}
		return co, nil
	}
	return &autoConnectObservable[T]{parent: co, threshold: n}, nil
}

func (a *autoConnectObservable[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	sub, err := a.parent.Subscribe(ctx, observer)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	a.count++
	connect := !a.connected && a.count >= a.threshold
	if connect {
		a.connected = true
	}
	a.mu.Unlock()

	if connect {
		if _, err := a.parent.Connect(context.WithoutCancel(ctx)); err != nil {
			a.mu.Lock()
			a.count--
			a.connected = false
			a.mu.Unlock()
			sub.Dispose()
			return nil, err
		}
	}
	return sub, nil
}

var _ Observable[int] = (*ConnectableObservable[int])(nil)
