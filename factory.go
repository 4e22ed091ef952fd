// Cold sources for rxgo-subjects
// 冷数据源：为ConnectableObservable与测试提供上游，每次订阅独立发射
package rxgo

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ============================================================================
// 订阅函数适配
// ============================================================================

// ObservableFunc 用函数实现Observable
type ObservableFunc[T any] func(ctx context.Context, observer Observer[T]) (Disposable, error)

// Subscribe 调用函数本身
func (f ObservableFunc[T]) Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error) {
	if observer == nil {
		return nil, invalidArgument("observer is nil")
	}
	return f(ctx, observer)
}

// ============================================================================
// safeObserver - 终止只发生一次，释放或失败后不再投递
// ============================================================================

// safeObserver 包装下游观察者：终止通知最多一次；下游返回错误或订阅被释放后
// 后续通知全部丢弃。不持有任何锁调用下游，下游可以在回调中释放订阅。
type safeObserver[T any] struct {
	observer Observer[T]
	done     atomic.Bool

	mu      sync.Mutex
	failure error
}

func newSafeObserver[T any](observer Observer[T]) *safeObserver[T] {
	return &safeObserver[T]{observer: observer}
}

func (o *safeObserver[T]) OnNext(ctx context.Context, value T) error {
	if o.done.Load() {
		return nil
	}
	return o.reject(o.observer.OnNext(ctx, value))
}

func (o *safeObserver[T]) OnError(ctx context.Context, err error) error {
	if !o.done.CompareAndSwap(false, true) {
		return nil
	}
	return o.record(o.observer.OnError(ctx, err))
}

func (o *safeObserver[T]) OnCompleted(ctx context.Context) error {
	if !o.done.CompareAndSwap(false, true) {
		return nil
	}
	return o.record(o.observer.OnCompleted(ctx))
}

// reject 下游失败时停止之后的投递
func (o *safeObserver[T]) reject(err error) error {
	if err == nil {
		return nil
	}
	o.done.Store(true)
	return o.record(err)
}

func (o *safeObserver[T]) record(err error) error {
	if err == nil {
		return nil
	}
	o.mu.Lock()
	if o.failure == nil {
		o.failure = err
	}
	o.mu.Unlock()
	return err
}

// err 下游返回的第一个错误
func (o *safeObserver[T]) err() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.failure
}

func (o *safeObserver[T]) stop() {
	o.done.Store(true)
}

// ============================================================================
// 工厂函数
// ============================================================================

// Create 用emit函数创建冷Observable，emit在订阅的goroutine中同步运行
//
// emit返回的非nil错误作为OnError发给观察者（观察者已终止或已失败时忽略）。
// ctx在订阅被释放时取消，长时间运行的emit应检查它。观察者返回的第一个错误
// 由Subscribe返回。
func Create[T any](emit func(ctx context.Context, observer Observer[T]) error) Observable[T] {
	return ObservableFunc[T](func(ctx context.Context, observer Observer[T]) (Disposable, error) {
		ctx, cancel := context.WithCancel(ctx)
		safe := newSafeObserver(observer)
		sub := NewDisposable(func() {
			safe.stop()
			cancel()
		})

		if err := emit(ctx, safe); err != nil {
			_ = safe.OnError(ctx, err)
		}
		return sub, safe.err()
	})
}

// FromSlice 依次发射切片中的值，然后完成
func FromSlice[T any](values []T) Observable[T] {
	return Create(func(ctx context.Context, observer Observer[T]) error {
		for _, v := range values {
			if ctx.Err() != nil {
				return nil
			}
			if err := observer.OnNext(ctx, v); err != nil {
				return err
			}
		}
		return observer.OnCompleted(ctx)
	})
}

// Just 依次发射给定的值，然后完成
func Just[T any](values ...T) Observable[T] {
	return FromSlice(values)
}

// Empty 立即完成
func Empty[T any]() Observable[T] {
	return Create(func(ctx context.Context, observer Observer[T]) error {
		return observer.OnCompleted(ctx)
	})
}

// Never 永不发射
func Never[T any]() Observable[T] {
	return ObservableFunc[T](func(context.Context, Observer[T]) (Disposable, error) {
		return NewDisposable(nil), nil
	})
}

// Throw 立即以err终止
func Throw[T any](err error) Observable[T] {
	return Create(func(ctx context.Context, observer Observer[T]) error {
		return observer.OnError(ctx, err)
	})
}

// FromChannel 在独立goroutine中读取ch，发射每个值，ch关闭时完成
//
// 释放订阅或取消ctx会停止读取goroutine；ch本身不会被关闭。
func FromChannel[T any](ch <-chan T) Observable[T] {
	return ObservableFunc[T](func(ctx context.Context, observer Observer[T]) (Disposable, error) {
		ctx, cancel := context.WithCancel(ctx)
		safe := newSafeObserver(observer)

		go func() {
			defer cancel()
			for {
				select {
				case <-ctx.Done():
					return
				case v, ok := <-ch:
					if !ok {
						_ = safe.OnCompleted(ctx)
						return
					}
					if err := safe.OnNext(ctx, v); err != nil {
						return
					}
				}
			}
		}()

		return NewDisposable(func() {
			safe.stop()
			cancel()
		}), nil
	})
}

// Interval 每隔period在scheduler上发射递增的序号，从0开始
// 释放订阅或取消ctx都会停止计时。
func Interval(period time.Duration, scheduler Scheduler) Observable[int64] {
	if scheduler == nil {
		scheduler = ImmediateScheduler
	}
	return ObservableFunc[int64](func(ctx context.Context, observer Observer[int64]) (Disposable, error) {
		if period <= 0 {
			return nil, invalidArgument("interval period must be positive")
		}

		ctx, cancel := context.WithCancel(ctx)
		safe := newSafeObserver(observer)

		var next int64
		var ticker Disposable
		var mu sync.Mutex
		stopped := false

		stop := func() {
			safe.stop()
			cancel()
			mu.Lock()
			stopped = true
			t := ticker
			mu.Unlock()
			if t != nil {
				t.Dispose()
			}
		}

		t := ScheduleRecurring(scheduler, period, func() {
			if ctx.Err() != nil {
				return
			}
			if err := safe.OnNext(ctx, next); err != nil {
				stop()
				return
			}
			next++
		})

		mu.Lock()
		ticker = t
		already := stopped
		mu.Unlock()
		if already {
			t.Dispose()
		}
		context.AfterFunc(ctx, stop)
		return NewDisposable(stop), nil
	})
}
