package rxgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNotification(t *testing.T) {
	ctx := context.Background()

	t.Run("类型与终止判断", func(t *testing.T) {
		assert.False(t, NextNotification(1).IsTerminal())
		assert.True(t, ErrorNotification[int](errBoom).IsTerminal())
		assert.True(t, CompletedNotification[int]().IsTerminal())

		assert.Equal(t, "next", KindNext.String())
		assert.Equal(t, "error", KindError.String())
		assert.Equal(t, "completed", KindCompleted.String())
		assert.Equal(t, "unknown", Kind(42).String())
	})

	t.Run("Accept投递到对应方法", func(t *testing.T) {
		r := newRecorder[int]()
		require.NoError(t, NextNotification(7).Accept(ctx, r))
		require.NoError(t, ErrorNotification[int](errBoom).Accept(ctx, r))
		require.NoError(t, CompletedNotification[int]().Accept(ctx, r))

		assert.Equal(t, []int{7}, r.Values())
		assert.Equal(t, []error{errBoom}, r.Errors())
		assert.Equal(t, 1, r.Completed())
	})
}

func TestObserverFunc(t *testing.T) {
	ctx := context.Background()

	t.Run("nil回调被忽略", func(t *testing.T) {
		o := NewObserver[int](nil, nil, nil)
		assert.NoError(t, o.OnNext(ctx, 1))
		assert.NoError(t, o.OnError(ctx, errBoom))
		assert.NoError(t, o.OnCompleted(ctx))
	})

	t.Run("SubscribeFunc", func(t *testing.T) {
		subject := NewPublishSubject[string]()
		var got []string
		sub, err := SubscribeFunc[string](ctx, subject,
			func(_ context.Context, v string) error {
				got = append(got, v)
				return nil
			}, nil, nil)
		require.NoError(t, err)
		defer sub.Dispose()

		require.NoError(t, subject.OnNext(ctx, "a"))
		require.NoError(t, subject.OnNext(ctx, "b"))
		assert.Equal(t, []string{"a", "b"}, got)
	})
}

func TestDisposable(t *testing.T) {
	t.Run("只执行一次", func(t *testing.T) {
		calls := 0
		d := NewDisposable(func() { calls++ })
		assert.False(t, d.IsDisposed())
		d.Dispose()
		d.Dispose()
		assert.True(t, d.IsDisposed())
		assert.Equal(t, 1, calls)
	})

	t.Run("已释放句柄", func(t *testing.T) {
		d := alreadyDisposed()
		assert.True(t, d.IsDisposed())
		d.Dispose()
	})

	t.Run("组合释放", func(t *testing.T) {
		var order []int
		a := NewDisposable(func() { order = append(order, 1) })
		b := NewDisposable(func() { order = append(order, 2) })
		cd := NewCompositeDisposable(a, b)
		assert.Equal(t, 2, cd.Len())

		c := NewDisposable(func() { order = append(order, 3) })
		cd.Add(c)
		assert.True(t, cd.Remove(c))
		assert.False(t, cd.Remove(c))
		assert.Equal(t, []int{3}, order)

		cd.Dispose()
		cd.Dispose()
		assert.True(t, cd.IsDisposed())
		assert.Equal(t, []int{3, 1, 2}, order)

		late := NewDisposable(nil)
		cd.Add(late)
		assert.True(t, late.IsDisposed())
		assert.Equal(t, 0, cd.Len())
	})
}

func TestConfig(t *testing.T) {
	t.Run("默认值", func(t *testing.T) {
		config := newConfig(nil)
		assert.Equal(t, ImmediateScheduler, config.Scheduler)
		assert.Equal(t, SequentialDispatcher{}, config.Dispatcher)
		assert.NotNil(t, config.Logger)
		assert.NotNil(t, config.Meter)
		assert.NoError(t, config.validate())
	})

	t.Run("显式nil调度器无效", func(t *testing.T) {
		config := newConfig([]Option{WithScheduler(nil)})
		assert.ErrorIs(t, config.validate(), ErrInvalidArgument)
	})

	t.Run("nil分发器与日志回落到默认值", func(t *testing.T) {
		config := newConfig([]Option{WithDispatcher(nil), WithLogger(nil), WithMeter(nil), nil})
		assert.Equal(t, SequentialDispatcher{}, config.Dispatcher)
		assert.NotNil(t, config.Logger)
		assert.NotNil(t, config.Meter)
	})
}
