package rxgo

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

func TestScheduledObserver(t *testing.T) {
	ctx := context.Background()

	t.Run("入队不调用观察者", func(t *testing.T) {
		r := newRecorder[int]()
		so := NewScheduledObserver[int](NewTestScheduler(epoch), r, nil)
		require.NoError(t, so.OnNext(ctx, 1))
		require.NoError(t, so.OnNext(ctx, 2))
		assert.Empty(t, r.Values())
		assert.Equal(t, 2, so.Pending())

		require.NoError(t, so.Drain(ctx))
		assert.Equal(t, []int{1, 2}, r.Values())
		assert.Equal(t, 0, so.Pending())
	})

	t.Run("终止后不再投递", func(t *testing.T) {
		r := newRecorder[int]()
		so := NewScheduledObserver[int](nil, r, nil)
		_ = so.OnNext(ctx, 1)
		_ = so.OnCompleted(ctx)
		_ = so.OnNext(ctx, 2)
		_ = so.OnError(ctx, errBoom)
		assert.Equal(t, 2, so.Pending())

		require.NoError(t, so.Drain(ctx))
		assert.Equal(t, []int{1}, r.Values())
		assert.Equal(t, 1, r.Completed())
		assert.Empty(t, r.Errors())

		_ = so.OnNext(ctx, 3)
		require.NoError(t, so.Drain(ctx))
		assert.Equal(t, []int{1}, r.Values())
	})

	t.Run("观察者错误中断本次排空，下次从下一个继续", func(t *testing.T) {
		r := newRecorder[int]()
		r.failOn = func(v int) bool { return v == 2 }
		so := NewScheduledObserver[int](nil, r, nil)
		for i := 1; i <= 4; i++ {
			_ = so.OnNext(ctx, i)
		}

		assert.ErrorIs(t, so.Drain(ctx), errBoom)
		assert.Equal(t, []int{1, 2}, r.Values())
		assert.Equal(t, 2, so.Pending())

		require.NoError(t, so.Drain(ctx))
		assert.Equal(t, []int{1, 2, 3, 4}, r.Values())
	})

	t.Run("EnsureActive同一时刻只有一个排空", func(t *testing.T) {
		s := NewTestScheduler(epoch)
		r := newRecorder[int]()
		so := NewScheduledObserver[int](s, r, nil)

		so.EnsureActive(ctx)
		assert.Equal(t, 0, s.Pending(), "空队列不启动排空")

		_ = so.OnNext(ctx, 1)
		so.EnsureActive(ctx)
		so.EnsureActive(ctx)
		assert.Equal(t, 1, s.Pending())

		// 排空尚未运行时入队的值由同一次排空投递
		_ = so.OnNext(ctx, 2)
		so.EnsureActive(ctx)
		assert.Equal(t, 1, s.Pending())

		s.Flush()
		assert.Equal(t, []int{1, 2}, r.Values())

		_ = so.OnNext(ctx, 3)
		so.EnsureActive(ctx)
		s.Flush()
		assert.Equal(t, []int{1, 2, 3}, r.Values())
	})

	t.Run("同步排空的错误由EnsureActive返回并继续", func(t *testing.T) {
		var failures []error
		r := newRecorder[int]()
		r.failOn = func(v int) bool { return v%2 == 0 }
		so := NewScheduledObserver[int](ImmediateScheduler, r, func(err error) {
			failures = append(failures, err)
		})
		for i := 1; i <= 4; i++ {
			_ = so.OnNext(ctx, i)
		}

		err := so.EnsureActive(ctx)
		assert.ErrorIs(t, err, errBoom)
		assert.Len(t, multierr.Errors(err), 2)
		assert.Equal(t, []int{1, 2, 3, 4}, r.Values())
		assert.Empty(t, failures)
	})

	t.Run("调度排空的错误交给onError并继续", func(t *testing.T) {
		s := NewTestScheduler(epoch)
		var failures []error
		r := newRecorder[int]()
		r.failOn = func(v int) bool { return v%2 == 0 }
		so := NewScheduledObserver[int](s, r, func(err error) {
			failures = append(failures, err)
		})
		for i := 1; i <= 4; i++ {
			_ = so.OnNext(ctx, i)
		}

		require.NoError(t, so.EnsureActive(ctx))
		s.Flush()
		assert.Equal(t, []int{1, 2, 3, 4}, r.Values())
		assert.Len(t, failures, 2)
	})

	t.Run("释放后丢弃队列", func(t *testing.T) {
		s := NewTestScheduler(epoch)
		r := newRecorder[int]()
		so := NewScheduledObserver[int](s, r, nil)
		_ = so.OnNext(ctx, 1)
		so.EnsureActive(ctx)
		so.Dispose()
		assert.True(t, so.IsDisposed())

		s.Flush()
		_ = so.OnNext(ctx, 2)
		require.NoError(t, so.Drain(ctx))
		assert.Empty(t, r.Values())
		assert.Equal(t, 0, so.Pending())
	})

	t.Run("观察者重入时不会嵌套排空", func(t *testing.T) {
		var so *ScheduledObserver[int]
		r := newRecorder[int]()
		r.onValue = func(v int) {
			if v < 3 {
				_ = so.OnNext(ctx, v+1)
				so.EnsureActive(ctx)
			}
		}
		so = NewScheduledObserver[int](ImmediateScheduler, r, nil)
		_ = so.OnNext(ctx, 0)
		so.EnsureActive(ctx)
		assert.Equal(t, []int{0, 1, 2, 3}, r.Values())
	})
}
