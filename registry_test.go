package rxgo

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserverRegistry(t *testing.T) {
	t.Run("保持订阅顺序", func(t *testing.T) {
		r := newObserverRegistry[int]()
		a, b, c := newRecorder[int](), newRecorder[int](), newRecorder[int]()
		r.add(a, nil)
		r.add(b, nil)
		r.add(c, nil)

		snap := r.snapshot()
		require.Len(t, snap, 3)
		assert.Same(t, a, snap[0].observer)
		assert.Same(t, b, snap[1].observer)
		assert.Same(t, c, snap[2].observer)
	})

	t.Run("同一观察者重复订阅各自独立", func(t *testing.T) {
		r := newObserverRegistry[int]()
		o := newRecorder[int]()
		first := r.add(o, nil)
		second := r.add(o, nil)

		assert.True(t, r.remove(second))
		snap := r.snapshot()
		require.Len(t, snap, 1)
		assert.Same(t, first, snap[0])

		assert.False(t, r.remove(second))
		assert.True(t, r.remove(first))
		assert.Equal(t, 0, r.len())
	})

	t.Run("快照不受之后修改影响", func(t *testing.T) {
		r := newObserverRegistry[int]()
		reg := r.add(newRecorder[int](), nil)
		snap := r.snapshot()

		r.add(newRecorder[int](), nil)
		r.remove(reg)
		assert.Len(t, snap, 1)
		assert.Same(t, reg, snap[0])
		assert.Equal(t, 1, r.len())
	})

	t.Run("clear返回原内容", func(t *testing.T) {
		r := newObserverRegistry[int]()
		r.add(newRecorder[int](), nil)
		r.add(newRecorder[int](), nil)

		old := r.clear()
		assert.Len(t, old, 2)
		assert.Equal(t, 0, r.len())
		assert.Empty(t, r.snapshot())
	})
}

func TestRingQueue(t *testing.T) {
	t.Run("扩容后保持FIFO", func(t *testing.T) {
		q := newRingQueue[int](2)
		for i := 0; i < 20; i++ {
			q.offer(i)
		}
		// 制造回绕
		for i := 0; i < 10; i++ {
			v, ok := q.poll()
			require.True(t, ok)
			assert.Equal(t, i, v)
		}
		for i := 20; i < 50; i++ {
			q.offer(i)
		}
		assert.Equal(t, 40, q.len())
		assert.Equal(t, 10, q.at(0))
		assert.Equal(t, 49, q.at(39))

		head, ok := q.peek()
		require.True(t, ok)
		assert.Equal(t, 10, head)

		for i := 10; i < 50; i++ {
			v, ok := q.poll()
			require.True(t, ok)
			assert.Equal(t, i, v)
		}
		_, ok = q.poll()
		assert.False(t, ok)
		_, ok = q.peek()
		assert.False(t, ok)
	})

	t.Run("clear", func(t *testing.T) {
		q := newRingQueue[string](0)
		q.offer("a")
		q.offer("b")
		q.clear()
		assert.Equal(t, 0, q.len())
		q.offer("c")
		v, _ := q.poll()
		assert.Equal(t, "c", v)
	})
}
