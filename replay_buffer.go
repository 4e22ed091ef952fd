// Replay buffers for ReplaySubject
// 重放缓冲：最后一个、定长、无界、时间窗口四种保留策略
package rxgo

import (
	"context"
	"time"
)

// replayBuffer 重放缓冲策略，所有方法都在ReplaySubject的锁内调用
type replayBuffer[T any] interface {
	// push 追加一个值，now为调度器时钟
	push(value T, now time.Time)
	// trim 按策略丢弃过期或超量的项
	trim(now time.Time)
	// replay 按缓冲顺序把所有项排入so，返回排入的数量
	replay(ctx context.Context, so *ScheduledObserver[T]) int
	// values 当前缓冲内容的副本
	values() []T
	len() int
}

// ============================================================================
// ReplayOne - 只保留最新值
// ============================================================================

type replayOne[T any] struct {
	value    T
	hasValue bool
}

func (b *replayOne[T]) push(value T, _ time.Time) {
	b.value = value
	b.hasValue = true
}

func (b *replayOne[T]) trim(time.Time) {}

func (b *replayOne[T]) replay(ctx context.Context, so *ScheduledObserver[T]) int {
	if !b.hasValue {
		return 0
	}
	_ = so.OnNext(ctx, b.value)
	return 1
}

func (b *replayOne[T]) values() []T {
	if !b.hasValue {
		return []T{}
	}
	return []T{b.value}
}

func (b *replayOne[T]) len() int {
	if b.hasValue {
		return 1
	}
	return 0
}

// ============================================================================
// ReplayMany - 保留最后capacity个值
// ============================================================================

// replayMany 队列按需扩容，空缓冲不预先占用capacity大小的内存
type replayMany[T any] struct {
	capacity int
	queue    *ringQueue[T]
}

func newReplayMany[T any](capacity int) *replayMany[T] {
	return &replayMany[T]{
		capacity: capacity,
		queue:    newRingQueue[T](minQueueCapacity),
	}
}

func (b *replayMany[T]) push(value T, now time.Time) {
	b.queue.offer(value)
	b.trim(now)
}

// trim 从队首淘汰直到数量不超过capacity
func (b *replayMany[T]) trim(time.Time) {
	for b.queue.len() > b.capacity {
		b.queue.poll()
	}
}

func (b *replayMany[T]) replay(ctx context.Context, so *ScheduledObserver[T]) int {
	n := b.queue.len()
	for i := 0; i < n; i++ {
		_ = so.OnNext(ctx, b.queue.at(i))
	}
	return n
}

func (b *replayMany[T]) values() []T {
	out := make([]T, b.queue.len())
	for i := range out {
		out[i] = b.queue.at(i)
	}
	return out
}

func (b *replayMany[T]) len() int {
	return b.queue.len()
}

// ============================================================================
// ReplayAll - 无界保留
// ============================================================================

type replayAll[T any] struct {
	items []T
}

func (b *replayAll[T]) push(value T, _ time.Time) {
	b.items = append(b.items, value)
}

func (b *replayAll[T]) trim(time.Time) {}

func (b *replayAll[T]) replay(ctx context.Context, so *ScheduledObserver[T]) int {
	for _, item := range b.items {
		_ = so.OnNext(ctx, item)
	}
	return len(b.items)
}

func (b *replayAll[T]) values() []T {
	out := make([]T, len(b.items))
	copy(out, b.items)
	return out
}

func (b *replayAll[T]) len() int {
	return len(b.items)
}

// ============================================================================
// ReplayTime - 时间窗口，可选数量上限
// ============================================================================

// timedValue 带时间戳的缓冲项
type timedValue[T any] struct {
	value T
	at    time.Time
}

// replayTime 保留时间戳落在[now-window, now]内的值，capacity>0时同时限制数量
type replayTime[T any] struct {
	window   time.Duration
	capacity int
	queue    *ringQueue[timedValue[T]]
}

func newReplayTime[T any](window time.Duration, capacity int) *replayTime[T] {
	return &replayTime[T]{
		window:   window,
		capacity: capacity,
		queue:    newRingQueue[timedValue[T]](minQueueCapacity),
	}
}

func (b *replayTime[T]) push(value T, now time.Time) {
	b.queue.offer(timedValue[T]{value: value, at: now})
	b.trim(now)
}

func (b *replayTime[T]) trim(now time.Time) {
	if b.capacity > 0 {
		for b.queue.len() > b.capacity {
			b.queue.poll()
		}
	}
	cutoff := now.Add(-b.window)
	for {
		head, ok := b.queue.peek()
		if !ok || !head.at.Before(cutoff) {
			return
		}
		b.queue.poll()
	}
}

func (b *replayTime[T]) replay(ctx context.Context, so *ScheduledObserver[T]) int {
	n := b.queue.len()
	for i := 0; i < n; i++ {
		_ = so.OnNext(ctx, b.queue.at(i).value)
	}
	return n
}

func (b *replayTime[T]) values() []T {
	out := make([]T, b.queue.len())
	for i := range out {
		out[i] = b.queue.at(i).value
	}
	return out
}

func (b *replayTime[T]) len() int {
	return b.queue.len()
}
