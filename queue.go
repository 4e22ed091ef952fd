package rxgo

// ============================================================================
// 环形队列 - ScheduledObserver的待投递队列与重放缓冲共用
// ============================================================================

const minQueueCapacity = 16

// ringQueue 容量为2的幂的可增长环形队列，非并发安全，由持有者加锁保护
type ringQueue[T any] struct {
	buffer []T
	mask   int
	head   int // 下一个出队位置
	size   int
}

// newRingQueue 创建队列，capacity向上取整为2的幂
func newRingQueue[T any](capacity int) *ringQueue[T] {
	if capacity < minQueueCapacity {
		capacity = minQueueCapacity
	}
	actual := 1
	for actual < capacity {
		actual <<= 1
	}
	return &ringQueue[T]{
		buffer: make([]T, actual),
		mask:   actual - 1,
	}
}

// offer 入队，满时扩容
func (q *ringQueue[T]) offer(item T) {
	if q.size == len(q.buffer) {
		q.grow()
	}
	q.buffer[(q.head+q.size)&q.mask] = item
	q.size++
}

// poll 出队，空时返回false
func (q *ringQueue[T]) poll() (T, bool) {
	var zero T
	if q.size == 0 {
		return zero, false
	}
	item := q.buffer[q.head]
	q.buffer[q.head] = zero // 释放引用
	q.head = (q.head + 1) & q.mask
	q.size--
	return item, true
}

// peek 查看队首
func (q *ringQueue[T]) peek() (T, bool) {
	if q.size == 0 {
		var zero T
		return zero, false
	}
	return q.buffer[q.head], true
}

// at 返回队首起第i个元素
func (q *ringQueue[T]) at(i int) T {
	return q.buffer[(q.head+i)&q.mask]
}

func (q *ringQueue[T]) len() int {
	return q.size
}

// clear 清空队列并释放引用
func (q *ringQueue[T]) clear() {
	var zero T
	for i := 0; i < q.size; i++ {
		q.buffer[(q.head+i)&q.mask] = zero
	}
	q.head = 0
	q.size = 0
}

// grow 容量翻倍，元素按顺序搬到新缓冲区开头
func (q *ringQueue[T]) grow() {
	next := make([]T, len(q.buffer)*2)
	for i := 0; i < q.size; i++ {
		next[i] = q.at(i)
	}
	q.buffer = next
	q.mask = len(next) - 1
	q.head = 0
}
