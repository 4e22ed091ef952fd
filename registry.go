// Observer registry for rxgo-subjects
// 观察者注册表：写时复制的有序注册项列表，广播读取快照时不加锁
package rxgo

import (
	"sync"
	"sync/atomic"
)

// registration 一次订阅；同一个观察者订阅两次拥有两个注册项
// cancel非nil时，在注册项因取消订阅或Subject释放而被移除后执行
type registration[T any] struct {
	observer Observer[T]
	cancel   func()
}

// observerRegistry 有序的写时复制注册表
//
// 写者在mu上串行并发布新切片；读者无锁读取当前切片，读到的切片不可修改。
type observerRegistry[T any] struct {
	mu      sync.Mutex
	current atomic.Pointer[[]*registration[T]]
}

func newObserverRegistry[T any]() *observerRegistry[T] {
	r := &observerRegistry[T]{}
	empty := make([]*registration[T], 0)
	r.current.Store(&empty)
	return r
}

// add 按订阅顺序追加到末尾
func (r *observerRegistry[T]) add(observer Observer[T], cancel func()) *registration[T] {
	reg := &registration[T]{observer: observer, cancel: cancel}

	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	next := make([]*registration[T], len(old), len(old)+1)
	copy(next, old)
	next = append(next, reg)
	r.current.Store(&next)
	return reg
}

// remove 从最新的注册项开始查找并移除reg，返回reg是否仍在表中
func (r *observerRegistry[T]) remove(reg *registration[T]) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	for i := len(old) - 1; i >= 0; i-- {
		if old[i] != reg {
			continue
		}
		next := make([]*registration[T], 0, len(old)-1)
		next = append(next, old[:i]...)
		next = append(next, old[i+1:]...)
		r.current.Store(&next)
		return true
	}
	return false
}

// snapshot 当前时刻的注册项，之后的修改不影响已返回的快照
func (r *observerRegistry[T]) snapshot() []*registration[T] {
	return *r.current.Load()
}

// clear 清空并返回清空前的注册项
func (r *observerRegistry[T]) clear() []*registration[T] {
	r.mu.Lock()
	defer r.mu.Unlock()

	old := *r.current.Load()
	empty := make([]*registration[T], 0)
	r.current.Store(&empty)
	return old
}

func (r *observerRegistry[T]) len() int {
	return len(*r.current.Load())
}
