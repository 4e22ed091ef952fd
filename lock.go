// Locks for rxgo-subjects
// 互斥策略：阻塞锁与可挂起锁，每个Subject变体在构造时选定一种，从不混用
package rxgo

import (
	"context"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// locker Subject变体所依赖的互斥能力
//
// acquire返回的ctx在持锁期间代表持有者。持有者在锁内把它交给观察者，
// 观察者用这个ctx回调同一个Subject时直接进入临界区，不会等待自己。
type locker interface {
	acquire(ctx context.Context) (context.Context, func(), error)
}

// blockingLock 阻塞锁，保护从不调用观察者的短临界区
type blockingLock struct {
	mu sync.Mutex
}

func (l *blockingLock) acquire(ctx context.Context) (context.Context, func(), error) {
	l.mu.Lock()
	return ctx, l.mu.Unlock, nil
}

// suspendingLock 可挂起锁，临界区内可能调用观察者
//
// 等待者挂起在自己的ctx上，ctx结束即放弃等待。持有者派生的ctx可以重入，
// 锁释放后该ctx失去重入资格，再次acquire时与其他调用者一样排队。
type suspendingLock struct {
	sem *semaphore.Weighted
}

// ownerKey 每把锁一个键，嵌套持有多把锁时互不覆盖
type ownerKey struct {
	lock *suspendingLock
}

// ownerToken 持有者标记，释放时失效
type ownerToken struct {
	held atomic.Bool
}

func newSuspendingLock() *suspendingLock {
	return &suspendingLock{sem: semaphore.NewWeighted(1)}
}

func (l *suspendingLock) acquire(ctx context.Context) (context.Context, func(), error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if token, ok := ctx.Value(ownerKey{lock: l}).(*ownerToken); ok && token.held.Load() {
		return ctx, func() {}, nil
	}
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return ctx, nil, err
	}

	token := &ownerToken{}
	token.held.Store(true)
	var once sync.Once
	release := func() {
		once.Do(func() {
			token.held.Store(false)
			l.sem.Release(1)
		})
	}
	return context.WithValue(ctx, ownerKey{lock: l}, token), release, nil
}
