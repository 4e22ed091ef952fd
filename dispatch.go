// Fan-out strategies for broadcasting one notification to a snapshot
// 扇出策略：顺序分发与并发分发，状态机与注册表不感知使用哪一种
package rxgo

import (
	"context"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/multierr"
)

// Dispatcher 把一次广播投递给count个观察者
//
// deliver(ctx, i)负责投递给快照中的第i个观察者。Dispatch在所有投递返回后才返回，
// 并汇总观察者返回的错误。
type Dispatcher interface {
	Dispatch(ctx context.Context, count int, deliver func(ctx context.Context, i int) error) error
}

// SequentialDispatcher 按订阅顺序逐个投递，第i+1个在第i个返回后开始
//
// 某个观察者失败不会中断后续投递，所有错误合并后返回。
type SequentialDispatcher struct{}

func (SequentialDispatcher) Dispatch(ctx context.Context, count int, deliver func(ctx context.Context, i int) error) error {
	var err error
	for i := 0; i < count; i++ {
		err = multierr.Append(err, deliver(ctx, i))
	}
	return err
}

// ConcurrentDispatcher 并发投递给所有观察者，全部返回后才结束
//
// 同一事件在不同观察者之间没有顺序保证。MaxGoroutines<=0表示不限制并发数。
// 观察者中的panic会在调用Dispatch的goroutine中重新抛出。
type ConcurrentDispatcher struct {
	MaxGoroutines int
}

func (d ConcurrentDispatcher) Dispatch(ctx context.Context, count int, deliver func(ctx context.Context, i int) error) error {
	switch count {
	case 0:
		return nil
	case 1:
		return deliver(ctx, 0)
	}

	p := pool.New().WithContext(ctx)
	if d.MaxGoroutines > 0 {
		p = p.WithMaxGoroutines(d.MaxGoroutines)
	}
	for i := 0; i < count; i++ {
		idx := i
		p.Go(func(ctx context.Context) error {
			return deliver(ctx, idx)
		})
	}
	return p.Wait()
}
