// Termination protocol shared by every subject variant
// 终止协议：Active → Completed | Errored，首个终止信号生效，之后状态不再改变
package rxgo

import "context"

// terminationState 终止状态
type terminationState int32

const (
	stateActive terminationState = iota
	stateCompleted
	stateErrored
)

// termination 单调终止状态机，只在所属Subject的锁内修改
type termination struct {
	state terminationState
	err   error
}

func (t *termination) active() bool {
	return t.state == stateActive
}

// complete 转为Completed，返回本次调用是否完成了转换
func (t *termination) complete() bool {
	if t.state != stateActive {
		return false
	}
	t.state = stateCompleted
	return true
}

// fail 转为Errored，返回本次调用是否完成了转换
func (t *termination) fail(err error) bool {
	if t.state != stateActive {
		return false
	}
	t.state = stateErrored
	t.err = err
	return true
}

// terminalNotification 把终止状态具体化为通知，Active时返回false
func terminalNotification[T any](t termination) (Notification[T], bool) {
	switch t.state {
	case stateCompleted:
		return CompletedNotification[T](), true
	case stateErrored:
		return ErrorNotification[T](t.err), true
	default:
		return Notification[T]{}, false
	}
}

// deliverTerminal 向迟到的订阅者重发终止通知
func deliverTerminal[T any](ctx context.Context, t termination, observer Observer[T]) error {
	n, ok := terminalNotification[T](t)
	if !ok {
		return nil
	}
	return n.Accept(ctx, observer)
}
