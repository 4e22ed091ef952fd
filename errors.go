// Errors for rxgo-subjects
// 哨兵错误：参数无效与Subject已释放，带上下文的错误用%w包装以便errors.Is判断
package rxgo

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidArgument 缺少必需的观察者、错误值、调度器或数据源，或缓冲上限越界
	// 返回该错误时Subject状态不变
	ErrInvalidArgument = errors.New("rxgo: invalid argument")

	// ErrDisposed 订阅已释放的Subject
	ErrDisposed = errors.New("rxgo: subject disposed")
)

func invalidArgument(reason string) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, reason)
}
