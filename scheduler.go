// Scheduler implementations for rxgo-subjects
// 调度器：提供单调时钟与延迟调度能力，Subject核心只依赖这两项
package rxgo

import (
	"sort"
	"sync"
	"time"
)

// Scheduler 调度器接口
type Scheduler interface {
	// Now 当前时间，时间窗口重放用它给缓冲项打时间戳
	Now() time.Time
	// Schedule 在delay之后执行action，返回的Disposable可取消尚未执行的action
	Schedule(delay time.Duration, action func()) Disposable
}

// WithScheduler 创建使用指定调度器的选项
func WithScheduler(scheduler Scheduler) Option {
	return optionFunc(func(config *Config) {
		config.Scheduler = scheduler
		config.schedulerSet = true
	})
}

// ============================================================================
// 立即调度器 - Immediate Scheduler
// ============================================================================

// immediateScheduler 零延迟任务在当前goroutine中执行
type immediateScheduler struct{}

// NewImmediateScheduler 创建立即调度器
func NewImmediateScheduler() Scheduler {
	return immediateScheduler{}
}

func (immediateScheduler) Now() time.Time {
	return time.Now()
}

// Schedule delay<=0时同步执行，否则交给time.AfterFunc
func (immediateScheduler) Schedule(delay time.Duration, action func()) Disposable {
	if delay <= 0 {
		action()
		return alreadyDisposed()
	}
	timer := time.AfterFunc(delay, action)
	return NewDisposable(func() {
		timer.Stop()
	})
}

// ============================================================================
// 新线程调度器 - New Thread Scheduler
// ============================================================================

// newThreadScheduler 每个任务在新的goroutine中执行
type newThreadScheduler struct{}

// NewNewThreadScheduler 创建新线程调度器
func NewNewThreadScheduler() Scheduler {
	return newThreadScheduler{}
}

func (newThreadScheduler) Now() time.Time {
	return time.Now()
}

// Schedule 在新goroutine中执行，取消后尚未开始的任务不再执行
func (newThreadScheduler) Schedule(delay time.Duration, action func()) Disposable {
	if delay > 0 {
		timer := time.AfterFunc(delay, action)
		return NewDisposable(func() {
			timer.Stop()
		})
	}

	var mu sync.Mutex
	cancelled := false
	go func() {
		mu.Lock()
		skip := cancelled
		mu.Unlock()
		if !skip {
			action()
		}
	}()
	return NewDisposable(func() {
		mu.Lock()
		cancelled = true
		mu.Unlock()
	})
}

// ============================================================================
// 测试调度器 - Test Scheduler
// ============================================================================

// TestScheduler 虚拟时间调度器，时间只在AdvanceBy/AdvanceTo/Flush时前进
//
// 任务按到期时间执行，同一时刻按调度顺序执行。任务执行时不持有调度器的锁，
// 因此可以在任务中继续调度新任务。
type TestScheduler struct {
	mu    sync.Mutex
	clock time.Time
	queue []*scheduledAction
}

// scheduledAction 调度的动作
type scheduledAction struct {
	due       time.Time
	action    func()
	cancelled bool
}

// NewTestScheduler 创建测试调度器，start为虚拟时钟起点
func NewTestScheduler(start time.Time) *TestScheduler {
	return &TestScheduler{clock: start}
}

// Now 虚拟时钟
func (s *TestScheduler) Now() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock
}

// Clock 与Now相同，便于测试代码阅读
func (s *TestScheduler) Clock() time.Time {
	return s.Now()
}

// Schedule 在虚拟时间clock+delay处排队
func (s *TestScheduler) Schedule(delay time.Duration, action func()) Disposable {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	item := &scheduledAction{due: s.clock.Add(delay), action: action}
	// 插入到正确的位置以保持时间顺序
	idx := sort.Search(len(s.queue), func(i int) bool {
		return s.queue[i].due.After(item.due)
	})
	s.queue = append(s.queue, nil)
	copy(s.queue[idx+1:], s.queue[idx:])
	s.queue[idx] = item
	s.mu.Unlock()

	return NewDisposable(func() {
		s.mu.Lock()
		item.cancelled = true
		s.mu.Unlock()
	})
}

// AdvanceBy 推进时间
func (s *TestScheduler) AdvanceBy(d time.Duration) {
	s.AdvanceTo(s.Now().Add(d))
}

// AdvanceTo 推进时间到target，执行期间时钟依次停在各任务的到期时间
func (s *TestScheduler) AdvanceTo(target time.Time) {
	for {
		s.mu.Lock()
		if len(s.queue) == 0 || s.queue[0].due.After(target) {
			if target.After(s.clock) {
				s.clock = target
			}
			s.mu.Unlock()
			return
		}
		item := s.queue[0]
		s.queue = s.queue[1:]
		if item.due.After(s.clock) {
			s.clock = item.due
		}
		cancelled := item.cancelled
		s.mu.Unlock()

		if !cancelled {
			item.action()
		}
	}
}

// Flush 执行所有已到期的任务，不推进时间
func (s *TestScheduler) Flush() {
	s.AdvanceBy(0)
}

// Pending 尚未执行且未取消的任务数
func (s *TestScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, item := range s.queue {
		if !item.cancelled {
			n++
		}
	}
	return n
}

// ============================================================================
// 默认调度器
// ============================================================================

var (
	// ImmediateScheduler 立即调度器实例，ReplaySubject的默认调度器
	ImmediateScheduler Scheduler = NewImmediateScheduler()

	// NewThreadScheduler 新线程调度器实例
	NewThreadScheduler Scheduler = NewNewThreadScheduler()
)

// ============================================================================
// 调度器辅助函数
// ============================================================================

// ScheduleRecurring 以period为周期重复调度action，直到返回的Disposable被释放
// period<=0时不调度任何任务
func ScheduleRecurring(scheduler Scheduler, period time.Duration, action func()) Disposable {
	if period <= 0 {
		return alreadyDisposed()
	}
	r := &recurring{scheduler: scheduler, period: period, action: action}
	r.schedule()
	return NewDisposable(r.stop)
}

type recurring struct {
	scheduler Scheduler
	period    time.Duration
	action    func()

	mu      sync.Mutex
	stopped bool
	next    Disposable
}

func (r *recurring) schedule() {
	next := r.scheduler.Schedule(r.period, r.tick)

	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		next.Dispose()
		return
	}
	r.next = next
	r.mu.Unlock()
}

func (r *recurring) tick() {
	r.mu.Lock()
	stopped := r.stopped
	r.mu.Unlock()
	if stopped {
		return
	}

	r.action()
	r.schedule()
}

func (r *recurring) stop() {
	r.mu.Lock()
	r.stopped = true
	next := r.next
	r.mu.Unlock()
	if next != nil {
		next.Dispose()
	}
}
