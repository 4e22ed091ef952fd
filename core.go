// Package rxgo provides push-based broadcast primitives for Go
// 基于Go语言特性的Subject库：Subject既是通知的接收端，也是向动态订阅者集合扇出的发送端
package rxgo

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"go.opentelemetry.io/otel/metric"
)

// ============================================================================
// 核心契约
// ============================================================================

// Observer 观察者接口，接收值、错误与完成信号
//
// 每个方法在观察者接受通知后返回；返回的非nil错误表示观察者自身失败，
// 会原样传播给驱动本次分发的调用方。观察者收到OnError或OnCompleted之后
// 不会再被调用。
type Observer[T any] interface {
	OnNext(ctx context.Context, value T) error
	OnError(ctx context.Context, err error) error
	OnCompleted(ctx context.Context) error
}

// Observable 可观察序列接口
//
// Subscribe可能在返回前完成工作（例如重放历史），返回的Disposable可重复释放，
// 释放后不再向该观察者投递任何通知。
type Observable[T any] interface {
	Subscribe(ctx context.Context, observer Observer[T]) (Disposable, error)
}

// Subject 既是Observer又是Observable
type Subject[T any] interface {
	Observer[T]
	Observable[T]

	// HasObservers 检查是否有观察者
	HasObservers() bool
	// ObserverCount 获取观察者数量
	ObserverCount() int
}

// Disposable 可释放资源的接口
type Disposable interface {
	// Dispose 释放资源，重复调用无副作用
	Dispose()
	// IsDisposed 检查是否已释放
	IsDisposed() bool
}

// ============================================================================
// 回调适配
// ============================================================================

// ObserverFunc 用回调函数实现Observer，nil回调会被忽略
type ObserverFunc[T any] struct {
	Next      func(ctx context.Context, value T) error
	Error     func(ctx context.Context, err error) error
	Completed func(ctx context.Context) error
}

// NewObserver 用三个回调创建观察者
func NewObserver[T any](
	onNext func(ctx context.Context, value T) error,
	onError func(ctx context.Context, err error) error,
	onCompleted func(ctx context.Context) error,
) *ObserverFunc[T] {
	return &ObserverFunc[T]{Next: onNext, Error: onError, Completed: onCompleted}
}

func (o *ObserverFunc[T]) OnNext(ctx context.Context, value T) error {
	if o.Next == nil {
		return nil
	}
	return o.Next(ctx, value)
}

func (o *ObserverFunc[T]) OnError(ctx context.Context, err error) error {
	if o.Error == nil {
		return nil
	}
	return o.Error(ctx, err)
}

func (o *ObserverFunc[T]) OnCompleted(ctx context.Context) error {
	if o.Completed == nil {
		return nil
	}
	return o.Completed(ctx)
}

// SubscribeFunc 使用回调函数订阅
func SubscribeFunc[T any](
	ctx context.Context,
	source Observable[T],
	onNext func(ctx context.Context, value T) error,
	onError func(ctx context.Context, err error) error,
	onCompleted func(ctx context.Context) error,
) (Disposable, error) {
	return source.Subscribe(ctx, NewObserver(onNext, onError, onCompleted))
}

// ============================================================================
// 通知
// ============================================================================

// Kind 通知类型
type Kind int

const (
	// KindNext 值通知
	KindNext Kind = iota
	// KindError 错误通知（终止）
	KindError
	// KindCompleted 完成通知（终止）
	KindCompleted
)

func (k Kind) String() string {
	switch k {
	case KindNext:
		return "next"
	case KindError:
		return "error"
	case KindCompleted:
		return "completed"
	default:
		return "unknown"
	}
}

// Notification 表示一个具体化的通知
type Notification[T any] struct {
	Kind  Kind
	Value T
	Err   error
}

// NextNotification 创建值通知
func NextNotification[T any](value T) Notification[T] {
	return Notification[T]{Kind: KindNext, Value: value}
}

// ErrorNotification 创建错误通知
func ErrorNotification[T any](err error) Notification[T] {
	return Notification[T]{Kind: KindError, Err: err}
}

// CompletedNotification 创建完成通知
func CompletedNotification[T any]() Notification[T] {
	return Notification[T]{Kind: KindCompleted}
}

// IsTerminal 检查是否为终止通知
func (n Notification[T]) IsTerminal() bool {
	return n.Kind != KindNext
}

// Accept 把通知投递给观察者
func (n Notification[T]) Accept(ctx context.Context, observer Observer[T]) error {
	switch n.Kind {
	case KindError:
		return observer.OnError(ctx, n.Err)
	case KindCompleted:
		return observer.OnCompleted(ctx)
	default:
		return observer.OnNext(ctx, n.Value)
	}
}

// ============================================================================
// 生命周期管理
// ============================================================================

// baseDisposable 基础可释放资源实现
type baseDisposable struct {
	disposed int32
	action   func()
}

// NewDisposable 创建只执行一次action的Disposable
func NewDisposable(action func()) Disposable {
	return &baseDisposable{action: action}
}

// Dispose 释放资源
func (d *baseDisposable) Dispose() {
	if atomic.CompareAndSwapInt32(&d.disposed, 0, 1) {
		if d.action != nil {
			d.action()
		}
	}
}

// IsDisposed 检查是否已释放
func (d *baseDisposable) IsDisposed() bool {
	return atomic.LoadInt32(&d.disposed) == 1
}

// alreadyDisposed 已释放的空Disposable，订阅终止的Subject时返回
func alreadyDisposed() Disposable {
	return &baseDisposable{disposed: 1}
}

// CompositeDisposable 组合式资源管理器
type CompositeDisposable struct {
	mu        sync.Mutex
	disposed  bool
	resources []Disposable
}

// NewCompositeDisposable 创建组合式资源管理器
func NewCompositeDisposable(resources ...Disposable) *CompositeDisposable {
	cd := &CompositeDisposable{resources: make([]Disposable, 0, len(resources))}
	for _, r := range resources {
		cd.Add(r)
	}
	return cd
}

// Add 添加可释放资源，已释放时立即释放新资源
func (cd *CompositeDisposable) Add(disposable Disposable) {
	if disposable == nil {
		return
	}
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		disposable.Dispose()
		return
	}
	cd.resources = append(cd.resources, disposable)
	cd.mu.Unlock()
}

// Remove 移除并释放资源，返回是否找到
func (cd *CompositeDisposable) Remove(disposable Disposable) bool {
	cd.mu.Lock()
	for i, r := range cd.resources {
		if r == disposable {
			cd.resources = append(cd.resources[:i], cd.resources[i+1:]...)
			cd.mu.Unlock()
			disposable.Dispose()
			return true
		}
	}
	cd.mu.Unlock()
	return false
}

// Len 当前持有的资源数量
func (cd *CompositeDisposable) Len() int {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return len(cd.resources)
}

// Dispose 释放所有资源，资源在锁外释放
func (cd *CompositeDisposable) Dispose() {
	cd.mu.Lock()
	if cd.disposed {
		cd.mu.Unlock()
		return
	}
	cd.disposed = true
	resources := cd.resources
	cd.resources = nil
	cd.mu.Unlock()

	for _, resource := range resources {
		resource.Dispose()
	}
}

// IsDisposed 检查是否已释放
func (cd *CompositeDisposable) IsDisposed() bool {
	cd.mu.Lock()
	defer cd.mu.Unlock()
	return cd.disposed
}

// ============================================================================
// 配置选项
// ============================================================================

// Option 配置选项接口
type Option interface {
	Apply(config *Config)
}

// optionFunc 函数形式的选项
type optionFunc func(config *Config)

func (f optionFunc) Apply(config *Config) { f(config) }

// Config 配置结构
type Config struct {
	// Name 出现在日志与指标属性中
	Name string
	// Scheduler 提供时钟并驱动ScheduledObserver的排空
	Scheduler Scheduler
	// Dispatcher 决定广播的扇出方式
	Dispatcher Dispatcher
	// Logger 结构化日志
	Logger *slog.Logger
	// Meter 指标来源
	Meter metric.Meter
	// ErrorHandler 接收调度排空过程中观察者返回的错误
	ErrorHandler func(error)

	schedulerSet bool
}

// DefaultConfig 默认配置
func DefaultConfig() *Config {
	return &Config{
		Scheduler:  ImmediateScheduler,
		Dispatcher: SequentialDispatcher{},
		Logger:     slog.Default(),
		Meter:      defaultMeter(),
	}
}

// newConfig 应用选项并补齐nil字段
func newConfig(opts []Option) *Config {
	config := DefaultConfig()
	for _, opt := range opts {
		if opt != nil {
			opt.Apply(config)
		}
	}
	if config.Dispatcher == nil {
		config.Dispatcher = SequentialDispatcher{}
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Meter == nil {
		config.Meter = defaultMeter()
	}
	if config.Scheduler == nil && !config.schedulerSet {
		config.Scheduler = ImmediateScheduler
	}
	return config
}

// validate 检查需要调度器的变体的配置
func (c *Config) validate() error {
	if c.Scheduler == nil {
		return invalidArgument("scheduler is nil")
	}
	return nil
}

// WithName 设置Subject名称
func WithName(name string) Option {
	return optionFunc(func(config *Config) {
		config.Name = name
	})
}

// WithDispatcher 设置扇出策略
func WithDispatcher(dispatcher Dispatcher) Option {
	return optionFunc(func(config *Config) {
		config.Dispatcher = dispatcher
	})
}

// WithLogger 设置日志
func WithLogger(logger *slog.Logger) Option {
	return optionFunc(func(config *Config) {
		config.Logger = logger
	})
}

// WithMeter 设置指标来源
func WithMeter(meter metric.Meter) Option {
	return optionFunc(func(config *Config) {
		config.Meter = meter
	})
}

// WithErrorHandler 设置调度排空错误的处理函数
func WithErrorHandler(handler func(error)) Option {
	return optionFunc(func(config *Config) {
		config.ErrorHandler = handler
	})
}
