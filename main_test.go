package rxgo

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var errBoom = errors.New("boom")

// recorder 记录收到的所有通知，可配置在某个值上返回错误
type recorder[T comparable] struct {
	mu        sync.Mutex
	values    []T
	errs      []error
	completed int

	failOn  func(T) bool
	onValue func(T)
}

func newRecorder[T comparable]() *recorder[T] {
	return &recorder[T]{}
}

func (r *recorder[T]) OnNext(_ context.Context, value T) error {
	r.mu.Lock()
	r.values = append(r.values, value)
	fail := r.failOn != nil && r.failOn(value)
	hook := r.onValue
	r.mu.Unlock()

	if hook != nil {
		hook(value)
	}
	if fail {
		return errBoom
	}
	return nil
}

func (r *recorder[T]) OnError(_ context.Context, err error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
	return nil
}

func (r *recorder[T]) OnCompleted(context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.completed++
	return nil
}

func (r *recorder[T]) Values() []T {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]T, len(r.values))
	copy(out, r.values)
	return out
}

func (r *recorder[T]) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

func (r *recorder[T]) Completed() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed
}

// Terminals 收到的终止通知总数
func (r *recorder[T]) Terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.completed + len(r.errs)
}
