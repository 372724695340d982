// Package lazy provides process-wide values that are initialized once on
// first use and can be replaced or reset by tests.
package lazy

import "sync"

// Value holds a lazily initialized T. The zero value is not usable; create
// one with New.
type Value[T any] struct {
	mu   sync.Mutex
	init func() (T, error)
	val  T
	set  bool
}

// New returns a Value initialized by init on the first successful Get.
func New[T any](init func() (T, error)) *Value[T] {
	return &Value[T]{init: init}
}

// Get returns the value, running the initializer if needed. A failed
// initialization is not cached; the next Get retries.
func (v *Value[T]) Get() (T, error) {
	v.mu.Lock()
	defer v.mu.Unlock()
	if v.set {
		return v.val, nil
	}
	val, err := v.init()
	if err != nil {
		var zero T
		return zero, err
	}
	v.val, v.set = val, true
	return val, nil
}

// Set replaces the value without running the initializer.
func (v *Value[T]) Set(val T) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.val, v.set = val, true
}

// Reset drops the value so the next Get initializes again.
func (v *Value[T]) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	var zero T
	v.val, v.set = zero, false
}
