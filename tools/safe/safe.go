package safe

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

// MustNotNil panics if the given value is nil.
// Used for required collaborators during construction.
func MustNotNil(v any, name string) {
	if v == nil {
		panic(fmt.Sprintf("%s must not be nil", name))
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice, reflect.Func, reflect.Chan:
		if rv.IsNil() {
			panic(fmt.Sprintf("%s must not be nil", name))
		}
	}
}

// Go starts f in a goroutine that recovers and logs panics, so one bad
// callback cannot take the hub down.
func Go(log *zap.Logger, name string, f func()) {
	go Run(log, name, f)
}

// Run calls f, recovering and logging a panic.
func Run(log *zap.Logger, name string, f func()) {
	defer func() {
		if r := recover(); r != nil {
			if log != nil {
				log.Error("panic recovered", zap.String("task", name), zap.Any("panic", r), zap.Stack("stack"))
			}
		}
	}()
	f()
}
