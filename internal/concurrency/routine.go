package concurrency

import (
	"log/slog"
	"runtime/debug"
)

// SafeGo runs a function in a goroutine with panic recovery.
func SafeGo(fn func(), onPanic func(interface{})) {
	go SafeCall(fn, onPanic)
}

// SafeCall runs fn on the current goroutine and recovers a panic, reporting
// it to onPanic. It returns true when fn panicked.
func SafeCall(fn func(), onPanic func(interface{})) (panicked bool) {
	defer func() {
		if r := recover(); r != nil {
			panicked = true
			stack := debug.Stack()
			slog.Error("Panic recovered", "panic", r, "stack", string(stack))
			if onPanic != nil {
				onPanic(r)
			}
		}
	}()
	fn()
	return false
}
