// internal/recovery/recovery.go
package recovery

import (
	"os"
	"runtime/debug"

	"github.com/charmbracelet/log"
)

// HandlePanic should be deferred at the top of main() or goroutines.
// A panic anywhere in the firmware core is fatal: it is logged with its
// stack and the process exits so the outer supervisor can reset the
// device.
func HandlePanic() {
	if r := recover(); r != nil {
		log.Error("panic", "err", r, "stack", string(debug.Stack()))
		os.Exit(1)
	}
}

// HandlePanicFunc logs panic details and calls the provided cleanup
// function before exiting. Deferred in task goroutines that must release
// shared resources (the open recording file, the claimed session state)
// on the way down.
func HandlePanicFunc(cleanup func()) {
	if r := recover(); r != nil {
		log.Error("panic", "err", r, "stack", string(debug.Stack()))
		if cleanup != nil {
			cleanup()
		}
		os.Exit(1)
	}
}
