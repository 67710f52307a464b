package loadport

import "errors"

var (
	// ErrConfig reports an invalid configuration or an unresolved pin name.
	ErrConfig = errors.New("loadport: invalid configuration")
	// ErrRunning is returned by operations that require a stopped controller.
	ErrRunning = errors.New("loadport: controller is running")
	// ErrStopTimeout is returned when the drive loop did not exit in time.
	ErrStopTimeout = errors.New("loadport: drive loop did not stop in time")
	// ErrCycleFault wraps an I/O error or panic inside a drive cycle.
	ErrCycleFault = errors.New("loadport: drive cycle fault")
)
