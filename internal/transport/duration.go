package transport

import "time"

// secondsToDuration maps the recv contract's integer-seconds timeout (0 =
// non-blocking, <0 = block indefinitely, >0 = block up to N seconds) onto
// the bus package's time.Duration convention, which uses the same three-way
// split on sign/zero.
func secondsToDuration(seconds int) time.Duration {
	switch {
	case seconds == 0:
		return 0
	case seconds < 0:
		return -1
	default:
		return time.Duration(seconds) * time.Second
	}
}
