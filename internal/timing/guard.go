package timing

import "sync"

// Critical runs fn with l held and releases it on every exit path, including a
// panic in fn. l is the board's interrupt lock: holding it keeps interrupt
// handlers from running, so fn must be short.
func Critical(l sync.Locker, fn func()) {
	l.Lock()
	defer l.Unlock()
	fn()
}
