package syncutil

import (
	"bytes"
	"runtime"
	"strconv"
)

// goroutineID returns the numeric ID of the calling goroutine by parsing the
// header line of its own stack trace. It is not meant to be fast; it is used
// solely by RecursiveLock to detect a thread reacquiring its own lock, the
// same tradeoff the platform this core is modeled on makes by storing a
// std::thread::id on its recursive lock.
func goroutineID() int64 {
	buf := make([]byte, 64)
	n := runtime.Stack(buf, false)
	buf = buf[:n]

	const prefix = "goroutine "
	buf = bytes.TrimPrefix(buf, []byte(prefix))
	idx := bytes.IndexByte(buf, ' ')
	if idx < 0 {
		return -1
	}
	id, err := strconv.ParseInt(string(buf[:idx]), 10, 64)
	if err != nil {
		return -1
	}
	return id
}
