//go:build linux

package runner

import "golang.org/x/sys/unix"

// maxRSS returns the peak resident set size. Linux reports it in kilobytes.
func maxRSS() uint64 {
	var ru unix.Rusage
	if err := unix.Getrusage(unix.RUSAGE_SELF, &ru); err != nil || ru.Maxrss < 0 {
		return 0
	}
	return uint64(ru.Maxrss) * 1024
}
