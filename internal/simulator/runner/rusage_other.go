//go:build !linux

package runner

func maxRSS() uint64 { return 0 }
