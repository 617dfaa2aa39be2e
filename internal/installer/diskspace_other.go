//go:build !linux && !darwin && !freebsd && !windows

package installer

// freeSpace is unknown here; -1 disables the check
func freeSpace(string) (int64, error) { return -1, nil }
