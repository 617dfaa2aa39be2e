//go:build !linux

package installer

// isRotational cannot be probed here; solid state is assumed
func isRotational(string) bool { return false }
