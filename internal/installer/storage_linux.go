//go:build linux

package installer

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/sys/unix"
)

// isRotational reports whether path lives on a spinning disk, read from the
// block device's queue attributes. Partitions carry them on their parent
func isRotational(path string) bool {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return false
	}
	dev := uint64(st.Dev)
	base, err := filepath.EvalSymlinks(fmt.Sprintf("/sys/dev/block/%d:%d", unix.Major(dev), unix.Minor(dev)))
	if err != nil {
		return false
	}
	for _, p := range []string{
		filepath.Join(base, "queue", "rotational"),
		filepath.Join(filepath.Dir(base), "queue", "rotational"),
	} {
		data, err := os.ReadFile(p)
		if err != nil {
			continue
		}
		return strings.TrimSpace(string(data)) == "1"
	}
	return false
}
