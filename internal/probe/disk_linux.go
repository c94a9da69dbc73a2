//go:build linux

package probe

import (
	"fmt"

	"golang.org/x/sys/unix"
)

func statDisk(path string) (UsageMetrics, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(path, &st); err != nil {
		return UsageMetrics{}, fmt.Errorf("statfs %s: %w", path, err)
	}
	return diskUsage(uint64(st.Bsize), st.Blocks, st.Bfree, st.Bavail), nil
}
