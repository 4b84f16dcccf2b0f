package readiness

import "syscall"

// StatfsDiskUsage implements DiskUsage via syscall.Statfs, independent of
// the reaper's own disk accessor since the two report different shapes
// (used/total vs. free bytes) from the same syscall.
type StatfsDiskUsage struct{}

// FreeBytes returns free bytes for path's filesystem.
func (StatfsDiskUsage) FreeBytes(path string) (int64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, err
	}
	return int64(stat.Bfree * uint64(stat.Bsize)), nil
}
