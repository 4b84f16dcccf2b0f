package reaper

import "syscall"

// StatfsDiskUsage implements DiskUsage via syscall.Statfs.
type StatfsDiskUsage struct{}

// Usage returns used/total bytes for path's filesystem.
func (StatfsDiskUsage) Usage(path string) (uint64, uint64, error) {
	var stat syscall.Statfs_t
	if err := syscall.Statfs(path, &stat); err != nil {
		return 0, 0, err
	}
	total := stat.Blocks * uint64(stat.Bsize)
	free := stat.Bfree * uint64(stat.Bsize)
	return total - free, total, nil
}
