package storage

import "syscall"

// statResult is the subset of statfs(2) output the disk-space check needs.
type statResult struct {
	freeBytes uint64
}

// statfs reports free space on the filesystem backing dir, used by
// FreeSpaceBytes for the DISK_DATA_BUFFER_SIZE check in spec.md section 4.4.
func statfs(dir string, out *statResult) error {
	var fs syscall.Statfs_t
	if err := syscall.Statfs(dir, &fs); err != nil {
		return err
	}
	out.freeBytes = uint64(fs.Bavail) * uint64(fs.Bsize)
	return nil
}
