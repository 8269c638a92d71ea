//go:build linux

package fileio

import (
	"os"

	"golang.org/x/sys/unix"
)

// dropPageCache hints the kernel to evict the given byte range from the
// page cache once a block has been transferred, so that large sequential
// backups/restores don't pressure the page cache. Best-effort: failures
// are silently ignored, the way
// posix_fadvise(DONTNEED) is treated in backy2's io/file.py.
func dropPageCache(f *os.File, offset, length int64) {
	_ = unix.Fadvise(int(f.Fd()), offset, length, unix.FADV_DONTNEED)
}
