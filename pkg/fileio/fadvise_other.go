//go:build !linux

package fileio

import "os"

// dropPageCache is a no-op on platforms without posix_fadvise; the page
// cache eviction hint is best-effort everywhere and silently skipped here.
func dropPageCache(f *os.File, offset, length int64) {}
