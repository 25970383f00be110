//go:build unix

package scanner

import (
	"os"
	"syscall"
)

// rootDevice stats path and returns its device number, for the
// one-file-system policy and the initial per-root device baseline.
func rootDevice(path string) (uint64, bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, false
	}
	return uint64(st.Dev), true
}

// fileIdentity extracts the device/inode/link-count triple used for
// hardlink accounting and inode-ordered reads.
func fileIdentity(info os.FileInfo) (dev, ino uint64, nlink uint32, ok bool) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return 0, 0, 0, false
	}
	return uint64(st.Dev), uint64(st.Ino), uint32(st.Nlink), true
}
