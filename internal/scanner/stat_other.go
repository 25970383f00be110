//go:build !unix

package scanner

import "os"

// rootDevice and fileIdentity have no portable equivalent outside unix; on
// other platforms the one-file-system policy and hardlink accounting are
// unavailable (every file reports a distinct, unusable identity).
func rootDevice(path string) (uint64, bool) {
	if _, err := os.Lstat(path); err != nil {
		return 0, false
	}
	return 0, true
}

func fileIdentity(info os.FileInfo) (dev, ino uint64, nlink uint32, ok bool) {
	return 0, 0, 1, true
}
