//go:build unix

package local

import (
	"io/fs"

	"golang.org/x/sys/unix"
)

func inode(path string, _ fs.FileInfo) uint64 {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0
	}
	return uint64(st.Ino) //nolint:unconvert // Ino is uint32 on some platforms
}
