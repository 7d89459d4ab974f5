package static

import (
	"encoding/binary"
	"fmt"

	"github.com/cespare/xxhash/v2"

	"github.com/devstatic/devstatic/internal/storage"
)

// ETag returns the weak entity tag of meta. It depends only on size,
// modification time and storage identity, so it is stable across requests
// and changes whenever the object is replaced.
func ETag(meta *storage.Metadata) string {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(meta.ModTime.UnixNano()))
	binary.BigEndian.PutUint64(buf[8:], meta.Inode)

	d := xxhash.New()
	_, _ = d.Write(buf[:])
	_, _ = d.WriteString(meta.Version)

	return fmt.Sprintf(`W/"%x-%x"`, meta.Size, d.Sum64())
}
