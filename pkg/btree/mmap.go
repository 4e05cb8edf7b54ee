package btree

import (
	"os"

	"github.com/edsrzf/mmap-go"
)

// mmapRead memory-maps f read-only and copies its contents out, so the
// cold-open path is a page-fault-driven sequential read rather than many
// small syscalls, then immediately unmaps (the snapshot is small enough
// that holding the mapping open brings no further benefit).
func mmapRead(f *os.File, size int) ([]byte, error) {
	if size == 0 {
		return nil, nil
	}
	m, err := mmap.MapRegion(f, size, mmap.RDONLY, 0, 0)
	if err != nil {
		return nil, err
	}
	defer m.Unmap()
	out := make([]byte, size)
	copy(out, m)
	return out, nil
}
