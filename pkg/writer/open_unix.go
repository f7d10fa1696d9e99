//go:build !windows

package writer

import (
	"os"
)

// OpenDevice opens path write-only. O_EXCL on a block device fails while
// the device or one of its partitions is mounted.
func OpenDevice(path string) (Device, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_EXCL, 0)
	if err != nil {
		return nil, err
	}
	return f, nil
}
