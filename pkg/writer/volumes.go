package writer

import (
	"encoding/binary"
	"fmt"
)

const (
	diskExtentsHeaderSize = 8
	diskExtentSize        = 24
)

// parseDiskExtents decodes a VOLUME_DISK_EXTENTS buffer into the disk
// numbers the volume spans.
func parseDiskExtents(buf []byte) ([]uint32, error) {
	if len(buf) < diskExtentsHeaderSize {
		return nil, fmt.Errorf("disk extents buffer of %d bytes is too short", len(buf))
	}
	count := binary.LittleEndian.Uint32(buf)
	if want := diskExtentsHeaderSize + int(count)*diskExtentSize; len(buf) < want {
		return nil, fmt.Errorf("disk extents buffer holds %d bytes, %d extents need %d", len(buf), count, want)
	}
	disks := make([]uint32, 0, count)
	for i := 0; i < int(count); i++ {
		off := diskExtentsHeaderSize + i*diskExtentSize
		disks = append(disks, binary.LittleEndian.Uint32(buf[off:]))
	}
	return disks, nil
}

func spansDisk(disks []uint32, disk int) bool {
	for _, d := range disks {
		if int(d) == disk {
			return true
		}
	}
	return false
}
