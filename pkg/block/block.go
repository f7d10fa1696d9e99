package block

import (
	"context"
	"strings"
)

// InterfaceUSB is the only interface type surfaced by the enumerators.
const InterfaceUSB = "usb"

// DriveInfo describes a single physical storage device attached to the
// host. It is rebuilt on every enumeration and never mutated afterwards.
type DriveInfo struct {
	// DevicePath is the raw device identifier, e.g. `\\.\PhysicalDrive2`
	// on Windows or /dev/sdb on Linux.
	DevicePath    string `json:"devicePath"`
	Model         string `json:"model"`
	InterfaceType string `json:"interfaceType"`
	MediaType     string `json:"mediaType"`
	SizeBytes     uint64 `json:"sizeBytes"`
}

// IsUSB reports whether the drive sits on a USB bus.
func (d *DriveInfo) IsUSB() bool {
	return strings.EqualFold(strings.TrimSpace(d.InterfaceType), InterfaceUSB)
}

// Enumerator lists removable USB drives. Every call queries the hardware
// again; results are never merged with earlier calls.
type Enumerator interface {
	Enumerate(ctx context.Context) ([]DriveInfo, error)
}

// keepUSB drops every drive that is not attached over USB.
func keepUSB(drives []DriveInfo) []DriveInfo {
	usb := make([]DriveInfo, 0, len(drives))
	for _, d := range drives {
		if d.IsUSB() {
			usb = append(usb, d)
		}
	}
	return usb
}
