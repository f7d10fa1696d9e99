//go:build linux

package block

import (
	"context"
	"strings"

	"github.com/jaypipes/ghw"
	ghwblock "github.com/jaypipes/ghw/pkg/block"
	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/utils"
)

// usbBusPathToken marks a USB hop in udev ID_PATH values, e.g.
// pci-0000:00:14.0-usb-0:2:1.0-scsi-0:0:0:0.
const usbBusPathToken = "-usb-"

// HostEnumerator reads the block inventory of the local Linux host.
type HostEnumerator struct {
	blockInfo func() (*ghw.BlockInfo, error)
}

func NewHostEnumerator() *HostEnumerator {
	return &HostEnumerator{
		blockInfo: func() (*ghw.BlockInfo, error) { return ghw.Block() },
	}
}

func (e *HostEnumerator) Enumerate(_ context.Context) ([]DriveInfo, error) {
	info, err := e.blockInfo()
	if err != nil {
		return []DriveInfo{}, job.NewError(job.EnumerationFailed, job.StateIdle, err)
	}
	drives := make([]DriveInfo, 0, len(info.Disks))
	for _, disk := range info.Disks {
		if disk == nil {
			continue
		}
		drive := driveFromDisk(disk)
		logrus.Debugf("found disk %s (%s, %s)", drive.DevicePath, drive.InterfaceType, drive.Model)
		drives = append(drives, drive)
	}
	return keepUSB(drives), nil
}

func driveFromDisk(disk *ghwblock.Disk) DriveInfo {
	iface := strings.ToLower(disk.StorageController.String())
	if strings.Contains(disk.BusPath, usbBusPathToken) {
		iface = InterfaceUSB
	}
	model := strings.TrimSpace(strings.Join([]string{normalize(disk.Vendor), normalize(disk.Model)}, " "))
	return DriveInfo{
		DevicePath:    utils.GetFullDevPath(disk.Name),
		Model:         model,
		InterfaceType: iface,
		MediaType:     disk.DriveType.String(),
		SizeBytes:     disk.SizeBytes,
	}
}

func normalize(s string) string {
	if s == "unknown" {
		return ""
	}
	return strings.ReplaceAll(s, "_", " ")
}
