//go:build linux

package block

import (
	"context"
	"errors"
	"testing"

	"github.com/jaypipes/ghw"
	ghwblock "github.com/jaypipes/ghw/pkg/block"
	"github.com/prometheus/procfs"
	"github.com/stretchr/testify/assert"

	"github.com/harvester/usb-flasher/pkg/job"
)

func Test_HostEnumerator(t *testing.T) {
	e := &HostEnumerator{blockInfo: func() (*ghw.BlockInfo, error) {
		return &ghw.BlockInfo{Disks: []*ghwblock.Disk{
			{
				Name:              "sda",
				Model:             "Samsung_SSD",
				Vendor:            "ATA",
				BusPath:           "pci-0000:00:17.0-ata-1",
				StorageController: ghwblock.STORAGE_CONTROLLER_SCSI,
				DriveType:         ghwblock.DRIVE_TYPE_SSD,
			},
			{
				Name:              "sdb",
				Model:             "Ultra",
				Vendor:            "SanDisk",
				BusPath:           "pci-0000:00:14.0-usb-0:2:1.0-scsi-0:0:0:0",
				StorageController: ghwblock.STORAGE_CONTROLLER_SCSI,
				DriveType:         ghwblock.DRIVE_TYPE_HDD,
				SizeBytes:         32 << 30,
			},
			nil,
		}}, nil
	}}

	drives, err := e.Enumerate(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, []DriveInfo{{
		DevicePath:    "/dev/sdb",
		Model:         "SanDisk Ultra",
		InterfaceType: InterfaceUSB,
		MediaType:     ghwblock.DRIVE_TYPE_HDD.String(),
		SizeBytes:     32 << 30,
	}}, drives)
}

func Test_HostEnumeratorFailure(t *testing.T) {
	e := &HostEnumerator{blockInfo: func() (*ghw.BlockInfo, error) {
		return nil, errors.New("sysfs unavailable")
	}}
	drives, err := e.Enumerate(context.Background())
	assert.Empty(t, drives)
	assert.True(t, job.IsKind(err, job.EnumerationFailed))
}

func Test_MountPointsOf(t *testing.T) {
	mounts := []*procfs.MountInfo{
		{Source: "/dev/sda1", MountPoint: "/"},
		{Source: "/dev/sdb1", MountPoint: "/media/usb"},
		{Source: "/dev/sdb", MountPoint: "/mnt/whole"},
		{Source: "/dev/sdba1", MountPoint: "/mnt/other"},
		{Source: "/dev/nvme0n1p2", MountPoint: "/home"},
		{Source: "tmpfs", MountPoint: "/tmp"},
	}
	assert.Equal(t, []string{"/media/usb", "/mnt/whole"}, mountPointsOf(mounts, "/dev/sdb"))
	assert.Equal(t, []string{"/home"}, mountPointsOf(mounts, "/dev/nvme0n1"))
	assert.Nil(t, mountPointsOf(mounts, "/dev/sdc"))
}
