package writer

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sys/windows"

	"github.com/harvester/usb-flasher/pkg/utils"
)

const (
	fsctlLockVolume                 = 0x00090018
	fsctlDismountVolume             = 0x00090020
	ioctlVolumeGetVolumeDiskExtents = 0x00560000
	diskExtentsBufferSize           = 4096
	volumeNameBufferSize            = windows.MAX_PATH + 1
)

// lockedDevice keeps the volumes of the drive locked until the drive handle
// is closed.
type lockedDevice struct {
	*os.File
	volumes []windows.Handle
}

func (d *lockedDevice) Close() error {
	err := d.File.Close()
	releaseVolumes(d.volumes)
	return err
}

// OpenDevice locks and dismounts every volume of the physical drive, then
// opens the drive with a share mode of zero so no other handle can be
// opened on it while the write runs.
func OpenDevice(path string) (Device, error) {
	var volumes []windows.Handle
	if index, ok := utils.PhysicalDriveIndex(path); ok {
		var err error
		if volumes, err = lockVolumes(index); err != nil {
			return nil, err
		}
	}

	p, err := windows.UTF16PtrFromString(path)
	if err != nil {
		releaseVolumes(volumes)
		return nil, err
	}
	handle, err := windows.CreateFile(
		p,
		windows.GENERIC_WRITE,
		0,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_WRITE_THROUGH,
		0,
	)
	if err != nil {
		releaseVolumes(volumes)
		return nil, &os.PathError{Op: "open", Path: path, Err: err}
	}
	return &lockedDevice{File: os.NewFile(uintptr(handle), path), volumes: volumes}, nil
}

// lockVolumes returns a locked, dismounted handle for every volume that
// lives on disk.
func lockVolumes(disk int) ([]windows.Handle, error) {
	names, err := listVolumes()
	if err != nil {
		return nil, err
	}

	var locked []windows.Handle
	for _, name := range names {
		h, err := openVolume(name)
		if err != nil {
			logrus.Debugf("skip volume %s: %v", name, err)
			continue
		}
		disks, err := volumeDisks(h)
		if err != nil || !spansDisk(disks, disk) {
			windows.CloseHandle(h)
			continue
		}

		var n uint32
		if err := windows.DeviceIoControl(h, fsctlLockVolume, nil, 0, nil, 0, &n, nil); err != nil {
			windows.CloseHandle(h)
			releaseVolumes(locked)
			return nil, errors.Wrapf(ErrVolumeInUse, "%s: %v", name, err)
		}
		if err := windows.DeviceIoControl(h, fsctlDismountVolume, nil, 0, nil, 0, &n, nil); err != nil {
			windows.CloseHandle(h)
			releaseVolumes(locked)
			return nil, errors.Wrapf(ErrVolumeInUse, "failed to dismount %s: %v", name, err)
		}
		logrus.Infof("dismounted volume %s of disk %d", name, disk)
		locked = append(locked, h)
	}
	return locked, nil
}

func listVolumes() ([]string, error) {
	buf := make([]uint16, volumeNameBufferSize)
	find, err := windows.FindFirstVolume(&buf[0], uint32(len(buf)))
	if err != nil {
		return nil, errors.Wrap(err, "failed to enumerate volumes")
	}
	defer windows.FindVolumeClose(find)

	var names []string
	for {
		names = append(names, windows.UTF16ToString(buf))
		if err := windows.FindNextVolume(find, &buf[0], uint32(len(buf))); err != nil {
			if errors.Is(err, windows.ERROR_NO_MORE_FILES) {
				return names, nil
			}
			return nil, errors.Wrap(err, "failed to enumerate volumes")
		}
	}
}

func openVolume(name string) (windows.Handle, error) {
	// CreateFile expects the volume GUID path without its trailing separator.
	p, err := windows.UTF16PtrFromString(strings.TrimSuffix(name, `\`))
	if err != nil {
		return windows.InvalidHandle, err
	}
	return windows.CreateFile(
		p,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0,
		0,
	)
}

func volumeDisks(h windows.Handle) ([]uint32, error) {
	buf := make([]byte, diskExtentsBufferSize)
	var n uint32
	if err := windows.DeviceIoControl(h, ioctlVolumeGetVolumeDiskExtents, nil, 0,
		&buf[0], uint32(len(buf)), &n, nil); err != nil {
		return nil, err
	}
	return parseDiskExtents(buf[:n])
}

func releaseVolumes(volumes []windows.Handle) {
	for _, h := range volumes {
		windows.CloseHandle(h)
	}
}
