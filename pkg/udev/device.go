package udev

import (
	"strings"
)

// key and env of udev uevent.
const (
	// UdevSystem is used to filter devices other than disk which udev tracks (eg. CD ROM)
	UdevSystem = "disk"
	// UdevPartition is used to filter out partitions
	UdevPartition = "partition"
	// UdevBusUSB is the ID_BUS value of USB attached devices
	UdevBusUSB = "usb"
	// LinkNameIndex is used to get link index from dev link
	LinkNameIndex = 2

	UdevDevname = "DEVNAME"
	UdevDevtype = "DEVTYPE"
	UdevBus     = "ID_BUS"
	UdevIDPath  = "ID_PATH"
	UdevModel   = "ID_MODEL"
	UdevVendor  = "ID_VENDOR"
)

type Device map[string]string

func InitUdevDevice(udev map[string]string) Device {
	return udev
}

// IsDisk check if device is a disk
func (device Device) IsDisk() bool {
	return device[UdevDevtype] == UdevSystem
}

// IsPartition check if device is a partition
func (device Device) IsPartition() bool {
	return device[UdevDevtype] == UdevPartition
}

// IsUSB reports whether udev attributes the device to the USB bus. Devices
// without an ID_BUS key are treated as unknown and therefore not USB.
func (device Device) IsUSB() bool {
	if strings.EqualFold(device[UdevBus], UdevBusUSB) {
		return true
	}
	return strings.Contains(device[UdevIDPath], "-usb-")
}

// GetDevName returns the path of device in /dev directory
func (device Device) GetDevName() string {
	return device[UdevDevname]
}

// GetShortName returns the short device name of the /dev directory, e.g /dev/sda will return the name sda
func (device Device) GetShortName() string {
	name := device[UdevDevname]
	parts := strings.Split(name, "/")
	if len(parts) < LinkNameIndex+1 {
		return ""
	}
	return parts[LinkNameIndex]
}

// GetModel joins vendor and model the way the host enumerator does.
func (device Device) GetModel() string {
	return strings.TrimSpace(strings.ReplaceAll(device[UdevVendor]+" "+device[UdevModel], "_", " "))
}
