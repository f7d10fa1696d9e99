package filter

import (
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/block"
)

const (
	devicePathFilterName = "device path filter"
)

// devicePathFilter filters drives based on given device path patterns
type devicePathFilter struct {
	devicePaths []string
}

func RegisterDevicePathFilter(filters ...string) *Filter {
	f := &devicePathFilter{}
	for _, filter := range filters {
		if filter != "" {
			f.devicePaths = append(f.devicePaths, filter)
		}
	}
	return &Filter{
		Name:        devicePathFilterName,
		DriveFilter: f,
	}
}

// Exclude returns true if given device path matches the pattern.
func (f *devicePathFilter) Exclude(drive *block.DriveInfo) bool {
	if drive.DevicePath == "" {
		return false
	}
	return matchDevPath(drive.DevicePath, f.devicePaths)
}

// matchDevPath compares case-insensitively, since Windows reports the same
// drive as \\.\PHYSICALDRIVE1 or \\.\PhysicalDrive1 depending on the tool.
func matchDevPath(devPath string, patterns []string) bool {
	devPath = strings.ToLower(devPath)
	for _, pattern := range patterns {
		if pattern == "" {
			continue
		}
		// backslashes are literal in device paths, not escapes
		pattern = strings.ReplaceAll(strings.ToLower(pattern), `\`, `\\`)
		ok, err := path.Match(pattern, devPath)
		if err != nil {
			logrus.Errorf("failed to perform device path matching on drive %s for pattern %s: %s", devPath, pattern, err.Error())
			continue
		}
		if ok {
			return true
		}
	}
	return false
}
