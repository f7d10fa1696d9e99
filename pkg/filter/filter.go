package filter

import (
	gocommon "github.com/harvester/go-common/ds"
	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/utils"
)

type Filter struct {
	Name        string
	DriveFilter DriveFilter
}

// SetExcludeFilters builds the operator filters from comma-separated values.
func SetExcludeFilters(modelString, devicePathString, mediaTypeString string) []*Filter {
	logrus.Debug("register drive exclude filters")
	listFilter := make([]*Filter, 0, 3)

	listFilter = append(listFilter,
		RegisterModelFilter(splitValues(modelString)...),
		RegisterDevicePathFilter(splitValues(devicePathString)...),
		RegisterMediaTypeFilter(splitValues(mediaTypeString)...),
	)
	return listFilter
}

type DriveFilter interface {
	// Exclude returns true if passing drive matches with exclude value
	Exclude(drive *block.DriveInfo) bool
}

func (f *Filter) ApplyDriveFilter(drive *block.DriveInfo) bool {
	if f.DriveFilter != nil {
		return f.DriveFilter.Exclude(drive)
	}
	return false
}

// Apply returns the drives not excluded by any of the filters.
func Apply(filters []*Filter, drives []block.DriveInfo) []block.DriveInfo {
	kept := make([]block.DriveInfo, 0, len(drives))
	for i := range drives {
		excluded := false
		for _, f := range filters {
			if f.ApplyDriveFilter(&drives[i]) {
				logrus.Debugf("drive %s excluded by %s", drives[i].DevicePath, f.Name)
				excluded = true
				break
			}
		}
		if !excluded {
			kept = append(kept, drives[i])
		}
	}
	return kept
}

func splitValues(s string) []string {
	values := utils.SplitCSV(s)
	if len(values) == 0 {
		return nil
	}
	return gocommon.SliceDedupe(values)
}
