package filter

import (
	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/utils"
)

const (
	mediaTypeFilterName = "media type filter"
)

// mediaTypeFilter excludes drives by reported media type, e.g. USB hard
// disks reported as "Fixed hard disk media".
type mediaTypeFilter struct {
	mediaTypes []string
}

func RegisterMediaTypeFilter(filters ...string) *Filter {
	f := &mediaTypeFilter{}
	for _, filter := range filters {
		if filter != "" {
			f.mediaTypes = append(f.mediaTypes, filter)
		}
	}
	return &Filter{
		Name:        mediaTypeFilterName,
		DriveFilter: f,
	}
}

func (f *mediaTypeFilter) Exclude(drive *block.DriveInfo) bool {
	if drive.MediaType == "" {
		return false
	}
	return utils.MatchesIgnoredCase(f.mediaTypes, drive.MediaType)
}
