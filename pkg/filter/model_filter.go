package filter

import (
	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/utils"
)

const (
	modelFilterName = "model filter"
)

type modelFilter struct {
	models []string
}

func RegisterModelFilter(filters ...string) *Filter {
	mf := &modelFilter{}
	for _, filter := range filters {
		if filter != "" {
			mf.models = append(mf.models, filter)
		}
	}
	return &Filter{
		Name:        modelFilterName,
		DriveFilter: mf,
	}
}

// Exclude returns true if the model of the drive is matched, either fully
// or by a vendor token contained in it.
func (mf *modelFilter) Exclude(drive *block.DriveInfo) bool {
	if drive.Model == "" || len(mf.models) == 0 {
		return false
	}
	return utils.ContainsIgnoredCase(mf.models, drive.Model)
}
