//go:build !linux

package block

import "github.com/harvester/usb-flasher/pkg/utils"

// NewDefaultEnumerator returns the enumerator for the running platform.
func NewDefaultEnumerator(executor utils.Executor) Enumerator {
	return NewInventoryEnumerator(executor)
}
