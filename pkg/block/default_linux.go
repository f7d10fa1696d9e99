//go:build linux

package block

import "github.com/harvester/usb-flasher/pkg/utils"

// NewDefaultEnumerator returns the enumerator for the running platform.
func NewDefaultEnumerator(_ utils.Executor) Enumerator {
	return NewHostEnumerator()
}
