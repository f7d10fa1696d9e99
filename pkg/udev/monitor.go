package udev

import (
	"errors"
)

// ErrUnsupported is returned by Monitor on hosts without udev.
var ErrUnsupported = errors.New("hotplug monitoring is not supported on this platform")

// Change describes a disk appearing or disappearing.
type Change struct {
	Action  string
	DevPath string
	Model   string
}
