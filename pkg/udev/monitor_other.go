//go:build !linux

package udev

import (
	"context"
)

// Monitor is unavailable without udev; callers fall back to one-shot listing.
func Monitor(_ context.Context, _ string, _ func(Change)) error {
	return ErrUnsupported
}
