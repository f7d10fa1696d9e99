package filter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/harvester/usb-flasher/pkg/block"
)

func Test_modelFilter(t *testing.T) {
	type input struct {
		drive  *block.DriveInfo
		models []string
	}
	var testCases = []struct {
		name     string
		given    input
		expected bool
	}{
		{
			name: "valid drive and matched model",
			given: input{
				drive:  &block.DriveInfo{Model: "SanDisk Ultra USB Device"},
				models: []string{"SanDisk Ultra USB Device"},
			},
			expected: true,
		},
		{
			name: "vendor token contained in model",
			given: input{
				drive:  &block.DriveInfo{Model: "SanDisk Ultra USB Device"},
				models: []string{"sandisk"},
			},
			expected: true,
		},
		{
			name: "empty drive and valid model",
			given: input{
				drive:  &block.DriveInfo{},
				models: []string{"sandisk"},
			},
			expected: false,
		},
		{
			name: "valid drive and empty model",
			given: input{
				drive:  &block.DriveInfo{Model: "SanDisk Ultra"},
				models: nil,
			},
			expected: false,
		},
		{
			name: "mismatch",
			given: input{
				drive:  &block.DriveInfo{Model: "Kingston DataTraveler"},
				models: []string{"sandisk"},
			},
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			filter := RegisterModelFilter(tc.given.models...)
			result := filter.ApplyDriveFilter(tc.given.drive)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func Test_devicePathFilter(t *testing.T) {
	type input struct {
		drive    *block.DriveInfo
		patterns []string
	}
	var testCases = []struct {
		name     string
		given    input
		expected bool
	}{
		{
			name: "windows glob ignoring case",
			given: input{
				drive:    &block.DriveInfo{DevicePath: `\\.\PHYSICALDRIVE1`},
				patterns: []string{`\\.\PhysicalDrive*`},
			},
			expected: true,
		},
		{
			name: "linux exact",
			given: input{
				drive:    &block.DriveInfo{DevicePath: "/dev/sdb"},
				patterns: []string{"/dev/sdb"},
			},
			expected: true,
		},
		{
			name: "linux glob mismatch",
			given: input{
				drive:    &block.DriveInfo{DevicePath: "/dev/sdb"},
				patterns: []string{"/dev/nvme*"},
			},
			expected: false,
		},
		{
			name: "empty pattern is ignored",
			given: input{
				drive:    &block.DriveInfo{DevicePath: "/dev/sdb"},
				patterns: []string{""},
			},
			expected: false,
		},
		{
			name: "invalid pattern",
			given: input{
				drive:    &block.DriveInfo{DevicePath: "/dev/sdb"},
				patterns: []string{"/dev/[sd"},
			},
			expected: false,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			filter := RegisterDevicePathFilter(tc.given.patterns...)
			result := filter.ApplyDriveFilter(tc.given.drive)
			assert.Equal(t, tc.expected, result)
		})
	}
}

func Test_mediaTypeFilter(t *testing.T) {
	filter := RegisterMediaTypeFilter("Fixed hard disk media")
	assert.True(t, filter.ApplyDriveFilter(&block.DriveInfo{MediaType: "fixed hard disk media"}))
	assert.False(t, filter.ApplyDriveFilter(&block.DriveInfo{MediaType: "Removable Media"}))
	assert.False(t, filter.ApplyDriveFilter(&block.DriveInfo{}))
}

func Test_Apply(t *testing.T) {
	drives := []block.DriveInfo{
		{DevicePath: `\\.\PhysicalDrive1`, Model: "SanDisk Ultra", MediaType: "Removable Media"},
		{DevicePath: `\\.\PhysicalDrive2`, Model: "WD Elements", MediaType: "Fixed hard disk media"},
		{DevicePath: `\\.\PhysicalDrive3`, Model: "Kingston DataTraveler", MediaType: "Removable Media"},
	}
	filters := SetExcludeFilters("kingston,kingston", "", "Fixed hard disk media")

	kept := Apply(filters, drives)
	assert.Equal(t, []block.DriveInfo{drives[0]}, kept)
	assert.Equal(t, drives, Apply(nil, drives))
}
