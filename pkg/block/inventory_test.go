package block

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/utils"
	"github.com/harvester/usb-flasher/pkg/utils/fake"
)

const wmicOutput = "\r\r\nNode,DeviceID,InterfaceType,MediaType,Model,Size\r\r\n" +
	"DESKTOP,\\\\.\\PHYSICALDRIVE0,SCSI,Fixed hard disk media,Samsung SSD 970 EVO,500105249280\r\r\n" +
	"DESKTOP,\\\\.\\PHYSICALDRIVE1,USB,Removable Media,SanDisk Ultra USB Device,30752636928\r\r\n" +
	"DESKTOP,\\\\.\\PHYSICALDRIVE2,usb,,Generic Flash Disk USB Device,\r\r\n"

func Test_ParseInventory(t *testing.T) {
	var testCases = []struct {
		name     string
		given    string
		expected []DriveInfo
		hasErr   bool
	}{
		{
			name:     "header only",
			given:    "Node,DeviceID,InterfaceType,MediaType,Model\n",
			expected: []DriveInfo{},
		},
		{
			name:     "empty output",
			given:    "",
			expected: []DriveInfo{},
		},
		{
			name:  "reordered columns",
			given: "Model,InterfaceType,DeviceID\nKingston DataTraveler,USB,\\\\.\\PhysicalDrive4\n",
			expected: []DriveInfo{
				{DevicePath: `\\.\PhysicalDrive4`, Model: "Kingston DataTraveler", InterfaceType: "USB"},
			},
		},
		{
			name:  "short rows are skipped",
			given: "DeviceID,Model,InterfaceType,MediaType\n\\\\.\\PhysicalDrive1,Stick,USB\n\\\\.\\PhysicalDrive2,Stick 2,USB,Removable Media\n",
			expected: []DriveInfo{
				{DevicePath: `\\.\PhysicalDrive2`, Model: "Stick 2", InterfaceType: "USB", MediaType: "Removable Media"},
			},
		},
		{
			name:     "only non usb rows",
			given:    "DeviceID,Model,InterfaceType\n\\\\.\\PhysicalDrive0,Disk,IDE\n\\\\.\\PhysicalDrive1,Disk,SCSI\n",
			expected: []DriveInfo{},
		},
		{
			name:   "missing required column",
			given:  "DeviceID,Model\n\\\\.\\PhysicalDrive0,Disk\n",
			hasErr: true,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			drives, err := ParseInventory(strings.NewReader(tc.given))
			if tc.hasErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.expected, drives)
		})
	}
}

func Test_ParseInventoryOnlyUSB(t *testing.T) {
	drives, err := ParseInventory(strings.NewReader(decodeToolOutput([]byte(wmicOutput))))
	require.NoError(t, err)
	require.Len(t, drives, 2)
	for _, d := range drives {
		assert.True(t, d.IsUSB(), "drive %s is not usb", d.DevicePath)
	}
	assert.Equal(t, `\\.\PHYSICALDRIVE1`, drives[0].DevicePath)
	assert.Equal(t, uint64(30752636928), drives[0].SizeBytes)
	assert.Equal(t, "", drives[1].MediaType)
	assert.Equal(t, uint64(0), drives[1].SizeBytes)
}

func Test_DecodeUTF16Output(t *testing.T) {
	text := "DeviceID,Model,InterfaceType\r\nD1,M1,USB\r\n"
	encoded := []byte{0xff, 0xfe}
	for _, r := range text {
		encoded = append(encoded, byte(r), 0)
	}
	assert.Equal(t, "DeviceID,Model,InterfaceType\nD1,M1,USB\n", decodeToolOutput(encoded))
}

func Test_InventoryEnumerator(t *testing.T) {
	var testCases = []struct {
		name      string
		result    utils.Result
		execErr   error
		expected  int
		errorKind job.ErrorKind
	}{
		{
			name:     "usb drives found",
			result:   utils.Result{Output: wmicOutput},
			expected: 2,
		},
		{
			name:      "non-zero exit",
			result:    utils.Result{ExitCode: 44210, Output: "Invalid class."},
			errorKind: job.EnumerationFailed,
		},
		{
			name:      "command not found",
			result:    utils.Result{},
			execErr:   errors.New("executable file not found in %PATH%"),
			errorKind: job.EnumerationFailed,
		},
		{
			name:      "garbage output",
			result:    utils.Result{Output: "Node,Foo\nx,y\n"},
			errorKind: job.EnumerationFailed,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			executor := fake.NewExecutor()
			executor.On("Execute", WMICCMD, mock.Anything).Return(tc.result, tc.execErr)

			drives, err := NewInventoryEnumerator(executor).Enumerate(context.Background())
			assert.NotNil(t, drives)
			assert.Len(t, drives, tc.expected)
			if tc.errorKind != "" {
				assert.True(t, job.IsKind(err, tc.errorKind), "unexpected error %v", err)
			} else {
				assert.NoError(t, err)
			}
			executor.AssertExpectations(t)
		})
	}
}
