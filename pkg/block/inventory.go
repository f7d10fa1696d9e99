package block

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf16"

	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/utils"
)

const (
	WMICCMD = "wmic"

	ColumnDeviceID      = "DeviceID"
	ColumnModel         = "Model"
	ColumnInterfaceType = "InterfaceType"
	ColumnMediaType     = "MediaType"
	ColumnSize          = "Size"
)

var requiredColumns = []string{ColumnDeviceID, ColumnModel, ColumnInterfaceType}

// InventoryEnumerator queries the Windows disk inventory through WMIC and
// parses its CSV output.
type InventoryEnumerator struct {
	executor utils.Executor
}

func NewInventoryEnumerator(executor utils.Executor) *InventoryEnumerator {
	return &InventoryEnumerator{executor: executor}
}

// Enumerate never fails hard: on any error it returns an empty list
// together with an EnumerationFailed error for the caller to report.
func (e *InventoryEnumerator) Enumerate(ctx context.Context) ([]DriveInfo, error) {
	args := []string{
		"diskdrive",
		"get",
		strings.Join([]string{ColumnDeviceID, ColumnModel, ColumnInterfaceType, ColumnMediaType, ColumnSize}, ","),
		"/format:csv",
	}
	result, err := e.executor.Execute(ctx, WMICCMD, args...)
	if err != nil {
		return []DriveInfo{}, job.NewError(job.EnumerationFailed, job.StateIdle, err)
	}
	if result.ExitCode != 0 {
		return []DriveInfo{}, &job.Error{
			Kind:   job.EnumerationFailed,
			Stage:  job.StateIdle,
			Output: result.Diagnostic(),
			Err:    fmt.Errorf("`%s` exited with %d", WMICCMD, result.ExitCode),
		}
	}

	drives, err := ParseInventory(strings.NewReader(decodeToolOutput([]byte(result.Output))))
	if err != nil {
		return []DriveInfo{}, job.NewError(job.EnumerationFailed, job.StateIdle, err)
	}
	return drives, nil
}

// ParseInventory reads tabular drive metadata. Columns are located by the
// names in the header row, so their order and the presence of extra
// columns do not matter. Rows shorter than the header are skipped, and only
// USB drives are returned.
func ParseInventory(r io.Reader) ([]DriveInfo, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	reader.LazyQuotes = true

	header, err := reader.Read()
	if err == io.EOF {
		return []DriveInfo{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read inventory header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	for _, name := range requiredColumns {
		if _, ok := index[strings.ToLower(name)]; !ok {
			return nil, fmt.Errorf("inventory header %v lacks column %s", header, name)
		}
	}
	field := func(row []string, name string) string {
		i, ok := index[strings.ToLower(name)]
		if !ok {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	drives := []DriveInfo{}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read inventory row: %w", err)
		}
		if len(row) < len(header) {
			logrus.Debugf("skip inventory row with %d of %d fields: %v", len(row), len(header), row)
			continue
		}
		drive := DriveInfo{
			DevicePath:    field(row, ColumnDeviceID),
			Model:         field(row, ColumnModel),
			InterfaceType: field(row, ColumnInterfaceType),
			MediaType:     field(row, ColumnMediaType),
		}
		if size := field(row, ColumnSize); size != "" {
			if n, err := strconv.ParseUint(size, 10, 64); err == nil {
				drive.SizeBytes = n
			}
		}
		drives = append(drives, drive)
	}
	return keepUSB(drives), nil
}

// decodeToolOutput converts UTF-16LE console output (as produced by some
// Windows tools when piped) to UTF-8 and drops carriage returns.
func decodeToolOutput(out []byte) string {
	if len(out) >= 2 && out[0] == 0xff && out[1] == 0xfe {
		out = out[2:]
		u := make([]uint16, 0, len(out)/2)
		for i := 0; i+1 < len(out); i += 2 {
			u = append(u, uint16(out[i])|uint16(out[i+1])<<8)
		}
		out = []byte(string(utf16.Decode(u)))
	}
	return string(bytes.ReplaceAll(out, []byte("\r"), nil))
}
