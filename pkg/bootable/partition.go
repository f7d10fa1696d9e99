package bootable

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/pkg/errors"

	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/utils"
)

// DiskIndex extracts N from a `\\.\PhysicalDriveN` device path.
func DiskIndex(devicePath string) (int, error) {
	index, ok := utils.PhysicalDriveIndex(devicePath)
	if !ok {
		return 0, job.Errorf(job.InvalidDeviceIdentifier, job.StatePartitioning,
			"device path %q is not a physical drive", devicePath)
	}
	return index, nil
}

// PickLetter returns preferred if it is free, otherwise the first free
// letter from Z down to D.
func PickLetter(preferred string, inUse func(string) bool) (string, error) {
	preferred = strings.ToUpper(preferred)
	if utils.IsDriveLetter(preferred) && !inUse(preferred) {
		return preferred, nil
	}
	for l := 'Z'; l >= 'D'; l-- {
		letter := string(l)
		if !inUse(letter) {
			return letter, nil
		}
	}
	return "", errors.New("no free volume letter between D and Z")
}

// PartitionScript renders the diskpart commands that wipe disk index and
// leave a single active, formatted partition mounted at letter.
func PartitionScript(index int, fileSystem, label, letter string) string {
	lines := []string{
		fmt.Sprintf("select disk %d", index),
		"clean",
		"create partition primary",
		fmt.Sprintf("format fs=%s quick label=%s", fileSystem, label),
		"active",
		fmt.Sprintf("assign letter=%s", letter),
		"exit",
	}
	return strings.Join(lines, "\r\n") + "\r\n"
}

func (p *pipeline) partition(ctx context.Context) *job.Error {
	p.enter(job.StatePartitioning)

	index, err := DiskIndex(p.target.DevicePath)
	if err != nil {
		jobErr, _ := job.AsError(err)
		return jobErr
	}
	p.result.DiskIndex = index

	if err := ctx.Err(); err != nil {
		return job.NewError(job.PartitionFailed, job.StatePartitioning, errors.Wrap(err, "cancelled before partitioning"))
	}

	letter, err := PickLetter(p.cfg.VolumeLetter, p.letterInUse)
	if err != nil {
		return job.NewError(job.PartitionFailed, job.StatePartitioning, err)
	}
	if !strings.EqualFold(letter, p.cfg.VolumeLetter) {
		p.log.Warnf("volume letter %s is taken, using %s", p.cfg.VolumeLetter, letter)
	}
	p.result.TargetLetter = letter

	script, err := os.CreateTemp("", "usb-flasher-diskpart-*.txt")
	if err != nil {
		return job.NewError(job.PartitionFailed, job.StatePartitioning, errors.Wrap(err, "failed to create partition script"))
	}
	defer os.Remove(script.Name())
	content := PartitionScript(index, p.cfg.FileSystem, p.cfg.VolumeLabel, letter)
	if _, err := script.WriteString(content); err != nil {
		script.Close()
		return job.NewError(job.PartitionFailed, job.StatePartitioning, errors.Wrap(err, "failed to write partition script"))
	}
	if err := script.Close(); err != nil {
		return job.NewError(job.PartitionFailed, job.StatePartitioning, errors.Wrap(err, "failed to write partition script"))
	}
	p.log.Debugf("partition script:\n%s", content)

	cmd := p.tools.Paths().PartitionCmd
	result, err := p.executor.Execute(p.ctx, cmd, "/s", script.Name())
	if err != nil {
		return job.NewError(job.PartitionFailed, job.StatePartitioning, err)
	}
	if result.ExitCode != 0 {
		return &job.Error{
			Kind:   job.PartitionFailed,
			Stage:  job.StatePartitioning,
			Output: result.Diagnostic(),
			Err:    fmt.Errorf("`%s` exited with %d", cmd, result.ExitCode),
		}
	}
	return nil
}

// format waits for the volume created by the partition script and records
// its capacity.
func (p *pipeline) format() *job.Error {
	p.enter(job.StateFormatting)
	root := utils.VolumeRoot(p.result.TargetLetter)

	var capacity uint64
	err := poll(p.ctx, p.cfg.MountPollInterval, p.cfg.VolumeTimeout, func(context.Context) (bool, error) {
		usage, err := p.usage(root)
		if err != nil || usage.Total == 0 {
			return false, nil
		}
		capacity = usage.Total
		return true, nil
	})
	if err != nil {
		return job.NewError(job.FormatFailed, job.StateFormatting,
			errors.Wrapf(err, "volume %s did not appear after formatting", root))
	}
	p.result.CapacityBytes = capacity
	p.log.Infof("target volume %s is ready with %d bytes", root, capacity)
	return nil
}
