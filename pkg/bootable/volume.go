package bootable

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/utils"
)

func psQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func (p *pipeline) powershell(command string) (utils.Result, error) {
	return p.powershellContext(p.ctx, command)
}

func (p *pipeline) powershellContext(ctx context.Context, command string) (utils.Result, error) {
	return p.executor.Execute(ctx, p.tools.Paths().VolumeCmd, "-NoProfile", "-NonInteractive", "-Command", command)
}

func (p *pipeline) mount() *job.Error {
	p.enter(job.StateMountingSource)

	mountCtx, cancel := context.WithTimeout(p.ctx, p.cfg.MountTimeout)
	defer cancel()
	result, err := p.powershellContext(mountCtx, fmt.Sprintf("Mount-DiskImage -ImagePath %s -Access ReadOnly | Out-Null", psQuote(p.source)))
	if err != nil {
		return job.NewError(job.MountFailed, job.StateMountingSource, err)
	}
	if result.ExitCode != 0 {
		return &job.Error{
			Kind:   job.MountFailed,
			Stage:  job.StateMountingSource,
			Output: result.Diagnostic(),
			Err:    fmt.Errorf("Mount-DiskImage exited with %d", result.ExitCode),
		}
	}

	query := fmt.Sprintf("(Get-DiskImage -ImagePath %s | Get-Volume).DriveLetter", psQuote(p.source))
	var letter, lastOutput string
	err = poll(p.ctx, p.cfg.MountPollInterval, p.cfg.MountTimeout, func(ctx context.Context) (bool, error) {
		result, err := p.powershellContext(ctx, query)
		if err != nil {
			return false, err
		}
		lastOutput = strings.TrimSpace(result.Output)
		if result.ExitCode == 0 && utils.IsDriveLetter(lastOutput) {
			letter = strings.ToUpper(lastOutput)
			return true, nil
		}
		return false, nil
	})
	if err != nil {
		return &job.Error{
			Kind:   job.MountFailed,
			Stage:  job.StateMountingSource,
			Output: utils.CompactOutput([]byte(lastOutput)),
			Err:    errors.Wrap(err, "mounted image has no drive letter"),
		}
	}
	p.result.SourceLetter = letter
	p.log.Infof("source image mounted at %s", utils.VolumeRoot(letter))
	return nil
}

// dismount is issued unconditionally; Windows reports an error for an
// image that is not attached, which only gets logged.
func (p *pipeline) dismount() error {
	result, err := p.powershell(fmt.Sprintf("Dismount-DiskImage -ImagePath %s | Out-Null", psQuote(p.source)))
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("Dismount-DiskImage exited with %d: %s", result.ExitCode, result.Diagnostic())
	}
	return nil
}

// poll checks condition every interval until it holds or timeout expires.
// The context handed to condition carries the deadline; errors from
// condition end the wait immediately.
func poll(ctx context.Context, interval, timeout time.Duration, condition wait.ConditionWithContextFunc) error {
	return wait.PollUntilContextTimeout(ctx, interval, timeout, true, condition)
}
