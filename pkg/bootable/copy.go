package bootable

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/tools"
	"github.com/harvester/usb-flasher/pkg/utils"
)

// MaxCopySuccessCode is the highest robocopy exit code that still means
// every file made it across. Codes 8 and above flag failed copies.
const MaxCopySuccessCode = 7

// CopySucceeded interprets a robocopy exit status.
func CopySucceeded(code int) bool {
	return code >= 0 && code <= MaxCopySuccessCode
}

func (p *pipeline) copyTree() *job.Error {
	p.enter(job.StateCopying)

	if !p.tools.Available(tools.DirectoryCopyTool) {
		return job.NewError(job.CopyFailed, job.StateCopying,
			job.Errorf(job.ToolUnavailable, job.StateCopying, "%s (%s) is not available", tools.DirectoryCopyTool, p.tools.Paths().CopyCmd))
	}

	src := utils.VolumeRoot(p.result.SourceLetter)
	dst := utils.VolumeRoot(p.result.TargetLetter)

	usage, err := p.usage(dst)
	if err != nil {
		return job.NewError(job.CopyFailed, job.StateCopying, errors.Wrapf(err, "failed to read free space of %s", dst))
	}
	if p.imageSize > 0 && usage.Free < uint64(p.imageSize) {
		return job.Errorf(job.CopyFailed, job.StateCopying,
			"target volume %s has %d bytes free, image needs %d", dst, usage.Free, p.imageSize)
	}

	cmd := p.tools.Paths().CopyCmd
	result, err := p.executor.Execute(p.ctx, cmd, src, dst, "/E", "/R:1", "/W:1", "/NP", "/NFL", "/NDL")
	if err != nil {
		return job.NewError(job.CopyFailed, job.StateCopying, err)
	}
	if !CopySucceeded(result.ExitCode) {
		return &job.Error{
			Kind:   job.CopyFailed,
			Stage:  job.StateCopying,
			Output: result.Diagnostic(),
			Err:    fmt.Errorf("`%s` exited with %d", cmd, result.ExitCode),
		}
	}
	p.log.Debugf("`%s` exited with %d", cmd, result.ExitCode)

	entries, err := p.readDir(dst)
	if err != nil {
		return job.NewError(job.CopyFailed, job.StateCopying, errors.Wrapf(err, "failed to list %s", dst))
	}
	if len(entries) == 0 {
		return job.Errorf(job.CopyFailed, job.StateCopying, "target volume %s is empty after copy", dst)
	}
	return nil
}

func (p *pipeline) installBootCode() *job.Error {
	p.enter(job.StateInstallingBootCode)

	cmd := p.tools.Paths().BootsectPath
	result, err := p.executor.Execute(p.ctx, cmd, "/"+p.cfg.BootCode, p.result.TargetLetter+":", "/force", "/mbr")
	if err != nil {
		return job.NewError(job.BootInstallFailed, job.StateInstallingBootCode, err)
	}
	if result.ExitCode != 0 {
		return &job.Error{
			Kind:   job.BootInstallFailed,
			Stage:  job.StateInstallingBootCode,
			Output: result.Diagnostic(),
			Err:    fmt.Errorf("`%s` exited with %d", cmd, result.ExitCode),
		}
	}
	return nil
}
