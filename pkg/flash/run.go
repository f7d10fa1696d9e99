package flash

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/image"
	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/tools"
)

// run is the single goroutine driving one job. It is the only writer of
// snapshot; the controller receives copies.
type run struct {
	controller *Controller
	req        Request
	target     block.DriveInfo
	snapshot   job.Snapshot
	events     chan job.Event
	log        *logrus.Entry

	stageStart time.Time
}

func (r *run) execute(ctx context.Context) {
	err := r.preflightAndDispatch(ctx)
	r.finish(err)
}

func (r *run) preflightAndDispatch(ctx context.Context) error {
	r.transition(job.StatePreflight)
	info, err := r.preflight(ctx)
	if err != nil {
		return err
	}

	switch r.req.Kind {
	case job.KindRaw:
		return r.writeRaw(ctx)
	case job.KindBootable:
		return r.buildBootable(ctx, info)
	default:
		return job.Errorf(job.PreflightFailed, job.StatePreflight, "unknown image kind %q", r.req.Kind)
	}
}

// preflight runs every check that must pass before anything destructive is
// reachable.
func (r *run) preflight(ctx context.Context) (*image.Info, error) {
	c := r.controller
	if err := c.checkPrivileges(); err != nil {
		return nil, job.NewError(job.InsufficientPrivileges, job.StatePreflight, err)
	}

	info, err := c.inspect(r.req.ImagePath)
	if err != nil {
		return nil, job.NewError(job.PreflightFailed, job.StatePreflight, err)
	}
	r.log.Debugf("image is %d bytes, iso9660=%t", info.SizeBytes, info.ISO9660)

	switch r.req.Kind {
	case job.KindRaw:
		mounts, err := c.mountedPartitions(r.target.DevicePath)
		if err != nil {
			return nil, job.NewError(job.PreflightFailed, job.StatePreflight, err)
		}
		if len(mounts) > 0 {
			return nil, job.Errorf(job.TargetInUse, job.StatePreflight,
				"%s is mounted at %s", r.target.DevicePath, strings.Join(mounts, ", "))
		}
	case job.KindBootable:
		if !info.ISO9660 {
			return nil, job.Errorf(job.InvalidImage, job.StatePreflight,
				"%s is not an ISO9660 image", r.req.ImagePath)
		}
		if missing := c.Prober.Probe().Missing(tools.PreflightTools...); len(missing) > 0 {
			return nil, job.Errorf(job.ToolUnavailable, job.StatePreflight,
				"required tools are unavailable: %s", strings.Join(missing, ", "))
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, job.NewError(job.PreflightFailed, job.StatePreflight, err)
	}
	return info, nil
}

func (r *run) writeRaw(ctx context.Context) error {
	r.transition(job.StateWriting)
	res, err := r.controller.Writer.Write(ctx, r.req.ImagePath, r.target, r.progress)
	r.controller.Metrics.AddBytesWritten(res.Written)
	if err != nil {
		return err
	}
	r.snapshot.Progress = job.Progress{Written: res.Written, Total: res.Total}
	r.log.WithField("blake2b", res.Digest).Infof("raw write finished")
	return nil
}

func (r *run) buildBootable(ctx context.Context, info *image.Info) error {
	res, err := r.controller.Builder.Build(ctx, r.req.ImagePath, info.SizeBytes, r.target, func(state job.State, p job.Progress) {
		if state != r.snapshot.State {
			r.snapshot.Progress = p
			r.transition(state)
			return
		}
		r.progress(p)
	})
	if err != nil {
		return err
	}
	r.log.Infof("bootable volume %s: ready with %d bytes", res.TargetLetter, res.CapacityBytes)
	return nil
}

func (r *run) transition(state job.State) {
	now := time.Now()
	if r.snapshot.State != job.StateIdle && !r.stageStart.IsZero() {
		r.controller.Metrics.ObserveStage(string(r.req.Kind), string(r.snapshot.State), now.Sub(r.stageStart))
	}
	r.stageStart = now
	r.log.WithField("stage", string(state)).Debug("state transition")
	r.snapshot.State = state
	r.emit("", nil, false)
}

func (r *run) progress(p job.Progress) {
	r.snapshot.Progress = p
	r.emit("", nil, true)
}

// emit publishes the snapshot and queues an event. Droppable events are
// discarded rather than blocking once only the transition reserve is left.
func (r *run) emit(message string, jobErr *job.Error, droppable bool) {
	r.snapshot.Fraction = r.snapshot.Progress.Fraction()
	if r.snapshot.State == job.StateSucceeded {
		r.snapshot.Fraction = 1
	}
	r.controller.publish(r.snapshot)

	event := job.Event{
		JobID:    r.snapshot.ID,
		State:    r.snapshot.State,
		Progress: r.snapshot.Progress,
		Fraction: r.snapshot.Fraction,
		Message:  message,
		Err:      jobErr,
	}
	if droppable && len(r.events) >= cap(r.events)-transitionReserve {
		r.log.Tracef("dropping progress event, consumer is behind")
		return
	}
	r.events <- event
}

func (r *run) finish(err error) {
	defer close(r.events)

	result := job.StateSucceeded
	message := "flash finished"
	var jobErr *job.Error
	if err != nil {
		result = job.StateFailed
		var ok bool
		if jobErr, ok = job.AsError(err); !ok {
			jobErr = job.NewError(job.PreflightFailed, r.snapshot.State, err)
		}
		if jobErr.Kind == job.WriteFailed {
			r.snapshot.Progress.Written = jobErr.Written
		}
		r.snapshot.Err = jobErr
		message = fmt.Sprintf("flash failed in stage %s", jobErr.Stage)
		r.log.Errorf("flash failed: %v", jobErr)
	} else {
		r.log.Info("flash succeeded")
	}

	now := time.Now()
	r.controller.Metrics.ObserveStage(string(r.req.Kind), string(r.snapshot.State), now.Sub(r.stageStart))
	r.controller.Metrics.JobFinished(string(r.req.Kind), string(result))
	r.snapshot.State = result
	r.snapshot.EndedAt = now
	r.snapshot.Fraction = r.snapshot.Progress.Fraction()
	if result == job.StateSucceeded {
		r.snapshot.Fraction = 1
	}

	// Released before the terminal event is sent.
	r.controller.release(r.snapshot)
	r.events <- job.Event{
		JobID:    r.snapshot.ID,
		State:    r.snapshot.State,
		Progress: r.snapshot.Progress,
		Fraction: r.snapshot.Fraction,
		Message:  message,
		Err:      jobErr,
	}
}
