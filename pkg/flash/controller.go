package flash

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/bootable"
	"github.com/harvester/usb-flasher/pkg/filter"
	"github.com/harvester/usb-flasher/pkg/image"
	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/metrics"
	"github.com/harvester/usb-flasher/pkg/privilege"
	"github.com/harvester/usb-flasher/pkg/tools"
	"github.com/harvester/usb-flasher/pkg/writer"
)

const (
	// eventBuffer bounds the events queued for a slow consumer.
	eventBuffer = 128
	// transitionReserve is the part of the buffer progress events never
	// fill. It holds every state change of a job plus its terminal event.
	transitionReserve = 16
)

type Prober interface {
	Probe() tools.Availability
}

type RawWriter interface {
	Write(ctx context.Context, source string, target block.DriveInfo, progress func(job.Progress)) (writer.Result, error)
}

type BootableBuilder interface {
	Build(ctx context.Context, source string, imageSize int64, target block.DriveInfo, onStage bootable.StageFunc) (bootable.Result, error)
}

// Request selects what to flash where.
type Request struct {
	ImagePath string           `json:"imagePath"`
	Target    *block.DriveInfo `json:"target"`
	Kind      job.Kind         `json:"kind"`
}

// Controller owns at most one flash job at a time. Optional fields left nil
// fall back to the platform implementation.
type Controller struct {
	Enumerator     block.Enumerator
	ExcludeFilters []*filter.Filter
	Prober         Prober
	Writer         RawWriter
	Builder        BootableBuilder
	Metrics        *metrics.Metrics

	PrivilegeCheck    privilege.Checker
	InspectImage      func(path string) (*image.Info, error)
	MountedPartitions func(devPath string) ([]string, error)

	// hw serializes enumeration against claiming the job guard.
	hw      sync.Mutex
	mu      sync.Mutex
	active  bool
	current *job.Snapshot
}

// Enumerate lists the USB drives not excluded by the filters. It is
// rejected while a job is active.
func (c *Controller) Enumerate(ctx context.Context) ([]block.DriveInfo, error) {
	c.hw.Lock()
	defer c.hw.Unlock()
	if c.Busy() {
		return []block.DriveInfo{}, job.Errorf(job.JobAlreadyRunning, job.StateIdle, "cannot enumerate drives while a flash job is running")
	}

	drives, err := c.Enumerator.Enumerate(ctx)
	if err != nil {
		logrus.Warnf("drive enumeration failed: %v", err)
	}
	drives = filter.Apply(c.ExcludeFilters, drives)
	c.Metrics.SetDrives(len(drives))
	return drives, err
}

// Probe reports the external tool availability.
func (c *Controller) Probe() tools.Availability {
	return c.Prober.Probe()
}

// Current returns the active job, or the last finished one.
func (c *Controller) Current() (job.Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == nil {
		return job.Snapshot{}, false
	}
	return *c.current, true
}

// Busy reports whether a job is in progress.
func (c *Controller) Busy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// Start validates req and runs the job in the background. The returned
// channel receives every state change and progress update and is closed
// after the terminal event.
func (c *Controller) Start(ctx context.Context, req Request) (<-chan job.Event, error) {
	if strings.TrimSpace(req.ImagePath) == "" || req.Target == nil || strings.TrimSpace(req.Target.DevicePath) == "" {
		return nil, job.Errorf(job.MissingSelection, job.StateIdle, "both an image and a target drive must be selected")
	}
	if req.Kind != job.KindRaw && req.Kind != job.KindBootable {
		return nil, job.Errorf(job.PreflightFailed, job.StateIdle, "unknown image kind %q", req.Kind)
	}

	c.hw.Lock()
	defer c.hw.Unlock()
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return nil, job.Errorf(job.JobAlreadyRunning, job.StateIdle, "a flash job is already running")
	}
	c.active = true
	r := &run{
		controller: c,
		req:        req,
		target:     *req.Target,
		events:     make(chan job.Event, eventBuffer),
		snapshot: job.Snapshot{
			ID:        uuid.NewString(),
			ImagePath: req.ImagePath,
			Device:    req.Target.DevicePath,
			Kind:      req.Kind,
			State:     job.StateIdle,
			StartedAt: time.Now(),
		},
	}
	r.log = logrus.WithFields(logrus.Fields{
		"job":    r.snapshot.ID,
		"kind":   string(req.Kind),
		"image":  req.ImagePath,
		"device": req.Target.DevicePath,
	})
	snap := r.snapshot
	c.current = &snap
	c.mu.Unlock()

	c.Metrics.JobStarted()
	go r.execute(ctx)
	return r.events, nil
}

func (c *Controller) publish(s job.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &s
}

func (c *Controller) release(s job.Snapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = &s
	c.active = false
}

func (c *Controller) checkPrivileges() error {
	return privilege.Require(c.PrivilegeCheck)
}

func (c *Controller) inspect(path string) (*image.Info, error) {
	if c.InspectImage != nil {
		return c.InspectImage(path)
	}
	return image.Inspect(path)
}

func (c *Controller) mountedPartitions(devPath string) ([]string, error) {
	if c.MountedPartitions != nil {
		return c.MountedPartitions(devPath)
	}
	return block.MountedPartitions(devPath)
}
