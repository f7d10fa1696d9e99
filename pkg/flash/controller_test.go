package flash

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/bootable"
	"github.com/harvester/usb-flasher/pkg/filter"
	"github.com/harvester/usb-flasher/pkg/image"
	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/metrics"
	"github.com/harvester/usb-flasher/pkg/tools"
	"github.com/harvester/usb-flasher/pkg/writer"
)

var usbDrive = block.DriveInfo{DevicePath: `\\.\PhysicalDrive2`, Model: "SanDisk Ultra", InterfaceType: "USB"}

type fakeEnumerator struct {
	drives []block.DriveInfo
	err    error
	calls  int
}

func (f *fakeEnumerator) Enumerate(context.Context) ([]block.DriveInfo, error) {
	f.calls++
	return f.drives, f.err
}

type fakeProber tools.Availability

func (f fakeProber) Probe() tools.Availability {
	return tools.Availability(f)
}

// fakeWriter blocks until release is closed when release is set.
type fakeWriter struct {
	release chan struct{}
	chunks  []int64
	err     error
}

func (f *fakeWriter) Write(_ context.Context, _ string, _ block.DriveInfo, progress func(job.Progress)) (writer.Result, error) {
	if f.release != nil {
		<-f.release
	}
	var total int64
	for _, c := range f.chunks {
		total += c
	}
	res := writer.Result{Total: total}
	progress(job.Progress{Total: total})
	for _, c := range f.chunks {
		res.Written += c
		progress(job.Progress{Written: res.Written, Total: total})
	}
	if f.err != nil {
		return res, &job.Error{Kind: job.WriteFailed, Stage: job.StateWriting, Written: res.Written, Err: f.err}
	}
	res.Digest = "digest"
	return res, nil
}

type fakeBuilder struct {
	failAt job.State
	calls  int
}

func (f *fakeBuilder) Build(_ context.Context, _ string, _ int64, _ block.DriveInfo, onStage bootable.StageFunc) (bootable.Result, error) {
	f.calls++
	total := int64(len(bootable.Stages))
	var done int64
	var err error
	for _, stage := range bootable.Stages[:len(bootable.Stages)-1] {
		onStage(stage, job.Progress{Written: done, Total: total})
		if stage == f.failAt {
			err = job.Errorf(job.CopyFailed, stage, "robocopy exited with 8")
			break
		}
		done++
		onStage(stage, job.Progress{Written: done, Total: total})
	}
	onStage(job.StateCleanup, job.Progress{Written: done, Total: total})
	return bootable.Result{TargetLetter: "U"}, err
}

func allTools() fakeProber {
	return fakeProber{
		tools.PartitionTool: true, tools.VolumeManager: true,
		tools.DirectoryCopyTool: true, tools.BootCodeInstaller: true,
	}
}

func newTestController(w *fakeWriter, b *fakeBuilder) *Controller {
	return &Controller{
		Enumerator:     &fakeEnumerator{drives: []block.DriveInfo{usbDrive}},
		Prober:         allTools(),
		Writer:         w,
		Builder:        b,
		Metrics:        metrics.New(),
		PrivilegeCheck: func() bool { return true },
		InspectImage: func(path string) (*image.Info, error) {
			return &image.Info{Path: path, SizeBytes: 4096, ISO9660: true}, nil
		},
		MountedPartitions: func(string) ([]string, error) { return nil, nil },
	}
}

func collect(t *testing.T, events <-chan job.Event) []job.Event {
	t.Helper()
	var all []job.Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case e, ok := <-events:
			if !ok {
				return all
			}
			all = append(all, e)
		case <-timeout:
			t.Fatal("job did not finish")
			return all
		}
	}
}

func states(events []job.Event) []job.State {
	var s []job.State
	for _, e := range events {
		if len(s) == 0 || s[len(s)-1] != e.State {
			s = append(s, e.State)
		}
	}
	return s
}

func Test_StartMissingSelection(t *testing.T) {
	var testCases = []struct {
		name  string
		given Request
	}{
		{name: "no image", given: Request{Target: &usbDrive, Kind: job.KindRaw}},
		{name: "no target", given: Request{ImagePath: "a.img", Kind: job.KindRaw}},
		{name: "target without path", given: Request{ImagePath: "a.img", Target: &block.DriveInfo{}, Kind: job.KindRaw}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c := newTestController(&fakeWriter{}, &fakeBuilder{})
			events, err := c.Start(context.Background(), tc.given)
			assert.True(t, job.IsKind(err, job.MissingSelection))
			assert.Nil(t, events)
			_, ok := c.Current()
			assert.False(t, ok)
		})
	}
}

func Test_StartRawSucceeds(t *testing.T) {
	c := newTestController(&fakeWriter{chunks: []int64{512, 512, 100}}, &fakeBuilder{})
	events, err := c.Start(context.Background(), Request{ImagePath: "disk.img", Target: &usbDrive, Kind: job.KindRaw})
	require.NoError(t, err)

	all := collect(t, events)
	assert.Equal(t, []job.State{job.StatePreflight, job.StateWriting, job.StateSucceeded}, states(all))

	var last int64
	for _, e := range all {
		assert.GreaterOrEqual(t, e.Progress.Written, last)
		last = e.Progress.Written
	}
	final := all[len(all)-1]
	assert.Equal(t, job.Progress{Written: 1124, Total: 1124}, final.Progress)
	assert.Equal(t, 1.0, final.Fraction)
	assert.Nil(t, final.Err)

	snap, ok := c.Current()
	require.True(t, ok)
	assert.Equal(t, job.StateSucceeded, snap.State)
	assert.Equal(t, final.JobID, snap.ID)
	assert.False(t, snap.EndedAt.IsZero())
	assert.False(t, c.Busy())
}

func Test_StartRawFailureKeepsBytes(t *testing.T) {
	c := newTestController(&fakeWriter{chunks: []int64{512, 512}, err: errors.New("device removed")}, &fakeBuilder{})
	events, err := c.Start(context.Background(), Request{ImagePath: "disk.img", Target: &usbDrive, Kind: job.KindRaw})
	require.NoError(t, err)

	all := collect(t, events)
	final := all[len(all)-1]
	assert.Equal(t, job.StateFailed, final.State)
	require.NotNil(t, final.Err)
	assert.Equal(t, job.WriteFailed, final.Err.Kind)
	assert.Equal(t, job.StateWriting, final.Err.Stage)
	assert.Equal(t, int64(1024), final.Progress.Written)
}

func Test_StartRejectsConcurrentJob(t *testing.T) {
	w := &fakeWriter{release: make(chan struct{}), chunks: []int64{512}}
	c := newTestController(w, &fakeBuilder{})
	req := Request{ImagePath: "disk.img", Target: &usbDrive, Kind: job.KindRaw}

	events, err := c.Start(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, c.Busy())

	_, err = c.Start(context.Background(), req)
	assert.True(t, job.IsKind(err, job.JobAlreadyRunning))

	drives, err := c.Enumerate(context.Background())
	assert.True(t, job.IsKind(err, job.JobAlreadyRunning))
	assert.Empty(t, drives)

	close(w.release)
	collect(t, events)

	w.release = nil
	events, err = c.Start(context.Background(), req)
	require.NoError(t, err)
	all := collect(t, events)
	assert.Equal(t, job.StateSucceeded, all[len(all)-1].State)
}

func Test_StartBootable(t *testing.T) {
	b := &fakeBuilder{}
	c := newTestController(&fakeWriter{}, b)
	events, err := c.Start(context.Background(), Request{ImagePath: "harvester.iso", Target: &usbDrive, Kind: job.KindBootable})
	require.NoError(t, err)

	all := collect(t, events)
	expected := append([]job.State{job.StatePreflight}, bootable.Stages...)
	expected = append(expected, job.StateSucceeded)
	assert.Equal(t, expected, states(all))
	assert.Equal(t, 1.0, all[len(all)-1].Fraction)
	assert.Equal(t, 1, b.calls)
}

func Test_StartBootableFailureRunsCleanup(t *testing.T) {
	c := newTestController(&fakeWriter{}, &fakeBuilder{failAt: job.StateCopying})
	events, err := c.Start(context.Background(), Request{ImagePath: "harvester.iso", Target: &usbDrive, Kind: job.KindBootable})
	require.NoError(t, err)

	all := collect(t, events)
	s := states(all)
	assert.Equal(t, job.StateCleanup, s[len(s)-2])
	final := all[len(all)-1]
	assert.Equal(t, job.StateFailed, final.State)
	assert.Equal(t, job.StateCopying, final.Err.Stage)
	assert.Equal(t, int64(3), final.Progress.Written)
}

func Test_Preflight(t *testing.T) {
	var testCases = []struct {
		name     string
		kind     job.Kind
		mutate   func(c *Controller)
		expected job.ErrorKind
	}{
		{
			name:     "not elevated",
			kind:     job.KindRaw,
			mutate:   func(c *Controller) { c.PrivilegeCheck = func() bool { return false } },
			expected: job.InsufficientPrivileges,
		},
		{
			name: "image missing",
			kind: job.KindRaw,
			mutate: func(c *Controller) {
				c.InspectImage = func(string) (*image.Info, error) { return nil, errors.New("no such file") }
			},
			expected: job.PreflightFailed,
		},
		{
			name: "raw target mounted",
			kind: job.KindRaw,
			mutate: func(c *Controller) {
				c.MountedPartitions = func(string) ([]string, error) { return []string{"/media/usb"}, nil }
			},
			expected: job.TargetInUse,
		},
		{
			name: "bootable needs iso",
			kind: job.KindBootable,
			mutate: func(c *Controller) {
				c.InspectImage = func(path string) (*image.Info, error) { return &image.Info{Path: path, SizeBytes: 10}, nil }
			},
			expected: job.InvalidImage,
		},
		{
			name: "boot code installer missing",
			kind: job.KindBootable,
			mutate: func(c *Controller) {
				p := allTools()
				p[tools.BootCodeInstaller] = false
				c.Prober = p
			},
			expected: job.ToolUnavailable,
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			b := &fakeBuilder{}
			c := newTestController(&fakeWriter{chunks: []int64{512}}, b)
			tc.mutate(c)

			events, err := c.Start(context.Background(), Request{ImagePath: "image", Target: &usbDrive, Kind: tc.kind})
			require.NoError(t, err)
			all := collect(t, events)

			assert.Equal(t, []job.State{job.StatePreflight, job.StateFailed}, states(all))
			final := all[len(all)-1]
			require.NotNil(t, final.Err)
			assert.Equal(t, tc.expected, final.Err.Kind)
			assert.Equal(t, job.StatePreflight, final.Err.Stage)
			assert.Equal(t, 0, b.calls)
		})
	}
}

func Test_StartUnknownKind(t *testing.T) {
	c := newTestController(&fakeWriter{}, &fakeBuilder{})
	_, err := c.Start(context.Background(), Request{ImagePath: "a.img", Target: &usbDrive, Kind: "vhd"})
	assert.True(t, job.IsKind(err, job.PreflightFailed))
}

func Test_Enumerate(t *testing.T) {
	kingston := block.DriveInfo{DevicePath: `\\.\PhysicalDrive3`, Model: "Kingston DataTraveler", InterfaceType: "USB"}
	enumerator := &fakeEnumerator{drives: []block.DriveInfo{usbDrive, kingston}}
	c := newTestController(&fakeWriter{}, &fakeBuilder{})
	c.Enumerator = enumerator
	c.ExcludeFilters = filter.SetExcludeFilters("kingston", "", "")

	drives, err := c.Enumerate(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []block.DriveInfo{usbDrive}, drives)

	enumerator.drives, enumerator.err = []block.DriveInfo{}, job.Errorf(job.EnumerationFailed, job.StateIdle, "wmic exited with 1")
	drives, err = c.Enumerate(context.Background())
	assert.True(t, job.IsKind(err, job.EnumerationFailed))
	assert.Empty(t, drives)
	assert.Equal(t, 2, enumerator.calls)
}

func Test_Probe(t *testing.T) {
	c := newTestController(&fakeWriter{}, &fakeBuilder{})
	assert.Equal(t, tools.Availability(allTools()), c.Probe())
}

// floodingBuilder reports many progress updates inside its first stage.
type floodingBuilder struct {
	updates int
}

func (f *floodingBuilder) Build(_ context.Context, _ string, _ int64, _ block.DriveInfo, onStage bootable.StageFunc) (bootable.Result, error) {
	total := int64(len(bootable.Stages))
	for i := 0; i < f.updates; i++ {
		onStage(job.StatePartitioning, job.Progress{Total: total})
	}
	for i, stage := range bootable.Stages {
		onStage(stage, job.Progress{Written: int64(i), Total: total})
	}
	return bootable.Result{TargetLetter: "U"}, nil
}

func Test_StartKeepsTransitionsForSlowConsumer(t *testing.T) {
	c := newTestController(&fakeWriter{}, &fakeBuilder{})
	c.Builder = &floodingBuilder{updates: 4 * eventBuffer}

	events, err := c.Start(context.Background(), Request{ImagePath: "harvester.iso", Target: &usbDrive, Kind: job.KindBootable})
	require.NoError(t, err)
	require.Eventually(t, func() bool { return !c.Busy() }, 5*time.Second, time.Millisecond)

	all := collect(t, events)
	expected := append([]job.State{job.StatePreflight}, bootable.Stages...)
	expected = append(expected, job.StateSucceeded)
	assert.Equal(t, expected, states(all))
	assert.LessOrEqual(t, len(all), eventBuffer)
}

// gatedEnumerator blocks inside Enumerate until release is closed and
// records whether a job was active meanwhile.
type gatedEnumerator struct {
	entered chan struct{}
	release chan struct{}
	busy    func() bool
	sawJob  bool
}

func (g *gatedEnumerator) Enumerate(context.Context) ([]block.DriveInfo, error) {
	close(g.entered)
	<-g.release
	g.sawJob = g.busy()
	return []block.DriveInfo{usbDrive}, nil
}

func Test_EnumerateExcludesConcurrentStart(t *testing.T) {
	c := newTestController(&fakeWriter{}, &fakeBuilder{})
	gate := &gatedEnumerator{entered: make(chan struct{}), release: make(chan struct{}), busy: c.Busy}
	c.Enumerator = gate

	enumerated := make(chan error, 1)
	go func() {
		_, err := c.Enumerate(context.Background())
		enumerated <- err
	}()
	<-gate.entered

	started := make(chan (<-chan job.Event), 1)
	go func() {
		events, err := c.Start(context.Background(), Request{ImagePath: "disk.img", Target: &usbDrive, Kind: job.KindRaw})
		assert.NoError(t, err)
		started <- events
	}()

	select {
	case <-started:
		t.Fatal("job started while drives were being enumerated")
	case <-time.After(50 * time.Millisecond):
	}

	close(gate.release)
	require.NoError(t, <-enumerated)
	assert.False(t, gate.sawJob)

	all := collect(t, <-started)
	assert.Equal(t, job.StateSucceeded, all[len(all)-1].State)
}
