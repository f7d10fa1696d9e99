package bootable

import (
	"context"
	"os"
	"time"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/sirupsen/logrus"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/job"
	"github.com/harvester/usb-flasher/pkg/tools"
	"github.com/harvester/usb-flasher/pkg/utils"
)

// Stages in pipeline order. Progress of a bootable job counts completed
// stages out of len(Stages).
var Stages = []job.State{
	job.StatePartitioning,
	job.StateFormatting,
	job.StateMountingSource,
	job.StateCopying,
	job.StateInstallingBootCode,
	job.StateCleanup,
}

// Config tunes the pipeline.
type Config struct {
	FileSystem        string        `yaml:"fileSystem" json:"fileSystem"`
	VolumeLabel       string        `yaml:"volumeLabel" json:"volumeLabel"`
	VolumeLetter      string        `yaml:"volumeLetter" json:"volumeLetter"`
	BootCode          string        `yaml:"bootCode" json:"bootCode"`
	MountTimeout      time.Duration `yaml:"mountTimeout" json:"mountTimeout"`
	MountPollInterval time.Duration `yaml:"mountPollInterval" json:"mountPollInterval"`
	VolumeTimeout     time.Duration `yaml:"volumeTimeout" json:"volumeTimeout"`
}

func DefaultConfig() Config {
	return Config{
		FileSystem:        "fat32",
		VolumeLabel:       "USBBOOT",
		VolumeLetter:      "U",
		BootCode:          "nt60",
		MountTimeout:      30 * time.Second,
		MountPollInterval: 500 * time.Millisecond,
		VolumeTimeout:     30 * time.Second,
	}
}

// ToolChecker resolves and re-checks external tools.
type ToolChecker interface {
	Available(name string) bool
	Paths() tools.Paths
}

// StageFunc is told about every stage entered and the progress after each
// completed stage.
type StageFunc func(state job.State, progress job.Progress)

// Result of a successful build.
type Result struct {
	DiskIndex     int    `json:"diskIndex"`
	TargetLetter  string `json:"targetLetter"`
	SourceLetter  string `json:"sourceLetter"`
	CapacityBytes uint64 `json:"capacityBytes"`
}

// Builder runs the bootable pipeline against one target at a time. Every
// external action goes through the executor.
type Builder struct {
	executor utils.Executor
	tools    ToolChecker
	cfg      Config

	letterInUse func(letter string) bool
	usage       func(path string) (*disk.UsageStat, error)
	readDir     func(path string) ([]os.DirEntry, error)
}

func NewBuilder(executor utils.Executor, checker ToolChecker, cfg Config) *Builder {
	return &Builder{
		executor:    executor,
		tools:       checker,
		cfg:         cfg,
		letterInUse: volumeExists,
		usage:       disk.Usage,
		readDir:     os.ReadDir,
	}
}

func volumeExists(letter string) bool {
	_, err := os.Stat(utils.VolumeRoot(letter))
	return err == nil
}

// pipeline carries the state of one Build call.
type pipeline struct {
	*Builder
	ctx       context.Context
	source    string
	imageSize int64
	target    block.DriveInfo
	onStage   StageFunc
	state     job.State
	done      int64
	result    Result
	log       *logrus.Entry
}

func (p *pipeline) enter(state job.State) {
	p.log.Infof("entering stage %s", state)
	p.state = state
	if p.onStage != nil {
		p.onStage(state, p.progress())
	}
}

func (p *pipeline) complete() {
	p.done++
	if p.onStage != nil {
		p.onStage(p.state, p.progress())
	}
}

func (p *pipeline) progress() job.Progress {
	return job.Progress{Written: p.done, Total: int64(len(Stages))}
}

func (p *pipeline) fail(err *job.Error) *job.Error {
	err.Written = p.done
	return err
}

// Build partitions, formats and populates target from the ISO at source,
// then installs boot code. Cleanup runs exactly once whatever the outcome.
// ctx is honoured only until partitioning starts; later stages cannot be
// interrupted.
func (b *Builder) Build(ctx context.Context, source string, imageSize int64, target block.DriveInfo, onStage StageFunc) (res Result, err error) {
	p := &pipeline{
		Builder:   b,
		ctx:       context.WithoutCancel(ctx),
		source:    source,
		imageSize: imageSize,
		target:    target,
		onStage:   onStage,
		log: logrus.WithFields(logrus.Fields{
			"image":  source,
			"device": target.DevicePath,
		}),
	}
	defer func() {
		p.cleanup()
		if err != nil {
			p.log.Errorf("bootable build failed: %v", err)
		}
	}()

	steps := []func() *job.Error{
		func() *job.Error { return p.partition(ctx) },
		p.format,
		p.mount,
		p.copyTree,
		p.installBootCode,
	}
	for _, step := range steps {
		if jobErr := step(); jobErr != nil {
			return p.result, p.fail(jobErr)
		}
		p.complete()
	}
	return p.result, nil
}

func (p *pipeline) cleanup() {
	p.enter(job.StateCleanup)
	if err := p.dismount(); err != nil {
		p.log.Warnf("failed to dismount source image: %v", err)
	}
	p.complete()
}
