package tools

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/sirupsen/logrus"
	utilexec "k8s.io/utils/exec"
)

// Tool names of the external utilities used by the bootable pipeline.
const (
	PartitionTool     = "partition-tool"
	VolumeManager     = "volume-manager"
	DirectoryCopyTool = "directory-copy-tool"
	BootCodeInstaller = "boot-code-installer"
)

// Default binaries behind each tool name.
const (
	DefaultPartitionCmd = "diskpart"
	DefaultVolumeCmd    = "powershell"
	DefaultCopyCmd      = "robocopy"
	DefaultBootsectPath = `C:\Windows\System32\bootsect.exe`
)

// PreflightTools must all be present before a bootable job may leave
// Preflight. The copy tool is checked again when copying starts.
var PreflightTools = []string{PartitionTool, VolumeManager, BootCodeInstaller}

// Availability maps every tool name to whether it was found. It is an
// immutable snapshot taken by one Probe call.
type Availability map[string]bool

// Missing returns the names among the given ones that are unavailable, in
// the order given. Unknown names count as missing.
func (a Availability) Missing(names ...string) []string {
	var missing []string
	for _, name := range names {
		if !a[name] {
			missing = append(missing, name)
		}
	}
	return missing
}

// Names returns the probed tool names sorted.
func (a Availability) Names() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Paths configures the binary of every tool. Command names are looked up on
// PATH, BootsectPath is a fixed location checked for existence.
type Paths struct {
	PartitionCmd string `yaml:"partitionCmd" json:"partitionCmd"`
	VolumeCmd    string `yaml:"volumeCmd" json:"volumeCmd"`
	CopyCmd      string `yaml:"copyCmd" json:"copyCmd"`
	BootsectPath string `yaml:"bootsectPath" json:"bootsectPath"`
}

// DefaultPaths returns the stock Windows binaries.
func DefaultPaths() Paths {
	return Paths{
		PartitionCmd: DefaultPartitionCmd,
		VolumeCmd:    DefaultVolumeCmd,
		CopyCmd:      DefaultCopyCmd,
		BootsectPath: DefaultBootsectPath,
	}
}

// Prober checks the presence of the external tools.
type Prober struct {
	paths    Paths
	lookPath func(file string) (string, error)
	stat     func(name string) (os.FileInfo, error)
}

func NewProber(paths Paths) *Prober {
	return &Prober{
		paths:    paths,
		lookPath: utilexec.New().LookPath,
		stat:     os.Stat,
	}
}

// Probe never fails: a tool that cannot be located for whatever reason is
// reported as unavailable.
func (p *Prober) Probe() Availability {
	availability := Availability{
		PartitionTool:     p.onPath(PartitionTool, p.paths.PartitionCmd),
		VolumeManager:     p.onPath(VolumeManager, p.paths.VolumeCmd),
		DirectoryCopyTool: p.onPath(DirectoryCopyTool, p.paths.CopyCmd),
		BootCodeInstaller: p.exists(BootCodeInstaller, p.paths.BootsectPath),
	}
	logrus.WithField("tools", availability).Debug("probed tool availability")
	return availability
}

// Available probes a single tool.
func (p *Prober) Available(name string) bool {
	switch name {
	case PartitionTool:
		return p.onPath(name, p.paths.PartitionCmd)
	case VolumeManager:
		return p.onPath(name, p.paths.VolumeCmd)
	case DirectoryCopyTool:
		return p.onPath(name, p.paths.CopyCmd)
	case BootCodeInstaller:
		return p.exists(name, p.paths.BootsectPath)
	default:
		return false
	}
}

// Paths returns the configured binaries.
func (p *Prober) Paths() Paths {
	return p.paths
}

func (p *Prober) onPath(name, cmd string) bool {
	if cmd == "" {
		return false
	}
	if _, err := p.lookPath(cmd); err != nil {
		logrus.Debugf("%s (%s) not found: %v", name, cmd, err)
		return false
	}
	return true
}

func (p *Prober) exists(name, path string) bool {
	if path == "" {
		return false
	}
	info, err := p.stat(filepath.Clean(path))
	if err != nil {
		logrus.Debugf("%s (%s) not found: %v", name, path, err)
		return false
	}
	return !info.IsDir()
}
