//go:build linux

package block

import (
	"strings"

	"github.com/prometheus/procfs"
)

// MountedPartitions returns the mount points of devPath and of any of its
// partitions, according to the mount table of the current process.
func MountedPartitions(devPath string) ([]string, error) {
	mounts, err := procfs.GetMounts()
	if err != nil {
		return nil, err
	}
	return mountPointsOf(mounts, devPath), nil
}

func mountPointsOf(mounts []*procfs.MountInfo, devPath string) []string {
	var points []string
	for _, m := range mounts {
		if m == nil || !strings.HasPrefix(m.Source, devPath) {
			continue
		}
		// /dev/sdb must match /dev/sdb1 but not /dev/sdba1
		rest := strings.TrimPrefix(m.Source, devPath)
		if rest != "" && !isPartitionSuffix(rest) {
			continue
		}
		points = append(points, m.MountPoint)
	}
	return points
}

func isPartitionSuffix(s string) bool {
	s = strings.TrimPrefix(s, "p")
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
