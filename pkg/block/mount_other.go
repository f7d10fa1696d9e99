//go:build !linux

package block

// MountedPartitions is only implemented on Linux. On Windows the raw writer
// locks and dismounts the volumes of the drive before opening it, and a
// volume that cannot be locked fails the job as TargetInUse.
func MountedPartitions(_ string) ([]string, error) {
	return nil, nil
}
