package image

import (
	"os"
	"strings"

	diskfs "github.com/diskfs/go-diskfs"
	"github.com/diskfs/go-diskfs/filesystem"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Info describes a source image file.
type Info struct {
	Path      string `json:"path"`
	SizeBytes int64  `json:"sizeBytes"`
	ISO9660   bool   `json:"iso9660"`
	Label     string `json:"label,omitempty"`
}

// Inspect stats the image and probes it for an ISO9660 filesystem. Only a
// missing or unreadable file is an error; anything diskfs cannot recognise
// is reported as a flat binary image.
func Inspect(path string) (*Info, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to stat image %s", path)
	}
	if stat.IsDir() {
		return nil, errors.Errorf("image %s is a directory", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open image %s", path)
	}
	_ = f.Close()

	info := &Info{Path: path, SizeBytes: stat.Size()}
	if info.SizeBytes == 0 {
		return info, nil
	}

	d, err := diskfs.Open(path, diskfs.WithOpenMode(diskfs.ReadOnly))
	if err != nil {
		logrus.Debugf("diskfs cannot open %s: %v", path, err)
		return info, nil
	}
	defer d.Close()

	fs, err := d.GetFilesystem(0)
	if err != nil {
		logrus.Debugf("no filesystem recognised on %s: %v", path, err)
		return info, nil
	}
	if fs.Type() == filesystem.TypeISO9660 {
		info.ISO9660 = true
		info.Label = strings.TrimSpace(fs.Label())
	}
	logrus.WithFields(logrus.Fields{
		"image":   path,
		"size":    info.SizeBytes,
		"iso9660": info.ISO9660,
	}).Debug("inspected image")
	return info, nil
}
