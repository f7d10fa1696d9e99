package writer

import (
	"context"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/blake2b"

	"github.com/harvester/usb-flasher/pkg/block"
	"github.com/harvester/usb-flasher/pkg/job"
)

const (
	// DefaultChunkSize is the amount of data kept in flight.
	DefaultChunkSize = 4 << 20
	// SectorSize is the alignment of every chunk.
	SectorSize = 512
)

// Device is an opened raw block device.
type Device interface {
	io.Writer
	Sync() error
	Close() error
}

// ErrVolumeInUse is returned by an Opener when a volume on the target
// cannot be locked for exclusive access.
var ErrVolumeInUse = errors.New("volume on target is in use")

// Opener opens a raw device path for exclusive writing.
type Opener func(path string) (Device, error)

// Result of a finished raw write.
type Result struct {
	Written int64  `json:"written"`
	Total   int64  `json:"total"`
	Digest  string `json:"digest"`
}

// Writer streams image files onto raw devices one chunk at a time.
type Writer struct {
	chunkSize int
	open      Opener
}

// NewWriter returns a Writer using chunkSize rounded down to a multiple of
// the sector size. A chunk size below one sector falls back to the default.
func NewWriter(chunkSize int) *Writer {
	return &Writer{
		chunkSize: alignChunk(chunkSize),
		open:      OpenDevice,
	}
}

// WithOpener replaces the device opener.
func (w *Writer) WithOpener(open Opener) *Writer {
	w.open = open
	return w
}

func (w *Writer) ChunkSize() int {
	return w.chunkSize
}

func alignChunk(size int) int {
	if size < SectorSize {
		return DefaultChunkSize
	}
	return size - size%SectorSize
}

// Write copies source onto target. progress, if set, is called after every
// chunk with the bytes written so far, and once before the first chunk.
// ctx is consulted only until the device is opened.
func (w *Writer) Write(ctx context.Context, source string, target block.DriveInfo, progress func(job.Progress)) (res Result, err error) {
	log := logrus.WithFields(logrus.Fields{
		"image":  source,
		"device": target.DevicePath,
	})
	report := func(p job.Progress) {
		if progress != nil {
			progress(p)
		}
	}

	src, err := os.Open(source)
	if err != nil {
		return res, job.NewError(job.WriteFailed, job.StateWriting, errors.Wrapf(err, "failed to open image %s", source))
	}
	defer src.Close()

	stat, err := src.Stat()
	if err != nil {
		return res, job.NewError(job.WriteFailed, job.StateWriting, errors.Wrapf(err, "failed to stat image %s", source))
	}
	res.Total = stat.Size()

	if err := ctx.Err(); err != nil {
		return res, job.NewError(job.WriteFailed, job.StateWriting, err)
	}

	dst, err := w.open(target.DevicePath)
	if err != nil {
		kind := job.WriteFailed
		if errors.Is(err, ErrVolumeInUse) {
			kind = job.TargetInUse
		}
		return res, job.NewError(kind, job.StateWriting, errors.Wrapf(err, "failed to open device %s", target.DevicePath))
	}
	// Every path below releases dst exactly once, through closeDevice.
	closed := false
	closeDevice := func() error {
		if closed {
			return nil
		}
		closed = true
		syncErr := dst.Sync()
		closeErr := dst.Close()
		if syncErr != nil {
			return errors.Wrap(syncErr, "failed to flush device")
		}
		return errors.Wrap(closeErr, "failed to close device")
	}
	defer func() {
		if cerr := closeDevice(); cerr != nil && err == nil {
			err = &job.Error{Kind: job.WriteFailed, Stage: job.StateWriting, Written: res.Written, Err: cerr}
		}
	}()

	digest, _ := blake2b.New256(nil)
	log.Infof("writing %d bytes in chunks of %d", res.Total, w.chunkSize)
	report(job.Progress{Written: 0, Total: res.Total})

	if err := w.stream(src, dst, digest, &res, report); err != nil {
		if cerr := closeDevice(); cerr != nil {
			log.Warnf("failed to release device after write error: %v", cerr)
		}
		return res, &job.Error{Kind: job.WriteFailed, Stage: job.StateWriting, Written: res.Written, Err: err}
	}

	if err := closeDevice(); err != nil {
		return res, &job.Error{Kind: job.WriteFailed, Stage: job.StateWriting, Written: res.Written, Err: err}
	}
	if res.Written != res.Total {
		return res, &job.Error{
			Kind:    job.WriteFailed,
			Stage:   job.StateWriting,
			Written: res.Written,
			Err:     fmt.Errorf("short write: %d of %d bytes", res.Written, res.Total),
		}
	}
	res.Digest = hex.EncodeToString(digest.Sum(nil))
	log.WithField("blake2b", res.Digest).Infof("wrote %d bytes", res.Written)
	return res, nil
}

// stream moves one chunk at a time from src to dst. Nothing is read ahead
// of the chunk being written.
func (w *Writer) stream(src io.Reader, dst io.Writer, digest hash.Hash, res *Result, report func(job.Progress)) error {
	buf := make([]byte, w.chunkSize)
	for res.Written < res.Total {
		n, rerr := io.ReadFull(src, buf)
		if n > 0 {
			m, werr := dst.Write(buf[:n])
			if m > 0 {
				digest.Write(buf[:m])
				res.Written += int64(m)
				report(job.Progress{Written: res.Written, Total: res.Total})
			}
			if werr != nil {
				return errors.Wrapf(werr, "write failed at offset %d", res.Written)
			}
			if m != n {
				return errors.Wrapf(io.ErrShortWrite, "write failed at offset %d", res.Written)
			}
		}
		if rerr == io.EOF || rerr == io.ErrUnexpectedEOF {
			return nil
		}
		if rerr != nil {
			return errors.Wrapf(rerr, "read failed at offset %d", res.Written)
		}
	}
	return nil
}
