package privilege

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// ErrNotElevated is returned by Require when the process lacks
// administrator rights.
var ErrNotElevated = errors.New("administrator privileges are required to write to raw devices")

// Checker reports whether the process may perform destructive operations.
type Checker func() bool

// Require returns ErrNotElevated unless check succeeds. A nil check uses the
// platform default.
func Require(check Checker) error {
	if check == nil {
		check = IsElevated
	}
	if !check() {
		logrus.Warn("process is not elevated")
		return ErrNotElevated
	}
	return nil
}
