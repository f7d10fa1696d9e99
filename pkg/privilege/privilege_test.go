package privilege

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_Require(t *testing.T) {
	assert.NoError(t, Require(func() bool { return true }))
	assert.ErrorIs(t, Require(func() bool { return false }), ErrNotElevated)
}
