package fake

import (
	"context"
	"strings"

	"github.com/stretchr/testify/mock"

	"github.com/harvester/usb-flasher/pkg/utils"
)

// Executor is a testify mock of utils.Executor. Expectations are set on the
// "Execute" method with the command name and the joined argument string,
// e.g. ex.On("Execute", "robocopy", mock.Anything).Return(utils.Result{}, nil).
type Executor struct {
	mock.Mock
}

func NewExecutor() *Executor {
	return &Executor{}
}

func (e *Executor) Execute(_ context.Context, cmd string, args ...string) (utils.Result, error) {
	ret := e.Called(cmd, strings.Join(args, " "))
	return ret.Get(0).(utils.Result), ret.Error(1)
}

// CallsTo counts recorded calls of cmd whose arguments contain substr.
func (e *Executor) CallsTo(cmd, substr string) int {
	count := 0
	for _, call := range e.Calls {
		if call.Method != "Execute" || call.Arguments.String(0) != cmd {
			continue
		}
		if strings.Contains(call.Arguments.String(1), substr) {
			count++
		}
	}
	return count
}

// ArgsContaining matches a joined argument string containing substr.
func ArgsContaining(substr string) interface{} {
	return mock.MatchedBy(func(args string) bool {
		return strings.Contains(args, substr)
	})
}
