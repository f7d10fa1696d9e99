package utils

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	utilexec "k8s.io/utils/exec"
)

// ErrCmdTimeout is returned when a command outlives the executor timeout.
var ErrCmdTimeout = errors.New("command timed out")

// Result is the outcome of a finished external command. A non-zero
// ExitCode is not an error at this level: some tools encode partial success
// in their exit status, so interpretation is left to the caller.
type Result struct {
	ExitCode int
	Output   string
}

// Diagnostic returns the output flattened to one line.
func (r Result) Diagnostic() string {
	return CompactOutput([]byte(r.Output))
}

// Executor runs external commands.
type Executor interface {
	Execute(ctx context.Context, cmd string, args ...string) (Result, error)
}

// CmdExecutor runs commands on the local host.
type CmdExecutor struct {
	exec    utilexec.Interface
	timeout time.Duration
}

// NewExecutor returns a CmdExecutor without a timeout.
func NewExecutor() *CmdExecutor {
	return NewExecutorWith(utilexec.New())
}

// NewExecutorWith returns a CmdExecutor running commands through exec.
func NewExecutorWith(exec utilexec.Interface) *CmdExecutor {
	return &CmdExecutor{exec: exec}
}

// SetTimeout bounds the run time of every command; zero disables it.
func (e *CmdExecutor) SetTimeout(timeout time.Duration) {
	e.timeout = timeout
}

// Execute runs cmd with args and collects its combined output. An error is
// returned only if the command could not be started or timed out.
func (e *CmdExecutor) Execute(ctx context.Context, cmd string, args ...string) (Result, error) {
	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	logrus.Debugf("executing `%s %s`", cmd, strings.Join(args, " "))
	out, err := e.exec.CommandContext(ctx, cmd, args...).CombinedOutput()
	result := Result{Output: string(out)}
	if err == nil {
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		if errors.Is(ctxErr, context.DeadlineExceeded) {
			return result, errors.Wrapf(ErrCmdTimeout, "`%s`", cmd)
		}
		return result, errors.Wrapf(ctxErr, "`%s` interrupted", cmd)
	}
	var exitErr utilexec.ExitError
	if errors.As(err, &exitErr) {
		result.ExitCode = exitErr.ExitStatus()
		logrus.Debugf("`%s` exited with %d: %s", cmd, result.ExitCode, result.Diagnostic())
		return result, nil
	}
	return result, errors.Wrapf(err, "failed to execute `%s %s`", cmd, strings.Join(args, " "))
}
