// Package shell runs the external tools munkipipe drives: autopkg and git.
package shell

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/adahealth/munkipipe/pkg/errors"
	"go.uber.org/zap"
)

// ErrCommand is returned when a command exits with a non-zero status or cannot be started
var ErrCommand = errors.New("command failed")

// Command to run
type Command struct {
	Dir  string
	Name string
	Args []string
	// Env is added to the environment of the current process
	Env []string
	// Live copies stdout to the runner's live output while the command runs
	Live bool
}

func (c Command) String() string {
	return strings.TrimSpace(c.Name + " " + strings.Join(c.Args, " "))
}

// Result of a command
type Result struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Runner knows how to run commands
type Runner interface {
	Run(context.Context, Command) (Result, error)
}

// Option for the exec runner
type Option func(*execRunner)

// WithLiveOutput sets the writer receiving the output of live commands (defaults to os.Stdout)
func WithLiveOutput(w io.Writer) Option {
	return func(r *execRunner) {
		if w != nil {
			r.live = w
		}
	}
}

// WithLogger sets the logger
func WithLogger(zlg *zap.Logger) Option {
	return func(r *execRunner) {
		if zlg != nil {
			r.l = zlg
		}
	}
}

// New runner executing commands on the host
func New(opts ...Option) Runner {
	r := &execRunner{
		live: os.Stdout,
		l:    zap.NewNop(),
	}
	for _, apply := range opts {
		apply(r)
	}
	return r
}

type execRunner struct {
	live io.Writer
	l    *zap.Logger
}

func (r *execRunner) Run(ctx context.Context, c Command) (Result, error) {
	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, c.Name, c.Args...) // #nosec: commands are built by munkipipe
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = append(os.Environ(), c.Env...)
	}
	if c.Live {
		cmd.Stdout = io.MultiWriter(r.live, &stdout)
	} else {
		cmd.Stdout = &stdout
	}
	cmd.Stderr = &stderr

	r.l.Debug("running command", zap.Stringer("command", c), zap.String("dir", c.Dir))
	err := cmd.Run()
	res := Result{
		Stdout: stdout.Bytes(),
		Stderr: stderr.Bytes(),
	}
	if cmd.ProcessState != nil {
		res.ExitCode = cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return res, ErrCommand.Wrap(fmt.Errorf("%s: %w: %s", c, err, strings.TrimSpace(stderr.String())))
	}
	return res, nil
}
