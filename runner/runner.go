package runner

import (
	"context"
	"errors"
	"io"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner drives one robot: it sends the robot a turn input and collects
// its output, over whichever backend the robot runs on. A Runner owns its
// process or sandbox instance exclusively and supports at most one
// in-flight turn.
type Runner interface {
	// ExecuteTurn sends one turn input and reads the robot's reply. A
	// returned *ProgramError of type runtime leaves the Runner usable;
	// timeout and io errors are terminal.
	ExecuteTurn(ctx context.Context, in *Input) (*Output, error)
	// Close releases the process or instance and any owned temporary
	// directories. Idempotent.
	Close() error
}

// AsProgramError converts any error from runner setup or turn execution
// into a ProgramError attributed to a side.
func AsProgramError(err error, team Team) *ProgramError {
	var pe *ProgramError
	if errors.As(err, &pe) {
		return pe.WithTeam(team)
	}
	return &ProgramError{Type: ErrIO, Summary: err.Error(), Team: team}
}

// Option configures a Runner backend
type Option func(*options)

type options struct {
	timeout  time.Duration
	stderr   io.Writer
	ownedDir string
	logger   *zap.Logger
}

// WithTimeout sets the per-turn deadline. Zero disables it. Expiry is
// terminal: the robot is abandoned and no further turns reach it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithStderr redirects the robot's standard error. The default forwards
// to the host process stderr.
func WithStderr(w io.Writer) Option {
	return func(o *options) { o.stderr = w }
}

// WithOwnedDir hands the Runner a temporary directory to remove on Close.
// The directory must outlive the instance mounting it, so the Runner owns
// both and releases them together.
func WithOwnedDir(dir string) Option {
	return func(o *options) { o.ownedDir = dir }
}

// WithLogger sets the logger used for runner diagnostics
func WithLogger(log *zap.Logger) Option {
	return func(o *options) { o.logger = log }
}

func buildOptions(opts []Option) options {
	o := options{
		stderr: os.Stderr,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

type runnerState int

const (
	stateReady runnerState = iota
	stateFaulted
	stateClosed
)

// pipeRunner is the protocol state machine shared by both backends. It
// owns the codec over the robot's stdio, performs the initialization
// handshake at construction, and serializes turn exchanges.
type pipeRunner struct {
	logger  *zap.Logger
	codec   *codec
	timeout time.Duration

	mu    sync.Mutex
	state runnerState

	closeOnce sync.Once
	closeErr  error
	cleanup   []func() error
}

// newPipeRunner wires the codec and performs the initialization read: the
// robot's first output line must be a successful handshake. Cleanup
// functions run in reverse order on Close regardless of the state reached.
func newPipeRunner(ctx context.Context, o options, w io.Writer, r io.Reader, cleanup ...func() error) (*pipeRunner, error) {
	p := &pipeRunner{
		logger:  o.logger,
		codec:   newCodec(w, r),
		timeout: o.timeout,
		cleanup: cleanup,
	}

	type result struct {
		hs  handshake
		err error
	}
	ch := make(chan result, 1)
	go func() {
		var hs handshake
		err := p.codec.readLine(&hs)
		ch <- result{hs: hs, err: err}
	}()

	var res result
	select {
	case <-ctx.Done():
		p.fault()
		return p, initError("robot initialization interrupted", ctx.Err().Error())
	case res = <-ch:
	}

	switch {
	case res.err != nil:
		p.fault()
		return p, initError("robot did not complete its handshake", res.err.Error())
	case res.hs.Status == "ok":
		p.logger.Debug("robot initialized")
		return p, nil
	case res.hs.Error != nil:
		p.fault()
		e := *res.hs.Error
		e.Type = ErrInit
		return p, &e
	default:
		p.fault()
		return p, initError("robot handshake reported no status", "")
	}
}

func (p *pipeRunner) fault() {
	p.mu.Lock()
	if p.state == stateReady {
		p.state = stateFaulted
	}
	p.mu.Unlock()
}

// ExecuteTurn writes one input line, flushes it, and reads exactly one
// reply line. When a timeout is configured the whole exchange races the
// deadline; on expiry the robot is abandoned, the runner transitions to
// faulted, and the turn reports timeout(duration).
func (p *pipeRunner) ExecuteTurn(ctx context.Context, in *Input) (*Output, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch p.state {
	case stateClosed:
		return nil, ioError("runner is closed", nil)
	case stateFaulted:
		return nil, ioError("runner is faulted", nil)
	}

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	type result struct {
		reply turnReply
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		// The write can block too (a robot that never reads), so it joins
		// the race with the read.
		var res result
		if res.err = p.codec.writeLine(in); res.err == nil {
			res.err = p.codec.readLine(&res.reply)
		}
		ch <- res
	}()

	select {
	case <-ctx.Done():
		p.state = stateFaulted
		if p.timeout > 0 && errors.Is(ctx.Err(), context.DeadlineExceeded) {
			p.logger.Warn("turn timed out", zap.Duration("timeout", p.timeout), zap.Int("turn", in.Turn))
			return nil, timeoutError(p.timeout)
		}
		return nil, ioError("turn canceled", ctx.Err())
	case res := <-ch:
		if res.err != nil {
			p.state = stateFaulted
			return nil, ioError("turn exchange failed", res.err)
		}
		if res.reply.Error != nil {
			// The robot reported its own failure. That is the robot's
			// business; the runner stays ready for the next turn.
			e := *res.reply.Error
			if e.Type == "" {
				e.Type = ErrRuntime
			}
			return nil, &e
		}
		return &Output{Actions: res.reply.Actions, Logs: res.reply.Logs}, nil
	}
}

// Close releases every owned resource exactly once
func (p *pipeRunner) Close() error {
	p.closeOnce.Do(func() {
		p.mu.Lock()
		p.state = stateClosed
		p.mu.Unlock()

		var errs []error
		for i := len(p.cleanup) - 1; i >= 0; i-- {
			if err := p.cleanup[i](); err != nil {
				errs = append(errs, err)
			}
		}
		p.closeErr = errors.Join(errs...)
	})
	return p.closeErr
}
