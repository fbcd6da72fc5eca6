// Package runner executes external programs with captured output, timeouts
// and cooperative cancellation. Children run in their own process group so
// that a stop reaches everything they spawned.
package runner

import (
	"bytes"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"buildnative/internal/shellquote"
)

// Stream identifies which child stream a line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Command describes one run. It is consumed by a single call to Run.
type Command struct {
	Args    []string
	Dir     string
	Env     []string // nil inherits the current environment
	Stdin   io.Reader
	Timeout time.Duration // 0 means no limit
	Cancel  Canceller
	Verbose bool

	// MergeOutput folds stderr into the stdout buffer.
	MergeOutput bool
	// OnLine receives each output line as it arrives, without the newline.
	// Calls are serialized.
	OnLine func(stream Stream, line string)
}

// Logger is the subset of console.Printer the runner reports through.
type Logger interface {
	Note(format string, a ...any)
	Debugf(format string, a ...any)
	Raw(s string)
}

type nopLogger struct{}

func (nopLogger) Note(string, ...any)   {}
func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Raw(string)            {}

// Clock is the time source of the drain loop.
type Clock interface {
	Now() time.Time
	After(d time.Duration) <-chan time.Time
}

type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }

// Default timings.
const (
	DefaultPollInterval = 100 * time.Millisecond
	DefaultKillGrace    = 500 * time.Millisecond
)

// Runner runs commands. It holds no per-run state and is safe for
// concurrent use.
type Runner struct {
	Spawner      Spawner
	Clock        Clock
	PollInterval time.Duration
	KillGrace    time.Duration
	Logger       Logger
}

// Option configures a Runner.
type Option func(*Runner)

func WithSpawner(s Spawner) Option { return func(r *Runner) { r.Spawner = s } }
func WithClock(c Clock) Option     { return func(r *Runner) { r.Clock = c } }
func WithLogger(l Logger) Option   { return func(r *Runner) { r.Logger = l } }

// WithPollInterval bounds how long the drain loop may sleep between
// timeout and cancellation checks.
func WithPollInterval(d time.Duration) Option {
	return func(r *Runner) {
		if d > 0 {
			r.PollInterval = d
		}
	}
}

// WithKillGrace sets the delay between the terminate and kill signals.
func WithKillGrace(d time.Duration) Option {
	return func(r *Runner) {
		if d >= 0 {
			r.KillGrace = d
		}
	}
}

// New returns a Runner using the operating system and the wall clock.
func New(opts ...Option) *Runner {
	r := &Runner{
		Spawner:      OSSpawner{},
		Clock:        wallClock{},
		PollInterval: DefaultPollInterval,
		KillGrace:    DefaultKillGrace,
		Logger:       nopLogger{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunString splits line with the rules of platform and runs the result.
func (r *Runner) RunString(line string, platform shellquote.Platform) (Result, error) {
	args, err := shellquote.Split(line, platform)
	if err != nil {
		return Result{}, err
	}
	return r.Run(Command{Args: args})
}

// Run starts cmd and blocks until the child has exited and both output
// streams are drained, or until the timeout or cancellation has stopped it.
// The returned error is non-nil only when no process could be started;
// how the child ended is described by the Result.
func (r *Runner) Run(cmd Command) (Result, error) {
	if len(cmd.Args) == 0 {
		return Result{}, fmt.Errorf("%w: empty command", ErrNotFound)
	}
	logger := r.Logger
	if logger == nil {
		logger = nopLogger{}
	}
	clock := r.Clock
	if clock == nil {
		clock = wallClock{}
	}
	poll := r.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	path, err := r.Spawner.LookPath(cmd.Args[0], cmd.Dir)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrNotFound, cmd.Args[0], err)
	}

	if cmd.Verbose {
		logger.Note("%s", shellquote.Join(cmd.Args, shellquote.Host()))
	}

	onLine := cmd.OnLine
	if cmd.Verbose {
		user := onLine
		onLine = func(s Stream, line string) {
			logger.Raw(line + "\n")
			if user != nil {
				user(s, line)
			}
		}
	}
	out := &sink{merge: cmd.MergeOutput, onLine: onLine}

	start := clock.Now()
	proc, err := r.Spawner.Start(Spec{
		Path:  path,
		Args:  cmd.Args,
		Dir:   cmd.Dir,
		Env:   cmd.Env,
		Stdin: cmd.Stdin,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %s: %v", ErrSpawnIO, cmd.Args[0], err)
	}
	logger.Debugf("started %s", path)

	drained := make(chan struct{}, 2)
	go drain(proc.Stdout(), Stdout, out, drained)
	go drain(proc.Stderr(), Stderr, out, drained)

	type waitResult struct {
		state ExitState
		err   error
	}
	waited := make(chan waitResult, 1)
	go func() {
		st, err := proc.Wait()
		waited <- waitResult{st, err}
	}()

	var (
		exited    bool
		exitState ExitState
		waitErr   error
		open      = 2
		stop      Status // TimedOut or Cancelled once a stop was requested
		stopping  bool
		termAt    time.Time
		killed    bool
		killAt    time.Time
		abandoned bool
	)
	for !exited || open > 0 {
		select {
		case w := <-waited:
			exited, exitState, waitErr = true, w.state, w.err
		case <-drained:
			open--
		case <-clock.After(poll):
		}
		if exited && open == 0 {
			break
		}

		now := clock.Now()
		if !stopping {
			switch {
			case cmd.Timeout > 0 && now.Sub(start) > cmd.Timeout:
				stop, stopping = TimedOut, true
			case cmd.Cancel != nil && cmd.Cancel.ShouldCancel():
				stop, stopping = Cancelled, true
			}
			if stopping {
				logger.Debugf("%s: %s, sending terminate", cmd.Args[0], stop)
				termAt = now
				if err := proc.Signal(Terminate); err != nil {
					logger.Debugf("%s: terminate: %v", cmd.Args[0], err)
				}
			}
		}
		if stopping && !killed && now.Sub(termAt) >= r.KillGrace {
			logger.Debugf("%s: still running after %s, killing", cmd.Args[0], r.KillGrace)
			if err := proc.Signal(Kill); err != nil {
				logger.Debugf("%s: kill: %v", cmd.Args[0], err)
			}
			killed, killAt = true, now
		}
		// A process that left the group can hold the pipes open forever.
		if killed && !abandoned && open > 0 && now.Sub(killAt) >= r.KillGrace {
			logger.Debugf("%s: output still open after kill, closing pipes", cmd.Args[0])
			if err := proc.Close(); err != nil {
				logger.Debugf("%s: close: %v", cmd.Args[0], err)
			}
			abandoned = true
		}
	}

	res := out.result()
	res.Duration = clock.Now().Sub(start)
	if waitErr != nil {
		return res, fmt.Errorf("%w: wait %s: %v", ErrSpawnIO, cmd.Args[0], waitErr)
	}
	switch {
	case stopping:
		res.Status = stop
		res.ExitCode = ExitKilled
	case exitState.Signal != "":
		res.Status = Signaled
		res.Signal = exitState.Signal
		res.ExitCode = ExitKilled
	default:
		res.Status = Exited
		res.ExitCode = exitState.Code
	}
	return res, nil
}

func drain(src io.Reader, stream Stream, out *sink, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()
	if src == nil {
		return
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := src.Read(buf)
		if n > 0 {
			out.write(stream, buf[:n])
		}
		if err != nil {
			out.flush(stream)
			return
		}
	}
}

// sink collects both streams and splits them into lines for OnLine.
type sink struct {
	mu      sync.Mutex
	stdout  bytes.Buffer
	stderr  bytes.Buffer
	merge   bool
	onLine  func(Stream, string)
	partial [2][]byte
}

func (s *sink) write(stream Stream, p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if stream == Stdout || s.merge {
		s.stdout.Write(p)
	} else {
		s.stderr.Write(p)
	}
	if s.onLine == nil {
		return
	}
	pending := append(s.partial[stream], p...)
	for {
		i := bytes.IndexByte(pending, '\n')
		if i < 0 {
			break
		}
		s.onLine(stream, strings.TrimSuffix(string(pending[:i]), "\r"))
		pending = pending[i+1:]
	}
	s.partial[stream] = append([]byte(nil), pending...)
}

// flush delivers a trailing line that had no newline.
func (s *sink) flush(stream Stream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.onLine != nil && len(s.partial[stream]) > 0 {
		s.onLine(stream, string(s.partial[stream]))
	}
	s.partial[stream] = nil
}

func (s *sink) result() Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Result{
		Stdout: bytes.Clone(s.stdout.Bytes()),
		Stderr: bytes.Clone(s.stderr.Bytes()),
	}
}
