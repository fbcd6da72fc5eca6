// Package cli implements the buildnative command line.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/gookit/color"

	"buildnative/internal/config"
	"buildnative/internal/console"
	"buildnative/internal/runner"
)

// Set at build time with -ldflags "-X buildnative/internal/cli.version=...".
var (
	version   = "dev"
	buildDate = "unknown"
)

// Exit codes shared by every command.
const (
	exitOK       = 0
	exitFailure  = 1
	exitUsage    = 2
	exitTimeout  = 124
	exitNotFound = 127
	exitSignal   = 130
)

// app carries the state every command handler needs.
type app struct {
	ctx      context.Context
	p        *console.Printer
	settings config.Settings
	runner   *runner.Runner
}

type command struct {
	name string
	args string
	desc string
	run  func(a *app, args []string) int
}

func commands() []command {
	return []command{
		{"run", "[-timeout d] [-dir d] [-v] [-merge] -- argv...", "Run a program and relay its output", (*app).cmdRun},
		{"split", "[-windows] line", "Tokenize a command line", (*app).cmdSplit},
		{"quote", "[-windows] arg...", "Quote arguments for a shell", (*app).cmdQuote},
		{"rpath", "check|change|remove|show ...", "Inspect or rewrite ELF run paths", (*app).cmdRPath},
		{"soname", "file...", "Print DT_SONAME of shared objects", (*app).cmdSOName},
		{"relocate", "[-j n] [-keep-times] root old new", "Rewrite run paths across a tree", (*app).cmdRelocate},
		{"copy-if-different", "[-keep-times] src dst", "Copy only when contents differ", (*app).cmdCopyIfDifferent},
		{"rename", "src dst", "Atomically replace dst with src", (*app).cmdRename},
		{"hash", "[-s string] file...", "Print BLAKE3-128 digests", (*app).cmdHash},
		{"tar", "create|extract|list ...", "Create, extract or list tar archives", (*app).cmdTar},
		{"zip", "create|extract ...", "Create or extract zip archives", (*app).cmdZip},
		{"relpath", "from to", "Relative path between two absolute paths", (*app).cmdRelPath},
		{"outpath", "[-windows] path...", "Convert paths to output form", (*app).cmdOutPath},
		{"vercmp", "less|greater|equal a b", "Compare dotted version numbers", (*app).cmdVerCmp},
		{"upload", "file [key]", "Upload a file to the configured S3 bucket", (*app).cmdUpload},
		{"version", "", "Version information", (*app).cmdVersion},
	}
}

// printHelp prints the commands table.
func printHelp(w io.Writer) {
	fmt.Fprintln(w, "Usage: buildnative [-config file] [-debug] [-quiet] <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Available Commands:")

	cmds := commands()
	width := 0
	for _, c := range cmds {
		if n := len(c.name) + 1 + len(c.args); n > width {
			width = n
		}
	}
	tty := console.IsTerminal(w)
	for _, c := range cmds {
		name, args := c.name, ""
		if c.args != "" {
			args = " " + c.args
		}
		pad := strings.Repeat(" ", width+4-len(name)-len(args))
		if tty {
			name, args = color.Bold.Sprint(name), color.Cyan.Sprint(args)
		}
		fmt.Fprintf(w, "  %s%s%s%s\n", name, args, pad, c.desc)
	}
}

// Main is the entrypoint for cmd/buildnative.
func Main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt, syscall.SIGTERM)
	p := console.Stdio()

	go func() {
		select {
		case sig := <-sigs:
			p.Warn("Received %v. Cancelling", sig)
			cancel()
		case <-ctx.Done():
			return
		}
		// a second signal means the graceful stop is taking too long
		select {
		case <-sigs:
			p.Error("Second interrupt received. Forcing immediate exit.")
			os.Exit(exitSignal)
		case <-time.After(5 * time.Second):
			os.Exit(exitSignal)
		}
	}()

	code := Run(ctx, os.Args[1:], p)
	signal.Stop(sigs)
	os.Exit(code)
}

// Run executes one command line and returns the process exit code. p
// receives every message the command prints.
func Run(ctx context.Context, args []string, p *console.Printer) int {
	fs := flag.NewFlagSet("buildnative", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", envOr("BUILDNATIVE_CONFIG", config.DefaultFile), "configuration file")
	debug := fs.Bool("debug", false, "print debug messages")
	quiet := fs.Bool("quiet", false, "suppress informational messages")
	if err := fs.Parse(args); err != nil {
		p.Error("%v", err)
		return exitUsage
	}
	if fs.NArg() == 0 {
		printHelp(p.Out())
		return exitUsage
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		p.Error("Failed to load configuration %s: %v", *configPath, err)
		return exitFailure
	}
	settings, err := cfg.Settings()
	if err != nil {
		p.Error("Invalid configuration: %v", err)
		return exitFailure
	}
	p.Debug = settings.Debug || *debug
	p.Quiet = settings.Quiet || *quiet
	settings.Debug = p.Debug

	a := &app{
		ctx:      ctx,
		p:        p,
		settings: settings,
		runner: runner.New(
			runner.WithLogger(p),
			runner.WithPollInterval(settings.PollInterval),
			runner.WithKillGrace(settings.KillGrace),
		),
	}

	name, rest := fs.Arg(0), fs.Args()[1:]
	switch name {
	case "help", "-h", "--help":
		printHelp(p.Out())
		return exitOK
	case "--version":
		name = "version"
	}
	for _, c := range commands() {
		if c.name == name {
			return c.run(a, rest)
		}
	}
	p.Error("Unknown command: %s", name)
	printHelp(p.Out())
	return exitUsage
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

// flags returns a silent flag set; parse reports its errors.
func (a *app) flags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

// parse parses args and checks the positional argument count. hi < 0
// means unbounded.
func (a *app) parse(fs *flag.FlagSet, args []string, usage string, lo, hi int) bool {
	if err := fs.Parse(args); err != nil {
		a.p.Error("%s: %v", fs.Name(), err)
		a.p.Note("Usage: buildnative %s %s", fs.Name(), usage)
		return false
	}
	if fs.NArg() < lo || (hi >= 0 && fs.NArg() > hi) {
		a.p.Error("%s: wrong number of arguments", fs.Name())
		a.p.Note("Usage: buildnative %s %s", fs.Name(), usage)
		return false
	}
	return true
}

// fail reports err and returns the generic failure code.
func (a *app) fail(err error) int {
	a.p.Error("%v", err)
	return exitFailure
}

func (a *app) cmdVersion(args []string) int {
	fmt.Fprintf(a.p.Out(), "buildnative %s (%s/%s) built %s\n", version, runtime.GOOS, runtime.GOARCH, buildDate)
	return exitOK
}
