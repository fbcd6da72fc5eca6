package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"

	"buildnative/internal/archive"
	"buildnative/internal/digest"
	"buildnative/internal/elfedit"
	"buildnative/internal/fsops"
	"buildnative/internal/pathutil"
	"buildnative/internal/publish"
	"buildnative/internal/runner"
	"buildnative/internal/shellquote"
	"buildnative/internal/vercmp"
)

func platform(windows bool) shellquote.Platform {
	if windows {
		return shellquote.Windows
	}
	return shellquote.POSIX
}

func (a *app) cmdRun(args []string) int {
	fs := a.flags("run")
	timeout := fs.Duration("timeout", a.settings.DefaultTimeout, "kill the program after this long (0 = never)")
	dir := fs.String("dir", "", "working directory")
	verbose := fs.Bool("v", a.settings.Verbose, "echo the command and its output as it runs")
	merge := fs.Bool("merge", false, "fold stderr into stdout")
	if !a.parse(fs, args, "[-timeout d] [-dir d] [-v] [-merge] -- argv...", 1, -1) {
		return exitUsage
	}

	cmd := runner.Command{
		Args:        fs.Args(),
		Dir:         *dir,
		Timeout:     *timeout,
		Cancel:      runner.ContextCanceller{Ctx: a.ctx},
		Verbose:     *verbose,
		MergeOutput: *merge,
	}
	if !*verbose {
		cmd.OnLine = func(stream runner.Stream, line string) {
			if stream == runner.Stderr && !*merge {
				fmt.Fprintln(a.p.ErrOut(), line)
				return
			}
			fmt.Fprintln(a.p.Out(), line)
		}
	}
	res, err := a.runner.Run(cmd)
	if err != nil {
		a.p.Error("%v", err)
		if errors.Is(err, runner.ErrNotFound) {
			return exitNotFound
		}
		return exitFailure
	}
	a.p.Debugf("%s: %s in %s", fs.Arg(0), res.Status, res.Duration)

	switch res.Status {
	case runner.TimedOut:
		a.p.Error("%v", res.Err())
		return exitTimeout
	case runner.Cancelled:
		a.p.Error("%v", res.Err())
		return exitSignal
	case runner.Signaled:
		a.p.Error("%v", res.Err())
		return exitFailure
	}
	return res.ExitCode
}

func (a *app) cmdSplit(args []string) int {
	fs := a.flags("split")
	windows := fs.Bool("windows", false, "use Windows rules")
	if !a.parse(fs, args, "[-windows] line", 1, 1) {
		return exitUsage
	}
	tokens, err := shellquote.Split(fs.Arg(0), platform(*windows))
	if err != nil {
		return a.fail(err)
	}
	for _, t := range tokens {
		fmt.Fprintln(a.p.Out(), t)
	}
	return exitOK
}

func (a *app) cmdQuote(args []string) int {
	fs := a.flags("quote")
	windows := fs.Bool("windows", false, "use Windows rules")
	if !a.parse(fs, args, "[-windows] arg...", 0, -1) {
		return exitUsage
	}
	fmt.Fprintln(a.p.Out(), shellquote.Join(fs.Args(), platform(*windows)))
	return exitOK
}

func (a *app) cmdRPath(args []string) int {
	if len(args) == 0 {
		a.p.Error("rpath: missing subcommand")
		a.p.Note("Usage: buildnative rpath check FILE EXPECTED | change FILE OLD NEW | remove FILE | show FILE...")
		return exitUsage
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "check":
		if len(rest) != 2 {
			a.p.Error("Usage: buildnative rpath check FILE EXPECTED")
			return exitUsage
		}
		res, err := elfedit.Check(rest[0], rest[1])
		if err != nil {
			return a.fail(err)
		}
		fmt.Fprintf(a.p.Out(), "%s: %s\n", rest[0], res)
		if res != elfedit.Found {
			return exitFailure
		}
		return exitOK

	case "change":
		if len(rest) != 3 {
			a.p.Error("Usage: buildnative rpath change FILE OLD NEW")
			return exitUsage
		}
		out, err := elfedit.Change(rest[0], rest[1], rest[2])
		if err != nil {
			return a.fail(err)
		}
		a.p.Success("%s: %s", rest[0], out)
		return exitOK

	case "remove":
		if len(rest) != 1 {
			a.p.Error("Usage: buildnative rpath remove FILE")
			return exitUsage
		}
		out, err := elfedit.Remove(rest[0])
		if err != nil {
			return a.fail(err)
		}
		a.p.Success("%s: %s", rest[0], out)
		return exitOK

	case "show":
		if len(rest) == 0 {
			a.p.Error("Usage: buildnative rpath show FILE...")
			return exitUsage
		}
		code := exitOK
		for _, file := range rest {
			entries, err := elfedit.Entries(file)
			if err != nil {
				a.p.Error("%v", err)
				code = exitFailure
				continue
			}
			if len(entries) == 0 {
				fmt.Fprintf(a.p.Out(), "%s: no run path\n", file)
			}
			for _, e := range entries {
				fmt.Fprintf(a.p.Out(), "%s: %s=%s (capacity %d)\n", file, e.Tag, e.Value, e.Capacity)
			}
		}
		return code
	}
	a.p.Error("rpath: unknown subcommand %q", sub)
	return exitUsage
}

func (a *app) cmdSOName(args []string) int {
	fs := a.flags("soname")
	if !a.parse(fs, args, "file...", 1, -1) {
		return exitUsage
	}
	code := exitOK
	for _, file := range fs.Args() {
		name, err := elfedit.SOName(file)
		if err != nil {
			a.p.Error("%v", err)
			code = exitFailure
			continue
		}
		fmt.Fprintf(a.p.Out(), "%s: %s\n", file, name)
	}
	return code
}

func (a *app) cmdRelocate(args []string) int {
	fs := a.flags("relocate")
	jobs := fs.Int("j", a.settings.Jobs, "concurrent edits (0 = one per CPU)")
	keepTimes := fs.Bool("keep-times", false, "restore timestamps of patched files")
	if !a.parse(fs, args, "[-j n] [-keep-times] root old new", 3, 3) {
		return exitUsage
	}
	root, oldPath, newPath := fs.Arg(0), fs.Arg(1), fs.Arg(2)

	a.p.Note("Relocating %s: %s -> %s", root, oldPath, newPath)
	report, err := elfedit.RelocateTree(a.ctx, root, oldPath, newPath, elfedit.RelocateOptions{
		Jobs:      *jobs,
		KeepTimes: *keepTimes,
		Logger:    a.p,
	})
	if err != nil {
		return a.fail(err)
	}
	failed := report.Failed()
	for _, f := range failed {
		a.p.Error("%v", f.Err)
	}
	a.p.Success("%d patched, %d unchanged, %d failed", report.Count(elfedit.Patched), report.Count(elfedit.Unchanged), len(failed))
	if len(failed) > 0 {
		return exitFailure
	}
	return exitOK
}

func (a *app) cmdCopyIfDifferent(args []string) int {
	fs := a.flags("copy-if-different")
	keepTimes := fs.Bool("keep-times", false, "copy source timestamps onto the destination")
	if !a.parse(fs, args, "[-keep-times] src dst", 2, 2) {
		return exitUsage
	}
	src, dst := fs.Arg(0), fs.Arg(1)
	if info, err := os.Stat(dst); err == nil && info.IsDir() {
		dst = filepath.Join(dst, filepath.Base(src))
	}
	copied, err := fsops.CopyIfDifferent(src, dst, fsops.CopyOptions{PreserveTimes: *keepTimes})
	if err != nil {
		return a.fail(err)
	}
	if copied {
		a.p.Debugf("copied %s -> %s", src, dst)
	} else {
		a.p.Debugf("%s is up to date", dst)
	}
	return exitOK
}

func (a *app) cmdRename(args []string) int {
	fs := a.flags("rename")
	if !a.parse(fs, args, "src dst", 2, 2) {
		return exitUsage
	}
	if err := fsops.AtomicRename(fs.Arg(0), fs.Arg(1)); err != nil {
		return a.fail(err)
	}
	return exitOK
}

func (a *app) cmdHash(args []string) int {
	fs := a.flags("hash")
	str := fs.String("s", "", "hash this string instead of files")
	if !a.parse(fs, args, "[-s string] file...", 0, -1) {
		return exitUsage
	}
	if *str != "" || fs.NArg() == 0 {
		fmt.Fprintln(a.p.Out(), digest.String(*str))
		return exitOK
	}

	sums, err := digest.Files(fs.Args(), a.settings.Jobs)
	for _, file := range fs.Args() {
		if d, ok := sums[file]; ok {
			fmt.Fprintf(a.p.Out(), "%s  %s\n", d, file)
		}
	}
	if err != nil {
		return a.fail(err)
	}
	return exitOK
}

func (a *app) archiveOptions(strip int) archive.Options {
	opts := archive.Options{StripComponents: strip, Logger: a.p}
	if !a.p.Quiet {
		opts.Progress = a.p.ErrOut()
	}
	return opts
}

func (a *app) cmdTar(args []string) int {
	if len(args) == 0 {
		a.p.Error("tar: missing subcommand")
		a.p.Note("Usage: buildnative tar create [-c compression] ARCHIVE DIR | extract [-strip n] ARCHIVE DEST | list ARCHIVE")
		return exitUsage
	}
	sub, rest := args[0], args[1:]
	switch sub {
	case "create":
		fs := a.flags("tar create")
		comp := fs.String("c", "", "compression: none, gzip, bzip2, xz, zstd (default from suffix or config)")
		if !a.parse(fs, rest, "[-c compression] ARCHIVE DIR", 2, 2) {
			return exitUsage
		}
		c, err := a.compression(fs.Arg(0), *comp)
		if err != nil {
			return a.fail(err)
		}
		entries, err := archive.Collect(fs.Arg(1))
		if err != nil {
			return a.fail(err)
		}
		if err := archive.Create(entries, fs.Arg(0), c, a.archiveOptions(0)); err != nil {
			return a.fail(err)
		}
		a.p.Success("Created %s (%s, %d entries)", fs.Arg(0), c, len(entries))
		return exitOK

	case "extract":
		fs := a.flags("tar extract")
		strip := fs.Int("strip", 0, "drop this many leading path components")
		if !a.parse(fs, rest, "[-strip n] ARCHIVE DEST", 2, 2) {
			return exitUsage
		}
		if err := archive.Extract(fs.Arg(0), fs.Arg(1), a.archiveOptions(*strip)); err != nil {
			return a.fail(err)
		}
		a.p.Success("Extracted %s into %s", fs.Arg(0), fs.Arg(1))
		return exitOK

	case "list":
		fs := a.flags("tar list")
		if !a.parse(fs, rest, "ARCHIVE", 1, 1) {
			return exitUsage
		}
		entries, err := archive.List(fs.Arg(0))
		if err != nil {
			return a.fail(err)
		}
		for _, e := range entries {
			line := fmt.Sprintf("%s %10d %s %s", e.Mode, e.Size, e.ModTime.UTC().Format("2006-01-02 15:04"), e.Path)
			if e.Link != "" {
				line += " -> " + e.Link
			}
			fmt.Fprintln(a.p.Out(), line)
		}
		return exitOK
	}
	a.p.Error("tar: unknown subcommand %q", sub)
	return exitUsage
}

// compression resolves an explicit choice, then the archive suffix, then
// the configured default.
func (a *app) compression(archivePath, explicit string) (archive.Compression, error) {
	if explicit != "" {
		return archive.ParseCompression(explicit)
	}
	if c, err := archive.CompressionFromName(archivePath); err == nil {
		return c, nil
	}
	return archive.ParseCompression(a.settings.Compression)
}

func (a *app) cmdZip(args []string) int {
	if len(args) == 0 || !slices.Contains([]string{"create", "extract"}, args[0]) {
		a.p.Error("Usage: buildnative zip create ARCHIVE DIR | extract ARCHIVE DEST")
		return exitUsage
	}
	fs := a.flags("zip " + args[0])
	if !a.parse(fs, args[1:], "ARCHIVE DIR", 2, 2) {
		return exitUsage
	}
	if args[0] == "create" {
		entries, err := archive.Collect(fs.Arg(1))
		if err != nil {
			return a.fail(err)
		}
		if err := archive.CreateZip(entries, fs.Arg(0), a.archiveOptions(0)); err != nil {
			return a.fail(err)
		}
		a.p.Success("Created %s (%d entries)", fs.Arg(0), len(entries))
		return exitOK
	}
	if err := archive.ExtractZip(fs.Arg(0), fs.Arg(1), a.archiveOptions(0)); err != nil {
		return a.fail(err)
	}
	a.p.Success("Extracted %s into %s", fs.Arg(0), fs.Arg(1))
	return exitOK
}

func (a *app) cmdRelPath(args []string) int {
	fs := a.flags("relpath")
	if !a.parse(fs, args, "from to", 2, 2) {
		return exitUsage
	}
	rel, err := pathutil.Relative(fs.Arg(0), fs.Arg(1))
	if err != nil {
		return a.fail(err)
	}
	fmt.Fprintln(a.p.Out(), rel)
	return exitOK
}

func (a *app) cmdOutPath(args []string) int {
	fs := a.flags("outpath")
	windows := fs.Bool("windows", shellquote.Host() == shellquote.Windows, "emit backslash separators")
	if !a.parse(fs, args, "[-windows] path...", 1, -1) {
		return exitUsage
	}
	opts := pathutil.OutputOptions{Windows: *windows, ForceUnixPaths: a.settings.ForceUnixPaths}
	for _, p := range fs.Args() {
		fmt.Fprintln(a.p.Out(), pathutil.ToOutput(pathutil.Collapse(p), opts))
	}
	return exitOK
}

func (a *app) cmdUpload(args []string) int {
	fs := a.flags("upload")
	if !a.parse(fs, args, "file [key]", 1, 2) {
		return exitUsage
	}
	file := fs.Arg(0)
	key := filepath.Base(file)
	if fs.NArg() == 2 {
		key = fs.Arg(1)
	}

	client, err := publish.New(a.ctx, a.settings.S3, a.settings.Debug)
	if err != nil {
		return a.fail(err)
	}
	sum, err := client.UploadFile(a.ctx, key, file)
	if err != nil {
		return a.fail(err)
	}
	a.p.Success("Uploaded %s to %s (%s)", file, client.Key(key), sum)
	return exitOK
}

// cmdVerCmp exits 0 when the comparison holds and 1 when it does not.
func (a *app) cmdVerCmp(args []string) int {
	fs := a.flags("vercmp")
	if !a.parse(fs, args, "less|greater|equal a b", 3, 3) {
		return exitUsage
	}
	op, err := vercmp.ParseOp(fs.Arg(0))
	if err != nil {
		a.p.Error("vercmp: %v", err)
		return exitUsage
	}
	if !vercmp.Check(op, fs.Arg(1), fs.Arg(2)) {
		return exitFailure
	}
	return exitOK
}
