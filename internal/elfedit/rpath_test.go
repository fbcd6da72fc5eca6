package elfedit

import (
	"context"
	"debug/elf"
	"encoding/binary"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"buildnative/internal/digest"
)

// fixture describes a minimal dynamically linked ELF image: one PT_LOAD
// covering the whole file, one PT_DYNAMIC, a string table and no section
// headers.
type fixture struct {
	is64    bool
	big     bool
	rpath   string
	runpath string
	soname  string

	noDynamic  bool
	strszExtra uint64 // inflates DT_STRSZ past the end of the file
	badClass   bool
}

const baseAddr = 0x400000

func (fx fixture) build() []byte {
	var order binary.ByteOrder = binary.LittleEndian
	if fx.big {
		order = binary.BigEndian
	}
	ehsize, phentsize, dynent := 52, 32, 8
	if fx.is64 {
		ehsize, phentsize, dynent = 64, 56, 16
	}

	// string table
	strtab := []byte{0}
	add := func(s string) uint64 {
		off := uint64(len(strtab))
		strtab = append(strtab, s...)
		strtab = append(strtab, 0)
		return off
	}
	type dyn struct {
		tag elf.DynTag
		val uint64
	}
	var dyns []dyn
	if fx.soname != "" {
		dyns = append(dyns, dyn{elf.DT_SONAME, add(fx.soname)})
	}
	if fx.rpath != "" {
		dyns = append(dyns, dyn{elf.DT_RPATH, add(fx.rpath)})
	}
	if fx.runpath != "" {
		dyns = append(dyns, dyn{elf.DT_RUNPATH, add(fx.runpath)})
	}
	add("libc.so.6")

	phnum := 2
	if fx.noDynamic {
		phnum = 1
	}
	strOff := ehsize + phnum*phentsize
	dynOff := (strOff + len(strtab) + 7) &^ 7
	dyns = append([]dyn{
		{elf.DT_STRTAB, baseAddr + uint64(strOff)},
		{elf.DT_STRSZ, uint64(len(strtab)) + fx.strszExtra},
	}, dyns...)
	dyns = append(dyns, dyn{elf.DT_NULL, 0})
	size := dynOff + len(dyns)*dynent

	buf := make([]byte, size)
	copy(buf, elf.ELFMAG)
	buf[elf.EI_CLASS] = byte(elf.ELFCLASS32)
	if fx.is64 {
		buf[elf.EI_CLASS] = byte(elf.ELFCLASS64)
	}
	if fx.badClass {
		buf[elf.EI_CLASS] = 9
	}
	buf[elf.EI_DATA] = byte(elf.ELFDATA2LSB)
	if fx.big {
		buf[elf.EI_DATA] = byte(elf.ELFDATA2MSB)
	}
	buf[elf.EI_VERSION] = byte(elf.EV_CURRENT)

	order.PutUint16(buf[16:], uint16(elf.ET_DYN))
	if fx.is64 {
		order.PutUint16(buf[18:], uint16(elf.EM_X86_64))
		order.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
		order.PutUint64(buf[32:], uint64(ehsize)) // phoff
		order.PutUint16(buf[52:], uint16(ehsize))
		order.PutUint16(buf[54:], uint16(phentsize))
		order.PutUint16(buf[56:], uint16(phnum))
	} else {
		order.PutUint16(buf[18:], uint16(elf.EM_386))
		order.PutUint32(buf[20:], uint32(elf.EV_CURRENT))
		order.PutUint32(buf[28:], uint32(ehsize))
		order.PutUint16(buf[40:], uint16(ehsize))
		order.PutUint16(buf[42:], uint16(phentsize))
		order.PutUint16(buf[44:], uint16(phnum))
	}

	putPhdr := func(i int, typ elf.ProgType, off, filesz uint64) {
		p := buf[ehsize+i*phentsize:]
		vaddr := baseAddr + off
		if fx.is64 {
			order.PutUint32(p[0:], uint32(typ))
			order.PutUint32(p[4:], uint32(elf.PF_R))
			order.PutUint64(p[8:], off)
			order.PutUint64(p[16:], vaddr)
			order.PutUint64(p[24:], vaddr)
			order.PutUint64(p[32:], filesz)
			order.PutUint64(p[40:], filesz)
			order.PutUint64(p[48:], 8)
		} else {
			order.PutUint32(p[0:], uint32(typ))
			order.PutUint32(p[4:], uint32(off))
			order.PutUint32(p[8:], uint32(vaddr))
			order.PutUint32(p[12:], uint32(vaddr))
			order.PutUint32(p[16:], uint32(filesz))
			order.PutUint32(p[20:], uint32(filesz))
			order.PutUint32(p[24:], uint32(elf.PF_R))
			order.PutUint32(p[28:], 4)
		}
	}
	putPhdr(0, elf.PT_LOAD, 0, uint64(size))
	if !fx.noDynamic {
		putPhdr(1, elf.PT_DYNAMIC, uint64(dynOff), uint64(len(dyns)*dynent))
	}

	copy(buf[strOff:], strtab)
	for i, d := range dyns {
		p := buf[dynOff+i*dynent:]
		if fx.is64 {
			order.PutUint64(p[0:], uint64(d.tag))
			order.PutUint64(p[8:], d.val)
		} else {
			order.PutUint32(p[0:], uint32(d.tag))
			order.PutUint32(p[4:], uint32(d.val))
		}
	}
	return buf
}

func writeFixture(t *testing.T, fx fixture) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "libfoo.so.1")
	require.NoError(t, os.WriteFile(path, fx.build(), 0o755))
	return path
}

func fileDigest(t *testing.T, path string) digest.Digest {
	t.Helper()
	d, err := digest.File(path)
	require.NoError(t, err)
	return d
}

var layouts = []struct {
	name string
	is64 bool
	big  bool
}{
	{"elf32-le", false, false},
	{"elf32-be", false, true},
	{"elf64-le", true, false},
	{"elf64-be", true, true},
}

func TestChangeThenCheck(t *testing.T) {
	for _, l := range layouts {
		for _, runpath := range []bool{false, true} {
			name := l.name + "-rpath"
			fx := fixture{is64: l.is64, big: l.big, soname: "libfoo.so.1"}
			if runpath {
				name = l.name + "-runpath"
				fx.runpath = "/opt/old/lib:/usr/lib"
			} else {
				fx.rpath = "/opt/old/lib:/usr/lib"
			}
			t.Run(name, func(t *testing.T) {
				path := writeFixture(t, fx)

				out, err := Change(path, "/opt/old/lib", "/opt/new")
				require.NoError(t, err)
				require.Equal(t, Patched, out)
				got, err := RPath(path)
				require.NoError(t, err)
				assert.Equal(t, "/opt/new:/usr/lib", got)

				for expected, want := range map[string]CheckResult{
					"/opt/new":          Found,
					"/usr/lib":          Found,
					"/opt/new:/usr/lib": Found,
					"/usr":              Mismatch,
					"/usr/lib:/opt/new": Mismatch,
					"/opt/old/lib":      Mismatch,
					"":                  Mismatch,
				} {
					res, err := Check(path, expected)
					assert.NoError(t, err, expected)
					assert.Equal(t, want, res, "Check(%q)", expected)
				}

				soname, err := SOName(path)
				require.NoError(t, err)
				assert.Equal(t, "libfoo.so.1", soname)
				info, err := os.Stat(path)
				require.NoError(t, err)
				assert.Equal(t, fs.FileMode(0o755), info.Mode().Perm())

				before := fileDigest(t, path)
				out, err = Change(path, "/opt/old/lib", "/opt/new")
				require.NoError(t, err)
				assert.Equal(t, Unchanged, out)
				assert.True(t, fileDigest(t, path).Equal(before), "file rewritten on an unchanged edit")
			})
		}
	}
}

func TestChangeWholeValue(t *testing.T) {
	path := writeFixture(t, fixture{is64: true, rpath: "/a/lib:/c/lib"})
	out, err := Change(path, "", "/b")
	require.NoError(t, err)
	require.Equal(t, Patched, out)

	got, _ := RPath(path)
	assert.Equal(t, "/b", got)
	data, _ := os.ReadFile(path)
	assert.NotContains(t, string(data), "/c/lib", "old bytes left after the new value")
	_, err = SOName(path)
	assert.ErrorIs(t, err, ErrNoSOName)
}

func TestChangeNoRoomLeavesFileUntouched(t *testing.T) {
	path := writeFixture(t, fixture{is64: true, rpath: "/a"})
	before := fileDigest(t, path)

	out, err := Change(path, "/a", "/a/much/longer/path")
	assert.Equal(t, Rejected, out)
	assert.ErrorIs(t, err, ErrNoRoom)
	assert.ErrorIs(t, err, ErrRejected)
	assert.True(t, fileDigest(t, path).Equal(before), "file modified by a rejected edit")

	entries, _ := os.ReadDir(filepath.Dir(path))
	assert.Len(t, entries, 1, "temporary file left behind")
}

func TestChangeOldMismatch(t *testing.T) {
	path := writeFixture(t, fixture{rpath: "/usr/local/lib"})
	before := fileDigest(t, path)
	for _, old := range []string{"/opt", "/usr/local"} {
		out, err := Change(path, old, "/x")
		assert.Equal(t, Rejected, out, old)
		assert.ErrorIs(t, err, ErrOldMismatch, old)
	}
	assert.True(t, fileDigest(t, path).Equal(before), "file modified by a rejected edit")
}

func TestRemove(t *testing.T) {
	for _, l := range layouts {
		t.Run(l.name, func(t *testing.T) {
			path := writeFixture(t, fixture{is64: l.is64, big: l.big, rpath: "/opt/old/lib", soname: "libfoo.so.1"})
			out, err := Remove(path)
			require.NoError(t, err)
			require.Equal(t, Removed, out)

			res, err := Check(path, "/opt/old/lib")
			require.NoError(t, err)
			assert.Equal(t, Missing, res)
			res, _ = Check(path, "")
			assert.Equal(t, Found, res)

			data, _ := os.ReadFile(path)
			assert.NotContains(t, string(data), "/opt/old/lib")
			soname, err := SOName(path)
			require.NoError(t, err, "neighbouring string damaged")
			assert.Equal(t, "libfoo.so.1", soname)

			out, err = Remove(path)
			require.NoError(t, err)
			assert.Equal(t, NotPresent, out)
		})
	}
}

func TestMalformedClassification(t *testing.T) {
	dir := t.TempDir()
	write := func(name string, data []byte) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, data, 0o644))
		return p
	}
	valid := fixture{is64: true, rpath: "/x"}.build()
	badMagic := append([]byte(nil), valid...)
	badMagic[3] = 'X'

	cases := []struct {
		name string
		path string
		want error
	}{
		{"empty", write("empty", nil), ErrTruncated},
		{"bad magic", write("magic", badMagic), ErrBadMagic},
		{"short header", write("short", valid[:30]), ErrTruncated},
		{"bad class", write("class", fixture{is64: true, rpath: "/x", badClass: true}.build()), ErrBadHeader},
		{"no dynamic", write("static", fixture{is64: true, noDynamic: true}.build()), ErrNotDynamic},
		{"string table out of bounds", write("oob", fixture{is64: true, rpath: "/x", strszExtra: 4096}.build()), ErrOutOfBounds},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := Check(tc.path, "/x")
			assert.Equal(t, Malformed, res)
			require.ErrorIs(t, err, tc.want)
			require.ErrorIs(t, err, ErrMalformed)
			for _, other := range []error{ErrTruncated, ErrBadMagic, ErrBadHeader, ErrOutOfBounds, ErrNotDynamic} {
				if other != tc.want {
					assert.NotErrorIs(t, err, other)
				}
			}

			out, err := Change(tc.path, "", "/y")
			assert.Equal(t, Rejected, out)
			assert.ErrorIs(t, err, tc.want)
		})
	}

	noRPath := write("norpath", fixture{is64: true, soname: "libbar.so"}.build())
	res, err := Check(noRPath, "/x")
	require.NoError(t, err)
	assert.Equal(t, Missing, res)

	out, err := Change(noRPath, "", "/x")
	assert.Equal(t, Rejected, out)
	assert.ErrorIs(t, err, ErrNoRPath)
	assert.NotErrorIs(t, err, ErrMalformed)

	out, err = Remove(noRPath)
	require.NoError(t, err)
	assert.Equal(t, NotPresent, out)
}

func TestInconsistentEntries(t *testing.T) {
	path := writeFixture(t, fixture{is64: true, rpath: "/a", runpath: "/b"})
	out, err := Change(path, "", "/c")
	assert.Equal(t, Rejected, out)
	assert.ErrorIs(t, err, ErrInconsistent)
	res, _ := Check(path, "/a")
	assert.Equal(t, Mismatch, res)

	same := writeFixture(t, fixture{is64: true, rpath: "/lib/x", runpath: "/lib/x"})
	out, err = Change(same, "/lib/x", "/y")
	require.NoError(t, err)
	assert.Equal(t, Patched, out)
	entries, err := Entries(same)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	for _, e := range entries {
		assert.Equal(t, "/y", e.Value, e.Tag)
	}
}

func TestRelocateTree(t *testing.T) {
	root := t.TempDir()
	mustWrite := func(rel string, data []byte) string {
		p := filepath.Join(root, rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, data, 0o755))
		return p
	}
	lib := mustWrite("lib/libfoo.so", fixture{is64: true, runpath: "/build/tree/lib:/usr/lib"}.build())
	bin := mustWrite("bin/tool", fixture{is64: true, rpath: "/build/tree/lib"}.build())
	mustWrite("bin/static", fixture{is64: true, noDynamic: true}.build())
	mustWrite("share/readme.txt", []byte("not an ELF file"))

	old := time.Date(2020, 2, 2, 2, 2, 2, 0, time.UTC)
	require.NoError(t, os.Chtimes(bin, old, old))

	report, err := RelocateTree(context.Background(), root, "/build/tree/lib", "/opt/lib", RelocateOptions{Jobs: 2, KeepTimes: true})
	require.NoError(t, err)
	require.Len(t, report.Files, 3)
	assert.Equal(t, 2, report.Count(Patched))
	assert.Empty(t, report.Failed())

	got, _ := RPath(lib)
	assert.Equal(t, "/opt/lib:/usr/lib", got)
	info, err := os.Stat(bin)
	require.NoError(t, err)
	assert.True(t, info.ModTime().Equal(old), "mtime not kept: %v", info.ModTime())
}

func TestRelocateTreeCancelled(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.so"), fixture{is64: true, rpath: "/x"}.build(), 0o755))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := RelocateTree(ctx, root, "/x", "/y", RelocateOptions{})
	require.ErrorIs(t, err, context.Canceled)
	got, _ := RPath(filepath.Join(root, "a.so"))
	assert.Equal(t, "/x", got, "file patched after cancel")
}

func TestFindAligned(t *testing.T) {
	cases := []struct {
		list, sub string
		want      int
	}{
		{"/a:/b:/c", "/b", 3},
		{"/a:/b:/c", "/a:/b", 0},
		{"/a:/b:/c", "/c", 6},
		{"/ab:/b", "/b", 4},
		{"/a:/b", "/a:/c", -1},
		{"/lib64", "/lib", -1},
		{"/x", "/x", 0},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, findAligned(tc.list, tc.sub), "findAligned(%q, %q)", tc.list, tc.sub)
	}
}
