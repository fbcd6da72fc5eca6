package elfedit

import (
	"bytes"
	"debug/elf"
	"encoding/binary"
	"errors"
	"fmt"
)

var (
	// ErrMalformed is the parent of every reason a file cannot be treated
	// as a dynamically linked ELF image.
	ErrMalformed = errors.New("malformed ELF file")

	ErrTruncated   = fmt.Errorf("%w: truncated", ErrMalformed)
	ErrBadMagic    = fmt.Errorf("%w: bad magic", ErrMalformed)
	ErrBadHeader   = fmt.Errorf("%w: bad header", ErrMalformed)
	ErrOutOfBounds = fmt.Errorf("%w: offset out of bounds", ErrMalformed)
	ErrNotDynamic  = fmt.Errorf("%w: no dynamic section", ErrMalformed)
)

// dynEntry is one tag/value pair of the dynamic table.
type dynEntry struct {
	tag elf.DynTag
	val uint64
}

// image is a parsed file held entirely in memory. Every offset it records
// has been checked against len(data).
type image struct {
	data  []byte
	class elf.Class
	order binary.ByteOrder
	loads []elf.ProgHeader

	dyn    []dynEntry
	strtab uint64 // file offset
	strsz  uint64
}

func parse(data []byte) (*image, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	if !bytes.Equal(data[:4], []byte(elf.ELFMAG)) {
		return nil, ErrBadMagic
	}
	if len(data) < elf.EI_NIDENT {
		return nil, fmt.Errorf("%w: %d bytes", ErrTruncated, len(data))
	}
	var hdrSize int
	switch elf.Class(data[elf.EI_CLASS]) {
	case elf.ELFCLASS32:
		hdrSize = 52
	case elf.ELFCLASS64:
		hdrSize = 64
	default:
		return nil, fmt.Errorf("%w: unknown class %d", ErrBadHeader, data[elf.EI_CLASS])
	}
	if len(data) < hdrSize {
		return nil, fmt.Errorf("%w: %d bytes, header needs %d", ErrTruncated, len(data), hdrSize)
	}
	if err := checkTables(data); err != nil {
		return nil, err
	}

	f, err := elf.NewFile(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHeader, err)
	}
	defer f.Close()

	im := &image{data: data, class: f.Class, order: f.ByteOrder}

	var dynamic *elf.Prog
	for _, p := range f.Progs {
		switch p.Type {
		case elf.PT_LOAD:
			im.loads = append(im.loads, p.ProgHeader)
		case elf.PT_DYNAMIC:
			if dynamic == nil {
				dynamic = p
			}
		}
	}
	if dynamic == nil {
		return nil, fmt.Errorf("%w: no PT_DYNAMIC segment", ErrNotDynamic)
	}
	if !im.inBounds(dynamic.Off, dynamic.Filesz) {
		return nil, fmt.Errorf("%w: dynamic segment at %#x+%#x", ErrOutOfBounds, dynamic.Off, dynamic.Filesz)
	}
	im.readDynamic(dynamic.Off, dynamic.Filesz)

	strtabAddr, okAddr := im.lookup(elf.DT_STRTAB)
	strsz, okSize := im.lookup(elf.DT_STRSZ)
	if !okAddr || !okSize {
		return nil, fmt.Errorf("%w: no string table", ErrNotDynamic)
	}
	off, ok := im.fileOffset(strtabAddr)
	if !ok {
		return nil, fmt.Errorf("%w: string table address %#x not in any load segment", ErrOutOfBounds, strtabAddr)
	}
	if !im.inBounds(off, strsz) {
		return nil, fmt.Errorf("%w: string table at %#x+%#x", ErrOutOfBounds, off, strsz)
	}
	im.strtab, im.strsz = off, strsz
	return im, nil
}

// checkTables verifies that the program and section header tables named by
// the file header lie inside the file.
func checkTables(data []byte) error {
	var order binary.ByteOrder
	switch elf.Data(data[elf.EI_DATA]) {
	case elf.ELFDATA2LSB:
		order = binary.LittleEndian
	case elf.ELFDATA2MSB:
		order = binary.BigEndian
	default:
		return fmt.Errorf("%w: unknown data encoding %d", ErrBadHeader, data[elf.EI_DATA])
	}

	var phoff, shoff uint64
	var phentsize, phnum, shentsize, shnum uint16
	if elf.Class(data[elf.EI_CLASS]) == elf.ELFCLASS64 {
		phoff = order.Uint64(data[32:])
		shoff = order.Uint64(data[40:])
		phentsize, phnum = order.Uint16(data[54:]), order.Uint16(data[56:])
		shentsize, shnum = order.Uint16(data[58:]), order.Uint16(data[60:])
	} else {
		phoff = uint64(order.Uint32(data[28:]))
		shoff = uint64(order.Uint32(data[32:]))
		phentsize, phnum = order.Uint16(data[42:]), order.Uint16(data[44:])
		shentsize, shnum = order.Uint16(data[46:]), order.Uint16(data[48:])
	}

	n := uint64(len(data))
	within := func(off, size uint64) bool { return off <= n && size <= n-off }
	if phnum > 0 && !within(phoff, uint64(phentsize)*uint64(phnum)) {
		return fmt.Errorf("%w: program headers at %#x", ErrOutOfBounds, phoff)
	}
	if shoff != 0 && shnum > 0 && !within(shoff, uint64(shentsize)*uint64(shnum)) {
		return fmt.Errorf("%w: section headers at %#x", ErrOutOfBounds, shoff)
	}
	return nil
}

func (im *image) inBounds(off, size uint64) bool {
	n := uint64(len(im.data))
	return off <= n && size <= n-off
}

func (im *image) readDynamic(off, size uint64) {
	entSize := uint64(8)
	if im.class == elf.ELFCLASS64 {
		entSize = 16
	}
	for p := off; p+entSize <= off+size; p += entSize {
		var e dynEntry
		if im.class == elf.ELFCLASS64 {
			e.tag = elf.DynTag(int64(im.order.Uint64(im.data[p:])))
			e.val = im.order.Uint64(im.data[p+8:])
		} else {
			e.tag = elf.DynTag(int32(im.order.Uint32(im.data[p:])))
			e.val = uint64(im.order.Uint32(im.data[p+4:]))
		}
		if e.tag == elf.DT_NULL {
			return
		}
		im.dyn = append(im.dyn, e)
	}
}

func (im *image) lookup(tag elf.DynTag) (uint64, bool) {
	for _, e := range im.dyn {
		if e.tag == tag {
			return e.val, true
		}
	}
	return 0, false
}

// fileOffset maps a virtual address to a file offset through the load
// segments.
func (im *image) fileOffset(vaddr uint64) (uint64, bool) {
	for _, p := range im.loads {
		if vaddr >= p.Vaddr && vaddr-p.Vaddr < p.Filesz {
			return p.Off + (vaddr - p.Vaddr), true
		}
	}
	return 0, false
}

// str is a NUL-terminated string inside the string table.
type str struct {
	off   uint64 // file offset of the first byte
	value string
}

func (im *image) stringAt(idx uint64) (str, error) {
	if idx >= im.strsz {
		return str{}, fmt.Errorf("%w: string index %#x beyond table size %#x", ErrOutOfBounds, idx, im.strsz)
	}
	start := im.strtab + idx
	table := im.data[start : im.strtab+im.strsz]
	end := bytes.IndexByte(table, 0)
	if end < 0 {
		return str{}, fmt.Errorf("%w: unterminated string at %#x", ErrOutOfBounds, start)
	}
	return str{off: start, value: string(table[:end])}, nil
}
