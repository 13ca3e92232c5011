// Package loader parses executable images and maps them into a fresh
// address space. It is the kernel's view of the image-loading collaborator:
// parse the bytes into loadable segments and an entry point, and refuse
// anything malformed with ErrFormat so that exec can fail the calling
// process instead of the kernel.
//
// Images use the RVX format:
//
//	magic   [4]byte  "RVX\x01"
//	entry   uint64
//	nseg    uint32
//	_       uint32
//	nseg times:
//	  vaddr   uint64
//	  memsz   uint64
//	  filesz  uint64
//	  perm    uint32   mm.Perm bits
//	  _       uint32
//	  data    [filesz]byte
//
// All integers are little-endian.
package loader

import (
	"bytes"
	"encoding/binary"

	"github.com/pkg/errors"

	"rvos/pkg/mm"
)

// ErrFormat is returned for images that cannot be parsed.
var ErrFormat = errors.New("loader: bad image format")

// Magic starts every image.
var Magic = [4]byte{'R', 'V', 'X', 1}

const (
	headerSize     = 20
	segHeaderSize  = 32
	maxSegments    = 16
	maxSegmentSize = 64 << 20
)

// Segment is one loadable region.
type Segment struct {
	Vaddr   uint64
	MemSize uint64
	Perm    mm.Perm
	Data    []byte
}

// Image is a parsed executable.
type Image struct {
	Entry    uint64
	Segments []Segment
}

// Parse decodes an RVX image.
func Parse(b []byte) (*Image, error) {
	if len(b) < headerSize || !bytes.Equal(b[:4], Magic[:]) {
		return nil, errors.Wrap(ErrFormat, "missing magic")
	}
	le := binary.LittleEndian
	img := &Image{Entry: le.Uint64(b[4:])}
	nseg := le.Uint32(b[12:])
	if nseg == 0 || nseg > maxSegments {
		return nil, errors.Wrapf(ErrFormat, "segment count %d", nseg)
	}
	rest := b[headerSize:]
	for i := uint32(0); i < nseg; i++ {
		if len(rest) < segHeaderSize {
			return nil, errors.Wrapf(ErrFormat, "segment %d: truncated header", i)
		}
		seg := Segment{
			Vaddr:   le.Uint64(rest[0:]),
			MemSize: le.Uint64(rest[8:]),
			Perm:    mm.Perm(le.Uint32(rest[24:])),
		}
		filesz := le.Uint64(rest[16:])
		rest = rest[segHeaderSize:]
		if seg.MemSize == 0 || seg.MemSize > maxSegmentSize || filesz > seg.MemSize {
			return nil, errors.Wrapf(ErrFormat, "segment %d: sizes filesz=%d memsz=%d", i, filesz, seg.MemSize)
		}
		if uint64(len(rest)) < filesz {
			return nil, errors.Wrapf(ErrFormat, "segment %d: truncated data", i)
		}
		seg.Data = rest[:filesz]
		rest = rest[filesz:]
		img.Segments = append(img.Segments, seg)
	}
	if !img.entryExecutable() {
		return nil, errors.Wrapf(ErrFormat, "entry %#x is not in an executable segment", img.Entry)
	}
	return img, nil
}

func (img *Image) entryExecutable() bool {
	for _, s := range img.Segments {
		if s.Perm.Has(mm.PermX) && img.Entry >= s.Vaddr && img.Entry < s.Vaddr+s.MemSize {
			return true
		}
	}
	return false
}

// Encode returns the RVX bytes for img.
func (img *Image) Encode() []byte {
	le := binary.LittleEndian
	b := make([]byte, headerSize)
	copy(b, Magic[:])
	le.PutUint64(b[4:], img.Entry)
	le.PutUint32(b[12:], uint32(len(img.Segments)))
	for _, s := range img.Segments {
		var h [segHeaderSize]byte
		le.PutUint64(h[0:], s.Vaddr)
		le.PutUint64(h[8:], s.MemSize)
		le.PutUint64(h[16:], uint64(len(s.Data)))
		le.PutUint32(h[24:], uint32(s.Perm))
		b = append(b, h[:]...)
		b = append(b, s.Data...)
	}
	return b
}

// End returns the first page-aligned address above every segment.
func (img *Image) End() uint64 {
	var end uint64
	for _, s := range img.Segments {
		if e := s.Vaddr + s.MemSize; e > end {
			end = e
		}
	}
	return (end + mm.PageSize - 1) &^ (mm.PageSize - 1)
}

// Load maps every segment of img into as and copies its file data.
func (img *Image) Load(as mm.AddressSpace) error {
	for i, s := range img.Segments {
		if err := as.InsertMappedRegion(s.Vaddr, s.Vaddr+s.MemSize, s.Perm|mm.PermU); err != nil {
			return errors.Wrapf(ErrFormat, "segment %d: %v", i, err)
		}
		// Kernel-side copy: segment permissions do not apply.
		bufs, err := mm.TranslatedByteBuffer(as, s.Vaddr, len(s.Data), 0)
		if err != nil {
			return errors.Wrapf(err, "segment %d", i)
		}
		data := s.Data
		for _, b := range bufs {
			data = data[copy(b, data):]
		}
	}
	return nil
}
