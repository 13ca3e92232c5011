package abi

import "encoding/binary"

// Dirent64 is one linux_dirent64 record.
type Dirent64 struct {
	Ino  uint64
	Off  int64
	Type uint8
	Name string
}

// Directory entry types.
const (
	DT_UNKNOWN = 0
	DT_FIFO    = 1
	DT_CHR     = 2
	DT_DIR     = 4
	DT_REG     = 8
)

const direntHeaderSize = 19 // ino(8) + off(8) + reclen(2) + type(1)

// RecLen returns the encoded size of d, name terminator and 8-byte
// alignment included.
func (d *Dirent64) RecLen() int {
	n := direntHeaderSize + len(d.Name) + 1
	return (n + 7) &^ 7
}

// AppendTo appends the encoded record to b.
func (d *Dirent64) AppendTo(b []byte) []byte {
	reclen := d.RecLen()
	start := len(b)
	b = append(b, make([]byte, reclen)...)
	rec := b[start:]
	binary.LittleEndian.PutUint64(rec[0:], d.Ino)
	binary.LittleEndian.PutUint64(rec[8:], uint64(d.Off))
	binary.LittleEndian.PutUint16(rec[16:], uint16(reclen))
	rec[18] = d.Type
	copy(rec[direntHeaderSize:], d.Name)
	return b
}

// Stat is the riscv64 struct stat.
type Stat struct {
	Dev     uint64
	Ino     uint64
	Mode    uint32
	Nlink   uint32
	UID     uint32
	GID     uint32
	Rdev    uint64
	Size    int64
	Blksize int32
	Blocks  int64
	Atime   Timespec
	Mtime   Timespec
	Ctime   Timespec
}

// Timespec is a seconds/nanoseconds pair.
type Timespec struct {
	Sec  int64
	Nsec int64
}

// StatSize is the encoded size of Stat.
const StatSize = 128

// File mode type bits.
const (
	S_IFIFO = 0o010000
	S_IFCHR = 0o020000
	S_IFDIR = 0o040000
	S_IFREG = 0o100000
)

// Encode returns the 128-byte wire form of s.
func (s *Stat) Encode() []byte {
	b := make([]byte, StatSize)
	le := binary.LittleEndian
	le.PutUint64(b[0:], s.Dev)
	le.PutUint64(b[8:], s.Ino)
	le.PutUint32(b[16:], s.Mode)
	le.PutUint32(b[20:], s.Nlink)
	le.PutUint32(b[24:], s.UID)
	le.PutUint32(b[28:], s.GID)
	le.PutUint64(b[32:], s.Rdev)
	// 8 bytes of padding at 40
	le.PutUint64(b[48:], uint64(s.Size))
	le.PutUint32(b[56:], uint32(s.Blksize))
	// 4 bytes of padding at 60
	le.PutUint64(b[64:], uint64(s.Blocks))
	le.PutUint64(b[72:], uint64(s.Atime.Sec))
	le.PutUint64(b[80:], uint64(s.Atime.Nsec))
	le.PutUint64(b[88:], uint64(s.Mtime.Sec))
	le.PutUint64(b[96:], uint64(s.Mtime.Nsec))
	le.PutUint64(b[104:], uint64(s.Ctime.Sec))
	le.PutUint64(b[112:], uint64(s.Ctime.Nsec))
	return b
}

// Tms is the struct filled by times, in clock ticks.
type Tms struct {
	Utime  int64
	Stime  int64
	Cutime int64
	Cstime int64
}

// Encode returns the 32-byte wire form of t.
func (t *Tms) Encode() []byte {
	b := make([]byte, 32)
	le := binary.LittleEndian
	le.PutUint64(b[0:], uint64(t.Utime))
	le.PutUint64(b[8:], uint64(t.Stime))
	le.PutUint64(b[16:], uint64(t.Cutime))
	le.PutUint64(b[24:], uint64(t.Cstime))
	return b
}
