package mm

import (
	"encoding/binary"
)

// MaxStrLen bounds TranslateStr.
const MaxStrLen = 4096

// TranslatedByteBuffer returns the kernel-visible slices backing
// [va, va+n) in as, split at page boundaries. want is checked against
// every page's permissions.
func TranslatedByteBuffer(as AddressSpace, va uint64, n int, want Perm) ([][]byte, error) {
	var bufs [][]byte
	for n > 0 {
		f, perm, ok := as.Translate(va)
		if !ok {
			return nil, ErrUnmapped
		}
		if !perm.Has(want) {
			return nil, ErrPermission
		}
		off := int(va % PageSize)
		chunk := PageSize - off
		if chunk > n {
			chunk = n
		}
		bufs = append(bufs, f[off:off+chunk])
		va += uint64(chunk)
		n -= chunk
	}
	return bufs, nil
}

// CopyIn reads len(dst) bytes at va.
func CopyIn(as AddressSpace, va uint64, dst []byte) error {
	bufs, err := TranslatedByteBuffer(as, va, len(dst), PermU|PermR)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		dst = dst[copy(dst, b):]
	}
	return nil
}

// CopyOut writes src at va.
func CopyOut(as AddressSpace, va uint64, src []byte) error {
	bufs, err := TranslatedByteBuffer(as, va, len(src), PermU|PermW)
	if err != nil {
		return err
	}
	for _, b := range bufs {
		src = src[copy(b, src):]
	}
	return nil
}

// TranslateStr reads a NUL-terminated string at va.
func TranslateStr(as AddressSpace, va uint64) (string, error) {
	var s []byte
	for len(s) < MaxStrLen {
		f, perm, ok := as.Translate(va)
		if !ok {
			return "", ErrUnmapped
		}
		if !perm.Has(PermU | PermR) {
			return "", ErrPermission
		}
		for off := va % PageSize; off < PageSize; off++ {
			if f[off] == 0 {
				return string(s), nil
			}
			s = append(s, f[off])
		}
		va = pageDown(va) + PageSize
	}
	return "", ErrBadRange
}

// ReadU64 reads a little-endian word at va.
func ReadU64(as AddressSpace, va uint64) (uint64, error) {
	var b [8]byte
	if err := CopyIn(as, va, b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// WriteU64 writes a little-endian word at va.
func WriteU64(as AddressSpace, va uint64, v uint64) error {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return CopyOut(as, va, b[:])
}

// WriteU32 writes a little-endian half word at va.
func WriteU32(as AddressSpace, va uint64, v uint32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return CopyOut(as, va, b[:])
}
