package vfs

import (
	"errors"
	"strings"
)

// Errors returned by ValidatePath. The syscall layer maps ErrEmptyPath to
// ENOENT and the others to EINVAL.
var (
	ErrEmptyPath   = errors.New("vfs: empty path")
	ErrInvalidPath = errors.New("vfs: invalid path")
	ErrPathTooLong = errors.New("vfs: path too long")
)

// MaxPathLength matches PATH_MAX.
const MaxPathLength = 4096

// Clean turns p into the canonical absolute key used by the dentry cache.
// Relative paths are taken from the root, "." and empty components are
// dropped, and ".." stops at the root.
func Clean(p string) string {
	var parts []string
	for _, c := range strings.Split(p, "/") {
		switch c {
		case "", ".":
		case "..":
			if n := len(parts); n > 0 {
				parts = parts[:n-1]
			}
		default:
			parts = append(parts, c)
		}
	}
	return "/" + strings.Join(parts, "/")
}

// IsAbs reports whether p is resolved from the root rather than from a
// working directory.
func IsAbs(p string) bool {
	return len(p) > 0 && p[0] == '/'
}

// Abs resolves p against the working directory cwd, which is treated as
// the root when it is not absolute.
func Abs(p, cwd string) string {
	if IsAbs(p) {
		return Clean(p)
	}
	if !IsAbs(cwd) {
		cwd = "/"
	}
	return Clean(cwd + "/" + p)
}

// Split cleans p and returns its parent directory and final component. The
// root splits into "/" and "".
func Split(p string) (dir, base string) {
	p = Clean(p)
	i := strings.LastIndexByte(p, '/')
	if i == 0 {
		return "/", p[1:]
	}
	return p[:i], p[i+1:]
}

// Dir is the parent directory of p; the root is its own parent.
func Dir(p string) string {
	dir, _ := Split(p)
	return dir
}

// Base is the final component of p, used as a directory entry name. It is
// empty for the root.
func Base(p string) string {
	_, base := Split(p)
	return base
}

// Join concatenates elements and cleans the result.
func Join(elem ...string) string {
	return Clean(strings.Join(elem, "/"))
}

// ValidatePath rejects paths a user program can pass but the dentry cache
// cannot key: empty ones, ones longer than MaxPathLength and ones holding
// a NUL.
func ValidatePath(p string) error {
	switch {
	case p == "":
		return ErrEmptyPath
	case len(p) > MaxPathLength:
		return ErrPathTooLong
	case strings.IndexByte(p, 0) >= 0:
		return ErrInvalidPath
	}
	return nil
}
