package main

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/pkg/errors"

	"rvos/pkg/config"
	"rvos/pkg/loader/asm"
	"rvos/pkg/process"
	"rvos/pkg/vfs/diskfs"
)

// preload installs the configured files into the kernel's dentry cache.
// Host sources are read relative to base; sources ending in .s are
// assembled first.
func preload(pm *process.ProcessManager, files []config.File, base string) error {
	for _, f := range files {
		if f.Dir {
			if err := pm.Mkdir(f.Path); err != nil {
				return err
			}
			continue
		}
		data, err := contents(f, base)
		if err != nil {
			return err
		}
		if err := pm.Install(f.Path, data); err != nil {
			return err
		}
	}
	return nil
}

// mount exposes the configured host directories, resolving relative
// sources against base.
func mount(pm *process.ProcessManager, mounts []config.Mount, base string) error {
	for _, m := range mounts {
		src := m.Source
		if !filepath.IsAbs(src) {
			src = filepath.Join(base, src)
		}
		info, err := os.Stat(src)
		if err != nil {
			return errors.Wrapf(err, "mounting %s", m.Path)
		}
		if !info.IsDir() {
			return errors.Errorf("mounting %s: %s is not a directory", m.Path, src)
		}
		if err := pm.Mount(m.Path, diskfs.New(src, m.ReadOnly).Root()); err != nil {
			return err
		}
	}
	return nil
}

func contents(f config.File, base string) ([]byte, error) {
	if f.Source == "" {
		return []byte(f.Content), nil
	}
	src := f.Source
	if !filepath.IsAbs(src) {
		src = filepath.Join(base, src)
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return nil, errors.Wrapf(err, "preloading %s", f.Path)
	}
	if !strings.HasSuffix(src, ".s") {
		return data, nil
	}
	img, err := asm.Assemble(string(data))
	if err != nil {
		return nil, errors.Wrapf(err, "assembling %s", src)
	}
	return img.Encode(), nil
}
