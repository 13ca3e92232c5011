// rvos boots a user program image on the simulated RISC-V kernel and
// exits with the init process's exit code.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"rvos/pkg/config"
	"rvos/pkg/klog"
	"rvos/pkg/process"
	"rvos/pkg/vfs/devfs"
)

func main() {
	configPath := flag.String("config", os.Getenv("RVOS_CONFIG"), "boot configuration (YAML)")
	flag.Parse()

	code, err := run(*configPath, flag.Args())
	if err != nil {
		fmt.Fprintf(os.Stderr, "rvos: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code & 0xff)
}

// run boots cfg.Init, or args[0] when given, with the remaining args as
// its argv tail.
func run(configPath string, args []string) (int, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return 0, err
	}
	if err := klog.Configure(klog.Options{
		Level:         cfg.Log.Level,
		Structured:    cfg.Log.Structured,
		IncludeCaller: cfg.Log.Caller,
	}); err != nil {
		return 0, err
	}
	log := klog.NamedSubLogger("rvos")

	pm := process.NewProcessManager(cfg,
		process.WithConsole(devfs.NewConsole(os.Stdin, os.Stdout, os.Stderr)))

	base := "."
	if configPath != "" {
		base = filepath.Dir(configPath)
	}
	if err := preload(pm, cfg.Files, base); err != nil {
		return 0, err
	}
	if err := mount(pm, cfg.Mounts, base); err != nil {
		return 0, err
	}

	initPath, argv := cfg.Init, cfg.InitArgs
	if len(args) > 0 {
		initPath, argv = args[0], args
	}
	if _, err := pm.Boot(initPath, argv); err != nil {
		return 0, err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	code, err := pm.Run(ctx)
	if err != nil {
		return 0, err
	}
	log.Infof("init exited with %d", code)
	return code, nil
}
