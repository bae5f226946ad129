//go:build !windows

package main

import (
	"context"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"syscall"
	"time"

	"github.com/nesta-project/nesta/config"
)

// dropPrivileges switches to cfg.Username when running as root, mirroring
// main.c's getuid()==0 branch: refuses to start as root without a
// configured username, and fails the same way setuid/setgid would.
func dropPrivileges(cfg *config.Config) error {
	if os.Getuid() != 0 {
		return nil
	}
	if cfg.Username == "" {
		return fmt.Errorf("can't run as root, please set http.username")
	}

	u, err := user.Lookup(cfg.Username)
	if err != nil {
		return fmt.Errorf("can't find the user %s: %w", cfg.Username, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return err
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return err
	}
	if err := syscall.Setgid(gid); err != nil {
		return fmt.Errorf("change group failed, %s: %w", cfg.Username, err)
	}
	if err := syscall.Setuid(uid); err != nil {
		return fmt.Errorf("change user failed, %s: %w", cfg.Username, err)
	}
	return nil
}

// daemonize detaches the process from its controlling terminal by
// re-executing itself with stdio redirected to /dev/null and setsid in a
// forked child, the POSIX equivalent of main.c's daemon(0, 0) call,
// controlled by the http.daemon directive.
func daemonize() error {
	if os.Getppid() == 1 {
		// Already reparented to init; treat as already daemonized.
		return nil
	}

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer devNull.Close()

	attr := &os.ProcAttr{
		Files: []*os.File{devNull, devNull, devNull},
		Sys:   &syscall.SysProcAttr{Setsid: true},
	}
	proc, err := os.StartProcess(os.Args[0], os.Args, attr)
	if err != nil {
		return fmt.Errorf("daemon() error: %w", err)
	}
	proc.Release()
	os.Exit(0)
	return nil
}

// signalShutdownContext bounds how long a SIGINT/SIGTERM-triggered
// shutdown waits for in-flight workers before main() returns anyway.
func signalShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
