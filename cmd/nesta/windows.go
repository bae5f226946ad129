//go:build windows

package main

import (
	"context"
	"time"

	"github.com/nesta-project/nesta/config"
)

// dropPrivileges is a no-op on Windows; main.c guards the setuid/setgid
// switch with #ifndef WIN32 for the same reason.
func dropPrivileges(cfg *config.Config) error { return nil }

// daemonize is a no-op on Windows; main.c's daemon() call is POSIX-only.
func daemonize() error { return nil }

func signalShutdownContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 10*time.Second)
}
