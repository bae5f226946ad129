// Command nesta is the server's front end: start the listener, or send a
// loopback control command to an already-running instance. Grounded on
// original_source/src/main.c's -start/-stop/-status/-trace/-version switch
// and command.c's url_post-based client commands, reworked onto
// spf13/cobra subcommands.
package main

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/nesta-project/nesta/config"
	"github.com/nesta-project/nesta/httpcore"
	"github.com/nesta-project/nesta/internal/logger"
)

const version = "nesta/1.0"

const defaultConfFile = "./conf/nesta.conf"

func main() {
	var confFile string

	root := &cobra.Command{
		Use:           "nesta",
		Short:         "Embeddable HTTP/1.1 application server",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.PersistentFlags().StringVarP(&confFile, "f", "f", defaultConfFile, "configuration file path")

	root.AddCommand(
		startCmd(&confFile),
		stopCmd(&confFile),
		statusCmd(&confFile),
		traceCmd(&confFile),
		versionCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func startCmd(confFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "start the server in the foreground (or as a daemon per http.daemon)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStart(*confFile)
		},
	}
}

func stopCmd(confFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "stop a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControlCommand(*confFile, "stop")
		},
	}
}

func statusCmd(confFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "print worker thread status of a running server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runControlCommand(*confFile, "status")
		},
	}
}

func traceCmd(confFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "trace {on|off}",
		Short: "toggle trace logging on a running server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode := args[0]
			if mode != "on" && mode != "off" {
				return fmt.Errorf("trace mode must be \"on\" or \"off\", got %q", mode)
			}
			return runControlCommand(*confFile, "trace_"+mode)
		},
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "print the server version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintln(cmd.OutOrStdout(), version)
			return nil
		},
	}
}

// runStart loads the config (hook-API bindings resolved, startMode=true),
// optionally daemonizes and drops privileges, then runs the server until a
// terminating signal arrives. Mirrors main.c's startup()/sig_handler flow.
func runStart(confFile string) error {
	cfg, err := config.Load(confFile, true)
	if err != nil {
		return err
	}

	if err := dropPrivileges(cfg); err != nil {
		return err
	}
	if cfg.Daemonize {
		if err := daemonize(); err != nil {
			return err
		}
	}

	log := logger.New(cfg.TraceFlag)
	srv, err := httpcore.New(cfg, log)
	if err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		ctx, cancel := signalShutdownContext()
		defer cancel()
		srv.Shutdown(ctx)
	}()

	return srv.ListenAndServe()
}

// runControlCommand resolves the running instance's port from the config
// file (startMode=false — hook APIs are never loaded for client
// invocations, per config.c) and POSTs cmd=<name> to its loopback listener,
// the Go equivalent of command.c's url_post-based stop_server/status_server/
// trace_mode_server.
func runControlCommand(confFile, name string) error {
	cfg, err := config.Load(confFile, false)
	if err != nil {
		return err
	}

	url := fmt.Sprintf("http://127.0.0.1:%d/?cmd=%s", cfg.PortNo, name)
	client := &http.Client{Timeout: 5 * time.Second}
	resp, err := client.Post(url, "application/x-www-form-urlencoded", nil)
	if err != nil {
		fmt.Println("not running.")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}
