// Package control implements loopback control commands: ordinary HTTP
// GET/POST requests, restricted to the 127.0.0.1 peer, an empty
// content-name, and exactly one query parameter named "cmd".
// Grounded verbatim on original_source/nesta/http_server.c's is_command,
// do_command, do_server_status, get_total_request, get_local_datetime.
package control

import (
	"fmt"
	"strings"
	"time"

	"github.com/nesta-project/nesta/internal/logger"
	"github.com/nesta-project/nesta/workerpool"
)

// Command names recognized by do_command.
const (
	CmdStop     = "stop"
	CmdStatus   = "status"
	CmdTraceOn  = "trace_on"
	CmdTraceOff = "trace_off"
)

// Controller executes the four loopback commands against the running
// server's shared state. Commands arrive only over the HTTP listener; the
// status report includes the worker table of each pool it was given (HTTP
// and, when configured, session relay).
type Controller struct {
	startTime time.Time
	log       logger.Logger

	shutdown func()
	setTrace func(bool)

	pools []NamedPool
}

// NamedPool pairs a worker pool with the label -status should print it
// under (do_server_status prints a single table; this server runs two
// pools — HTTP and relay — so each gets its own labeled section).
type NamedPool struct {
	Label string
	Pool  *workerpool.Pool
}

// New builds a Controller. shutdown is invoked once for "stop" (it should
// cancel the server's root context); setTrace flips the logger's level for
// "trace_on"/"trace_off".
func New(startTime time.Time, log logger.Logger, shutdown func(), setTrace func(bool), pools ...NamedPool) *Controller {
	return &Controller{startTime: startTime, log: log, shutdown: shutdown, setTrace: setTrace, pools: pools}
}

// IsCommand reports whether this request qualifies as a control command:
// peer is 127.0.0.1, the content-name (path with the leading slash
// stripped) is empty, and exactly one query parameter is present and it is
// named "cmd" (is_command's exact three-part check).
func IsCommand(peerIP, contentName string, query map[string][]string) bool {
	if peerIP != "127.0.0.1" {
		return false
	}
	if contentName != "" {
		return false
	}
	if len(query) != 1 {
		return false
	}
	_, ok := query["cmd"]
	return ok
}

// Execute runs cmd and returns the response body do_command would have
// written, or false if cmd is unrecognized (do_command's default
// send_buff = "" branch, which writes nothing and reports HTTP_OK anyway).
func (c *Controller) Execute(cmd string) (string, bool) {
	switch cmd {
	case CmdStop:
		c.shutdown()
		return "stopped.\n", true
	case CmdStatus:
		return c.status(), true
	case CmdTraceOn:
		c.setTrace(true)
		return "trace mode on.\n", true
	case CmdTraceOff:
		c.setTrace(false)
		return "trace mode off.\n", true
	default:
		return "", false
	}
}

// status renders do_server_status's table across every registered pool.
func (c *Controller) status() string {
	var b strings.Builder

	total := uint64(0)
	for _, np := range c.pools {
		for _, slot := range np.Pool.Slots() {
			total += slot.Count()
		}
	}

	fmt.Fprintf(&b, "start %s  total %d requests.\n\n", c.startTime.Format("2006/01/02 15:04:05"), total)

	for _, np := range c.pools {
		fmt.Fprintf(&b, "[%s thread info]\n", np.Label)
		b.WriteString("   No status last-access              count\n")
		b.WriteString("----- ------ ------------------- ----------\n")

		for _, slot := range np.Pool.Slots() {
			status := slot.StatusForDisplay().String()
			lastAccess := "N/A"
			if slot.State() != workerpool.StateUnused && slot.LastAccessMicro() > 0 {
				lastAccess = time.UnixMicro(slot.LastAccessMicro()).Format("2006/01/02 15:04:05")
			}
			countStr := "         -"
			if slot.State() != workerpool.StateUnused {
				countStr = fmt.Sprintf("%10d", slot.Count())
			}
			fmt.Fprintf(&b, "%5d %-6s %-19s %s\n", slot.No+1, status, lastAccess, countStr)
		}
		b.WriteString("\n")
	}

	return b.String()
}
