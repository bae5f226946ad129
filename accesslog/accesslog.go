// Package accesslog implements a single-writer, optionally daily-rotating
// access log. Grounded verbatim on original_source/nesta/log.c
// (log_initialize/log_write/log_finalize and its exact output format).
package accesslog

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/nesta-project/nesta/internal/logger"
)

// Entry carries what one completed request needs to produce a log line.
type Entry struct {
	PeerAddr   string
	Method     string
	URI        string
	Proto      string
	UserAgent  string
	XForwarded string
	Status     int
	Bytes      int
	Elapsed    time.Duration
	At         time.Time
}

// Writer serializes writes to the access-log file and handles daily
// rotation (log.c: log_open/log_close/set_cur_date).
type Writer struct {
	mu        sync.Mutex
	f         *os.File
	basename  string
	extname   string
	daily     bool
	curDate   string
	log       logger.Logger
	traceMode func() bool
}

// New opens (or, if fname is empty, disables) the access log. trace reports
// whether trace mode is currently on; when on, lines are echoed through the
// logger facade at debug level in addition to the file write.
func New(fname string, daily bool, log logger.Logger, traceMode func() bool) (*Writer, error) {
	w := &Writer{daily: daily, log: log, traceMode: traceMode}
	if fname == "" {
		return w, nil
	}

	if daily {
		w.curDate = currentDate()
		ext := filepath.Ext(fname)
		w.basename = strings.TrimSuffix(fname, ext)
		w.extname = ext
	} else {
		w.basename = fname
	}

	if err := w.open(); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *Writer) fileName() string {
	if w.daily {
		return fmt.Sprintf("%s_%s%s", w.basename, w.curDate, w.extname)
	}
	return w.basename
}

func (w *Writer) open() error {
	f, err := os.OpenFile(w.fileName(), os.O_WRONLY|os.O_APPEND|os.O_CREATE, 0644)
	if err != nil {
		return fmt.Errorf("access log: open %s: %w", w.fileName(), err)
	}
	w.f = f
	return nil
}

func (w *Writer) close() {
	if w.f != nil {
		w.f.Close()
		w.f = nil
	}
}

// Write appends one access-log line. A no-op if the log was never opened
// (empty access_log_fname, matching log_write's "log_fd < 0" guard).
func (w *Writer) Write(e Entry) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.f == nil && w.basename == "" {
		return
	}

	if w.daily {
		today := currentDate()
		if today != w.curDate {
			w.close()
			w.curDate = today
			if err := w.open(); err != nil {
				w.log.Errorf("access log rotation failed: %v", err)
				return
			}
		}
	}
	if w.f == nil {
		return
	}

	ip := clientIP(e.PeerAddr, e.XForwarded)
	ua := e.UserAgent
	if ua == "" {
		ua = "-"
	}

	line := fmt.Sprintf("%s [%s] \"%s %s %s\" \"%s\" %d %d %d\n",
		ip,
		e.At.Format("2006/01/02 15:04:05"),
		e.Method, e.URI, e.Proto, ua,
		e.Status, e.Bytes, e.Elapsed.Microseconds())

	if _, err := w.f.WriteString(line); err != nil {
		w.log.Errorf("access log write failed: %v", err)
	}
	if w.traceMode != nil && w.traceMode() {
		w.log.Debugf("access: %s", strings.TrimSuffix(line, "\n"))
	}
}

// Close releases the file handle.
func (w *Writer) Close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.close()
}

func currentDate() string {
	return time.Now().Format("2006-01-02")
}

// clientIP prefers the first entry of X-Forwarded-For, matching log.c's
// handling of proxied requests, falling back to the raw peer address.
func clientIP(peerAddr, forwardedFor string) string {
	if forwardedFor != "" {
		parts := strings.SplitN(forwardedFor, ",", 2)
		ip := strings.TrimSpace(parts[0])
		if ip != "" {
			return ip
		}
	}
	host, _, err := net.SplitHostPort(peerAddr)
	if err != nil {
		return peerAddr
	}
	return host
}

// HeaderUserAgent and HeaderForwardedFor are the header names Entry expects
// callers to extract before constructing an Entry, kept here so httpcore
// doesn't need to duplicate the literal strings.
const (
	HeaderUserAgent    = "User-Agent"
	HeaderForwardedFor = "X-Forwarded-For"
)
