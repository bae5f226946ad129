// Package config implements the server's directive-file format: a
// line-based "name=value" grammar with "#" comments and recursive
// "include", resolving ZONE.* directives by longest dotted-prefix match
// the way original_source/nesta/config.c's get_appzone() does. Parsing is
// single-pass; config.c's count-only pre-scan existed only to size fixed
// C arrays and has no Go equivalent (see DESIGN.md).
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/nesta-project/nesta/internal/apperror"
)

// Defaults mirror http_server.h's DEFAULT_* constants.
const (
	DefaultPort                      = 8080
	DefaultBacklog                   = 50
	DefaultWorkerThreads              = 10
	DefaultWorkerThreadTimeout        = 600
	DefaultWorkerThreadCheckInterval  = 1800
	DefaultKeepAliveTimeout           = 3
	DefaultKeepAliveRequests          = 5
	DefaultSessionRelayPort           = 9080
	DefaultSessionRelayBacklog        = 5
	DefaultSessionRelayWorkerThreads  = 1
	DefaultSessionRelayCheckInterval  = 300

	MaxHostname    = 256
	MaxCopyPeers   = 8
	ZoneCapacity   = 20
)

const includeDirective = "include"

// CopyPeer is one entry of http.session_relay.copy.host/.port.
type CopyPeer struct {
	Host string `validate:"required,max=256"`
	Port uint16
}

// Config is the fully parsed, validated configuration. It is built once
// at startup and immutable thereafter.
type Config struct {
	Daemonize bool
	Username  string

	PortNo  uint16 `validate:"lte=65535"`
	Backlog int    `validate:"gte=1"`

	WorkerThreads             int `validate:"gte=1"`
	ExtendWorkerThreads       int `validate:"gte=0"`
	WorkerThreadTimeout       int `validate:"gte=0"`
	WorkerThreadCheckInterval int `validate:"gte=0"`

	KeepAliveTimeout  int `validate:"gte=0"`
	KeepAliveRequests int `validate:"gte=0"`

	DocumentRoot string `validate:"required"`

	AccessLogFname string
	DailyLogFlag   bool

	FileCacheSize int64 `validate:"gte=0"`

	ErrorFile  string
	OutputFile string

	TraceFlag bool

	SessionRelayHost          string
	SessionRelayPort          uint16
	SessionRelayBacklog       int
	SessionRelayWorkerThreads int
	SessionRelayCheckInterval int
	SessionRelayCopy          []CopyPeer

	Zones     map[string]*Zone
	zoneOrder []string

	UserParams map[string]string
}

// MinWorkerThreads / MaxWorkerThreads correspond to http_conf_t's
// (not-a-parameter) min/max fields: N0 and N0+extend_worker_thread.
func (c *Config) MinWorkerThreads() int { return c.WorkerThreads }
func (c *Config) MaxWorkerThreads() int { return c.WorkerThreads + c.ExtendWorkerThreads }

// IsSessionRelay mirrors the is_session_relay() macro: the relay listener is
// active only once both a host and a port are configured.
func (c *Config) IsSessionRelay() bool {
	return c.SessionRelayHost != "" && c.SessionRelayPort > 0
}

// ZoneList returns zones in declaration order (used by httpcore.New to set
// up the session zones; config.c appends to a vector, so order is
// preserved there too).
func (c *Config) ZoneList() []*Zone {
	out := make([]*Zone, 0, len(c.zoneOrder))
	for _, name := range c.zoneOrder {
		out = append(out, c.Zones[name])
	}
	return out
}

func newConfig() *Config {
	return &Config{
		PortNo:                    DefaultPort,
		Backlog:                   DefaultBacklog,
		WorkerThreads:             DefaultWorkerThreads,
		WorkerThreadTimeout:       DefaultWorkerThreadTimeout,
		WorkerThreadCheckInterval: DefaultWorkerThreadCheckInterval,
		KeepAliveTimeout:          DefaultKeepAliveTimeout,
		KeepAliveRequests:         DefaultKeepAliveRequests,
		SessionRelayPort:          0,
		SessionRelayBacklog:       DefaultSessionRelayBacklog,
		SessionRelayWorkerThreads: DefaultSessionRelayWorkerThreads,
		SessionRelayCheckInterval: DefaultSessionRelayCheckInterval,
		Zones:                     make(map[string]*Zone),
		UserParams:                make(map[string]string),
	}
}

// Load parses fname (and any files it includes) and returns a validated
// Config. startMode controls whether ZONE.api/.init_api/.term_api bindings
// are resolved (config.c only loads hook APIs when starting the server, not
// for -stop/-status/-trace client invocations).
func Load(fname string, startMode bool) (*Config, error) {
	c := newConfig()
	if err := c.parseFile(fname, startMode); err != nil {
		return nil, err
	}

	v := validator.New()
	if err := v.Struct(c); err != nil {
		return nil, apperror.Wrap(apperror.ConfigError, "invalid configuration", err)
	}
	if c.ExtendWorkerThreads < 0 {
		return nil, apperror.New(apperror.ConfigError, "http.extend_worker_thread must be >= 0")
	}
	return c, nil
}

func (c *Config) parseFile(fname string, startMode bool) error {
	abs, err := filepath.Abs(fname)
	if err != nil {
		return apperror.Wrap(apperror.ConfigError, "resolve config path", err)
	}

	f, err := os.Open(abs)
	if err != nil {
		return apperror.Wrap(apperror.ConfigError, fmt.Sprintf("open config file %s", fname), err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Text()

		if idx := strings.IndexByte(line, '#'); idx >= 0 {
			line = line[:idx]
			if strings.TrimSpace(line) == "" {
				continue
			}
		}

		idx := strings.IndexByte(line, '=')
		if idx <= 0 {
			continue
		}
		name := strings.TrimSpace(line[:idx])
		value := strings.TrimSpace(line[idx+1:])
		if name == "" {
			continue
		}

		if err := c.applyDirective(name, value, startMode, filepath.Dir(abs)); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return apperror.Wrap(apperror.ConfigError, "read config file", err)
	}
	return nil
}

func (c *Config) applyDirective(name, value string, startMode bool, baseDir string) error {
	lname := strings.ToLower(name)

	switch lname {
	case "http.document_root":
		c.DocumentRoot = resolvePath(baseDir, value)
		return nil
	case "http.port_no":
		return c.setUint16(&c.PortNo, value, name)
	case "http.backlog":
		return c.setInt(&c.Backlog, value, name)
	case "http.worker_thread":
		return c.setInt(&c.WorkerThreads, value, name)
	case "http.extend_worker_thread":
		return c.setInt(&c.ExtendWorkerThreads, value, name)
	case "http.worker_thread_timeout":
		return c.setInt(&c.WorkerThreadTimeout, value, name)
	case "http.worker_thread_check_interval":
		return c.setInt(&c.WorkerThreadCheckInterval, value, name)
	case "http.keep_alive_timeout":
		return c.setInt(&c.KeepAliveTimeout, value, name)
	case "http.keep_alive_requests":
		return c.setInt(&c.KeepAliveRequests, value, name)
	case "http.daemon":
		c.Daemonize = value != "0" && strings.ToLower(value) != "false"
		return nil
	case "http.username":
		c.Username = value
		return nil
	case "http.file_cache_size":
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return apperror.Wrap(apperror.ConfigError, fmt.Sprintf("parameter value invalid: %s=%s", name, value), err)
		}
		c.FileCacheSize = n * 1024
		return nil
	case "http.access_log_fname":
		c.AccessLogFname = resolvePath(baseDir, value)
		return nil
	case "http.daily_log_flag":
		c.DailyLogFlag = value != "0"
		return nil
	case "http.error_file":
		c.ErrorFile = resolvePath(baseDir, value)
		return nil
	case "http.output_file":
		c.OutputFile = resolvePath(baseDir, value)
		return nil
	case "http.trace_flag":
		c.TraceFlag = value != "0"
		return nil
	case "http.session_relay.host":
		c.SessionRelayHost = value
		return nil
	case "http.session_relay.port":
		return c.setUint16(&c.SessionRelayPort, value, name)
	case "http.session_relay.backlog":
		return c.setInt(&c.SessionRelayBacklog, value, name)
	case "http.session_relay.worker_thread":
		return c.setInt(&c.SessionRelayWorkerThreads, value, name)
	case "http.session_relay.check_interval_time":
		return c.setInt(&c.SessionRelayCheckInterval, value, name)
	case "http.session_relay.copy.host":
		if len(c.SessionRelayCopy) >= MaxCopyPeers {
			return apperror.New(apperror.ConfigError, "too many session_relay.copy.host entries")
		}
		c.SessionRelayCopy = append(c.SessionRelayCopy, CopyPeer{Host: value})
		return nil
	case "http.appzone":
		if _, exists := c.Zones[value]; exists {
			return apperror.Newf(apperror.ConfigError, "duplicate appzone: %s", value)
		}
		z := newZone(value)
		c.Zones[value] = z
		c.zoneOrder = append(c.zoneOrder, value)
		return nil
	case includeDirective:
		return c.parseFile(resolvePath(baseDir, value), startMode)
	}

	// HOST.session_relay.copy.port — per-peer port, resolved by matching the
	// host prefix against the order copy.host entries were declared in
	// (config.c's get_relay_host_index()).
	if strings.HasSuffix(lname, ".session_relay.copy.port") {
		host := name[:len(name)-len(".session_relay.copy.port")]
		idx := c.relayHostIndex(host)
		if idx < 0 {
			return nil // config.c silently ignores an unresolved copy.port
		}
		port, err := strconv.ParseUint(value, 10, 16)
		if err != nil {
			return apperror.Wrap(apperror.ConfigError, fmt.Sprintf("parameter value invalid: %s=%s", name, value), err)
		}
		c.SessionRelayCopy[idx].Port = uint16(port)
		return nil
	}

	// ZONE.* directives resolve by longest dotted-prefix match, i.e.
	// "everything before the last '.'" (config.c's get_appzone()).
	if zoneName, suffix, ok := splitZoneSuffix(name); ok {
		z, exists := c.Zones[zoneName]
		if exists {
			return c.applyZoneDirective(z, suffix, value, startMode)
		}
		switch strings.ToLower(suffix) {
		case "max_session", "session_timeout", "api", "init_api", "term_api":
			return apperror.Newf(apperror.ConfigError, "undefined appzone name: %s", name)
		}
	}

	// Anything unrecognized becomes a user parameter, preserved verbatim.
	c.UserParams[name] = value
	return nil
}

func (c *Config) applyZoneDirective(z *Zone, suffix, value string, startMode bool) error {
	switch strings.ToLower(suffix) {
	case "max_session":
		n, err := strconv.Atoi(value)
		if err != nil {
			return apperror.Wrap(apperror.ConfigError, fmt.Sprintf("%s.max_session invalid: %s", z.Name, value), err)
		}
		z.MaxSession = n
		return nil
	case "session_timeout":
		n, err := strconv.Atoi(value)
		if err != nil {
			return apperror.Wrap(apperror.ConfigError, fmt.Sprintf("%s.session_timeout invalid: %s", z.Name, value), err)
		}
		z.SessionTimeout = n
		return nil
	case "api":
		if !startMode {
			return nil
		}
		parts := strings.Split(value, ",")
		if len(parts) != 3 {
			return apperror.Newf(apperror.ConfigError, "illegal '%s.api' parameter: %s", z.Name, value)
		}
		content, fn, lib := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]), strings.TrimSpace(parts[2])
		z.Bindings[content] = Binding{ContentName: content, FuncName: fn, LibName: lib}
		return nil
	case "init_api":
		if !startMode {
			return nil
		}
		parts := strings.Split(value, ",")
		if len(parts) != 2 {
			return apperror.Newf(apperror.ConfigError, "illegal '%s.init_api' parameter: %s", z.Name, value)
		}
		z.InitAPI = strings.TrimSpace(parts[0])
		return nil
	case "term_api":
		if !startMode {
			return nil
		}
		parts := strings.Split(value, ",")
		if len(parts) != 2 {
			return apperror.Newf(apperror.ConfigError, "illegal '%s.term_api' parameter: %s", z.Name, value)
		}
		z.TermAPI = strings.TrimSpace(parts[0])
		return nil
	default:
		// Unrecognized zone-scoped suffix: preserved as a user parameter
		// under its full dotted name, same as config.c's fallback branch.
		c.UserParams[z.Name+"."+suffix] = value
		return nil
	}
}

// splitZoneSuffix implements get_appzone()'s "everything before the last
// '.'" resolution: it splits once, at the last '.', so a zone name that
// itself contains dots still resolves. No shorter prefix is tried.
func splitZoneSuffix(name string) (zone string, suffix string, ok bool) {
	rest := name
	for {
		idx := strings.LastIndexByte(rest, '.')
		if idx < 0 {
			return "", "", false
		}
		rest = rest[:idx]
		suffix = name[idx+1:]
		zone = rest
		return zone, suffix, true
	}
}

func (c *Config) relayHostIndex(host string) int {
	for i, p := range c.SessionRelayCopy {
		if p.Host == host {
			return i
		}
	}
	return -1
}

func (c *Config) setInt(dst *int, value, name string) error {
	n, err := strconv.Atoi(value)
	if err != nil {
		return apperror.Wrap(apperror.ConfigError, fmt.Sprintf("parameter value invalid: %s=%s", name, value), err)
	}
	*dst = n
	return nil
}

func (c *Config) setUint16(dst *uint16, value, name string) error {
	n, err := strconv.ParseUint(value, 10, 16)
	if err != nil {
		return apperror.Wrap(apperror.ConfigError, fmt.Sprintf("parameter value invalid: %s=%s", name, value), err)
	}
	*dst = uint16(n)
	return nil
}

func resolvePath(baseDir, p string) string {
	if p == "" {
		return p
	}
	if filepath.IsAbs(p) {
		return p
	}
	abs, err := filepath.Abs(filepath.Join(baseDir, p))
	if err != nil {
		return p
	}
	return abs
}
