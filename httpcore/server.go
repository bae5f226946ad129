package httpcore

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/nesta-project/nesta/accesslog"
	"github.com/nesta-project/nesta/config"
	"github.com/nesta-project/nesta/control"
	"github.com/nesta-project/nesta/filecache"
	"github.com/nesta-project/nesta/internal/apperror"
	"github.com/nesta-project/nesta/internal/logger"
	"github.com/nesta-project/nesta/metrics"
	"github.com/nesta-project/nesta/queue"
	"github.com/nesta-project/nesta/relay"
	"github.com/nesta-project/nesta/session"
	"github.com/nesta-project/nesta/static"
	"github.com/nesta-project/nesta/workerpool"
)

// Server is the constructed, non-global equivalent of the C source's
// g_conf/g_listen_socket/g_worker_thread_tbl globals.
type Server struct {
	cfg *config.Config
	log logger.Logger

	static    *static.Responder
	accessLog *accesslog.Writer
	sessions  *session.Manager
	control   *control.Controller

	registryMu sync.RWMutex
	registry   map[string]map[string]Handler // zone -> content-name -> handler

	traceMode  boolFlag
	startTime  time.Time

	httpListener  net.Listener
	httpQueue     *queue.Queue[workerpool.Job]
	httpPool      *workerpool.Pool

	relayClient   *relay.Client
	relayServer   *relay.Server
	relayListener net.Listener
	relayQueue    *queue.Queue[workerpool.Job]
	relayPool     *workerpool.Pool

	ctx    context.Context
	cancel context.CancelFunc
}

// boolFlag is a tiny atomic-ish flag; trace mode only needs last-writer-wins
// semantics and is read far more often than written.
type boolFlag struct {
	mu sync.RWMutex
	v  bool
}

func (f *boolFlag) Get() bool   { f.mu.RLock(); defer f.mu.RUnlock(); return f.v }
func (f *boolFlag) Set(v bool)  { f.mu.Lock(); f.v = v; f.mu.Unlock() }

// New constructs a Server from a loaded Config. It does not start
// listening; call ListenAndServe for that.
func New(cfg *config.Config, log logger.Logger) (*Server, error) {
	ctx, cancel := context.WithCancel(context.Background())

	s := &Server{
		cfg:      cfg,
		log:      log,
		registry: make(map[string]map[string]Handler),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.traceMode.Set(cfg.TraceFlag)

	var cache *filecache.Cache
	if cfg.FileCacheSize > 0 {
		cache = filecache.New(cfg.FileCacheSize)
	}
	s.static = &static.Responder{Root: cfg.DocumentRoot, Cache: cache}

	accessLog, err := accesslog.New(cfg.AccessLogFname, cfg.DailyLogFlag, log, s.traceMode.Get)
	if err != nil {
		return nil, err
	}
	s.accessLog = accessLog

	s.sessions = session.NewManager(log, time.Minute)
	for _, z := range cfg.ZoneList() {
		s.sessions.RegisterZone(z.Name, z.MaxSession, z.SessionTimeout)
	}
	s.sessions.Start()

	if cfg.IsSessionRelay() {
		copyRefs := make([]relay.CopyServerRef, len(cfg.SessionRelayCopy))
		copyTargets := make([]session.CopyServer, len(cfg.SessionRelayCopy))
		for i, p := range cfg.SessionRelayCopy {
			copyRefs[i] = relay.CopyServerRef{Host: p.Host, Port: int(p.Port)}
			copyTargets[i] = session.CopyServer{Host: p.Host, Port: int(p.Port)}
		}

		s.relayClient = relay.NewClient(2 * time.Second)
		s.relayServer = relay.NewServer(s.sessions, s.relayClient, log, cfg.SessionRelayHost, int(cfg.SessionRelayPort), copyRefs)
		s.sessions.SetReplication(s.relayServer, copyTargets)
	}

	s.Register(Registration{Zone: "__internal", ContentName: "metrics", Handler: metricsHandler})

	return s, nil
}

// metricsHandler adapts metrics.Handler's promhttp.Handler onto the
// Registration surface, exposing "/metrics" without routing through a
// zone/session lookup.
func metricsHandler(ctx context.Context, req *Request, resp ResponseWriter) int {
	w := &statusCapturingWriter{ResponseWriter: resp, status: http.StatusOK}
	httpReq, err := http.NewRequestWithContext(ctx, req.Method, req.URI, nil)
	if err != nil {
		resp.WriteHeader(http.StatusInternalServerError)
		return http.StatusInternalServerError
	}
	metrics.Handler().ServeHTTP(w, httpReq)
	return w.status
}

// statusCapturingWriter records the status code an http.Handler wrote so
// metricsHandler can report it back for access logging.
type statusCapturingWriter struct {
	ResponseWriter
	status int
}

func (w *statusCapturingWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

// Register installs a Handler for (zone, contentName), the Go-native
// replacement for ZONE.api's dynamic-library lookup.
func (s *Server) Register(reg Registration) {
	s.registryMu.Lock()
	defer s.registryMu.Unlock()
	m, ok := s.registry[reg.Zone]
	if !ok {
		m = make(map[string]Handler)
		s.registry[reg.Zone] = m
	}
	m[reg.ContentName] = reg.Handler
}

func (s *Server) lookupHandler(contentName string) (Handler, *session.Zone, bool) {
	s.registryMu.RLock()
	defer s.registryMu.RUnlock()
	for zoneName, m := range s.registry {
		if h, ok := m[contentName]; ok {
			return h, s.sessions.Zone(zoneName), true
		}
	}
	return nil, nil, false
}

// ListenAndServe starts the HTTP (and, if configured, session-relay)
// listeners and their worker pools, then runs the accept loop until the
// server context is canceled (via Shutdown or the "stop" control command).
func (s *Server) ListenAndServe() error {
	s.startTime = time.Now()

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.PortNo))
	if err != nil {
		return apperror.Wrap(apperror.ListenError, "http listen", err)
	}
	s.httpListener = ln

	s.httpQueue = queue.New[workerpool.Job]()
	s.httpPool = workerpool.New(workerpool.Config{
		BaseWorkers:   s.cfg.MinWorkerThreads(),
		ExtendWorkers: s.cfg.ExtendWorkerThreads,
		IdleTimeout:   time.Duration(s.cfg.WorkerThreadTimeout) * time.Second,
		CheckInterval: time.Duration(s.cfg.WorkerThreadCheckInterval) * time.Second,
	}, s.httpQueue, s.handleConnection, s.log)

	pools := []control.NamedPool{{Label: "http", Pool: s.httpPool}}

	if s.cfg.IsSessionRelay() {
		rln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.cfg.SessionRelayPort))
		if err != nil {
			return apperror.Wrap(apperror.ListenError, "session relay listen", err)
		}
		s.relayListener = rln
		s.relayQueue = queue.New[workerpool.Job]()
		s.relayPool = workerpool.New(workerpool.Config{
			BaseWorkers:   s.cfg.SessionRelayWorkerThreads,
			ExtendWorkers: 0,
			IdleTimeout:   time.Duration(s.cfg.SessionRelayCheckInterval) * time.Second,
			CheckInterval: time.Duration(s.cfg.SessionRelayCheckInterval) * time.Second,
		}, s.relayQueue, s.relayServer.Handle, s.log)
		pools = append(pools, control.NamedPool{Label: "session relay", Pool: s.relayPool})

		go s.acceptLoop(s.relayListener, s.relayQueue, s.relayPool, "session_relay")
	}

	s.control = control.New(s.startTime, s.log, s.cancel, func(v bool) {
		s.traceMode.Set(v)
		logger.SetLevel(s.log, v)
	}, pools...)

	s.log.Infof("http port: %d, document root: %s, %d worker threads", s.cfg.PortNo, s.cfg.DocumentRoot, s.cfg.WorkerThreads)

	s.acceptLoop(s.httpListener, s.httpQueue, s.httpPool, "http")
	return nil
}

// acceptLoop is request_http/do_http_event fused: accept, grow the pool if
// the queue is backing up, push the job, repeat until the context cancels.
func (s *Server) acceptLoop(ln net.Listener, q *queue.Queue[workerpool.Job], pool *workerpool.Pool, label string) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			s.log.Warnf("accept: %v", err)
			continue
		}
		if s.ctx.Err() != nil {
			conn.Close()
			return
		}
		q.Push(conn)
		pool.MaybeGrow()

		metrics.WorkerPoolActive.WithLabelValues(label).Set(float64(pool.Running()))
		metrics.WorkerPoolQueueDepth.WithLabelValues(label).Set(float64(q.Len()))
	}
}

// statusClass buckets an HTTP status into the label RequestsTotal exposes
// ("2xx","4xx",...), matching the coarse-grained counter pattern pack
// examples use for request metrics.
func statusClass(status int) string {
	switch {
	case status >= 200 && status < 300:
		return "2xx"
	case status >= 300 && status < 400:
		return "3xx"
	case status >= 400 && status < 500:
		return "4xx"
	case status >= 500:
		return "5xx"
	default:
		return "other"
	}
}

// Shutdown stops accepting new connections and waits for in-flight workers
// to finish, matching the original's g_shutdown_flag + break_signal
// sequence but via context cancellation and listener Close, with no
// self-connect-to-unblock-accept trick.
func (s *Server) Shutdown(ctx context.Context) error {
	s.cancel()
	if s.httpListener != nil {
		s.httpListener.Close()
	}
	if s.relayListener != nil {
		s.relayListener.Close()
	}
	if s.httpPool != nil {
		if err := s.httpPool.Shutdown(ctx); err != nil {
			return err
		}
	}
	if s.relayPool != nil {
		if err := s.relayPool.Shutdown(ctx); err != nil {
			return err
		}
	}
	s.sessions.Stop()
	s.accessLog.Close()
	return nil
}

// handleConnection is http_thread's per-connection body: a keep-alive loop
// reading one request at a time off the same socket until the client
// closes, the request budget is exhausted, or the read times out.
func (s *Server) handleConnection(ctx context.Context, job workerpool.Job, slot *workerpool.Slot) {
	conn, ok := job.(net.Conn)
	if !ok {
		return
	}
	defer conn.Close()

	peerIP, _, _ := net.SplitHostPort(conn.RemoteAddr().String())
	reader := bufio.NewReader(conn)

	remaining := s.cfg.KeepAliveRequests
	for {
		if s.cfg.KeepAliveTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(time.Duration(s.cfg.KeepAliveTimeout) * time.Second))
		}

		req, err := http.ReadRequest(reader)
		if err != nil {
			return
		}

		remaining--
		keepAlive := s.cfg.KeepAliveRequests > 0 && remaining > 0 &&
			strings.EqualFold(req.Header.Get("Connection"), "Keep-Alive")

		start := time.Now()
		status, bytesWritten := s.serveOne(ctx, conn, req, peerIP, slot, keepAlive, remaining)
		isCommand := slot.CommandFlag()
		slot.SetCommandFlag(false)

		metrics.RequestsTotal.WithLabelValues(statusClass(status)).Inc()
		metrics.RequestDuration.Observe(time.Since(start).Seconds())

		if !isCommand {
			s.accessLog.Write(accesslog.Entry{
				PeerAddr:   conn.RemoteAddr().String(),
				Method:     req.Method,
				URI:        req.URL.RequestURI(),
				Proto:      req.Proto,
				UserAgent:  req.Header.Get(accesslog.HeaderUserAgent),
				XForwarded: req.Header.Get(accesslog.HeaderForwardedFor),
				Status:     status,
				Bytes:      bytesWritten,
				Elapsed:    time.Since(start),
				At:         start,
			})
		}

		if !keepAlive || isCommand {
			return
		}
	}
}

// serveOne dispatches a single parsed request: the control-command
// shortcut first (is_command), then registered zone handlers, falling
// back to the static responder (request_proc). keepAlive and remaining
// carry this connection's actual negotiated keep-alive decision (computed
// in handleConnection from the client's Connection header and the request
// budget) so the static responder's Connection/Keep-Alive response
// headers never promise more than handleConnection is about to do.
func (s *Server) serveOne(ctx context.Context, conn net.Conn, req *http.Request, peerIP string, slot *workerpool.Slot, keepAlive bool, remaining int) (status int, bytesWritten int) {
	contentName := req.URL.Path
	if len(contentName) > 0 && contentName[0] == '/' {
		contentName = contentName[1:]
	}
	query := map[string][]string(req.URL.Query())

	if control.IsCommand(peerIP, contentName, query) {
		slot.SetCommandFlag(true)

		cmd := query["cmd"][0]
		body, recognized := s.control.Execute(cmd)
		w := newConnWriter(conn, req.Proto)
		if recognized && len(body) > 0 {
			w.Header().Set("Content-Type", "text/plain")
			w.Header().Set("Content-Length", strconv.Itoa(len(body)))
			w.WriteHeader(http.StatusOK)
			n, _ := w.Write([]byte(body))
			if cmd == control.CmdStop {
				s.httpListener.Close()
				if s.relayListener != nil {
					s.relayListener.Close()
				}
			}
			return http.StatusOK, n
		}
		w.WriteHeader(http.StatusOK)
		return http.StatusOK, 0
	}

	if handler, zone, ok := s.lookupHandler(contentName); ok {
		hreq := &Request{
			ContentName: contentName,
			Method:      req.Method,
			URI:         req.URL.RequestURI(),
			Proto:       req.Proto,
			Header:      req.Header,
			PeerIP:      peerIP,
			Query:       query,
			Zone:        zone,
		}
		if zone != nil {
			if key := sessionKeyFromHeader(req.Header); key != "" {
				if sess, ok := zone.Get(key); ok {
					hreq.Session = sess
				}
			}
		}
		w := newConnWriter(conn, req.Proto)
		code := handler(ctx, hreq, w)
		return code, w.written
	}

	w := newConnWriter(conn, req.Proto)
	result := s.static.Serve(w, req.Header.Get("If-Modified-Since"), contentName, s.cfg.KeepAliveTimeout, keepAlive, remaining)
	return result.Status, result.ContentSize
}

// sessionKeyFromHeader extracts the session-identifying cookie, the
// request-side counterpart of get_http_session (a fixed cookie name is a
// reasonable default since the original reads it from a configurable
// header/cookie name not present in the retrieved config surface).
func sessionKeyFromHeader(h http.Header) string {
	const cookieName = "NESTASID="
	for _, c := range h.Values("Cookie") {
		if len(c) > len(cookieName) && c[:len(cookieName)] == cookieName {
			return c[len(cookieName):]
		}
	}
	return ""
}
