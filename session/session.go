// Package session implements a per-zone session store: a bounded,
// owner-tracked key/value session table with an optional idle-timeout
// sweeper. Grounded on a prior TTL-sweeping session table (RWMutex-guarded
// map) generalized to match original_source/nesta/srelay_server.c's
// session_t / zone_session_t model (owner_flag, owner_addr/port,
// owner_s_cp copy-set, last_update timestamp).
package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/nesta-project/nesta/internal/apperror"
	"github.com/nesta-project/nesta/internal/logger"
)

// NewSessionID mints a session identifier for a newly owned session (the
// "sid" a server assigns itself on first creating a session locally, as
// opposed to the skey a client presents on every request). The original
// left sid generation to the embedding application's zone API; this
// supplies a collision-resistant default.
func NewSessionID() string {
	return uuid.NewString()
}

// CopyServer identifies one peer holding a copy of a session, mirroring
// session_copy_t's parallel addr/port arrays.
type CopyServer struct {
	Host string
	Port int
}

// Replicator broadcasts an owned session's mutations and ownership changes
// to the zone's configured copy-set. Implemented by relay.Server; defined
// here (rather than imported from relay) because relay already imports
// session and a back-import would cycle.
type Replicator interface {
	// CopySession pushes sess's full current state to target, the CS
	// client role.
	CopySession(zoneName string, sess *Session, target CopyServer) error
	// AnnounceOwner tells target that sess is now owned locally, the CO
	// client role.
	AnnounceOwner(zoneName string, sess *Session, target CopyServer) error
}

// Session is one zone's entry, keyed by session key (skey). SID is the
// session identifier presented by the client on creation (ssn_copy_create's
// "sid" argument); it is distinct from the lookup key.
type Session struct {
	mu sync.Mutex

	Key  string
	SID  string
	Data map[string][]byte

	LastUpdate int64 // microseconds since epoch, matches session_t.last_update

	OwnerFlag bool
	OwnerHost string
	OwnerPort int
	OwnerCopy []CopyServer

	zone *Zone // set at creation, used to reach the copy-set replicator
}

// Snapshot returns a point-in-time copy of the data a CS push needs: sid,
// last-update timestamp, and the data map (only entries with a nonzero
// length, matching count_session_data's filter).
func (s *Session) Snapshot() (sid string, lastUpdate int64, data map[string][]byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]byte, len(s.Data))
	for k, v := range s.Data {
		if len(v) > 0 {
			out[k] = v
		}
	}
	return s.SID, s.LastUpdate, out
}

// Put replaces (or deletes, if data is nil) the value for key. A zero-length
// value is stored as present-but-empty; callers that want "absent" should
// pass nil (matching the CS handler's "size < 1 is a protocol error" check,
// which this package enforces one level up in relay, not here).
func (s *Session) Put(key string, data []byte) {
	s.mu.Lock()
	if s.Data == nil {
		s.Data = make(map[string][]byte)
	}
	if data == nil {
		delete(s.Data, key)
	} else {
		s.Data[key] = data
	}
	owned := s.OwnerFlag
	s.mu.Unlock()

	if owned && s.zone != nil {
		s.zone.broadcastCopy(s)
	}
}

// Get returns the value for key and whether it is present.
func (s *Session) Get(key string) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.Data[key]
	return v, ok
}

// Keys returns the session's data keys whose value has nonzero length,
// matching count_session_data's "size > 0" filter used by the RS handler.
func (s *Session) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.Data))
	for k, v := range s.Data {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	return keys
}

// DeleteAll clears all data, matching ssn_delete_all (used by CS before
// installing a fresh copy).
func (s *Session) DeleteAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Data = make(map[string][]byte)
}

// SetOwner installs new owner coordinates and clears OwnerFlag, matching
// the RS/CO/CS handlers' shared "owner_addr, owner_port, owner_s_cp,
// owner_flag = 0" sequence: a session that just received an owner update
// is not itself the owner until the remote side round-trips the transfer.
func (s *Session) SetOwner(host string, port int, copy []CopyServer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.OwnerHost = host
	s.OwnerPort = port
	s.OwnerCopy = copy
	s.OwnerFlag = false
}

// Touch records last_update; OwnerFlag is left unchanged.
func (s *Session) Touch(microSinceEpoch int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.LastUpdate = microSinceEpoch
}

// ClaimOwner marks this session as locally owned (called by the relay
// client after a successful RS pull; GetOrCreate leaves OwnerFlag false)
// and, once the transfer has completed, announces the new ownership to
// the zone's configured copy-set so their owner hints stop pointing at
// the previous owner.
func (s *Session) ClaimOwner() {
	s.mu.Lock()
	s.OwnerFlag = true
	s.mu.Unlock()

	if s.zone != nil {
		s.zone.broadcastOwner(s)
	}
}

func (s *Session) isOwner() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.OwnerFlag
}

// Zone is one application zone's session table: bounded by MaxSession,
// evicted on idle by Timeout unless Timeout < 0 (never evict, per the
// config directive's documented "-1 means unlimited" semantics).
type Zone struct {
	name       string
	maxSession int
	timeout    time.Duration
	log        logger.Logger

	mu       sync.RWMutex
	sessions map[string]*Session

	replicator  Replicator
	copyTargets []CopyServer
}

func newZone(name string, maxSession int, timeoutSeconds int, log logger.Logger) *Zone {
	z := &Zone{
		name:       name,
		maxSession: maxSession,
		sessions:   make(map[string]*Session),
		log:        log,
	}
	if timeoutSeconds >= 0 {
		z.timeout = time.Duration(timeoutSeconds) * time.Second
	} else {
		z.timeout = -1
	}
	return z
}

// Name returns the zone's configured name.
func (z *Zone) Name() string { return z.name }

// SetReplication installs the relay peer that broadcasts this zone's owned
// sessions' mutations and ownership changes to targets (the zone's
// configured copy-set). A nil replicator or empty targets leaves the zone
// replicating nothing, matching a server with no session_relay.copy.*
// directives configured.
func (z *Zone) SetReplication(r Replicator, targets []CopyServer) {
	z.mu.Lock()
	defer z.mu.Unlock()
	z.replicator = r
	z.copyTargets = targets
}

// broadcastCopy pushes sess's full state to every configured copy-set
// peer (the "Copy distributor" role: after local mutations, an owner may
// broadcast CS to the copy-set). Failures are logged and otherwise
// ignored, matching the no-retry relay failure model.
func (z *Zone) broadcastCopy(sess *Session) {
	z.mu.RLock()
	r, targets := z.replicator, z.copyTargets
	z.mu.RUnlock()
	if r == nil {
		return
	}
	for _, t := range targets {
		if err := r.CopySession(z.name, sess, t); err != nil {
			z.log.Warnf("session: copy %s/%s to %s:%d: %v", z.name, sess.Key, t.Host, t.Port, err)
		}
	}
}

// broadcastOwner announces newly claimed ownership of sess to every
// configured copy-set peer (CO), so their owner hints stop pointing at the
// previous owner. Failures are logged and otherwise ignored.
func (z *Zone) broadcastOwner(sess *Session) {
	z.mu.RLock()
	r, targets := z.replicator, z.copyTargets
	z.mu.RUnlock()
	if r == nil {
		return
	}
	for _, t := range targets {
		if err := r.AnnounceOwner(z.name, sess, t); err != nil {
			z.log.Warnf("session: announce owner %s/%s to %s:%d: %v", z.name, sess.Key, t.Host, t.Port, err)
		}
	}
}

// Get returns the existing session for skey, if any.
func (z *Zone) Get(skey string) (*Session, bool) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	s, ok := z.sessions[skey]
	return s, ok
}

// GetOrCreate returns the existing session for skey, or creates one bound
// to sid if absent, mirroring get_session_create/ssn_copy_create.
// MaxSession == 0 disables the store entirely (the zone never holds a
// session it didn't already have); MaxSession < 0 is unlimited; > 0 is a
// hard cap. Returns an apperror.ResourceExhaustion error when creation is
// refused for either reason.
func (z *Zone) GetOrCreate(skey, sid string) (*Session, error) {
	z.mu.Lock()
	defer z.mu.Unlock()

	if s, ok := z.sessions[skey]; ok {
		return s, nil
	}
	if z.maxSession == 0 {
		return nil, apperror.Newf(apperror.ResourceExhaustion,
			"zone %s: session store disabled (max_session=0)", z.name)
	}
	if z.maxSession > 0 && len(z.sessions) >= z.maxSession {
		return nil, apperror.Newf(apperror.ResourceExhaustion,
			"zone %s: session table full (max %d)", z.name, z.maxSession)
	}
	s := &Session{Key: skey, SID: sid, Data: make(map[string][]byte), zone: z}
	z.sessions[skey] = s
	return s, nil
}

// Delete removes skey's session, matching delete_session's hash_delete
// call. A no-op if absent.
func (z *Zone) Delete(skey string) {
	z.mu.Lock()
	defer z.mu.Unlock()
	delete(z.sessions, skey)
}

// Len returns the number of live sessions in the zone.
func (z *Zone) Len() int {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return len(z.sessions)
}

func (z *Zone) sweep(now time.Time, log logger.Logger) {
	if z.timeout < 0 {
		return
	}
	z.mu.Lock()
	var expired []string
	for key, s := range z.sessions {
		last := time.UnixMicro(s.LastUpdate)
		if s.LastUpdate != 0 && now.Sub(last) > z.timeout {
			expired = append(expired, key)
		}
	}
	for _, key := range expired {
		delete(z.sessions, key)
	}
	z.mu.Unlock()

	for _, key := range expired {
		log.Debugf("session: zone %s key %s expired (idle > %s)", z.name, key, z.timeout)
	}
}

// Manager owns one Zone per configured application zone and runs the idle
// sweeper for all of them. Grounded on a prior SessionManager whose single
// flat map this generalizes to one table per zone, so each zone owns an
// independent session namespace.
type Manager struct {
	log logger.Logger

	mu    sync.RWMutex
	zones map[string]*Zone

	sweepInterval time.Duration
	stop          chan struct{}
	wg            sync.WaitGroup
}

// NewManager builds an empty Manager. Call RegisterZone for each configured
// zone, then Start to begin the sweeper.
func NewManager(log logger.Logger, sweepInterval time.Duration) *Manager {
	return &Manager{
		log:           log,
		zones:         make(map[string]*Zone),
		sweepInterval: sweepInterval,
		stop:          make(chan struct{}),
	}
}

// RegisterZone creates the session table for one configured zone.
func (m *Manager) RegisterZone(name string, maxSession int, timeoutSeconds int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[name] = newZone(name, maxSession, timeoutSeconds, m.log)
}

// Zone returns the session table for name, or nil if unconfigured.
func (m *Manager) Zone(name string) *Zone {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.zones[name]
}

// SetReplication installs the relay copy-set replication target on every
// currently registered zone. Called once, after the relay server (which
// implements Replicator) has been constructed.
func (m *Manager) SetReplication(r Replicator, targets []CopyServer) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, z := range m.zones {
		z.SetReplication(r, targets)
	}
}

// Start launches the background idle sweeper.
func (m *Manager) Start() {
	m.wg.Add(1)
	go m.sweepLoop()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stop:
			return
		case now := <-ticker.C:
			m.mu.RLock()
			zones := make([]*Zone, 0, len(m.zones))
			for _, z := range m.zones {
				zones = append(zones, z)
			}
			m.mu.RUnlock()

			for _, z := range zones {
				z.sweep(now, m.log)
			}
		}
	}
}

// Stop halts the sweeper and waits for it to exit.
func (m *Manager) Stop() {
	close(m.stop)
	m.wg.Wait()
}
