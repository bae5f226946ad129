package relay

import (
	"context"
	"net"
	"time"

	"github.com/nesta-project/nesta/internal/logger"
	"github.com/nesta-project/nesta/metrics"
	"github.com/nesta-project/nesta/session"
	"github.com/nesta-project/nesta/workerpool"
)

// Server dispatches one relay command per accepted connection, matching
// session_relay_thread's switch over get_command. It is installed as a
// workerpool.Handler so the relay listener shares the same elastic
// boss/worker pool shape as the HTTP listener.
type Server struct {
	sessions *session.Manager
	client   *Client
	log      logger.Logger

	// selfHost/selfPort are advertised to peers as this node's relay
	// address when it becomes a session's owner (zs->rsvr->host_addr/
	// host_port in the original).
	selfHost string
	selfPort int

	// copyTargets is this node's own configured copy-set, announced to a
	// remote owner on RS (the new owner's replication fan-out) and used as
	// the owner_copy value presented on CO.
	copyTargets []CopyServerRef
}

// NewServer builds a relay command dispatcher. copyTargets is this node's
// configured session_relay.copy.* peer list, advertised to a remote owner
// on RequestSession as the new owner's copy-set.
func NewServer(sessions *session.Manager, client *Client, log logger.Logger, selfHost string, selfPort int, copyTargets []CopyServerRef) *Server {
	return &Server{sessions: sessions, client: client, log: log, selfHost: selfHost, selfPort: selfPort, copyTargets: copyTargets}
}

// CopySession implements session.Replicator's CS client role: push sess's
// current snapshot to target.
func (s *Server) CopySession(zoneName string, sess *session.Session, target session.CopyServer) error {
	sid, ts, data := sess.Snapshot()
	return s.client.CopySession(target.Host, target.Port, zoneName, sess.Key, sid, s.selfHost, s.selfPort, s.copyTargets, ts, data)
}

// AnnounceOwner implements session.Replicator's CO client role: tell target
// that sess is now owned here.
func (s *Server) AnnounceOwner(zoneName string, sess *session.Session, target session.CopyServer) error {
	return s.client.ChangeOwner(target.Host, target.Port, zoneName, sess.Key, s.selfHost, s.selfPort, s.copyTargets)
}

// Handle implements workerpool.Handler: one TCP connection in, exactly one
// command processed, connection closed (session_relay_thread's per-job
// body, including its unconditional SOCKET_CLOSE at the end).
func (s *Server) Handle(ctx context.Context, job workerpool.Job, slot *workerpool.Slot) {
	conn, ok := job.(net.Conn)
	if !ok {
		return
	}
	defer conn.Close()

	cmd, err := ReadCommand(conn)
	if err != nil {
		s.log.Warnf("relay: invalid command from %s: %v", conn.RemoteAddr(), err)
		return
	}

	var handleErr error
	switch cmd {
	case CmdHelloServer:
		handleErr = s.helloServer(conn)
	case CmdRequestSession:
		handleErr = s.requestSession(conn)
	case CmdChangeOwner:
		handleErr = s.changeOwner(conn)
	case CmdQueryTimestamp:
		handleErr = s.queryTimestamp(conn)
	case CmdDeleteSession:
		handleErr = s.deleteSession(conn)
	case CmdCopySession:
		handleErr = s.copySession(conn)
	}
	outcome := "ok"
	if handleErr != nil {
		outcome = "error"
		s.log.Warnf("relay: %s from %s: %v", cmd, conn.RemoteAddr(), handleErr)
	}
	metrics.RelayCommandsTotal.WithLabelValues(string(cmd), outcome).Inc()
}

func (s *Server) helloServer(conn net.Conn) error {
	return WriteBytes(conn, []byte("OK"))
}

// getZoneSession reads the common zonename+skey preamble every command
// except HS shares (get_zone_session), returning the zone's session table
// and the session key read from the wire.
func (s *Server) getZoneSession(conn net.Conn) (*session.Zone, string, error) {
	zoneName, err := ReadString(conn, MaxZoneName)
	if err != nil {
		return nil, "", err
	}
	skey, err := ReadString(conn, SessionKeySize)
	if err != nil {
		return nil, "", err
	}
	zone := s.sessions.Zone(zoneName)
	return zone, skey, nil
}

// requestSession implements request_session(): if this node isn't the
// current owner and an owner is on record, pull the session here first;
// then read the caller's (new owner's) address and copy-set, install it as
// the new owner, respond with the full dataset and timestamp, and relinquish
// ownership (the caller becomes owner on receipt).
func (s *Server) requestSession(conn net.Conn) error {
	zone, skey, err := s.getZoneSession(conn)
	if err != nil {
		return err
	}
	if zone == nil {
		return errZoneNotFound
	}
	sess, ok := zone.Get(skey)
	if !ok {
		return errSessionNotFound
	}

	if !sess.OwnerFlag && sess.OwnerHost != "" {
		snap, err := s.client.RequestSession(sess.OwnerHost, sess.OwnerPort, zoneNameOf(zone), skey, s.selfHost, s.selfPort, s.copyTargets)
		if err == nil {
			sess.DeleteAll()
			for k, v := range snap.Data {
				sess.Put(k, v)
			}
			sess.Touch(snap.Timestamp)
			sess.ClaimOwner()
		}
	}

	newOwnerHost, err := ReadString(conn, MaxHostname)
	if err != nil {
		return err
	}
	newOwnerPort, err := ReadShort(conn)
	if err != nil {
		return err
	}
	if newOwnerPort == 0 {
		return errZeroPort
	}
	newCopy, err := ReadCopyServers(conn)
	if err != nil {
		return err
	}
	sess.SetOwner(newOwnerHost, int(uint16(newOwnerPort)), toSessionCopy(newCopy))

	if err := WriteInt64(conn, sess.LastUpdate); err != nil {
		return err
	}
	keys := sess.Keys()
	if err := WriteShort(conn, int16(len(keys))); err != nil {
		return err
	}
	for _, k := range keys {
		v, _ := sess.Get(k)
		if err := WriteString(conn, k); err != nil {
			return err
		}
		if err := WriteShort(conn, int16(len(v))); err != nil {
			return err
		}
		if err := WriteBytes(conn, v); err != nil {
			return err
		}
	}
	return nil
}

// changeOwner implements change_owner(): record the new owner and clear
// OwnerFlag, with no response data.
func (s *Server) changeOwner(conn net.Conn) error {
	zone, skey, err := s.getZoneSession(conn)
	if err != nil {
		return err
	}
	if zone == nil {
		return errZoneNotFound
	}
	sess, ok := zone.Get(skey)
	if !ok {
		return errSessionNotFound
	}

	newOwnerHost, err := ReadString(conn, MaxHostname)
	if err != nil {
		return err
	}
	newOwnerPort, err := ReadShort(conn)
	if err != nil {
		return err
	}
	if newOwnerPort == 0 {
		return errZeroPort
	}
	newCopy, err := ReadCopyServers(conn)
	if err != nil {
		return err
	}
	sess.SetOwner(newOwnerHost, int(uint16(newOwnerPort)), toSessionCopy(newCopy))
	return nil
}

// queryTimestamp implements query_timestamp(): answer with the local
// timestamp if owned, otherwise relay the question to the recorded owner.
func (s *Server) queryTimestamp(conn net.Conn) error {
	zone, skey, err := s.getZoneSession(conn)
	if err != nil {
		return err
	}
	if zone == nil {
		return errZoneNotFound
	}
	sess, ok := zone.Get(skey)
	if !ok {
		return errSessionNotFound
	}

	ts := sess.LastUpdate
	if !sess.OwnerFlag && sess.OwnerHost != "" {
		if remote, err := s.client.QueryTimestamp(sess.OwnerHost, sess.OwnerPort, zoneNameOf(zone), skey); err == nil {
			ts = remote
		}
	}
	return WriteInt64(conn, ts)
}

// deleteSession implements delete_session(): drop any locally held copy and
// remove the zone table entry, with no response data.
func (s *Server) deleteSession(conn net.Conn) error {
	zone, skey, err := s.getZoneSession(conn)
	if err != nil {
		return err
	}
	if zone == nil {
		return errZoneNotFound
	}
	zone.Delete(skey)
	return nil
}

// copySession implements copy_session(): install (or create) a session
// from a full pushed snapshot, replacing any existing data, and mark it as
// not locally owned (the pusher remains owner).
func (s *Server) copySession(conn net.Conn) error {
	zone, skey, err := s.getZoneSession(conn)
	if err != nil {
		return err
	}
	if zone == nil {
		return errZoneNotFound
	}

	sid, err := ReadString(conn, MaxSessionID)
	if err != nil {
		return err
	}
	sess, err := zone.GetOrCreate(skey, sid)
	if err != nil {
		return err
	}
	sess.DeleteAll()

	ownerHost, err := ReadString(conn, MaxHostname)
	if err != nil {
		return err
	}
	ownerPort, err := ReadShort(conn)
	if err != nil {
		return err
	}
	if ownerPort == 0 {
		return errZeroPort
	}
	ownerCopy, err := ReadCopyServers(conn)
	if err != nil {
		return err
	}
	sess.SetOwner(ownerHost, int(uint16(ownerPort)), toSessionCopy(ownerCopy))

	ts, err := ReadInt64(conn)
	if err != nil {
		return err
	}
	sess.Touch(ts)

	count, err := ReadShort(conn)
	if err != nil {
		return err
	}
	for i := int16(0); i < count; i++ {
		key, err := ReadString(conn, MaxHashKeySize)
		if err != nil {
			return err
		}
		size, err := ReadShort(conn)
		if err != nil {
			return err
		}
		if size < 1 {
			return errBadValueSize
		}
		value, err := ReadBytes(conn, int(size))
		if err != nil {
			return err
		}
		sess.Put(key, value)
	}

	// A copy is never locally owned; the pusher retains ownership.
	sess.SetOwner(sess.OwnerHost, sess.OwnerPort, sess.OwnerCopy)
	return nil
}

func toSessionCopy(refs []CopyServerRef) []session.CopyServer {
	out := make([]session.CopyServer, len(refs))
	for i, r := range refs {
		out[i] = session.CopyServer{Host: r.Host, Port: r.Port}
	}
	return out
}

// zoneNameOf returns the session zone's name; relay only needs the name for
// outbound RS/QT calls that identify the zone to the remote peer.
func zoneNameOf(z *session.Zone) string { return z.Name() }

const relayDialTimeout = 2 * time.Second
