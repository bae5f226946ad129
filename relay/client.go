package relay

import (
	"fmt"
	"net"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nesta-project/nesta/internal/apperror"
)

// Client issues outbound relay commands to a session's current owner.
// srelay_client.c (the original's outbound counterpart to
// srelay_server.c) was not present in the retrieved source; this is
// derived from the wire format the server-side handlers in
// srelay_server.c expect on the other end of each command, which fully
// determines the client's byte-for-byte behavior.
type Client struct {
	dialTimeout time.Duration

	// group collapses concurrent RS pulls for the same (owner, zone, skey)
	// into a single dial: several HTTP workers racing to claim ownership of
	// a hot session would otherwise each open a redundant connection to the
	// same remote owner for the identical transfer.
	group singleflight.Group
}

// NewClient builds a relay Client with the given per-dial timeout.
func NewClient(dialTimeout time.Duration) *Client {
	return &Client{dialTimeout: dialTimeout}
}

func (c *Client) dial(host string, port int) (net.Conn, error) {
	addr := fmt.Sprintf("%s:%d", host, port)
	conn, err := net.DialTimeout("tcp", addr, c.dialTimeout)
	if err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "dial relay peer "+addr, err)
	}
	return conn, nil
}

// SessionSnapshot is what a remote owner hands back in response to RS: the
// session's current data, its timestamp, and (implicitly, by having
// responded at all) transfer of ownership to the caller.
type SessionSnapshot struct {
	Timestamp int64
	Data      map[string][]byte
}

// RequestSession performs the CMD_REQ_SESSION client role: ask ownerHost
// for zone/skey's session, presenting newOwnerHost/newOwnerPort/newCopy as
// the identity the owner should hand control to. Mirrors the client side
// implied by request_session()'s socket reads after get_zone_session.
func (c *Client) RequestSession(ownerHost string, ownerPort int, zone, skey string, newOwnerHost string, newOwnerPort int, newCopy []CopyServerRef) (*SessionSnapshot, error) {
	key := fmt.Sprintf("%s:%d/%s/%s", ownerHost, ownerPort, zone, skey)
	v, err, _ := c.group.Do(key, func() (any, error) {
		return c.requestSessionOnce(ownerHost, ownerPort, zone, skey, newOwnerHost, newOwnerPort, newCopy)
	})
	if err != nil {
		return nil, err
	}
	return v.(*SessionSnapshot), nil
}

func (c *Client) requestSessionOnce(ownerHost string, ownerPort int, zone, skey string, newOwnerHost string, newOwnerPort int, newCopy []CopyServerRef) (*SessionSnapshot, error) {
	conn, err := c.dial(ownerHost, ownerPort)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	if err := WriteCommand(conn, CmdRequestSession); err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: write command", err)
	}
	if err := WriteString(conn, zone); err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: write zone", err)
	}
	if err := WriteString(conn, skey); err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: write session key", err)
	}
	if err := WriteString(conn, newOwnerHost); err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: write new owner host", err)
	}
	if err := WriteShort(conn, int16(uint16(newOwnerPort))); err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: write new owner port", err)
	}
	if err := WriteCopyServers(conn, newCopy); err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: write copy servers", err)
	}

	ts, err := ReadInt64(conn)
	if err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: read timestamp", err)
	}
	count, err := ReadShort(conn)
	if err != nil {
		return nil, apperror.Wrap(apperror.RelayError, "RS: read key count", err)
	}

	data := make(map[string][]byte, count)
	for i := int16(0); i < count; i++ {
		key, err := ReadString(conn, MaxHashKeySize)
		if err != nil {
			return nil, apperror.Wrap(apperror.RelayError, "RS: read key", err)
		}
		valueLen, err := ReadShort(conn)
		if err != nil {
			return nil, apperror.Wrap(apperror.RelayError, "RS: read value length", err)
		}
		value, err := ReadBytes(conn, int(valueLen))
		if err != nil {
			return nil, apperror.Wrap(apperror.RelayError, "RS: read value", err)
		}
		data[key] = value
	}

	return &SessionSnapshot{Timestamp: ts, Data: data}, nil
}

// QueryTimestamp performs the CMD_QRY_TIMESTAMP client role: ask ownerHost
// for zone/skey's last-update timestamp without transferring ownership.
func (c *Client) QueryTimestamp(ownerHost string, ownerPort int, zone, skey string) (int64, error) {
	conn, err := c.dial(ownerHost, ownerPort)
	if err != nil {
		return 0, err
	}
	defer conn.Close()

	if err := WriteCommand(conn, CmdQueryTimestamp); err != nil {
		return 0, apperror.Wrap(apperror.RelayError, "QT: write command", err)
	}
	if err := WriteString(conn, zone); err != nil {
		return 0, apperror.Wrap(apperror.RelayError, "QT: write zone", err)
	}
	if err := WriteString(conn, skey); err != nil {
		return 0, apperror.Wrap(apperror.RelayError, "QT: write session key", err)
	}

	ts, err := ReadInt64(conn)
	if err != nil {
		return 0, apperror.Wrap(apperror.RelayError, "QT: read timestamp", err)
	}
	return ts, nil
}

// ChangeOwner performs the CMD_CHG_OWNER client role: notify ownerHost
// that ownership of zone/skey has moved to newOwnerHost/newOwnerPort,
// with no response expected (matching change_owner's "no response data").
func (c *Client) ChangeOwner(ownerHost string, ownerPort int, zone, skey string, newOwnerHost string, newOwnerPort int, newCopy []CopyServerRef) error {
	conn, err := c.dial(ownerHost, ownerPort)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := WriteCommand(conn, CmdChangeOwner); err != nil {
		return apperror.Wrap(apperror.RelayError, "CO: write command", err)
	}
	if err := WriteString(conn, zone); err != nil {
		return apperror.Wrap(apperror.RelayError, "CO: write zone", err)
	}
	if err := WriteString(conn, skey); err != nil {
		return apperror.Wrap(apperror.RelayError, "CO: write session key", err)
	}
	if err := WriteString(conn, newOwnerHost); err != nil {
		return apperror.Wrap(apperror.RelayError, "CO: write new owner host", err)
	}
	if err := WriteShort(conn, int16(uint16(newOwnerPort))); err != nil {
		return apperror.Wrap(apperror.RelayError, "CO: write new owner port", err)
	}
	return WriteCopyServers(conn, newCopy)
}

// CopySession performs the CMD_COPY_SESSION client role: push a full copy
// of zone/skey's session (identified by sid) to host/port, for the copy-set
// peers an owner maintains alongside itself.
func (c *Client) CopySession(host string, port int, zone, skey, sid string, ownerHost string, ownerPort int, ownerCopy []CopyServerRef, timestamp int64, data map[string][]byte) error {
	conn, err := c.dial(host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := WriteCommand(conn, CmdCopySession); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write command", err)
	}
	if err := WriteString(conn, zone); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write zone", err)
	}
	if err := WriteString(conn, skey); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write session key", err)
	}
	if err := WriteString(conn, sid); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write session id", err)
	}
	if err := WriteString(conn, ownerHost); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write owner host", err)
	}
	if err := WriteShort(conn, int16(uint16(ownerPort))); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write owner port", err)
	}
	if err := WriteCopyServers(conn, ownerCopy); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write owner copy servers", err)
	}
	if err := WriteInt64(conn, timestamp); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write timestamp", err)
	}

	// Only nonzero-length values are transmitted (count_session_data's
	// "size > 0" filter, applied here: zero-length values are omitted, not
	// sent as empty).
	keys := make([]string, 0, len(data))
	for k, v := range data {
		if len(v) > 0 {
			keys = append(keys, k)
		}
	}
	if err := WriteShort(conn, int16(len(keys))); err != nil {
		return apperror.Wrap(apperror.RelayError, "CS: write key count", err)
	}
	for _, k := range keys {
		if err := WriteString(conn, k); err != nil {
			return apperror.Wrap(apperror.RelayError, "CS: write key", err)
		}
		v := data[k]
		if err := WriteShort(conn, int16(len(v))); err != nil {
			return apperror.Wrap(apperror.RelayError, "CS: write value length", err)
		}
		if err := WriteBytes(conn, v); err != nil {
			return apperror.Wrap(apperror.RelayError, "CS: write value", err)
		}
	}
	return nil
}

// DeleteSession performs the CMD_DEL_SESSION client role: tell host/port
// to drop zone/skey entirely, no response expected.
func (c *Client) DeleteSession(host string, port int, zone, skey string) error {
	conn, err := c.dial(host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := WriteCommand(conn, CmdDeleteSession); err != nil {
		return apperror.Wrap(apperror.RelayError, "DS: write command", err)
	}
	if err := WriteString(conn, zone); err != nil {
		return apperror.Wrap(apperror.RelayError, "DS: write zone", err)
	}
	return WriteString(conn, skey)
}

// HelloServer performs the CMD_HELLO_SERVER health check, expecting "OK".
func (c *Client) HelloServer(host string, port int) error {
	conn, err := c.dial(host, port)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := WriteCommand(conn, CmdHelloServer); err != nil {
		return apperror.Wrap(apperror.RelayError, "HS: write command", err)
	}
	reply, err := ReadBytes(conn, 2)
	if err != nil {
		return apperror.Wrap(apperror.RelayError, "HS: read reply", err)
	}
	if string(reply) != "OK" {
		return apperror.Newf(apperror.RelayError, "HS: unexpected reply %q", reply)
	}
	return nil
}
