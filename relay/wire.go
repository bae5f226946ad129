// Package relay implements the session-relay wire protocol: one binary
// command per TCP connection, big-endian fixed-width integers, 16-bit
// length-prefixed strings. Grounded verbatim on
// original_source/nesta/srelay_server.c's recv_short/send_short/recv_char/
// send_data framing, reproduced here with encoding/binary instead of the
// original's raw socket helpers.
package relay

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Field size limits. The original constants (SESSION_KEY_SIZE, MAX_HOSTNAME,
// MAX_HASH_KEYSIZE, MAX_SESSIONID, MAX_ZONENAME, MAX_SESSION_RELAY_COPY) are
// #defined in nestalib.h, which is not part of the retrieved source — these
// values are a judgment call sized generously against the field widths
// actually observed in srelay_server.c (all length prefixes are int16, so
// every limit below comfortably fits one). See DESIGN.md.
const (
	MaxHostname         = 256
	MaxZoneName         = 64
	SessionKeySize      = 64
	MaxSessionID        = 64
	MaxHashKeySize      = 256
	MaxSessionRelayCopy = 8
)

// Command is one of the six 2-byte ASCII command codes recognized by
// get_command in srelay_server.c.
type Command string

const (
	CmdHelloServer    Command = "HS"
	CmdRequestSession Command = "RS"
	CmdChangeOwner    Command = "CO"
	CmdQueryTimestamp Command = "QT"
	CmdDeleteSession  Command = "DS"
	CmdCopySession    Command = "CS"
)

// ReadCommand reads the 2-byte command code that opens every relay
// connection, matching get_command().
func ReadCommand(r io.Reader) (Command, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return "", err
	}
	cmd := Command(buf[:])
	switch cmd {
	case CmdHelloServer, CmdRequestSession, CmdChangeOwner, CmdQueryTimestamp, CmdDeleteSession, CmdCopySession:
		return cmd, nil
	default:
		return "", fmt.Errorf("relay: invalid command %q", buf[:])
	}
}

// WriteCommand writes the 2-byte command code that opens a relay connection.
func WriteCommand(w io.Writer, cmd Command) error {
	_, err := w.Write([]byte(cmd))
	return err
}

// ReadShort reads a big-endian signed 16-bit integer (recv_short).
func ReadShort(r io.Reader) (int16, error) {
	var buf [2]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int16(binary.BigEndian.Uint16(buf[:])), nil
}

// WriteShort writes a big-endian signed 16-bit integer (send_short).
func WriteShort(w io.Writer, v int16) error {
	var buf [2]byte
	binary.BigEndian.PutUint16(buf[:], uint16(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadInt64 reads a big-endian signed 64-bit integer (recv_int64), used for
// session timestamps.
func ReadInt64(r io.Reader) (int64, error) {
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// WriteInt64 writes a big-endian signed 64-bit integer (send_int64).
func WriteInt64(w io.Writer, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	_, err := w.Write(buf[:])
	return err
}

// ReadBytes reads exactly n raw bytes (recv_char).
func ReadBytes(r io.Reader, n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// WriteBytes writes raw bytes (send_data).
func WriteBytes(w io.Writer, data []byte) error {
	_, err := w.Write(data)
	return err
}

// ReadString reads a 16-bit length prefix followed by that many raw bytes,
// rejecting a length outside [1, maxLen-1] — get_length_string's exact
// "len < 1 || len > bufsize-1" bounds check, where bufsize is the caller's
// SIZE+1 stack buffer.
func ReadString(r io.Reader, maxLen int) (string, error) {
	length, err := ReadShort(r)
	if err != nil {
		return "", err
	}
	if length < 1 || int(length) > maxLen-1 {
		return "", fmt.Errorf("relay: string length %d out of bounds [1,%d]", length, maxLen-1)
	}
	data, err := ReadBytes(r, int(length))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// WriteString writes a 16-bit length prefix followed by the string bytes.
func WriteString(w io.Writer, s string) error {
	if err := WriteShort(w, int16(len(s))); err != nil {
		return err
	}
	return WriteBytes(w, []byte(s))
}

// CopyServer wire helpers mirror get_session_copy_server/send of
// session_copy_t: a count followed by that many (hostname string, port
// short) pairs.

// ReadCopyServers reads a session_copy_t's wire form.
func ReadCopyServers(r io.Reader) ([]CopyServerRef, error) {
	count, err := ReadShort(r)
	if err != nil {
		return nil, err
	}
	if count < 0 || int(count) > MaxSessionRelayCopy {
		return nil, fmt.Errorf("relay: copy server count %d out of bounds", count)
	}
	out := make([]CopyServerRef, 0, count)
	for i := int16(0); i < count; i++ {
		host, err := ReadString(r, MaxHostname)
		if err != nil {
			return nil, err
		}
		port, err := ReadShort(r)
		if err != nil {
			return nil, err
		}
		if port == 0 {
			return nil, fmt.Errorf("relay: zero port in copy server list")
		}
		out = append(out, CopyServerRef{Host: host, Port: int(uint16(port))})
	}
	return out, nil
}

// WriteCopyServers writes a session_copy_t's wire form.
func WriteCopyServers(w io.Writer, servers []CopyServerRef) error {
	if err := WriteShort(w, int16(len(servers))); err != nil {
		return err
	}
	for _, s := range servers {
		if err := WriteString(w, s.Host); err != nil {
			return err
		}
		if err := WriteShort(w, int16(uint16(s.Port))); err != nil {
			return err
		}
	}
	return nil
}

// CopyServerRef identifies one peer holding a copy of a session, the wire
// counterpart of session.CopyServer.
type CopyServerRef struct {
	Host string
	Port int
}
