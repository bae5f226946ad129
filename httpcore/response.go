package httpcore

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
)

// connWriter implements http.ResponseWriter (and, by the same method set,
// httpcore.ResponseWriter) directly over a raw net.Conn: it buffers
// headers until the first WriteHeader/Write call, then streams the status
// line, headers, and body straight onto the wire. Grounded on
// http_server.c's send_http_header/send_http_response, which likewise
// write the status line and headers immediately ahead of the body.
type connWriter struct {
	conn        net.Conn
	bw          *bufio.Writer
	proto       string
	header      http.Header
	wroteHeader bool
	written     int
}

func newConnWriter(conn net.Conn, proto string) *connWriter {
	if proto == "" {
		proto = "HTTP/1.1"
	}
	return &connWriter{
		conn:   conn,
		bw:     bufio.NewWriter(conn),
		proto:  proto,
		header: make(http.Header),
	}
}

func (w *connWriter) Header() http.Header { return w.header }

func (w *connWriter) WriteHeader(status int) {
	if w.wroteHeader {
		return
	}
	w.wroteHeader = true

	fmt.Fprintf(w.bw, "%s %d %s\r\n", w.proto, status, http.StatusText(status))
	w.header.Write(w.bw)
	w.bw.WriteString("\r\n")
}

func (w *connWriter) Write(p []byte) (int, error) {
	if !w.wroteHeader {
		w.WriteHeader(http.StatusOK)
	}
	n, err := w.bw.Write(p)
	w.written += n
	if err != nil {
		return n, err
	}
	return n, w.bw.Flush()
}
