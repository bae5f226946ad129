// Package static implements the static-file responder: a path-escape
// check, MIME-by-extension lookup, conditional GET via If-Modified-Since,
// and cooperation with an optional filecache.Cache.
// Grounded verbatim on original_source/nesta/document.c.
package static

import (
	"io"
	"net/http"
	"os"
	"path"
	"strconv"
	"strings"

	"github.com/nesta-project/nesta/filecache"
	"github.com/nesta-project/nesta/metrics"
)

// mimeTable is document.c's mime_table, reproduced exactly including its
// quirks (json maps to text/plain, not application/json, and "rm" is
// listed twice in the source — harmless, kept here as a single entry).
var mimeTable = map[string]string{
	"html": "text/html",
	"htm":  "text/html",
	"hdml": "text/x-hdml",
	"css":  "text/css",
	"txt":  "text/plain",
	"gif":  "image/gif",
	"jpe":  "image/jpeg",
	"jpeg": "image/jpeg",
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"xbm":  "image/x-bitmap",
	"au":   "audio/basic",
	"snd":  "audio/basic",
	"wav":  "audio/x-wav",
	"aif":  "audio/aiff",
	"aiff": "audio/aiff",
	"mp2":  "audio/x-mpeg",
	"mp3":  "audio/mpeg",
	"ram":  "audio/x-pn-realaudio",
	"rm":   "audio/x-pn-realaudio",
	"ra":   "audio/x-pn-realaudio",
	"qt":   "video/quicktime",
	"mov":  "video/quicktime",
	"mpeg": "video/mpeg",
	"mpg":  "video/mpeg",
	"mpe":  "video/mpeg",
	"avi":  "video/x-msvideo",
	"pdf":  "application/vnd.pdf",
	"fdf":  "application/vnd.fdf",
	"json": "text/plain",
}

func mimeType(ext string) string {
	if t, ok := mimeTable[strings.ToLower(ext)]; ok {
		return t
	}
	return "application/" + ext
}

// CheckFile rejects a request path if any ".." segment would climb above
// the document root: depth decrements per "..", increments per normal
// segment, and the path is rejected as soon as depth would go negative.
// Ported directly from document.c's check_file().
func CheckFile(requestFile string) bool {
	if requestFile == "" {
		return false
	}
	depth := 0
	for _, seg := range strings.Split(requestFile, "/") {
		switch {
		case seg == "..":
			depth--
			if depth < 0 {
				return false
			}
		case strings.HasPrefix(seg, "."):
			// ignore "." and hidden-name segments, same as the C source's
			// "starts with '.'" catch-all branch
		case seg != "":
			depth++
		}
	}
	return true
}

// Responder serves files under Root, optionally backed by a Cache.
type Responder struct {
	Root  string
	Cache *filecache.Cache
}

// Result describes the outcome for access-log purposes.
type Result struct {
	Status      int
	ContentSize int
}

// Serve writes the response for requestPath (the request's content-name,
// e.g. "index.html") directly to w. keepAlive is the connection's actual
// negotiated keep-alive decision for this response (the caller's to make,
// from the client's Connection header and the request budget); remaining
// is the requests left in that budget after this one, reported in the
// Keep-Alive header's max= field.
func (r *Responder) Serve(w http.ResponseWriter, ifModifiedSince, requestPath string, keepAliveTimeout int, keepAlive bool, remaining int) Result {
	if !CheckFile(requestPath) {
		return r.notFound(w)
	}
	if r.Root == "" {
		return r.notFound(w)
	}

	fpath := path.Join(r.Root, requestPath)
	info, err := os.Stat(fpath)
	if err != nil || info.IsDir() {
		return r.notFound(w)
	}

	modified := info.ModTime().UTC().Format(http.TimeFormat)
	if ifModifiedSince != "" && ifModifiedSince == modified {
		w.WriteHeader(http.StatusNotModified)
		return Result{Status: http.StatusNotModified, ContentSize: 0}
	}

	ext := ""
	if idx := strings.LastIndexByte(fpath, '.'); idx >= 0 {
		ext = fpath[idx+1:]
	}
	ctype := mimeType(ext)

	size := info.Size()

	header := w.Header()
	header.Set("Content-Type", ctype)
	header.Set("Content-Length", strconv.FormatInt(size, 10))
	header.Set("Last-Modified", modified)
	if keepAlive {
		header.Set("Keep-Alive", "timeout="+strconv.Itoa(keepAliveTimeout)+", max="+strconv.Itoa(remaining))
		header.Set("Connection", "Keep-Alive")
	} else {
		header.Set("Connection", "close")
	}

	if r.Cache != nil {
		if data, ok := r.Cache.Get(fpath, info.ModTime(), size); ok {
			metrics.FileCacheHits.WithLabelValues("hit").Inc()
			w.WriteHeader(http.StatusOK)
			n, _ := w.Write(data)
			return Result{Status: http.StatusOK, ContentSize: n}
		}
		metrics.FileCacheHits.WithLabelValues("miss").Inc()
	}

	f, err := os.Open(fpath)
	if err != nil {
		return r.notFound(w)
	}
	defer f.Close()

	w.WriteHeader(http.StatusOK)

	if r.Cache != nil {
		data, err := io.ReadAll(f)
		if err == nil {
			r.Cache.Set(fpath, info.ModTime(), size, data)
			n, _ := w.Write(data)
			return Result{Status: http.StatusOK, ContentSize: n}
		}
		// fall through to streaming copy below on read error
		f.Seek(0, io.SeekStart)
	}

	n, _ := io.Copy(w, f)
	return Result{Status: http.StatusOK, ContentSize: int(n)}
}

func (r *Responder) notFound(w http.ResponseWriter) Result {
	body := []byte("404 Not Found\n")
	w.Header().Set("Content-Type", "text/plain")
	w.Header().Set("Content-Length", strconv.Itoa(len(body)))
	w.Header().Set("Connection", "close")
	w.WriteHeader(http.StatusNotFound)
	n, _ := w.Write(body)
	return Result{Status: http.StatusNotFound, ContentSize: n}
}
