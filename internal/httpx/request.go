// Package httpx implements the incremental HTTP/1.1 request parser and the
// response builder, transcribed from original_source/src/http/httprequest.cpp
// and httpresponse.cpp.
package httpx

import (
	"bytes"
	"context"
	"regexp"

	"github.com/reactorhttpd/reactorhttpd/internal/credstore"
	"github.com/reactorhttpd/reactorhttpd/internal/ringbuf"
)

// Phase is the request parser's current stage.
type Phase int

const (
	PhaseRequestLine Phase = iota
	PhaseHeaders
	PhaseBody
	PhaseFinish
)

var requestLineRE = regexp.MustCompile(`^([^ ]*) ([^ ]*) HTTP/([^ ]*)$`)
var headerLineRE = regexp.MustCompile(`^([^:]*): ?(.*)$`)

// defaultHTML is the set of extensionless paths that get ".html" appended,
// transcribed verbatim from HttpRequest::DEFAULT_HTML.
var defaultHTML = map[string]bool{
	"/index": true, "/register": true, "/login": true,
	"/welcome": true, "/video": true, "/picture": true,
}

// authPages maps a post-form-parsed path to whether it's a login (true) or
// registration (false) attempt, transcribed from DEFAULT_HTML_TAG.
var authPages = map[string]bool{
	"/register.html": false,
	"/login.html":     true,
}

// Request is the per-connection incremental parser state.
type Request struct {
	phase   Phase
	method  string
	path    string
	version string
	header  map[string]string
	body    []byte
	form    map[string]string

	// CredStore is consulted only for /register.html and /login.html, per
	// spec.md §4.7. Defaults to MemStore (the documented stub) when nil.
	CredStore credstore.Store
}

// Init resets the parser to its initial state, ready for a new request.
func (r *Request) Init() {
	r.phase = PhaseRequestLine
	r.method, r.path, r.version = "", "", ""
	r.header = make(map[string]string)
	r.body = nil
	r.form = make(map[string]string)
}

// Method, Path, Version, and Header expose the parsed fields.
func (r *Request) Method() string             { return r.method }
func (r *Request) Path() string               { return r.path }
func (r *Request) Version() string            { return r.version }
func (r *Request) Header(name string) string  { return r.header[name] }
func (r *Request) Form(key string) string     { return r.form[key] }

// IsKeepAlive reports whether the client asked to keep the connection alive
// on an HTTP/1.1 request. Header lookup is case-sensitive (spec.md §9(b)).
func (r *Request) IsKeepAlive() bool {
	return r.header["Connection"] == "keep-alive" && r.version == "1.1"
}

// Parse consumes as many CRLF-terminated lines as are available in buf,
// advancing through REQUEST_LINE -> HEADERS -> (BODY | FINISH) -> FINISH. It
// returns false when buf holds no readable bytes or when the request-line
// grammar fails to match; any other outcome, including a partial parse that
// needs more data, returns true.
func (r *Request) Parse(buf *ringbuf.Buffer) bool {
	if buf.Readable() <= 0 {
		return false
	}

	for buf.Readable() > 0 && r.phase != PhaseFinish {
		view := buf.BeginRead()
		idx := bytes.Index(view, []byte("\r\n"))
		noCRLF := idx < 0
		var line string
		if noCRLF {
			line = string(view)
		} else {
			line = string(view[:idx])
		}

		switch r.phase {
		case PhaseRequestLine:
			if !r.parseRequestLine(line) {
				return false
			}
			r.parsePath()
		case PhaseHeaders:
			r.parseHeader(line)
			if buf.Readable() <= 2 {
				r.phase = PhaseFinish
			}
		case PhaseBody:
			r.parseBody(line)
		}

		if noCRLF {
			break
		}
		buf.HasRead(idx + 2)
	}
	return true
}

func (r *Request) parseRequestLine(line string) bool {
	m := requestLineRE.FindStringSubmatch(line)
	if m == nil {
		return false
	}
	r.method, r.path, r.version = m[1], m[2], m[3]
	r.phase = PhaseHeaders
	return true
}

func (r *Request) parseHeader(line string) {
	m := headerLineRE.FindStringSubmatch(line)
	if m == nil {
		r.phase = PhaseBody
		return
	}
	r.header[m[1]] = m[2]
}

func (r *Request) parseBody(line string) {
	r.body = []byte(line)
	r.parsePost()
	r.phase = PhaseFinish
}

// parsePath rewrites "/" to "/index.html" and appends ".html" to any of the
// extensionless default pages, transcribed from HttpRequest::_parsePath.
func (r *Request) parsePath() {
	if r.path == "/" {
		r.path = "/index.html"
		return
	}
	if defaultHTML[r.path] {
		r.path += ".html"
	}
}

func (r *Request) parsePost() {
	if r.method != "POST" || r.header["Content-Type"] != "application/x-www-form-urlencoded" {
		return
	}
	r.parseFromURLEncoded()

	isLogin, tagged := authPages[r.path]
	if !tagged {
		return
	}
	store := r.CredStore
	if store == nil {
		store = credstore.MemStore{}
	}
	if store.Verify(context.Background(), r.form["username"], r.form["password"], isLogin) {
		r.path = "/welcome.html"
	} else {
		r.path = "/error.html"
	}
}

func hexVal(ch byte) int {
	switch {
	case ch >= 'A' && ch <= 'F':
		return int(ch-'A') + 10
	case ch >= 'a' && ch <= 'f':
		return int(ch-'a') + 10
	default:
		return int(ch - '0')
	}
}

// parseFromURLEncoded decodes "k1=v1&k2=v2" pairs from r.body into r.form.
//
// The percent-escape handling intentionally replicates an upstream defect
// (spec.md §9(a)): for "%h1h2" it computes v = hexval(h1)*16 + hexval(h2) and
// writes the two DECIMAL DIGIT characters of v (tens digit, then ones digit)
// back over the h1/h2 positions, rather than substituting the single decoded
// byte v. Consumers of form values see those two decimal-digit characters,
// not the original percent-escaped byte. Do not "fix" this without checking
// whether callers or tests depend on the original (buggy) behavior.
func (r *Request) parseFromURLEncoded() {
	if len(r.body) == 0 {
		return
	}
	body := r.body
	var key string
	j := 0
	n := len(body)
	i := 0
	for ; i < n; i++ {
		switch body[i] {
		case '=':
			key = string(body[j:i])
			j = i + 1
		case '+':
			body[i] = ' '
		case '%':
			if i+2 >= n {
				continue
			}
			v := hexVal(body[i+1])*16 + hexVal(body[i+2])
			body[i+2] = byte(v%10) + '0'
			body[i+1] = byte(v/10) + '0'
			i += 2
		case '&':
			value := string(body[j:i])
			j = i + 1
			r.form[key] = value
		}
	}
	if _, ok := r.form[key]; !ok && j < i {
		r.form[key] = string(body[j:i])
	}
}
