package httpx

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/sys/unix"

	"github.com/reactorhttpd/reactorhttpd/internal/ringbuf"
)

// suffixType maps file extensions to Content-type values, transcribed
// verbatim from HttpResponse::SUFFIX_TYPE.
var suffixType = map[string]string{
	".html": "text/html", ".xml": "text/xml", ".xhtml": "application/xhtml+xml",
	".txt": "text/plain", ".rtf": "application/rtf", ".pdf": "application/pdf",
	".word": "application/nsword", ".png": "image/png", ".gif": "image/gif",
	".jpg": "image/jpeg", ".jpeg": "image/jpeg", ".au": "audio/basic",
	".mpeg": "video/mpeg", ".mpg": "video/mpeg", ".avi": "video/x-msvideo",
	".gz": "application/x-gzip", ".tar": "application/x-tar",
	".css": "text/css ", ".js": "text/javascript ",
}

// codeStatus maps a status code to its reason phrase, transcribed from
// HttpResponse::CODE_STATUS.
var codeStatus = map[int]string{
	200: "OK", 400: "Bad Request", 403: "Forbidden", 404: "Not Found",
}

// codePath maps an error status code to the resource path served in its
// place, transcribed from HttpResponse::CODE_PATH.
var codePath = map[int]string{
	400: "/400.html", 403: "/403.html", 404: "/404.html",
}

// Response assembles an HTTP/1.1 response: status line, headers, and a
// memory-mapped file body (falling back to an inline error page when the
// file cannot be opened or mapped).
type Response struct {
	code      int
	keepAlive bool
	path      string
	srcDir    string

	mmFile     []byte
	mmFileSize int64
}

// Init prepares the builder for a new response. code == -1 means "derive
// from the stat result in MakeResponse" (200, 403, or 404).
func (r *Response) Init(srcDir, path string, keepAlive bool, code int) {
	if r.mmFile != nil {
		r.Unmap()
	}
	r.code = code
	r.keepAlive = keepAlive
	r.path = path
	r.srcDir = srcDir
}

// Code reports the resolved status code. Valid only after MakeResponse.
func (r *Response) Code() int { return r.code }

// MakeResponse runs the stat -> error-rewrite -> status-line -> headers ->
// body pipeline, appending the rendered bytes to buff.
func (r *Response) MakeResponse(buff *ringbuf.Buffer) {
	fi, err := os.Stat(r.srcDir + r.path)
	switch {
	case err != nil || fi.IsDir():
		r.code = 404
	case fi.Mode().Perm()&0o004 == 0:
		r.code = 403
	case r.code == -1:
		r.code = 200
	}

	var size int64
	if fi != nil {
		size = fi.Size()
	}
	if alt, ok := codePath[r.code]; ok {
		r.path = alt
		if afi, aerr := os.Stat(r.srcDir + r.path); aerr == nil {
			size = afi.Size()
		}
	}

	r.addStateLine(buff)
	r.addHeader(buff)
	r.addContent(buff, size)
}

func (r *Response) addStateLine(buff *ringbuf.Buffer) {
	status, ok := codeStatus[r.code]
	if !ok {
		r.code = 400
		status = codeStatus[400]
	}
	buff.AppendString(fmt.Sprintf("HTTP/1.1 %d %s\r\n", r.code, status))
}

func (r *Response) addHeader(buff *ringbuf.Buffer) {
	buff.AppendString("Connection: ")
	if r.keepAlive {
		buff.AppendString("keep-alive\r\n")
		buff.AppendString("keep-alive: max=6, timeout=120\r\n")
	} else {
		buff.AppendString("close\r\n")
	}
	buff.AppendString("Content-type: " + r.fileType() + "\r\n")
}

func (r *Response) addContent(buff *ringbuf.Buffer, size int64) {
	f, err := os.Open(r.srcDir + r.path)
	if err != nil {
		r.errorContent(buff, "File NotFound!")
		return
	}
	defer f.Close()

	if size == 0 {
		buff.AppendString("Content-length: 0\r\n\r\n")
		return
	}

	mapped, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_PRIVATE)
	if err != nil {
		r.errorContent(buff, "File NotFound!")
		return
	}
	r.mmFile = mapped
	r.mmFileSize = size
	buff.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", size))
}

// File returns the memory-mapped response body, or nil if none was mapped
// (an inline error body was written into the header buffer instead).
func (r *Response) File() []byte { return r.mmFile }

// FileLen reports the length of the mapped body.
func (r *Response) FileLen() int64 { return r.mmFileSize }

// Unmap releases the mapped body. Idempotent.
func (r *Response) Unmap() {
	if r.mmFile == nil {
		return
	}
	unix.Munmap(r.mmFile)
	r.mmFile = nil
	r.mmFileSize = 0
}

func (r *Response) fileType() string {
	idx := strings.LastIndexByte(r.path, '.')
	if idx < 0 {
		return "text/plain"
	}
	if t, ok := suffixType[strings.ToLower(r.path[idx:])]; ok {
		return t
	}
	return "text/plain"
}

func (r *Response) errorContent(buff *ringbuf.Buffer, message string) {
	status, ok := codeStatus[r.code]
	if !ok {
		status = "Bad Request"
	}
	var body strings.Builder
	body.WriteString("<html><title>Error</title>")
	body.WriteString(`<body bgcolor="ffffff">`)
	fmt.Fprintf(&body, "%d : %s\n", r.code, status)
	body.WriteString("<p>" + message + "</p>")
	body.WriteString("<hr><em>reactorhttpd</em></body></html>")

	buff.AppendString(fmt.Sprintf("Content-length: %d\r\n\r\n", body.Len()))
	buff.AppendString(body.String())
}
