package offline

import (
	"bytes"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Response is an immutable snapshot of a stored response.
type Response struct {
	Status     int
	StatusText string
	Header     http.Header
	Body       []byte
	StoredAt   time.Time
	Digest     uint64
}

// NewResponse makes a snapshot of response with a fully read body.
func NewResponse(resp *http.Response, body []byte) *Response {
	return &Response{
		Status:     resp.StatusCode,
		StatusText: statusText(resp),
		Header:     resp.Header.Clone(),
		Body:       body,
		StoredAt:   time.Now(),
		Digest:     xxhash.Sum64(body),
	}
}

// HTTPResponse makes a fresh response for request, body is omitted for HEAD request.
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	resp := &http.Response{
		Status:        strconv.Itoa(r.Status) + " " + r.StatusText,
		StatusCode:    r.Status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        r.Header.Clone(),
		ContentLength: int64(len(r.Body)),
		Request:       req,
	}

	if resp.Header == nil {
		resp.Header = http.Header{}
	}

	if req != nil && req.Method == http.MethodHead {
		resp.Body = http.NoBody
	} else {
		resp.Body = io.NopCloser(bytes.NewReader(r.Body))
	}

	return resp
}

func unavailable(req *http.Request) *http.Response {
	r := Response{
		Status:     http.StatusServiceUnavailable,
		StatusText: http.StatusText(http.StatusServiceUnavailable),
		Header:     http.Header{"Content-Type": []string{"text/plain; charset=utf-8"}},
		Body:       []byte("Offline"),
	}

	return r.HTTPResponse(req)
}

func statusText(resp *http.Response) string {
	if t := strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)+" "); t != "" && t != resp.Status {
		return t
	}

	return http.StatusText(resp.StatusCode)
}
