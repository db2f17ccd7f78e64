package cache

import (
	"bytes"
	"encoding/gob"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Entry is a captured response snapshot.
type Entry struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
	StoredAt   time.Time
}

// Record pairs a key with the entry stored under it.
type Record struct {
	Key   string
	Entry *Entry
}

func init() {
	// Register http.Header for gob encoding (it's a map[string][]string).
	gob.Register(http.Header{})
}

// Key builds the lookup key for a request: method and absolute URL, fragment
// dropped.
func Key(method string, u *url.URL) string {
	c := *u
	c.Fragment = ""
	c.RawFragment = ""
	return strings.ToUpper(method) + " " + c.String()
}

// RequestKey is Key for r.
func RequestKey(r *http.Request) string {
	return Key(r.Method, r.URL)
}

// Snapshot reads resp's body and returns an entry holding an independent copy
// of status, headers and body. resp.Body is replaced with a fresh reader over
// the same bytes so the caller can still consume it.
func Snapshot(resp *http.Response) (*Entry, error) {
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil {
		return nil, err
	}
	resp.Body = io.NopCloser(bytes.NewReader(body))
	resp.ContentLength = int64(len(body))

	stored := make([]byte, len(body))
	copy(stored, body)
	return &Entry{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header.Clone(),
		Body:       stored,
		StoredAt:   time.Now(),
	}, nil
}

// Response builds a new *http.Response from the entry for req. Each call
// returns an independent body.
func (e *Entry) Response(req *http.Request) *http.Response {
	h := e.Headers.Clone()
	if h == nil {
		h = make(http.Header)
	}
	h.Set("Content-Length", strconv.Itoa(len(e.Body)))
	return &http.Response{
		Status:        strconv.Itoa(e.StatusCode) + " " + http.StatusText(e.StatusCode),
		StatusCode:    e.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        h,
		Body:          io.NopCloser(bytes.NewReader(e.Body)),
		ContentLength: int64(len(e.Body)),
		Request:       req,
	}
}

func encodeEntry(e *Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(e); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decodeEntry(data []byte) (*Entry, error) {
	var e Entry
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&e); err != nil {
		return nil, err
	}
	return &e, nil
}
