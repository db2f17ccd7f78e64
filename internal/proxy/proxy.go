package proxy

import (
	"context"
	stderrors "errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/wudi/assetcache/internal/errors"
	"github.com/wudi/assetcache/internal/logging"
	"github.com/wudi/assetcache/internal/middleware"
	"github.com/wudi/assetcache/internal/tracing"
)

// Handler turns inbound requests into requests for the origin and sends them
// through transport, which is normally the active offline host.
type Handler struct {
	origin    *url.URL
	transport http.RoundTripper
	tracer    *tracing.Tracer
}

// New creates an origin handler. tracer may be nil.
func New(origin *url.URL, transport http.RoundTripper, tracer *tracing.Tracer) *Handler {
	return &Handler{
		origin:    origin,
		transport: transport,
		tracer:    tracer,
	}
}

// ServeHTTP proxies r to the origin.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	proxyReq := h.createProxyRequest(r.Context(), r)

	resp, err := h.transport.RoundTrip(proxyReq)
	if err != nil {
		h.handleError(w, r, err)
		return
	}
	defer resp.Body.Close()

	copyHeaders(w.Header(), resp.Header)
	w.WriteHeader(resp.StatusCode)
	if _, err := io.Copy(w, resp.Body); err != nil {
		logging.Debug("Response copy interrupted",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
	}
}

// createProxyRequest builds the outbound request for the origin.
func (h *Handler) createProxyRequest(ctx context.Context, r *http.Request) *http.Request {
	targetURL := TargetURL(h.origin, r.URL.Path, r.URL.RawQuery)

	body := r.Body
	if r.ContentLength == 0 {
		body = nil
	}

	proxyReq := (&http.Request{
		Method:        r.Method,
		URL:           targetURL,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header, len(r.Header)+3),
		Body:          body,
		ContentLength: r.ContentLength,
		Host:          h.origin.Host,
	}).WithContext(ctx)

	for k, vv := range r.Header {
		proxyReq.Header[k] = append([]string(nil), vv...)
	}

	if clientIP := clientIP(r); clientIP != "" {
		if prior := proxyReq.Header.Get("X-Forwarded-For"); prior != "" {
			proxyReq.Header.Set("X-Forwarded-For", prior+", "+clientIP)
		} else {
			proxyReq.Header.Set("X-Forwarded-For", clientIP)
		}
	}
	if r.TLS != nil {
		proxyReq.Header.Set("X-Forwarded-Proto", "https")
	} else {
		proxyReq.Header.Set("X-Forwarded-Proto", "http")
	}
	proxyReq.Header.Set("X-Forwarded-Host", r.Host)

	removeHopHeaders(proxyReq.Header)
	h.tracer.Inject(ctx, proxyReq.Header)

	return proxyReq
}

// TargetURL is the origin URL a request for path and rawQuery is sent to.
// The origin's own path is a prefix of every target.
func TargetURL(origin *url.URL, path, rawQuery string) *url.URL {
	u := *origin
	u.Path = singleJoiningSlash(origin.Path, path)
	u.RawPath = ""
	u.RawQuery = rawQuery
	u.Fragment = ""
	u.RawFragment = ""
	return &u
}

// handleError writes 504 for deadline errors and 502 for everything else.
func (h *Handler) handleError(w http.ResponseWriter, r *http.Request, err error) {
	logging.Warn("Origin request failed",
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)

	var httpErr *errors.HTTPError
	if stderrors.Is(err, context.DeadlineExceeded) {
		httpErr = errors.ErrGatewayTimeout
	} else {
		httpErr = errors.ErrBadGateway.WithDetails(err.Error())
	}
	if reqID := middleware.RequestIDFromContext(r.Context()); reqID != "" {
		httpErr = httpErr.WithRequestID(reqID)
	}
	httpErr.WriteJSON(w)
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// copyHeaders copies headers from source to destination
func copyHeaders(dst, src http.Header) {
	for k, vv := range src {
		dst[k] = append(dst[k][:0:0], vv...)
	}

	// Remove hop-by-hop headers from response
	removeHopHeaders(dst)
}

// Hop-by-hop headers that should be removed
var hopHeaders = []string{
	"Connection",
	"Proxy-Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

func removeHopHeaders(header http.Header) {
	for _, h := range hopHeaders {
		header.Del(h)
	}
}

// singleJoiningSlash joins two URL paths with a single slash
func singleJoiningSlash(a, b string) string {
	aslash := strings.HasSuffix(a, "/")
	bslash := strings.HasPrefix(b, "/")
	switch {
	case aslash && bslash:
		return a + b[1:]
	case !aslash && !bslash:
		return a + "/" + b
	}
	return a + b
}
