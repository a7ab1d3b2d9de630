package app

import (
	"encoding/json"
	"errors"
	"io"
	"io/fs"
	"mime"
	"path"

	"github.com/artpar/hostgate/domain/httperr"
	"github.com/artpar/hostgate/pkg/httputil"
	"github.com/artpar/hostgate/ports"
)

// finalize claims the response. Every terminal primitive goes through it,
// so a request is answered at most once.
func (req *Request) finalize() bool {
	if req.sent {
		return false
	}
	req.sent = true
	req.w.Header().Set("X-Request-ID", req.id)
	return true
}

// afterSend runs the exactly-once post-response hooks: onSent, the request
// logger and metrics.
func (req *Request) afterSend(status int, action string) {
	d := req.engine.env.Clock.Now().Sub(req.start)

	if h := req.engine.env.OnSent; h != nil {
		h(req)
	}
	if l := req.engine.env.RequestLogger; l != nil {
		l(req, status, d)
	}
	if m := req.engine.env.Metrics; m != nil {
		m.ObserveRequest(req.hostname, action, status, d)
		m.ObserveRewritePasses(req.routePass)
	}

	req.logger.Debug().
		Int("status", status).
		Str("action", action).
		Str("path", req.path).
		Dur("duration", d).
		Int("passes", req.routePass).
		Msg("request finished")
}

// Send writes status and content. Response headers merge the host's header
// map with per-request overrides; Content-Type falls back from the type
// hint to the path extension to text/html.
func (req *Request) Send(status int, content string) {
	if status < 100 || status > 599 {
		status = 200
	}
	if !req.finalize() {
		return
	}

	var base map[string]string
	if req.hostCfg != nil {
		base = req.hostCfg.Headers
	}
	for k, v := range httputil.MergeHeaders(base, req.headers) {
		req.w.Header().Set(k, v)
	}

	if req.w.Header().Get("Content-Type") == "" {
		ct := req.typ
		if ct == "" {
			ct = mime.TypeByExtension(path.Ext(req.path))
		}
		if ct == "" {
			ct = "text/html"
		}
		req.w.Header().Set("Content-Type", ct)
	}

	req.w.WriteHeader(status)
	if content != "" {
		io.WriteString(req.w, content)
	}
	req.afterSend(status, "send")
}

// JSON serializes v and sends it as application/json.
func (req *Request) JSON(status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		req.Error(500, "")
		return
	}
	req.typ = "application/json"
	req.Send(status, string(data))
}

// JSONP sends v as JSON, wrapped in the callback named by the callback
// query parameter when one is present.
func (req *Request) JSONP(status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		req.Error(500, "")
		return
	}

	req.headers["x-content-type-options"] = "nosniff"
	callback, _ := req.queryParams["callback"].(string)
	if callback == "" {
		req.typ = "application/json"
		req.Send(status, string(data))
		return
	}
	req.typ = "application/javascript"
	req.Send(status, callback+"("+string(data)+");")
}

// Redirect emits a redirect. Codes outside [300, 310] fall back to the
// configured default. Headers merge the host's redirect map with
// per-request overrides.
func (req *Request) Redirect(code int, location string) {
	if code < 300 || code > 310 {
		code = req.graph.settings.RedirectCode
	}
	if !req.finalize() {
		return
	}

	var base map[string]string
	if req.hostCfg != nil {
		base = req.hostCfg.RedirectHeaders
	}
	for k, v := range httputil.MergeHeaders(base, req.headers) {
		req.w.Header().Set(k, v)
	}
	req.w.Header().Set("Location", location)
	req.w.WriteHeader(code)
	req.afterSend(code, "redirect")
}

// End closes the exchange with the given status; error-range codes are
// promoted to full error responses.
func (req *Request) End(code int) {
	if code == 0 {
		code = 200
	}
	if code >= 310 && code < 600 {
		req.Error(code, "")
		return
	}
	if !req.finalize() {
		return
	}
	req.w.WriteHeader(code)
	req.afterSend(code, "end")
}

// Error fails the exchange with an HTTP error value.
func (req *Request) Error(code int, message string) {
	e := httperr.New(code, message)
	if !req.finalize() {
		return
	}

	if e.Code >= 500 {
		req.logger.Error().Int("status", e.Code).Str("path", req.path).Msg(e.Message)
	}

	req.w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	req.w.WriteHeader(e.Code)
	io.WriteString(req.w, e.Message)
	req.afterSend(e.Code, "error")
}

// SendFile hands the exchange to the configured file sender. Missing files
// and directories quietly 404; everything else is a 500.
func (req *Request) SendFile(filePath string) {
	sender := req.engine.env.Files
	if sender == nil {
		req.Error(500, "No file sender configured")
		return
	}
	if req.sent {
		return
	}

	if err := sender.Send(req.w, req.r, filePath); err != nil {
		var pe *ports.PathError
		if errors.Is(err, fs.ErrNotExist) || errors.As(err, &pe) {
			req.Error(404, "")
			return
		}
		req.Error(500, "")
		return
	}

	req.sent = true
	req.afterSend(200, "file")
}
