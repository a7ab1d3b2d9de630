package app

import (
	"encoding/json"
	"io"
	"mime"
	"net/url"
	"strconv"
	"strings"

	"github.com/artpar/hostgate/domain/httperr"
	"github.com/artpar/hostgate/pkg/httputil"
)

// maxBodySize bounds request-body capture.
const maxBodySize = 200 << 10 // 200 KiB

// readBody ingests the request body when the method is a write method and
// both Content-Type and Content-Length are present. The raw bytes are kept
// for proxying; JSON and form bodies are additionally parsed.
func (req *Request) readBody() *httperr.E {
	if !httputil.IsWriteMethod(req.method) {
		return nil
	}
	ct := req.r.Header.Get("Content-Type")
	cl := req.r.Header.Get("Content-Length")
	if ct == "" || cl == "" {
		return nil
	}

	length, err := strconv.ParseInt(cl, 10, 64)
	if err != nil || length < 0 {
		return httperr.New(400, "Invalid Content-Length")
	}
	if length > maxBodySize {
		return httperr.New(413, "")
	}

	data, err := io.ReadAll(io.LimitReader(req.r.Body, maxBodySize+1))
	if err != nil {
		return httperr.New(400, "Error reading request body")
	}
	if int64(len(data)) != length {
		return httperr.New(400, "Content-Length mismatch")
	}
	req.rawBody = data

	mediaType, params, err := mime.ParseMediaType(ct)
	if err != nil {
		req.body = data
		return nil
	}
	charset := strings.ToLower(params["charset"])
	if charset == "" {
		charset = "utf-8"
	}
	// Structured parsing assumes a UTF-8-compatible charset; anything else
	// is captured raw.
	if charset != "utf-8" && charset != "us-ascii" {
		req.body = data
		return nil
	}

	switch mediaType {
	case "application/json":
		var parsed any
		if err := json.Unmarshal(data, &parsed); err != nil {
			return httperr.New(400, "Invalid JSON body")
		}
		req.body = parsed
	case "application/x-www-form-urlencoded":
		values, err := url.ParseQuery(string(data))
		if err != nil {
			return httperr.New(400, "Invalid form body")
		}
		form := make(map[string]any, len(values))
		for k, vs := range values {
			if len(vs) > 0 {
				form[k] = vs[len(vs)-1]
			}
		}
		req.body = form
	default:
		req.body = data
	}
	return nil
}
