package wire

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// Status codes are three digits, 100 through 999; net/http cannot write
// anything else.
var (
	protoPattern = regexp.MustCompile(`^HTTP/\d+(\.\d+)?$`)
	codePattern  = regexp.MustCompile(`^[1-9][0-9]{2}$`)
)

// Decode parses the raw reply of the embedded server:
//
//	PROTO SP CODE [SP REASON] [CRLF headers] [CRLF CRLF body]
//
// It walks status line, header block, blank line and body in order rather
// than matching one pattern over the whole text, so a CRLF inside the body
// never shifts the header boundary. Header lines without ": " are handed to
// skip (when non-nil) and dropped.
func Decode(raw string, skip SkipFunc) (*Response, error) {
	statusLine, rest, _ := strings.Cut(raw, "\r\n")

	proto, status, ok := strings.Cut(statusLine, " ")
	if !ok || !protoPattern.MatchString(proto) {
		return nil, fmt.Errorf("%w: bad status line %q", ErrMalformedResponse, truncate(statusLine))
	}
	codeText, reason, _ := strings.Cut(strings.TrimSpace(status), " ")
	if codeText == "" {
		return nil, fmt.Errorf("%w: empty status", ErrMalformedResponse)
	}

	if !codePattern.MatchString(codeText) {
		return nil, fmt.Errorf("%w: %q", ErrStatusParse, truncate(codeText))
	}
	code, err := strconv.Atoi(codeText)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", ErrStatusParse, codeText)
	}

	resp := &Response{
		Proto:      proto,
		StatusCode: code,
		Reason:     reason,
	}

	var block string
	switch {
	case strings.HasPrefix(rest, "\r\n"):
		resp.Body = []byte(rest[2:])
	default:
		var body string
		var found bool
		block, body, found = strings.Cut(rest, "\r\n\r\n")
		if found {
			resp.Body = []byte(body)
		}
	}

	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		name, value, ok := strings.Cut(line, ": ")
		if !ok || name == "" {
			if skip != nil {
				skip(line)
			}
			continue
		}
		resp.Header = append(resp.Header, HeaderField{Name: name, Value: value})
	}

	return resp, nil
}

// hopHeaders are connection-scoped and never copied to the outward response.
var hopHeaders = map[string]bool{
	"Connection":        true,
	"Keep-Alive":        true,
	"Transfer-Encoding": true,
	"Upgrade":           true,
	"Content-Length":    true,
}

// WriteTo materializes the response on w.
func (r *Response) WriteTo(w http.ResponseWriter) error {
	dst := w.Header()
	for _, h := range r.Header {
		if hopHeaders[http.CanonicalHeaderKey(h.Name)] {
			continue
		}
		dst.Add(h.Name, h.Value)
	}
	dst.Set("Content-Length", strconv.Itoa(len(r.Body)))
	w.WriteHeader(r.StatusCode)
	_, err := w.Write(r.Body)
	return err
}

func truncate(s string) string {
	if len(s) > 64 {
		return s[:64] + "..."
	}
	return s
}
