package wire

import (
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// longPollTimeout matches a 30s long-poll timeout query value. The embedded
// server is asked for 20s instead so a sync never outlives an idle worker.
var longPollTimeout = regexp.MustCompile(`([?&]timeout=)30000(&|#|$)`)

// RewriteLongPoll lowers every timeout=30000 query value to 20000.
func RewriteLongPoll(url string) string {
	// Matches consume the following separator, so adjacent values need
	// another pass.
	for {
		next := longPollTimeout.ReplaceAllString(url, "${1}20000${2}")
		if next == url {
			return url
		}
		url = next
	}
}

// FromHTTP normalizes an incoming request. The body is read fully.
func FromHTTP(r *http.Request) (*Request, error) {
	req := &Request{
		Method: r.Method,
		URL:    r.URL.String(),
	}

	if r.Host != "" {
		req.Header = append(req.Header, HeaderField{Name: "Host", Value: r.Host})
	}
	names := make([]string, 0, len(r.Header))
	for name := range r.Header {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		for _, v := range r.Header[name] {
			req.Header = append(req.Header, HeaderField{Name: name, Value: v})
		}
	}

	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		req.Body = body
	}

	return req, nil
}

// Encode renders req as the text message the embedded server reads:
//
//	METHOD SP URL SP HTTP/1.0 CRLF [headers CRLF] CRLF [body]
//
// Header lines inside the block end in a bare LF.
func Encode(req *Request) string {
	var headers strings.Builder
	carriesBody := hasBody(req.Method)

	for _, h := range req.Header {
		if carriesBody && strings.EqualFold(h.Name, "Content-Length") {
			continue
		}
		headers.WriteString(h.Name)
		headers.WriteString(": ")
		headers.WriteString(h.Value)
		headers.WriteString("\n")
	}

	var body string
	if carriesBody {
		body = string(req.Body)
		// len of a Go string is its UTF-8 byte length.
		headers.WriteString("Content-Length: ")
		headers.WriteString(strconv.Itoa(len(body)))
		headers.WriteString("\n")
	}

	var b strings.Builder
	b.Grow(len(req.Method) + len(req.URL) + headers.Len() + len(body) + 16)
	b.WriteString(req.Method)
	b.WriteString(" ")
	b.WriteString(RewriteLongPoll(req.URL))
	b.WriteString(" ")
	b.WriteString(Proto)
	b.WriteString("\r\n")
	if headers.Len() > 0 {
		b.WriteString(headers.String())
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.WriteString(body)
	return b.String()
}

func hasBody(method string) bool {
	return method == http.MethodPost || method == http.MethodPut
}
