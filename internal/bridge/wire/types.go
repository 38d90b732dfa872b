package wire

import (
	"errors"
	"strings"
)

var (
	ErrMalformedResponse = errors.New("malformed response")
	ErrStatusParse       = errors.New("status code is not an integer")
)

// Proto is the protocol version written on every request line.
const Proto = "HTTP/1.0"

// HeaderField is a single header line. Order and duplicates are preserved.
type HeaderField struct {
	Name  string
	Value string
}

// Request is an intercepted request in normalized form. It is consumed
// once by Encode and not retained.
type Request struct {
	Method string
	URL    string
	Header []HeaderField
	Body   []byte
}

// Response is a decoded reply from the embedded process.
type Response struct {
	Proto      string
	StatusCode int
	Reason     string
	Header     []HeaderField
	Body       []byte
}

// Get returns the first value for name, case-insensitively.
func (r *Response) Get(name string) string {
	for _, h := range r.Header {
		if strings.EqualFold(h.Name, name) {
			return h.Value
		}
	}
	return ""
}

// SkipFunc is told about header lines that Decode drops.
type SkipFunc func(line string)
