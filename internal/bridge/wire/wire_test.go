package wire

import (
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeRequestLine(t *testing.T) {
	got := Encode(&Request{Method: "GET", URL: "/_matrix/client/versions"})
	assert.Equal(t, "GET /_matrix/client/versions HTTP/1.0\r\n\r\n", got)
}

func TestEncodeHeaders(t *testing.T) {
	got := Encode(&Request{
		Method: "GET",
		URL:    "/_matrix/client/r0/sync",
		Header: []HeaderField{
			{Name: "Authorization", Value: "Bearer abc"},
			{Name: "Accept", Value: "application/json"},
			{Name: "Accept", Value: "text/plain"},
		},
	})

	want := "GET /_matrix/client/r0/sync HTTP/1.0\r\n" +
		"Authorization: Bearer abc\n" +
		"Accept: application/json\n" +
		"Accept: text/plain\n" +
		"\r\n\r\n"
	assert.Equal(t, want, got)
}

func TestEncodeContentLengthIsByteLength(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
	}{
		{name: "ascii post", method: "POST", body: `{"a":1}`},
		{name: "multibyte post", method: "POST", body: `{"a":"é"}`},
		{name: "multibyte put", method: "PUT", body: `{"name":"Zoë ✓"}`},
		{name: "empty put", method: "PUT", body: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Encode(&Request{
				Method: tt.method,
				URL:    "/_matrix/client/r0/rooms",
				Header: []HeaderField{{Name: "Content-Type", Value: "application/json"}},
				Body:   []byte(tt.body),
			})

			byteLen := len([]byte(tt.body))
			assert.Contains(t, got, "Content-Length: "+strconv.Itoa(byteLen)+"\n")
			assert.True(t, strings.HasSuffix(got, "\r\n\r\n"+tt.body))
		})
	}

	body := `{"a":"é"}`
	assert.Equal(t, 10, len(body))
	assert.Equal(t, 9, utf8.RuneCountInString(body))
	assert.Contains(t, Encode(&Request{Method: "POST", URL: "/x", Body: []byte(body)}), "Content-Length: 10\n")
}

func TestEncodeDropsCallerContentLength(t *testing.T) {
	got := Encode(&Request{
		Method: "POST",
		URL:    "/x",
		Header: []HeaderField{{Name: "content-length", Value: "999"}},
		Body:   []byte("abc"),
	})
	assert.NotContains(t, got, "999")
	assert.Equal(t, 1, strings.Count(strings.ToLower(got), "content-length"))
}

func TestEncodeNoBodyForGet(t *testing.T) {
	got := Encode(&Request{Method: "GET", URL: "/x", Body: []byte("ignored")})
	assert.NotContains(t, got, "Content-Length")
	assert.NotContains(t, got, "ignored")
}

func TestRewriteLongPoll(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"/_matrix/client/r0/sync?timeout=30000", "/_matrix/client/r0/sync?timeout=20000"},
		{"/_matrix/client/r0/sync?since=s1&timeout=30000&filter=0", "/_matrix/client/r0/sync?since=s1&timeout=20000&filter=0"},
		{"/_matrix/client/r0/sync?timeout=300000", "/_matrix/client/r0/sync?timeout=300000"},
		{"/_matrix/client/r0/sync?timeout=5000", "/_matrix/client/r0/sync?timeout=5000"},
		{"/_matrix/client/r0/sync", "/_matrix/client/r0/sync"},
		{"/_matrix/client/r0/sync?timeout=30000&timeout=30000", "/_matrix/client/r0/sync?timeout=20000&timeout=20000"},
		{"/sync?timeout=30000&timeout=30000&timeout=30000#f", "/sync?timeout=20000&timeout=20000&timeout=20000#f"},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, RewriteLongPoll(tt.in))
		})
	}
}

func TestEncodeRewritesLongPoll(t *testing.T) {
	got := Encode(&Request{Method: "GET", URL: "http://localhost/_matrix/client/r0/sync?timeout=30000"})
	assert.Contains(t, got, "timeout=20000")
	assert.NotContains(t, got, "30000")

	got = Encode(&Request{Method: "GET", URL: "/_matrix/client/r0/sync?timeout=30000&timeout=30000"})
	assert.Equal(t, "GET /_matrix/client/r0/sync?timeout=20000&timeout=20000 HTTP/1.0\r\n\r\n", got)
}

func TestFromHTTP(t *testing.T) {
	r := httptest.NewRequest("POST", "http://example.org/_matrix/client/r0/login?x=1", strings.NewReader(`{"type":"m.login.dummy"}`))
	r.Header.Add("X-B", "2")
	r.Header.Add("X-A", "1")
	r.Header.Add("X-A", "3")

	req, err := FromHTTP(r)
	require.NoError(t, err)

	assert.Equal(t, "POST", req.Method)
	assert.Equal(t, "http://example.org/_matrix/client/r0/login?x=1", req.URL)
	assert.Equal(t, `{"type":"m.login.dummy"}`, string(req.Body))
	assert.Equal(t, []HeaderField{
		{Name: "Host", Value: "example.org"},
		{Name: "X-A", Value: "1"},
		{Name: "X-A", Value: "3"},
		{Name: "X-B", Value: "2"},
	}, req.Header)
}

func TestDecode(t *testing.T) {
	raw := "HTTP/1.0 200 OK\r\nContent-Type: application/json\r\n\r\n{\"versions\":[\"r0\"]}"

	resp, err := Decode(raw, nil)
	require.NoError(t, err)

	assert.Equal(t, "HTTP/1.0", resp.Proto)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "OK", resp.Reason)
	assert.Equal(t, []HeaderField{{Name: "Content-Type", Value: "application/json"}}, resp.Header)
	assert.Equal(t, `{"versions":["r0"]}`, string(resp.Body))
}

func TestDecodeShapes(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		wantStatus int
		wantHeader int
		wantBody   string
	}{
		{name: "status only", raw: "HTTP/1.1 204 No Content", wantStatus: 204},
		{name: "no reason", raw: "HTTP/1.0 404\r\n\r\n", wantStatus: 404},
		{name: "headers without body", raw: "HTTP/1.0 200 OK\r\nA: 1\r\nB: 2", wantStatus: 200, wantHeader: 2},
		{name: "body without headers", raw: "HTTP/1.0 200 OK\r\n\r\nhello", wantStatus: 200, wantBody: "hello"},
		{name: "crlf inside body", raw: "HTTP/1.0 200 OK\r\nA: 1\r\n\r\nline1\r\n\r\nline2", wantStatus: 200, wantHeader: 1, wantBody: "line1\r\n\r\nline2"},
		{name: "lf separated headers", raw: "HTTP/1.0 200 OK\r\nA: 1\nB: 2\r\n\r\n", wantStatus: 200, wantHeader: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Decode(tt.raw, nil)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, resp.StatusCode)
			assert.Len(t, resp.Header, tt.wantHeader)
			assert.Equal(t, tt.wantBody, string(resp.Body))
		})
	}
}

func TestDecodeSkipsBadHeaderLines(t *testing.T) {
	var skipped []string
	resp, err := Decode("HTTP/1.0 200 OK\r\nGood: yes\r\nno-separator\r\nAlso:bad\r\n\r\n", func(line string) {
		skipped = append(skipped, line)
	})
	require.NoError(t, err)

	assert.Equal(t, []HeaderField{{Name: "Good", Value: "yes"}}, resp.Header)
	assert.Equal(t, []string{"no-separator", "Also:bad"}, skipped)
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{name: "prose", raw: "not an http response", want: ErrMalformedResponse},
		{name: "empty", raw: "", want: ErrMalformedResponse},
		{name: "proto only", raw: "HTTP/1.0", want: ErrMalformedResponse},
		{name: "missing code", raw: "HTTP/1.0 \r\n\r\n", want: ErrMalformedResponse},
		{name: "binary", raw: "\x00\xff\xfe\r\n\r\n", want: ErrMalformedResponse},
		{name: "non numeric status", raw: "HTTP/1.0 OK 200\r\n\r\n", want: ErrStatusParse},
		{name: "overflowing status", raw: "HTTP/1.0 99999999999999999999 X\r\n\r\n", want: ErrStatusParse},
		{name: "two digit status", raw: "HTTP/1.0 42 X\r\n\r\n", want: ErrStatusParse},
		{name: "zero status", raw: "HTTP/1.0 0 X\r\n\r\n", want: ErrStatusParse},
		{name: "negative status", raw: "HTTP/1.0 -1 X\r\n\r\n", want: ErrStatusParse},
		{name: "signed status", raw: "HTTP/1.0 +200 OK\r\n\r\n", want: ErrStatusParse},
		{name: "four digit status", raw: "HTTP/1.0 1000 X\r\n\r\n", want: ErrStatusParse},
		{name: "leading zero status", raw: "HTTP/1.0 020 X\r\n\r\n", want: ErrStatusParse},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := Decode(tt.raw, nil)
			assert.Nil(t, resp)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestDecodeNeverPanics(t *testing.T) {
	inputs := []string{
		"\r\n", "\r\n\r\n", " ", "HTTP/1.0 200 OK\r\n:\r\n\r\n", "HTTP/1.0 200 OK\r\n: v\r\n",
		strings.Repeat("\r", 100), "HTTP/9 1 \r\n\n\n\r\n\r\n\r\n", string([]byte{0xc3, 0x28}),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() { _, _ = Decode(in, nil) })
	}
}

func TestResponseWriteTo(t *testing.T) {
	resp := &Response{
		StatusCode: 201,
		Header: []HeaderField{
			{Name: "Content-Type", Value: "application/json"},
			{Name: "Connection", Value: "close"},
			{Name: "Content-Length", Value: "1000"},
			{Name: "Set-Cookie", Value: "a=1"},
			{Name: "Set-Cookie", Value: "b=2"},
		},
		Body: []byte(`{}`),
	}

	w := httptest.NewRecorder()
	require.NoError(t, resp.WriteTo(w))

	assert.Equal(t, 201, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.Empty(t, w.Header().Get("Connection"))
	assert.Equal(t, "2", w.Header().Get("Content-Length"))
	assert.Equal(t, []string{"a=1", "b=2"}, w.Header().Values("Set-Cookie"))
	assert.Equal(t, `{}`, w.Body.String())
	assert.Equal(t, "application/json", resp.Get("content-type"))
}
