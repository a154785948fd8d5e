package message

import (
	"bufio"
	"bytes"
	"io"
	"testing"
)

// slowReader returns data one byte at a time, to exercise parsing across
// arbitrary fragmentation of the input byte stream.
type slowReader struct {
	data []byte
	pos  int
}

func (s *slowReader) Read(p []byte) (int, error) {
	if s.pos >= len(s.data) {
		return 0, io.EOF
	}
	p[0] = s.data[s.pos]
	s.pos++
	return 1, nil
}

func TestParseRequestGetWithJSONBody(t *testing.T) {
	raw := "GET /v2/projects/abc/nodes HTTP/1.1\r\nAuthorization: Basic YWxpY2U6cHcx\r\nContent-Length: 2\r\n\r\n{}"
	msg, err := ParseRequest(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if msg.Method != "GET" {
		t.Fatalf("expected GET, got %s", msg.Method)
	}
	if string(msg.Body) != "{}" {
		t.Fatalf("expected body {}, got %q", msg.Body)
	}
}

func TestParseRequestPutWithJSONBody(t *testing.T) {
	raw := "PUT /v2/projects/abc HTTP/1.1\r\nContent-Length: 2\r\n\r\n{}"
	msg, err := ParseRequest(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(msg.Body) != "{}" {
		t.Fatalf("expected body {}, got %q", msg.Body)
	}
}

func TestParseRequestGetNoBody(t *testing.T) {
	raw := "GET /v2/version HTTP/1.1\r\nAuthorization: Basic YWxpY2U6cHcx\r\n\r\n"
	msg, err := ParseRequest(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(msg.Body) != 0 {
		t.Fatalf("expected empty body, got %q", msg.Body)
	}
	auth, ok := msg.Headers.Get("authorization")
	if !ok || auth != "Basic YWxpY2U6cHcx" {
		t.Fatalf("expected case-insensitive header lookup to find Authorization, got %q ok=%v", auth, ok)
	}
}

func TestChunkedDecodingLawArbitraryFragmentation(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nX-Route: /v2/other\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	msg, err := ParseResponse(bufio.NewReader(&slowReader{data: []byte(raw)}))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(msg.Body) != "hello" {
		t.Fatalf("expected body 'hello', got %q", msg.Body)
	}
	if msg.StatusCode != 200 {
		t.Fatalf("expected status 200, got %d", msg.StatusCode)
	}
}

func TestChunkedDecodingMultipleChunks(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n3\r\nfoo\r\n3\r\nbar\r\n0\r\n\r\n"
	msg, err := ParseResponse(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(msg.Body) != "foobar" {
		t.Fatalf("expected concatenated body 'foobar', got %q", msg.Body)
	}
}

func TestChunkedDecodingPreservesRawFraming(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n0\r\n\r\n"
	msg, err := ParseResponse(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	wantRaw := "5\r\nhello\r\n0\r\n\r\n"
	if string(msg.RawBody) != wantRaw {
		t.Fatalf("expected raw chunked body %q, got %q", wantRaw, msg.RawBody)
	}
	if string(msg.Body) != "hello" {
		t.Fatalf("expected decoded body 'hello', got %q", msg.Body)
	}
}

func TestFixedBodyRawMatchesDecoded(t *testing.T) {
	raw := "HTTP/1.1 200 OK\r\nContent-Length: 2\r\n\r\n{}"
	msg, err := ParseResponse(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if string(msg.RawBody) != "{}" {
		t.Fatalf("expected raw body {}, got %q", msg.RawBody)
	}
}

func TestBuildRoundTrip(t *testing.T) {
	raw := "GET /v2/version?x=1 HTTP/1.1\r\nAuthorization: Basic YWxpY2U6cHcx\r\nContent-Length: 2\r\n\r\n{}"
	msg, err := ParseRequest(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	rebuilt := msg.Build(nil, nil)
	msg2, err := ParseRequest(bufio.NewReader(bytes.NewReader(rebuilt)))
	if err != nil {
		t.Fatalf("re-parse failed: %v", err)
	}

	if msg2.Method != msg.Method || msg2.RawURL != msg.RawURL || msg2.Version != msg.Version {
		t.Fatalf("round-trip start line mismatch: %+v vs %+v", msg, msg2)
	}
	if string(msg2.Body) != string(msg.Body) {
		t.Fatalf("round-trip body mismatch: %q vs %q", msg.Body, msg2.Body)
	}
	v1, _ := msg.Headers.Get("Authorization")
	v2, _ := msg2.Headers.Get("Authorization")
	if v1 != v2 {
		t.Fatalf("round-trip header mismatch: %q vs %q", v1, v2)
	}
}

func TestBuildSubstitutesAuthorizationHeader(t *testing.T) {
	raw := "GET /v2/version HTTP/1.1\r\nAuthorization: Basic YWxpY2U6cHcx\r\n\r\n"
	msg, err := ParseRequest(bufio.NewReader(bytes.NewReader([]byte(raw))))
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}

	out := msg.Build([]string{"Authorization"}, []Header{{Name: "Authorization", Value: "Basic YWRtaW46cGFzc3dvcmQ="}})
	outStr := string(out)
	if bytes.Count(out, []byte("Authorization:")) != 1 {
		t.Fatalf("expected exactly one Authorization header, got: %s", outStr)
	}
	if bytes.Contains(out, []byte("YWxpY2U6cHcx")) {
		t.Fatalf("original Authorization value leaked into output: %s", outStr)
	}
	if !bytes.Contains(out, []byte("Basic YWRtaW46cGFzc3dvcmQ=")) {
		t.Fatalf("expected substituted Authorization value, got: %s", outStr)
	}
}

func TestHeadersStringRendering(t *testing.T) {
	h := NewHeaders()
	h.Add("Content-Type", "application/json")
	h.Add("X-Route", "/v2/projects")
	got := h.String()
	want := "Content-Type: application/json\r\nX-Route: /v2/projects\r\n"
	if got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
