// Package filter implements the response filter (component E): it rewrites
// the /v2/projects listing to hide projects a user's filters exclude, and
// raises a fatal error if a backend reports console_host = 0.0.0.0.
package filter

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/gns3net/gns3-proxy/pkg/buffer"
	"github.com/gns3net/gns3-proxy/pkg/config"
	"github.com/gns3net/gns3-proxy/pkg/constants"
	"github.com/gns3net/gns3-proxy/pkg/errors"
	"github.com/gns3net/gns3-proxy/pkg/message"
)

// project is one decoded GNS3 project object. It is a generic map rather
// than a narrow struct so that fields the filter does not inspect survive
// re-encoding; only "name" is examined, and kept projects stay in their
// original order.
type project = map[string]interface{}

// Apply inspects resp (already header-parsed) and rewrites its body when the
// X-Route identifies a route this filter understands. backendReader is used
// to pull additional bytes from the backend connection when the body parsed
// so far is shorter than Content-Length announces (the streaming top-up read
// described in the project-list algorithm). It returns the (possibly
// rewritten) raw response bytes to forward to the client.
func Apply(cfg *config.Config, authenticatedUser string, resp *message.Message, rawHeaderBlock []byte, backendReader *bufio.Reader) ([]byte, error) {
	route, _ := resp.Headers.Get("X-Route")

	switch {
	case route == constants.RouteProjects:
		return applyProjectFilter(cfg, authenticatedUser, resp, rawHeaderBlock, backendReader)
	case strings.HasPrefix(route, constants.RouteProjects) && strings.HasSuffix(route, constants.RouteProjectsNodesSuffix):
		if bytes.Contains(resp.Body, []byte(constants.ConsoleHostGuardNeedle)) {
			return nil, errors.NewBackendMisconfigured("filter", "backend reported console_host = 0.0.0.0; clients cannot reach node consoles through the proxy")
		}
		return buildPassthrough(resp, rawHeaderBlock), nil
	default:
		return buildPassthrough(resp, rawHeaderBlock), nil
	}
}

func applyProjectFilter(cfg *config.Config, authenticatedUser string, resp *message.Message, rawHeaderBlock []byte, backendReader *bufio.Reader) ([]byte, error) {
	filters := userProjectFilters(cfg, authenticatedUser)
	if len(filters) == 0 {
		return buildPassthrough(resp, rawHeaderBlock), nil
	}

	body, err := topUpBody(resp, rawHeaderBlock, backendReader)
	if err != nil {
		return nil, err
	}

	var projects []project
	if err := json.Unmarshal(body, &projects); err != nil {
		// Non-fatal: pass through the original body unchanged and let the
		// caller log the parse error.
		resp.Body = body
		return buildPassthrough(resp, rawHeaderBlock), errors.NewParseError("filter project list", err)
	}

	seen := make(map[string]bool, len(projects))
	var kept []project
	for _, p := range projects {
		name, _ := p["name"].(string)
		if seen[name] {
			continue
		}
		for _, re := range filters {
			if re.MatchString(name) {
				kept = append(kept, p)
				seen[name] = true
				break
			}
		}
	}
	if kept == nil {
		kept = []project{}
	}

	newBody, err := json.Marshal(kept)
	if err != nil {
		resp.Body = body
		return buildPassthrough(resp, rawHeaderBlock), errors.NewParseError("re-encode project list", err)
	}

	resp.Body = newBody
	return buildRewritten(rawHeaderBlock, newBody), nil
}

func userProjectFilters(cfg *config.Config, authenticatedUser string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, pf := range cfg.ProjectFilters {
		for u := range cfg.Users {
			if u == authenticatedUser && pf.UserPattern.MatchString(u) {
				out = append(out, pf.ProjectPattern)
				break
			}
		}
	}
	return out
}

// topUpBody implements the blocking top-up read: if the body accumulated so
// far is shorter than Content-Length announces, it keeps reading from the
// backend connection until satisfied. The accumulation runs through a
// buffer.Buffer so a large project export spills to a temp file past the
// default memory threshold instead of growing an ever-larger []byte.
func topUpBody(resp *message.Message, rawHeaderBlock []byte, backendReader *bufio.Reader) ([]byte, error) {
	clStr, ok := headerValue(rawHeaderBlock, "Content-Length")
	if !ok {
		return resp.Body, nil
	}
	contentLength, err := strconv.Atoi(strings.TrimSpace(clStr))
	if err != nil {
		return resp.Body, nil
	}
	if contentLength <= len(resp.Body) {
		return resp.Body, nil
	}

	buf := buffer.New(buffer.DefaultMemoryLimit)
	defer buf.Close()
	if _, err := buf.Write(resp.Body); err != nil {
		return nil, errors.NewParseError("top-up project list body", err)
	}

	remaining := contentLength - len(resp.Body)
	chunk := make([]byte, 32*1024)
	for remaining > 0 {
		n, err := backendReader.Read(chunk[:min(len(chunk), remaining)])
		if n > 0 {
			if _, werr := buf.Write(chunk[:n]); werr != nil {
				return nil, errors.NewParseError("top-up project list body", werr)
			}
			remaining -= n
		}
		if err != nil {
			return nil, errors.NewParseError("top-up project list body", err)
		}
	}

	if !buf.IsSpilled() {
		return buf.Bytes(), nil
	}
	r, err := buf.Reader()
	if err != nil {
		return nil, errors.NewParseError("top-up project list body", err)
	}
	defer r.Close()
	body, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.NewParseError("top-up project list body", err)
	}
	return body, nil
}

func headerValue(rawHeaderBlock []byte, name string) (string, bool) {
	lines := strings.Split(string(rawHeaderBlock), "\r\n")
	lname := strings.ToLower(name)
	for _, line := range lines {
		idx := strings.IndexByte(line, ':')
		if idx < 0 {
			continue
		}
		if strings.ToLower(strings.TrimSpace(line[:idx])) == lname {
			return strings.TrimSpace(line[idx+1:]), true
		}
	}
	return "", false
}

// buildPassthrough re-emits the response bytes verbatim: header block,
// CRLFCRLF, body exactly as received on the wire. It forwards RawBody, not
// Body, so a chunked response keeps its chunk framing intact — the header
// block still announces Transfer-Encoding: chunked, and the body must match.
func buildPassthrough(resp *message.Message, rawHeaderBlock []byte) []byte {
	out := make([]byte, 0, len(rawHeaderBlock)+4+len(resp.RawBody))
	out = append(out, rawHeaderBlock...)
	out = append(out, '\r', '\n', '\r', '\n')
	out = append(out, resp.RawBody...)
	return out
}

// buildRewritten re-emits rawHeaderBlock with its Content-Length line fixed
// to match newBody, followed by CRLFCRLF and newBody.
func buildRewritten(rawHeaderBlock []byte, newBody []byte) []byte {
	var headerLines []string
	for _, line := range strings.Split(strings.TrimRight(string(rawHeaderBlock), "\r\n"), "\r\n") {
		if strings.HasPrefix(strings.ToLower(line), "content-length:") {
			continue
		}
		headerLines = append(headerLines, line)
	}
	headerLines = append(headerLines, fmt.Sprintf("Content-Length: %d", len(newBody)))

	var b bytes.Buffer
	for _, line := range headerLines {
		b.WriteString(line)
		b.WriteString("\r\n")
	}
	b.WriteString("\r\n")
	b.Write(newBody)
	return b.Bytes()
}
