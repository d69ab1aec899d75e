// Package sock implements a minimal HTTP/1.1 client over a Unix domain
// socket. It opens a fresh connection per request and never reuses one,
// which keeps the failure model trivial for a test-tooling client.
package sock

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
)

// maxLineLen bounds the scratch buffer used for the status line and each
// header line. Engine responses stay far below this.
const maxLineLen = 16 * 1024

const userAgent = "containertest"

var (
	// ErrLineTooLong is returned when a status or header line exceeds the
	// scratch buffer.
	ErrLineTooLong = errors.New("sock: response line too long")
)

// Transport exchanges single HTTP/1.1 requests over a Unix socket.
type Transport struct {
	socketPath string
	dialer     net.Dialer
}

// New returns a Transport bound to the given socket path.
func New(socketPath string) *Transport {
	return &Transport{socketPath: socketPath}
}

// SocketPath returns the socket path this transport dials.
func (t *Transport) SocketPath() string {
	return t.socketPath
}

// Response is a fully buffered HTTP response.
type Response struct {
	StatusCode int
	Header     map[string]string
	Body       []byte
}

// Do performs a request and buffers the whole response body according to
// Content-Length or chunked framing. A response with neither is read until
// the peer closes the connection.
func (t *Transport) Do(ctx context.Context, method, path, contentType string, body []byte) (*Response, error) {
	status, header, r, conn, err := t.roundTrip(ctx, method, path, contentType, body)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	buf, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("sock: read body: %w", err)
	}
	return &Response{StatusCode: status, Header: header, Body: buf}, nil
}

// DoStream performs a request and returns the response body as a live
// reader. Closing the reader closes the underlying connection.
func (t *Transport) DoStream(ctx context.Context, method, path, contentType string, body []byte) (int, io.ReadCloser, error) {
	status, _, r, conn, err := t.roundTrip(ctx, method, path, contentType, body)
	if err != nil {
		return 0, nil, err
	}
	return status, &bodyReader{r: r, conn: conn}, nil
}

func (t *Transport) roundTrip(ctx context.Context, method, path, contentType string, body []byte) (int, map[string]string, io.Reader, net.Conn, error) {
	conn, err := t.dialer.DialContext(ctx, "unix", t.socketPath)
	if err != nil {
		return 0, nil, nil, nil, fmt.Errorf("sock: dial %s: %w", t.socketPath, err)
	}
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	var req strings.Builder
	fmt.Fprintf(&req, "%s %s HTTP/1.1\r\n", method, path)
	req.WriteString("Host: docker\r\n")
	req.WriteString("User-Agent: " + userAgent + "\r\n")
	req.WriteString("Connection: close\r\n")
	if contentType != "" {
		req.WriteString("Content-Type: " + contentType + "\r\n")
	}
	fmt.Fprintf(&req, "Content-Length: %d\r\n", len(body))
	req.WriteString("\r\n")

	if _, err := io.WriteString(conn, req.String()); err != nil {
		conn.Close()
		return 0, nil, nil, nil, fmt.Errorf("sock: write request: %w", err)
	}
	if len(body) > 0 {
		if _, err := conn.Write(body); err != nil {
			conn.Close()
			return 0, nil, nil, nil, fmt.Errorf("sock: write body: %w", err)
		}
	}

	br := bufio.NewReaderSize(conn, maxLineLen)
	status, header, err := readResponseHead(br)
	if err != nil {
		conn.Close()
		return 0, nil, nil, nil, err
	}

	return status, header, bodyFraming(br, header), conn, nil
}

// readResponseHead parses the status line and headers up to the blank line.
func readResponseHead(br *bufio.Reader) (int, map[string]string, error) {
	line, err := readLine(br)
	if err != nil {
		return 0, nil, err
	}
	status, err := parseStatusLine(line)
	if err != nil {
		return 0, nil, err
	}

	header := make(map[string]string)
	for {
		line, err := readLine(br)
		if err != nil {
			return 0, nil, err
		}
		if line == "" {
			return status, header, nil
		}
		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		header[strings.ToLower(strings.TrimSpace(name))] = strings.TrimSpace(value)
	}
}

func parseStatusLine(line string) (int, error) {
	// "HTTP/1.1 200 OK"
	fields := strings.SplitN(line, " ", 3)
	if len(fields) < 2 || !strings.HasPrefix(fields[0], "HTTP/") {
		return 0, fmt.Errorf("sock: malformed status line %q", line)
	}
	code, err := strconv.Atoi(fields[1])
	if err != nil {
		return 0, fmt.Errorf("sock: malformed status code in %q", line)
	}
	return code, nil
}

// readLine reads one CRLF-terminated line. It fails with ErrLineTooLong when
// the line does not fit in the reader's buffer and with io.ErrUnexpectedEOF
// when the socket closes mid-line.
func readLine(br *bufio.Reader) (string, error) {
	line, err := br.ReadString('\n')
	if err != nil {
		if errors.Is(err, bufio.ErrBufferFull) {
			return "", ErrLineTooLong
		}
		if errors.Is(err, io.EOF) {
			return "", io.ErrUnexpectedEOF
		}
		return "", fmt.Errorf("sock: read line: %w", err)
	}
	if len(line) >= maxLineLen {
		return "", ErrLineTooLong
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// bodyFraming picks the body reader for the response: Content-Length,
// chunked transfer coding, or read-to-EOF (exec and attach streams carry
// neither and end when the engine closes the connection).
func bodyFraming(br *bufio.Reader, header map[string]string) io.Reader {
	if strings.EqualFold(header["transfer-encoding"], "chunked") {
		return &chunkedReader{br: br}
	}
	if v, ok := header["content-length"]; ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n >= 0 {
			return &lengthReader{br: br, remain: n}
		}
	}
	return br
}

// lengthReader reads exactly the declared Content-Length. A peer closing
// the connection before delivering that many bytes surfaces
// io.ErrUnexpectedEOF rather than a silently truncated body.
type lengthReader struct {
	br     *bufio.Reader
	remain int64
}

func (l *lengthReader) Read(p []byte) (int, error) {
	if l.remain == 0 {
		return 0, io.EOF
	}
	if int64(len(p)) > l.remain {
		p = p[:l.remain]
	}
	n, err := l.br.Read(p)
	l.remain -= int64(n)
	if errors.Is(err, io.EOF) && l.remain > 0 {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

// chunkedReader decodes the HTTP/1.1 chunked transfer coding. Chunk
// extensions after ';' are ignored, a zero-size chunk ends the body.
type chunkedReader struct {
	br      *bufio.Reader
	remain  int64
	done    bool
	sawData bool
}

func (c *chunkedReader) Read(p []byte) (int, error) {
	if c.done {
		return 0, io.EOF
	}
	if c.remain == 0 {
		if c.sawData {
			// CRLF trailing the previous chunk's data.
			if _, err := readLine(c.br); err != nil {
				return 0, err
			}
		}
		line, err := readLine(c.br)
		if err != nil {
			return 0, err
		}
		if i := strings.IndexByte(line, ';'); i >= 0 {
			line = line[:i]
		}
		size, err := strconv.ParseInt(strings.TrimSpace(line), 16, 64)
		if err != nil {
			return 0, fmt.Errorf("sock: malformed chunk size %q", line)
		}
		if size == 0 {
			c.done = true
			return 0, io.EOF
		}
		c.remain = size
		c.sawData = true
	}

	if int64(len(p)) > c.remain {
		p = p[:c.remain]
	}
	n, err := c.br.Read(p)
	c.remain -= int64(n)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return n, err
	}
	return n, nil
}

type bodyReader struct {
	r    io.Reader
	conn net.Conn
}

func (b *bodyReader) Read(p []byte) (int, error) { return b.r.Read(p) }

func (b *bodyReader) Close() error { return b.conn.Close() }
