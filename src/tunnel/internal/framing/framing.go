// Package framing implements the LSP base protocol wire format: a
// Content-Length header block followed by exactly that many payload bytes.
package framing

import (
	"bufio"
	"bytes"
	stderr "errors"
	"io"
	"strconv"
	"strings"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
)

const (
	_headerContentLength = "Content-Length"
	_headerSeparator     = "\r\n"
)

// Encode frames a payload for the wire. The declared length is the byte
// length of the payload, not its rune count.
func Encode(payload []byte) []byte {
	var b bytes.Buffer
	b.Grow(len(payload) + 32)
	b.WriteString(_headerContentLength)
	b.WriteString(": ")
	b.WriteString(strconv.Itoa(len(payload)))
	b.WriteString(_headerSeparator)
	b.WriteString(_headerSeparator)
	b.Write(payload)
	return b.Bytes()
}

// Write frames the payload and writes it to w in a single call.
func Write(w io.Writer, payload []byte) error {
	_, err := w.Write(Encode(payload))
	return err
}

// Decoder reads framed payloads off a byte stream. It is not safe for
// concurrent use; each pump direction owns its own Decoder.
type Decoder struct {
	r *bufio.Reader

	// Length recovered by resync, consumed by the next call to Next.
	pending *int
}

// NewDecoder returns a Decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	return &Decoder{r: bufio.NewReaderSize(r, 64*1024)}
}

// Next returns the payload of the next frame.
//
// A stream ending anywhere, including mid-header or mid-payload, yields
// io.EOF so the caller can tell a closed pipe from corruption. A header block
// without a parseable Content-Length yields a *errors.ProtocolError for that
// frame only; the decoder resynchronizes at the next plausible header so the
// following call returns the next good frame.
func (d *Decoder) Next() ([]byte, error) {
	var length int
	if d.pending != nil {
		length = *d.pending
		d.pending = nil
	} else {
		n, err := d.readHeader()
		if err != nil {
			var pe *errors.ProtocolError
			if stderr.As(err, &pe) {
				d.resync()
			}
			return nil, err
		}
		length = n
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(d.r, payload); err != nil {
		// Truncated payload is a graceful close from the caller's view.
		return nil, io.EOF
	}
	return payload, nil
}

// readHeader consumes header lines up to and including the blank separator
// line and returns the declared content length.
func (d *Decoder) readHeader() (int, error) {
	length := -1
	sawLine := false

	for {
		line, err := d.readLine()
		if err != nil {
			return 0, io.EOF
		}
		if line == "" {
			if length < 0 {
				if !sawLine {
					// Stray blank line between frames; keep scanning.
					continue
				}
				return 0, &errors.ProtocolError{Reason: "header block without Content-Length"}
			}
			return length, nil
		}
		sawLine = true

		name, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		// Content-Length is matched case-sensitively, as language servers emit it.
		// Other headers (e.g. Content-Type) are tolerated and ignored.
		if name != _headerContentLength {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil || n < 0 {
			return 0, &errors.ProtocolError{Reason: "unparseable Content-Length " + strconv.Quote(strings.TrimSpace(value))}
		}
		length = n
	}
}

// resync scans forward for the next Content-Length header, consumes its
// header block, and stashes the length for the following call to Next.
// A stream ending during the scan leaves the decoder at EOF.
func (d *Decoder) resync() {
	marker := []byte(_headerContentLength + ":")
	window := make([]byte, 0, len(marker))

	for {
		b, err := d.r.ReadByte()
		if err != nil {
			return
		}
		window = append(window, b)
		if len(window) > len(marker) {
			window = window[1:]
		}
		if !bytes.Equal(window, marker) {
			continue
		}

		rest, err := d.readLine()
		if err != nil {
			return
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n < 0 {
			window = window[:0]
			continue
		}

		// Consume the remainder of the header block.
		for {
			line, err := d.readLine()
			if err != nil {
				return
			}
			if line == "" {
				break
			}
		}
		d.pending = &n
		return
	}
}

// readLine reads a single \r\n terminated header line. A line terminated by a
// bare \n is tolerated.
func (d *Decoder) readLine() (string, error) {
	line, err := d.r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}
