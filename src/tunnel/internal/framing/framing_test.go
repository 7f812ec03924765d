package framing

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lsptunnel/lsptunnel/src/tunnel/internal/errors"
)

func TestEncode(t *testing.T) {
	got := Encode([]byte(`{"jsonrpc":"2.0"}`))
	assert.Equal(t, "Content-Length: 17\r\n\r\n"+`{"jsonrpc":"2.0"}`, string(got))
}

func TestEncodeCountsBytesNotRunes(t *testing.T) {
	payload := []byte(`{"text":"héllo"}`)
	got := Encode(payload)
	assert.True(t, bytes.HasPrefix(got, []byte("Content-Length: 17\r\n\r\n")))
}

func TestRoundTrip(t *testing.T) {
	payloads := [][]byte{
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"initialize"}`),
		[]byte("{}"),
		[]byte("{\"text\":\"multi\nline\npayload\"}"),
	}

	for _, payload := range payloads {
		d := NewDecoder(bytes.NewReader(Encode(payload)))

		got, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, payload, got)

		_, err = d.Next()
		assert.ErrorIs(t, err, io.EOF)
	}
}

func TestDecodeSequence(t *testing.T) {
	var stream bytes.Buffer
	stream.Write(Encode([]byte(`{"id":1}`)))
	stream.Write(Encode([]byte(`{"id":2}`)))
	stream.Write(Encode([]byte(`{"id":3}`)))

	d := NewDecoder(&stream)
	for _, want := range []string{`{"id":1}`, `{"id":2}`, `{"id":3}`} {
		got, err := d.Next()
		require.NoError(t, err)
		assert.Equal(t, want, string(got))
	}
	_, err := d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeIgnoresExtraHeaders(t *testing.T) {
	raw := "Content-Length: 2\r\nContent-Type: application/vscode-jsonrpc; charset=utf-8\r\n\r\n{}"
	d := NewDecoder(strings.NewReader(raw))

	got, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, "{}", string(got))
}

func TestDecodeTruncatedHeaderIsEOF(t *testing.T) {
	d := NewDecoder(strings.NewReader("Content-Length: 100\r\n"))
	_, err := d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeTruncatedPayloadIsEOF(t *testing.T) {
	d := NewDecoder(strings.NewReader("Content-Length: 100\r\n\r\n{\"partial\":"))
	_, err := d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeEmptyStreamIsEOF(t *testing.T) {
	d := NewDecoder(strings.NewReader(""))
	_, err := d.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestDecodeBadContentLengthResynchronizes(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("Content-Length: banana\r\n\r\n")
	stream.Write(Encode([]byte(`{"id":7}`)))

	d := NewDecoder(&stream)

	_, err := d.Next()
	require.Error(t, err)
	var pe *errors.ProtocolError
	assert.ErrorAs(t, err, &pe)

	got, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"id":7}`, string(got))
}

func TestDecodeMissingContentLengthResynchronizes(t *testing.T) {
	var stream bytes.Buffer
	stream.WriteString("Content-Type: application/vscode-jsonrpc\r\n\r\ngarbage bytes here")
	stream.Write(Encode([]byte(`{"id":8}`)))

	d := NewDecoder(&stream)

	_, err := d.Next()
	var pe *errors.ProtocolError
	require.ErrorAs(t, err, &pe)

	got, err := d.Next()
	require.NoError(t, err)
	assert.Equal(t, `{"id":8}`, string(got))
}

func TestDecodeNegativeContentLength(t *testing.T) {
	d := NewDecoder(strings.NewReader("Content-Length: -5\r\n\r\n"))
	_, err := d.Next()
	var pe *errors.ProtocolError
	assert.ErrorAs(t, err, &pe)
}
