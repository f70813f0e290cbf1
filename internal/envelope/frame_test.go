package envelope

import (
	"bufio"
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadRequestRoundTrip(t *testing.T) {
	var headers Headers
	headers.Set("clientID", "client-1")
	headers.Set("writeConsistency", "QUORUM")

	req := Request{
		MethodLine: "testcommand peekSleep=10",
		Headers:    headers,
		Body:       []byte("hello"),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteRequest(&buf, req))

	got, err := ReadRequest(bufio.NewReader(&buf))
	require.NoError(t, err)

	assert.Equal(t, req.MethodLine, got.MethodLine)
	assert.Equal(t, req.Body, got.Body)
	v, ok := got.Headers.Get("clientID")
	assert.True(t, ok)
	assert.Equal(t, "client-1", v)
}

func TestReadFrameRejectsNegativeContentLength(t *testing.T) {
	raw := "200 OK\r\nContent-Length: -1\r\n\r\n"
	_, err := ReadResponse(bufio.NewReader(strings.NewReader(raw)))
	require.Error(t, err)
}

func TestReadFrameEmptyBody(t *testing.T) {
	var headers Headers
	headers.Set("commitCount", "42")
	resp := Response{StatusLine: "200 OK", Headers: headers}

	var buf bytes.Buffer
	require.NoError(t, WriteResponse(&buf, resp))

	got, err := ReadResponse(bufio.NewReader(&buf))
	require.NoError(t, err)
	assert.Equal(t, "200 OK", got.StatusLine)
	assert.Empty(t, got.Body)
	cc, ok := got.Headers.Get("commitCount")
	assert.True(t, ok)
	assert.Equal(t, "42", cc)
}
