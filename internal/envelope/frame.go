package envelope

import (
	"bufio"
	"io"
	"net"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

const maxHeaderLines = 256

// WriteFrame serializes a method/status line, headers, and body to w using
// the wire format:
//
//	VERB [ARGS]\r\n
//	Key: Value\r\n
//	\r\n
//	<body>
//
// Content-Length is stamped automatically from len(body).
func WriteFrame(w io.Writer, firstLine string, headers Headers, body []byte) error {
	var b strings.Builder
	b.WriteString(firstLine)
	b.WriteString("\r\n")

	headers.Each(func(key, value string) {
		if key == "Content-Length" {
			return
		}
		b.WriteString(key)
		b.WriteString(": ")
		b.WriteString(value)
		b.WriteString("\r\n")
	})
	b.WriteString("Content-Length: ")
	b.WriteString(strconv.Itoa(len(body)))
	b.WriteString("\r\n\r\n")

	bufs := net.Buffers{[]byte(b.String()), body}
	_, err := bufs.WriteTo(w)
	return err
}

// ReadFrame reads one frame from r: a first line, headers up to a blank
// line, then a body of the declared Content-Length bytes.
func ReadFrame(r *bufio.Reader) (firstLine string, headers Headers, body []byte, err error) {
	firstLine, err = readLine(r)
	if err != nil {
		return "", Headers{}, nil, err
	}

	for i := 0; ; i++ {
		if i >= maxHeaderLines {
			return "", Headers{}, nil, errors.New("envelope: too many header lines")
		}
		line, err := readLine(r)
		if err != nil {
			return "", Headers{}, nil, err
		}
		if line == "" {
			break
		}
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return "", Headers{}, nil, errors.Newf("envelope: malformed header line %q", line)
		}
		headers.Set(strings.TrimSpace(key), strings.TrimSpace(value))
	}

	contentLength := headers.GetInt("Content-Length")
	if contentLength < 0 {
		return "", Headers{}, nil, errors.Newf("envelope: negative Content-Length %d", contentLength)
	}

	if contentLength == 0 {
		return firstLine, headers, nil, nil
	}

	body = make([]byte, contentLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return "", Headers{}, nil, errors.Wrap(err, "envelope: reading body")
	}

	return firstLine, headers, body, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// ReadRequest reads a Request frame (method line + headers + body) from r.
func ReadRequest(r *bufio.Reader) (Request, error) {
	line, headers, body, err := ReadFrame(r)
	if err != nil {
		return Request{}, err
	}
	return Request{MethodLine: line, Headers: headers, Body: body}, nil
}

// WriteRequest writes req to w as a framed request.
func WriteRequest(w io.Writer, req Request) error {
	return WriteFrame(w, req.MethodLine, req.Headers, req.Body)
}

// ReadResponse reads a Response frame (status line + headers + body) from r.
func ReadResponse(r *bufio.Reader) (Response, error) {
	line, headers, body, err := ReadFrame(r)
	if err != nil {
		return Response{}, err
	}
	return Response{StatusLine: line, Headers: headers, Body: body}, nil
}

// WriteResponse writes resp to w as a framed response.
func WriteResponse(w io.Writer, resp Response) error {
	return WriteFrame(w, resp.StatusLine, resp.Headers, resp.Body)
}
