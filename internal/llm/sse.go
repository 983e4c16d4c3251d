package llm

import (
	"bytes"
	"errors"
	"io"
	"strings"
)

// errStopStream is returned by a data handler to end the stream early without error.
var errStopStream = errors.New("stop sse stream")

const sseDoneSentinel = "[DONE]"

// sseDecoder splits a server-sent-event byte stream into data payloads.
// Bytes may arrive in arbitrary fragments; an incomplete trailing line is buffered
// until its terminator arrives.
type sseDecoder struct {
	buf []byte
}

// Feed appends a fragment and returns the data payloads of every completed line.
// Comment, keep-alive and non-data field lines are dropped.
func (d *sseDecoder) Feed(p []byte) []string {
	d.buf = append(d.buf, p...)

	var payloads []string
	for {
		idx := bytes.IndexByte(d.buf, '\n')
		if idx < 0 {
			break
		}
		line := string(d.buf[:idx])
		d.buf = d.buf[idx+1:]
		if data, ok := parseDataLine(line); ok {
			payloads = append(payloads, data)
		}
	}
	return payloads
}

// Flush returns the payload of a final unterminated line, if any.
func (d *sseDecoder) Flush() []string {
	if len(d.buf) == 0 {
		return nil
	}
	line := string(d.buf)
	d.buf = nil
	if data, ok := parseDataLine(line); ok {
		return []string{data}
	}
	return nil
}

func parseDataLine(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if data == "" {
		return "", false
	}
	return data, true
}

// readSSE feeds r through a decoder and calls handle for each data payload.
// handle may return errStopStream to end reading early.
func readSSE(r io.Reader, handle func(data string) error) error {
	var dec sseDecoder
	chunk := make([]byte, 4096)

	dispatch := func(payloads []string) error {
		for _, data := range payloads {
			if err := handle(data); err != nil {
				return err
			}
		}
		return nil
	}

	for {
		n, err := r.Read(chunk)
		if n > 0 {
			if herr := dispatch(dec.Feed(chunk[:n])); herr != nil {
				if errors.Is(herr, errStopStream) {
					return nil
				}
				return herr
			}
		}
		if err == io.EOF {
			if herr := dispatch(dec.Flush()); herr != nil && !errors.Is(herr, errStopStream) {
				return herr
			}
			return nil
		}
		if err != nil {
			return err
		}
	}
}
