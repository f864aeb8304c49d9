package executor

import (
	"bufio"
	"bytes"
	"io"

	"github.com/kubently/kubently/internal/models"
)

// maxEventBytes bounds a single stream line. Command payloads are capped well
// below this by the fabric's arg limits.
const maxEventBytes = 256 * 1024

// eventScanner incrementally parses text/event-stream frames off the wire.
type eventScanner struct {
	sc *bufio.Scanner
}

func newEventScanner(r io.Reader) *eventScanner {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 16*1024), maxEventBytes)
	return &eventScanner{sc: sc}
}

// Next blocks until a complete frame arrives. It returns io.EOF when the
// stream ends cleanly and the underlying read error otherwise.
func (s *eventScanner) Next() (*models.StreamEvent, error) {
	var event string
	var data [][]byte
	for s.sc.Scan() {
		line := s.sc.Bytes()
		switch {
		case len(line) == 0:
			// blank line terminates the frame
			if event != "" || len(data) > 0 {
				return &models.StreamEvent{Event: event, Data: bytes.Join(data, []byte("\n"))}, nil
			}
		case line[0] == ':':
			// comment, used by some proxies as their own keepalive
		default:
			field, value := splitField(line)
			switch field {
			case "event":
				event = string(value)
			case "data":
				data = append(data, append([]byte(nil), value...))
			}
			// id and retry fields are not used by the fabric
		}
	}
	if err := s.sc.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// splitField splits "field: value", trimming the single optional space after
// the colon.
func splitField(line []byte) (string, []byte) {
	i := bytes.IndexByte(line, ':')
	if i < 0 {
		return string(line), nil
	}
	value := line[i+1:]
	if len(value) > 0 && value[0] == ' ' {
		value = value[1:]
	}
	return string(line[:i]), value
}
