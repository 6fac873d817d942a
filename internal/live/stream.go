package live

import (
	"bufio"
	"io"
	"strings"
)

// Frame is one dispatched server-sent event.
type Frame struct {
	ID    string
	Event string
	Data  string
}

const maxFrameLine = 1 << 20

// Stream reads server-sent event frames from r.
type Stream struct {
	sc *bufio.Scanner
}

func NewStream(r io.Reader) *Stream {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 4096), maxFrameLine)
	return &Stream{sc: sc}
}

// Next returns the next frame. It returns io.EOF when the stream ends
// cleanly; a partial frame at EOF is discarded.
func (s *Stream) Next() (Frame, error) {
	var (
		f       Frame
		data    []string
		hasData bool
	)
	for s.sc.Scan() {
		line := strings.TrimSuffix(s.sc.Text(), "\r")

		if line == "" {
			if !hasData && f.Event == "" {
				continue
			}
			f.Data = strings.Join(data, "\n")
			if f.Event == "" {
				f.Event = "message"
			}
			return f, nil
		}
		if strings.HasPrefix(line, ":") {
			continue
		}

		field, value, _ := strings.Cut(line, ":")
		value = strings.TrimPrefix(value, " ")
		switch field {
		case "event":
			f.Event = value
		case "data":
			data = append(data, value)
			hasData = true
		case "id":
			f.ID = value
		}
	}
	if err := s.sc.Err(); err != nil {
		return Frame{}, err
	}
	return Frame{}, io.EOF
}
