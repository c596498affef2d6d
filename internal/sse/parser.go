// Package sse reassembles server-sent events from arbitrarily split network
// chunks.
package sse

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
)

// DoneSentinel is the data value that terminates a chat-completions stream.
const DoneSentinel = "[DONE]"

const dataPrefix = "data:"

// Event is one complete server-sent event. Only data lines are kept.
type Event struct {
	Data string
	// Done is set for the terminating sentinel.
	Done bool
}

// Parser buffers chunk text and yields events once a blank line completes
// them. An incomplete trailing event is retained for the next Feed.
type Parser struct {
	buf []byte
}

// Feed appends a network chunk and returns every event it completes.
func (p *Parser) Feed(chunk []byte) []Event {
	p.buf = append(p.buf, chunk...)

	var events []Event
	for {
		end, sepLen := boundary(p.buf)
		if end < 0 {
			break
		}
		block := string(p.buf[:end])
		p.buf = p.buf[end+sepLen:]
		if ev, ok := parseBlock(block); ok {
			events = append(events, ev)
		}
	}
	return events
}

// Flush returns the buffered remainder as a final event, for streams that
// close without a trailing blank line.
func (p *Parser) Flush() []Event {
	block := string(p.buf)
	p.buf = nil
	if ev, ok := parseBlock(block); ok {
		return []Event{ev}
	}
	return nil
}

// boundary finds the first blank line, accepting LF and CRLF endings.
func boundary(buf []byte) (int, int) {
	lf := bytes.Index(buf, []byte("\n\n"))
	crlf := bytes.Index(buf, []byte("\r\n\r\n"))
	switch {
	case lf < 0 && crlf < 0:
		return -1, 0
	case crlf < 0 || (lf >= 0 && lf < crlf):
		return lf, 2
	default:
		return crlf, 4
	}
}

func parseBlock(block string) (Event, bool) {
	var data []string
	for _, line := range strings.Split(block, "\n") {
		line = strings.TrimRight(line, "\r")
		if !strings.HasPrefix(line, dataPrefix) {
			continue
		}
		value := strings.TrimPrefix(line, dataPrefix)
		value = strings.TrimPrefix(value, " ")
		data = append(data, value)
	}
	if len(data) == 0 {
		return Event{}, false
	}
	joined := strings.Join(data, "\n")
	if strings.TrimSpace(joined) == DoneSentinel {
		return Event{Data: DoneSentinel, Done: true}, true
	}
	return Event{Data: joined}, true
}

// ReadAll reads r in chunks and calls fn for each event until the sentinel,
// EOF, ctx cancellation, or an error from fn. Reaching the sentinel returns
// nil.
func ReadAll(ctx context.Context, r io.Reader, fn func(Event) error) error {
	var p Parser
	buf := make([]byte, 4096)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.Read(buf)
		if n > 0 {
			for _, ev := range p.Feed(buf[:n]) {
				if ev.Done {
					return nil
				}
				if ferr := fn(ev); ferr != nil {
					return ferr
				}
			}
		}
		if errors.Is(err, io.EOF) {
			for _, ev := range p.Flush() {
				if ev.Done {
					return nil
				}
				if ferr := fn(ev); ferr != nil {
					return ferr
				}
			}
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
	}
}
