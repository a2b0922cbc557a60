// Package sse decodes the two streaming wire formats used by the supported
// dialects. Decoders are fed raw bytes as they arrive and emit the same
// events no matter how the input is split into chunks.
package sse

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/felipepmaragno/llm-council/internal/domain"
)

// Decoder consumes raw stream bytes incrementally. Feed may be called with
// arbitrarily split input; Close flushes anything left in the buffer.
type Decoder interface {
	Feed(p []byte) ([]domain.StreamEvent, error)
	Close() ([]domain.StreamEvent, error)
	Done() bool
}

// DataLineDecoder handles the openai-style format: one "data:" line per
// event, "[DONE]" as the terminator, text at choices[0].delta.content.
type DataLineDecoder struct {
	buf  []byte
	done bool
}

func NewDataLineDecoder() *DataLineDecoder {
	return &DataLineDecoder{}
}

func (d *DataLineDecoder) Feed(p []byte) ([]domain.StreamEvent, error) {
	d.buf = append(d.buf, p...)

	var events []domain.StreamEvent
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			return events, nil
		}
		line := string(bytes.TrimRight(d.buf[:i], "\r"))
		d.buf = d.buf[i+1:]

		ev, err := d.line(line)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
}

func (d *DataLineDecoder) Close() ([]domain.StreamEvent, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}
	line := string(bytes.TrimRight(d.buf, "\r"))
	d.buf = nil
	ev, err := d.line(line)
	if err != nil || ev == nil {
		return nil, err
	}
	return []domain.StreamEvent{*ev}, nil
}

func (d *DataLineDecoder) Done() bool {
	return d.done
}

func (d *DataLineDecoder) line(line string) (*domain.StreamEvent, error) {
	if d.done || line == "" || !strings.HasPrefix(line, "data:") {
		// Blank lines, comments, and event names carry no payload here.
		return nil, nil
	}

	payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
	if payload == "[DONE]" {
		d.done = true
		return nil, nil
	}

	var chunk struct {
		Choices []struct {
			Delta struct {
				Content string `json:"content"`
			} `json:"delta"`
		} `json:"choices"`
	}
	if err := json.Unmarshal([]byte(payload), &chunk); err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrMalformedStream, payload)
	}

	if len(chunk.Choices) == 0 || chunk.Choices[0].Delta.Content == "" {
		return nil, nil
	}
	return &domain.StreamEvent{
		Content: chunk.Choices[0].Delta.Content,
		Raw:     json.RawMessage(payload),
	}, nil
}

// EventBlockDecoder handles the anthropic-style format: blank-line
// separated blocks with "event:" and "data:" lines. Only
// content_block_delta blocks carry text; message_stop ends the stream.
type EventBlockDecoder struct {
	buf  []byte
	done bool
}

func NewEventBlockDecoder() *EventBlockDecoder {
	return &EventBlockDecoder{}
}

func (d *EventBlockDecoder) Feed(p []byte) ([]domain.StreamEvent, error) {
	d.buf = append(d.buf, p...)

	var events []domain.StreamEvent
	for {
		i := blockEnd(d.buf)
		if i < 0 {
			return events, nil
		}
		block := d.buf[:i]
		d.buf = d.buf[i:]
		for len(d.buf) > 0 && (d.buf[0] == '\n' || d.buf[0] == '\r') {
			d.buf = d.buf[1:]
		}

		ev, err := d.block(block)
		if err != nil {
			return events, err
		}
		if ev != nil {
			events = append(events, *ev)
		}
	}
}

func (d *EventBlockDecoder) Close() ([]domain.StreamEvent, error) {
	if len(d.buf) == 0 {
		return nil, nil
	}
	block := d.buf
	d.buf = nil
	ev, err := d.block(block)
	if err != nil || ev == nil {
		return nil, err
	}
	return []domain.StreamEvent{*ev}, nil
}

func (d *EventBlockDecoder) Done() bool {
	return d.done
}

// blockEnd returns the index just past a complete block, i.e. at its
// terminating blank line, or -1 if no full block is buffered yet.
func blockEnd(buf []byte) int {
	if i := bytes.Index(buf, []byte("\n\n")); i >= 0 {
		return i
	}
	if i := bytes.Index(buf, []byte("\r\n\r\n")); i >= 0 {
		return i
	}
	return -1
}

func (d *EventBlockDecoder) block(block []byte) (*domain.StreamEvent, error) {
	if d.done {
		return nil, nil
	}

	var eventType string
	var data []string
	for _, raw := range strings.Split(string(block), "\n") {
		line := strings.TrimRight(raw, "\r")
		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimSpace(strings.TrimPrefix(line, "data:")))
		}
	}
	payload := strings.Join(data, "\n")

	// The event name may be absent; fall back to the type field inside.
	if eventType == "" && payload != "" {
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal([]byte(payload), &head); err == nil {
			eventType = head.Type
		}
	}

	switch eventType {
	case "message_stop":
		d.done = true
		return nil, nil
	case "content_block_delta":
		var ev struct {
			Delta struct {
				Text string `json:"text"`
			} `json:"delta"`
		}
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			return nil, fmt.Errorf("%w: %q", domain.ErrMalformedStream, payload)
		}
		if ev.Delta.Text == "" {
			return nil, nil
		}
		return &domain.StreamEvent{
			Content: ev.Delta.Text,
			Raw:     json.RawMessage(payload),
		}, nil
	default:
		// Pings, message_start, content_block_start etc. carry no text.
		return nil, nil
	}
}
