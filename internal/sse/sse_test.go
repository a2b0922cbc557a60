package sse

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/felipepmaragno/llm-council/internal/domain"
)

func collect(t *testing.T, dec Decoder, input string, chunkSize int) []string {
	t.Helper()

	var out []string
	for i := 0; i < len(input); i += chunkSize {
		end := i + chunkSize
		if end > len(input) {
			end = len(input)
		}
		events, err := dec.Feed([]byte(input[i:end]))
		if err != nil {
			t.Fatalf("feed failed: %v", err)
		}
		for _, ev := range events {
			out = append(out, ev.Content)
		}
	}
	events, err := dec.Close()
	if err != nil {
		t.Fatalf("close failed: %v", err)
	}
	for _, ev := range events {
		out = append(out, ev.Content)
	}
	return out
}

const dataLineStream = `data: {"choices":[{"delta":{"content":"Hel"}}]}
data: {"choices":[{"delta":{"content":"lo"}}]}

data: {"choices":[{"delta":{"content":"!"}}]}
data: [DONE]
`

func TestDataLineDecoder_EmitsDeltas(t *testing.T) {
	dec := NewDataLineDecoder()

	got := collect(t, dec, dataLineStream, len(dataLineStream))
	want := []string{"Hel", "lo", "!"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if !dec.Done() {
		t.Error("expected decoder done after [DONE]")
	}
}

func TestDataLineDecoder_ChunkSplitIndependent(t *testing.T) {
	whole := collect(t, NewDataLineDecoder(), dataLineStream, len(dataLineStream))

	for _, size := range []int{1, 2, 3, 7, 16} {
		got := collect(t, NewDataLineDecoder(), dataLineStream, size)
		if strings.Join(got, "|") != strings.Join(whole, "|") {
			t.Errorf("chunk size %d: expected %v, got %v", size, whole, got)
		}
	}
}

func TestDataLineDecoder_IgnoresAfterDone(t *testing.T) {
	dec := NewDataLineDecoder()
	input := "data: [DONE]\ndata: {\"choices\":[{\"delta\":{\"content\":\"late\"}}]}\n"

	got := collect(t, dec, input, len(input))
	if len(got) != 0 {
		t.Errorf("expected no events after [DONE], got %v", got)
	}
}

func TestDataLineDecoder_MalformedPayload(t *testing.T) {
	dec := NewDataLineDecoder()

	_, err := dec.Feed([]byte("data: {not json}\n"))
	if !errors.Is(err, domain.ErrMalformedStream) {
		t.Errorf("expected ErrMalformedStream, got %v", err)
	}
}

func TestDataLineDecoder_SkipsEmptyAndUnknownLines(t *testing.T) {
	dec := NewDataLineDecoder()
	input := ": keepalive\n\nevent: noise\ndata: {\"choices\":[]}\ndata: {\"choices\":[{\"delta\":{\"content\":\"ok\"}}]}\n"

	got := collect(t, dec, input, len(input))
	if len(got) != 1 || got[0] != "ok" {
		t.Errorf("expected single event ok, got %v", got)
	}
}

const eventBlockStream = "event: message_start\n" +
	"data: {\"type\":\"message_start\"}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"Hel\"}}\n\n" +
	"event: content_block_delta\n" +
	"data: {\"type\":\"content_block_delta\",\"delta\":{\"type\":\"text_delta\",\"text\":\"lo\"}}\n\n" +
	"event: message_stop\n" +
	"data: {\"type\":\"message_stop\"}\n\n"

func TestEventBlockDecoder_EmitsTextDeltas(t *testing.T) {
	dec := NewEventBlockDecoder()

	got := collect(t, dec, eventBlockStream, len(eventBlockStream))
	want := []string{"Hel", "lo"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
	if !dec.Done() {
		t.Error("expected decoder done after message_stop")
	}
}

func TestEventBlockDecoder_ChunkSplitIndependent(t *testing.T) {
	whole := collect(t, NewEventBlockDecoder(), eventBlockStream, len(eventBlockStream))

	for _, size := range []int{1, 2, 5, 11, 64} {
		got := collect(t, NewEventBlockDecoder(), eventBlockStream, size)
		if strings.Join(got, "|") != strings.Join(whole, "|") {
			t.Errorf("chunk size %d: expected %v, got %v", size, whole, got)
		}
	}
}

func TestEventBlockDecoder_TypeFieldFallback(t *testing.T) {
	dec := NewEventBlockDecoder()
	input := "data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\n\n" +
		"data: {\"type\":\"message_stop\"}\n\n"

	got := collect(t, dec, input, len(input))
	if len(got) != 1 || got[0] != "hi" {
		t.Errorf("expected single event hi, got %v", got)
	}
	if !dec.Done() {
		t.Error("expected decoder done via type field")
	}
}

func TestEventBlockDecoder_CRLFBlocks(t *testing.T) {
	dec := NewEventBlockDecoder()
	input := "event: content_block_delta\r\n" +
		"data: {\"type\":\"content_block_delta\",\"delta\":{\"text\":\"hi\"}}\r\n\r\n"

	got := collect(t, dec, input, len(input))
	if len(got) != 1 || got[0] != "hi" {
		t.Errorf("expected single event hi, got %v", got)
	}
}

func TestEventBlockDecoder_MalformedDelta(t *testing.T) {
	dec := NewEventBlockDecoder()

	_, err := dec.Feed([]byte("event: content_block_delta\ndata: {broken\n\n"))
	if !errors.Is(err, domain.ErrMalformedStream) {
		t.Errorf("expected ErrMalformedStream, got %v", err)
	}
}

func TestPump_DeliversAllEvents(t *testing.T) {
	body := io.NopCloser(strings.NewReader(dataLineStream))
	events, errs := Pump(context.Background(), body, NewDataLineDecoder())

	var got []string
	for ev := range events {
		got = append(got, ev.Content)
	}
	if err := <-errs; err != nil {
		t.Fatalf("unexpected stream error: %v", err)
	}

	want := []string{"Hel", "lo", "!"}
	if strings.Join(got, "|") != strings.Join(want, "|") {
		t.Errorf("expected %v, got %v", want, got)
	}
}

func TestPump_PropagatesDecodeError(t *testing.T) {
	body := io.NopCloser(strings.NewReader("data: {oops\n"))
	events, errs := Pump(context.Background(), body, NewDataLineDecoder())

	for range events {
	}
	if err := <-errs; !errors.Is(err, domain.ErrMalformedStream) {
		t.Errorf("expected ErrMalformedStream, got %v", err)
	}
}

func TestPump_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	body := io.NopCloser(strings.NewReader(dataLineStream))
	events, _ := Pump(ctx, body, NewDataLineDecoder())

	for range events {
	}
}
