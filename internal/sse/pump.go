package sse

import (
	"context"
	"fmt"
	"io"

	"github.com/felipepmaragno/llm-council/internal/domain"
)

// Pump reads the response body to completion, feeds it through the decoder,
// and delivers events on a channel. The body is closed when the stream ends
// for any reason.
func Pump(ctx context.Context, body io.ReadCloser, dec Decoder) (<-chan domain.StreamEvent, <-chan error) {
	events := make(chan domain.StreamEvent)
	errs := make(chan error, 1)

	go func() {
		defer close(events)
		defer close(errs)
		defer body.Close()

		emit := func(evs []domain.StreamEvent) bool {
			for _, ev := range evs {
				select {
				case events <- ev:
				case <-ctx.Done():
					return false
				}
			}
			return true
		}

		buf := make([]byte, 4096)
		for {
			n, readErr := body.Read(buf)
			if n > 0 {
				evs, err := dec.Feed(buf[:n])
				if !emit(evs) {
					return
				}
				if err != nil {
					errs <- err
					return
				}
			}
			if dec.Done() {
				return
			}
			if readErr == io.EOF {
				evs, err := dec.Close()
				if !emit(evs) {
					return
				}
				if err != nil {
					errs <- err
				}
				return
			}
			if readErr != nil {
				errs <- fmt.Errorf("read stream: %w", readErr)
				return
			}
		}
	}()

	return events, errs
}
