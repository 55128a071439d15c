package unifiedllm

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"

	anthropicsse "github.com/anthropics/anthropic-sdk-go/packages/ssestream"
	openaisse "github.com/openai/openai-go/v3/packages/ssestream"
)

// StreamDecoder is a pull-based reader of canonical events from exactly
// one provider response. It never retries.
//
//	for dec.Next() {
//	    ev := dec.Event()
//	}
//	if err := dec.Err(); err != nil { ... }
type StreamDecoder interface {
	Next() bool
	Event() StreamEvent
	Err() error
	Close() error
}

// NewStreamDecoder selects the decoder variant for format and wraps the
// response body. The decoder owns res.Body.
func NewStreamDecoder(format WireFormat, res *http.Response, logger *slog.Logger) StreamDecoder {
	if logger == nil {
		logger = slog.Default()
	}
	switch format {
	case FormatAnthropic:
		return newAnthropicDecoder(anthropicFrames{anthropicsse.NewDecoder(res)}, logger)
	default:
		return newOpenAIDecoder(openaiFrames{openaisse.NewDecoder(res)}, logger)
	}
}

// sseFrame is one server-sent event: optional event name plus data.
type sseFrame struct {
	Event string
	Data  []byte
}

type frameSource interface {
	Next() bool
	Frame() sseFrame
	Err() error
	Close() error
}

type anthropicFrames struct{ d anthropicsse.Decoder }

func (f anthropicFrames) Next() bool { return f.d != nil && f.d.Next() }
func (f anthropicFrames) Frame() sseFrame {
	e := f.d.Event()
	return sseFrame{Event: e.Type, Data: bytes.TrimSpace(e.Data)}
}
func (f anthropicFrames) Err() error {
	if f.d == nil {
		return nil
	}
	return f.d.Err()
}
func (f anthropicFrames) Close() error {
	if f.d == nil {
		return nil
	}
	return f.d.Close()
}

type openaiFrames struct{ d openaisse.Decoder }

func (f openaiFrames) Next() bool { return f.d != nil && f.d.Next() }
func (f openaiFrames) Frame() sseFrame {
	e := f.d.Event()
	return sseFrame{Event: e.Type, Data: bytes.TrimSpace(e.Data)}
}
func (f openaiFrames) Err() error {
	if f.d == nil {
		return nil
	}
	return f.d.Err()
}
func (f openaiFrames) Close() error {
	if f.d == nil {
		return nil
	}
	return f.d.Close()
}

// frameDecoder drains frames through parse, queueing the zero or more
// canonical events each frame yields.
type frameDecoder struct {
	frames  frameSource
	parse   func(sseFrame) (events []StreamEvent, stop bool)
	logger  *slog.Logger
	pending []StreamEvent
	current StreamEvent
	done    bool
	err     error
}

func (d *frameDecoder) Next() bool {
	for len(d.pending) == 0 {
		if d.done {
			return false
		}
		if !d.frames.Next() {
			d.done = true
			if err := d.frames.Err(); err != nil {
				d.err = &TransportError{SDKError: SDKError{Message: "stream interrupted", Cause: err}}
			}
			return false
		}
		frame := d.frames.Frame()
		if len(frame.Data) == 0 {
			continue
		}
		events, stop := d.parse(frame)
		d.pending = append(d.pending, events...)
		if stop {
			d.done = true
		}
	}
	d.current = d.pending[0]
	d.pending = d.pending[1:]
	return true
}

func (d *frameDecoder) Event() StreamEvent { return d.current }

func (d *frameDecoder) Err() error { return d.err }

func (d *frameDecoder) Close() error { return d.frames.Close() }

// skip records a malformed frame and moves on.
func (d *frameDecoder) skip(frame sseFrame, err error) {
	derr := &DecodeError{SDKError: SDKError{Message: "malformed stream frame", Cause: err}, Frame: string(frame.Data)}
	d.logger.Debug("skipping stream frame", "event", frame.Event, "error", derr)
}

// errorFrame extracts the message of an explicit error field, which may be
// an object with a message or a bare string.
func errorFrame(raw json.RawMessage, provider string) (StreamEvent, bool) {
	if len(raw) == 0 || string(raw) == "null" {
		return StreamEvent{}, false
	}
	pe := &ProviderError{Provider: provider}
	var obj struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	}
	var text string
	switch {
	case json.Unmarshal(raw, &obj) == nil:
		pe.Message, pe.Type = obj.Message, obj.Type
	case json.Unmarshal(raw, &text) == nil:
		pe.Message = text
	}
	if pe.Message == "" {
		pe.Message = "Unknown error"
	}
	return StreamEvent{Type: StreamError, Err: pe}, true
}
