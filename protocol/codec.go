package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/fansqz/go-dap-engine/constants"
	e "github.com/fansqz/go-dap-engine/error"
	"github.com/google/go-dap"
)

// Kind 消息分类
type Kind int

const (
	KindRequest Kind = iota + 1
	KindResponse
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindRequest:
		return string(constants.RequestMessage)
	case KindResponse:
		return string(constants.ResponseMessage)
	case KindEvent:
		return string(constants.EventMessage)
	default:
		return "unknown"
	}
}

// Envelope is the header every DAP message shares. It is decoded on its own so that a
// frame with a broken body can still be routed by seq.
type Envelope struct {
	Seq        int    `json:"seq"`
	Type       string `json:"type"`
	RequestSeq int    `json:"request_seq,omitempty"`
	Command    string `json:"command,omitempty"`
	Event      string `json:"event,omitempty"`
	Success    bool   `json:"success,omitempty"`
	Message    string `json:"message,omitempty"`
}

// Frame 一个完整解码的消息体
type Frame struct {
	Kind     Kind
	Envelope Envelope
	// Message is nil only when the body failed to decode.
	Message dap.Message
	Raw     []byte
}

func (f *Frame) String() string {
	switch f.Kind {
	case KindResponse:
		return fmt.Sprintf("response %s (seq %d, request_seq %d, success %v)",
			f.Envelope.Command, f.Envelope.Seq, f.Envelope.RequestSeq, f.Envelope.Success)
	case KindEvent:
		return fmt.Sprintf("event %s (seq %d)", f.Envelope.Event, f.Envelope.Seq)
	default:
		return fmt.Sprintf("request %s (seq %d)", f.Envelope.Command, f.Envelope.Seq)
	}
}

// Decode classifies and decodes one message body.
//
// Invalid JSON or an unknown message type yields only an error. Commands and events
// go-dap does not model decode into the generic base types. When the envelope is fine
// but the body is not, both the frame and an error are returned.
func Decode(data []byte) (*Frame, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrProtocol, err)
	}
	kind, ok := kindOf(env.Type)
	if !ok {
		return nil, fmt.Errorf("%w: unknown message type %q", e.ErrProtocol, env.Type)
	}
	frame := &Frame{Kind: kind, Envelope: env, Raw: data}

	msg, err := dap.DecodeProtocolMessage(data)
	var fieldErr *dap.DecodeProtocolMessageFieldError
	switch {
	case err == nil:
		frame.Message = msg
	case errors.As(err, &fieldErr):
		frame.Message = genericMessage(kind, env)
	default:
		return frame, fmt.Errorf("%w: %s: %v", e.ErrProtocol, frame, err)
	}
	return frame, nil
}

func kindOf(t string) (Kind, bool) {
	switch constants.DebugMessageType(t) {
	case constants.RequestMessage:
		return KindRequest, true
	case constants.ResponseMessage:
		return KindResponse, true
	case constants.EventMessage:
		return KindEvent, true
	}
	return 0, false
}

func genericMessage(kind Kind, env Envelope) dap.Message {
	base := dap.ProtocolMessage{Seq: env.Seq, Type: env.Type}
	switch kind {
	case KindResponse:
		return &dap.Response{
			ProtocolMessage: base,
			RequestSeq:      env.RequestSeq,
			Success:         env.Success,
			Command:         env.Command,
			Message:         env.Message,
		}
	case KindEvent:
		return &dap.Event{ProtocolMessage: base, Event: env.Event}
	default:
		return &dap.Request{ProtocolMessage: base, Command: env.Command}
	}
}

// Body returns the raw "body" member of the frame, or nil if it has none.
func (f *Frame) Body() json.RawMessage {
	var m struct {
		Body json.RawMessage `json:"body"`
	}
	if err := json.Unmarshal(f.Raw, &m); err != nil {
		return nil
	}
	return m.Body
}
