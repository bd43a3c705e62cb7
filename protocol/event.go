package protocol

import (
	"encoding/json"
	"fmt"

	e "github.com/fansqz/go-dap-engine/error"
)

// ReverseRequest is a request initiated by the adapter, such as runInTerminal.
type ReverseRequest struct {
	Seq       int
	Command   string
	Arguments json.RawMessage
}

// Decode unmarshals the request arguments into v.
func (r *ReverseRequest) Decode(v any) error {
	if len(r.Arguments) == 0 {
		return fmt.Errorf("%w: %s request has no arguments", e.ErrProtocol, r.Command)
	}
	if err := json.Unmarshal(r.Arguments, v); err != nil {
		return fmt.Errorf("%w: %s arguments: %v", e.ErrProtocol, r.Command, err)
	}
	return nil
}

// ReverseRequest extracts the adapter-initiated request carried by a request frame.
func (f *Frame) ReverseRequest() (*ReverseRequest, error) {
	if f.Kind != KindRequest {
		return nil, fmt.Errorf("%w: %s is not a request", e.ErrProtocol, f)
	}
	var m struct {
		Arguments json.RawMessage `json:"arguments"`
	}
	if err := json.Unmarshal(f.Raw, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", e.ErrProtocol, err)
	}
	return &ReverseRequest{
		Seq:       f.Envelope.Seq,
		Command:   f.Envelope.Command,
		Arguments: m.Arguments,
	}, nil
}

// ContinuedAllThreads reads allThreadsContinued from a continue response body. An
// absent field means every thread resumed.
func ContinuedAllThreads(body json.RawMessage) bool {
	var b struct {
		AllThreadsContinued *bool `json:"allThreadsContinued"`
	}
	if len(body) == 0 || json.Unmarshal(body, &b) != nil || b.AllThreadsContinued == nil {
		return true
	}
	return *b.AllThreadsContinued
}
