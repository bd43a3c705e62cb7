package protocol

import (
	"encoding/json"

	"github.com/fansqz/go-dap-engine/constants"
	"github.com/google/go-dap"
)

// Response 回复适配器发起的反向请求
type Response struct {
	dap.Response

	Body any `json:"body,omitempty"`
}

func NewResponse(seq, requestSeq int, command string, success bool, message string, body any) *Response {
	return &Response{
		Response: dap.Response{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  seq,
				Type: string(constants.ResponseMessage),
			},
			RequestSeq: requestSeq,
			Success:    success,
			Command:    command,
			Message:    message,
		},
		Body: body,
	}
}

// ErrorMessage returns the adapter's explanation for a failed response: the
// response message if set, otherwise the format string of body.error.
func ErrorMessage(f *Frame) string {
	if f.Envelope.Message != "" {
		return f.Envelope.Message
	}
	var body struct {
		Error *struct {
			Format string `json:"format"`
		} `json:"error"`
	}
	raw := f.Body()
	if len(raw) == 0 || json.Unmarshal(raw, &body) != nil || body.Error == nil {
		return ""
	}
	return body.Error.Format
}
