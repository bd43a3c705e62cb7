package protocol

import (
	"encoding/json"

	"github.com/fansqz/go-dap-engine/constants"
	"github.com/google/go-dap"
)

const (
	DefaultClientID   = "go-dap-engine"
	DefaultClientName = "Go DAP Engine"
)

// Request is an outgoing request frame. Arguments holds the command specific payload
// and is omitted from the wire when nil.
type Request struct {
	dap.Request

	Arguments any `json:"arguments,omitempty"`
}

// NewRequest 构造一个请求
func NewRequest(seq int, command string, arguments any) *Request {
	return &Request{
		Request: dap.Request{
			ProtocolMessage: dap.ProtocolMessage{
				Seq:  seq,
				Type: string(constants.RequestMessage),
			},
			Command: command,
		},
		Arguments: arguments,
	}
}

// NewInitializeArguments returns the negotiation flags this client always sends.
func NewInitializeArguments(clientID, clientName, adapterID string) dap.InitializeRequestArguments {
	if clientID == "" {
		clientID = DefaultClientID
	}
	if clientName == "" {
		clientName = DefaultClientName
	}
	return dap.InitializeRequestArguments{
		ClientID:                     clientID,
		ClientName:                   clientName,
		AdapterID:                    adapterID,
		Locale:                       "en-US",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		PathFormat:                   "path",
		SupportsVariableType:         true,
		SupportsVariablePaging:       true,
		SupportsRunInTerminalRequest: true,
	}
}

// LaunchArguments launch 请求参数。Extra 中的适配器私有字段会合并到同一个 JSON 对象中
type LaunchArguments struct {
	NoDebug     bool              `json:"noDebug,omitempty"`
	Program     string            `json:"program,omitempty"`
	Args        []string          `json:"args,omitempty"`
	Cwd         string            `json:"cwd,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	StopOnEntry bool              `json:"stopOnEntry,omitempty"`

	Extra map[string]any `json:"-"`
}

func (l LaunchArguments) MarshalJSON() ([]byte, error) {
	type plain LaunchArguments
	return mergeExtra(plain(l), l.Extra)
}

func (l *LaunchArguments) UnmarshalJSON(data []byte) error {
	type plain LaunchArguments
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, launchKeys)
	if err != nil {
		return err
	}
	*l = LaunchArguments(p)
	l.Extra = extra
	return nil
}

// Clone 深拷贝，用于保存 restart 时重放的配置
func (l LaunchArguments) Clone() LaunchArguments {
	c := l
	c.Args = append([]string(nil), l.Args...)
	if l.Env != nil {
		c.Env = make(map[string]string, len(l.Env))
		for k, v := range l.Env {
			c.Env[k] = v
		}
	}
	if l.Extra != nil {
		c.Extra = make(map[string]any, len(l.Extra))
		for k, v := range l.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// AttachArguments attach 请求参数
type AttachArguments struct {
	ProcessID int    `json:"processId,omitempty"`
	Host      string `json:"host,omitempty"`
	Port      int    `json:"port,omitempty"`

	Extra map[string]any `json:"-"`
}

func (a AttachArguments) MarshalJSON() ([]byte, error) {
	type plain AttachArguments
	return mergeExtra(plain(a), a.Extra)
}

func (a *AttachArguments) UnmarshalJSON(data []byte) error {
	type plain AttachArguments
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	extra, err := splitExtra(data, attachKeys)
	if err != nil {
		return err
	}
	*a = AttachArguments(p)
	a.Extra = extra
	return nil
}

// mergeExtra encodes typed and then adds every extra key the typed value did not set.
func mergeExtra(typed any, extra map[string]any) ([]byte, error) {
	data, err := json.Marshal(typed)
	if err != nil || len(extra) == 0 {
		return data, err
	}
	merged := make(map[string]any, len(extra))
	for k, v := range extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err = json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

var (
	launchKeys = []string{"noDebug", "program", "args", "cwd", "env", "stopOnEntry"}
	attachKeys = []string{"processId", "host", "port"}
)

// splitExtra returns the keys of data that are not typed fields.
func splitExtra(data []byte, known []string) (map[string]any, error) {
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return nil, err
	}
	for _, k := range known {
		delete(all, k)
	}
	if len(all) == 0 {
		return nil, nil
	}
	return all, nil
}

// SetBreakpointsArguments mirrors dap.SetBreakpointsArguments but always encodes the
// breakpoints list, so an empty list clears the source adapter-side.
type SetBreakpointsArguments struct {
	Source         dap.Source             `json:"source"`
	Breakpoints    []dap.SourceBreakpoint `json:"breakpoints"`
	SourceModified bool                   `json:"sourceModified,omitempty"`
}

func NewSetBreakpointsArguments(source dap.Source, breakpoints []dap.SourceBreakpoint) SetBreakpointsArguments {
	if breakpoints == nil {
		breakpoints = []dap.SourceBreakpoint{}
	}
	return SetBreakpointsArguments{Source: source, Breakpoints: breakpoints}
}
