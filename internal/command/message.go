// Package command implements the line-oriented JSON command and telemetry
// channel between the boards: commands, status replies, events and
// ping/pong liveness.
package command

import (
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Message types carried in the "type" field.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Status values carried in the "status" field.
const (
	StatusOK    = "ok"
	StatusInfo  = "info"
	StatusError = "error"
	StatusReady = "ready"
)

// Message is the union of every shape that travels on the channel:
//
//	{"cmd":"...","params":{...}}
//	{"type":"ping","seq":n,"timestamp":ms}
//	{"type":"pong","seq":n,"status":"ok","uptime":s}
//	{"status":"...","msg":"...","mode":m}
//	{"event":"...","data":{...}}
type Message struct {
	Cmd    string         `json:"cmd,omitempty"`
	Params map[string]any `json:"params,omitempty"`

	Type      string  `json:"type,omitempty"`
	Seq       *uint32 `json:"seq,omitempty"`
	Timestamp uint64  `json:"timestamp,omitempty"`
	Uptime    *uint64 `json:"uptime,omitempty"`

	Status   string `json:"status,omitempty"`
	Msg      string `json:"msg,omitempty"`
	Mode     *int   `json:"mode,omitempty"`
	FreeHeap uint64 `json:"free_heap,omitempty"`

	Event string         `json:"event,omitempty"`
	Data  map[string]any `json:"data,omitempty"`
}

// Kind classifies a decoded message for dispatch.
type Kind int

const (
	KindUnknown Kind = iota
	KindPing
	KindPong
	KindCommand
	KindStatus
	KindEvent
)

// Kind reports which dispatch path m takes. A message with several
// discriminators is classified in the order ping/pong, command, event, status.
func (m *Message) Kind() Kind {
	switch {
	case m.Type == TypePing:
		return KindPing
	case m.Type == TypePong:
		return KindPong
	case m.Cmd != "":
		return KindCommand
	case m.Event != "":
		return KindEvent
	case m.Status != "":
		return KindStatus
	default:
		return KindUnknown
	}
}

// Reply builds a status message.
func Reply(status, msg string) *Message {
	return &Message{Status: status, Msg: msg}
}

// WithMode sets the mode field and returns m.
func (m *Message) WithMode(mode int) *Message {
	m.Mode = &mode
	return m
}

// StringParam returns params[key] when it is a string.
func StringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Encode marshals m as one newline-terminated line.
func Encode(m *Message) ([]byte, error) {
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}

// Decode parses one line.
func Decode(line []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(line, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func u32(v uint32) *uint32 { return &v }
func u64(v uint64) *uint64 { return &v }
