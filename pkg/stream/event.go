package stream

import (
	"encoding/json"
	"errors"
	"fmt"
)

const (
	ActionSet    = "set"
	ActionDelete = "delete"
)

var (
	ErrMalformedMessage   = errors.New("malformed push message")
	ErrChannelUnavailable = errors.New("push channel is not open")
)

// Event is one inbound push frame.
type Event struct {
	Action string `json:"action"`
	Key    string `json:"key"`
	Value  string `json:"value,omitempty"`
	Expiry string `json:"expiry,omitempty"`
}

// DecodeEvent parses a text frame. Frames that are not a JSON object with
// string fields, and set/delete frames without a key, are reported as
// ErrMalformedMessage. Unknown actions decode fine and are left to the
// caller.
func DecodeEvent(raw []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(raw, &ev); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	switch ev.Action {
	case ActionSet, ActionDelete:
		if ev.Key == "" {
			return Event{}, fmt.Errorf("%w: %s without key", ErrMalformedMessage, ev.Action)
		}
	}
	return ev, nil
}
