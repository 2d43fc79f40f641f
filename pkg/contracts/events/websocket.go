// Package events defines the messages the dev server pushes to browsers over
// the live-update socket.
package events

import (
	"encoding/json"
)

// MessageType names a live-update message
type MessageType string

const (
	// MessageTypeHot announces that hot module replacement is enabled
	MessageTypeHot MessageType = "hot"
	// MessageTypeLiveReload announces that full page reloads are enabled
	MessageTypeLiveReload MessageType = "liveReload"
	// MessageTypeInvalid is sent when a rebuild starts
	MessageTypeInvalid MessageType = "invalid"
	// MessageTypeHash carries the hash of a finished build
	MessageTypeHash MessageType = "hash"
	// MessageTypeStillOk is sent when a rebuild produced nothing new
	MessageTypeStillOk MessageType = "still-ok"
	// MessageTypeOk is sent when a build finished cleanly
	MessageTypeOk MessageType = "ok"
	// MessageTypeErrors carries build errors
	MessageTypeErrors MessageType = "errors"
	// MessageTypeWarnings carries build warnings
	MessageTypeWarnings MessageType = "warnings"
	// MessageTypeStaticChanged asks clients to reload after a static file change
	MessageTypeStaticChanged MessageType = "static-changed"
)

// Message is the frame sent to live-update clients. Data is omitted for
// messages that carry none.
type Message struct {
	Type MessageType `json:"type"`
	Data interface{} `json:"data,omitempty"`
}

// NewMessage builds a message from a type name and payload
func NewMessage(msgType string, data interface{}) Message {
	return Message{Type: MessageType(msgType), Data: data}
}

// Encode returns the JSON form of m
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// BuildProblems is the payload of errors and warnings messages
type BuildProblems []string

// BuildStats summarizes one finished build
type BuildStats struct {
	Hash     string   `json:"hash"`
	Errors   []string `json:"errors,omitempty"`
	Warnings []string `json:"warnings,omitempty"`
	// Emitted is false when the build wrote no new assets
	Emitted bool `json:"emitted"`
}

// Clean reports whether the build had neither errors nor warnings
func (s BuildStats) Clean() bool {
	return len(s.Errors) == 0 && len(s.Warnings) == 0
}

// Result is "errors", "warnings" or "ok"
func (s BuildStats) Result() string {
	switch {
	case len(s.Errors) > 0:
		return "errors"
	case len(s.Warnings) > 0:
		return "warnings"
	default:
		return "ok"
	}
}
