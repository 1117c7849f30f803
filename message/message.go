// Package message defines the envelope exchanged between the two endpoints.
//
// Envelope is the only object that crosses the wire. It gets serialized by the
// codec layer and handed to a transport as one payload.
//
//	client ── {serverCommand:"vehicle", clientMessageID:"c1", content:{...}} ──→ server
//	client ←── {clientMessageID:"c1", content:2} ─────────────────────────────── server
package message

import (
	"encoding/json"
	"time"
)

// Reserved commands used by the endpoints themselves. User presets may not
// be registered under the "__" prefix.
const (
	ReservedPrefix    = "__"
	CommandIdentify   = "__identify"
	CommandIdentified = "__identified"
	CommandCustomData = "__customData"
)

// Envelope carries one request, reply, or fire-and-forget payload.
//
//   - ClientCommand / ServerCommand name the preset that processes the message
//     on the client / server side. Only the one for the receiving side is read.
//   - ClientMessageID / ServerMessageID are minted by the side that starts a
//     request chain (client / server respectively) and echoed by every reply.
type Envelope struct {
	Content         any       `json:"content,omitempty"`
	ClientCommand   string    `json:"clientCommand,omitempty"`
	ServerCommand   string    `json:"serverCommand,omitempty"`
	ClientMessageID string    `json:"clientMessageID,omitempty"`
	ServerMessageID string    `json:"serverMessageID,omitempty"`
	ClientID        string    `json:"clientId,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
	OriginSocket    string    `json:"originSocket,omitempty"`
}

// New returns an envelope stamped with the current time.
func New(content any) *Envelope {
	return &Envelope{
		Content:   content,
		Timestamp: time.Now().UTC().Truncate(time.Millisecond),
	}
}

// Stripped returns a copy without content. Pending requests keep this copy
// so that large payloads are not held while waiting for a reply.
func (e *Envelope) Stripped() Envelope {
	cp := *e
	cp.Content = nil
	return cp
}

// wireEnvelope fixes the timestamp layout on the wire.
type wireEnvelope struct {
	Content         any    `json:"content,omitempty"`
	ClientCommand   string `json:"clientCommand,omitempty"`
	ServerCommand   string `json:"serverCommand,omitempty"`
	ClientMessageID string `json:"clientMessageID,omitempty"`
	ServerMessageID string `json:"serverMessageID,omitempty"`
	ClientID        string `json:"clientId,omitempty"`
	Timestamp       string `json:"timestamp"`
	OriginSocket    string `json:"originSocket,omitempty"`
}

func (e Envelope) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireEnvelope{
		Content:         e.Content,
		ClientCommand:   e.ClientCommand,
		ServerCommand:   e.ServerCommand,
		ClientMessageID: e.ClientMessageID,
		ServerMessageID: e.ServerMessageID,
		ClientID:        e.ClientID,
		Timestamp:       FormatTime(e.Timestamp),
		OriginSocket:    e.OriginSocket,
	})
}

// UnmarshalJSON accepts the timestamp as an RFC3339 string or as unix
// milliseconds. Anything else leaves it zero; the timestamp is informational
// and never a reason to drop a message.
func (e *Envelope) UnmarshalJSON(data []byte) error {
	var w struct {
		wireEnvelope
		Timestamp json.RawMessage `json:"timestamp"`
	}
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*e = Envelope{
		Content:         w.Content,
		ClientCommand:   w.ClientCommand,
		ServerCommand:   w.ServerCommand,
		ClientMessageID: w.ClientMessageID,
		ServerMessageID: w.ServerMessageID,
		ClientID:        w.ClientID,
		OriginSocket:    w.OriginSocket,
		Timestamp:       parseTimestamp(w.Timestamp),
	}
	return nil
}

func parseTimestamp(raw json.RawMessage) time.Time {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
			return ts.UTC()
		}
		return time.Time{}
	}
	var ms int64
	if json.Unmarshal(raw, &ms) == nil {
		return time.UnixMilli(ms).UTC()
	}
	return time.Time{}
}

// Identify is sent by the server right after a transport opens.
type Identify struct {
	ID string `json:"id"`
}

// IdentifyConfirm is the client's answer to Identify. ID may differ from the
// offered one when the client resumes an earlier session.
type IdentifyConfirm struct {
	ID         string         `json:"id"`
	ClientData map[string]any `json:"clientData"`
}

// Identified closes the handshake and hands the server's own data to the client.
type Identified struct {
	ID         string         `json:"id"`
	ServerData map[string]any `json:"serverData"`
}

// Replication announces one changed custom-data key.
type Replication struct {
	ID       string `json:"id"`
	Property string `json:"property"`
	Value    any    `json:"value"`
}

// Content returns m as a plain map so that the codec sees the nested data.
func (m IdentifyConfirm) Content() map[string]any {
	return map[string]any{"id": m.ID, "clientData": m.ClientData}
}

func (m Identified) Content() map[string]any {
	return map[string]any{"id": m.ID, "serverData": m.ServerData}
}

func (m Replication) Content() map[string]any {
	return map[string]any{"id": m.ID, "property": m.Property, "value": m.Value}
}
