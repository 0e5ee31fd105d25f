// Package envelope defines the MessageEnvelope wire model: the single typed
// record that carries one platform event across every subsystem boundary
// (bus, plugin host, event manager, memory engine).
//
// Message Flow:
//
// Adapter → Core:
//   - direction "incoming": a platform event (private/group message, notice,
//     meta event) ready for routing.
//
// Core → Adapter:
//   - direction "outgoing": a reply or proactive action to deliver to the
//     platform.
//
// Every envelope is immutable after ingestion; subsystems that need to
// derive a modified copy construct a new value.
package envelope

import (
	"encoding/json"
	"time"
)

// Direction distinguishes inbound platform events from outbound replies.
type Direction string

const (
	Incoming Direction = "incoming"
	Outgoing Direction = "outgoing"
)

// MessageKind classifies what a MessageInfo describes.
type MessageKind string

const (
	KindPrivate MessageKind = "private"
	KindGroup   MessageKind = "group"
	KindNotice  MessageKind = "notice"
	KindMeta    MessageKind = "meta"
)

// SegmentType enumerates the recognized MessageSegment payload shapes.
type SegmentType string

const (
	SegText    SegmentType = "text"
	SegImage   SegmentType = "image"
	SegAt      SegmentType = "at"
	SegFace    SegmentType = "face"
	SegReply   SegmentType = "reply"
	SegForward SegmentType = "forward"
	SegVoice   SegmentType = "voice"
	SegVideo   SegmentType = "video"
	SegFile    SegmentType = "file"
	SegCommand SegmentType = "command"
	SegList    SegmentType = "seglist"
)

// User identifies a platform party: a sender, a mentioned user, a bot self.
type User struct {
	ID      string `json:"id"`
	Name    string `json:"name,omitempty"`
	Display string `json:"display,omitempty"`
}

// GroupIdentity identifies the group/channel a message arrived in, when
// applicable.
type GroupIdentity struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// MessageInfo carries the sender/target identity metadata of an envelope.
type MessageInfo struct {
	User        User           `json:"user"`
	Group       *GroupIdentity `json:"group,omitempty"`
	BotSelfID   string         `json:"bot_self_id"`
	ToMe        bool           `json:"to_me"`
	MessageType MessageKind    `json:"message_type"`
}

// MessageSegment is one node of the segment tree. Data carries type-specific
// payload as raw JSON so each segment type can define its own shape; a
// SegList's Children field holds an ordered sequence of nested segments and
// must never contain a cycle back to an ancestor.
type MessageSegment struct {
	Type     SegmentType       `json:"type"`
	Data     json.RawMessage   `json:"data,omitempty"`
	Children []*MessageSegment `json:"children,omitempty"`
}

// Text is a convenience constructor for a plain-text segment.
func Text(s string) *MessageSegment {
	data, _ := json.Marshal(map[string]string{"text": s})
	return &MessageSegment{Type: SegText, Data: data}
}

// TextContent extracts the "text" field from a SegText segment's Data, or
// "" if the segment is not text or has no such field.
func (s *MessageSegment) TextContent() string {
	if s == nil || s.Type != SegText {
		return ""
	}
	var payload struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(s.Data, &payload); err != nil {
		return ""
	}
	return payload.Text
}

// CommandPayload is the Data shape of a SegCommand segment: a verb plus its
// raw argument tokens, already split on whitespace by the adapter/parser
// that produced the segment.
type CommandPayload struct {
	Name string   `json:"name"`
	Args []string `json:"args,omitempty"`
}

// Command is a convenience constructor for a command invocation segment.
func Command(name string, args []string) *MessageSegment {
	data, _ := json.Marshal(CommandPayload{Name: name, Args: args})
	return &MessageSegment{Type: SegCommand, Data: data}
}

// CommandContent extracts the CommandPayload from a SegCommand segment's
// Data. The second return value is false if the segment is not a command or
// its payload cannot be parsed.
func (s *MessageSegment) CommandContent() (CommandPayload, bool) {
	if s == nil || s.Type != SegCommand {
		return CommandPayload{}, false
	}
	var payload CommandPayload
	if err := json.Unmarshal(s.Data, &payload); err != nil {
		return CommandPayload{}, false
	}
	return payload, true
}

// CurrentSchemaVersion is the schema_version written by this build when
// constructing new envelopes.
const CurrentSchemaVersion = 1

// MessageEnvelope is the universal inter-subsystem record (spec §3).
// Envelopes are immutable after ingestion.
type MessageEnvelope struct {
	Direction      Direction       `json:"direction"`
	Platform       string          `json:"platform"`
	MessageID      string          `json:"message_id"`
	TimestampMs    int64           `json:"timestamp_ms"`
	MessageInfo    MessageInfo     `json:"message_info"`
	MessageSegment *MessageSegment `json:"message_segment"`
	RawMessage     string          `json:"raw_message,omitempty"`
	SchemaVersion  int             `json:"schema_version"`
}

// StreamID derives the ChatStream key this envelope belongs to:
// (platform, group_id|user_id).
func (e *MessageEnvelope) StreamID() string {
	if e.MessageInfo.Group != nil && e.MessageInfo.Group.ID != "" {
		return e.Platform + ":group:" + e.MessageInfo.Group.ID
	}
	return e.Platform + ":private:" + e.MessageInfo.User.ID
}

// Batch is the wire form for a batch of envelopes (spec §6: HTTP
// POST /adapter/messages and the batch JSON envelope encoding).
type Batch struct {
	SchemaVersion int               `json:"schema_version"`
	Items         []MessageEnvelope `json:"items"`
}

// Encode serializes an envelope to its canonical JSON wire form.
func Encode(e *MessageEnvelope) ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses an envelope from its canonical JSON wire form and applies
// any registered schema upgrades (see Upgrader) before returning it.
func Decode(data []byte) (*MessageEnvelope, error) {
	upgraded, err := DefaultUpgrader.Upgrade(data)
	if err != nil {
		return nil, err
	}
	var e MessageEnvelope
	if err := json.Unmarshal(upgraded, &e); err != nil {
		return nil, err
	}
	if e.SchemaVersion == 0 {
		e.SchemaVersion = CurrentSchemaVersion
	}
	return &e, nil
}

// NowMs returns the current time as a millisecond timestamp, matching the
// resolution MessageEnvelope.TimestampMs is defined in.
func NowMs() int64 {
	return time.Now().UnixMilli()
}
