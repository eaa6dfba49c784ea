package knowledge

import (
	"encoding/json"
)

// Message types carried on the three logical streams.
const (
	TypeDocument    = "document"
	TypeGeoFeature  = "geo_feature"
	TypeSystemEvent = "system_event"
)

// Envelope is the JSON wire format of a message read from a topic. Each
// message type carries its own unique identifier field; exactly one of
// Content or Geometry holds the payload.
type Envelope struct {
	MessageType string `json:"message_type"`

	DocID     string `json:"doc_id,omitempty"`
	FeatureID string `json:"feature_id,omitempty"`
	EventID   string `json:"event_id,omitempty"`

	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Content  string          `json:"content,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`
}

// Object is the validated knowledge object submitted downstream, with
// provenance back to the record it was derived from. It is owned exclusively
// by the pipeline until handed to the delivery client and never mutated
// after creation.
type Object struct {
	ID       string            `json:"id"`
	Type     string            `json:"type"`
	Source   string            `json:"source"`
	Metadata map[string]string `json:"metadata,omitempty"`

	Content  string          `json:"content,omitempty"`
	Geometry json.RawMessage `json:"geometry,omitempty"`

	SourceTopic     string `json:"source_topic"`
	SourcePartition int32  `json:"source_partition"`
	SourceOffset    int64  `json:"source_offset"`
}

// IdempotencyKey derives the deduplication key for this object. It is based
// on the message-level identifier, not the broker message key, so replays of
// the same logical object are suppressed regardless of where they appear in
// the log.
func (o *Object) IdempotencyKey() string {
	return o.Type + ":" + o.ID
}
