package knowledge

import (
	"encoding/json"
	"fmt"

	"github.com/illmade-knight/go-ingest/pkg/source"
)

// RejectionReason classifies why a record failed validation. Rejections are
// permanent: the record is logged and its offset committed, never retried.
type RejectionReason string

const (
	RejectionSchemaViolation        RejectionReason = "schema_violation"
	RejectionUnsupportedMessageType RejectionReason = "unsupported_message_type"
	RejectionMissingRequiredField   RejectionReason = "missing_required_field"
)

// Rejection describes a permanently invalid record.
type Rejection struct {
	Reason RejectionReason
	Detail string
}

func (r *Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
}

// Transformer is a pure function turning a raw record into a validated
// knowledge object or a rejection. Implementations must not perform I/O;
// any failure here is by definition permanent input damage.
type Transformer func(rec source.Record) (*Object, *Rejection)

// Transform is the default Transformer for the JSON envelope format.
func Transform(rec source.Record) (*Object, *Rejection) {
	var env Envelope
	if err := json.Unmarshal(rec.Payload, &env); err != nil {
		return nil, &Rejection{Reason: RejectionSchemaViolation, Detail: err.Error()}
	}

	if env.Source == "" {
		return nil, &Rejection{Reason: RejectionMissingRequiredField, Detail: "source is required"}
	}

	obj := &Object{
		Type:            env.MessageType,
		Source:          env.Source,
		Metadata:        env.Metadata,
		SourceTopic:     rec.Topic,
		SourcePartition: rec.Partition,
		SourceOffset:    rec.Offset,
	}

	switch env.MessageType {
	case TypeDocument:
		if env.DocID == "" {
			return nil, &Rejection{Reason: RejectionMissingRequiredField, Detail: "doc_id is required for documents"}
		}
		if env.Content == "" {
			return nil, &Rejection{Reason: RejectionMissingRequiredField, Detail: "content is required for documents"}
		}
		obj.ID = env.DocID
		obj.Content = env.Content

	case TypeGeoFeature:
		if env.FeatureID == "" {
			return nil, &Rejection{Reason: RejectionMissingRequiredField, Detail: "feature_id is required for geo features"}
		}
		if len(env.Geometry) == 0 {
			return nil, &Rejection{Reason: RejectionMissingRequiredField, Detail: "geometry is required for geo features"}
		}
		if !json.Valid(env.Geometry) {
			return nil, &Rejection{Reason: RejectionSchemaViolation, Detail: "geometry is not valid JSON"}
		}
		obj.ID = env.FeatureID
		obj.Geometry = env.Geometry

	case TypeSystemEvent:
		if env.EventID == "" {
			return nil, &Rejection{Reason: RejectionMissingRequiredField, Detail: "event_id is required for system events"}
		}
		obj.ID = env.EventID
		obj.Content = env.Content

	case "":
		return nil, &Rejection{Reason: RejectionMissingRequiredField, Detail: "message_type is required"}

	default:
		return nil, &Rejection{Reason: RejectionUnsupportedMessageType, Detail: env.MessageType}
	}

	return obj, nil
}
