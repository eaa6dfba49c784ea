package knowledge_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/illmade-knight/go-ingest/pkg/knowledge"
	"github.com/illmade-knight/go-ingest/pkg/source"
)

func record(payload string) source.Record {
	return source.Record{
		Topic:     "ingest.documents.v1",
		Partition: 2,
		Offset:    41,
		Payload:   []byte(payload),
	}
}

func TestTransform_Documents(t *testing.T) {
	t.Run("Valid document produces an object with provenance", func(t *testing.T) {
		// Act
		obj, rej := knowledge.Transform(record(`{
			"message_type": "document",
			"doc_id": "doc-7",
			"source": "crawler",
			"content": "full text",
			"metadata": {"lang": "en"}
		}`))

		// Assert
		require.Nil(t, rej)
		assert.Equal(t, "doc-7", obj.ID)
		assert.Equal(t, knowledge.TypeDocument, obj.Type)
		assert.Equal(t, "crawler", obj.Source)
		assert.Equal(t, "full text", obj.Content)
		assert.Equal(t, "en", obj.Metadata["lang"])
		assert.Equal(t, "ingest.documents.v1", obj.SourceTopic)
		assert.Equal(t, int32(2), obj.SourcePartition)
		assert.Equal(t, int64(41), obj.SourceOffset)
	})

	t.Run("Document without content is rejected", func(t *testing.T) {
		obj, rej := knowledge.Transform(record(`{"message_type": "document", "doc_id": "doc-7", "source": "crawler"}`))

		require.Nil(t, obj)
		require.NotNil(t, rej)
		assert.Equal(t, knowledge.RejectionMissingRequiredField, rej.Reason)
	})

	t.Run("Document without doc_id is rejected", func(t *testing.T) {
		_, rej := knowledge.Transform(record(`{"message_type": "document", "source": "crawler", "content": "x"}`))

		require.NotNil(t, rej)
		assert.Equal(t, knowledge.RejectionMissingRequiredField, rej.Reason)
	})
}

func TestTransform_GeoFeatures(t *testing.T) {
	t.Run("Valid feature carries its geometry through untouched", func(t *testing.T) {
		obj, rej := knowledge.Transform(record(`{
			"message_type": "geo_feature",
			"feature_id": "feat-1",
			"source": "osm",
			"geometry": {"type": "Point", "coordinates": [1.5, 2.5]}
		}`))

		require.Nil(t, rej)
		assert.Equal(t, "feat-1", obj.ID)
		assert.Equal(t, knowledge.TypeGeoFeature, obj.Type)
		assert.JSONEq(t, `{"type": "Point", "coordinates": [1.5, 2.5]}`, string(obj.Geometry))
	})

	t.Run("Feature without geometry is rejected", func(t *testing.T) {
		_, rej := knowledge.Transform(record(`{"message_type": "geo_feature", "feature_id": "feat-1", "source": "osm"}`))

		require.NotNil(t, rej)
		assert.Equal(t, knowledge.RejectionMissingRequiredField, rej.Reason)
	})
}

func TestTransform_SystemEvents(t *testing.T) {
	obj, rej := knowledge.Transform(record(`{
		"message_type": "system_event",
		"event_id": "evt-9",
		"source": "scheduler",
		"content": "reindex complete"
	}`))

	require.Nil(t, rej)
	assert.Equal(t, "evt-9", obj.ID)
	assert.Equal(t, knowledge.TypeSystemEvent, obj.Type)
}

func TestTransform_Rejections(t *testing.T) {
	t.Run("Malformed JSON is a schema violation", func(t *testing.T) {
		obj, rej := knowledge.Transform(record(`{not json`))

		require.Nil(t, obj)
		require.NotNil(t, rej)
		assert.Equal(t, knowledge.RejectionSchemaViolation, rej.Reason)
	})

	t.Run("Missing message_type is rejected", func(t *testing.T) {
		_, rej := knowledge.Transform(record(`{"source": "crawler"}`))

		require.NotNil(t, rej)
		assert.Equal(t, knowledge.RejectionMissingRequiredField, rej.Reason)
	})

	t.Run("Unknown message_type is rejected", func(t *testing.T) {
		_, rej := knowledge.Transform(record(`{"message_type": "image", "source": "crawler"}`))

		require.NotNil(t, rej)
		assert.Equal(t, knowledge.RejectionUnsupportedMessageType, rej.Reason)
		assert.Equal(t, "image", rej.Detail)
	})

	t.Run("Missing source is rejected for every type", func(t *testing.T) {
		_, rej := knowledge.Transform(record(`{"message_type": "document", "doc_id": "d", "content": "c"}`))

		require.NotNil(t, rej)
		assert.Equal(t, knowledge.RejectionMissingRequiredField, rej.Reason)
	})
}

func TestObject_IdempotencyKey(t *testing.T) {
	doc := &knowledge.Object{ID: "x-1", Type: knowledge.TypeDocument}
	feature := &knowledge.Object{ID: "x-1", Type: knowledge.TypeGeoFeature}

	assert.Equal(t, "document:x-1", doc.IdempotencyKey())
	assert.NotEqual(t, doc.IdempotencyKey(), feature.IdempotencyKey(),
		"The same identifier under different types must not collide")
}
