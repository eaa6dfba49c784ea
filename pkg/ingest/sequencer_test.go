package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCommitSequencer_InOrderCompletion(t *testing.T) {
	seq := newCommitSequencer()
	seq.Register(0)
	seq.Register(1)
	seq.Register(2)

	watermark, advanced := seq.Complete(0)
	assert.True(t, advanced)
	assert.Equal(t, int64(0), watermark)

	watermark, advanced = seq.Complete(1)
	assert.True(t, advanced)
	assert.Equal(t, int64(1), watermark)

	watermark, advanced = seq.Complete(2)
	assert.True(t, advanced)
	assert.Equal(t, int64(2), watermark)
	assert.Equal(t, 0, seq.Outstanding())
}

func TestCommitSequencer_OutOfOrderCompletion(t *testing.T) {
	// Offsets 0..3 complete as 2, 0, 3, 1. The watermark must never pass an
	// offset that has not completed.
	seq := newCommitSequencer()
	for i := int64(0); i < 4; i++ {
		seq.Register(i)
	}

	_, advanced := seq.Complete(2)
	assert.False(t, advanced, "Offset 2 cannot commit while 0 and 1 are outstanding")

	watermark, advanced := seq.Complete(0)
	assert.True(t, advanced)
	assert.Equal(t, int64(0), watermark)

	_, advanced = seq.Complete(3)
	assert.False(t, advanced)

	// Completing 1 unlocks everything registered behind it.
	watermark, advanced = seq.Complete(1)
	assert.True(t, advanced)
	assert.Equal(t, int64(3), watermark)
	assert.Equal(t, 0, seq.Outstanding())
}

func TestCommitSequencer_NonContiguousOffsets(t *testing.T) {
	// Compacted topics have holes; only offsets actually polled take part.
	seq := newCommitSequencer()
	seq.Register(10)
	seq.Register(14)
	seq.Register(15)

	watermark, advanced := seq.Complete(14)
	assert.False(t, advanced)
	_ = watermark

	watermark, advanced = seq.Complete(10)
	assert.True(t, advanced)
	assert.Equal(t, int64(14), watermark)

	watermark, advanced = seq.Complete(15)
	assert.True(t, advanced)
	assert.Equal(t, int64(15), watermark)
}
