package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"support-agent/internal/models"
)

func scorerPool() []*models.DocumentChunk {
	return []*models.DocumentChunk{
		{ID: "c1", Content: "Refund requests are processed within five business days after approval."},
		{ID: "c2", Content: "Delivery is free islandwide for orders above fifty dollars."},
		{ID: "c3", Content: "Refund refund refund refund refund."},
	}
}

func TestLexicalScorer(t *testing.T) {
	scorer := newLexicalScorer(scorerPool())

	t.Run("matching chunk outscores unrelated chunk", func(t *testing.T) {
		refundScore := scorer.score("how do I get a refund", 0)
		deliveryScore := scorer.score("how do I get a refund", 1)
		assert.Greater(t, refundScore, deliveryScore)
		assert.Equal(t, float32(0), deliveryScore)
	})

	t.Run("scores stay in the unit interval", func(t *testing.T) {
		for i := range scorerPool() {
			s := scorer.score("refund delivery business orders", i)
			assert.GreaterOrEqual(t, s, float32(0))
			assert.LessOrEqual(t, s, float32(1))
		}
	})

	t.Run("term repetition is dampened", func(t *testing.T) {
		spammy := scorer.score("refund", 2)
		normal := scorer.score("refund", 0)
		assert.Greater(t, spammy, normal, "higher tf still scores higher")
		assert.Less(t, float64(spammy), float64(normal)*10, "but nowhere near linearly")
	})

	t.Run("query with no content words scores zero", func(t *testing.T) {
		assert.Equal(t, float32(0), scorer.score("is it in a", 0))
	})

	t.Run("out of range index scores zero", func(t *testing.T) {
		assert.Equal(t, float32(0), scorer.score("refund", 99))
	})

	t.Run("empty pool is safe", func(t *testing.T) {
		empty := newLexicalScorer(nil)
		assert.Equal(t, float32(0), empty.score("refund", 0))
	})
}
