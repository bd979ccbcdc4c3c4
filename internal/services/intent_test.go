package services

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"support-agent/internal/models"
)

func TestIntentClassifier_Classify(t *testing.T) {
	classifier := NewIntentClassifier()

	tests := []struct {
		name string
		text string
		want models.Intent
	}{
		{"greeting", "hello, good morning", models.IntentGreeting},
		{"order status", "can I track my order delivery?", models.IntentOrderStatus},
		{"pricing", "how much is the delivery fee, any discount?", models.IntentPricing},
		{"business hours", "what are your opening hours on public holiday?", models.IntentBusinessHours},
		{"complaint", "I am unhappy and disappointed, this is unacceptable", models.IntentComplaint},
		{"technical", "I cannot login, the password reset is broken", models.IntentTechnicalSupport},
		{"product", "is this item available in stock, what size?", models.IntentProductInquiry},
		{"general fallback", "something happened with my account yesterday", models.IntentGeneralInquiry},
		{"keyword inside a word does not match", "I am chilling while waiting for my parcel", models.IntentOrderStatus},
		{"short unknown", "huh what", models.IntentUnknown},
		{"empty", "", models.IntentUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classifier.Classify(tt.text))
		})
	}
}

func TestIntentClassifier_IsHumanRequest(t *testing.T) {
	classifier := NewIntentClassifier()

	assert.True(t, classifier.IsHumanRequest("I want to talk to a human"))
	assert.True(t, classifier.IsHumanRequest("Can I speak to someone about this?"))
	assert.True(t, classifier.IsHumanRequest("please TRANSFER ME to your staff"))
	assert.False(t, classifier.IsHumanRequest("where is my order"))
	assert.False(t, classifier.IsHumanRequest("is the human resources department open"))
}

func TestIntentClassifier_IsSensitiveTopic(t *testing.T) {
	classifier := NewIntentClassifier()

	assert.True(t, classifier.IsSensitiveTopic("I will take legal action"))
	assert.True(t, classifier.IsSensitiveTopic("this violates PDPA"))
	assert.True(t, classifier.IsSensitiveTopic("I am filing a chargeback with my bank"))
	assert.True(t, classifier.IsSensitiveTopic("my child has an allergy to this ingredient"))
	assert.False(t, classifier.IsSensitiveTopic("where is my order"))
	assert.False(t, classifier.IsSensitiveTopic("there is an issue with my delivery"))
}
