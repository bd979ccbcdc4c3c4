package services

import (
	"strings"

	"github.com/jdkato/prose/v2"

	"support-agent/internal/models"
)

// Keyword groups per intent. Scoring counts distinct keyword hits; the
// highest-scoring intent wins, ties resolve in declaration order.
var intentKeywords = []struct {
	intent   models.Intent
	keywords []string
}{
	{models.IntentGreeting, []string{"hello", "hi", "hey", "good morning", "good afternoon", "good evening"}},
	{models.IntentFarewell, []string{"bye", "goodbye", "thanks", "thank you", "that's all", "see you"}},
	{models.IntentOrderStatus, []string{"order", "delivery", "shipping", "track", "tracking", "parcel", "arrived", "dispatch"}},
	{models.IntentPricing, []string{"price", "cost", "how much", "fee", "charge", "discount", "promotion", "gst"}},
	{models.IntentBusinessHours, []string{"open", "close", "opening hours", "business hours", "operating hours", "public holiday"}},
	{models.IntentComplaint, []string{"complaint", "complain", "unhappy", "disappointed", "terrible", "awful", "refund", "unacceptable"}},
	{models.IntentTechnicalSupport, []string{"error", "bug", "broken", "not working", "crash", "cannot login", "password", "reset"}},
	{models.IntentProductInquiry, []string{"product", "item", "stock", "available", "availability", "size", "colour", "color", "model", "warranty"}},
}

// Phrases that mean the customer wants a human, regardless of intent
var humanRequestPhrases = []string{
	"talk to a human", "speak to a human", "talk to a person", "speak to a person",
	"real person", "human agent", "live agent", "speak to someone",
	"talk to someone", "customer service officer", "speak to your manager",
	"talk to staff", "transfer me",
}

// Topics the agent must not answer on its own
var sensitiveTopicTerms = []string{
	"lawyer", "lawsuit", "sue", "legal action", "police", "pdpa",
	"data breach", "court", "small claims", "case trust", "consumer rights",
	"medical", "allergy", "injury", "fraud", "scam", "chargeback",
}

// IntentClassifier assigns one intent per user message using keyword
// scoring over tokenized text. It also flags explicit human requests and
// sensitive topics, which bypass response generation entirely.
type IntentClassifier struct{}

// NewIntentClassifier creates a new intent classifier
func NewIntentClassifier() *IntentClassifier {
	return &IntentClassifier{}
}

// Classify returns the detected intent for a message
func (c *IntentClassifier) Classify(text string) models.Intent {
	normalized := c.normalize(text)
	if normalized == "" {
		return models.IntentUnknown
	}

	best := models.IntentUnknown
	bestScore := 0
	for _, group := range intentKeywords {
		score := 0
		for _, kw := range group.keywords {
			if containsKeyword(normalized, kw) {
				score++
			}
		}
		if score > bestScore {
			best = group.intent
			bestScore = score
		}
	}

	if best == models.IntentUnknown && len(strings.Fields(normalized)) >= 3 {
		return models.IntentGeneralInquiry
	}
	return best
}

// IsHumanRequest reports whether the message explicitly asks for a human
func (c *IntentClassifier) IsHumanRequest(text string) bool {
	normalized := c.normalize(text)
	for _, phrase := range humanRequestPhrases {
		if containsKeyword(normalized, phrase) {
			return true
		}
	}
	return false
}

// IsSensitiveTopic reports whether the message touches a topic that must
// go to a human
func (c *IntentClassifier) IsSensitiveTopic(text string) bool {
	normalized := c.normalize(text)
	for _, term := range sensitiveTopicTerms {
		if containsKeyword(normalized, term) {
			return true
		}
	}
	return false
}

// containsKeyword matches kw against whole tokens of the normalized text,
// never inside a word ("hi" must not hit "something")
func containsKeyword(normalized, kw string) bool {
	return strings.Contains(" "+normalized+" ", " "+kw+" ")
}

// normalize lowercases and rejoins the message tokens so keyword matching
// is stable across punctuation and casing
func (c *IntentClassifier) normalize(text string) string {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithTagging(false),
		prose.WithSegmentation(false))
	if err != nil {
		return strings.ToLower(text)
	}

	tokens := doc.Tokens()
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		words = append(words, strings.ToLower(tok.Text))
	}
	return strings.Join(words, " ")
}
