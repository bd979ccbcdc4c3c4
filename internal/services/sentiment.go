package services

import (
	"strings"

	"github.com/jdkato/prose/v2"
)

var positiveWords = map[string]float64{
	"good": 1, "great": 1.5, "excellent": 2, "amazing": 2, "awesome": 2,
	"love": 1.5, "like": 0.5, "helpful": 1, "thanks": 1, "thank": 1,
	"perfect": 2, "wonderful": 1.5, "happy": 1.5, "pleased": 1,
	"fast": 0.5, "easy": 0.5, "nice": 1, "best": 1.5, "appreciate": 1,
}

var negativeWords = map[string]float64{
	"bad": 1, "terrible": 2, "awful": 2, "horrible": 2, "worst": 2,
	"hate": 2, "angry": 2, "furious": 2.5, "disappointed": 1.5,
	"frustrated": 1.5, "frustrating": 1.5, "useless": 2, "slow": 1,
	"broken": 1, "wrong": 1, "unacceptable": 2, "ridiculous": 1.5,
	"scam": 2.5, "cheated": 2, "waste": 1.5, "rubbish": 1.5,
	"unhappy": 1.5, "annoyed": 1.5, "poor": 1, "refund": 0.5,
}

var negators = map[string]bool{
	"not": true, "no": true, "never": true, "don't": true, "dont": true,
	"cannot": true, "can't": true, "cant": true, "won't": true, "wont": true,
	"isn't": true, "isnt": true, "didn't": true, "didnt": true,
}

// SentimentAnalyzer scores message tone on [-1, 1] with a weighted lexicon.
// A negator directly before a sentiment word flips its polarity, so
// "not happy" counts as negative.
type SentimentAnalyzer struct{}

// NewSentimentAnalyzer creates a new sentiment analyzer
func NewSentimentAnalyzer() *SentimentAnalyzer {
	return &SentimentAnalyzer{}
}

// Analyze returns the sentiment score for one message
func (a *SentimentAnalyzer) Analyze(text string) float64 {
	tokens := a.tokenize(text)
	if len(tokens) == 0 {
		return 0
	}

	var score, weight float64
	negate := false
	for _, word := range tokens {
		if negators[word] {
			negate = true
			continue
		}

		if w, ok := positiveWords[word]; ok {
			if negate {
				score -= w
			} else {
				score += w
			}
			weight += w
		} else if w, ok := negativeWords[word]; ok {
			if negate {
				score += w * 0.5
			} else {
				score -= w
			}
			weight += w
		}
		negate = false
	}

	if weight == 0 {
		return 0
	}

	normalized := score / (weight + 2)
	if normalized > 1 {
		normalized = 1
	}
	if normalized < -1 {
		normalized = -1
	}
	return normalized
}

// Update blends the latest message score into the running session
// sentiment. Recent messages dominate so a turn of anger shows up quickly.
func (a *SentimentAnalyzer) Update(previous, current float64) float64 {
	blended := 0.6*current + 0.4*previous
	if blended > 1 {
		blended = 1
	}
	if blended < -1 {
		blended = -1
	}
	return blended
}

func (a *SentimentAnalyzer) tokenize(text string) []string {
	doc, err := prose.NewDocument(text,
		prose.WithExtraction(false),
		prose.WithTagging(false),
		prose.WithSegmentation(false))
	if err != nil {
		return strings.Fields(strings.ToLower(text))
	}

	tokens := doc.Tokens()
	words := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		words = append(words, strings.ToLower(tok.Text))
	}
	return words
}
