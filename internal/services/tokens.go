package services

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"

	"support-agent/internal/models"
)

// TokenCounter measures text in model tokens. All budget math in the
// context assembler goes through this so the accounting matches what the
// provider actually bills.
type TokenCounter interface {
	CountTokens(text string) int
	CountMessage(msg models.Message) int
}

func init() {
	// Offline BPE tables, no network fetch at startup
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

var (
	tiktokenEncoding *tiktoken.Tiktoken
	tiktokenOnce     sync.Once
	tiktokenErr      error
)

// TiktokenCounter counts tokens with the cl100k_base encoding
type TiktokenCounter struct {
	encoding *tiktoken.Tiktoken
}

// NewTiktokenCounter returns the shared cl100k_base counter
func NewTiktokenCounter() (*TiktokenCounter, error) {
	tiktokenOnce.Do(func() {
		tiktokenEncoding, tiktokenErr = tiktoken.GetEncoding("cl100k_base")
	})
	if tiktokenErr != nil {
		return nil, tiktokenErr
	}
	return &TiktokenCounter{encoding: tiktokenEncoding}, nil
}

// CountTokens returns the token count for a text
func (c *TiktokenCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// Per-message wrapping overhead in the chat format (role markers, separators)
const messageTokenOverhead = 4

// CountMessage returns the token cost of a message including chat framing
func (c *TiktokenCounter) CountMessage(msg models.Message) int {
	return c.CountTokens(msg.Content) + messageTokenOverhead
}
