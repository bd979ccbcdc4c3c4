package services

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"support-agent/internal/models"
)

// TicketingClient hands escalation records to the human support side.
// Filing failures must not lose the escalation decision; callers log and
// continue, the record stays in the session store.
type TicketingClient interface {
	FileTicket(ctx context.Context, record *models.EscalationRecord) error
}

// HTTPTicketingClient posts escalation tickets to an external helpdesk
// webhook.
type HTTPTicketingClient struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPTicketingClient creates a new webhook ticketing client
func NewHTTPTicketingClient(endpoint, apiKey string, timeout time.Duration) *HTTPTicketingClient {
	return &HTTPTicketingClient{
		endpoint: endpoint,
		apiKey:   apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// FileTicket posts the escalation record as JSON
func (c *HTTPTicketingClient) FileTicket(ctx context.Context, record *models.EscalationRecord) error {
	body, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal ticket: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.endpoint, bytes.NewBuffer(body))
	if err != nil {
		return fmt.Errorf("failed to create ticket request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("ticket request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("ticket filing failed (status %d): %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// LogTicketingClient records escalations in the application log. Used when
// no helpdesk webhook is configured.
type LogTicketingClient struct {
	logger *log.Logger
}

// NewLogTicketingClient creates a log-only ticketing client
func NewLogTicketingClient(logger *log.Logger) *LogTicketingClient {
	return &LogTicketingClient{logger: logger}
}

// FileTicket logs the escalation record
func (c *LogTicketingClient) FileTicket(_ context.Context, record *models.EscalationRecord) error {
	c.logger.Printf("ESCALATION %s [%s/%s] session=%s subject=%q",
		record.TicketNumber, record.Reason, record.Priority, record.SessionID, record.Subject)
	return nil
}
