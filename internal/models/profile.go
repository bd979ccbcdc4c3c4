package models

import (
	"time"
)

// CustomerProfile carries personalization data for a known customer. It
// holds a non-owning list of session IDs rather than back-references to
// session objects; sessions own their own messages.
type CustomerProfile struct {
	ID                string    `json:"id"`
	ExternalID        string    `json:"external_id,omitempty"`
	Email             string    `json:"email,omitempty"`
	Name              string    `json:"name,omitempty"`
	PreferredLanguage string    `json:"preferred_language"`
	Timezone          string    `json:"timezone"`
	SessionIDs        []string  `json:"session_ids,omitempty"`
	InteractionCount  int       `json:"interaction_count"`
	LastInteraction   time.Time `json:"last_interaction,omitempty"`
}

// DisplayName returns the best available name for addressing the customer
func (p *CustomerProfile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Email != "" {
		return p.Email
	}
	return "Valued Customer"
}

// AddSession records a session reference if not already present
func (p *CustomerProfile) AddSession(sessionID string) {
	for _, id := range p.SessionIDs {
		if id == sessionID {
			return
		}
	}
	p.SessionIDs = append(p.SessionIDs, sessionID)
}
