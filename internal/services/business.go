package services

import (
	"fmt"
	"strings"
	"time"

	"support-agent/internal/config"
)

// BusinessContext answers business-hours questions and renders the
// business facts section of the system prompt.
type BusinessContext struct {
	settings config.BusinessSettings
	location *time.Location
}

// NewBusinessContext creates a business context. An unknown timezone falls
// back to UTC rather than failing startup.
func NewBusinessContext(settings config.BusinessSettings) *BusinessContext {
	loc, err := time.LoadLocation(settings.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return &BusinessContext{
		settings: settings,
		location: loc,
	}
}

// IsOpen reports whether the business is open at the given instant
func (b *BusinessContext) IsOpen(now time.Time) bool {
	local := now.In(b.location)

	dayOpen := false
	for _, day := range b.settings.Days {
		if strings.EqualFold(day, local.Weekday().String()) {
			dayOpen = true
			break
		}
	}
	if !dayOpen {
		return false
	}

	start, err1 := parseClock(b.settings.HoursStart)
	end, err2 := parseClock(b.settings.HoursEnd)
	if err1 != nil || err2 != nil {
		return false
	}

	minutes := local.Hour()*60 + local.Minute()
	return minutes >= start && minutes < end
}

// HoursDescription returns a one-line statement of operating hours
func (b *BusinessContext) HoursDescription() string {
	days := strings.Join(b.settings.Days, ", ")
	return fmt.Sprintf("%s to %s (%s), %s", b.settings.HoursStart, b.settings.HoursEnd, b.settings.Timezone, days)
}

// PromptSection renders the business facts block of the system prompt
func (b *BusinessContext) PromptSection(now time.Time) string {
	status := "currently closed"
	if b.IsOpen(now) {
		status = "currently open"
	}
	return fmt.Sprintf(
		"Business: %s\nOperating hours: %s (%s)\nSupport contact: %s / %s",
		b.settings.Name, b.HoursDescription(), status,
		b.settings.SupportEmail, b.settings.SupportPhone)
}

func parseClock(value string) (int, error) {
	parsed, err := time.Parse("15:04", value)
	if err != nil {
		return 0, err
	}
	return parsed.Hour()*60 + parsed.Minute(), nil
}
