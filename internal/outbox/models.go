// Package outbox implements the transactional outbox for certificate
// lifecycle events. Events are appended in the same transaction as the
// certificate change and published to Kafka by the relay, so the broker
// never sees an event whose database write rolled back.
package outbox

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"certmint/internal/certificate/models"
)

// Event types carried on the certificate events topic.
const (
	EventIssued       = "certificate.issued"
	EventDeactivated  = "certificate.deactivated"
	EventDatesUpdated = "certificate.dates_updated"
)

// Event is one pending integration message. Payload is the JSON body
// published to the broker, keyed by CertificateID so per-certificate
// ordering survives partitioning.
type Event struct {
	ID            uuid.UUID
	EventType     string
	CertificateID string
	Payload       []byte
	CreatedAt     time.Time
	PublishedAt   *time.Time
}

// eventPayload is the JSON structure published to Kafka. Consumers
// de-duplicate on event_id since the relay retries after a crash.
type eventPayload struct {
	EventID       string `json:"event_id"`
	EventType     string `json:"event_type"`
	CertificateID string `json:"certificate_id"`
	Domain        string `json:"domain"`
	TaxID         string `json:"tax_id"`
	ValidFrom     string `json:"valid_from"`
	ValidTo       string `json:"valid_to"`
	UsersCount    int    `json:"users_count"`
	IsActive      bool   `json:"is_active"`
	OccurredAt    string `json:"occurred_at"`
}

// NewEvent builds an outbox event carrying a full snapshot of the
// certificate as of the change.
func NewEvent(eventType string, cert models.Certificate, occurredAt time.Time) (Event, error) {
	eventID := uuid.New()
	body := eventPayload{
		EventID:       eventID.String(),
		EventType:     eventType,
		CertificateID: cert.CertificateID,
		Domain:        cert.Domain,
		TaxID:         cert.TaxID,
		ValidFrom:     models.DateOnly(cert.ValidFrom).Format(time.DateOnly),
		ValidTo:       models.DateOnly(cert.ValidTo).Format(time.DateOnly),
		UsersCount:    cert.UsersCount,
		IsActive:      cert.IsActive,
		OccurredAt:    occurredAt.UTC().Format(time.RFC3339Nano),
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return Event{}, fmt.Errorf("marshal outbox payload: %w", err)
	}
	return Event{
		ID:            eventID,
		EventType:     eventType,
		CertificateID: cert.CertificateID,
		Payload:       raw,
	}, nil
}
