package notify

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/erazemk/narocila/internal/model"
)

// EnvelopeVersion is the current envelope schema version.
const EnvelopeVersion = 1

// Envelope wraps a notification for the event stream.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// NewEnvelope wraps n. The correlation id is the related order, if any.
func NewEnvelope(producer string, n model.Notification) (Envelope, error) {
	payload, err := json.Marshal(n)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding notification: %w", err)
	}

	env := Envelope{
		EventID:      uuid.NewString(),
		EventType:    n.Type,
		EventVersion: EnvelopeVersion,
		OccurredAt:   n.CreatedAt.UTC(),
		Producer:     producer,
		Payload:      payload,
	}
	if n.RelatedOrder != nil {
		env.CorrelationID = strconv.FormatInt(*n.RelatedOrder, 10)
	}
	return env, nil
}

// recipientKey identifies a notification's recipient, e.g. "user:7".
func recipientKey(n model.Notification) string {
	return fmt.Sprintf("%s:%d", n.RecipientKind, n.Recipient)
}
