// Package event defines the shared event envelope and the correlation model
// used by every docpipe service. The envelope is the single cross-service
// tracing key: every event causally derived from one originating action
// carries that action's correlation ID unchanged.
package event

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the current envelope schema version. It signals breaking
// payload changes to consumers; unknown payload fields are always ignored.
const SchemaVersion = "1.0"

// Event types double as broker routing keys (dot.case).
const (
	TypeDocumentDiscovered = "document.discovered"
	TypeDocumentExtracted  = "document.extracted"
	TypeChunksIndexed      = "chunks.indexed"
	TypeQueryReceived      = "queryreceived"
	TypeChunksRetrieved    = "chunksretrieved"
	TypeRetrievalCompleted = "retrievalcompleted"
)

// Envelope is the wire-level message shared by all services.
type Envelope struct {
	EventType     string          `json:"eventType"`
	EventID       string          `json:"eventId"`
	Timestamp     time.Time       `json:"timestamp"`
	CorrelationID string          `json:"correlationId"`
	Source        string          `json:"source"`
	Version       string          `json:"version"`
	Payload       json.RawMessage `json:"payload"`
}

// New creates an envelope for a fresh causal chain. The payload is marshaled
// immediately; a marshal failure is a programming error and is returned to the
// caller rather than silently producing an empty payload.
func New(eventType, source, correlationID string, payload any) (*Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return &Envelope{
		EventType:     eventType,
		EventID:       uuid.NewString(),
		Timestamp:     time.Now().UTC(),
		CorrelationID: correlationID,
		Source:        source,
		Version:       SchemaVersion,
		Payload:       raw,
	}, nil
}

// Derive creates a new envelope in the same causal chain: the correlation ID
// is inherited unchanged, everything else is fresh.
func (e *Envelope) Derive(eventType, source string, payload any) (*Envelope, error) {
	return New(eventType, source, e.CorrelationID, payload)
}

// NewCorrelationID returns a fresh correlation ID for an originating action.
func NewCorrelationID() string {
	return uuid.NewString()
}

// Encode marshals the envelope for the broker body.
func (e *Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Decode parses a broker body into an envelope. The payload stays raw until
// the typed registry decodes it.
func Decode(body []byte) (*Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, err
	}
	return &env, nil
}
