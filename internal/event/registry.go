package event

import (
	"encoding/json"
	"fmt"
)

// registry maps event types to payload constructors. Decoding through the
// registry gives each known event type a versioned schema while keeping
// unknown types opaque instead of failing.
var registry = map[string]func() any{
	TypeDocumentDiscovered: func() any { return &DocumentDiscovered{} },
	TypeDocumentExtracted:  func() any { return &DocumentExtracted{} },
	TypeChunksIndexed:      func() any { return &ChunkIndexed{} },
	TypeQueryReceived:      func() any { return &QueryReceived{} },
	TypeChunksRetrieved:    func() any { return &ChunksRetrieved{} },
	TypeRetrievalCompleted: func() any { return &RetrievalCompleted{} },
}

// DecodePayload decodes the envelope payload into its registered type.
// Unknown event types return RawPayload so consumers can forward or store
// them without understanding them. Unknown fields inside known payloads are
// ignored; missing optional fields keep their zero values.
func DecodePayload(env *Envelope) (any, error) {
	ctor, ok := registry[env.EventType]
	if !ok {
		return RawPayload(env.Payload), nil
	}
	payload := ctor()
	if err := json.Unmarshal(env.Payload, payload); err != nil {
		return nil, fmt.Errorf("decoding %s payload: %w", env.EventType, err)
	}
	return payload, nil
}

// KnownType reports whether the event type has a registered schema.
func KnownType(eventType string) bool {
	_, ok := registry[eventType]
	return ok
}
