package event

import (
	"encoding/json"
	"fmt"
)

// envelope is the at-rest payload framing: discriminator, schema version,
// and the variant body.
type envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Body          json.RawMessage `json:"body"`
}

// EncodePayload serializes a payload variant for storage.
// Unknown payloads round-trip their original raw bytes untouched.
func EncodePayload(p Payload) ([]byte, error) {
	if u, ok := p.(Unknown); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("event: encode %s: %w", p.Kind(), err)
	}
	return json.Marshal(envelope{SchemaVersion: SchemaVersion, Body: body})
}

// DecodePayload deserializes a stored payload by its discriminator.
// An unrecognized discriminator yields Unknown rather than an error:
// the store must keep serving records written by newer builds, and the
// decision to fail belongs to whoever tries to fold them.
func DecodePayload(kind string, data []byte) (Payload, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("event: decode envelope for %s: %w", kind, err)
	}
	if env.SchemaVersion > SchemaVersion {
		return Unknown{Type: kind, Raw: append([]byte(nil), data...)}, nil
	}

	var p Payload
	switch kind {
	case KindObjectAdded:
		p = &ObjectAdded{}
	case KindObjectMoved:
		p = &ObjectMoved{}
	case KindObjectTransformed:
		p = &ObjectTransformed{}
	case KindPropertySet:
		p = &PropertySet{}
	case KindStrokeAppended:
		p = &StrokeAppended{}
	case KindObjectRemoved:
		p = &ObjectRemoved{}
	case KindDocumentRenamed:
		p = &DocumentRenamed{}
	default:
		return Unknown{Type: kind, Raw: append([]byte(nil), data...)}, nil
	}

	if err := json.Unmarshal(env.Body, p); err != nil {
		return nil, fmt.Errorf("event: decode %s body: %w", kind, err)
	}
	return deref(p), nil
}

// deref returns the value form so payloads compare and copy by value.
func deref(p Payload) Payload {
	switch v := p.(type) {
	case *ObjectAdded:
		return *v
	case *ObjectMoved:
		return *v
	case *ObjectTransformed:
		return *v
	case *PropertySet:
		return *v
	case *StrokeAppended:
		return *v
	case *ObjectRemoved:
		return *v
	case *DocumentRenamed:
		return *v
	default:
		return p
	}
}
