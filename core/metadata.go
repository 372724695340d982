package core

import (
	"encoding/json"
	"fmt"
	"time"
)

// Reserved metadata keys. They map onto the typed fields of Metadata and may
// not appear in Extra.
const (
	MetaCreatedAt    = "createdAt"
	MetaModel        = "model"
	MetaFinishReason = "finishReason"
	MetaStep         = "step"
	MetaAborted      = "aborted"
)

var reservedMetaKeys = map[string]struct{}{
	MetaCreatedAt:    {},
	MetaModel:        {},
	MetaFinishReason: {},
	MetaStep:         {},
	MetaAborted:      {},
}

// Metadata is the restricted metadata variant attached to a Message: a fixed
// set of known fields plus an open extension map. On the wire it is a single
// flat JSON object.
type Metadata struct {
	CreatedAt    *time.Time
	Model        string
	FinishReason string
	Step         int
	Aborted      bool
	Extra        map[string]any
}

// StampCreatedAt sets CreatedAt if it is unset and reports whether the stamp
// was applied. An existing stamp is never overwritten.
func (m *Metadata) StampCreatedAt(t time.Time) bool {
	if m.CreatedAt != nil {
		return false
	}
	ts := t.UTC()
	m.CreatedAt = &ts
	return true
}

// Set stores an extension value. Reserved keys are rejected.
func (m *Metadata) Set(key string, value any) error {
	if _, ok := reservedMetaKeys[key]; ok {
		return fmt.Errorf("metadata key %q is reserved", key)
	}
	if m.Extra == nil {
		m.Extra = map[string]any{}
	}
	m.Extra[key] = value
	return nil
}

// Validate checks the boundary constraints of the metadata.
func (m Metadata) Validate() error {
	for k := range m.Extra {
		if _, ok := reservedMetaKeys[k]; ok {
			return fmt.Errorf("metadata extra key %q shadows a typed field", k)
		}
	}
	if m.Step < 0 {
		return fmt.Errorf("metadata step must be >= 0, got %d", m.Step)
	}
	return nil
}

// Clone returns a deep-enough copy for independent mutation.
func (m Metadata) Clone() Metadata {
	c := m
	if m.CreatedAt != nil {
		ts := *m.CreatedAt
		c.CreatedAt = &ts
	}
	if m.Extra != nil {
		c.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			c.Extra[k] = v
		}
	}
	return c
}

// IsZero reports whether no field is set.
func (m Metadata) IsZero() bool {
	return m.CreatedAt == nil && m.Model == "" && m.FinishReason == "" && m.Step == 0 && !m.Aborted && len(m.Extra) == 0
}

// MarshalJSON flattens typed fields and Extra into one object.
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+5)
	for k, v := range m.Extra {
		out[k] = v
	}
	if m.CreatedAt != nil {
		out[MetaCreatedAt] = m.CreatedAt.UTC().Format(time.RFC3339Nano)
	}
	if m.Model != "" {
		out[MetaModel] = m.Model
	}
	if m.FinishReason != "" {
		out[MetaFinishReason] = m.FinishReason
	}
	if m.Step != 0 {
		out[MetaStep] = m.Step
	}
	if m.Aborted {
		out[MetaAborted] = true
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits a flat object into typed fields and Extra. Typed keys
// with the wrong JSON type are rejected.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var md Metadata
	for k, v := range raw {
		var err error
		switch k {
		case MetaCreatedAt:
			var ts time.Time
			if err = json.Unmarshal(v, &ts); err == nil {
				md.CreatedAt = &ts
			}
		case MetaModel:
			err = json.Unmarshal(v, &md.Model)
		case MetaFinishReason:
			err = json.Unmarshal(v, &md.FinishReason)
		case MetaStep:
			err = json.Unmarshal(v, &md.Step)
		case MetaAborted:
			err = json.Unmarshal(v, &md.Aborted)
		default:
			var val any
			if err = json.Unmarshal(v, &val); err == nil {
				if md.Extra == nil {
					md.Extra = map[string]any{}
				}
				md.Extra[k] = val
			}
		}
		if err != nil {
			return fmt.Errorf("metadata %q: %w", k, err)
		}
	}
	*m = md
	return nil
}
