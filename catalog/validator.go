package catalog

import (
	"fmt"
	"hash/fnv"
	"sync"

	"github.com/goccy/go-json"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Validator compiles topic payload schemas and caches the result, keyed
// by the schema's JSON serialization. Topics share compiled schemas when
// their definitions are identical.
type Validator struct {
	mu       sync.RWMutex
	compiled map[string]*jsonschema.Schema
}

// NewValidator creates an empty validator.
func NewValidator() *Validator {
	return &Validator{compiled: make(map[string]*jsonschema.Schema)}
}

// Validate checks the payload against the schema. A nil schema accepts
// everything.
func (v *Validator) Validate(schema, payload any) error {
	if schema == nil {
		return nil
	}

	s, err := v.schemaFor(schema)
	if err != nil {
		return err
	}
	return s.Validate(payload)
}

func (v *Validator) schemaFor(schema any) (*jsonschema.Schema, error) {
	raw, err := json.Marshal(schema)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	key := string(raw)

	v.mu.RLock()
	s, ok := v.compiled[key]
	v.mu.RUnlock()
	if ok {
		return s, nil
	}

	// The compiler wants the schema as a decoded document plus a resource
	// URL. The URL only has to be unique per schema, so hash the JSON.
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode schema: %w", err)
	}

	h := fnv.New64a()
	h.Write(raw)
	url := fmt.Sprintf("courier://schema/%x", h.Sum64())

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(url, doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	s, err = compiler.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}

	v.mu.Lock()
	v.compiled[key] = s
	v.mu.Unlock()

	return s, nil
}
