package protocol

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const schemaBase = "https://pixel-place.local/schemas/"

//go:embed schemas/*.schema.json
var schemaFS embed.FS

// Validator checks raw frames against the embedded JSON schemas.
type Validator struct {
	schemas map[string]*jsonschema.Schema
}

func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	entries, err := schemaFS.ReadDir("schemas")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	for _, e := range entries {
		raw, err := schemaFS.ReadFile("schemas/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(schemaBase+e.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to add schema %s: %w", e.Name(), err)
		}
	}
	v := &Validator{schemas: make(map[string]*jsonschema.Schema)}
	for _, t := range []string{TypeInitial, TypePixelUpdated, TypeUpdatePixel} {
		s, err := c.Compile(schemaBase + t + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", t, err)
		}
		v.schemas[t] = s
	}
	return v, nil
}

// Validate checks that raw is a well-formed message of the given type.
func (v *Validator) Validate(msgType string, raw []byte) error {
	s, ok := v.schemas[msgType]
	if !ok {
		return fmt.Errorf("%w %q", ErrUnknownType, msgType)
	}
	d := json.NewDecoder(bytes.NewReader(raw))
	d.UseNumber()
	var doc any
	if err := d.Decode(&doc); err != nil {
		return fmt.Errorf("failed to decode %s: %w", msgType, err)
	}
	if err := s.Validate(doc); err != nil {
		return fmt.Errorf("invalid %s: %w", msgType, err)
	}
	return nil
}
