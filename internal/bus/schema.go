package bus

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/melding.schema.json
var meldingSchema []byte

const meldingSchemaURL = "https://spesialist.schemas.local/bus/melding.schema.json"

// Validator checks inbound bytes against the envelope schema before they are
// decoded into a Melding.
type Validator struct {
	schema *jsonschema.Schema
}

// NewValidator compiles the embedded envelope schema.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	c.Draft = jsonschema.Draft2020
	if err := c.AddResource(meldingSchemaURL, bytes.NewReader(meldingSchema)); err != nil {
		return nil, fmt.Errorf("bus: load melding schema: %w", err)
	}
	compiled, err := c.Compile(meldingSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("bus: compile melding schema: %w", err)
	}
	return &Validator{schema: compiled}, nil
}

// Parse validates data and decodes it.
func (v *Validator) Parse(data []byte) (Melding, error) {
	var doc any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil {
		return Melding{}, fmt.Errorf("bus: decode melding: %w", err)
	}
	if err := v.schema.Validate(doc); err != nil {
		return Melding{}, fmt.Errorf("bus: invalid melding: %w", err)
	}
	var m Melding
	if err := json.Unmarshal(data, &m); err != nil {
		return Melding{}, fmt.Errorf("bus: decode melding: %w", err)
	}
	return m, nil
}
