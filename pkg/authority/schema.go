package authority

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schemas/*.schema.json
var schemaFiles embed.FS

// schemaBase is the resource URL prefix the schemas are registered under.
const schemaBase = "https://proxkey.dev/schemas/"

// Schema names.
const (
	schemaPairingRequest    = "pairing-request.schema.json"
	schemaVehicleKeyRequest = "vehicle-key-request.schema.json"
)

// validator holds the compiled request schemas.
type validator struct {
	schemas map[string]*jsonschema.Schema
}

func newValidator() (*validator, error) {
	compiler := jsonschema.NewCompiler()
	names := []string{schemaPairingRequest, schemaVehicleKeyRequest}

	for _, name := range names {
		data, err := schemaFiles.ReadFile("schemas/" + name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(schemaBase+name, bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}

	v := &validator{schemas: make(map[string]*jsonschema.Schema, len(names))}
	for _, name := range names {
		s, err := compiler.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[name] = s
	}
	return v, nil
}

// decode validates data against the named schema and unmarshals it into out.
func (v *validator) decode(name string, data []byte, out any) error {
	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("malformed JSON: %w", err)
	}
	if err := v.schemas[name].Validate(instance); err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}
