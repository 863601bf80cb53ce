// Package envconfig loads declarative manifests describing gas costs for
// an env.Environment's already-registered native functions, validated
// against a fixed JSON Schema before any cost is applied. This is the
// "tune the standard library without recompiling a Module" path: an
// operator ships a JSON file instead of Go code to retune pricing.
package envconfig

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/quartz-lang/quartzvm/env"
)

// manifestSchema is the fixed JSON Schema every cost manifest is
// validated against before use: a Draft 2020-12 schema compiled once per
// Load call and applied with jsonschema.Validate.
const manifestSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["costs"],
  "properties": {
    "costs": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["function", "cost"],
        "properties": {
          "function": {"type": "string", "minLength": 1},
          "cost": {"type": "integer", "minimum": 0}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`

// CostEntry is one "function": "cost" pairing from a manifest.
type CostEntry struct {
	Function string `json:"function"`
	Cost     uint64 `json:"cost"`
}

// Manifest is a parsed, schema-validated cost manifest.
type Manifest struct {
	Costs []CostEntry `json:"costs"`
}

func compileManifestSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020

	const url = "schema://quartzvm-cost-manifest.json"
	if err := compiler.AddResource(url, strings.NewReader(manifestSchema)); err != nil {
		return nil, err
	}
	return compiler.Compile(url)
}

// Load parses and schema-validates raw as a cost manifest. It does not
// touch any Environment; callers apply the result with Apply.
func Load(raw []byte) (Manifest, error) {
	schema, err := compileManifestSchema()
	if err != nil {
		return Manifest{}, fmt.Errorf("envconfig: compiling manifest schema: %w", err)
	}

	var doc interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Manifest{}, fmt.Errorf("envconfig: parsing manifest: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return Manifest{}, fmt.Errorf("envconfig: manifest failed schema validation: %w", err)
	}

	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return Manifest{}, fmt.Errorf("envconfig: decoding manifest: %w", err)
	}
	return m, nil
}

// Apply retunes e's native function costs per the manifest, looking each
// entry up by name via e.FunctionByName (which carries its own fuzzy-
// suggestion UnknownNativeFn error for an unresolvable name). Apply
// stops at the first unresolvable entry rather than applying a partial
// set, since a manifest is meant to be all-or-nothing configuration.
func Apply(e *env.Environment, m Manifest) error {
	ids := make([]uint16, len(m.Costs))
	for i, entry := range m.Costs {
		id, _, err := e.FunctionByName(entry.Function)
		if err != nil {
			return err
		}
		ids[i] = id
	}
	for i, entry := range m.Costs {
		e.SetCost(ids[i], entry.Cost)
	}
	return nil
}
