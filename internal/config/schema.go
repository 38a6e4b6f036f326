package config

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/2keychains/2kc/internal/brokererr"
)

//go:embed schema.json
var schemaFS embed.FS

const schemaResourceURL = "https://2keychains.dev/schema/config.json"

var compiledSchema *jsonschema.Schema

func init() {
	raw, err := schemaFS.ReadFile("schema.json")
	if err != nil {
		panic(fmt.Sprintf("config: embedded schema missing: %v", err))
	}
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaResourceURL, bytes.NewReader(raw)); err != nil {
		panic(fmt.Sprintf("config: invalid embedded schema: %v", err))
	}
	compiledSchema, err = compiler.Compile(schemaResourceURL)
	if err != nil {
		panic(fmt.Sprintf("config: failed to compile embedded schema: %v", err))
	}
}

// Validate structurally validates raw JSON config bytes against the
// embedded schema (types, required fields, the mode enum, port range)
// before any defaulting happens.
func Validate(raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return brokererr.Wrap(brokererr.Corrupted, "parsing config as JSON", err)
	}
	if err := compiledSchema.Validate(doc); err != nil {
		return brokererr.Wrap(brokererr.InvalidInput, "config does not match schema", err)
	}
	return nil
}
