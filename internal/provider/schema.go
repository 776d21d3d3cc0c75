package provider

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

// ErrValidation marks client-caused params failures (bad shape, schema
// violation) so handlers can return 422 instead of 500.
var ErrValidation = errors.New("params validation failed")

type paramsSchema struct {
	compiled *jsonschema.Schema
}

// compileParamsSchema compiles the inline JSON schema carried by a model's
// adapter spec.
func compileParamsSchema(model, schemaJSON string) (*paramsSchema, error) {
	c := jsonschema.NewCompiler()
	url := "schema://" + model + "/params.json"
	if err := c.AddResource(url, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add params schema: %w", err)
	}
	compiled, err := c.Compile(url)
	if err != nil {
		return nil, fmt.Errorf("compile params schema: %w", err)
	}
	return &paramsSchema{compiled: compiled}, nil
}

func (s *paramsSchema) validate(params json.RawMessage) error {
	if len(params) == 0 {
		params = []byte(`{}`)
	}
	var doc interface{}
	if err := json.Unmarshal(params, &doc); err != nil {
		return fmt.Errorf("%w: params are not valid JSON: %v", ErrValidation, err)
	}
	if err := s.compiled.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}
