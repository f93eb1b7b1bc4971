// internal/schema/validator.go
// Package schema provides JSON schema validation for synced entities.
// Validation runs at the write boundary so malformed documents are rejected
// before they reach the local cache or the remote store.
package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	sverrors "github.com/stylevault/stylevault-go/internal/errors"
	"github.com/stylevault/stylevault-go/internal/model"
)

// Validator validates entity documents against JSON schemas.
type Validator struct {
	schemas map[model.EntityKey]*gojsonschema.Schema // Compiled schema per entity key
}

// NewValidator creates a new validator with all entity schemas compiled.
func NewValidator() (*Validator, error) {
	v := &Validator{
		schemas: make(map[model.EntityKey]*gojsonschema.Schema),
	}
	if err := v.loadSchemas(); err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}
	return v, nil
}

// loadSchemas compiles the per-entity JSON schemas.
func (v *Validator) loadSchemas() error {
	// Profile schema. The document is deliberately open: onboarding grows
	// it over time, so only types of known fields are constrained.
	profileSchema := `{
		"type": "object",
		"properties": {
			"name":            {"type": "string", "maxLength": 128},
			"bodyType":        {"type": "string", "maxLength": 64},
			"stylePreference": {"type": "string", "maxLength": 256},
			"styleGoal":       {"type": "string", "maxLength": 256},
			"onboarded":       {"type": "boolean"}
		}
	}`
	if err := v.loadSchema(model.KeyUserProfile, profileSchema); err != nil {
		return fmt.Errorf("failed to load profile schema: %w", err)
	}

	// Wardrobe schema validates the full item array. Category membership is
	// enforced here so stored values stay within the closed English set.
	// colors and styles admit null: an item without them marshals its nil
	// slices as null, and that is a valid minimal item.
	wardrobeSchema := `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["id", "name", "category"],
			"properties": {
				"id":          {"type": "string", "minLength": 1},
				"name":        {"type": "string", "minLength": 1, "maxLength": 128},
				"category":    {"type": "string", "enum": ["tops", "bottoms", "shoes", "accessories", "outerwear"]},
				"colors":      {"type": ["array", "null"], "items": {"type": "string"}},
				"styles":      {"type": ["array", "null"], "items": {"type": "string"}},
				"brand":       {"type": "string", "maxLength": 128},
				"description": {"type": "string", "maxLength": 1024},
				"imageUrl":    {"type": "string"}
			}
		}
	}`
	if err := v.loadSchema(model.KeyWardrobe, wardrobeSchema); err != nil {
		return fmt.Errorf("failed to load wardrobe schema: %w", err)
	}

	chatSchema := `{
		"type": "array",
		"items": {
			"type": "object",
			"required": ["role", "content"],
			"properties": {
				"role":    {"type": "string", "enum": ["user", "assistant"]},
				"content": {"type": "string", "maxLength": 16384}
			}
		}
	}`
	if err := v.loadSchema(model.KeyChatHistory, chatSchema); err != nil {
		return fmt.Errorf("failed to load chat schema: %w", err)
	}

	return nil
}

// loadSchema compiles a single schema and stores it under key.
func (v *Validator) loadSchema(key model.EntityKey, schemaJSON string) error {
	loader := gojsonschema.NewStringLoader(schemaJSON)
	schema, err := gojsonschema.NewSchema(loader)
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", key, err)
	}
	v.schemas[key] = schema
	return nil
}

// Validate validates an entity document against the schema for key.
// Violations are reported as SV_DATA errors with the failure details.
func (v *Validator) Validate(key model.EntityKey, doc interface{}) error {
	schema, exists := v.schemas[key]
	if !exists {
		return sverrors.New(sverrors.SV_DATA, fmt.Sprintf("no schema for entity %s", key))
	}

	docJSON, err := json.Marshal(doc)
	if err != nil {
		return sverrors.Wrap(sverrors.SV_DATA, "failed to marshal document", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(docJSON))
	if err != nil {
		return sverrors.Wrap(sverrors.SV_DATA, "validation error", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, desc.String())
		}
		return sverrors.New(sverrors.SV_DATA, fmt.Sprintf("validation failed: %s", strings.Join(errs, "; ")))
	}
	return nil
}
