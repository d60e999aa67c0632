package ingress

import (
	"fmt"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/harborgrid/beacon/pkg/apierr"
)

// SchemaRegistry holds optional per-topic JSON schemas. A registered schema
// makes payload validation mandatory for that (project, topic).
type SchemaRegistry struct {
	mu      sync.RWMutex
	schemas map[string]*gojsonschema.Schema
}

// NewSchemaRegistry builds an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{schemas: make(map[string]*gojsonschema.Schema)}
}

func schemaKey(projectID, topic string) string { return projectID + "\x00" + topic }

// Register compiles and installs a schema for a project topic.
func (r *SchemaRegistry) Register(projectID, topic string, schemaJSON []byte) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for topic %s: %w", topic, err)
	}
	r.mu.Lock()
	r.schemas[schemaKey(projectID, topic)] = schema
	r.mu.Unlock()
	return nil
}

// Validate checks a payload against the topic's schema, if one exists.
func (r *SchemaRegistry) Validate(projectID, topic string, payload []byte) error {
	r.mu.RLock()
	schema, ok := r.schemas[schemaKey(projectID, topic)]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return apierr.Wrap(apierr.CodeValidationFailed, "schema validation could not run", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		violations = append(violations, desc.String())
	}
	return apierr.New(apierr.CodeValidationFailed, "payload failed topic schema").
		WithDetails(map[string]interface{}{"violations": violations})
}
