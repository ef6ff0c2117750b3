package gateway

import (
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RequestSchema describes an inbound client message.
const RequestSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["text"],
  "additionalProperties": false,
  "properties": {
    "event_id":     {"type": "string", "maxLength": 256},
    "thread":       {"type": "string", "maxLength": 256},
    "requester_id": {"type": "string", "maxLength": 256},
    "text":         {"type": "string", "maxLength": 65536}
  }
}`

var (
	requestSchemaOnce sync.Once
	requestSchema     *gojsonschema.Schema
	requestSchemaErr  error
)

func loadRequestSchema() (*gojsonschema.Schema, error) {
	requestSchemaOnce.Do(func() {
		requestSchema, requestSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(RequestSchema))
	})
	return requestSchema, requestSchemaErr
}

// ValidateRequest checks raw against RequestSchema.
func ValidateRequest(raw []byte) error {
	schema, err := loadRequestSchema()
	if err != nil {
		return fmt.Errorf("failed to load request schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed request: %w", err)
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		msgs = append(msgs, e.String())
	}
	return fmt.Errorf("validation errors: %s", strings.Join(msgs, "; "))
}
