package collector

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

// RecordSchema is the JSON Schema every line of a collection file satisfies.
const RecordSchema = `{
	"$schema": "http://json-schema.org/draft-07/schema#",
	"type": "object",
	"required": ["id", "timestamp", "messages", "output"],
	"properties": {
		"id": {"type": "string", "minLength": 1},
		"timestamp": {"type": "string", "format": "date-time"},
		"messages": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string"},
					"content": {"type": "string"}
				}
			}
		},
		"output": {}
	}
}`

const maxLineSize = 16 * 1024 * 1024

var (
	recordSchemaOnce sync.Once
	recordSchema     *gojsonschema.Schema
	recordSchemaErr  error
)

func loadRecordSchema() (*gojsonschema.Schema, error) {
	recordSchemaOnce.Do(func() {
		recordSchema, recordSchemaErr = gojsonschema.NewSchema(gojsonschema.NewStringLoader(RecordSchema))
	})
	return recordSchema, recordSchemaErr
}

// ValidateRecord checks one serialized entry against RecordSchema.
func ValidateRecord(line []byte) error {
	schema, err := loadRecordSchema()
	if err != nil {
		return fmt.Errorf("failed to load record schema: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(line))
	if err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}

	if !result.Valid() {
		errs := make([]string, 0, len(result.Errors()))
		for _, e := range result.Errors() {
			errs = append(errs, e.String())
		}
		return fmt.Errorf("validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ValidateFile checks every line of a collection file and that entry ids are
// unique within it. It returns the number of valid records.
func ValidateFile(path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	seen := make(map[string]int)
	count := 0
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		if err := ValidateRecord(line); err != nil {
			return count, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}

		var head struct {
			ID string `json:"id"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			return count, fmt.Errorf("%s:%d: %w", path, lineNo, err)
		}
		if prev, ok := seen[head.ID]; ok {
			return count, fmt.Errorf("%s:%d: duplicate id %s (first seen on line %d)", path, lineNo, head.ID, prev)
		}
		seen[head.ID] = lineNo
		count++
	}

	if err := scanner.Err(); err != nil {
		return count, fmt.Errorf("%s: %w", path, err)
	}

	return count, nil
}
