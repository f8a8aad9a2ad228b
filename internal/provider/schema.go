package provider

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"

	"github.com/wonny/aegis-analytics/internal/contracts"
)

//go:embed canonical_record.schema.json
var canonicalRecordSchema []byte

var (
	compiledSchema *gojsonschema.Schema
	compileOnce    sync.Once
	compileErr     error
)

func getSchema() (*gojsonschema.Schema, error) {
	compileOnce.Do(func() {
		compiledSchema, compileErr = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(canonicalRecordSchema))
	})
	return compiledSchema, compileErr
}

// SchemaError lists the canonical-record schema violations
type SchemaError struct {
	Violations []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("canonical record invalid: %s", strings.Join(e.Violations, "; "))
}

// ValidateRecord checks a record against the canonical record schema
// ⭐ SSOT: L1 경계 스키마 검증은 여기서만
func ValidateRecord(rec *contracts.CanonicalRecord) error {
	if rec == nil {
		return &SchemaError{Violations: []string{"record is nil"}}
	}

	schema, err := getSchema()
	if err != nil {
		return fmt.Errorf("compiling canonical record schema: %w", err)
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode canonical record: %w", err)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(data))
	if err != nil {
		return fmt.Errorf("validating canonical record: %w", err)
	}
	if result.Valid() {
		return nil
	}

	violations := make([]string, 0, len(result.Errors()))
	for _, e := range result.Errors() {
		violations = append(violations, e.String())
	}
	return &SchemaError{Violations: violations}
}
