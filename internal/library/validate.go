package library

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/roach88/setkeep/internal/ir"
)

//go:embed schemas/*.json
var schemaFS embed.FS

// InvalidFieldsError reports a payload that does not match its
// collection's schema.
type InvalidFieldsError struct {
	Collection ir.Collection
	ID         string
	Err        error
}

func (e *InvalidFieldsError) Error() string {
	msg := e.Err.Error()
	var ve *jsonschema.ValidationError
	if errors.As(e.Err, &ve) {
		msg = strings.ReplaceAll(ve.Error(), "\n", "; ")
	}
	if e.ID == "" {
		return fmt.Sprintf("invalid %s fields: %s", e.Collection, msg)
	}
	return fmt.Sprintf("invalid %s %s fields: %s", e.Collection, e.ID, msg)
}

func (e *InvalidFieldsError) Unwrap() error {
	return e.Err
}

// IsInvalidFields reports whether err is an *InvalidFieldsError.
func IsInvalidFields(err error) bool {
	var ie *InvalidFieldsError
	return errors.As(err, &ie)
}

// Validator checks record fields against the embedded collection schemas.
// It is safe for concurrent use.
type Validator struct {
	schemas map[ir.Collection]*jsonschema.Schema
}

// NewValidator compiles the collection schemas.
func NewValidator() (*Validator, error) {
	c := jsonschema.NewCompiler()
	v := &Validator{schemas: make(map[ir.Collection]*jsonschema.Schema, len(descriptors))}

	for _, d := range descriptors {
		name := "schemas/" + string(d.Collection) + ".json"
		data, err := schemaFS.ReadFile(name)
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse schema %s: %w", name, err)
		}
		url := "setkeep:///" + name
		if err := c.AddResource(url, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
		sch, err := c.Compile(url)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		v.schemas[d.Collection] = sch
	}
	return v, nil
}

// Validate checks rec.Fields against rec.Collection's schema.
func (v *Validator) Validate(rec ir.Record) error {
	sch, ok := v.schemas[rec.Collection]
	if !ok {
		return fmt.Errorf("unknown collection %q", rec.Collection)
	}
	fields := rec.Fields
	if fields == nil {
		fields = ir.IRObject{}
	}
	data, err := ir.MarshalCanonical(fields)
	if err != nil {
		return &InvalidFieldsError{Collection: rec.Collection, ID: rec.ID, Err: err}
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return &InvalidFieldsError{Collection: rec.Collection, ID: rec.ID, Err: err}
	}
	if err := sch.Validate(inst); err != nil {
		return &InvalidFieldsError{Collection: rec.Collection, ID: rec.ID, Err: err}
	}
	return nil
}
