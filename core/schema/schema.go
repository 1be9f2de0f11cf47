// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

// Package schema validates JSON documents against a set of JSON schemas, identified by their $id.
package schema

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"

	"github.com/goccy/go-json"

	"github.com/xeipuuv/gojsonschema"
)

// Validator is a utility to validate JSON object against a given schema
type Validator struct {
	schemaValidators map[string]*gojsonschema.Schema
}

// ValidationError is returned for documents which do not match their schema.
// Details holds one line per violation.
type ValidationError struct {
	SchemaID string
	Details  []string
}

func (e *ValidationError) Error() string {
	return "the document is not valid: " + strings.Join(e.Details, "; ")
}

// NewValidatorFromFS creates a new Validator using schemas from schemaFS. Json files
// from / will be used as toplevel schemas, while json files in /refs/ will be used
// as references. The refs folder is optional.
func NewValidatorFromFS(schemaFS fs.FS) (*Validator, error) {

	readDir := func(dir string) ([]string, error) {
		var strs []string
		files, err := fs.ReadDir(schemaFS, dir)
		if err != nil {
			return nil, fmt.Errorf("cannot read dir %w", err)
		}
		for _, f := range files {
			if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
				continue
			}
			fullPath := path.Join(dir, f.Name())
			str, err := fs.ReadFile(schemaFS, fullPath)
			if err != nil {
				return nil, fmt.Errorf("cannot read file '%s' %w", f.Name(), err)
			}
			strs = append(strs, string(str))
		}
		return strs, nil
	}

	schemasString, err := readDir(".")
	if err != nil {
		return nil, err
	}

	var refsString []string
	if _, err = fs.Stat(schemaFS, "refs"); err == nil {
		refsString, err = readDir("refs")
		if err != nil {
			return nil, err
		}
	}

	return NewValidator(schemasString, refsString)
}

// NewValidator creates a new Validator using schemas for the top level JSON schemas and refs
// for refs that may be referenced in the top level schemas. Top level schemas cannot reference each
// others. If a reference is mentioned, it can only be in the list of refs
func NewValidator(schemas []string, refs []string) (*Validator, error) {
	type schema struct {
		ID string `json:"$id"`
	}
	validator := Validator{schemaValidators: make(map[string]*gojsonschema.Schema)}
	for _, str := range schemas {
		s := schema{}
		err := json.Unmarshal([]byte(str), &s)
		if err != nil {
			return nil, fmt.Errorf("parse error '%v' in schema: '%s'", err, str)
		}
		if s.ID == "" {
			return nil, fmt.Errorf("schema does not contain $id: '%s'", str)
		}
		if _, ok := validator.schemaValidators[s.ID]; ok {
			return nil, fmt.Errorf("duplicate schema %s", s.ID)
		}
		sl := gojsonschema.NewSchemaLoader()

		for _, ref := range refs {
			loader := gojsonschema.NewStringLoader(ref)
			err := sl.AddSchemas(loader)
			if err != nil {
				return nil, fmt.Errorf("cannot add ref %s %s", ref, err)
			}
		}
		compiled, err := sl.Compile(gojsonschema.NewStringLoader(str))
		if err != nil {
			return nil, fmt.Errorf("cannot compile schema %s %s", s.ID, err)
		}
		validator.schemaValidators[s.ID] = compiled
	}

	return &validator, nil
}

// HasSchema returns true if schemaID is known
func (v *Validator) HasSchema(schemaID string) bool {
	_, ok := v.schemaValidators[schemaID]
	return ok
}

// ValidateStruct validates the given json as a struct against schemaID. If no error is returned,
// then the passed json is valid
func (v *Validator) ValidateStruct(json interface{}, schemaID string) error {
	return v.validate(gojsonschema.NewGoLoader(json), schemaID)
}

// ValidateString validates the given json against schemaID. If no error is returned, then the
// passed json is valid
func (v *Validator) ValidateString(json, schemaID string) error {
	return v.validate(gojsonschema.NewStringLoader(json), schemaID)
}

// ValidateBytes validates the given json against schemaID. Invalid documents yield a *ValidationError.
func (v *Validator) ValidateBytes(json []byte, schemaID string) error {
	return v.validate(gojsonschema.NewBytesLoader(json), schemaID)
}

// validate validates the given loader against schemaID. If no error is returned, then the passed json
// is valid
func (v *Validator) validate(loader gojsonschema.JSONLoader, schemaID string) error {

	schema, ok := v.schemaValidators[schemaID]
	if !ok {
		return fmt.Errorf("there is no schema %s ", schemaID)
	}

	result, err := schema.Validate(loader)
	if err != nil {
		return fmt.Errorf("cannot validate with schema %s %s", schemaID, err)
	}

	if !result.Valid() {
		verr := &ValidationError{SchemaID: schemaID}
		for _, e := range result.Errors() {
			verr.Details = append(verr.Details, e.String())
		}
		return verr
	}
	return nil
}

// IsValidationError returns true if err is a *ValidationError
func IsValidationError(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr)
}
