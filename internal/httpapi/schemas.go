package httpapi

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
)

// Request body schemas, validated before any upstream call. Shapes
// follow the relay's published schema documents.
var schemaSources = map[string]string{
	"create_notebook": `{
		"type": "object",
		"properties": {
			"name": {"type": "string", "minLength": 1},
			"description": {"type": "string"}
		},
		"required": ["name"]
	}`,
	"create_section": `{
		"type": "object",
		"properties": {
			"notebook_name": {"type": "string", "minLength": 1},
			"section_name": {"type": "string", "minLength": 1}
		},
		"required": ["notebook_name", "section_name"]
	}`,
	"create_page": `{
		"type": "object",
		"properties": {
			"section_id": {"type": "string", "minLength": 1},
			"title": {"type": "string", "minLength": 1},
			"content_html": {"type": "string"}
		},
		"required": ["section_id", "title"]
	}`,
	"update_page": `{
		"type": "object",
		"properties": {
			"page_id": {"type": "string", "minLength": 1},
			"content_html": {"type": "string", "minLength": 1},
			"target_element": {"type": "string"}
		},
		"required": ["page_id", "content_html"]
	}`,
	"get_page": `{
		"type": "object",
		"properties": {
			"page_id": {"type": "string", "minLength": 1}
		},
		"required": ["page_id"]
	}`,
	"search": `{
		"type": "object",
		"properties": {
			"query": {"type": "string", "minLength": 1},
			"limit": {"type": "integer", "minimum": 1, "maximum": 100}
		},
		"required": ["query"]
	}`,
	"write_note": `{
		"type": "object",
		"properties": {
			"notebook": {"type": "string", "minLength": 1},
			"page_title": {"type": "string", "minLength": 1},
			"content": {"type": "string"}
		},
		"required": ["notebook", "page_title", "content"]
	}`,
}

var requestSchemas = mustCompileSchemas()

func mustCompileSchemas() map[string]*jsonschema.Schema {
	compiler := jsonschema.NewCompiler()
	for name, src := range schemaSources {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(src))
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		if err := compiler.AddResource(name+".json", doc); err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
	}
	out := make(map[string]*jsonschema.Schema, len(schemaSources))
	for name := range schemaSources {
		schema, err := compiler.Compile(name + ".json")
		if err != nil {
			panic(fmt.Sprintf("schema %s: %v", name, err))
		}
		out[name] = schema
	}
	return out
}

// validateBody checks raw JSON against the named schema. The returned
// error message names the failing field so the caller can correct the
// request.
func validateBody(schemaName string, body []byte) error {
	schema, ok := requestSchemas[schemaName]
	if !ok {
		return fmt.Errorf("unknown request schema: %s", schemaName)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(body))
	if err != nil {
		return errors.New("invalid json body")
	}
	if err := schema.Validate(doc); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return errors.New(collapseValidationError(ve))
		}
		return err
	}
	return nil
}

func collapseValidationError(ve *jsonschema.ValidationError) string {
	msg := ve.Error()
	msg = strings.ReplaceAll(msg, "\n", " ")
	return strings.Join(strings.Fields(msg), " ")
}
