// Package endpoint is the typed model of one remote-callable WebAssembly
// function: its URL, its request parameters/body schema, and its response
// media-type/schema. Follows the OpenAPI v3.0 shape the orchestrator sends,
// restricted to the subset this supervisor understands.
package endpoint

import (
	"encoding/json"
	"fmt"
)

// SupportedFileMediaTypes are the media types a mount or endpoint response may
// carry as a file, rather than as a JSON primitive.
var SupportedFileMediaTypes = []string{
	"image/png",
	"image/jpeg",
	"image/jpg",
	"application/octet-stream",
	"application/wasm",
	"text/html",
	"text/javascript",
}

// IsFileMediaType reports whether mediaType is one the file mount machinery
// understands.
func IsFileMediaType(mediaType string) bool {
	for _, t := range SupportedFileMediaTypes {
		if t == mediaType {
			return true
		}
	}
	return false
}

// SchemaType is a JSON Schema type restricted to what WebAssembly function
// I/O can represent.
type SchemaType string

const (
	SchemaInteger SchemaType = "integer"
	SchemaString  SchemaType = "string"
	SchemaObject  SchemaType = "object"
)

// SchemaFormat further constrains a SchemaType, e.g. a string holding binary
// data.
type SchemaFormat string

const FormatBinary SchemaFormat = "binary"

// PropertySchema describes one property of an "object" Schema, used for
// multipart/form-data response bodies whose properties are files.
type PropertySchema struct {
	Type   string `json:"type"`
	Format string `json:"format"`
}

// Schema is a (deliberately narrow) JSON Schema.
type Schema struct {
	Type       SchemaType                `json:"type"`
	Format     SchemaFormat              `json:"format,omitempty"`
	Properties map[string]PropertySchema `json:"properties,omitempty"`
}

// CanBeWasmPrimitive reports whether a value of this schema can cross the
// WebAssembly boundary as a primitive return value.
func (s Schema) CanBeWasmPrimitive() bool {
	return s.Type == SchemaInteger
}

// Encoding describes the wire encoding of one property in a MediaTypeObject,
// namely the content type of a file-valued property.
type Encoding struct {
	ContentType string `json:"contentType"`
}

// MediaTypeObject is an OpenAPI v3.0 media type object: a schema plus its
// media type and, for structured bodies, a per-property encoding map.
type MediaTypeObject struct {
	MediaType string              `json:"mediaType"`
	Schema    Schema              `json:"schema"`
	Encoding  map[string]Encoding `json:"encoding,omitempty"`
}

// FileProperties returns the names (paths) of an object Schema's properties
// that are encodable as files under multipart/form-data, i.e. string/binary
// properties whose declared content type is supported.
func (m MediaTypeObject) FileProperties() []string {
	var paths []string
	for path, prop := range m.Schema.Properties {
		if prop.Type != "string" || prop.Format != string(FormatBinary) {
			continue
		}
		enc, ok := m.Encoding[path]
		if !ok || !IsFileMediaType(enc.ContentType) {
			continue
		}
		paths = append(paths, path)
	}
	return paths
}

// Parameter is one named, query-bound input to a function call.
type Parameter struct {
	Name     string `json:"name"`
	Required bool   `json:"required"`
}

// EndpointRequest is an OpenAPI v3.0 operation, minus responses.
type EndpointRequest struct {
	Parameters []Parameter      `json:"parameters"`
	Body       *MediaTypeObject `json:"requestBody,omitempty"`
}

// Endpoint describes an endpoint for an RPC-style call: where to reach it,
// how to call it, and the shape of its request and response.
type Endpoint struct {
	URL      string          `json:"url"`
	Path     string          `json:"path"`
	Method   string          `json:"method"`
	Request  EndpointRequest `json:"request"`
	Response MediaTypeObject `json:"response"`
}

// Validate performs the structural checks required of a Schema: its Type
// must be one of the three known values, and Format (when present)
// must be "binary".
func (e Endpoint) Validate() error {
	if err := validateSchema(e.Response.Schema); err != nil {
		return fmt.Errorf("response: %w", err)
	}
	if e.Request.Body != nil {
		if err := validateSchema(e.Request.Body.Schema); err != nil {
			return fmt.Errorf("request body: %w", err)
		}
	}
	return nil
}

func validateSchema(s Schema) error {
	switch s.Type {
	case SchemaInteger, SchemaString, SchemaObject:
	default:
		return fmt.Errorf("unsupported schema type %q", s.Type)
	}
	if s.Format != "" && s.Format != FormatBinary {
		return fmt.Errorf("unsupported schema format %q", s.Format)
	}
	return nil
}

// UnmarshalJSON defaults MediaType to "application/json" when omitted, as the
// orchestrator's wire format does for integer responses.
func (m *MediaTypeObject) UnmarshalJSON(data []byte) error {
	type alias MediaTypeObject
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*m = MediaTypeObject(a)
	if m.MediaType == "" {
		m.MediaType = "application/json"
	}
	return nil
}
