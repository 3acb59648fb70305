package parser

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

//go:embed schema.json
var schemaJSON []byte

// Schema returns the JSON schema suite documents are validated against.
func Schema() []byte {
	return append([]byte(nil), schemaJSON...)
}

func ParseFile(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(content, path)
}

// Parse validates and decodes a suite document. filename is only used in
// error messages.
func Parse(data []byte, filename string) (*Document, error) {
	if err := Validate(data, filename); err != nil {
		return nil, err
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, yamlError(err, filename)
	}
	doc.Path = filename
	return &doc, nil
}

// ValidationError lists every schema violation of a document.
type ValidationError struct {
	File   string
	Issues []string
}

func (e *ValidationError) Error() string {
	prefix := "invalid suite document"
	if e.File != "" {
		prefix = e.File + ": " + prefix
	}
	return prefix + ":\n  - " + strings.Join(e.Issues, "\n  - ")
}

// Validate checks a YAML suite document against the embedded schema.
func Validate(data []byte, filename string) error {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return yamlError(err, filename)
	}
	if raw == nil {
		return &ParseError{File: filename, Message: "empty suite document"}
	}

	documentJSON, err := json.Marshal(raw)
	if err != nil {
		return &ParseError{File: filename, Message: fmt.Sprintf("document is not representable as JSON: %v", err)}
	}

	schemaLoader := gojsonschema.NewBytesLoader(schemaJSON)
	documentLoader := gojsonschema.NewBytesLoader(documentJSON)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}
	if result.Valid() {
		return nil
	}

	var issues []string
	for _, desc := range result.Errors() {
		issues = append(issues, desc.String())
	}
	return &ValidationError{File: filename, Issues: issues}
}

// Marshal renders a document as YAML.
func Marshal(doc *Document) ([]byte, error) {
	var buf bytes.Buffer
	if err := Encode(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func Encode(w io.Writer, doc *Document) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encoding suite document: %w", err)
	}
	return enc.Close()
}

func yamlError(err error, filename string) error {
	var typeErr *yaml.TypeError
	if errors.As(err, &typeErr) {
		return &ParseError{File: filename, Message: strings.Join(typeErr.Errors, "; ")}
	}
	return &ParseError{File: filename, Message: strings.TrimPrefix(err.Error(), "yaml: ")}
}
