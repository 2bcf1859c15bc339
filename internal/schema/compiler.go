package schema

import (
	"bytes"
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	js "github.com/santhosh-tekuri/jsonschema/v5"
)

// Document names a schema that incoming documents are checked against.
type Document string

const (
	// RuleSet is a rule import payload: {"rules": [...]}
	RuleSet Document = "rule_set.json"
	// SurveyDefinition is a full survey file with sections, questions and rules
	SurveyDefinition Document = "survey.json"
)

const baseURL = "mem://surveyflow/"

// ErrInvalidDocument wraps every schema violation.
var ErrInvalidDocument = errors.New("invalid document")

//go:embed documents/*.json
var documents embed.FS

type Compiler struct {
	compiler *js.Compiler
	cache    *expirable.LRU[Document, *js.Schema]
}

// NewCompilerWithCache creates a compiler with the bundled documents loaded
func NewCompilerWithCache(maxSize int) (*Compiler, error) {
	c := js.NewCompiler()
	c.Draft = js.Draft2020

	entries, err := documents.ReadDir("documents")
	if err != nil {
		return nil, fmt.Errorf("failed to list schemas: %w", err)
	}
	for _, e := range entries {
		raw, err := documents.ReadFile("documents/" + e.Name())
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", e.Name(), err)
		}
		if err := c.AddResource(baseURL+e.Name(), bytes.NewReader(raw)); err != nil {
			return nil, fmt.Errorf("failed to add resource %s: %w", e.Name(), err)
		}
	}

	return &Compiler{
		compiler: c,
		cache:    expirable.NewLRU[Document, *js.Schema](maxSize, nil, time.Hour),
	}, nil
}

// Prepare compiles and caches a document schema
func (c *Compiler) Prepare(ctx context.Context, doc Document) (*js.Schema, error) {
	if compiled, ok := c.cache.Get(doc); ok {
		return compiled, nil
	}

	compiled, err := c.compiler.Compile(baseURL + string(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema %s: %w", doc, err)
	}

	c.cache.Add(doc, compiled)
	return compiled, nil
}

// Validate checks value against the named document schema. value may be any
// JSON-marshalable tree, including the output of a YAML decoder.
func (c *Compiler) Validate(ctx context.Context, doc Document, value any) error {
	compiled, err := c.Prepare(ctx, doc)
	if err != nil {
		return err
	}

	valueBytes, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}
	return c.validate(compiled, valueBytes)
}

// ValidateJSON checks a raw JSON document against the named schema
func (c *Compiler) ValidateJSON(ctx context.Context, doc Document, raw []byte) error {
	compiled, err := c.Prepare(ctx, doc)
	if err != nil {
		return err
	}
	return c.validate(compiled, raw)
}

func (c *Compiler) validate(compiled *js.Schema, raw []byte) error {
	var valueRaw interface{}
	if err := json.Unmarshal(raw, &valueRaw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	if err := compiled.Validate(valueRaw); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}
	return nil
}
