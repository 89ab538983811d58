package model

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/curator-ai/curator/internal/errors"
)

// SchemaResult holds a validated, parsed response with its raw envelope.
type SchemaResult[T any] struct {
	Data     T
	Response *Response
}

// CompleteWithSchema is the only way to make schema-constrained AI calls.
// It compiles the JSON Schema, issues the completion with JSON mode
// requested, extracts the JSON payload from the response text, validates
// it against the schema, and parses it strictly. Malformed or
// schema-violating output fails with a data error; there is no fallback
// path that turns bad model output into a success.
func CompleteWithSchema[T any](ctx context.Context, backend Backend, req Request, schema []byte) (*SchemaResult[T], error) {
	if len(schema) == 0 {
		return nil, errors.ErrDataInvalid("response schema", fmt.Errorf("schema is required"))
	}
	compiled, err := compileSchema(schema)
	if err != nil {
		return nil, errors.ErrDataInvalid("response schema", err)
	}

	req.JSONOnly = true
	resp, err := backend.Complete(ctx, req)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(resp.Text) == "" {
		return nil, errors.ErrDataInvalid("model response",
			fmt.Errorf("empty response content from %s", backend.Name()))
	}

	raw := ExtractJSON(resp.Text)
	if raw == "" {
		return nil, errors.ErrDataInvalid("model response",
			fmt.Errorf("no JSON object in response (content=%q)", truncate(resp.Text, 200)))
	}

	var doc any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, errors.ErrDataInvalid("model response",
			fmt.Errorf("parse failed (content=%q): %w", truncate(raw, 200), err))
	}
	if err := compiled.Validate(doc); err != nil {
		return nil, errors.ErrDataInvalid("model response", err)
	}

	var data T
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return nil, errors.ErrDataInvalid("model response",
			fmt.Errorf("decode failed (content=%q): %w", truncate(raw, 200), err))
	}
	return &SchemaResult[T]{Data: data, Response: resp}, nil
}

func compileSchema(schema []byte) (*jsonschema.Schema, error) {
	var doc any
	if err := json.Unmarshal(schema, &doc); err != nil {
		return nil, fmt.Errorf("unmarshal schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	compiled, err := c.Compile("schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return compiled, nil
}

// Pre-compiled patterns for pulling JSON out of model responses.
var (
	// jsonBlockPattern matches a JSON object inside a markdown code block.
	jsonBlockPattern = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(\\{.*\\})\\s*```")
	// jsonObjectPattern matches any JSON object (greedy fallback).
	jsonObjectPattern = regexp.MustCompile(`(?s)\{[\s\S]*\}`)
	// trailingCommaPattern matches trailing commas before ] or }.
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// ExtractJSON extracts a JSON object from a model response that may wrap
// it in markdown fences, prose, comments, or trailing commas.
func ExtractJSON(content string) string {
	raw := ""
	if matches := jsonBlockPattern.FindStringSubmatch(content); len(matches) > 1 {
		raw = matches[1]
	} else if match := jsonObjectPattern.FindString(content); match != "" {
		raw = match
	}
	if raw == "" {
		return ""
	}
	return cleanJSON(raw)
}

// cleanJSON removes JavaScript-style comments and trailing commas.
// Models commonly produce both.
func cleanJSON(raw string) string {
	lines := strings.Split(raw, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		cleaned = append(cleaned, stripLineComment(line))
	}
	result := strings.Join(cleaned, "\n")
	return trailingCommaPattern.ReplaceAllString(result, "$1")
}

// stripLineComment removes a // comment from a JSON line, respecting
// string values so URLs survive.
func stripLineComment(line string) string {
	if !strings.Contains(line, "//") {
		return line
	}
	inString := false
	escaped := false
	for i := 0; i < len(line); i++ {
		ch := line[i]
		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' && inString {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if !inString && ch == '/' && i+1 < len(line) && line[i+1] == '/' {
			return strings.TrimRight(line[:i], " \t")
		}
	}
	return line
}

func truncate(content string, maxLen int) string {
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "...[truncated]"
}
