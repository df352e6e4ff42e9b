// Package parser turns raw vault file text into structured documents:
// header fields, attribute bag, wikilink references, and section headings.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/halvard/othala/internal/models"
)

const headerFence = "---"

var wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)

// ParseError reports why a single file could not be parsed. A ParseError
// skips the file; it never aborts a scan.
type ParseError struct {
	Path   string
	Reason string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s: %s", e.Path, e.Reason)
}

func parseErr(path, format string, args ...any) *ParseError {
	return &ParseError{Path: path, Reason: fmt.Sprintf(format, args...)}
}

// Parse produces a Document from raw file bytes, or a *ParseError naming
// the missing or invalid part. The path is recorded on the document and
// used to derive the default title.
func Parse(data []byte, path string) (*models.Document, error) {
	header, body, err := splitHeader(data, path)
	if err != nil {
		return nil, err
	}

	doc := &models.Document{
		Path:     path,
		Body:     body,
		Refs:     extractRefs(body),
		Headings: extractHeadings(body),
	}

	for _, f := range header {
		switch f.Key {
		case "id":
			doc.ID, err = requireString(path, "id", f.Value)
		case "type":
			doc.Type, err = requireString(path, "type", f.Value)
		case "status":
			doc.Status, err = requireString(path, "status", f.Value)
		case "title":
			if f.Value.Kind == models.KindString {
				doc.Title = f.Value.Str
			}
		default:
			doc.Attrs = append(doc.Attrs, f)
		}
		if err != nil {
			return nil, err
		}
	}

	for _, req := range []struct {
		name  string
		value string
	}{{"id", doc.ID}, {"type", doc.Type}, {"status", doc.Status}} {
		if req.value == "" {
			return nil, parseErr(path, "missing required field: %s", req.name)
		}
	}

	if doc.Title == "" {
		doc.Title = baseName(path)
	}

	return doc, nil
}

// splitHeader separates the fenced header block from the body. The opening
// fence must be the first line of the file.
func splitHeader(data []byte, path string) (models.Attributes, string, error) {
	if !bytes.HasPrefix(data, []byte(headerFence+"\n")) && !bytes.HasPrefix(data, []byte(headerFence+"\r\n")) {
		return nil, "", parseErr(path, "missing header")
	}
	rest := data[len(headerFence):]
	idx := bytes.Index(rest, []byte("\n"+headerFence))
	if idx < 0 {
		return nil, "", parseErr(path, "missing header")
	}

	block := rest[:idx]
	after := rest[idx+1+len(headerFence):]
	body := strings.TrimLeft(string(after), "\r\n")

	var root yaml.Node
	if err := yaml.Unmarshal(block, &root); err != nil {
		return nil, "", parseErr(path, "invalid header: %v", err)
	}
	if len(root.Content) == 0 {
		return nil, "", parseErr(path, "missing header")
	}
	mapping := root.Content[0]
	if mapping.Kind != yaml.MappingNode {
		return nil, "", parseErr(path, "header is not a key/value mapping")
	}

	v, err := models.ValueFromYAML(mapping)
	if err != nil {
		return nil, "", parseErr(path, "invalid header: %v", err)
	}
	return models.Attributes(v.Map), body, nil
}

func requireString(path, name string, v models.Value) (string, error) {
	if v.Kind != models.KindString {
		return "", parseErr(path, "invalid required field: %s", name)
	}
	return v.Str, nil
}

// extractRefs returns deduplicated wikilink targets in first-occurrence
// order, normalising [[Target|Display]] aliases down to Target.
func extractRefs(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.Index(target, "|"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractHeadings collects lines starting with 1-6 '#' characters followed
// by a space.
func extractHeadings(body string) []models.Heading {
	var out []models.Heading
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimRight(line, "\r")
		level := 0
		for level < len(trimmed) && trimmed[level] == '#' {
			level++
		}
		if level < 1 || level > 6 || level >= len(trimmed) || trimmed[level] != ' ' {
			continue
		}
		text := strings.TrimSpace(trimmed[level+1:])
		if text == "" {
			continue
		}
		out = append(out, models.Heading{Level: level, Text: text})
	}
	return out
}

// baseName derives the display name from a file path, accepting both
// forward- and back-slash separators, with the extension stripped.
func baseName(path string) string {
	normalized := strings.ReplaceAll(path, "\\", "/")
	if i := strings.LastIndex(normalized, "/"); i >= 0 {
		normalized = normalized[i+1:]
	}
	if i := strings.LastIndex(normalized, "."); i > 0 {
		normalized = normalized[:i]
	}
	return normalized
}
