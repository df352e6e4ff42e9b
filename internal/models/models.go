// Package models defines the domain types for Othala.
package models

import "time"

// Document is the ephemeral result of parsing one vault file. Documents
// feed the graph builder; they are never persisted as-is.
type Document struct {
	Path     string     `json:"path"`
	ID       string     `json:"id"`
	Type     string     `json:"type"`
	Status   string     `json:"status"`
	Title    string     `json:"title"`
	Attrs    Attributes `json:"attrs,omitempty"`
	Body     string     `json:"body"`
	Refs     []string   `json:"refs,omitempty"`
	Headings []Heading  `json:"headings,omitempty"`
	Checksum string     `json:"checksum"`
	ModTime  time.Time  `json:"mod_time"`
}

// Heading is one section heading extracted from a document body.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

// Node is the persisted representation of one document. Nodes are created
// or replaced as a unit; partial updates are not permitted.
type Node struct {
	ID        string     `json:"id"`
	Type      string     `json:"type"`
	Status    string     `json:"status"`
	Title     string     `json:"title"`
	Attrs     Attributes `json:"attrs,omitempty"`
	Body      string     `json:"body,omitempty"`
	FilePath  string     `json:"file_path"`
	Checksum  string     `json:"checksum"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// DefaultEdgeKind is used when no typed relationship claims a resolved
// reference.
const DefaultEdgeKind = "reference"

// Edge is a resolved, directed reference between two nodes. Both endpoints
// always exist at build time.
type Edge struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
	Kind     string `json:"kind"`
	Context  string `json:"context,omitempty"`
}

// BrokenRef records a reference whose target could not be resolved to any
// node. Broken references are never materialized as edges.
type BrokenRef struct {
	SourceID string `json:"source_id"`
	Target   string `json:"target"`
}

// ParseFailure records one vault file the scanner had to skip.
type ParseFailure struct {
	Path   string `json:"path"`
	Reason string `json:"reason"`
}
