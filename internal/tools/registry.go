// Package tools implements the Tool Registry and Executor: a static
// tool table, downstream HTTP dispatch, session-scoped result caching,
// and dependency-ordered plan execution with bounded re-planning.
// Grounded on the original chatbot-service's tool_executor.py.
package tools

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Spec describes one callable tool: its argument schema (names to a
// human-readable type hint, shown to the planner) and cache TTL.
type Spec struct {
	Name        string
	Description string
	ArgsSchema  map[string]string
	TTL         time.Duration // 0 means a cached result never expires
}

// DefaultSpecs is the static registry spec.md names.
var DefaultSpecs = []Spec{
	{
		Name:        "weather.get",
		Description: "Look up the current weather for a city.",
		ArgsSchema:  map[string]string{"city": "string"},
		TTL:         300 * time.Second,
	},
	{
		Name:        "calendar.get",
		Description: "List today's or tomorrow's calendar events.",
		ArgsSchema:  map[string]string{"when": "string (today|tomorrow)"},
		TTL:         60 * time.Second,
	},
	{
		Name:        "calendar.create",
		Description: "Create a calendar event.",
		ArgsSchema:  map[string]string{"title": "string", "start_time": "string (HH:MM)"},
	},
	{
		Name:        "file.search",
		Description: "Search files and documents by keyword.",
		ArgsSchema:  map[string]string{"q": "string"},
		TTL:         120 * time.Second,
	},
	{
		Name:        "notification.send",
		Description: "Send a notification to a recipient.",
		ArgsSchema: map[string]string{
			"title": "string", "message": "string", "recipient": "string",
			"channel": "string (slack|email|sms)",
		},
	},
	{
		Name:        "rag.query",
		Description: "Query the retrieval engine for relevant documents.",
		ArgsSchema:  map[string]string{"query": "string", "top_k": "int"},
		TTL:         120 * time.Second,
	},
}

// yamlSpec mirrors Spec in a form yaml.v3 can unmarshal directly, with
// TTL expressed in whole seconds rather than a time.Duration.
type yamlSpec struct {
	Name        string            `yaml:"name"`
	Description string            `yaml:"description"`
	ArgsSchema  map[string]string `yaml:"args_schema"`
	TTLSeconds  int               `yaml:"ttl_seconds"`
}

// LoadSpecs reads a tool registry override from a YAML file (a list of
// yamlSpec entries) and falls back to DefaultSpecs when path is empty.
// This lets an operator add or retune tools without a rebuild, mirroring
// the teacher's convention of compiled-in defaults with an optional
// file-based override.
func LoadSpecs(path string) ([]Spec, error) {
	if path == "" {
		return DefaultSpecs, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read tool registry %q: %w", path, err)
	}
	var entries []yamlSpec
	if err := yaml.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("parse tool registry %q: %w", path, err)
	}
	specs := make([]Spec, len(entries))
	for i, e := range entries {
		specs[i] = Spec{
			Name:        e.Name,
			Description: e.Description,
			ArgsSchema:  e.ArgsSchema,
			TTL:         time.Duration(e.TTLSeconds) * time.Second,
		}
	}
	return specs, nil
}

// SchemaFor returns the argument schema for tool, or nil if unknown.
func SchemaFor(specs []Spec, tool string) map[string]string {
	for _, s := range specs {
		if s.Name == tool {
			return s.ArgsSchema
		}
	}
	return nil
}

// TTLFor returns the cache TTL for tool and whether the tool is known.
func TTLFor(specs []Spec, tool string) (time.Duration, bool) {
	for _, s := range specs {
		if s.Name == tool {
			return s.TTL, true
		}
	}
	return 0, false
}

// Prompt renders the registry as a newline-delimited listing suitable
// for showing the planner its available tools.
func Prompt(specs []Spec) string {
	out := ""
	for _, s := range specs {
		if out != "" {
			out += "\n"
		}
		out += "- " + s.Name + ": " + s.Description
	}
	return out
}
