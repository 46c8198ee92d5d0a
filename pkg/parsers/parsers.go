// Package parsers turns show-command output into JSON-ready documents.
//
// Parsers are declarative: a [Table] collects one record per matching row,
// [Fields] collects scalar values from anywhere in the output. A [Registry]
// resolves a command line, abbreviations included, to the parser for a
// device OS family.
package parsers

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// ErrNoParser is returned when no parser is registered for a command.
var ErrNoParser = errors.New("parsers: no parser for command")

// ErrEmptyResult is returned when the output held nothing the parser
// recognised.
var ErrEmptyResult = errors.New("parsers: output did not match")

// Parser turns command output into a document.
type Parser interface {
	Parse(output string) (map[string]any, error)
}

// ParserFunc adapts a function to the Parser interface.
type ParserFunc func(output string) (map[string]any, error)

// Parse calls f.
func (f ParserFunc) Parse(output string) (map[string]any, error) { return f(output) }

// Family maps a device OS to the parser family it shares templates with.
// The IOS family covers ios, iosxe, iosxr and nxos. An empty OS is treated
// as ios.
func Family(os string) string {
	switch strings.ToLower(strings.TrimSpace(os)) {
	case "", "ios", "iosxe", "iosxr", "nxos", "cat9k", "c9k":
		return "ios"
	default:
		return strings.ToLower(os)
	}
}

// Normalize lower-cases a command line and collapses whitespace.
func Normalize(command string) string {
	return strings.Join(strings.Fields(strings.ToLower(command)), " ")
}

// Registry holds parsers by OS family and normalized command.
type Registry struct {
	mu      sync.RWMutex
	parsers map[string]map[string]Parser
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{parsers: make(map[string]map[string]Parser)}
}

// Register adds p for command on devices of the given OS family.
func (r *Registry) Register(family, command string, p Parser) {
	r.mu.Lock()
	defer r.mu.Unlock()

	family = Family(family)
	if r.parsers[family] == nil {
		r.parsers[family] = make(map[string]Parser)
	}
	r.parsers[family][Normalize(command)] = p
}

// Commands lists the registered commands for an OS, sorted.
func (r *Registry) Commands(os string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	byCmd := r.parsers[Family(os)]
	out := make([]string, 0, len(byCmd))
	for c := range byCmd {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// Lookup resolves command to a registered parser. Abbreviated keywords are
// accepted the way a CLI accepts them: "sh ip int br" resolves to
// "show ip interface brief" provided exactly one registered command matches.
func (r *Registry) Lookup(os, command string) (string, Parser, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	norm := Normalize(command)
	byCmd := r.parsers[Family(os)]

	if p, ok := byCmd[norm]; ok {
		return norm, p, nil
	}

	words := strings.Fields(norm)
	var (
		match string
		hits  int
	)
	for c := range byCmd {
		if abbreviates(words, strings.Fields(c)) {
			match = c
			hits++
		}
	}

	if hits != 1 {
		return "", nil, fmt.Errorf("%w %q (os %s)", ErrNoParser, command, Family(os))
	}

	return match, byCmd[match], nil
}

// Parse looks up the parser for command and applies it to output.
func (r *Registry) Parse(os, command, output string) (map[string]any, error) {
	name, p, err := r.Lookup(os, command)
	if err != nil {
		return nil, err
	}

	doc, err := p.Parse(output)
	if err != nil {
		return nil, fmt.Errorf("parsers: %s: %w", name, err)
	}

	return doc, nil
}

func abbreviates(words, full []string) bool {
	if len(words) != len(full) {
		return false
	}
	for i, w := range words {
		if !strings.HasPrefix(full[i], w) {
			return false
		}
	}
	return true
}

var defaultRegistry = sync.OnceValue(func() *Registry {
	r := NewRegistry()
	registerBuiltins(r)
	return r
})

// Default returns the registry with the built-in IOS-family parsers.
func Default() *Registry {
	return defaultRegistry()
}
