package parsers

import (
	"regexp"
	"strings"
)

// Table parses row-oriented output. Each line matching Start opens a record
// built from its named groups; following lines matching one of Continue add
// fields to the open record. Records are keyed by the Key field under Root.
type Table struct {
	Root     string
	Key      string
	Start    *regexp.Regexp
	Continue []*regexp.Regexp
	// Lists names fields whose values are split on the given separator and
	// accumulated across lines.
	Lists map[string]string
}

// Parse implements Parser.
func (t Table) Parse(output string) (map[string]any, error) {
	records := make(map[string]any)
	var current map[string]any

	for _, line := range strings.Split(strings.ReplaceAll(output, "\r", ""), "\n") {
		if m := t.Start.FindStringSubmatch(line); m != nil {
			current = make(map[string]any)
			for field := range t.Lists {
				current[field] = []any{}
			}
			t.collect(current, t.Start, m)

			if key, _ := current[t.Key].(string); key != "" {
				records[key] = current
			} else {
				current = nil
			}
			continue
		}

		if current == nil {
			continue
		}

		for _, re := range t.Continue {
			if m := re.FindStringSubmatch(line); m != nil {
				t.collect(current, re, m)
				break
			}
		}
	}

	if len(records) == 0 {
		return nil, ErrEmptyResult
	}

	return map[string]any{t.Root: records}, nil
}

func (t Table) collect(rec map[string]any, re *regexp.Regexp, m []string) {
	for i, name := range re.SubexpNames() {
		if name == "" {
			continue
		}
		value := strings.TrimSpace(m[i])

		if sep, ok := t.Lists[name]; ok {
			list, _ := rec[name].([]any)
			for _, item := range strings.Split(value, sep) {
				if item = strings.TrimSpace(item); item != "" {
					list = append(list, item)
				}
			}
			rec[name] = list
			continue
		}

		if value != "" {
			rec[name] = value
		}
	}
}

// Fields parses scalar values. Every named group of every pattern becomes a
// field under Root; the first match for a name wins.
type Fields struct {
	Root     string
	Patterns []*regexp.Regexp
}

// Parse implements Parser.
func (f Fields) Parse(output string) (map[string]any, error) {
	output = strings.ReplaceAll(output, "\r", "")
	values := make(map[string]any)

	for _, re := range f.Patterns {
		m := re.FindStringSubmatch(output)
		if m == nil {
			continue
		}
		for i, name := range re.SubexpNames() {
			if name == "" {
				continue
			}
			if _, seen := values[name]; seen {
				continue
			}
			if v := strings.TrimSpace(m[i]); v != "" {
				values[name] = v
			}
		}
	}

	if len(values) == 0 {
		return nil, ErrEmptyResult
	}

	return map[string]any{f.Root: values}, nil
}
