package config

import (
	"bufio"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
)

// Known top-level sections of the configuration dialect.
const (
	SectionMySQL     = "mysql"
	SectionFiles     = "files"
	SectionWebDAV    = "webdav"
	SectionRetention = "retention"
)

// KeyPaths is the one key whose value is a list instead of a scalar.
const KeyPaths = "paths"

// DefaultRetentionDays is used when retention.days is missing or invalid.
const DefaultRetentionDays = 7

var knownSections = []string{SectionMySQL, SectionFiles, SectionWebDAV, SectionRetention}

// ConfigError is a fatal configuration problem: the file could not be read
// or its structure is malformed.
type ConfigError struct {
	Path string
	Line int // 0 when the error is not tied to a line
	Msg  string
	Err  error
}

func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString("config")
	if e.Path != "" {
		b.WriteString(" ")
		b.WriteString(e.Path)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " line %d", e.Line)
	}
	b.WriteString(": ")
	b.WriteString(e.Msg)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ConfigError) Unwrap() error { return e.Err }

// ParseWarning is a recovered problem: the offending value was replaced by a
// default or skipped.
type ParseWarning struct {
	Line    int
	Section string
	Key     string
	Value   string
	Msg     string
}

func (w ParseWarning) String() string {
	if w.Line > 0 {
		return fmt.Sprintf("line %d: %s.%s=%q: %s", w.Line, w.Section, w.Key, w.Value, w.Msg)
	}
	return fmt.Sprintf("%s.%s=%q: %s", w.Section, w.Key, w.Value, w.Msg)
}

// Section maps keys to bool, int or string values. The paths key holds a
// []string.
type Section map[string]any

// Tree is the parsed configuration. It is not modified after Parse returns.
type Tree struct {
	sections map[string]Section
	order    []string

	// Warnings lists every value that was defaulted or skipped.
	Warnings []ParseWarning
}

func newTree() *Tree {
	t := &Tree{sections: make(map[string]Section)}
	t.ensure(SectionMySQL)["enabled"] = false
	t.ensure(SectionFiles)["enabled"] = false
	t.sections[SectionFiles][KeyPaths] = []string{}
	t.ensure(SectionWebDAV)["enabled"] = false
	t.ensure(SectionRetention)["days"] = DefaultRetentionDays
	return t
}

func (t *Tree) ensure(name string) Section {
	s, ok := t.sections[name]
	if !ok {
		s = make(Section)
		t.sections[name] = s
		t.order = append(t.order, name)
	}
	return s
}

// Sections returns section names in the order they were first seen.
func (t *Tree) Sections() []string {
	out := make([]string, len(t.order))
	copy(out, t.order)
	return out
}

// Has reports whether a section exists.
func (t *Tree) Has(section string) bool {
	_, ok := t.sections[section]
	return ok
}

// Get returns a scalar value.
func (t *Tree) Get(section, key string) (any, bool) {
	s, ok := t.sections[section]
	if !ok {
		return nil, false
	}
	v, ok := s[key]
	return v, ok
}

// Paths returns a copy of the list items collected for a section.
func (t *Tree) Paths(section string) []string {
	v, _ := t.Get(section, KeyPaths)
	items, _ := v.([]string)
	out := make([]string, len(items))
	copy(out, items)
	return out
}

// Map returns a deep copy of the tree as plain maps, suitable for viper.
func (t *Tree) Map() map[string]any {
	out := make(map[string]any, len(t.sections))
	for name, s := range t.sections {
		m := make(map[string]any, len(s))
		for k, v := range s {
			if items, ok := v.([]string); ok {
				cp := make([]string, len(items))
				copy(cp, items)
				v = cp
			}
			m[k] = v
		}
		out[name] = m
	}
	return out
}

// Encode writes the tree back in the configuration dialect. Parsing the
// output yields an equal tree.
func (t *Tree) Encode(w io.Writer) error {
	bw := bufio.NewWriter(w)
	for _, name := range t.order {
		s := t.sections[name]
		fmt.Fprintf(bw, "%s:\n", name)
		for _, key := range sortedKeys(s) {
			switch v := s[key].(type) {
			case []string:
				for _, item := range v {
					fmt.Fprintf(bw, "  - %s\n", item)
				}
			case bool:
				fmt.Fprintf(bw, "  %s: %t\n", key, v)
			case int:
				fmt.Fprintf(bw, "  %s: %d\n", key, v)
			default:
				fmt.Fprintf(bw, "  %s: %v\n", key, v)
			}
		}
	}
	return bw.Flush()
}

// Parse reads the configuration dialect into a Tree.
//
// Value coercion problems never fail the parse: they are logged, recorded in
// Tree.Warnings and replaced by a default. Unreadable input and malformed
// structure return a *ConfigError.
func Parse(r io.Reader, logger zerolog.Logger) (*Tree, error) {
	p := &dialectParser{
		tree:   newTree(),
		state:  stateTop,
		logger: logger,
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		p.line++
		text := strings.TrimSpace(scanner.Text())
		handler := transitions[p.state][classify(text)]
		if err := handler(p, text); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, &ConfigError{Line: p.line, Msg: "reading input", Err: err}
	}

	p.finalizeRetention()
	return p.tree, nil
}

type parserState int

const (
	// stateTop is the state before any section header.
	stateTop parserState = iota
	// stateSection is inside a top-level section.
	stateSection
	// stateFilesPaths is inside the paths: subsection of files.
	stateFilesPaths
)

type lineKind int

const (
	lineBlank lineKind = iota
	lineComment
	lineHeader
	lineKeyValue
	lineListItem
	lineInvalid
)

type lineHandler func(p *dialectParser, text string) error

// transitions is the accepted grammar: every (state, line kind) pair maps to
// exactly one handler.
var transitions = map[parserState]map[lineKind]lineHandler{
	stateTop: {
		lineBlank:    skipLine,
		lineComment:  skipLine,
		lineHeader:   openSection,
		lineKeyValue: orphanLine,
		lineListItem: orphanLine,
		lineInvalid:  invalidLine,
	},
	stateSection: {
		lineBlank:    skipLine,
		lineComment:  skipLine,
		lineHeader:   openSection,
		lineKeyValue: setValue,
		lineListItem: appendItem,
		lineInvalid:  invalidLine,
	},
	stateFilesPaths: {
		lineBlank:    skipLine,
		lineComment:  skipLine,
		lineHeader:   openSection,
		lineKeyValue: setValue,
		lineListItem: appendItem,
		lineInvalid:  invalidLine,
	},
}

func classify(text string) lineKind {
	switch {
	case text == "":
		return lineBlank
	case strings.HasPrefix(text, "#"):
		return lineComment
	case strings.HasPrefix(text, "-"):
		return lineListItem
	case strings.HasSuffix(text, ":"):
		name := strings.TrimSpace(strings.TrimSuffix(text, ":"))
		if name == "" {
			return lineInvalid
		}
		if strings.Contains(name, ":") {
			return lineKeyValue
		}
		return lineHeader
	case strings.Contains(text, ":"):
		return lineKeyValue
	default:
		return lineInvalid
	}
}

type dialectParser struct {
	tree    *Tree
	state   parserState
	section string
	line    int
	logger  zerolog.Logger
}

func skipLine(*dialectParser, string) error { return nil }

func orphanLine(p *dialectParser, text string) error {
	return &ConfigError{Line: p.line, Msg: fmt.Sprintf("%q appears before any section header", text)}
}

func invalidLine(p *dialectParser, text string) error {
	return &ConfigError{Line: p.line, Msg: fmt.Sprintf("cannot parse %q: expected a section header, key: value or - item", text)}
}

func openSection(p *dialectParser, text string) error {
	name := strings.TrimSpace(strings.TrimSuffix(text, ":"))

	switch {
	case isKnownSection(name):
		p.section = name
		p.state = stateSection
	case p.state != stateTop && p.section == SectionFiles && name == KeyPaths:
		p.state = stateFilesPaths
	default:
		if _, shadowed := p.tree.sections[p.section][name]; p.state != stateTop && shadowed {
			p.warn(ParseWarning{
				Line:    p.line,
				Section: p.section,
				Key:     name,
				Msg:     fmt.Sprintf("%q has no value and opens a new section, later keys no longer belong to %s", name, p.section),
			})
		}
		p.section = name
		p.state = stateSection
	}
	p.tree.ensure(p.section)

	p.logger.Debug().Int("line", p.line).Str("section", p.section).
		Bool("files_paths", p.state == stateFilesPaths).Msg("entering section")
	return nil
}

func setValue(p *dialectParser, text string) error {
	key, raw, _ := strings.Cut(text, ":")
	key = strings.TrimSpace(key)
	raw = strings.TrimSpace(raw)
	if key == "" {
		return &ConfigError{Line: p.line, Msg: fmt.Sprintf("missing key in %q", text)}
	}
	if key == KeyPaths {
		return &ConfigError{Line: p.line, Msg: fmt.Sprintf("%s.%s must be a list of - items", p.section, KeyPaths)}
	}

	value := p.coerce(key, raw)
	p.tree.sections[p.section][key] = value

	p.logger.Debug().Int("line", p.line).Str("section", p.section).Str("key", key).Msg("value set")
	return nil
}

func appendItem(p *dialectParser, text string) error {
	item := strings.TrimSpace(strings.TrimPrefix(text, "-"))
	if item == "" {
		p.warn(ParseWarning{Line: p.line, Section: p.section, Key: KeyPaths, Msg: "empty list item skipped"})
		return nil
	}
	if src, dst, ok := strings.Cut(item, ":"); ok {
		item = strings.TrimSpace(src) + ":" + strings.TrimSpace(dst)
	}

	// Items directly under files and under files.paths land in the same list.
	s := p.tree.sections[p.section]
	items, _ := s[KeyPaths].([]string)
	s[KeyPaths] = append(items, item)

	p.logger.Debug().Int("line", p.line).Str("section", p.section).Str("item", item).Msg("list item added")
	return nil
}

// coerce applies the dialect's scalar rules: booleans, plain integers and
// integers followed by an inline comment. Everything else stays a string.
func (p *dialectParser) coerce(key, raw string) any {
	switch strings.ToLower(raw) {
	case "true":
		return true
	case "false":
		return false
	}

	digits := raw
	if !isDigits(digits) {
		before, _, found := strings.Cut(raw, "#")
		if !found {
			return raw
		}
		digits = strings.TrimSpace(before)
		if !isDigits(digits) {
			return raw
		}
	}

	n, err := strconv.Atoi(digits)
	if err != nil {
		p.warn(ParseWarning{Line: p.line, Section: p.section, Key: key, Value: raw, Msg: "integer out of range, kept as string"})
		return raw
	}
	return n
}

func (p *dialectParser) finalizeRetention() {
	raw, ok := p.tree.Get(SectionRetention, "days")
	if !ok {
		p.tree.sections[SectionRetention]["days"] = DefaultRetentionDays
		return
	}

	days := 0
	switch v := raw.(type) {
	case int:
		days = v
	case string:
		if n, err := strconv.Atoi(unquote(strings.TrimSpace(v))); err == nil {
			days = n
		}
	}

	if days <= 0 {
		p.warn(ParseWarning{
			Section: SectionRetention,
			Key:     "days",
			Value:   fmt.Sprint(raw),
			Msg:     fmt.Sprintf("not a positive integer, using %d", DefaultRetentionDays),
		})
		days = DefaultRetentionDays
	}
	p.tree.sections[SectionRetention]["days"] = days
}

func (p *dialectParser) warn(w ParseWarning) {
	p.tree.Warnings = append(p.tree.Warnings, w)
	p.logger.Warn().Int("line", w.Line).Str("section", w.Section).Str("key", w.Key).
		Str("value", w.Value).Msg(w.Msg)
}

func isKnownSection(name string) bool {
	for _, s := range knownSections {
		if s == name {
			return true
		}
	}
	return false
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// unquote strips one pair of matching surrounding quotes.
func unquote(s string) string {
	if len(s) >= 2 {
		if (s[0] == '"' && s[len(s)-1] == '"') || (s[0] == '\'' && s[len(s)-1] == '\'') {
			return s[1 : len(s)-1]
		}
	}
	return s
}

func sortedKeys(s Section) []string {
	keys := make([]string, 0, len(s))
	for k := range s {
		if k != KeyPaths {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	if _, ok := s[KeyPaths]; ok {
		keys = append(keys, KeyPaths)
	}
	return keys
}
