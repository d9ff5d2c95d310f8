// Package parser interprets one raw model turn as exactly one structured
// intent: reasoning, an action request, or a final answer.
//
// The grammar is a table of labeled sections delimited by literal,
// case-sensitive markers. A section's content runs from the end of its marker
// to the next marker listed in its terminators, or to the end of the text.
package parser

import "strings"

// Section names a labeled region of a model turn.
type Section int

const (
	SectionThought Section = iota + 1
	SectionAction
	SectionFinalAnswer
	// SectionBetterAnswer is only used by the answer verifier.
	SectionBetterAnswer
)

func (s Section) String() string {
	switch s {
	case SectionThought:
		return "thought"
	case SectionAction:
		return "action"
	case SectionFinalAnswer:
		return "final-answer"
	case SectionBetterAnswer:
		return "better-answer"
	default:
		return "unknown"
	}
}

// Rule binds a section to its marker. An empty Terminators list makes the
// section absorb all remaining text after its marker.
type Rule struct {
	Section     Section
	Marker      string
	Terminators []Section
}

// Grammar is an ordered rule table. The zero value recognizes nothing.
type Grammar struct {
	Name  string
	Rules []Rule
}

var bounded = []Section{SectionThought, SectionAction, SectionFinalAnswer}

// Plain recognizes "Thought:", "Action:" and "Final Answer:".
var Plain = Grammar{
	Name: "plain",
	Rules: []Rule{
		{Section: SectionThought, Marker: "Thought:", Terminators: bounded},
		{Section: SectionAction, Marker: "Action:", Terminators: bounded},
		{Section: SectionFinalAnswer, Marker: "Final Answer:"},
		{Section: SectionBetterAnswer, Marker: "Better Answer:"},
	},
}

// Pipe recognizes the pipe-delimited markers, e.g. "|Thought:|".
var Pipe = Grammar{
	Name: "pipe",
	Rules: []Rule{
		{Section: SectionThought, Marker: "|Thought:|", Terminators: bounded},
		{Section: SectionAction, Marker: "|Action:|", Terminators: bounded},
		{Section: SectionFinalAnswer, Marker: "|Final Answer:|"},
		{Section: SectionBetterAnswer, Marker: "|Better Answer:|"},
	},
}

// Lookup returns the preset grammar with the given name.
func Lookup(name string) (Grammar, bool) {
	switch name {
	case "", Plain.Name:
		return Plain, true
	case Pipe.Name:
		return Pipe, true
	default:
		return Grammar{}, false
	}
}

// Kind is the authoritative category of a parsed turn.
type Kind int

const (
	// KindText means no recognized intent; the turn is an intermediate step.
	KindText Kind = iota
	KindReasoning
	KindAction
	KindFinalAnswer
	// KindMalformed means the turn carried both an action and a final answer.
	KindMalformed
)

func (k Kind) String() string {
	switch k {
	case KindText:
		return "text"
	case KindReasoning:
		return "reasoning"
	case KindAction:
		return "action"
	case KindFinalAnswer:
		return "final-answer"
	case KindMalformed:
		return "malformed"
	default:
		return "unknown"
	}
}

// Action is a request to run a tool with one opaque argument.
type Action struct {
	Tool     string
	Argument string
}

// Parsed is the derived view of one raw assistant turn.
type Parsed struct {
	Kind Kind
	// Thought is populated whenever a thought section was found, regardless of Kind.
	Thought string
	Action  *Action
	Answer  string
}

type hit struct {
	rule  int
	start int // marker start
	body  int // content start
}

// scan walks raw left to right and records every marker occurrence. Matches
// never overlap: after a hit the scan resumes past the marker.
func (g Grammar) scan(raw string) []hit {
	var hits []hit
	for i := 0; i < len(raw); {
		matched := false
		for ri, r := range g.Rules {
			if r.Marker != "" && strings.HasPrefix(raw[i:], r.Marker) {
				hits = append(hits, hit{rule: ri, start: i, body: i + len(r.Marker)})
				i += len(r.Marker)
				matched = true
				break
			}
		}
		if !matched {
			i++
		}
	}
	return hits
}

func (g Grammar) rule(s Section) (int, bool) {
	for i, r := range g.Rules {
		if r.Section == s {
			return i, true
		}
	}
	return 0, false
}

// extract returns the trimmed content of the first occurrence of section s.
func (g Grammar) extract(raw string, hits []hit, s Section) (string, bool) {
	ri, ok := g.rule(s)
	if !ok {
		return "", false
	}
	terms := g.Rules[ri].Terminators
	for i, h := range hits {
		if h.rule != ri {
			continue
		}
		end := len(raw)
		for _, next := range hits[i+1:] {
			if containsSection(terms, g.Rules[next.rule].Section) {
				end = next.start
				break
			}
		}
		return strings.TrimSpace(raw[h.body:end]), true
	}
	return "", false
}

func containsSection(list []Section, s Section) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}

// Extract returns the content of the first occurrence of section s and
// whether its marker was present.
func (g Grammar) Extract(raw string, s Section) (string, bool) {
	return g.extract(raw, g.scan(raw), s)
}

// Marker returns the literal marker for section s, or "" if not configured.
func (g Grammar) Marker(s Section) string {
	if ri, ok := g.rule(s); ok {
		return g.Rules[ri].Marker
	}
	return ""
}

// Malformed reports whether raw carries both an action and a final answer marker.
func (g Grammar) Malformed(raw string) bool {
	return g.Parse(raw).Kind == KindMalformed
}

// Parse interprets raw. It keeps no state between calls.
func (g Grammar) Parse(raw string) Parsed {
	hits := g.scan(raw)

	var p Parsed
	p.Thought, _ = g.extract(raw, hits, SectionThought)
	actionText, hasAction := g.extract(raw, hits, SectionAction)
	answer, hasAnswer := g.extract(raw, hits, SectionFinalAnswer)

	if hasAction && hasAnswer {
		p.Kind = KindMalformed
		return p
	}

	if hasAction {
		p.Action = splitAction(actionText)
	}

	switch {
	case answer != "":
		p.Kind = KindFinalAnswer
		p.Answer = answer
	case p.Action != nil:
		p.Kind = KindAction
	case p.Thought != "":
		p.Kind = KindReasoning
	default:
		p.Kind = KindText
	}
	return p
}

// splitAction splits "tool: argument" on the first colon. It returns nil when
// there is no colon or no tool name.
func splitAction(s string) *Action {
	tool, arg, ok := strings.Cut(s, ":")
	if !ok {
		return nil
	}
	tool = strings.TrimSpace(tool)
	if tool == "" {
		return nil
	}
	return &Action{Tool: tool, Argument: strings.TrimSpace(arg)}
}
