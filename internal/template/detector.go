package template

import (
	"fmt"
	"sort"
	"strings"

	"github.com/kat-co/vala"
	"github.com/xrash/smetrics"
)

// Match is the result of successfully detecting a pattern in a line.
type Match struct {
	Kind       Kind
	Groups     []string
	FullMatch  string
	Confidence float64
}

// Diagnosis explains why a line failed to match any registered pattern.
type Diagnosis struct {
	KnownPrefix     Kind
	ClosestKind     Kind
	ClosestScore    float64
	Suggestions     []string
	FixExample      string
}

// Registry is an ordered, immutable set of patterns.
type Registry struct {
	patterns []Pattern
}

// NewRegistry returns a Registry over patterns, detected in the given
// order.
func NewRegistry(patterns []Pattern) *Registry {
	cp := make([]Pattern, len(patterns))
	copy(cp, patterns)
	return &Registry{patterns: cp}
}

// Default is the registry over spec.md's canonical patterns.
var Default = NewRegistry(DefaultPatterns)

// ValidateConfig checks that every pattern in the registry compiles
// (trivially true here, since Pattern.Regexp is always a compiled
// *regexp.Regexp), has at least one capture group, and that every
// group's Index is unique and names one of the regexp's capture groups.
func (r *Registry) ValidateConfig() error {
	for _, p := range r.patterns {
		if err := vala.BeginValidation().Validate(
			vala.IsNotNil(p.Regexp, fmt.Sprintf("%s.Regexp", p.Kind)),
			vala.GreaterThan(len(p.Groups), 0, fmt.Sprintf("%s.Groups", p.Kind)),
		).Check(); err != nil {
			return err
		}

		captures := 0
		if p.Regexp != nil {
			captures = p.Regexp.NumSubexp()
		}
		seen := make(map[int]struct{}, len(p.Groups))
		for _, g := range p.Groups {
			if g.Index < 1 || g.Index > captures {
				return fmt.Errorf("template: %s group %q index %d out of range", p.Kind, g.Name, g.Index)
			}
			if _, dup := seen[g.Index]; dup {
				return fmt.Errorf("template: %s group %q duplicates index %d", p.Kind, g.Name, g.Index)
			}
			seen[g.Index] = struct{}{}
		}
	}
	return nil
}

func confidence(loc []int, line string) float64 {
	score := 0.8
	start, end := loc[0], loc[1]
	if start == 0 {
		score += 0.1
	}
	if float64(end-start) > float64(len(line))*0.5 {
		score += 0.1
	}
	return score
}

// Detect tries each registered pattern in order and returns the first
// match with its confidence score, or nil if none match.
func (r *Registry) Detect(line string) *Match {
	for _, p := range r.patterns {
		loc := p.Regexp.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		groups := submatches(line, loc)
		return &Match{
			Kind:       p.Kind,
			Groups:     groups,
			FullMatch:  line[loc[0]:loc[1]],
			Confidence: confidence(loc, line),
		}
	}
	return nil
}

func submatches(line string, loc []int) []string {
	var out []string
	for i := 2; i < len(loc); i += 2 {
		if loc[i] < 0 {
			out = append(out, "")
			continue
		}
		out = append(out, line[loc[i]:loc[i+1]])
	}
	return out
}

// DetectAll returns every matching pattern, sorted by confidence
// descending.
func (r *Registry) DetectAll(line string) []Match {
	var out []Match
	for _, p := range r.patterns {
		loc := p.Regexp.FindStringSubmatchIndex(line)
		if loc == nil {
			continue
		}
		out = append(out, Match{
			Kind:       p.Kind,
			Groups:     submatches(line, loc),
			FullMatch:  line[loc[0]:loc[1]],
			Confidence: confidence(loc, line),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Confidence > out[j].Confidence })
	return out
}

var knownPrefixes = []struct {
	prefix string
	kind   Kind
}{
	{"TASK:", KindTask},
	{"WORKER_RESULT:", KindWorkerResult},
	{"QUEEN_FINAL_REPORT:", KindQueenReport},
	{"COLLABORATE:", KindCollaboration},
	{"APPROVAL:", KindApproval},
}

var fixExamples = map[Kind]string{
	KindTask:          "TASK:EXAMPLE_001:run the linter",
	KindWorkerResult:  "WORKER_RESULT:developer:EXAMPLE_001:finished the linter run",
	KindQueenReport:   "QUEEN_FINAL_REPORT:SESSION_001:final summary",
	KindCollaboration: "COLLABORATE:PROJECT_001:need a second pair of eyes",
	KindApproval:      "APPROVAL:reviewer:TASK_001:looks good",
}

var suggestionFormats = map[Kind]string{
	KindTask:          "expected format: TASK:<ID>:<instruction>",
	KindWorkerResult:  "expected format: WORKER_RESULT:<worker>:<ID>:<result>",
	KindQueenReport:   "expected format: QUEEN_FINAL_REPORT:<session>:<report>",
	KindCollaboration: "expected format: COLLABORATE:<ID>:<body>",
	KindApproval:      "expected format: APPROVAL:<reviewer>:<ID>:<body>",
}

const closestPatternThreshold = 0.3

// DetectWithDiagnosis detects line and, on a miss, explains why: the
// known prefix it appears to start with (if any), the closest registered
// pattern by sequence similarity, and a concrete fix suggestion.
func (r *Registry) DetectWithDiagnosis(line string) (*Match, *Diagnosis) {
	if m := r.Detect(line); m != nil {
		return m, nil
	}

	diag := &Diagnosis{}
	for _, kp := range knownPrefixes {
		if strings.HasPrefix(line, kp.prefix) {
			diag.KnownPrefix = kp.kind
			break
		}
	}

	bestKind := KindUnknown
	bestScore := -1.0
	for _, p := range r.patterns {
		score := smetrics.JaroWinkler(line, fixExamples[p.Kind], 0.7, 4)
		if score > bestScore {
			bestScore = score
			bestKind = p.Kind
		}
	}
	if bestScore > closestPatternThreshold {
		diag.ClosestKind = bestKind
		diag.ClosestScore = bestScore
		diag.FixExample = fixExamples[bestKind]
		diag.Suggestions = append(diag.Suggestions, suggestionFormats[bestKind])
	}
	if diag.KnownPrefix != "" {
		diag.Suggestions = append(diag.Suggestions, suggestionFormats[diag.KnownPrefix])
	}

	return nil, diag
}

// LintIssue is a non-fatal finding from ValidateMessage.
type LintIssue struct {
	Severity string // "warning" or "info"
	Message  string
}

// ValidateMessage lints a candidate line against the matched pattern's
// group validators, producing warnings (ID shape, unknown worker) and
// info (suspiciously short payload) rather than errors.
func (r *Registry) ValidateMessage(line string, knownWorkers []string) (*Match, []LintIssue) {
	match := r.Detect(line)
	if match == nil {
		return nil, nil
	}

	var issues []LintIssue
	pattern := r.patternFor(match.Kind)
	if pattern == nil {
		return match, issues
	}

	for i, g := range pattern.Groups {
		if i >= len(match.Groups) {
			continue
		}
		value := match.Groups[i]
		if g.Validator != nil && !g.Validator.MatchString(value) {
			issues = append(issues, LintIssue{
				Severity: "warning",
				Message:  fmt.Sprintf("group %q value %q does not match expected shape", g.Name, value),
			})
		}
		if g.Name == "worker" || g.Name == "reviewer" {
			if len(knownWorkers) > 0 && !contains(knownWorkers, value) {
				issues = append(issues, LintIssue{
					Severity: "warning",
					Message:  fmt.Sprintf("%q is not a known worker", value),
				})
			}
		}
		if (g.Name == "instruction" || g.Name == "result" || g.Name == "body" || g.Name == "report") && len(strings.TrimSpace(value)) < 3 {
			issues = append(issues, LintIssue{
				Severity: "info",
				Message:  fmt.Sprintf("%q is suspiciously short", g.Name),
			})
		}
	}

	return match, issues
}

func (r *Registry) patternFor(kind Kind) *Pattern {
	for i := range r.patterns {
		if r.patterns[i].Kind == kind {
			return &r.patterns[i]
		}
	}
	return nil
}

func contains(ss []string, v string) bool {
	for _, s := range ss {
		if s == v {
			return true
		}
	}
	return false
}

// Format builds a wire line for kind from named groups, validating each
// value against its group's validator before assembling the line. This
// is the "guided construction" counterpart to Detect: Detect(Format(kind,
// groups)) round-trips for any well-formed group map.
func Format(kind Kind, groups map[string]string) (string, error) {
	p := Default.patternFor(kind)
	if p == nil {
		return "", fmt.Errorf("template: unknown kind %q", kind)
	}

	values := make([]string, len(p.Groups))
	for i, g := range p.Groups {
		v, ok := groups[g.Name]
		if !ok {
			return "", fmt.Errorf("template: %s: missing group %q", kind, g.Name)
		}
		if g.Validator != nil && !g.Validator.MatchString(v) {
			return "", fmt.Errorf("template: %s: group %q value %q fails validation", kind, g.Name, v)
		}
		values[i] = v
	}

	switch kind {
	case KindTask:
		return fmt.Sprintf("TASK:%s:%s", values[0], values[1]), nil
	case KindWorkerResult:
		return fmt.Sprintf("WORKER_RESULT:%s:%s:%s", values[0], values[1], values[2]), nil
	case KindQueenReport:
		return fmt.Sprintf("QUEEN_FINAL_REPORT:%s:%s", values[0], values[1]), nil
	case KindCollaboration:
		return fmt.Sprintf("COLLABORATE:%s:%s", values[0], values[1]), nil
	case KindApproval:
		return fmt.Sprintf("APPROVAL:%s:%s:%s", values[0], values[1], values[2]), nil
	default:
		return "", fmt.Errorf("template: %s: no formatter", kind)
	}
}
