// Package template implements the wire-format pattern registry (C4):
// detection, validation, and guided construction of the lines
// Coordination Loop and Pane Transport exchange with workers.
package template

import "regexp"

// Kind identifies the semantic shape of a wire line.
type Kind string

const (
	KindTask          Kind = "Task"
	KindWorkerResult  Kind = "WorkerResult"
	KindQueenReport   Kind = "QueenReport"
	KindCollaboration Kind = "Collaboration"
	KindApproval      Kind = "Approval"
	KindUnknown       Kind = "Unknown"
)

// Group describes one capture group of a pattern.
type Group struct {
	Name      string
	Index     int
	Validator *regexp.Regexp
}

// Pattern is one registry entry.
type Pattern struct {
	Kind        Kind
	Regexp      *regexp.Regexp
	Format      string
	Groups      []Group
	Icon        string
	Title       string
}

var idPattern = regexp.MustCompile(`^[A-Z0-9_]+$`)
var freeformPattern = regexp.MustCompile(`^.+$`)

// DefaultPatterns is the canonical registry from spec.md §4.4, in fixed
// detection order.
var DefaultPatterns = []Pattern{
	{
		Kind:   KindTask,
		Regexp: regexp.MustCompile(`(?s)TASK:([A-Z0-9_]+):(.+)`),
		Format: "TASK:<ID>:<instruction>",
		Groups: []Group{
			{Name: "id", Index: 1, Validator: idPattern},
			{Name: "instruction", Index: 2, Validator: freeformPattern},
		},
		Icon:  "📋",
		Title: "Task Assignment",
	},
	{
		Kind:   KindWorkerResult,
		Regexp: regexp.MustCompile(`(?s)WORKER_RESULT:(\w+):([A-Z0-9_]+):(.+)`),
		Format: "WORKER_RESULT:<worker>:<ID>:<result>",
		Groups: []Group{
			{Name: "worker", Index: 1, Validator: regexp.MustCompile(`^\w+$`)},
			{Name: "id", Index: 2, Validator: idPattern},
			{Name: "result", Index: 3, Validator: freeformPattern},
		},
		Icon:  "✅",
		Title: "Worker Result",
	},
	{
		Kind:   KindQueenReport,
		Regexp: regexp.MustCompile(`(?s)QUEEN_FINAL_REPORT:([A-Z0-9_]+):(.+)`),
		Format: "QUEEN_FINAL_REPORT:<session>:<report>",
		Groups: []Group{
			{Name: "session", Index: 1, Validator: idPattern},
			{Name: "report", Index: 2, Validator: freeformPattern},
		},
		Icon:  "👑",
		Title: "Queen Final Report",
	},
	{
		Kind:   KindCollaboration,
		Regexp: regexp.MustCompile(`(?s)COLLABORATE:([A-Z0-9_]+):(.+)`),
		Format: "COLLABORATE:<ID>:<body>",
		Groups: []Group{
			{Name: "id", Index: 1, Validator: idPattern},
			{Name: "body", Index: 2, Validator: freeformPattern},
		},
		Icon:  "🤝",
		Title: "Collaboration Request",
	},
	{
		Kind:   KindApproval,
		Regexp: regexp.MustCompile(`(?s)APPROVAL:(\w+):([A-Z0-9_]+):(.+)`),
		Format: "APPROVAL:<reviewer>:<ID>:<body>",
		Groups: []Group{
			{Name: "reviewer", Index: 1, Validator: regexp.MustCompile(`^\w+$`)},
			{Name: "id", Index: 2, Validator: idPattern},
			{Name: "body", Index: 3, Validator: freeformPattern},
		},
		Icon:  "🧾",
		Title: "Approval",
	},
}
