// Copyright 2025 ByteDance Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     https://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package workflow

import (
	"strings"
	"time"
)

// State is a node of the ticket state machine.
type State string

const (
	StateIngested         State = "ingested"
	StateClassified       State = "classified"
	StateContextRetrieved State = "context_retrieved"
	StateDrafted          State = "drafted"
	StateReviewed         State = "reviewed"
	StateFinalized        State = "finalized"
	StateRetryPrepared    State = "retry_prepared"
	StateEscalated        State = "escalated"
)

// Terminal reports whether no further transition leaves s.
func (s State) Terminal() bool {
	return s == StateFinalized || s == StateEscalated
}

// Processing step labels recorded on the Record after each stage.
const (
	StepInputProcessed   = "input_processed"
	StepClassified       = "classified"
	StepContextRetrieved = "context_retrieved"
	StepDraftGenerated   = "draft_generated"
	StepReviewed         = "reviewed"
	StepRetrying         = "retrying"
	StepCompleted        = "completed"
	StepEscalated        = "escalated"
)

// Record is the snapshot of one ticket's progress. The engine never mutates
// a Record it has handed to a stage; each step works on a Clone.
type Record struct {
	TicketID    string `json:"ticket_id"`
	Subject     string `json:"subject"`
	Description string `json:"description"`

	Category         string   `json:"category"`
	Context          string   `json:"context"`
	ContextDocs      []string `json:"context_docs"`
	DraftResponse    string   `json:"draft_response"`
	ReviewApproved   bool     `json:"review_approved"`
	ReviewerFeedback string   `json:"reviewer_feedback"`

	AttemptCount      int             `json:"attempt_count"`
	FailedAttempts    []FailedAttempt `json:"failed_attempts"`
	Escalated         bool            `json:"escalated"`
	EscalationMessage string          `json:"escalation_message,omitempty"`
	FinalResponse     string          `json:"final_response"`

	State          State  `json:"state"`
	ProcessingStep string `json:"processing_step"`

	Errors  StageErrors  `json:"errors"`
	History []StepRecord `json:"history,omitempty"`
}

// FailedAttempt keeps a rejected draft together with the reviewer's reason.
type FailedAttempt struct {
	Attempt  int    `json:"attempt"`
	Draft    string `json:"draft"`
	Feedback string `json:"feedback"`
}

// StageErrors holds the last failure text per stage. Empty means the stage
// succeeded (or never ran).
type StageErrors struct {
	Classification string `json:"classification_error,omitempty"`
	Retrieval      string `json:"retrieval_error,omitempty"`
	Generation     string `json:"generation_error,omitempty"`
	Review         string `json:"review_error,omitempty"`
	Escalation     string `json:"escalation_error,omitempty"`
}

// Any reports whether some stage fell back.
func (e StageErrors) Any() bool {
	return e != StageErrors{}
}

// List renders the non-empty entries as "stage: error".
func (e StageErrors) List() []string {
	var out []string
	for _, kv := range [...]struct{ k, v string }{
		{"classification", e.Classification},
		{"retrieval", e.Retrieval},
		{"generation", e.Generation},
		{"review", e.Review},
		{"escalation", e.Escalation},
	} {
		if kv.v != "" {
			out = append(out, kv.k+": "+kv.v)
		}
	}
	return out
}

// StepRecord is an immutable log entry for one stage invocation.
type StepRecord struct {
	Stage     Stage      `json:"stage"`
	Attempt   int        `json:"attempt"`
	Status    StepStatus `json:"status"`
	Error     string     `json:"error,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	EndedAt   time.Time  `json:"ended_at"`
}

// StepStatus is the outcome of a stage invocation.
type StepStatus string

const (
	StepOK     StepStatus = "ok"
	StepFailed StepStatus = "failed"
)

// newRecord returns the ingested form of a ticket.
func newRecord(id, subject, description string) *Record {
	return &Record{
		TicketID:       id,
		Subject:        subject,
		Description:    description,
		ContextDocs:    []string{},
		FailedAttempts: []FailedAttempt{},
		State:          StateIngested,
		ProcessingStep: StepInputProcessed,
	}
}

// Clone returns a copy that shares no slices with r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	out.ContextDocs = append([]string{}, r.ContextDocs...)
	out.FailedAttempts = append([]FailedAttempt{}, r.FailedAttempts...)
	out.History = append([]StepRecord(nil), r.History...)
	return &out
}

// SearchText is what the retriever ranks documents against: the ticket text
// plus any corrective feedback from the last review.
func (r *Record) SearchText() string {
	return strings.TrimSpace(r.Subject + " " + r.Description + " " + r.ReviewerFeedback)
}

// EnhancedContext is the context handed to the drafter, with the last
// reviewer feedback appended when there is any.
func (r *Record) EnhancedContext() string {
	if r.ReviewerFeedback == "" {
		return r.Context
	}
	return r.Context + "\n\nPrevious Reviewer Feedback: " + r.ReviewerFeedback
}

// CategorySet is the closed set of ticket categories with a designated
// fallback.
type CategorySet struct {
	Labels  []string
	Default string
}

// DefaultCategories is the category set shipped in the default config.
var DefaultCategories = CategorySet{
	Labels:  []string{"Billing", "Technical", "Security", "General"},
	Default: "General",
}

// Normalize maps raw classifier output onto a canonical label. Matching is
// case-insensitive and ignores surrounding whitespace and a trailing period.
// Unknown input yields the default label and ok=false.
func (c CategorySet) Normalize(raw string) (label string, ok bool) {
	v := strings.TrimSuffix(strings.TrimSpace(raw), ".")
	for _, l := range c.Labels {
		if strings.EqualFold(l, v) {
			return l, true
		}
	}
	return c.Default, false
}

// Contains reports whether label is one of the canonical labels.
func (c CategorySet) Contains(label string) bool {
	for _, l := range c.Labels {
		if l == label {
			return true
		}
	}
	return false
}
