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
	"context"
	"time"
)

// Classifier assigns a category to a ticket. The returned label may be
// anything; the engine normalizes it against the configured CategorySet.
type Classifier interface {
	Classify(ctx context.Context, subject, description string) (string, error)
}

// Retriever loads the reference documents of one category. The engine ranks
// them itself.
type Retriever interface {
	LoadDocuments(ctx context.Context, category string) ([]string, error)
}

// DraftRequest is the input of one generation attempt.
type DraftRequest struct {
	Subject     string
	Description string
	Category    string
	// Context is the ranked context with the last reviewer feedback appended.
	Context string
	Attempt int
}

// Drafter writes a candidate response.
type Drafter interface {
	Generate(ctx context.Context, req DraftRequest) (string, error)
}

// ReviewRequest is what the reviewer judges.
type ReviewRequest struct {
	Subject     string
	Description string
	Category    string
	Draft       string
	Context     string
	Attempt     int
}

// Verdict is the reviewer's decision on a draft.
type Verdict struct {
	Approved bool
	Feedback string
}

// Reviewer approves or rejects a draft.
type Reviewer interface {
	Review(ctx context.Context, req ReviewRequest) (Verdict, error)
}

// EscalationRequest summarizes an exhausted ticket for the human handoff note.
type EscalationRequest struct {
	TicketID       string
	Subject        string
	Description    string
	Category       string
	AttemptCount   int
	FailedAttempts []FailedAttempt
	LastFeedback   string
}

// EscalationComposer writes the note that goes to the human support queue.
type EscalationComposer interface {
	Compose(ctx context.Context, req EscalationRequest) (string, error)
}

// EscalationRecord is one row of the escalation log.
type EscalationRecord struct {
	Timestamp         time.Time `json:"timestamp"`
	TicketID          string    `json:"ticket_id"`
	Subject           string    `json:"subject"`
	Description       string    `json:"description"`
	Category          string    `json:"category"`
	FailedAttempts    int       `json:"failed_attempts"`
	FinalError        string    `json:"final_error"`
	EscalationMessage string    `json:"escalation_message"`
}

// EscalationSink persists escalated tickets. Implementations must be safe
// for concurrent use; the engine does not serialize calls.
type EscalationSink interface {
	Record(ctx context.Context, rec EscalationRecord) error
}

// Stages bundles the collaborators an Engine calls. Composer and Sink are
// optional.
type Stages struct {
	Classifier Classifier
	Retriever  Retriever
	Drafter    Drafter
	Reviewer   Reviewer
	Composer   EscalationComposer
	Sink       EscalationSink
}

// Observer is notified of engine progress. Calls happen on the goroutine
// running the ticket.
type Observer interface {
	OnStage(ticketID string, stage Stage, took time.Duration, err error)
	OnTransition(ticketID string, from, to State)
	OnTerminal(rec *Record)
}

type nopObserver struct{}

func (nopObserver) OnStage(string, Stage, time.Duration, error) {}
func (nopObserver) OnTransition(string, State, State)           {}
func (nopObserver) OnTerminal(*Record)                          {}

// Func adapters, handy for wiring and tests.

type ClassifierFunc func(ctx context.Context, subject, description string) (string, error)

func (f ClassifierFunc) Classify(ctx context.Context, subject, description string) (string, error) {
	return f(ctx, subject, description)
}

type RetrieverFunc func(ctx context.Context, category string) ([]string, error)

func (f RetrieverFunc) LoadDocuments(ctx context.Context, category string) ([]string, error) {
	return f(ctx, category)
}

type DrafterFunc func(ctx context.Context, req DraftRequest) (string, error)

func (f DrafterFunc) Generate(ctx context.Context, req DraftRequest) (string, error) {
	return f(ctx, req)
}

type ReviewerFunc func(ctx context.Context, req ReviewRequest) (Verdict, error)

func (f ReviewerFunc) Review(ctx context.Context, req ReviewRequest) (Verdict, error) {
	return f(ctx, req)
}

type ComposerFunc func(ctx context.Context, req EscalationRequest) (string, error)

func (f ComposerFunc) Compose(ctx context.Context, req EscalationRequest) (string, error) {
	return f(ctx, req)
}

type SinkFunc func(ctx context.Context, rec EscalationRecord) error

func (f SinkFunc) Record(ctx context.Context, rec EscalationRecord) error {
	return f(ctx, rec)
}
