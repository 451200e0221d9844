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
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/ticketflow/internal/log"
	"github.com/cloudwego/ticketflow/internal/ranker"
	"github.com/google/uuid"
)

// Config holds the policy knobs of the engine.
type Config struct {
	MaxAttempts  int
	Categories   CategorySet
	TopK         int
	StageTimeout time.Duration // per collaborator call; 0 means no limit
}

// DefaultConfig mirrors the shipped settings file.
func DefaultConfig() Config {
	return Config{
		MaxAttempts: 3,
		Categories:  DefaultCategories,
		TopK:        3,
	}
}

func (c Config) validate() error {
	if c.MaxAttempts < 1 {
		return fmt.Errorf("max attempts must be positive, got %d", c.MaxAttempts)
	}
	if c.TopK < 1 {
		return fmt.Errorf("top k must be positive, got %d", c.TopK)
	}
	if len(c.Categories.Labels) == 0 {
		return errors.New("category set is empty")
	}
	if !c.Categories.Contains(c.Categories.Default) {
		return fmt.Errorf("default category %q is not in the category set", c.Categories.Default)
	}
	return nil
}

// transitions holds the unconditional edges. Reviewed is routed by Decide.
var transitions = map[State]State{
	StateIngested:         StateClassified,
	StateClassified:       StateContextRetrieved,
	StateContextRetrieved: StateDrafted,
	StateDrafted:          StateReviewed,
	StateRetryPrepared:    StateContextRetrieved,
}

var routes = map[Decision]State{
	DecisionFinalize: StateFinalized,
	DecisionRetry:    StateRetryPrepared,
	DecisionEscalate: StateEscalated,
}

const (
	reviewErrorFeedback   = "Review system error: "
	defaultRejectFeedback = "Response needs improvement"
)

// Engine drives tickets through the state machine. An Engine holds no
// per-ticket state, so Run may be called from many goroutines at once.
type Engine struct {
	cfg      Config
	stages   Stages
	observer Observer
	now      func() time.Time
	newID    func() string
}

type Option func(*Engine)

func WithObserver(o Observer) Option {
	return func(e *Engine) {
		if o != nil {
			e.observer = o
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

func WithIDGenerator(f func() string) Option {
	return func(e *Engine) { e.newID = f }
}

// New validates cfg and stages and returns an Engine.
func New(cfg Config, stages Stages, opts ...Option) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("workflow config: %w", err)
	}
	switch {
	case stages.Classifier == nil:
		return nil, errors.New("workflow: classifier is required")
	case stages.Retriever == nil:
		return nil, errors.New("workflow: retriever is required")
	case stages.Drafter == nil:
		return nil, errors.New("workflow: drafter is required")
	case stages.Reviewer == nil:
		return nil, errors.New("workflow: reviewer is required")
	}
	e := &Engine{
		cfg:      cfg,
		stages:   stages,
		observer: nopObserver{},
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.newID == nil {
		e.newID = func() string { return NewTicketID(e.now()) }
	}
	return e, nil
}

// Config returns the policy the engine was built with.
func (e *Engine) Config() Config { return e.cfg }

// NewTicketID returns TKT-<timestamp>-<random suffix>.
func NewTicketID(now time.Time) string {
	return "TKT-" + now.Format("20060102150405") + "-" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// RunTicketWorkflow builds a one-off Engine and runs a single ticket.
func RunTicketWorkflow(ctx context.Context, subject, description string, cfg Config, stages Stages) (*Record, error) {
	e, err := New(cfg, stages)
	if err != nil {
		return nil, err
	}
	return e.Run(ctx, subject, description)
}

// Run processes one ticket to a terminal state. The only error it returns
// is a *ValidationError for empty input; collaborator failures are absorbed
// into the returned Record.
func (e *Engine) Run(ctx context.Context, subject, description string) (*Record, error) {
	subject = strings.TrimSpace(subject)
	description = strings.TrimSpace(description)
	if subject == "" {
		return nil, &ValidationError{Field: "subject"}
	}
	if description == "" {
		return nil, &ValidationError{Field: "description"}
	}

	rec := newRecord(e.newID(), subject, description)
	log.Info("Processing ticket %s: %s", rec.TicketID, truncate(subject, 50))

	state := StateIngested
	for !state.Terminal() {
		next := e.next(rec, state)
		rec = e.enter(ctx, next, rec)
		rec.State = next
		e.observer.OnTransition(rec.TicketID, state, next)
		log.Debug("ticket %s: %s -> %s", rec.TicketID, state, next)
		state = next
	}

	if rec.Escalated {
		log.Info("Ticket %s was escalated to human agents after %d attempts", rec.TicketID, rec.AttemptCount)
	} else {
		log.Info("Ticket %s resolved after %d attempts", rec.TicketID, rec.AttemptCount)
	}
	e.observer.OnTerminal(rec)
	return rec, nil
}

// next picks the state after from.
func (e *Engine) next(rec *Record, from State) State {
	if from == StateReviewed {
		d := Decide(rec.ReviewApproved, rec.AttemptCount, e.cfg.MaxAttempts)
		log.Info("Routing decision for ticket %s: %s (attempt %d/%d, approved=%t)",
			rec.TicketID, d, rec.AttemptCount, e.cfg.MaxAttempts, rec.ReviewApproved)
		return routes[d]
	}
	to, ok := transitions[from]
	if !ok {
		panic(fmt.Sprintf("workflow: no transition out of %s", from))
	}
	return to
}

// enter performs the work attached to reaching state to and returns the new
// record version.
func (e *Engine) enter(ctx context.Context, to State, rec *Record) *Record {
	switch to {
	case StateClassified:
		return e.classify(ctx, rec)
	case StateContextRetrieved:
		return e.retrieve(ctx, rec)
	case StateDrafted:
		return e.draft(ctx, rec)
	case StateReviewed:
		return e.review(ctx, rec)
	case StateFinalized:
		return e.finalize(rec)
	case StateRetryPrepared:
		return e.prepareRetry(rec)
	case StateEscalated:
		return e.escalate(ctx, rec)
	}
	panic(fmt.Sprintf("workflow: cannot enter %s", to))
}

func (e *Engine) classify(ctx context.Context, rec *Record) *Record {
	r := invoke(ctx, e, rec, StageClassify, func(ctx context.Context) (string, error) {
		return e.stages.Classifier.Classify(ctx, rec.Subject, rec.Description)
	})
	next := rec.Clone()
	raw := r.orElse(e.cfg.Categories.Default)
	label, ok := e.cfg.Categories.Normalize(raw)
	next.Category = label
	switch {
	case r.failed():
		next.Errors.Classification = r.cause()
		log.Error("Classification failed for ticket %s: %v", rec.TicketID, r.err)
	case !ok:
		next.Errors.Classification = fmt.Sprintf("unrecognized category %q, defaulted to %s", raw, label)
		log.Warn("Invalid category %q for ticket %s, defaulting to %s", raw, rec.TicketID, label)
	default:
		log.Info("Ticket %s classified as: %s", rec.TicketID, label)
	}
	next.ProcessingStep = StepClassified
	appendStep(next, StageClassify, r)
	return next
}

func (e *Engine) retrieve(ctx context.Context, rec *Record) *Record {
	r := invoke(ctx, e, rec, StageRetrieve, func(ctx context.Context) ([]string, error) {
		return e.stages.Retriever.LoadDocuments(ctx, rec.Category)
	})
	next := rec.Clone()
	if r.failed() {
		next.Context = fmt.Sprintf("Error retrieving context for %s category. Using general guidance.", rec.Category)
		next.ContextDocs = []string{}
		next.Errors.Retrieval = r.cause()
		log.Error("Context retrieval failed for ticket %s: %v", rec.TicketID, r.err)
	} else {
		docs := ranker.Rank(r.value, rec.SearchText(), e.cfg.TopK)
		next.ContextDocs = append([]string{}, docs...)
		next.Context = ranker.Join(docs)
		log.Info("Retrieved %d relevant documents for ticket %s", len(docs), rec.TicketID)
	}
	next.ProcessingStep = StepContextRetrieved
	appendStep(next, StageRetrieve, r)
	return next
}

func (e *Engine) draft(ctx context.Context, rec *Record) *Record {
	attempt := rec.AttemptCount + 1
	log.Info("Generating draft for ticket %s (attempt %d)", rec.TicketID, attempt)
	req := DraftRequest{
		Subject:     rec.Subject,
		Description: rec.Description,
		Category:    rec.Category,
		Context:     rec.EnhancedContext(),
		Attempt:     attempt,
	}
	r := invokeAt(ctx, e, rec, attempt, StageDraft, func(ctx context.Context) (string, error) {
		out, err := e.stages.Drafter.Generate(ctx, req)
		if err == nil && strings.TrimSpace(out) == "" {
			err = errors.New("drafter returned an empty response")
		}
		return strings.TrimSpace(out), err
	})
	next := rec.Clone()
	next.DraftResponse = r.orElse(fallbackDraft(rec.Category))
	next.AttemptCount = attempt
	if r.failed() {
		next.Errors.Generation = r.cause()
		log.Error("Draft generation failed for ticket %s: %v", rec.TicketID, r.err)
	}
	next.ProcessingStep = StepDraftGenerated
	appendStep(next, StageDraft, r)
	return next
}

func (e *Engine) review(ctx context.Context, rec *Record) *Record {
	req := ReviewRequest{
		Subject:     rec.Subject,
		Description: rec.Description,
		Category:    rec.Category,
		Draft:       rec.DraftResponse,
		Context:     rec.Context,
		Attempt:     rec.AttemptCount,
	}
	r := invoke(ctx, e, rec, StageReview, func(ctx context.Context) (Verdict, error) {
		return e.stages.Reviewer.Review(ctx, req)
	})
	// A broken reviewer approves, otherwise the retry loop could never end.
	v := r.orElse(Verdict{Approved: true, Feedback: reviewErrorFeedback + r.cause()})
	if !v.Approved && strings.TrimSpace(v.Feedback) == "" {
		v.Feedback = defaultRejectFeedback
	}
	next := rec.Clone()
	next.ReviewApproved = v.Approved
	next.ReviewerFeedback = strings.TrimSpace(v.Feedback)
	switch {
	case r.failed():
		next.Errors.Review = r.cause()
		log.Error("Review failed for ticket %s: %v", rec.TicketID, r.err)
	case v.Approved:
		log.Info("Draft approved for ticket %s", rec.TicketID)
	default:
		log.Info("Draft rejected for ticket %s: %s", rec.TicketID, next.ReviewerFeedback)
	}
	next.ProcessingStep = StepReviewed
	appendStep(next, StageReview, r)
	return next
}

func (e *Engine) finalize(rec *Record) *Record {
	log.Info("Finalizing response for ticket %s", rec.TicketID)
	next := rec.Clone()
	next.FinalResponse = rec.DraftResponse
	next.ProcessingStep = StepCompleted
	return next
}

func (e *Engine) prepareRetry(rec *Record) *Record {
	log.Info("Recording failed attempt %d for ticket %s", rec.AttemptCount, rec.TicketID)
	next := RecordFailure(rec)
	next.ProcessingStep = StepRetrying
	return next
}

// escalate records the final rejection, composes the handoff note and hands
// the ticket to the sink. Neither a composer nor a sink failure blocks the
// escalation itself.
func (e *Engine) escalate(ctx context.Context, rec *Record) *Record {
	log.Info("Escalating ticket %s after %d failed attempts", rec.TicketID, rec.AttemptCount)
	next := RecordFailure(rec)

	var problems []string
	message := fallbackEscalationMessage(rec.TicketID)
	if e.stages.Composer != nil {
		req := EscalationRequest{
			TicketID:       next.TicketID,
			Subject:        next.Subject,
			Description:    next.Description,
			Category:       next.Category,
			AttemptCount:   next.AttemptCount,
			FailedAttempts: append([]FailedAttempt{}, next.FailedAttempts...),
			LastFeedback:   next.ReviewerFeedback,
		}
		r := invoke(ctx, e, next, StageCompose, func(ctx context.Context) (string, error) {
			out, err := e.stages.Composer.Compose(ctx, req)
			if err == nil && strings.TrimSpace(out) == "" {
				err = errors.New("composer returned an empty message")
			}
			return strings.TrimSpace(out), err
		})
		message = r.orElse(message)
		if r.failed() {
			problems = append(problems, r.cause())
			log.Error("Escalation message failed for ticket %s: %v", rec.TicketID, r.err)
		}
		appendStep(next, StageCompose, r)
	}
	next.EscalationMessage = message

	if e.stages.Sink != nil {
		row := EscalationRecord{
			Timestamp:         e.now(),
			TicketID:          next.TicketID,
			Subject:           next.Subject,
			Description:       next.Description,
			Category:          next.Category,
			FailedAttempts:    len(next.FailedAttempts),
			FinalError:        next.ReviewerFeedback,
			EscalationMessage: message,
		}
		r := invoke(ctx, e, next, StageSink, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, e.stages.Sink.Record(ctx, row)
		})
		if r.failed() {
			problems = append(problems, r.cause())
			log.Error("Escalation sink failed for ticket %s: %v", rec.TicketID, r.err)
		} else {
			log.Info("Ticket %s escalated and logged", rec.TicketID)
		}
		appendStep(next, StageSink, r)
	}

	if len(problems) > 0 {
		next.Errors.Escalation = strings.Join(problems, "; ")
	}
	next.Escalated = true
	next.FinalResponse = escalatedResponse(rec.TicketID)
	next.ProcessingStep = StepEscalated
	return next
}

func invoke[T any](ctx context.Context, e *Engine, rec *Record, stage Stage, fn func(context.Context) (T, error)) result[T] {
	return invokeAt(ctx, e, rec, rec.AttemptCount, stage, fn)
}

// invokeAt runs one collaborator call under the stage timeout. Errors,
// panics and cancellation all come back as a StageError.
func invokeAt[T any](ctx context.Context, e *Engine, rec *Record, attempt int, stage Stage, fn func(context.Context) (T, error)) (res result[T]) {
	callCtx := ctx
	if e.cfg.StageTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, e.cfg.StageTimeout)
		defer cancel()
	}

	fail := func(err error) {
		var zero T
		res.value = zero
		res.err = &StageError{Stage: stage, TicketID: rec.TicketID, Attempt: attempt, Err: err}
	}

	res.start = e.now()
	defer func() {
		if p := recover(); p != nil {
			fail(fmt.Errorf("panic: %v", p))
		}
		res.end = e.now()
		var err error
		if res.err != nil {
			err = res.err
		}
		e.observer.OnStage(rec.TicketID, stage, res.end.Sub(res.start), err)
	}()

	if err := callCtx.Err(); err != nil {
		fail(err)
		return res
	}
	v, err := fn(callCtx)
	if err != nil {
		fail(err)
		return res
	}
	res.value = v
	return res
}

func appendStep[T any](rec *Record, stage Stage, r result[T]) {
	sr := StepRecord{
		Stage:     stage,
		Attempt:   rec.AttemptCount,
		Status:    StepOK,
		StartedAt: r.start,
		EndedAt:   r.end,
	}
	if r.err != nil {
		sr.Status = StepFailed
		sr.Attempt = r.err.Attempt
		sr.Error = r.cause()
	}
	rec.History = append(rec.History, sr)
}

func fallbackDraft(category string) string {
	return fmt.Sprintf("I apologize, but I'm experiencing technical difficulties generating a response. "+
		"Please contact our support team directly for assistance with your %s inquiry.", strings.ToLower(category))
}

func fallbackEscalationMessage(ticketID string) string {
	return fmt.Sprintf("Ticket %s requires human attention due to automated processing failure.", ticketID)
}

func escalatedResponse(ticketID string) string {
	return fmt.Sprintf("This ticket has been escalated to our human support team. Reference ID: %s", ticketID)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
