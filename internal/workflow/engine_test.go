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
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// fakeStages is a scripted set of collaborators that records what it saw.
type fakeStages struct {
	mu          sync.Mutex
	category    string
	classifyErr error
	docs        []string
	retrieveErr error
	draftErr    error
	verdicts    []Verdict // consumed one per review; last one repeats
	reviewErr   error
	composeErr  error
	sinkErr     error

	categoriesSeen []string
	drafts         []DraftRequest
	reviews        []ReviewRequest
	escalations    []EscalationRecord
}

func (f *fakeStages) stages() Stages {
	return Stages{
		Classifier: ClassifierFunc(func(ctx context.Context, subject, description string) (string, error) {
			return f.category, f.classifyErr
		}),
		Retriever: RetrieverFunc(func(ctx context.Context, category string) ([]string, error) {
			f.mu.Lock()
			f.categoriesSeen = append(f.categoriesSeen, category)
			f.mu.Unlock()
			return f.docs, f.retrieveErr
		}),
		Drafter: DrafterFunc(func(ctx context.Context, req DraftRequest) (string, error) {
			f.mu.Lock()
			f.drafts = append(f.drafts, req)
			f.mu.Unlock()
			if f.draftErr != nil {
				return "", f.draftErr
			}
			return "draft " + string(rune('0'+req.Attempt)), nil
		}),
		Reviewer: ReviewerFunc(func(ctx context.Context, req ReviewRequest) (Verdict, error) {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.reviews = append(f.reviews, req)
			if f.reviewErr != nil {
				return Verdict{}, f.reviewErr
			}
			i := len(f.reviews) - 1
			if i >= len(f.verdicts) {
				i = len(f.verdicts) - 1
			}
			return f.verdicts[i], nil
		}),
		Composer: ComposerFunc(func(ctx context.Context, req EscalationRequest) (string, error) {
			if f.composeErr != nil {
				return "", f.composeErr
			}
			return "needs a human: " + req.TicketID, nil
		}),
		Sink: SinkFunc(func(ctx context.Context, rec EscalationRecord) error {
			f.mu.Lock()
			defer f.mu.Unlock()
			f.escalations = append(f.escalations, rec)
			return f.sinkErr
		}),
	}
}

func newTestEngine(t *testing.T, cfg Config, f *fakeStages, opts ...Option) *Engine {
	t.Helper()
	opts = append([]Option{
		WithClock(func() time.Time { return fixedNow }),
		WithIDGenerator(func() string { return "TKT-TEST" }),
	}, opts...)
	e, err := New(cfg, f.stages(), opts...)
	require.NoError(t, err)
	return e
}

func approve() Verdict { return Verdict{Approved: true, Feedback: "Response approved"} }

func reject(why string) Verdict { return Verdict{Approved: false, Feedback: why} }

func TestEngine_ApprovedFirstAttempt(t *testing.T) {
	f := &fakeStages{
		category: "Technical",
		docs:     []string{"Use the forgot password link to reset your password.", "Unrelated billing text."},
		verdicts: []Verdict{approve()},
	}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "Password reset help", "forgot password")
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, rec.State)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Empty(t, rec.FailedAttempts)
	assert.Equal(t, "Technical", rec.Category)
	assert.Equal(t, rec.DraftResponse, rec.FinalResponse)
	assert.Equal(t, StepCompleted, rec.ProcessingStep)
	assert.False(t, rec.Escalated)
	assert.False(t, rec.Errors.Any())
	assert.Equal(t, []string{f.docs[0]}, rec.ContextDocs)
	assert.Empty(t, f.escalations)
}

func TestEngine_EscalatesAfterMaxRejections(t *testing.T) {
	f := &fakeStages{
		category: "Billing",
		docs:     []string{"refund policy"},
		verdicts: []Verdict{reject("missing refund timeline"), reject("wrong amount"), reject("still wrong")},
	}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "Billing charge dispute", "charged twice for the plan")
	require.NoError(t, err)

	assert.Equal(t, StateEscalated, rec.State)
	assert.True(t, rec.Escalated)
	assert.Equal(t, 3, rec.AttemptCount)
	require.Len(t, rec.FailedAttempts, 3)
	for i, fa := range rec.FailedAttempts {
		assert.Equal(t, i+1, fa.Attempt)
		assert.Equal(t, f.verdicts[i].Feedback, fa.Feedback)
	}
	assert.Contains(t, rec.FinalResponse, "TKT-TEST")
	assert.Equal(t, "needs a human: TKT-TEST", rec.EscalationMessage)
	assert.Equal(t, StepEscalated, rec.ProcessingStep)

	require.Len(t, f.escalations, 1)
	row := f.escalations[0]
	assert.Equal(t, 3, row.FailedAttempts)
	assert.Equal(t, "still wrong", row.FinalError)
	assert.Equal(t, "Billing", row.Category)
	assert.Equal(t, fixedNow, row.Timestamp)
}

func TestEngine_RejectionsThenApproval(t *testing.T) {
	f := &fakeStages{
		category: "Security",
		docs:     []string{"enable two-factor authentication"},
		verdicts: []Verdict{reject("mention 2FA"), reject("add the audit link"), approve()},
	}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "Suspicious login", "someone logged in from abroad")
	require.NoError(t, err)

	assert.Equal(t, StateFinalized, rec.State)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Len(t, rec.FailedAttempts, 2)
	assert.Equal(t, "draft 3", rec.FinalResponse)

	// reviewer feedback is fed into the next generation attempt
	require.Len(t, f.drafts, 3)
	assert.NotContains(t, f.drafts[0].Context, "Previous Reviewer Feedback")
	assert.True(t, strings.HasSuffix(f.drafts[1].Context, "Previous Reviewer Feedback: mention 2FA"))
	assert.True(t, strings.HasSuffix(f.drafts[2].Context, "Previous Reviewer Feedback: add the audit link"))
	// retrieval reruns every cycle
	assert.Equal(t, []string{"Security", "Security", "Security"}, f.categoriesSeen)
}

func TestEngine_ClassifierFailureFallsBackToDefault(t *testing.T) {
	f := &fakeStages{
		classifyErr: errors.New("llm unavailable"),
		docs:        []string{"general help"},
		verdicts:    []Verdict{approve()},
	}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "Question", "How do I export data?")
	require.NoError(t, err)

	assert.Equal(t, "General", rec.Category)
	assert.Equal(t, "llm unavailable", rec.Errors.Classification)
	assert.Equal(t, []string{"General"}, f.categoriesSeen)
	assert.Equal(t, StateFinalized, rec.State)
	require.NotEmpty(t, rec.History)
	assert.Equal(t, StageClassify, rec.History[0].Stage)
	assert.Equal(t, StepFailed, rec.History[0].Status)
}

func TestEngine_UnknownCategoryIsNormalized(t *testing.T) {
	f := &fakeStages{category: "Shipping", docs: []string{"x"}, verdicts: []Verdict{approve()}}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "Where is my parcel", "It has not arrived")
	require.NoError(t, err)
	assert.Equal(t, "General", rec.Category)
	assert.Contains(t, rec.Errors.Classification, `"Shipping"`)
}

func TestEngine_RetrieverFailure(t *testing.T) {
	f := &fakeStages{category: "Technical", retrieveErr: errors.New("kb offline"), verdicts: []Verdict{approve()}}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "API down", "500 errors")
	require.NoError(t, err)
	assert.Equal(t, "Error retrieving context for Technical category. Using general guidance.", rec.Context)
	assert.Empty(t, rec.ContextDocs)
	assert.Equal(t, "kb offline", rec.Errors.Retrieval)
	assert.Equal(t, rec.Context, f.drafts[0].Context)
}

func TestEngine_DrafterFailureStillCountsAttempt(t *testing.T) {
	f := &fakeStages{category: "Billing", docs: []string{"x"}, draftErr: errors.New("rate limited"), verdicts: []Verdict{approve()}}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "Invoice", "wrong total")
	require.NoError(t, err)
	assert.Equal(t, 1, rec.AttemptCount)
	assert.Contains(t, rec.DraftResponse, "your billing inquiry")
	assert.Equal(t, rec.DraftResponse, rec.FinalResponse)
	assert.Equal(t, "rate limited", rec.Errors.Generation)
}

func TestEngine_ReviewerFailureApproves(t *testing.T) {
	f := &fakeStages{category: "Technical", docs: []string{"x"}, reviewErr: errors.New("judge crashed")}
	e := newTestEngine(t, DefaultConfig(), f)

	rec, err := e.Run(context.Background(), "Bug", "app crashes")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, rec.State)
	assert.True(t, rec.ReviewApproved)
	assert.Equal(t, "Review system error: judge crashed", rec.ReviewerFeedback)
	assert.Equal(t, "judge crashed", rec.Errors.Review)
	assert.Len(t, f.reviews, 1)
}

func TestEngine_EmptyRejectionGetsDefaultFeedback(t *testing.T) {
	f := &fakeStages{category: "General", docs: []string{"x"}, verdicts: []Verdict{reject("  ")}}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	e := newTestEngine(t, cfg, f)

	rec, err := e.Run(context.Background(), "Hello", "help")
	require.NoError(t, err)
	require.Len(t, rec.FailedAttempts, 1)
	assert.Equal(t, "Response needs improvement", rec.FailedAttempts[0].Feedback)
}

func TestEngine_SinkFailureStillEscalates(t *testing.T) {
	f := &fakeStages{
		category: "General",
		docs:     []string{"x"},
		verdicts: []Verdict{reject("no")},
		sinkErr:  errors.New("disk full"),
	}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	e := newTestEngine(t, cfg, f)

	rec, err := e.Run(context.Background(), "Hello", "help")
	require.NoError(t, err)
	assert.True(t, rec.Escalated)
	assert.Equal(t, StateEscalated, rec.State)
	assert.Contains(t, rec.FinalResponse, "TKT-TEST")
	assert.Equal(t, "disk full", rec.Errors.Escalation)
}

func TestEngine_ComposerFailureUsesFallbackMessage(t *testing.T) {
	f := &fakeStages{
		category:   "General",
		docs:       []string{"x"},
		verdicts:   []Verdict{reject("no")},
		composeErr: errors.New("llm down"),
	}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 1
	e := newTestEngine(t, cfg, f)

	rec, err := e.Run(context.Background(), "Hello", "help")
	require.NoError(t, err)
	assert.Equal(t, "Ticket TKT-TEST requires human attention due to automated processing failure.", rec.EscalationMessage)
	assert.Equal(t, "llm down", rec.Errors.Escalation)
	require.Len(t, f.escalations, 1)
	assert.Equal(t, rec.EscalationMessage, f.escalations[0].EscalationMessage)
}

func TestEngine_ValidationError(t *testing.T) {
	f := &fakeStages{category: "General", verdicts: []Verdict{approve()}}
	e := newTestEngine(t, DefaultConfig(), f)

	for _, in := range [][2]string{{"", "body"}, {"subject", "   "}, {"\t", "\n"}} {
		rec, err := e.Run(context.Background(), in[0], in[1])
		assert.Nil(t, rec)
		var ve *ValidationError
		require.ErrorAs(t, err, &ve)
	}
	assert.Empty(t, f.categoriesSeen)
}

func TestEngine_StageTimeoutIsAFailure(t *testing.T) {
	f := &fakeStages{category: "Technical", docs: []string{"x"}, verdicts: []Verdict{approve()}}
	st := f.stages()
	st.Drafter = DrafterFunc(func(ctx context.Context, req DraftRequest) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	})
	cfg := DefaultConfig()
	cfg.StageTimeout = 10 * time.Millisecond
	e, err := New(cfg, st)
	require.NoError(t, err)

	rec, err := e.Run(context.Background(), "Slow", "the drafter hangs")
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, rec.State)
	assert.Contains(t, rec.Errors.Generation, "deadline exceeded")
	assert.NotEmpty(t, rec.FinalResponse)
}

func TestEngine_CancelledContextStillTerminates(t *testing.T) {
	f := &fakeStages{category: "Technical", docs: []string{"x"}, verdicts: []Verdict{reject("no")}}
	e := newTestEngine(t, DefaultConfig(), f)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	rec, err := e.Run(ctx, "Cancelled", "host gave up")
	require.NoError(t, err)

	assert.True(t, rec.State.Terminal())
	assert.NotEmpty(t, rec.FinalResponse)
	assert.Equal(t, "General", rec.Category)
	assert.NotEmpty(t, rec.Errors.Classification)
	assert.NotEmpty(t, rec.Errors.Review)
	// no collaborator saw the cancelled call
	assert.Empty(t, f.categoriesSeen)
	assert.Empty(t, f.drafts)
}

func TestEngine_PanicIsRecovered(t *testing.T) {
	f := &fakeStages{docs: []string{"x"}, verdicts: []Verdict{approve()}}
	st := f.stages()
	st.Classifier = ClassifierFunc(func(ctx context.Context, subject, description string) (string, error) {
		panic("nil model")
	})
	e, err := New(DefaultConfig(), st)
	require.NoError(t, err)

	rec, err := e.Run(context.Background(), "Panic", "classifier blows up")
	require.NoError(t, err)
	assert.Equal(t, "panic: nil model", rec.Errors.Classification)
	assert.Equal(t, StateFinalized, rec.State)
}

func TestEngine_AlwaysTerminates(t *testing.T) {
	for max := 1; max <= 6; max++ {
		f := &fakeStages{category: "General", docs: []string{"x"}, verdicts: []Verdict{reject("never good enough")}}
		cfg := DefaultConfig()
		cfg.MaxAttempts = max
		e := newTestEngine(t, cfg, f)

		rec, err := e.Run(context.Background(), "Loop", "reviewer never approves")
		require.NoError(t, err)
		assert.Equal(t, StateEscalated, rec.State)
		assert.Equal(t, max, rec.AttemptCount)
		assert.Len(t, rec.FailedAttempts, max)
		assert.Len(t, f.reviews, max)
	}
}

type recordingObserver struct {
	transitions []State
	stages      []Stage
	failures    int
	terminal    *Record
}

func (o *recordingObserver) OnStage(_ string, stage Stage, _ time.Duration, err error) {
	o.stages = append(o.stages, stage)
	if err != nil {
		o.failures++
	}
}

func (o *recordingObserver) OnTransition(_ string, _, to State) {
	o.transitions = append(o.transitions, to)
}

func (o *recordingObserver) OnTerminal(rec *Record) { o.terminal = rec }

func TestEngine_TransitionSequence(t *testing.T) {
	f := &fakeStages{category: "Technical", docs: []string{"x"}, verdicts: []Verdict{reject("again"), approve()}}
	obs := &recordingObserver{}
	e := newTestEngine(t, DefaultConfig(), f, WithObserver(obs))

	rec, err := e.Run(context.Background(), "Retry", "one rejection")
	require.NoError(t, err)

	assert.Equal(t, []State{
		StateClassified, StateContextRetrieved, StateDrafted, StateReviewed,
		StateRetryPrepared,
		StateContextRetrieved, StateDrafted, StateReviewed,
		StateFinalized,
	}, obs.transitions)
	assert.Equal(t, []Stage{
		StageClassify, StageRetrieve, StageDraft, StageReview,
		StageRetrieve, StageDraft, StageReview,
	}, obs.stages)
	assert.Zero(t, obs.failures)
	assert.Same(t, rec, obs.terminal)
	assert.Len(t, rec.History, 7)
}

func TestEngine_ConcurrentRuns(t *testing.T) {
	f := &fakeStages{category: "Billing", docs: []string{"refund"}, verdicts: []Verdict{approve()}}
	e, err := New(DefaultConfig(), f.stages())
	require.NoError(t, err)

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := e.Run(context.Background(), "Refund", "please refund me")
			if assert.NoError(t, err) {
				ids[i] = rec.TicketID
			}
		}(i)
	}
	wg.Wait()

	seen := map[string]bool{}
	for _, id := range ids {
		assert.True(t, strings.HasPrefix(id, "TKT-"))
		assert.False(t, seen[id], "duplicate ticket id %s", id)
		seen[id] = true
	}
}

func TestNew_Validation(t *testing.T) {
	f := &fakeStages{}
	cfg := DefaultConfig()
	cfg.MaxAttempts = 0
	_, err := New(cfg, f.stages())
	assert.Error(t, err)

	cfg = DefaultConfig()
	cfg.Categories.Default = "Other"
	_, err = New(cfg, f.stages())
	assert.Error(t, err)

	st := f.stages()
	st.Reviewer = nil
	_, err = New(DefaultConfig(), st)
	assert.Error(t, err)

	st = f.stages()
	st.Composer, st.Sink = nil, nil
	_, err = New(DefaultConfig(), st)
	assert.NoError(t, err)
}

func TestRunTicketWorkflow(t *testing.T) {
	f := &fakeStages{category: "Technical", docs: []string{"x"}, verdicts: []Verdict{approve()}}
	rec, err := RunTicketWorkflow(context.Background(), "Password reset help", "forgot password", DefaultConfig(), f.stages())
	require.NoError(t, err)
	assert.Equal(t, StateFinalized, rec.State)
	assert.True(t, strings.HasPrefix(rec.TicketID, "TKT-"))
}

func TestIsStage(t *testing.T) {
	err := error(&StageError{Stage: StageReview, TicketID: "T", Err: context.DeadlineExceeded})
	assert.True(t, IsStage(err, StageReview))
	assert.False(t, IsStage(err, StageDraft))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.True(t, err.(*StageError).Timeout())
}
