/**
 * Copyright 2025 ByteDance Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package agent

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/cloudwego/ticketflow/llm/llmtest"
	"github.com/cloudwego/ticketflow/llm/prompt"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultSet(t *testing.T) prompt.Set {
	t.Helper()
	s, err := prompt.LoadSet("")
	require.NoError(t, err)
	return s
}

var testOpts = Options{
	Categories:     []string{"Billing", "Technical"},
	InitialBackoff: time.Millisecond,
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name     string
		in       string
		approved bool
		feedback string
	}{
		{"approved", "APPROVED", true, "Response approved"},
		{"approved with text", "  APPROVED - looks good", true, "Response approved"},
		{"rejected", "REJECTED: mentions a refund window not in policy", false, "mentions a refund window not in policy"},
		{"rejected empty", "REJECTED:", false, "Response needs improvement"},
		{"free text", "The tone is too casual.", false, "The tone is too casual."},
		{"lowercase approved is rejection", "approved", false, "approved"},
		{"empty", "", false, "Response needs improvement"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := ParseVerdict(tt.in)
			assert.Equal(t, tt.approved, v.Approved)
			assert.Equal(t, tt.feedback, v.Feedback)
		})
	}
}

func TestClassifier(t *testing.T) {
	cm := llmtest.Answer("\"Billing\"")
	c, err := NewClassifier(context.Background(), cm, defaultSet(t).Classifier, testOpts)
	require.NoError(t, err)

	got, err := c.Classify(context.Background(), "Refund", "I was charged twice")
	require.NoError(t, err)
	assert.Equal(t, "Billing", got)

	in := cm.LastInput()
	require.NotEmpty(t, in)
	user := in[len(in)-1].Content
	assert.Contains(t, user, "Billing, Technical")
	assert.Contains(t, user, "I was charged twice")
	require.NotNil(t, cm.LastOptions().MaxTokens)
	assert.Equal(t, ClassifierMaxTokens, *cm.LastOptions().MaxTokens)
}

func TestClassifier_Error(t *testing.T) {
	cm := llmtest.NewChatModel(llmtest.Reply{Err: errors.New("invalid api key")})
	c, err := NewClassifier(context.Background(), cm, defaultSet(t).Classifier, testOpts)
	require.NoError(t, err)

	_, err = c.Classify(context.Background(), "s", "d")
	assert.Error(t, err)
}

func TestDrafter(t *testing.T) {
	cm := llmtest.Answer("Dear customer, your refund is on its way.")
	d, err := NewDrafter(context.Background(), cm, defaultSet(t).Generator, testOpts)
	require.NoError(t, err)

	out, err := d.Generate(context.Background(), workflow.DraftRequest{
		Subject:     "Refund",
		Description: "charged twice",
		Category:    "Billing",
		Context:     "Refunds take 5 days.\n\nPrevious Reviewer Feedback: be specific",
		Attempt:     2,
	})
	require.NoError(t, err)
	assert.Equal(t, "Dear customer, your refund is on its way.", out)
	user := cm.LastInput()[len(cm.LastInput())-1].Content
	assert.Contains(t, user, "Refunds take 5 days.")
	assert.Contains(t, user, "Previous Reviewer Feedback: be specific")
}

func TestReviewer(t *testing.T) {
	cm := llmtest.Answer("REJECTED: too vague")
	r, err := NewReviewer(context.Background(), cm, defaultSet(t).Reviewer, testOpts)
	require.NoError(t, err)

	v, err := r.Review(context.Background(), workflow.ReviewRequest{
		Subject: "Refund", Description: "d", Category: "Billing", Draft: "We will look into it.", Attempt: 1,
	})
	require.NoError(t, err)
	assert.False(t, v.Approved)
	assert.Equal(t, "too vague", v.Feedback)

	opts := cm.LastOptions()
	require.NotNil(t, opts.Temperature)
	assert.InDelta(t, ReviewerTemperature, *opts.Temperature, 1e-6)
	require.NotNil(t, opts.MaxTokens)
	assert.Equal(t, ReviewerMaxTokens, *opts.MaxTokens)
	assert.Contains(t, cm.LastInput()[len(cm.LastInput())-1].Content, "We will look into it.")
}

func TestComposer(t *testing.T) {
	cm := llmtest.Answer("Customer needs a manual refund check.")
	c, err := NewComposer(context.Background(), cm, defaultSet(t).Escalation, testOpts)
	require.NoError(t, err)

	out, err := c.Compose(context.Background(), workflow.EscalationRequest{
		TicketID:     "TKT-1",
		Subject:      "Refund",
		Category:     "Billing",
		AttemptCount: 2,
		FailedAttempts: []workflow.FailedAttempt{
			{Attempt: 1, Feedback: "too vague"},
			{Attempt: 2, Feedback: "wrong policy"},
		},
		LastFeedback: "wrong policy",
	})
	require.NoError(t, err)
	assert.Equal(t, "Customer needs a manual refund check.", out)
	user := cm.LastInput()[len(cm.LastInput())-1].Content
	assert.Contains(t, user, "Attempt 1: too vague\nAttempt 2: wrong policy")
	assert.Contains(t, user, "TKT-1")
}

func TestSummarizeAttempts(t *testing.T) {
	assert.Equal(t, "", SummarizeAttempts(nil))
	assert.Equal(t, "Attempt 1: a", SummarizeAttempts([]workflow.FailedAttempt{{Attempt: 1, Feedback: "a"}}))
}

func TestAgentsDriveEngine(t *testing.T) {
	// one model shared by every agent: classify, draft, approve
	cm := llmtest.NewChatModel(
		llmtest.Reply{Content: "billing."},
		llmtest.Reply{Content: "Your refund has been issued."},
		llmtest.Reply{Content: "APPROVED"},
	)
	agents, err := New(context.Background(), cm, defaultSet(t), Options{InitialBackoff: time.Millisecond})
	require.NoError(t, err)

	stages := agents.Stages(workflow.Stages{
		Retriever: workflow.RetrieverFunc(func(ctx context.Context, category string) ([]string, error) {
			return []string{"Refunds are issued within 5 business days."}, nil
		}),
	})
	rec, err := workflow.RunTicketWorkflow(context.Background(), "Refund please", "I was charged twice for my invoice",
		workflow.DefaultConfig(), stages)
	require.NoError(t, err)
	assert.Equal(t, "Billing", rec.Category)
	assert.True(t, rec.ReviewApproved)
	assert.Equal(t, "Your refund has been issued.", rec.FinalResponse)
	assert.Equal(t, 3, cm.Calls())
}
