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

// Package agent implements the workflow stages on top of prompt chains.
package agent

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/cloudwego/ticketflow/llm"
	"github.com/cloudwego/ticketflow/llm/prompt"
)

const (
	ClassifierMaxTokens = 100
	ReviewerMaxTokens   = 500
)

var ReviewerTemperature float32 = 0.1

// Options is shared by every agent.
type Options struct {
	// Categories are listed in the classifier prompt.
	Categories []string
	// Retries, Timeout and InitialBackoff apply to each model call.
	Retries        int
	Timeout        time.Duration
	InitialBackoff time.Duration
}

func (o Options) chain(name string, tpl prompt.Template) llm.ChainOptions {
	return llm.ChainOptions{
		Name:           name,
		System:         tpl.System.String(),
		User:           tpl.User.String(),
		Retries:        o.Retries,
		Timeout:        o.Timeout,
		InitialBackoff: o.InitialBackoff,
	}
}

// Agents bundles the model backed stages.
type Agents struct {
	Classifier *Classifier
	Drafter    *Drafter
	Reviewer   *Reviewer
	Composer   *Composer
}

func New(ctx context.Context, cm llm.ChatModel, prompts prompt.Set, opts Options) (*Agents, error) {
	var (
		a   Agents
		err error
	)
	if a.Classifier, err = NewClassifier(ctx, cm, prompts.Classifier, opts); err != nil {
		return nil, err
	}
	if a.Drafter, err = NewDrafter(ctx, cm, prompts.Generator, opts); err != nil {
		return nil, err
	}
	if a.Reviewer, err = NewReviewer(ctx, cm, prompts.Reviewer, opts); err != nil {
		return nil, err
	}
	if a.Composer, err = NewComposer(ctx, cm, prompts.Escalation, opts); err != nil {
		return nil, err
	}
	return &a, nil
}

// Stages fills the model backed fields of s.
func (a *Agents) Stages(s workflow.Stages) workflow.Stages {
	s.Classifier = a.Classifier
	s.Drafter = a.Drafter
	s.Reviewer = a.Reviewer
	s.Composer = a.Composer
	return s
}

type Classifier struct {
	gen        llm.Generator
	categories string
}

var _ workflow.Classifier = (*Classifier)(nil)

func NewClassifier(ctx context.Context, cm llm.ChatModel, tpl prompt.Template, opts Options) (*Classifier, error) {
	co := opts.chain("classifier", tpl)
	maxTokens := ClassifierMaxTokens
	co.MaxTokens = &maxTokens
	c, err := llm.NewPromptChain(ctx, cm, co)
	if err != nil {
		return nil, fmt.Errorf("new classifier: %w", err)
	}
	cats := opts.Categories
	if len(cats) == 0 {
		cats = workflow.DefaultCategories.Labels
	}
	return &Classifier{gen: c, categories: strings.Join(cats, ", ")}, nil
}

func (c *Classifier) Classify(ctx context.Context, subject, description string) (string, error) {
	out, err := c.gen.Call(ctx, map[string]any{
		"subject":     subject,
		"description": description,
		"categories":  c.categories,
	})
	if err != nil {
		return "", err
	}
	return strings.Trim(out, "\"'` "), nil
}

type Drafter struct {
	gen llm.Generator
}

var _ workflow.Drafter = (*Drafter)(nil)

func NewDrafter(ctx context.Context, cm llm.ChatModel, tpl prompt.Template, opts Options) (*Drafter, error) {
	c, err := llm.NewPromptChain(ctx, cm, opts.chain("generator", tpl))
	if err != nil {
		return nil, fmt.Errorf("new drafter: %w", err)
	}
	return &Drafter{gen: c}, nil
}

func (d *Drafter) Generate(ctx context.Context, req workflow.DraftRequest) (string, error) {
	return d.gen.Call(ctx, map[string]any{
		"subject":     req.Subject,
		"description": req.Description,
		"category":    req.Category,
		"context":     req.Context,
		"attempt":     req.Attempt,
	})
}

type Reviewer struct {
	gen llm.Generator
}

var _ workflow.Reviewer = (*Reviewer)(nil)

func NewReviewer(ctx context.Context, cm llm.ChatModel, tpl prompt.Template, opts Options) (*Reviewer, error) {
	co := opts.chain("reviewer", tpl)
	temp, maxTokens := ReviewerTemperature, ReviewerMaxTokens
	co.Temperature = &temp
	co.MaxTokens = &maxTokens
	c, err := llm.NewPromptChain(ctx, cm, co)
	if err != nil {
		return nil, fmt.Errorf("new reviewer: %w", err)
	}
	return &Reviewer{gen: c}, nil
}

func (r *Reviewer) Review(ctx context.Context, req workflow.ReviewRequest) (workflow.Verdict, error) {
	out, err := r.gen.Call(ctx, map[string]any{
		"subject":     req.Subject,
		"description": req.Description,
		"category":    req.Category,
		"draft":       req.Draft,
		"context":     req.Context,
		"attempt":     req.Attempt,
	})
	if err != nil {
		return workflow.Verdict{}, err
	}
	return ParseVerdict(out), nil
}

const (
	approvedPrefix  = "APPROVED"
	rejectedPrefix  = "REJECTED:"
	approvedMessage = "Response approved"
	defaultFeedback = "Response needs improvement"
)

// ParseVerdict reads a reviewer answer. Anything not starting with APPROVED is a rejection,
// the text after REJECTED: being the feedback.
func ParseVerdict(out string) workflow.Verdict {
	out = strings.TrimSpace(out)
	if strings.HasPrefix(out, approvedPrefix) {
		return workflow.Verdict{Approved: true, Feedback: approvedMessage}
	}
	feedback := strings.TrimSpace(strings.ReplaceAll(out, rejectedPrefix, ""))
	if feedback == "" {
		feedback = defaultFeedback
	}
	return workflow.Verdict{Feedback: feedback}
}

type Composer struct {
	gen llm.Generator
}

var _ workflow.EscalationComposer = (*Composer)(nil)

func NewComposer(ctx context.Context, cm llm.ChatModel, tpl prompt.Template, opts Options) (*Composer, error) {
	c, err := llm.NewPromptChain(ctx, cm, opts.chain("escalation", tpl))
	if err != nil {
		return nil, fmt.Errorf("new composer: %w", err)
	}
	return &Composer{gen: c}, nil
}

func (c *Composer) Compose(ctx context.Context, req workflow.EscalationRequest) (string, error) {
	return c.gen.Call(ctx, map[string]any{
		"ticket_id":       req.TicketID,
		"subject":         req.Subject,
		"description":     req.Description,
		"category":        req.Category,
		"attempt_count":   req.AttemptCount,
		"failed_attempts": SummarizeAttempts(req.FailedAttempts),
		"last_feedback":   req.LastFeedback,
	})
}

// SummarizeAttempts renders one "Attempt N: feedback" line per failed attempt.
func SummarizeAttempts(attempts []workflow.FailedAttempt) string {
	var sb strings.Builder
	for i, a := range attempts {
		if i > 0 {
			sb.WriteByte('\n')
		}
		fmt.Fprintf(&sb, "Attempt %d: %s", i+1, a.Feedback)
	}
	return sb.String()
}
