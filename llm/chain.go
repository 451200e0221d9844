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

package llm

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cloudwego/eino/components/model"
	eprompt "github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/ticketflow/internal/log"
)

// ChainOptions configures one prompt chain.
type ChainOptions struct {
	Name   string
	System string // go template
	User   string // go template

	Temperature *float32
	MaxTokens   *int

	// Retries is the max number of extra attempts on transient errors.
	Retries int
	// Timeout bounds each attempt, zero means no limit.
	Timeout time.Duration
	// InitialBackoff is the first wait between attempts, default: 1s
	InitialBackoff time.Duration
}

// PromptChain is a compiled ChatTemplate -> ChatModel chain.
type PromptChain struct {
	name     string
	runnable compose.Runnable[map[string]any, *schema.Message]
	opts     []model.Option
	retries  int
	timeout  time.Duration
	backoff  time.Duration
}

var _ Generator = (*PromptChain)(nil)

func NewPromptChain(ctx context.Context, cm ChatModel, opts ChainOptions) (*PromptChain, error) {
	if cm == nil {
		return nil, errors.New("chat model is nil")
	}
	if strings.TrimSpace(opts.User) == "" {
		return nil, errors.New("user template is empty")
	}
	var msgs []schema.MessagesTemplate
	if opts.System != "" {
		msgs = append(msgs, schema.SystemMessage(opts.System))
	}
	msgs = append(msgs, schema.UserMessage(opts.User))
	tpl := eprompt.FromMessages(schema.GoTemplate, msgs...)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(tpl).AppendChatModel(cm)
	runnable, err := chain.Compile(ctx, compose.WithGraphName(opts.Name))
	if err != nil {
		return nil, err
	}

	var mopts []model.Option
	if opts.Temperature != nil {
		mopts = append(mopts, model.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens != nil {
		mopts = append(mopts, model.WithMaxTokens(*opts.MaxTokens))
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = time.Second
	}
	return &PromptChain{
		name:     opts.Name,
		runnable: runnable,
		opts:     mopts,
		retries:  opts.Retries,
		timeout:  opts.Timeout,
		backoff:  opts.InitialBackoff,
	}, nil
}

func (c *PromptChain) Name() string {
	return c.name
}

// Call renders the templates with vars, invokes the model and returns the trimmed answer.
// Transient errors are retried with exponential backoff.
func (c *PromptChain) Call(ctx context.Context, vars map[string]any) (string, error) {
	var (
		out     string
		attempt int
	)
	op := func() error {
		attempt++
		actx := ctx
		if c.timeout > 0 {
			var cancel context.CancelFunc
			actx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
		}
		msg, err := c.runnable.Invoke(actx, vars,
			compose.WithCallbacks(CallbackHandler{}),
			compose.WithChatModelOption(c.opts...))
		if err != nil {
			if ctx.Err() != nil || !IsRetryable(err) {
				return backoff.Permanent(err)
			}
			log.Info("[%s] attempt %d failed with retryable error: %v", c.name, attempt, err)
			return err
		}
		if msg == nil {
			return backoff.Permanent(errors.New("model returned no message"))
		}
		out = strings.TrimSpace(msg.Content)
		return nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.backoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.retries)), ctx)
	if err := backoff.Retry(op, b); err != nil {
		return "", err
	}
	return out, nil
}

// IsRetryable reports whether err looks like a transient transport or rate limit failure.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	s := strings.ToLower(err.Error())
	for _, pat := range retryablePatterns {
		if strings.Contains(s, pat) {
			return true
		}
	}
	return false
}

var retryablePatterns = []string{
	"timeout",
	"connection reset",
	"connection refused",
	"operation timed out",
	"context deadline exceeded",
	"read tcp",
	"write tcp",
	"rate limit",
	"too many requests",
	"status code: 429",
	"status code: 503",
}
