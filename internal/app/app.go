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

// Package app wires configuration, models, knowledge base, sinks and metrics
// into a ready to run workflow engine.
package app

import (
	"context"
	"errors"
	"io"

	"golang.org/x/sync/errgroup"

	"github.com/cloudwego/ticketflow/internal/config"
	"github.com/cloudwego/ticketflow/internal/escalation"
	"github.com/cloudwego/ticketflow/internal/knowledge"
	"github.com/cloudwego/ticketflow/internal/log"
	"github.com/cloudwego/ticketflow/internal/metrics"
	"github.com/cloudwego/ticketflow/internal/utils"
	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/cloudwego/ticketflow/llm"
	"github.com/cloudwego/ticketflow/llm/agent"
	"github.com/cloudwego/ticketflow/llm/prompt"
)

type App struct {
	Config  *config.Config
	Engine  *workflow.Engine
	Metrics *metrics.Metrics

	closers []io.Closer
}

type Option func(*buildOptions)

type buildOptions struct {
	model llm.ChatModel
}

// WithChatModel skips building the configured backend and uses cm instead.
func WithChatModel(cm llm.ChatModel) Option {
	return func(o *buildOptions) { o.model = cm }
}

// Build constructs every collaborator described by cfg. On error, whatever was already
// opened is closed.
func Build(ctx context.Context, cfg *config.Config, opts ...Option) (_ *App, err error) {
	var bo buildOptions
	for _, o := range opts {
		o(&bo)
	}
	a := &App{Config: cfg}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	cm := bo.model
	if cm == nil {
		if cm, err = llm.NewChatModel(ctx, cfg.LLM); err != nil {
			return nil, utils.WrapError(err, "build chat model")
		}
	}
	prompts, err := prompt.LoadSet(cfg.Prompts.Dir)
	if err != nil {
		return nil, err
	}
	llmCfg := cfg.LLM.WithDefaults()
	agents, err := agent.New(ctx, cm, prompts, agent.Options{
		Categories: cfg.Workflow.Categories,
		Retries:    llmCfg.Retries,
		Timeout:    llmCfg.Timeout,
	})
	if err != nil {
		return nil, err
	}

	store, err := knowledge.NewDirStore(knowledge.DirStoreOptions{
		Root:  cfg.KnowledgeBase.Path,
		Watch: cfg.KnowledgeBase.Watch,
	})
	if err != nil {
		return nil, utils.WrapError(err, "open knowledge base")
	}
	a.closers = append(a.closers, store)

	sink, err := a.buildSink(ctx, cfg.Escalation)
	if err != nil {
		return nil, err
	}

	a.Metrics = metrics.New()
	stages := agents.Stages(workflow.Stages{Retriever: store, Sink: sink})
	if a.Engine, err = workflow.New(cfg.WorkflowConfig(), stages, workflow.WithObserver(a.Metrics)); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) buildSink(ctx context.Context, cfg config.EscalationConfig) (workflow.EscalationSink, error) {
	var sinks escalation.MultiSink
	if cfg.LogFile != "" {
		sinks = append(sinks, escalation.NewCSVSink(cfg.LogFile))
		log.Info("escalations are logged to %s", cfg.LogFile)
	}
	if len(cfg.Kafka.Brokers) > 0 {
		ks := escalation.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		a.closers = append(a.closers, ks)
		sinks = append(sinks, ks)
		log.Info("escalations are published to kafka topic %s", cfg.Kafka.Topic)
	}
	if cfg.Postgres.DSN != "" {
		ps, err := escalation.NewPostgresSink(ctx, cfg.Postgres.DSN, cfg.Postgres.Table)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, ps)
		sinks = append(sinks, ps)
	}
	switch len(sinks) {
	case 0:
		log.Warn("no escalation sink configured, escalations are only logged")
		return nil, nil
	case 1:
		return sinks[0], nil
	}
	return sinks, nil
}

// Close releases watchers, writers and pools in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

type Ticket struct {
	Subject     string `json:"subject"`
	Description string `json:"description"`
}

type Result struct {
	Ticket Ticket           `json:"ticket"`
	Record *workflow.Record `json:"record,omitempty"`
	Err    error            `json:"-"`
}

// RunBatch runs tickets concurrently, at most parallelism at a time, each with its own
// lifecycle. Results keep the input order. Once ctx is done no further ticket starts and
// ctx's error is returned with the results collected so far.
func (a *App) RunBatch(ctx context.Context, tickets []Ticket, parallelism int) ([]Result, error) {
	return RunBatch(ctx, a.Engine, tickets, parallelism)
}

func RunBatch(ctx context.Context, e *workflow.Engine, tickets []Ticket, parallelism int) ([]Result, error) {
	if parallelism < 1 {
		parallelism = 1
	}
	results := make([]Result, len(tickets))
	var g errgroup.Group
	g.SetLimit(parallelism)
	for i, t := range tickets {
		results[i].Ticket = t
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				results[i].Err = err
				return err
			}
			results[i].Record, results[i].Err = e.Run(ctx, t.Subject, t.Description)
			return nil
		})
	}
	return results, g.Wait()
}

// SampleTickets are the demo tickets of the samples action.
func SampleTickets() []Ticket {
	return []Ticket{
		{
			Subject:     "Cannot login to my account",
			Description: "I've been trying to log into my account for the past hour but keep getting an 'invalid credentials' error. I'm sure my password is correct. This started happening after I changed my email address yesterday.",
		},
		{
			Subject:     "Billing charge dispute",
			Description: "I was charged $99.99 on my credit card but I only signed up for the $29.99 plan. I need this resolved immediately as this is affecting my budget.",
		},
		{
			Subject:     "API integration not working",
			Description: "Our API integration stopped working this morning. We're getting 500 errors on all endpoints. This is affecting our production system and we need urgent help.",
		},
		{
			Subject:     "Suspicious login activity",
			Description: "I received an email about login attempts from Russia, but I'm in the US and haven't traveled. I'm concerned my account may be compromised. Please help secure my account.",
		},
	}
}
