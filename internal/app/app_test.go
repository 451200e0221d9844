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

package app

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudwego/ticketflow/internal/config"
	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/cloudwego/ticketflow/llm/llmtest"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	kb := filepath.Join(dir, "kb")
	require.NoError(t, os.MkdirAll(filepath.Join(kb, "general_docs"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(kb, "general_docs", "faq.txt"),
		[]byte("Support hours are 9am to 5pm on weekdays."), 0o644))

	cfg := config.Default()
	cfg.KnowledgeBase.Path = kb
	cfg.Escalation.LogFile = filepath.Join(dir, "escalation_log.csv")
	cfg.LLM.Retries = 1
	return cfg
}

func TestBuildAndEscalate(t *testing.T) {
	cfg := testConfig(t)
	a, err := Build(context.Background(), cfg, WithChatModel(llmtest.Answer("REJECTED: does not answer the question")))
	require.NoError(t, err)
	defer a.Close()

	rec, err := a.Engine.Run(context.Background(), "Opening hours", "When can I reach support?")
	require.NoError(t, err)
	assert.True(t, rec.Escalated)
	assert.Equal(t, "General", rec.Category)
	assert.Equal(t, 3, rec.AttemptCount)
	assert.Contains(t, rec.Context, "Support hours")

	f, err := os.Open(cfg.Escalation.LogFile)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, rec.TicketID, rows[1][1])
}

func TestBuildUnknownModel(t *testing.T) {
	cfg := testConfig(t)
	cfg.LLM.APIType = ""
	_, err := Build(context.Background(), cfg)
	assert.Error(t, err)
}

func TestBuildBadPromptDir(t *testing.T) {
	cfg := testConfig(t)
	cfg.Prompts.Dir = t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.Prompts.Dir, "reviewer.md"), []byte("{{.broken"), 0o644))
	_, err := Build(context.Background(), cfg, WithChatModel(llmtest.Answer("x")))
	assert.Error(t, err)
}

func echoEngine(t *testing.T, calls *atomic.Int32) *workflow.Engine {
	t.Helper()
	e, err := workflow.New(workflow.DefaultConfig(), workflow.Stages{
		Classifier: workflow.ClassifierFunc(func(ctx context.Context, subject, description string) (string, error) {
			calls.Add(1)
			time.Sleep(5 * time.Millisecond)
			return "General", nil
		}),
		Retriever: workflow.RetrieverFunc(func(ctx context.Context, category string) ([]string, error) {
			return []string{"doc"}, nil
		}),
		Drafter: workflow.DrafterFunc(func(ctx context.Context, req workflow.DraftRequest) (string, error) {
			return "reply to " + req.Subject, nil
		}),
		Reviewer: workflow.ReviewerFunc(func(ctx context.Context, req workflow.ReviewRequest) (workflow.Verdict, error) {
			return workflow.Verdict{Approved: true}, nil
		}),
	})
	require.NoError(t, err)
	return e
}

func TestRunBatch(t *testing.T) {
	var calls atomic.Int32
	tickets := append(SampleTickets(), Ticket{Subject: "", Description: "no subject"})

	results, err := RunBatch(context.Background(), echoEngine(t, &calls), tickets, 2)
	require.NoError(t, err)
	require.Len(t, results, len(tickets))

	ids := map[string]bool{}
	for i, r := range results[:4] {
		require.NoError(t, r.Err)
		assert.Equal(t, tickets[i], r.Ticket)
		assert.Equal(t, "reply to "+tickets[i].Subject, r.Record.FinalResponse)
		ids[r.Record.TicketID] = true
	}
	assert.Len(t, ids, 4)

	var verr *workflow.ValidationError
	assert.True(t, errors.As(results[4].Err, &verr))
	assert.Nil(t, results[4].Record)
	assert.Equal(t, int32(4), calls.Load())
}

func TestRunBatchCancelled(t *testing.T) {
	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results, err := RunBatch(ctx, echoEngine(t, &calls), SampleTickets(), 0)
	assert.ErrorIs(t, err, context.Canceled)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.ErrorIs(t, r.Err, context.Canceled)
	}
	assert.Equal(t, int32(0), calls.Load())
}
