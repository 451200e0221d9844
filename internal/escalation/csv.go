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

// Package escalation persists escalated tickets for the human support queue.
package escalation

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cloudwego/ticketflow/internal/utils"
	"github.com/cloudwego/ticketflow/internal/workflow"
)

// Columns is the header of the escalation log.
var Columns = []string{
	"timestamp", "ticket_id", "subject", "description", "category",
	"failed_attempts", "final_error", "escalation_message",
}

var _ workflow.EscalationSink = (*CSVSink)(nil)

// CSVSink appends one row per escalated ticket to a CSV file. The header is
// written once, when the file is new or empty.
type CSVSink struct {
	path string
	mu   sync.Mutex
}

func NewCSVSink(path string) *CSVSink {
	return &CSVSink{path: path}
}

func (s *CSVSink) Path() string { return s.path }

// Record implements workflow.EscalationSink.
func (s *CSVSink) Record(ctx context.Context, rec workflow.EscalationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return utils.WrapErrorf(err, "create escalation log dir %s", dir)
		}
	}
	f, err := os.OpenFile(s.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return utils.WrapErrorf(err, "open escalation log %s", s.path)
	}
	defer f.Close()

	fi, err := f.Stat()
	if err != nil {
		return err
	}
	w := csv.NewWriter(f)
	if fi.Size() == 0 {
		if err := w.Write(Columns); err != nil {
			return err
		}
	}
	if err := w.Write(row(rec)); err != nil {
		return err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return utils.WrapErrorf(err, "write escalation log %s", s.path)
	}
	return f.Sync()
}

func row(rec workflow.EscalationRecord) []string {
	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	return []string{
		ts.Format(time.RFC3339Nano),
		rec.TicketID,
		rec.Subject,
		rec.Description,
		rec.Category,
		strconv.Itoa(rec.FailedAttempts),
		rec.FinalError,
		rec.EscalationMessage,
	}
}
