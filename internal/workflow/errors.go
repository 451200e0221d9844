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
	"time"
)

// ValidationError rejects a ticket before any stage runs.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid ticket: %s must not be empty", e.Field)
}

// Stage names one collaborator call made by the engine.
type Stage string

const (
	StageClassify Stage = "classify"
	StageRetrieve Stage = "retrieve"
	StageDraft    Stage = "draft"
	StageReview   Stage = "review"
	StageCompose  Stage = "compose"
	StageSink     Stage = "sink"
)

// StageError is a failed collaborator call. The engine never returns it from
// Run; it is recorded on the Record and replaced by the stage's fallback.
type StageError struct {
	Stage    Stage
	TicketID string
	Attempt  int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s failed for ticket %s (attempt %d): %v", e.Stage, e.TicketID, e.Attempt, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

// Timeout reports whether the call was cut off by its deadline.
func (e *StageError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}

// IsStage reports whether err is a StageError raised by stage.
func IsStage(err error, stage Stage) bool {
	var se *StageError
	return errors.As(err, &se) && se.Stage == stage
}

// result carries either a stage's value or the StageError that replaced it.
type result[T any] struct {
	value T
	err   *StageError
	start time.Time
	end   time.Time
}

// orElse returns the stage value, or fallback when the call failed.
func (r result[T]) orElse(fallback T) T {
	if r.err != nil {
		return fallback
	}
	return r.value
}

func (r result[T]) failed() bool { return r.err != nil }

// cause is the text stored in the per-stage error field.
func (r result[T]) cause() string {
	if r.err == nil {
		return ""
	}
	return r.err.Err.Error()
}
