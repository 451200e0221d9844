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

// Decision is the routing outcome after a review.
type Decision string

const (
	DecisionFinalize Decision = "finalize"
	DecisionRetry    Decision = "retry"
	DecisionEscalate Decision = "escalate"
)

// Decide routes a reviewed draft: approved drafts finalize regardless of the
// attempt count, rejected drafts retry while attempts remain and escalate
// once maxAttempts is reached.
func Decide(approved bool, attempt, maxAttempts int) Decision {
	if approved {
		return DecisionFinalize
	}
	if attempt < maxAttempts {
		return DecisionRetry
	}
	return DecisionEscalate
}

// RecordFailure returns a copy of rec with the current draft and feedback
// appended to FailedAttempts.
func RecordFailure(rec *Record) *Record {
	next := rec.Clone()
	next.FailedAttempts = append(next.FailedAttempts, FailedAttempt{
		Attempt:  rec.AttemptCount,
		Draft:    rec.DraftResponse,
		Feedback: rec.ReviewerFeedback,
	})
	return next
}
