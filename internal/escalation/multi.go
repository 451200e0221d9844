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

package escalation

import (
	"context"
	"errors"
	"fmt"

	"github.com/cloudwego/ticketflow/internal/workflow"
)

var _ workflow.EscalationSink = MultiSink(nil)

// MultiSink records to every sink; one failing sink does not stop the rest.
type MultiSink []workflow.EscalationSink

func (m MultiSink) Record(ctx context.Context, rec workflow.EscalationRecord) error {
	var errs []error
	for i, s := range m {
		if err := s.Record(ctx, rec); err != nil {
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}
