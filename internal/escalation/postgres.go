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
	"fmt"

	"github.com/cloudwego/ticketflow/internal/utils"
	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ workflow.EscalationSink = (*PostgresSink)(nil)

const createTableSQL = `CREATE TABLE IF NOT EXISTS %s (
	id                 BIGSERIAL PRIMARY KEY,
	timestamp          TIMESTAMPTZ NOT NULL,
	ticket_id          TEXT NOT NULL,
	subject            TEXT NOT NULL,
	description        TEXT NOT NULL,
	category           TEXT NOT NULL,
	failed_attempts    INTEGER NOT NULL,
	final_error        TEXT NOT NULL,
	escalation_message TEXT NOT NULL
)`

const insertSQL = `INSERT INTO %s
	(timestamp, ticket_id, subject, description, category, failed_attempts, final_error, escalation_message)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

// PostgresSink appends escalations to a table. The table is created on
// construction when missing.
type PostgresSink struct {
	pool  *pgxpool.Pool
	table string
}

func NewPostgresSink(ctx context.Context, connString, table string) (*PostgresSink, error) {
	if table == "" {
		table = "escalations"
	}
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, utils.WrapError(err, "connect escalation store")
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf(createTableSQL, table)); err != nil {
		pool.Close()
		return nil, utils.WrapErrorf(err, "create table %s", table)
	}
	return &PostgresSink{pool: pool, table: table}, nil
}

// Record implements workflow.EscalationSink.
func (s *PostgresSink) Record(ctx context.Context, rec workflow.EscalationRecord) error {
	_, err := s.pool.Exec(ctx, fmt.Sprintf(insertSQL, s.table),
		rec.Timestamp, rec.TicketID, rec.Subject, rec.Description, rec.Category,
		rec.FailedAttempts, rec.FinalError, rec.EscalationMessage)
	if err != nil {
		return utils.WrapErrorf(err, "insert escalation %s", rec.TicketID)
	}
	return nil
}

func (s *PostgresSink) Close() error {
	s.pool.Close()
	return nil
}
