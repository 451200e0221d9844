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

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cloudwego/ticketflow/internal/utils"
	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type Tool struct {
	mcp.Tool
	Handler server.ToolHandlerFunc
}

func NewTool[R any, T any](name string, desc string, schema json.RawMessage, handler func(ctx context.Context, req R) (*T, error)) Tool {
	return Tool{
		Tool: mcp.NewToolWithRawSchema(name, desc, schema),
		Handler: func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
			var req R
			if err := request.BindArguments(&req); err != nil {
				return nil, err
			}
			var final string
			var isError bool
			if resp, err := handler(ctx, req); err != nil {
				isError = true
				final = err.Error()
			} else if js, err := utils.MarshalJSONBytes(resp); err != nil {
				isError = true
				final = err.Error()
			} else {
				final = string(js)
			}
			return &mcp.CallToolResult{
				Content: []mcp.Content{
					mcp.NewTextContent(final),
				},
				IsError: isError,
			}, nil
		},
	}
}

const (
	ToolResolveTicket   = "resolve_ticket"
	PromptEscalation    = "escalation_policy"
	DescResolveTicket   = "Run a support ticket through classification, context retrieval, drafting and review. Returns the terminal ticket record as JSON: final_response holds the customer reply, escalated tells whether the ticket was handed to a human."
	DescEscalationRules = "How tickets are retried and when they are escalated to human support"
)

type ResolveTicketReq struct {
	Subject     string `json:"subject" jsonschema:"description=ticket subject line"`
	Description string `json:"description" jsonschema:"description=full ticket text written by the customer"`
}

var SchemaResolveTicket = utils.GetJSONSchema(ResolveTicketReq{})

// TicketRunner runs one ticket to a terminal state.
type TicketRunner interface {
	Run(ctx context.Context, subject, description string) (*workflow.Record, error)
	Config() workflow.Config
}

func resolveTicketTool(runner TicketRunner) Tool {
	return NewTool(ToolResolveTicket, DescResolveTicket, SchemaResolveTicket,
		func(ctx context.Context, req ResolveTicketReq) (*workflow.Record, error) {
			return runner.Run(ctx, req.Subject, req.Description)
		})
}

func escalationPolicyHandler(runner TicketRunner) server.PromptHandlerFunc {
	return func(ctx context.Context, request mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
		return &mcp.GetPromptResult{
			Description: DescEscalationRules,
			Messages: []mcp.PromptMessage{
				{
					Role: mcp.RoleUser,
					Content: mcp.TextContent{
						Type: "text",
						Text: EscalationPolicy(runner.Config()),
					},
				},
			},
		}, nil
	}
}

// EscalationPolicy describes the retry and escalation rules of cfg in plain text.
func EscalationPolicy(cfg workflow.Config) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Every ticket is classified into one of: %s (unknown labels fall back to %s).\n",
		strings.Join(cfg.Categories.Labels, ", "), cfg.Categories.Default)
	fmt.Fprintf(&sb, "The %d most relevant knowledge base documents of that category are used as context.\n", cfg.TopK)
	fmt.Fprintf(&sb, "A draft reply is reviewed after each attempt. A rejected draft is rewritten with the reviewer feedback appended to the context.\n")
	fmt.Fprintf(&sb, "After %d rejected attempts the ticket is escalated: an internal note is written, the ticket is logged for human support and the customer receives a reference id.\n", cfg.MaxAttempts)
	sb.WriteString("If the reviewer itself fails, the current draft is approved as is.")
	return sb.String()
}
