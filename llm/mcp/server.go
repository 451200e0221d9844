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
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

type ServerOptions struct {
	ServerName    string
	ServerVersion string
	Verbose       bool
	Runner        TicketRunner
}

type Server struct {
	Server *server.MCPServer
}

func NewServer(opts ServerOptions) *Server {
	sopts := []server.ServerOption{
		server.WithToolCapabilities(false),
		server.WithPromptCapabilities(false),
		server.WithRecovery(),
	}
	if opts.Verbose {
		sopts = append(sopts, server.WithLogging())
	}
	s := server.NewMCPServer(opts.ServerName, opts.ServerVersion, sopts...)

	for _, t := range []Tool{resolveTicketTool(opts.Runner)} {
		s.AddTool(t.Tool, t.Handler)
	}
	s.AddPrompt(mcp.NewPrompt(PromptEscalation, mcp.WithPromptDescription(DescEscalationRules)),
		escalationPolicyHandler(opts.Runner))

	return &Server{Server: s}
}

// ServeStdio blocks serving JSON-RPC over stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.Server)
}
