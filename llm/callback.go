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

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/ticketflow/internal/log"
)

// CallbackHandler traces chain components to the debug log.
type CallbackHandler struct{}

var _ callbacks.Handler = (*CallbackHandler)(nil)

func (h CallbackHandler) OnStart(ctx context.Context, info *callbacks.RunInfo, input callbacks.CallbackInput) context.Context {
	log.Debug("<OnStart> %s", runName(info))
	if in := model.ConvCallbackInput(input); in != nil {
		for _, msg := range in.Messages {
			log.Debug("\t%s: %s", msg.Role, msg.Content)
		}
	}
	return ctx
}

func (h CallbackHandler) OnEnd(ctx context.Context, info *callbacks.RunInfo, output callbacks.CallbackOutput) context.Context {
	out := model.ConvCallbackOutput(output)
	if out == nil || out.Message == nil {
		log.Debug("<OnEnd> %s", runName(info))
		return ctx
	}
	if out.TokenUsage != nil {
		log.Debug("<OnEnd> %s tokens prompt=%d completion=%d\n\tOUTPUT: %s", runName(info),
			out.TokenUsage.PromptTokens, out.TokenUsage.CompletionTokens, out.Message.Content)
	} else {
		log.Debug("<OnEnd> %s\n\tOUTPUT: %s", runName(info), out.Message.Content)
	}
	return ctx
}

func (h CallbackHandler) OnError(ctx context.Context, info *callbacks.RunInfo, err error) context.Context {
	log.Error("<OnError> %s: %v", runName(info), err)
	return ctx
}

func (h CallbackHandler) OnStartWithStreamInput(ctx context.Context, info *callbacks.RunInfo,
	input *schema.StreamReader[callbacks.CallbackInput]) context.Context {
	input.Close()
	return ctx
}

func (h CallbackHandler) OnEndWithStreamOutput(ctx context.Context, info *callbacks.RunInfo,
	output *schema.StreamReader[callbacks.CallbackOutput]) context.Context {
	output.Close()
	return ctx
}

func runName(info *callbacks.RunInfo) string {
	if info == nil {
		return "<nil>"
	}
	if info.Name != "" {
		return info.Name
	}
	return string(info.Component)
}
