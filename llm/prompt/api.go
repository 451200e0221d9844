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

package prompt

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"text/template"
)

type Prompt interface {
	String() string
}

type TextPrompt string

func (p TextPrompt) String() string {
	return string(p)
}

func NewTextPrompt(content string) Prompt {
	return TextPrompt(content)
}

// Template is a system + user message pair rendered with go-template syntax.
type Template struct {
	Name   string
	System Prompt
	User   Prompt
}

const (
	NameClassifier = "classifier"
	NameGenerator  = "generator"
	NameReviewer   = "reviewer"
	NameEscalation = "escalation"
)

// Separator splits the system part from the user part of a prompt file.
const Separator = "\n---\n"

//go:embed classifier.md
var PromptClassifier string

//go:embed generator.md
var PromptGenerator string

//go:embed reviewer.md
var PromptReviewer string

//go:embed escalation.md
var PromptEscalation string

var defaults = map[string]string{
	NameClassifier: PromptClassifier,
	NameGenerator:  PromptGenerator,
	NameReviewer:   PromptReviewer,
	NameEscalation: PromptEscalation,
}

// Parse splits text on the first Separator and checks both parts are valid templates.
// Text without a separator is a user-only template.
func Parse(name, text string) (Template, error) {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var sys, user string
	if i := strings.Index(text, Separator); i >= 0 {
		sys, user = text[:i], text[i+len(Separator):]
	} else {
		user = text
	}
	sys, user = strings.TrimSpace(sys), strings.TrimSpace(user)
	if user == "" {
		return Template{}, fmt.Errorf("prompt %s: user part is empty", name)
	}
	for _, part := range []string{sys, user} {
		if _, err := template.New(name).Parse(part); err != nil {
			return Template{}, fmt.Errorf("prompt %s: %w", name, err)
		}
	}
	return Template{Name: name, System: TextPrompt(sys), User: TextPrompt(user)}, nil
}

// Default returns the embedded template of name.
func Default(name string) (Template, error) {
	text, ok := defaults[name]
	if !ok {
		return Template{}, fmt.Errorf("unknown prompt %q", name)
	}
	return Parse(name, text)
}

// Load reads <dir>/<name>.md if it exists, otherwise falls back to the embedded template.
func Load(dir, name string) (Template, error) {
	if dir == "" {
		return Default(name)
	}
	bs, err := os.ReadFile(filepath.Join(dir, name+".md"))
	if errors.Is(err, os.ErrNotExist) {
		return Default(name)
	}
	if err != nil {
		return Template{}, fmt.Errorf("read prompt %s: %w", name, err)
	}
	return Parse(name, string(bs))
}

// Set holds the templates of every agent.
type Set struct {
	Classifier Template
	Generator  Template
	Reviewer   Template
	Escalation Template
}

func LoadSet(dir string) (Set, error) {
	var (
		s   Set
		err error
	)
	for name, dst := range map[string]*Template{
		NameClassifier: &s.Classifier,
		NameGenerator:  &s.Generator,
		NameReviewer:   &s.Reviewer,
		NameEscalation: &s.Escalation,
	} {
		if *dst, err = Load(dir, name); err != nil {
			return Set{}, err
		}
	}
	return s, nil
}
