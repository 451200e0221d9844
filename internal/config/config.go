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

// Package config loads the ticketflow settings: built-in defaults, then an
// optional YAML file, then environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/cloudwego/ticketflow/llm"
)

// DefaultPath is read when no --config flag is given. A missing file there is not an error.
const DefaultPath = "config/settings.yaml"

type Config struct {
	LLM           llm.ModelConfig  `yaml:"llm"`
	Workflow      WorkflowConfig   `yaml:"workflow"`
	KnowledgeBase KnowledgeConfig  `yaml:"knowledge_base"`
	Escalation    EscalationConfig `yaml:"escalation"`
	Prompts       PromptsConfig    `yaml:"prompts"`
	Log           LogConfig        `yaml:"log"`
	Metrics       MetricsConfig    `yaml:"metrics"`
}

type WorkflowConfig struct {
	MaxAttempts     int           `yaml:"max_attempts" validate:"min=1"`
	TopK            int           `yaml:"top_k" validate:"min=1"`
	Categories      []string      `yaml:"categories" validate:"min=1,dive,required"`
	DefaultCategory string        `yaml:"default_category" validate:"required"`
	StageTimeout    time.Duration `yaml:"stage_timeout" validate:"min=0"`
	// Parallelism bounds concurrent tickets in batch runs.
	Parallelism int `yaml:"parallelism" validate:"min=1"`
}

type KnowledgeConfig struct {
	Path  string `yaml:"path" validate:"required"`
	Watch bool   `yaml:"watch"`
}

type EscalationConfig struct {
	// LogFile is the CSV escalation log, empty disables it.
	LogFile  string         `yaml:"log_file"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Postgres PostgresConfig `yaml:"postgres"`
}

type KafkaConfig struct {
	Brokers []string `yaml:"brokers" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic" validate:"required_with=Brokers"`
}

type PostgresConfig struct {
	DSN   string `yaml:"dsn"`
	Table string `yaml:"table" validate:"omitempty,alphanum"`
}

type PromptsConfig struct {
	// Dir may hold <name>.md overrides of the embedded prompts.
	Dir string `yaml:"dir"`
}

type LogConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn warning error"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr" validate:"omitempty,hostname_port"`
}

func Default() *Config {
	temp := float32(0.7)
	return &Config{
		LLM: llm.ModelConfig{
			APIType:     llm.ModelTypeOpenAI,
			ModelName:   "gpt-4o-mini",
			Temperature: &temp,
			MaxTokens:   1000,
			Timeout:     60 * time.Second,
			Retries:     3,
		},
		Workflow: WorkflowConfig{
			MaxAttempts:     3,
			TopK:            3,
			Categories:      append([]string(nil), workflow.DefaultCategories.Labels...),
			DefaultCategory: workflow.DefaultCategories.Default,
			StageTimeout:    2 * time.Minute,
			Parallelism:     4,
		},
		KnowledgeBase: KnowledgeConfig{
			Path: "data/knowledge_base",
		},
		Escalation: EscalationConfig{
			LogFile: "data/escalation_log.csv",
			Kafka:   KafkaConfig{Topic: "ticket-escalations"},
		},
		Log: LogConfig{Level: "info"},
	}
}

// Load builds the config from defaults, the YAML file at path and the environment.
// An empty path reads DefaultPath if it exists.
func Load(path string) (*Config, error) {
	cfg := Default()
	required := path != ""
	if path == "" {
		path = DefaultPath
	}
	bs, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(bs, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !required:
	default:
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	num := func(key string, dst *int) error {
		v, ok := os.LookupEnv(key)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("env %s: %w", key, err)
		}
		*dst = n
		return nil
	}

	if v, ok := os.LookupEnv("TICKETFLOW_LLM_TYPE"); ok {
		c.LLM.APIType = llm.NewModelType(v)
	}
	str("TICKETFLOW_LLM_MODEL", &c.LLM.ModelName)
	str("TICKETFLOW_LLM_BASE_URL", &c.LLM.BaseURL)
	str("TICKETFLOW_LLM_API_KEY", &c.LLM.APIKey)
	if c.LLM.APIKey == "" {
		str("OPENAI_API_KEY", &c.LLM.APIKey)
	}
	if err := num("TICKETFLOW_MAX_ATTEMPTS", &c.Workflow.MaxAttempts); err != nil {
		return err
	}
	if err := num("TICKETFLOW_TOP_K", &c.Workflow.TopK); err != nil {
		return err
	}
	if v, ok := os.LookupEnv("TICKETFLOW_STAGE_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("env TICKETFLOW_STAGE_TIMEOUT: %w", err)
		}
		c.Workflow.StageTimeout = d
	}
	str("TICKETFLOW_KNOWLEDGE_BASE", &c.KnowledgeBase.Path)
	str("TICKETFLOW_PROMPTS_DIR", &c.Prompts.Dir)
	str("TICKETFLOW_ESCALATION_LOG", &c.Escalation.LogFile)
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		c.Escalation.Kafka.Brokers = splitList(v)
	}
	str("TICKETFLOW_KAFKA_TOPIC", &c.Escalation.Kafka.Topic)
	str("TICKETFLOW_POSTGRES_DSN", &c.Escalation.Postgres.DSN)
	str("TICKETFLOW_LOG_LEVEL", &c.Log.Level)
	str("TICKETFLOW_METRICS_ADDR", &c.Metrics.Addr)
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(func(sl validator.StructLevel) {
		w := sl.Current().Interface().(WorkflowConfig)
		for _, c := range w.Categories {
			if strings.EqualFold(c, w.DefaultCategory) {
				return
			}
		}
		sl.ReportError(w.DefaultCategory, "default_category", "DefaultCategory", "in_categories", "")
	}, WorkflowConfig{})
	return v
}

func (c *Config) Validate() error {
	if c.LLM.APIType == llm.ModelTypeUnknown {
		return errors.New("invalid config: llm.type is unknown")
	}
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// CategorySet returns the category set, the default label spelled as in Categories.
func (w WorkflowConfig) CategorySet() workflow.CategorySet {
	set := workflow.CategorySet{Labels: append([]string(nil), w.Categories...), Default: w.DefaultCategory}
	for _, l := range w.Categories {
		if strings.EqualFold(l, w.DefaultCategory) {
			set.Default = l
		}
	}
	return set
}

// WorkflowConfig projects the engine settings.
func (c *Config) WorkflowConfig() workflow.Config {
	return workflow.Config{
		MaxAttempts:  c.Workflow.MaxAttempts,
		Categories:   c.Workflow.CategorySet(),
		TopK:         c.Workflow.TopK,
		StageTimeout: c.Workflow.StageTimeout,
	}
}
