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
	"encoding/json"

	"github.com/cloudwego/ticketflow/internal/log"
	"github.com/cloudwego/ticketflow/internal/workflow"
	"github.com/segmentio/kafka-go"
)

var _ workflow.EscalationSink = (*KafkaSink)(nil)

// messageWriter is the part of *kafka.Writer the sink needs.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes escalations as JSON events keyed by ticket id.
type KafkaSink struct {
	writer messageWriter
	topic  string
}

// NewKafkaSink creates a sink writing to topic on brokers.
func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(brokers...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireAll,
			AllowAutoTopicCreation: true,
		},
		topic: topic,
	}
}

// Record implements workflow.EscalationSink.
func (s *KafkaSink) Record(ctx context.Context, rec workflow.EscalationRecord) error {
	msg, err := encodeMessage(rec)
	if err != nil {
		return err
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return err
	}
	log.Debug("Sent escalation to Kafka topic %s: %s", s.topic, rec.TicketID)
	return nil
}

// Close closes the underlying writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func encodeMessage(rec workflow.EscalationRecord) (kafka.Message, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return kafka.Message{}, err
	}
	return kafka.Message{
		Key:   []byte(rec.TicketID),
		Value: data,
		Headers: []kafka.Header{
			{Key: "category", Value: []byte(rec.Category)},
		},
	}, nil
}
