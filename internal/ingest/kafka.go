// Package ingest consumes raw sensor readings from Kafka and feeds them
// into the assessment pipeline.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/aquasentry/aquasentry/internal/logger"
	"github.com/aquasentry/aquasentry/internal/metrics"
	"github.com/aquasentry/aquasentry/internal/models"
)

const sourceName = "kafka"

// Submitter accepts raw readings for assessment. The pipeline engine
// satisfies this.
type Submitter interface {
	Submit(raw models.RawReading, source string) error
}

// Config holds Kafka consumer settings.
type Config struct {
	Brokers []string
	Topic   string
	GroupID string
}

// Consumer reads sensor readings from a Kafka topic as part of a consumer
// group and submits them into the pipeline.
type Consumer struct {
	reader *kafka.Reader
	sub    Submitter
	log    *logger.Logger
}

// NewConsumer builds a consumer-group reader for the configured topic.
func NewConsumer(cfg Config, sub Submitter) (*Consumer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("ingest: no brokers configured")
	}
	if cfg.Topic == "" {
		return nil, errors.New("ingest: topic is required")
	}
	if sub == nil {
		return nil, errors.New("ingest: submitter is required")
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1e3,
		MaxBytes: 10e6,
		MaxWait:  500 * time.Millisecond,
	})

	return &Consumer{
		reader: reader,
		sub:    sub,
		log:    logger.Component("ingest"),
	}, nil
}

// Run consumes until ctx is cancelled. Every fetched message is committed,
// including poison payloads and readings the validator rejects, so the
// consumer group never wedges on a bad record.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("fetch message: %w", err)
		}

		c.consume(m.Offset, m.Value)

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("commit offset: %w", err)
		}
	}
}

// consume decodes one message and submits it. Decode failures count as
// poison; validation rejections are already counted by the validator.
func (c *Consumer) consume(offset int64, value []byte) {
	var raw models.RawReading
	if err := json.Unmarshal(value, &raw); err != nil {
		metrics.PoisonMessages.Inc()
		c.log.Warn("skipping undecodable message at offset %d: %v", offset, err)
		return
	}

	if err := c.sub.Submit(raw, sourceName); err != nil {
		c.log.Warn("reading rejected at offset %d: %v", offset, err)
	}
}

// Close shuts the Kafka reader down. Cancel the Run context first.
func (c *Consumer) Close() error {
	return c.reader.Close()
}
