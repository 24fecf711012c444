// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package audit

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/IBM/sarama"
	"github.com/xdg-go/scram"

	"github.com/LeeDigitalWorks/dirsync/pkg/logger"
	"github.com/LeeDigitalWorks/dirsync/pkg/reconcile"
)

var saramaLogOnce sync.Once

// KafkaSink publishes summaries to a Kafka topic keyed by run ID.
type KafkaSink struct {
	producer sarama.SyncProducer
	topic    string
}

var _ Sink = (*KafkaSink)(nil)

// KafkaConfig configures the Kafka sink.
type KafkaConfig struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string

	// Topic is the Kafka topic for summaries (default: "dirsync-runs").
	Topic string

	// RequiredAcks: 0=none, 1=leader, -1=all (default: -1).
	RequiredAcks int

	// WriteTimeout is the timeout for write operations (default: 10s).
	WriteTimeout time.Duration

	// TLS enables TLS for broker connections.
	TLS bool

	// SASLMechanism enables SASL: PLAIN, SCRAM-SHA-256 or SCRAM-SHA-512.
	SASLMechanism string
	SASLUsername  string
	SASLPassword  string
}

// DefaultKafkaConfig returns a KafkaConfig with sensible defaults.
func DefaultKafkaConfig(brokers []string) KafkaConfig {
	return KafkaConfig{
		Brokers:      brokers,
		Topic:        "dirsync-runs",
		RequiredAcks: -1,
		WriteTimeout: 10 * time.Second,
	}
}

// saramaConfig builds the producer configuration.
func (cfg KafkaConfig) saramaConfig() *sarama.Config {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true
	config.Producer.Idempotent = cfg.RequiredAcks == -1
	if config.Producer.Idempotent {
		config.Net.MaxOpenRequests = 1
	}

	switch cfg.RequiredAcks {
	case 0:
		config.Producer.RequiredAcks = sarama.NoResponse
	case 1:
		config.Producer.RequiredAcks = sarama.WaitForLocal
	default:
		config.Producer.RequiredAcks = sarama.WaitForAll
	}

	if cfg.WriteTimeout > 0 {
		config.Producer.Timeout = cfg.WriteTimeout
		config.Net.WriteTimeout = cfg.WriteTimeout
		config.Net.ReadTimeout = cfg.WriteTimeout
	}

	if cfg.TLS {
		config.Net.TLS.Enable = true
		config.Net.TLS.Config = &tls.Config{}
	}

	if cfg.SASLMechanism != "" {
		config.Net.SASL.Enable = true
		config.Net.SASL.User = cfg.SASLUsername
		config.Net.SASL.Password = cfg.SASLPassword

		switch cfg.SASLMechanism {
		case "SCRAM-SHA-256":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA256
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{mechanism: scram.SHA256}
			}
		case "SCRAM-SHA-512":
			config.Net.SASL.Mechanism = sarama.SASLTypeSCRAMSHA512
			config.Net.SASL.SCRAMClientGeneratorFunc = func() sarama.SCRAMClient {
				return &scramClient{mechanism: scram.SHA512}
			}
		default:
			config.Net.SASL.Mechanism = sarama.SASLTypePlaintext
		}
	}

	config.Producer.Partitioner = sarama.NewHashPartitioner
	return config
}

// NewKafkaSink creates a synchronous producer for cfg.
func NewKafkaSink(cfg KafkaConfig) (*KafkaSink, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("at least one Kafka broker is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "dirsync-runs"
	}

	saramaLogOnce.Do(func() { sarama.Logger = logger.SaramaAdapter{} })

	producer, err := sarama.NewSyncProducer(cfg.Brokers, cfg.saramaConfig())
	if err != nil {
		return nil, fmt.Errorf("kafka producer creation failed: %w", err)
	}

	logger.Info().
		Strs("brokers", cfg.Brokers).
		Str("topic", cfg.Topic).
		Int("required_acks", cfg.RequiredAcks).
		Msg("kafka audit sink connected")

	return &KafkaSink{producer: producer, topic: cfg.Topic}, nil
}

func (k *KafkaSink) Name() string { return "kafka" }

func (k *KafkaSink) Record(ctx context.Context, s *reconcile.RunSummary) (err error) {
	start := time.Now()
	defer func() { observe("kafka", start, err) }()

	data, err := Encode(s)
	if err != nil {
		return err
	}

	partition, offset, err := k.producer.SendMessage(&sarama.ProducerMessage{
		Topic: k.topic,
		Key:   sarama.StringEncoder(s.RunID),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("status"), Value: []byte(s.Status)},
		},
	})
	if err != nil {
		return fmt.Errorf("kafka publish: %w", err)
	}

	logger.Debug().
		Str("topic", k.topic).
		Str("run_id", s.RunID).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("recorded run summary to kafka")
	return nil
}

// Close closes the Kafka producer.
func (k *KafkaSink) Close() error {
	if k.producer != nil {
		return k.producer.Close()
	}
	return nil
}

// scramClient implements the sarama.SCRAMClient interface for SCRAM authentication.
type scramClient struct {
	mechanism    scram.HashGeneratorFcn
	conversation *scram.ClientConversation
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.mechanism.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}
	c.conversation = client.NewConversation()
	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conversation.Done()
}
