// Package kafkamod is a sample output module (spec §4.9 C10 vtable
// implementor) forwarding rendered messages to an Apache Kafka topic via
// IBM/sarama, grounded on the teacher's internal/sinks.KafkaSink.
package kafkamod

import (
	"context"
	"fmt"

	"github.com/IBM/sarama"
	"github.com/sirupsen/logrus"

	"github.com/rsyslog-core/pipeline/pkg/registry"
)

// Params configures one Action instance of the Kafka module (the
// map[string]interface{} registry.Module.NewInstance receives).
type Params struct {
	Brokers     []string
	Topic       string
	Compression string // "none", "gzip", "snappy", "lz4", "zstd"
	RequiredAcks int16
}

// Module implements registry.Module for Kafka output.
type Module struct {
	logger *logrus.Logger
}

// New returns a registry.Module producing to Kafka.
func New(logger *logrus.Logger) *Module {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Module{logger: logger}
}

func (m *Module) Name() string                     { return "omkafka" }
func (m *Module) SupportedVersion() int             { return 1 }
func (m *Module) Rendering() registry.Rendering     { return registry.RenderBytes }

type instance struct {
	params   Params
	producer sarama.SyncProducer
}

// NewInstance parses params into Params, builds a sarama config mirroring
// the teacher's NewKafkaSink compression/ack wiring, and opens a
// SyncProducer so DoAction's OK/SUSPEND per-call mapping lines up exactly
// with one produced message.
func (m *Module) NewInstance(raw map[string]interface{}) (registry.InstanceState, error) {
	p, err := parseParams(raw)
	if err != nil {
		return nil, fmt.Errorf("omkafka: %w", err)
	}

	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true
	if p.RequiredAcks != 0 {
		cfg.Producer.RequiredAcks = sarama.RequiredAcks(p.RequiredAcks)
	} else {
		cfg.Producer.RequiredAcks = sarama.WaitForLocal
	}

	switch p.Compression {
	case "gzip":
		cfg.Producer.Compression = sarama.CompressionGZIP
	case "snappy":
		cfg.Producer.Compression = sarama.CompressionSnappy
	case "lz4":
		cfg.Producer.Compression = sarama.CompressionLZ4
	case "zstd":
		cfg.Producer.Compression = sarama.CompressionZSTD
	default:
		cfg.Producer.Compression = sarama.CompressionNone
	}

	producer, err := sarama.NewSyncProducer(p.Brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("omkafka: new producer: %w", err)
	}

	m.logger.WithFields(logrus.Fields{"brokers": p.Brokers, "topic": p.Topic}).Info("omkafka instance started")
	return &instance{params: p, producer: producer}, nil
}

func (m *Module) NewWorker(inst registry.InstanceState) (registry.WorkerState, error) {
	i, ok := inst.(*instance)
	if !ok {
		return nil, fmt.Errorf("omkafka: invalid instance state")
	}
	return i, nil
}

// TryResume is optimistic: sarama's SyncProducer manages its own broker
// reconnection internally, so the real test of health is the next
// DoAction call's SendMessage result.
func (m *Module) TryResume(ctx context.Context, w registry.WorkerState) registry.Result {
	return registry.ResultOK
}

func (m *Module) DoAction(ctx context.Context, w registry.WorkerState, rendered interface{}) registry.Result {
	i := w.(*instance)
	payload, ok := rendered.([]byte)
	if !ok {
		return registry.ResultDiscard
	}

	msg := &sarama.ProducerMessage{
		Topic: i.params.Topic,
		Value: sarama.ByteEncoder(payload),
	}

	_, _, err := i.producer.SendMessage(msg)
	if err != nil {
		m.logger.WithError(err).WithField("topic", i.params.Topic).Warn("omkafka: send failed")
		return registry.ResultSuspend
	}
	return registry.ResultOK
}

func (m *Module) BeginTransaction(registry.WorkerState) error  { return nil }
func (m *Module) CommitTransaction(registry.WorkerState) error { return nil }

func (m *Module) FreeWorker(registry.WorkerState) error { return nil }

func (m *Module) FreeInstance(inst registry.InstanceState) error {
	i, ok := inst.(*instance)
	if !ok {
		return nil
	}
	return i.producer.Close()
}

func (m *Module) ModExit() error { return nil }

func parseParams(raw map[string]interface{}) (Params, error) {
	var p Params
	brokers, _ := raw["brokers"].([]string)
	if len(brokers) == 0 {
		if ifaces, ok := raw["brokers"].([]interface{}); ok {
			for _, b := range ifaces {
				if s, ok := b.(string); ok {
					brokers = append(brokers, s)
				}
			}
		}
	}
	if len(brokers) == 0 {
		return p, fmt.Errorf("no brokers configured")
	}
	p.Brokers = brokers

	topic, _ := raw["topic"].(string)
	if topic == "" {
		return p, fmt.Errorf("no topic configured")
	}
	p.Topic = topic

	if c, ok := raw["compression"].(string); ok {
		p.Compression = c
	}
	if a, ok := raw["required_acks"].(int); ok {
		p.RequiredAcks = int16(a)
	}
	return p, nil
}
