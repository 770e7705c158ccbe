package probe_worker_config

import (
	"time"

	"github.com/NordCoder/Probeus/internal/obs"
	kafkax "github.com/NordCoder/Probeus/internal/repository/kafka"
	pginfra "github.com/NordCoder/Probeus/internal/repository/postgres"
)

type KafkaIn struct {
	Brokers []string `mapstructure:"brokers"`
	Topic   string   `mapstructure:"topic"`
	GroupID string   `mapstructure:"group_id"`
}

func (k *KafkaIn) AsConsumerConfig() *kafkax.ConsumerConfig {
	return &kafkax.ConsumerConfig{
		Brokers: k.Brokers,
		Topic:   k.Topic,
		GroupID: k.GroupID,
	}
}

type Probe struct {
	Timeout     time.Duration `mapstructure:"timeout"`
	MaxParallel int           `mapstructure:"max_parallel"`
	UserAgent   string        `mapstructure:"user_agent"`
}

type Server struct {
	MetricsAddr string `mapstructure:"metrics_addr"`
}

type OTEL struct {
	Enable       bool    `mapstructure:"enable"`
	OTLPEndpoint string  `mapstructure:"otlp_endpoint"`
	ServiceName  string  `mapstructure:"service_name"`
	SampleRatio  float64 `mapstructure:"sample_ratio"`
}

func (oc *OTEL) AsOTELConfig() *obs.OTELConfig {
	return &obs.OTELConfig{
		Enable:      oc.Enable,
		Endpoint:    oc.OTLPEndpoint,
		ServiceName: oc.ServiceName,
		SampleRatio: oc.SampleRatio,
	}
}

type Config struct {
	DB       pginfra.Config `mapstructure:"db"`
	In       KafkaIn        `mapstructure:"kafka_in"`
	Probe    Probe          `mapstructure:"probe"`
	Server   Server         `mapstructure:"server"`
	OTEL     OTEL           `mapstructure:"otel"`
	LogLevel string         `mapstructure:"log_level"`
}
