package kafkaconsumer

import (
	"time"

	"github.com/rolzie-7/Bin-map/internal/core/config"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	Table               string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
	// DedupeSize bounds the per-bin version memory.
	DedupeSize int
}

// FromConfig fills the consumer settings from the service configuration.
func FromConfig(inv config.InvalidationCfg, table string) Config {
	return Config{
		Brokers:             inv.BrokerList(),
		Topic:               inv.Topic,
		GroupID:             inv.GroupID,
		Table:               table,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: true,
		DedupeSize:          4096,
	}
}
