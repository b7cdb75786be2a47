// Package kafkaconsumer drops cached cells touched by bin change events.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/IBM/sarama"

	"github.com/rolzie-7/Bin-map/internal/cache/keys"
	"github.com/rolzie-7/Bin-map/internal/core/model"
	obs "github.com/rolzie-7/Bin-map/internal/core/observability"
	"github.com/rolzie-7/Bin-map/internal/invalidation"
)

// Invalidator deletes cell entries and stamps them with token so that
// fills already in flight do not write them back.
type Invalidator interface {
	Invalidate(ctx context.Context, token string, keys ...string) (int64, error)
}

type CellMapper interface {
	Res() int
	CellOf(p model.LatLng) (string, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	store  Invalidator
	mapper CellMapper
	dedupe *versionDedupe
}

func New(cfg Config, logger *slog.Logger, store Invalidator, mapper CellMapper) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: logger.With("component", "kafka_consumer"),
		store:  store,
		mapper: mapper,
		dedupe: newVersionDedupe(cfg.DedupeSize),
	}
}

// Start joins the consumer group and processes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.store == nil || c.mapper == nil {
		return errors.New("kafkaconsumer: missing dependencies (store/mapper)")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne, logger: c.logger}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err,
					"brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
				select {
				case <-ctx.Done():
				case <-time.After(2 * time.Second):
				}
			}
		}
	}
}

// ProcessOne handles a single change event. Undecodable, invalid and stale
// events are skipped; only a failed delete is returned as an error.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncInvalidationSkipped("unknown", "decode_error")
		c.logger.Warn("skipping undecodable event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		obs.IncInvalidationSkipped(ev.Op, "invalid")
		c.logger.Warn("skipping invalid event",
			"bin_id", ev.BinID, "offset", msg.Offset, "err", err)
		return nil
	}
	if c.dedupe.seen(ev.BinID, ev.Version) {
		obs.IncInvalidationSkipped(ev.Op, "stale")
		c.logger.Debug("skipping stale event", "bin_id", ev.BinID, "version", ev.Version)
		return nil
	}

	delKeys, err := c.keysFor(ev)
	if err != nil {
		obs.IncInvalidationSkipped(ev.Op, "unmappable")
		c.logger.Warn("skipping unmappable event", "bin_id", ev.BinID, "err", err)
		return nil
	}

	n, err := c.store.Invalidate(ctx, token(ev), delKeys...)
	if err != nil {
		obs.ObserveInvalidation(ev.Op, 0, err)
		c.logger.Error("cache delete failed",
			"bin_id", ev.BinID, "partition", msg.Partition, "keys", len(delKeys), "err", err)
		return fmt.Errorf("invalidate cells: %w", err)
	}
	c.dedupe.record(ev.BinID, ev.Version)

	obs.ObserveInvalidation(ev.Op, int(n), nil)
	c.logger.Debug("invalidated cells",
		"bin_id", ev.BinID, "op", ev.Op, "version", ev.Version, "keys", len(delKeys), "deleted", n)
	return nil
}

// token is unique per change, so a fill can tell it was overtaken.
func token(ev invalidation.Event) string {
	return fmt.Sprintf("%s@%d", ev.BinID, ev.Version)
}

// keysFor returns the cache keys of every cell the change touches.
func (c *Consumer) keysFor(ev invalidation.Event) ([]string, error) {
	var out []string
	for _, p := range ev.Positions() {
		cell, err := c.mapper.CellOf(p)
		if err != nil {
			return nil, err
		}
		k := keys.CellKey(c.cfg.Table, c.mapper.Res(), cell)
		if !slices.Contains(out, k) {
			out = append(out, k)
		}
	}
	return out, nil
}
