package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/rolzie-7/Bin-map/internal/cache/keys"
	"github.com/rolzie-7/Bin-map/internal/core/model"
	"github.com/rolzie-7/Bin-map/internal/invalidation"
	h3mapper "github.com/rolzie-7/Bin-map/internal/mapper/h3"
)

type fakeStore struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	seenKeys   [][]string
	tokens    []string
}

func (f *fakeStore) Invalidate(_ context.Context, token string, keys ...string) (int64, error) {
	f.mu.Lock()
	f.seenKeys = append(f.seenKeys, keys)
	f.tokens = append(f.tokens, token)
	f.mu.Unlock()
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return 0, errors.New("boom")
	}
	return int64(len(keys)), nil
}

func (f *fakeStore) calls() [][]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([][]string(nil), f.seenKeys...)
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "bin-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func ptr(v float64) *float64 { return &v }

func eventBytes(binID string, version uint64, lat, lng float64) []byte {
	ev := invalidation.Event{
		Version: version, Op: invalidation.OpUpdate, BinID: binID, TS: time.Now().UTC(),
		Lat: ptr(lat), Lng: ptr(lng),
	}
	b, _ := json.Marshal(ev)
	return b
}

func msgAt(off int64, value []byte) *sarama.ConsumerMessage {
	return &sarama.ConsumerMessage{Topic: "bin-changes", Partition: 0, Offset: off, Value: value}
}

func newConsumerForTest(t *testing.T, store Invalidator) (*Consumer, *h3mapper.Mapper) {
	t.Helper()
	m, err := h3mapper.New(9)
	if err != nil {
		t.Fatalf("mapper: %v", err)
	}
	cfg := Config{Brokers: []string{"x"}, Topic: "bin-changes", GroupID: "g", Table: "Bins"}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(cfg, logger, store, m), m
}

func cellKey(t *testing.T, m *h3mapper.Mapper, lat, lng float64) string {
	t.Helper()
	c, err := m.CellOf(model.LatLng{Lat: lat, Lng: lng})
	if err != nil {
		t.Fatalf("CellOf: %v", err)
	}
	return keys.CellKey("Bins", m.Res(), c)
}

func TestProcessOne_MovedBinDropsBothCells(t *testing.T) {
	fs := &fakeStore{}
	c, m := newConsumerForTest(t, fs)

	ev := invalidation.Event{
		Version: 2, Op: invalidation.OpUpdate, BinID: "7", TS: time.Now().UTC(),
		Lat: ptr(51.5010), Lng: ptr(-0.1800), PrevLat: ptr(51.4950), PrevLng: ptr(-0.1700),
	}
	body, _ := json.Marshal(ev)
	if err := c.ProcessOne(context.Background(), msgAt(1, body)); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}

	calls := fs.calls()
	if len(calls) != 1 {
		t.Fatalf("Invalidate calls=%d want 1", len(calls))
	}
	want := []string{cellKey(t, m, 51.5010, -0.1800), cellKey(t, m, 51.4950, -0.1700)}
	if len(calls[0]) != 2 || calls[0][0] != want[0] || calls[0][1] != want[1] {
		t.Fatalf("deleted %v want %v", calls[0], want)
	}
	if fs.tokens[0] != "7@2" {
		t.Fatalf("token=%q want 7@2", fs.tokens[0])
	}
}

func TestProcessOne_StaleVersionSkipped(t *testing.T) {
	fs := &fakeStore{}
	c, _ := newConsumerForTest(t, fs)
	ctx := context.Background()

	for i, v := range []uint64{5, 5, 4, 6} {
		if err := c.ProcessOne(ctx, msgAt(int64(i), eventBytes("9", v, 51.5, -0.18))); err != nil {
			t.Fatalf("ProcessOne v%d: %v", v, err)
		}
	}
	if got := len(fs.calls()); got != 2 {
		t.Fatalf("Invalidate calls=%d want 2 (v5 and v6)", got)
	}
}

func TestProcessOne_BadPayloadsAreSkipped(t *testing.T) {
	fs := &fakeStore{}
	c, _ := newConsumerForTest(t, fs)
	ctx := context.Background()

	if err := c.ProcessOne(ctx, msgAt(1, []byte("{not json"))); err != nil {
		t.Fatalf("decode error should be skipped, got %v", err)
	}
	invalid, _ := json.Marshal(invalidation.Event{Version: 1, Op: "upsert", BinID: "1", TS: time.Now()})
	if err := c.ProcessOne(ctx, msgAt(2, invalid)); err != nil {
		t.Fatalf("invalid event should be skipped, got %v", err)
	}
	if len(fs.calls()) != 0 {
		t.Fatalf("skipped events must not touch the cache")
	}
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fs := &fakeStore{}
	c, _ := newConsumerForTest(t, fs)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msgAt(10, eventBytes("1", 1, 51.5, -0.18))
	ch <- msgAt(11, eventBytes("2", 1, 51.5, -0.18))
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fs := &fakeStore{}
	fs.failFirst.Store(true)
	c, _ := newConsumerForTest(t, fs)
	ctx := context.Background()

	msg := msgAt(5, eventBytes("3", 1, 51.5, -0.18))
	if err := c.ProcessOne(ctx, msg); err == nil {
		t.Fatalf("expected error on first attempt")
	}

	// the failed attempt must not count as applied
	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
	if got := len(fs.calls()); got != 2 {
		t.Fatalf("Invalidate calls=%d want 2", got)
	}
}

func TestFailedMessageIsNotMarked(t *testing.T) {
	fs := &fakeStore{}
	fs.failFirst.Store(true)
	c, _ := newConsumerForTest(t, fs)

	s := &sess{ctx: t.Context()}
	g := &groupHandler{process: c.ProcessOne}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- msgAt(1, eventBytes("4", 1, 51.5, -0.18))
	ch <- msgAt(2, eventBytes("5", 1, 51.5, -0.18))
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err == nil {
		t.Fatalf("expected claim to stop on failure")
	}
	if len(s.marked) != 0 {
		t.Fatalf("marked=%v want none", s.marked)
	}
}

func TestMultiPartition_Parallel(t *testing.T) {
	fs := &fakeStore{}
	c, _ := newConsumerForTest(t, fs)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- msgAt(1, eventBytes("a", 1, 51.5, -0.18))
	p0 <- msgAt(2, eventBytes("a", 2, 51.5, -0.18))
	p1 <- msgAt(1, eventBytes("b", 1, 51.49, -0.17))
	p1 <- msgAt(2, eventBytes("b", 2, 51.49, -0.17))
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}

func TestVersionDedupe_EvictsOldest(t *testing.T) {
	d := newVersionDedupe(1)
	d.record("a", 3)
	d.record("b", 1)
	if d.seen("a", 2) {
		t.Fatalf("evicted key should be treated as unseen")
	}
	if !d.seen("b", 1) {
		t.Fatalf("b@1 should be seen")
	}
}
