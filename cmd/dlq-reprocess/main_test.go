package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
)

func TestSplitList(t *testing.T) {
	brokers := splitList(" kafka-1:9092, ,kafka-2:9092 ")
	if len(brokers) != 2 {
		t.Fatalf("unexpected values count: got=%d want=2", len(brokers))
	}
	if brokers[0] != "kafka-1:9092" || brokers[1] != "kafka-2:9092" {
		t.Fatalf("unexpected values: %+v", brokers)
	}
	if got := splitList("  ,  "); len(got) != 0 {
		t.Fatalf("expected empty result, got %+v", got)
	}
}

func TestWantsEventType(t *testing.T) {
	all := config{}
	if !all.wantsEventType("order.changed") || !all.wantsEventType("") {
		t.Fatal("empty filter must pass everything")
	}

	filtered := config{eventTypes: map[string]bool{"order.canceled": true}}
	if !filtered.wantsEventType("order.canceled") {
		t.Fatal("listed event type must pass")
	}
	if filtered.wantsEventType("order.changed") {
		t.Fatal("unlisted event type must be rejected")
	}
	if filtered.wantsEventType("") {
		t.Fatal("record without recognized type must be rejected by active filter")
	}
}

func TestReplayStats_Merge(t *testing.T) {
	var total replayStats
	total.merge(replayStats{processed: 2, replayed: 1, byType: map[string]int{"order.changed": 1}})
	total.merge(replayStats{processed: 3, replayed: 2, skipped: 1, byType: map[string]int{"order.changed": 1, "order.canceled": 1}})

	if total.processed != 5 || total.replayed != 3 || total.skipped != 1 {
		t.Fatalf("unexpected totals: %+v", total)
	}
	if total.byType["order.changed"] != 2 || total.byType["order.canceled"] != 1 {
		t.Fatalf("unexpected per-type counts: %+v", total.byType)
	}
}

func TestExtractReplayCandidate_ConsumerRecord(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"original_topic": "tcs.order.events",
		"original_key":   "order-1",
		"original_value": `{"event_type":"order.changed","order_id":"order-1"}`,
	})
	if err != nil {
		t.Fatalf("marshal payload failed: %v", err)
	}

	got, ok, err := extractReplayCandidate(&sarama.ConsumerMessage{Value: raw}, "fallback-topic")
	if err != nil {
		t.Fatalf("extractReplayCandidate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "tcs.order.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if got.eventType != "order.changed" {
		t.Fatalf("unexpected event type: %s", got.eventType)
	}
	if string(got.value) != `{"event_type":"order.changed","order_id":"order-1"}` {
		t.Fatalf("unexpected replay value: %s", string(got.value))
	}
}

func TestExtractReplayCandidate_OutboxRecord(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.changed",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-1",
			"event_type":     "order.changed",
			"payload": map[string]any{
				"status": "paid",
			},
			"publish_error": "timeout",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	got, ok, err := extractReplayCandidate(&sarama.ConsumerMessage{Value: raw}, "tcs.order.events")
	if err != nil {
		t.Fatalf("extractReplayCandidate failed: %v", err)
	}
	if !ok {
		t.Fatal("expected replay candidate")
	}
	if got.topic != "tcs.order.events" {
		t.Fatalf("unexpected topic: %s", got.topic)
	}
	if got.key != "order-1" {
		t.Fatalf("unexpected key: %s", got.key)
	}
	if got.eventType != "order.changed" {
		t.Fatalf("unexpected event type: %s", got.eventType)
	}

	var replay eventEnvelope
	if err := json.Unmarshal(got.value, &replay); err != nil {
		t.Fatalf("replay value must be a valid envelope: %v", err)
	}
	if replay.EventType != "order.changed" {
		t.Fatalf("unexpected envelope event type: %s", replay.EventType)
	}
	if len(replay.Payload) == 0 {
		t.Fatal("expected original payload to be restored")
	}
}

func TestExtractReplayCandidate_OutboxWithoutNestedPayload(t *testing.T) {
	raw, err := json.Marshal(map[string]any{
		"id":             "outbox-1",
		"aggregate_type": "order",
		"aggregate_id":   "order-1",
		"event_type":     "order.changed",
		"payload": map[string]any{
			"outbox_id":      "outbox-1",
			"aggregate_type": "order",
			"aggregate_id":   "order-1",
			"event_type":     "order.changed",
		},
	})
	if err != nil {
		t.Fatalf("marshal envelope failed: %v", err)
	}

	_, ok, err := extractReplayCandidate(&sarama.ConsumerMessage{Value: raw}, "tcs.order.events")
	if err == nil {
		t.Fatal("expected error for missing nested payload")
	}
	if ok {
		t.Fatal("expected no replay candidate")
	}
}

func TestExtractReplayCandidate_UnknownRecord(t *testing.T) {
	_, ok, err := extractReplayCandidate(&sarama.ConsumerMessage{Value: []byte(`{"foo":"bar"}`)}, "tcs.order.events")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ok {
		t.Fatal("expected message to be skipped")
	}
}

func TestPeekEventType(t *testing.T) {
	if got := peekEventType([]byte(`{"event_type":"order.split"}`)); got != "order.split" {
		t.Fatalf("unexpected event type: %q", got)
	}
	if got := peekEventType([]byte(`not-json`)); got != "" {
		t.Fatalf("expected empty type for broken value, got %q", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := firstNonEmpty("", "  ", "x", "y"); got != "x" {
		t.Fatalf("unexpected first non-empty value: %q", got)
	}
	if got := firstNonEmpty("", " "); got != "" {
		t.Fatalf("expected empty result, got %q", got)
	}
}

func TestReadConfig_FromFlags(t *testing.T) {
	withFlagArgs(t, []string{
		"-brokers=kafka-1:9092,kafka-2:9092",
		"-source-topic=tcs.dlq",
		"-target-topic=tcs.order.events",
		"-event-types=order.changed, order.canceled",
		"-limit=10",
		"-execute=true",
		"-from-newest=true",
		"-idle-timeout=3s",
	}, func() {
		cfg, err := readConfig()
		if err != nil {
			t.Fatalf("readConfig failed: %v", err)
		}
		if len(cfg.brokers) != 2 {
			t.Fatalf("unexpected brokers count: %d", len(cfg.brokers))
		}
		if cfg.limit != 10 {
			t.Fatalf("unexpected limit: %d", cfg.limit)
		}
		if !cfg.execute {
			t.Fatal("expected execute=true")
		}
		if !cfg.fromNewest {
			t.Fatal("expected fromNewest=true")
		}
		if cfg.idleTimeout != 3*time.Second {
			t.Fatalf("unexpected idle-timeout: %s", cfg.idleTimeout)
		}
		if len(cfg.eventTypes) != 2 || !cfg.eventTypes["order.changed"] || !cfg.eventTypes["order.canceled"] {
			t.Fatalf("unexpected event types filter: %+v", cfg.eventTypes)
		}
	})
}

func TestReadConfig_ValidationErrors(t *testing.T) {
	cases := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"missing brokers", []string{"-brokers="}, "kafka brokers are required"},
		{"missing source topic", []string{"-brokers=kafka:9092", "-source-topic="}, "source-topic is required"},
		{"missing target topic", []string{"-brokers=kafka:9092", "-target-topic="}, "target-topic is required"},
		{"zero limit", []string{"-brokers=kafka:9092", "-limit=0"}, "limit must be > 0"},
		{"zero idle timeout", []string{"-brokers=kafka:9092", "-idle-timeout=0s"}, "idle-timeout must be > 0"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			withFlagArgs(t, tc.args, func() {
				_, err := readConfig()
				if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
					t.Fatalf("expected error containing %q, got: %v", tc.wantErr, err)
				}
			})
		})
	}
}

func TestPartitionBounds(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 5, newest: 50}}}

	start, end, err := partitionBounds(client, "tcs.dlq", 0, 10, false)
	if err != nil {
		t.Fatalf("partitionBounds failed: %v", err)
	}
	if start != 5 || end != 50 {
		t.Fatalf("unexpected bounds: start=%d end=%d", start, end)
	}

	start, end, err = partitionBounds(client, "tcs.dlq", 0, 10, true)
	if err != nil {
		t.Fatalf("partitionBounds(from-newest) failed: %v", err)
	}
	if start != 40 || end != 50 {
		t.Fatalf("unexpected from-newest bounds: start=%d end=%d", start, end)
	}

	// Глубина больше партиции упирается в oldest.
	start, _, err = partitionBounds(client, "tcs.dlq", 0, 100, true)
	if err != nil {
		t.Fatalf("partitionBounds(deep) failed: %v", err)
	}
	if start != 5 {
		t.Fatalf("expected start clamped to oldest=5, got %d", start)
	}

	failing := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, _, err := partitionBounds(failing, "tcs.dlq", 0, 10, false); err == nil {
		t.Fatal("expected offset error")
	}
}

func TestPublishReplay(t *testing.T) {
	if err := publishReplay(nil, replayCandidate{}); err == nil {
		t.Fatal("expected error for nil producer")
	}

	producer := &stubReplayProducer{}
	if err := publishReplay(producer, replayCandidate{topic: "topic", key: "key", value: []byte(`{"x":1}`)}); err != nil {
		t.Fatalf("publishReplay failed: %v", err)
	}
	if producer.calls != 1 {
		t.Fatalf("unexpected producer calls: %d", producer.calls)
	}
	if producer.lastMsg == nil || producer.lastMsg.Topic != "topic" {
		t.Fatalf("unexpected last message: %+v", producer.lastMsg)
	}

	producer.sendErr = errors.New("send failed")
	if err := publishReplay(producer, replayCandidate{topic: "topic", key: "key"}); err == nil {
		t.Fatal("expected publishReplay error")
	}
}

func consumerDLQMessage(partition int32, offset int64, key, eventType string) *sarama.ConsumerMessage {
	original := fmt.Sprintf(`{"event_type":%q,"order_id":%q}`, eventType, key)
	record, _ := json.Marshal(map[string]any{
		"original_topic": "tcs.order.events",
		"original_key":   key,
		"original_value": original,
	})
	return &sarama.ConsumerMessage{Partition: partition, Offset: offset, Value: record}
}

func TestDrainPartition_DryRun(t *testing.T) {
	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer(consumerDLQMessage(0, 0, "order-1", "order.changed")),
		},
	}

	cfg := config{sourceTopic: "tcs.dlq", targetTopic: "tcs.order.events", idleTimeout: 20 * time.Millisecond}

	stats, err := drainPartition(context.Background(), consumer, client, nil, cfg, 0, 10)
	if err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if stats.processed != 1 || stats.replayed != 1 || stats.skipped != 0 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if stats.byType["order.changed"] != 1 {
		t.Fatalf("expected per-type count for order.changed, got %+v", stats.byType)
	}
	if len(consumer.calls) != 1 || consumer.calls[0].offset != 0 {
		t.Fatalf("unexpected consume calls: %+v", consumer.calls)
	}
}

func TestDrainPartition_Execute(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer(consumerDLQMessage(0, 0, "order-1", "order.changed")),
		},
	}
	producer := &stubReplayProducer{}

	cfg := config{sourceTopic: "tcs.dlq", targetTopic: "tcs.order.events", execute: true, idleTimeout: 20 * time.Millisecond}

	stats, err := drainPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if stats.replayed != 1 {
		t.Fatalf("expected replayed=1, got %+v", stats)
	}
	if producer.calls != 1 {
		t.Fatalf("expected one producer call, got %d", producer.calls)
	}
}

func TestDrainPartition_EventTypeFilter(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 3}}}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer(
				consumerDLQMessage(0, 0, "order-1", "order.changed"),
				consumerDLQMessage(0, 1, "order-2", "order.canceled"),
				consumerDLQMessage(0, 2, "order-3", "order.changed"),
			),
		},
	}
	producer := &stubReplayProducer{}

	cfg := config{
		sourceTopic: "tcs.dlq",
		targetTopic: "tcs.order.events",
		eventTypes:  map[string]bool{"order.canceled": true},
		execute:     true,
		idleTimeout: 20 * time.Millisecond,
	}

	stats, err := drainPartition(context.Background(), consumer, client, producer, cfg, 0, 10)
	if err != nil {
		t.Fatalf("drainPartition failed: %v", err)
	}
	if stats.processed != 3 || stats.replayed != 1 || stats.filtered != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
	if producer.calls != 1 {
		t.Fatalf("expected only the canceled event published, got %d calls", producer.calls)
	}
	if producer.lastMsg == nil {
		t.Fatal("expected published message")
	}
	if key, _ := producer.lastMsg.Key.Encode(); string(key) != "order-2" {
		t.Fatalf("unexpected published key: %s", string(key))
	}
}

func TestDrainPartition_ErrorBranches(t *testing.T) {
	cfg := config{sourceTopic: "tcs.dlq", targetTopic: "tcs.order.events", execute: true, idleTimeout: 20 * time.Millisecond}

	clientOffsetErr := &stubOffsetClient{offsetErr: map[int32]error{0: errors.New("offset")}}
	if _, err := drainPartition(context.Background(), &stubPartitionConsumerSource{}, clientOffsetErr, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected offset error")
	}

	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	consumerErr := &stubPartitionConsumerSource{consumeErr: errors.New("consume")}
	if _, err := drainPartition(context.Background(), consumerErr, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consume error")
	}

	pcWithErr := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError, 1),
	}
	pcWithErr.errors <- &sarama.ConsumerError{Err: errors.New("consumer boom")}
	close(pcWithErr.errors)
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcWithErr}}
	if _, err := drainPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1); err == nil {
		t.Fatal("expected consumer error branch")
	}
	close(pcWithErr.messages)

	pcBadPayload := drainedPartitionConsumer(&sarama.ConsumerMessage{
		Partition: 0,
		Offset:    0,
		Value:     []byte(`{"id":"x","payload":"not-an-object"}`),
	})
	consumer = &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: pcBadPayload}}
	stats, err := drainPartition(context.Background(), consumer, client, &stubReplayProducer{}, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected bad-payload error: %v", err)
	}
	if stats.skipped != 1 {
		t.Fatalf("expected skipped=1, got %+v", stats)
	}

	consumer = &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer(consumerDLQMessage(0, 0, "order-1", "order.changed")),
		},
	}
	producer := &stubReplayProducer{sendErr: errors.New("send fail")}
	if _, err := drainPartition(context.Background(), consumer, client, producer, cfg, 0, 1); err == nil {
		t.Fatal("expected producer send error")
	}
}

func TestDrainPartition_IdleTimeoutAndContext(t *testing.T) {
	client := &stubOffsetClient{offsets: map[int32]offsetRange{0: {oldest: 0, newest: 2}}}
	cfg := config{sourceTopic: "tcs.dlq", targetTopic: "tcs.order.events", idleTimeout: 10 * time.Millisecond}

	idleConsumer := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	consumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: idleConsumer}}

	stats, err := drainPartition(context.Background(), consumer, client, nil, cfg, 0, 1)
	if err != nil {
		t.Fatalf("unexpected idle-timeout error: %v", err)
	}
	if stats.processed != 0 {
		t.Fatalf("expected processed=0, got %+v", stats)
	}
	close(idleConsumer.messages)
	close(idleConsumer.errors)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	canceledPC := &stubPartitionConsumer{
		messages: make(chan *sarama.ConsumerMessage),
		errors:   make(chan *sarama.ConsumerError),
	}
	canceledConsumer := &stubPartitionConsumerSource{consumers: map[int32]partitionConsumer{0: canceledPC}}
	if _, err := drainPartition(ctx, canceledConsumer, client, nil, cfg, 0, 1); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context canceled, got %v", err)
	}
	close(canceledPC.messages)
	close(canceledPC.errors)
}

func TestReplayDLQ(t *testing.T) {
	cfg := config{sourceTopic: "tcs.dlq", targetTopic: "tcs.order.events", limit: 1, idleTimeout: 20 * time.Millisecond}

	if err := replayDLQ(context.Background(), cfg, nil, nil, nil); err == nil {
		t.Fatal("expected missing deps error")
	}

	client := &stubOffsetClient{
		partitions: []int32{2, 0},
		offsets: map[int32]offsetRange{
			0: {oldest: 0, newest: 2},
			2: {oldest: 0, newest: 2},
		},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer(consumerDLQMessage(0, 0, "order-1", "order.changed")),
			2: drainedPartitionConsumer(consumerDLQMessage(2, 0, "order-2", "order.canceled")),
		},
	}

	if err := replayDLQ(context.Background(), cfg, client, consumer, nil); err != nil {
		t.Fatalf("replayDLQ failed: %v", err)
	}
	// Лимит в одно сообщение останавливает обход на первой партиции.
	if len(consumer.calls) != 1 {
		t.Fatalf("expected one partition due to limit=1, got calls=%d", len(consumer.calls))
	}
	if consumer.calls[0].partition != 0 {
		t.Fatalf("expected first sorted partition=0, got %d", consumer.calls[0].partition)
	}

	executeCfg := cfg
	executeCfg.execute = true
	if err := replayDLQ(context.Background(), executeCfg, client, consumer, nil); err == nil {
		t.Fatal("expected execute mode to require producer")
	}

	emptyClient := &stubOffsetClient{partitions: nil}
	if err := replayDLQ(context.Background(), cfg, emptyClient, consumer, nil); err != nil {
		t.Fatalf("expected nil error for empty partitions, got %v", err)
	}
}

func TestRun_ClosesDependencies(t *testing.T) {
	oldDeps := newReplayDependencies
	defer func() { newReplayDependencies = oldDeps }()

	cfg := config{sourceTopic: "tcs.dlq", targetTopic: "tcs.order.events", limit: 1, idleTimeout: 20 * time.Millisecond}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return nil, nil, nil, errors.New("deps failed")
	}
	if err := run(context.Background(), cfg); err == nil || !strings.Contains(err.Error(), "deps failed") {
		t.Fatalf("expected deps error, got %v", err)
	}

	client := &stubOffsetClient{
		partitions: []int32{0},
		offsets:    map[int32]offsetRange{0: {oldest: 0, newest: 2}},
	}
	consumer := &stubPartitionConsumerSource{
		consumers: map[int32]partitionConsumer{
			0: drainedPartitionConsumer(consumerDLQMessage(0, 0, "order-1", "order.changed")),
		},
	}
	producer := &stubReplayProducer{}

	newReplayDependencies = func(config) (offsetClient, partitionConsumerSource, replayProducer, error) {
		return client, consumer, producer, nil
	}
	if err := run(context.Background(), cfg); err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !client.closed || !consumer.closed || !producer.closed {
		t.Fatalf("expected all deps to be closed: client=%v consumer=%v producer=%v", client.closed, consumer.closed, producer.closed)
	}
}

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"dlq-reprocess"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ExitOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

type offsetRange struct {
	oldest int64
	newest int64
}

type stubOffsetClient struct {
	partitions    []int32
	partitionsErr error
	offsets       map[int32]offsetRange
	offsetErr     map[int32]error
	closed        bool
}

func (s *stubOffsetClient) GetOffset(_ string, partition int32, marker int64) (int64, error) {
	if err, ok := s.offsetErr[partition]; ok {
		return 0, err
	}

	r := s.offsets[partition]
	switch marker {
	case sarama.OffsetOldest:
		return r.oldest, nil
	case sarama.OffsetNewest:
		return r.newest, nil
	default:
		return 0, fmt.Errorf("unsupported marker %d", marker)
	}
}

func (s *stubOffsetClient) Partitions(string) ([]int32, error) {
	if s.partitionsErr != nil {
		return nil, s.partitionsErr
	}
	return append([]int32(nil), s.partitions...), nil
}

func (s *stubOffsetClient) Close() error {
	s.closed = true
	return nil
}

type consumeCall struct {
	partition int32
	offset    int64
}

type stubPartitionConsumerSource struct {
	consumers  map[int32]partitionConsumer
	consumeErr error
	calls      []consumeCall
	closed     bool
}

func (s *stubPartitionConsumerSource) ConsumePartition(_ string, partition int32, offset int64) (partitionConsumer, error) {
	s.calls = append(s.calls, consumeCall{partition: partition, offset: offset})
	if s.consumeErr != nil {
		return nil, s.consumeErr
	}
	pc, ok := s.consumers[partition]
	if !ok {
		return nil, fmt.Errorf("partition %d not configured", partition)
	}
	return pc, nil
}

func (s *stubPartitionConsumerSource) Close() error {
	s.closed = true
	return nil
}

type stubPartitionConsumer struct {
	messages chan *sarama.ConsumerMessage
	errors   chan *sarama.ConsumerError
	closed   bool
}

func (s *stubPartitionConsumer) Messages() <-chan *sarama.ConsumerMessage { return s.messages }
func (s *stubPartitionConsumer) Errors() <-chan *sarama.ConsumerError     { return s.errors }
func (s *stubPartitionConsumer) Close() error {
	s.closed = true
	return nil
}

func drainedPartitionConsumer(messages ...*sarama.ConsumerMessage) *stubPartitionConsumer {
	msgCh := make(chan *sarama.ConsumerMessage, len(messages))
	errCh := make(chan *sarama.ConsumerError)
	for _, msg := range messages {
		msgCh <- msg
	}
	close(msgCh)
	close(errCh)
	return &stubPartitionConsumer{messages: msgCh, errors: errCh}
}

type stubReplayProducer struct {
	sendErr error
	calls   int
	closed  bool
	lastMsg *sarama.ProducerMessage
}

func (s *stubReplayProducer) SendMessage(msg *sarama.ProducerMessage) (int32, int64, error) {
	s.calls++
	s.lastMsg = msg
	if s.sendErr != nil {
		return 0, 0, s.sendErr
	}
	return 0, int64(s.calls), nil
}

func (s *stubReplayProducer) Close() error {
	s.closed = true
	return nil
}
