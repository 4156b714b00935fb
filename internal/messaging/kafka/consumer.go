package kafka

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/IBM/sarama"
	log "github.com/sirupsen/logrus"
)

const defaultMaxDeliveries = 3

// MessageHandler обрабатывает одно сообщение из топика.
type MessageHandler func(ctx context.Context, message *sarama.ConsumerMessage) error

// ConsumerOptions задаёт параметры consumer group.
type ConsumerOptions struct {
	Logger        *log.Entry
	DeadLetter    *Producer
	MaxDeliveries int
}

// ConsumerOption настраивает Consumer.
type ConsumerOption func(*ConsumerOptions)

// WithConsumerLogger задаёт logger consumer'а.
func WithConsumerLogger(logger *log.Entry) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.Logger = logger
	}
}

// WithDeadLetter включает парковку недоставленных сообщений в DLQ-топик.
func WithDeadLetter(producer *Producer) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.DeadLetter = producer
	}
}

// WithMaxDeliveries задаёт число доставок до отправки сообщения в DLQ.
func WithMaxDeliveries(n int) ConsumerOption {
	return func(opts *ConsumerOptions) {
		opts.MaxDeliveries = n
	}
}

// Consumer — consumer group поверх sarama. Сообщение, на котором handler
// стабильно падает, после maxDeliveries доставок уходит в DLQ и помечается
// обработанным, чтобы не блокировать партицию.
type Consumer struct {
	group         sarama.ConsumerGroup
	topics        []string
	handler       MessageHandler
	logger        *log.Entry
	deadLetter    *Producer
	maxDeliveries int
	wg            sync.WaitGroup
}

// NewConsumer создаёт consumer group для списка топиков.
func NewConsumer(brokers []string, groupID string, topics []string, handler MessageHandler, options ...ConsumerOption) (*Consumer, error) {
	opts := ConsumerOptions{MaxDeliveries: defaultMaxDeliveries}
	for _, option := range options {
		option(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "kafka-consumer")
	}
	if opts.MaxDeliveries <= 0 {
		opts.MaxDeliveries = defaultMaxDeliveries
	}

	config := sarama.NewConfig()
	config.Consumer.Group.Rebalance.Strategy = sarama.NewBalanceStrategyRoundRobin()
	config.Consumer.Offsets.Initial = sarama.OffsetNewest
	config.Consumer.Return.Errors = true

	group, err := sarama.NewConsumerGroup(brokers, groupID, config)
	if err != nil {
		return nil, fmt.Errorf("create consumer group %s: %w", groupID, err)
	}

	return &Consumer{
		group:         group,
		topics:        topics,
		handler:       handler,
		logger:        opts.Logger,
		deadLetter:    opts.DeadLetter,
		maxDeliveries: opts.MaxDeliveries,
	}, nil
}

// Start запускает потребление в фоне. Блокируется только Stop.
func (c *Consumer) Start(ctx context.Context) error {
	c.wg.Add(2)

	go func() {
		defer c.wg.Done()
		for {
			// Consume возвращается при rebalance и вызывается снова.
			if err := c.group.Consume(ctx, c.topics, c); err != nil {
				c.logger.WithError(err).Error("consume loop error")
			}
			if ctx.Err() != nil {
				return
			}
		}
	}()

	go func() {
		defer c.wg.Done()
		for err := range c.group.Errors() {
			c.logger.WithError(err).Error("consumer group error")
		}
	}()

	c.logger.WithField("topics", c.topics).Info("kafka consumer started")
	return nil
}

// Stop закрывает группу и дожидается фоновых горутин.
func (c *Consumer) Stop() error {
	if err := c.group.Close(); err != nil {
		return fmt.Errorf("close consumer group: %w", err)
	}
	c.wg.Wait()
	c.logger.Info("kafka consumer stopped")
	return nil
}

// Setup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Setup(sarama.ConsumerGroupSession) error { return nil }

// Cleanup реализует sarama.ConsumerGroupHandler.
func (c *Consumer) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim читает партицию до закрытия канала или конца session.
func (c *Consumer) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	for {
		select {
		case message, ok := <-claim.Messages():
			if !ok || message == nil {
				return nil
			}
			if c.deliver(session, message) {
				session.MarkMessage(message, "")
			}
		case <-session.Context().Done():
			return nil
		}
	}
}

// deliver обрабатывает сообщение и решает, можно ли сдвигать offset.
// Доставки, уже учтённые в заголовке x-retry-count, входят в лимит.
func (c *Consumer) deliver(session sarama.ConsumerGroupSession, message *sarama.ConsumerMessage) bool {
	fields := log.Fields{
		"topic":     message.Topic,
		"partition": message.Partition,
		"offset":    message.Offset,
	}

	var lastErr error
	for attempt := deliveryCount(message) + 1; attempt <= c.maxDeliveries; attempt++ {
		if err := c.handler(session.Context(), message); err == nil {
			return true
		} else {
			lastErr = err
		}
		c.logger.WithError(lastErr).WithFields(fields).WithField("attempt", attempt).Warn("message handling failed")
	}
	if lastErr == nil {
		// Заголовок уже исчерпал лимит доставок до нас.
		lastErr = fmt.Errorf("delivery limit %d exhausted before processing", c.maxDeliveries)
	}

	if c.deadLetter == nil {
		c.logger.WithError(lastErr).WithFields(fields).Error("message undeliverable, no dlq configured")
		return false
	}

	if parkErr := c.park(message, lastErr); parkErr != nil {
		c.logger.WithError(parkErr).WithFields(fields).Error("failed to park message in dlq")
		return false
	}

	c.logger.WithFields(fields).Info("message parked in dlq")
	return true
}

// deadLetterRecord — формат парковки сообщения в DLQ. Поля original_*
// читает cmd/dlq-reprocess при переигрывании.
type deadLetterRecord struct {
	OriginalTopic     string `json:"original_topic"`
	OriginalPartition int32  `json:"original_partition"`
	OriginalOffset    int64  `json:"original_offset"`
	OriginalKey       string `json:"original_key"`
	OriginalValue     string `json:"original_value"`
	ErrorMessage      string `json:"error_message"`
	FailedAt          string `json:"failed_at"`
	RetryCount        int    `json:"retry_count"`
}

func (c *Consumer) park(message *sarama.ConsumerMessage, handleErr error) error {
	record := deadLetterRecord{
		OriginalTopic:     message.Topic,
		OriginalPartition: message.Partition,
		OriginalOffset:    message.Offset,
		OriginalKey:       string(message.Key),
		OriginalValue:     string(message.Value),
		ErrorMessage:      handleErr.Error(),
		FailedAt:          time.Now().UTC().Format(time.RFC3339),
		RetryCount:        deliveryCount(message),
	}
	return c.deadLetter.PublishEvent(TopicDeadLetterQueue, string(message.Key), record)
}

// deliveryCount читает счётчик доставок из заголовка x-retry-count.
func deliveryCount(message *sarama.ConsumerMessage) int {
	for _, header := range message.Headers {
		if header == nil || string(header.Key) != HeaderRetryCount {
			continue
		}
		count, err := strconv.Atoi(string(header.Value))
		if err == nil && count >= 0 {
			return count
		}
	}
	return 0
}
