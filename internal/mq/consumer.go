package mq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/megs/internal/domain"
	"github.com/shaiso/megs/internal/telemetry"
)

// Handler — функция обработки сообщения.
// Возвращает error, если обработка не удалась.
//
// ctx несёт логгер с run_id/task_id/step_id/tier сообщения
// (telemetry.FromContext).
type Handler func(ctx context.Context, msg *Delivery) error

// Delivery — доставленное сообщение.
type Delivery struct {
	// Message — распарсенное сообщение.
	Message Message

	// Redelivered — сообщение уже однажды возвращалось в очередь.
	Redelivered bool
}

// Outcome — судьба сообщения после обработки.
type Outcome string

const (
	// OutcomeAck — обработано, удаляется из очереди.
	OutcomeAck Outcome = "ack"
	// OutcomeRequeue — вернуть в очередь для повтора.
	OutcomeRequeue Outcome = "requeue"
	// OutcomeDeadLetter — отправить в DLQ.
	OutcomeDeadLetter Outcome = "dead_letter"
)

// Consumer потребляет сообщения из очереди RabbitMQ.
type Consumer struct {
	conn     *Connection
	logger   *slog.Logger
	queue    Queue
	handler  Handler
	prefetch int

	cancelFunc context.CancelFunc
}

// ConsumerConfig — конфигурация consumer.
//
// Для воркеров достаточно Tier: очередь будет tasks.ready.<tier>,
// prefetch — сколько аллокаций tier помещается в CPU хоста.
type ConsumerConfig struct {
	// Queue — имя очереди. Пустое при заданном Tier.
	Queue Queue

	// Tier — ресурсный класс очереди готовых tasks.
	Tier domain.ResourceTier

	// Handler — обработчик сообщений.
	Handler Handler

	// Prefetch — количество сообщений для предварительной загрузки.
	// 0 — из Tier, иначе 1.
	Prefetch int
}

// resolve возвращает очередь и prefetch с учётом Tier.
func (cfg ConsumerConfig) resolve(cpus int) (Queue, int) {
	queue := cfg.Queue
	if queue == "" && cfg.Tier != "" {
		queue = ReadyQueue(cfg.Tier)
	}

	prefetch := cfg.Prefetch
	if prefetch <= 0 {
		prefetch = 1
		if cfg.Tier != "" {
			prefetch = TierPrefetch(cfg.Tier, cpus)
		}
	}
	return queue, prefetch
}

// TierPrefetch возвращает, сколько tasks tier держит один воркер:
// сколько аллокаций tier помещается в cpus, но не меньше одного.
func TierPrefetch(tier domain.ResourceTier, cpus int) int {
	per := tier.Spec().CPU
	if per <= 0 {
		return 1
	}
	return max(1, cpus/per)
}

// NewConsumer создаёт новый Consumer.
func NewConsumer(conn *Connection, logger *slog.Logger, cfg ConsumerConfig) *Consumer {
	queue, prefetch := cfg.resolve(runtime.NumCPU())

	return &Consumer{
		conn:     conn,
		logger:   logger.With("queue", string(queue)),
		queue:    queue,
		handler:  cfg.Handler,
		prefetch: prefetch,
	}
}

// Queue возвращает имя очереди consumer.
func (c *Consumer) Queue() Queue { return c.queue }

// Prefetch возвращает итоговый prefetch.
func (c *Consumer) Prefetch() int { return c.prefetch }

// Start запускает потребление сообщений.
func (c *Consumer) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	c.cancelFunc = cancel

	return c.consume(ctx)
}

// consume — основной цикл потребления.
func (c *Consumer) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		deliveries, err := c.setupConsume()
		if err != nil {
			c.logger.Error("failed to setup consume", "error", err)
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
			continue
		}

		c.logger.Info("consumer started", "prefetch", c.prefetch)

		if err := c.processDeliveries(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Warn("deliveries channel closed, reconnecting")
			if err := c.waitReconnect(ctx); err != nil {
				return err
			}
		}
	}
}

// waitReconnect ждёт переподключения Connection или отмены ctx.
func (c *Consumer) waitReconnect(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.conn.ReconnectNotify():
		c.logger.Info("reconnected, restarting consumer")
		return nil
	}
}

// setupConsume настраивает канал и начинает потребление.
func (c *Consumer) setupConsume() (<-chan amqp.Delivery, error) {
	ch := c.conn.Channel()
	if ch == nil {
		return nil, ErrNoChannel
	}

	if err := ch.Qos(c.prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}

	// ack вручную, после обработчика
	deliveries, err := ch.Consume(string(c.queue), c.tag(), false, false, false, false, nil)
	if err != nil {
		return nil, fmt.Errorf("consume: %w", err)
	}

	return deliveries, nil
}

// tag — consumer tag, уникальный в пределах канала соединения.
func (c *Consumer) tag() string {
	if c.conn.name == "" {
		return ""
	}
	return c.conn.name + "." + string(c.queue)
}

// processDeliveries обрабатывает сообщения из канала.
func (c *Consumer) processDeliveries(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}

			outcome := c.handle(ctx, raw.Body, raw.Redelivered)
			var err error
			switch outcome {
			case OutcomeAck:
				err = raw.Ack(false)
			case OutcomeRequeue:
				err = raw.Nack(false, true)
			default:
				err = raw.Nack(false, false)
			}
			if err != nil {
				c.logger.Warn("failed to settle delivery", "outcome", outcome, "error", err)
			}
		}
	}
}

// handle разбирает тело и вызывает обработчик.
//
// Битое сообщение или payload сразу уходит в DLQ. Ошибка обработчика возвращает
// сообщение в очередь один раз, повторная ошибка — в DLQ: tasks и runs
// останутся в БД и будут подобраны polling'ом.
func (c *Consumer) handle(ctx context.Context, body []byte, redelivered bool) Outcome {
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		c.logger.Error("failed to unmarshal message", "error", err, "body", string(body))
		return c.settle(OutcomeDeadLetter)
	}

	logger := c.logger.With(append([]any{"message_id", msg.ID, "type", msg.Type}, payloadAttrs(msg.Payload)...)...)
	logger.Debug("received message", "redelivered", redelivered)

	err := c.handler(telemetry.WithLogger(ctx, logger), &Delivery{Message: msg, Redelivered: redelivered})
	if err == nil {
		return c.settle(OutcomeAck)
	}

	if errors.Is(err, ErrMalformedPayload) {
		return c.settle(OutcomeDeadLetter)
	}
	if redelivered {
		logger.Error("handler failed again, dead-lettering", "error", err)
		return c.settle(OutcomeDeadLetter)
	}
	logger.Warn("handler failed, requeueing", "error", err)
	return c.settle(OutcomeRequeue)
}

func (c *Consumer) settle(outcome Outcome) Outcome {
	telemetry.MessagesTotal.WithLabelValues(string(c.queue), string(outcome)).Inc()
	return outcome
}

// payloadAttrs достаёт из payload идентификаторы для логов.
func payloadAttrs(payload any) []any {
	m, ok := payload.(map[string]any)
	if !ok {
		return nil
	}
	var attrs []any
	for _, key := range []string{"run_id", "task_id", "step_id", "tier"} {
		if v, ok := m[key].(string); ok && v != "" {
			attrs = append(attrs, key, v)
		}
	}
	return attrs
}

// Stop останавливает consumer.
func (c *Consumer) Stop() {
	if c.cancelFunc != nil {
		c.cancelFunc()
	}
}

// ParsePayload парсит payload сообщения в указанный тип.
func ParsePayload[T any](msg *Message) (T, error) {
	var result T

	// После json.Unmarshal Message payload — map[string]any
	payloadBytes, err := json.Marshal(msg.Payload)
	if err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msg.Type, err)
	}

	if err := json.Unmarshal(payloadBytes, &result); err != nil {
		return result, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, msg.Type, err)
	}

	return result, nil
}
