package mq

import (
	"context"
	"fmt"
	"strings"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/shaiso/megs/internal/domain"
)

// Exchange — тип для имени обменника.
type Exchange string

// Queue — тип для имени очереди.
type Queue string

// RoutingKey — тип для ключа маршрутизации.
type RoutingKey string

// Exchanges — имена обменников.
const (
	ExchangeRuns  Exchange = "megs.runs"
	ExchangeTasks Exchange = "megs.tasks"
	ExchangeDLQ   Exchange = "megs.dlq"
)

// Queues — имена очередей.
// Очереди готовых tasks по tier строятся через ReadyQueue.
const (
	QueueRunsPending    Queue = "runs.pending"
	QueueRunsCancelled  Queue = "runs.cancelled"
	QueueTasksCompleted Queue = "tasks.completed"
	QueueDLQTasks       Queue = "dlq.tasks"
)

// Routing keys.
const (
	RoutingKeyPending   RoutingKey = "pending"
	RoutingKeyCancelled RoutingKey = "cancelled"
	RoutingKeyCompleted RoutingKey = "completed"
	RoutingKeyDLQTasks  RoutingKey = "tasks"
)

// ReadyQueue возвращает очередь готовых tasks для tier: tasks.ready.heavy.
func ReadyQueue(tier domain.ResourceTier) Queue {
	return Queue("tasks.ready." + tier.Queue())
}

// ReadyRoutingKey возвращает ключ маршрутизации для tier: ready.heavy.
func ReadyRoutingKey(tier domain.ResourceTier) RoutingKey {
	return RoutingKey("ready." + tier.Queue())
}

type exchangeDecl struct {
	name Exchange
	kind string
}

type queueDecl struct {
	name Queue
	args amqp.Table
}

type bindingDecl struct {
	queue      Queue
	routingKey RoutingKey
	exchange   Exchange
}

func exchangeDecls() []exchangeDecl {
	return []exchangeDecl{
		{ExchangeRuns, "direct"},
		{ExchangeTasks, "direct"},
		{ExchangeDLQ, "direct"},
	}
}

func queueDecls() []queueDecl {
	// Аргументы для очередей с DLQ
	dlqArgs := amqp.Table{
		"x-dead-letter-exchange":    string(ExchangeDLQ),
		"x-dead-letter-routing-key": string(RoutingKeyDLQTasks),
	}

	decls := []queueDecl{
		// runs.* — без DLQ (runs обрабатываются один раз)
		{QueueRunsPending, nil},
		{QueueRunsCancelled, nil},

		// tasks.completed — без DLQ (события завершения)
		{QueueTasksCompleted, nil},

		// dlq.tasks — сама DLQ очередь
		{QueueDLQTasks, nil},
	}

	// tasks.ready.<tier> — с DLQ, по одной на tier
	for _, tier := range domain.ResourceTiers {
		decls = append(decls, queueDecl{ReadyQueue(tier), dlqArgs})
	}
	return decls
}

func bindingDecls() []bindingDecl {
	decls := []bindingDecl{
		{QueueRunsPending, RoutingKeyPending, ExchangeRuns},
		{QueueRunsCancelled, RoutingKeyCancelled, ExchangeRuns},
		{QueueTasksCompleted, RoutingKeyCompleted, ExchangeTasks},
		{QueueDLQTasks, RoutingKeyDLQTasks, ExchangeDLQ},
	}
	for _, tier := range domain.ResourceTiers {
		decls = append(decls, bindingDecl{ReadyQueue(tier), ReadyRoutingKey(tier), ExchangeTasks})
	}
	return decls
}

func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		for _, ex := range exchangeDecls() {
			err := ch.ExchangeDeclare(
				string(ex.name), // name
				ex.kind,         // type
				true,            // durable
				false,           // auto-deleted
				false,           // internal
				false,           // no-wait
				nil,             // arguments
			)
			if err != nil {
				return fmt.Errorf("declare exchange %s: %w", ex.name, err)
			}
		}

		for _, q := range queueDecls() {
			_, err := ch.QueueDeclare(
				string(q.name), // name
				true,           // durable
				false,          // delete when unused
				false,          // exclusive
				false,          // no-wait
				q.args,         // arguments
			)
			if err != nil {
				return fmt.Errorf("declare queue %s: %w", q.name, err)
			}
		}

		for _, b := range bindingDecls() {
			err := ch.QueueBind(
				string(b.queue),      // queue name
				string(b.routingKey), // routing key
				string(b.exchange),   // exchange
				false,                // no-wait
				nil,                  // arguments
			)
			if err != nil {
				return fmt.Errorf("bind queue %s to %s: %w", b.queue, b.exchange, err)
			}
		}

		return nil
	})
}

// TopologyInfo возвращает описание топологии для логирования.
func TopologyInfo() string {
	var b strings.Builder
	b.WriteString("megs RabbitMQ topology:\n")

	for _, ex := range exchangeDecls() {
		fmt.Fprintf(&b, "  %s (%s)\n", ex.name, ex.kind)
		for _, bind := range bindingDecls() {
			if bind.exchange != ex.name {
				continue
			}
			fmt.Fprintf(&b, "    %s [routing: %s]\n", bind.queue, bind.routingKey)
		}
	}
	return b.String()
}
