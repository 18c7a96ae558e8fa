package mq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Exchange — тип для имени обменника.
type Exchange string

// Topic — адресуемая точка на шине: либо тема обнаружения (общая для
// группы воркеров), либо персональный адрес участника (executor или
// отдельный worker) — его uuid, по которому к RPC exchange привязана его
// reply-очередь.
type Topic string

// Exchanges bus-протокола.
const (
	// ExchangeDiscovery — direct exchange для NOTIFY: routing key = тема
	// обнаружения; все очереди, привязанные к этому ключу, получают копию
	// сообщения, поэтому все воркеры на одной теме видят одну пробу.
	ExchangeDiscovery Exchange = "automata.discovery"

	// ExchangeRPC — direct exchange для REQUEST/RESPONSE/NOTIFY_RESPONSE:
	// routing key = персональная тема получателя (point-to-point).
	ExchangeRPC Exchange = "automata.rpc"
)

// DeclareExchanges создаёт обменники bus-протокола.
func DeclareExchanges(ch *amqp.Channel) error {
	for _, name := range []Exchange{ExchangeDiscovery, ExchangeRPC} {
		err := ch.ExchangeDeclare(
			string(name), // name
			"direct",     // kind
			true,         // durable
			false,        // auto-deleted
			false,        // internal
			false,        // no-wait
			nil,          // arguments
		)
		if err != nil {
			return fmt.Errorf("declare exchange %s: %w", name, err)
		}
	}
	return nil
}

// DeclareReplyQueue объявляет эксклюзивную персональную очередь участника и
// привязывает её к обоим exchange по его собственной теме (для RPC) и,
// опционально, к дополнительным темам обнаружения (для воркеров).
func DeclareReplyQueue(ch *amqp.Channel, ownTopic Topic, discoveryTopics []Topic) (string, error) {
	q, err := ch.QueueDeclare(
		"",    // auto-generated name
		false, // durable
		true,  // delete when unused
		true,  // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return "", fmt.Errorf("declare reply queue: %w", err)
	}

	if err := ch.QueueBind(q.Name, string(ownTopic), string(ExchangeRPC), false, nil); err != nil {
		return "", fmt.Errorf("bind reply queue to rpc exchange: %w", err)
	}

	for _, topic := range discoveryTopics {
		if err := ch.QueueBind(q.Name, string(topic), string(ExchangeDiscovery), false, nil); err != nil {
			return "", fmt.Errorf("bind reply queue to discovery topic %s: %w", topic, err)
		}
	}

	return q.Name, nil
}

// SetupTopology создаёт обменники bus-протокола. Очереди создаются лениво
// каждым участником через DeclareReplyQueue, потому что они эксклюзивны и
// привязаны к конкретному соединению.
func SetupTopology(ctx context.Context, conn *Connection) error {
	return conn.WithChannel(ctx, func(ch *amqp.Channel) error {
		return DeclareExchanges(ch)
	})
}
