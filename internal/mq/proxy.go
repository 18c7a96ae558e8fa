package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/shaiso/Automata/internal/telemetry"
)

// TypeHandler обрабатывает один тип входящего сообщения.
type TypeHandler func(ctx context.Context, env *Envelope)

// RetryOptions — политика retry для Publish.
type RetryOptions struct {
	MaxAttempts  int
	InitialDelay time.Duration
	MaxDelay     time.Duration
}

// DefaultRetryOptions возвращает политику retry по умолчанию.
func DefaultRetryOptions() RetryOptions {
	return RetryOptions{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
	}
}

// Proxy — транспортный прокси поверх AMQP: публикует исходящие сообщения,
// принимает входящие и маршрутизирует их по таблице обработчиков, ведёт
// собственный цикл приёма с reconnect.
//
// Proxy не хранит состояние запросов — только соединение, тему получателя
// и таблицу обработчиков.
type Proxy struct {
	uuid    string
	topic   Topic
	conn    *Connection
	logger  *slog.Logger
	retry   RetryOptions
	onWait  func()
	handler map[MessageType]TypeHandler

	discoveryTopics []Topic

	readyCh   chan struct{}
	readyOnce sync.Once

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewProxy создаёт Proxy, идентифицируемый uuid. discoveryTopics — темы
// обнаружения, на которые этот участник хочет получать NOTIFY-пробы (пусто
// для executor, который сам их рассылает, но принимает NOTIFY_RESPONSE на
// собственной теме).
func NewProxy(id, exchange string, discoveryTopics []Topic, handlers map[MessageType]TypeHandler, onWait func(), conn *Connection, logger *slog.Logger, retry RetryOptions) *Proxy {
	if logger == nil {
		logger = slog.Default()
	}
	if onWait == nil {
		onWait = func() {}
	}
	return &Proxy{
		uuid:            id,
		topic:           Topic(id),
		conn:            conn,
		logger:          logger,
		retry:           retry,
		onWait:          onWait,
		handler:         handlers,
		discoveryTopics: discoveryTopics,
		readyCh:         make(chan struct{}),
		stopCh:          make(chan struct{}),
		doneCh:          make(chan struct{}),
	}
}

// Topic возвращает собственную тему участника (его reply-to).
func (p *Proxy) Topic() Topic {
	return p.topic
}

// Publish сериализует и публикует message в указанный topic, проставляя
// reply_to и correlation_id. Ретраит транзиентные ошибки по RetryOptions;
// по их исчерпании возвращает ошибку, оборачивающую последнюю ошибку
// транспорта (в domain.PublishError её заворачивает вызывающая сторона).
func (p *Proxy) Publish(ctx context.Context, msgType MessageType, topic Topic, replyTo Topic, correlationID string, body map[string]any) error {
	env := &Envelope{
		Type:          msgType,
		CorrelationID: correlationID,
		ReplyTo:       string(replyTo),
		Timestamp:     time.Now(),
		Body:          body,
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("marshal envelope: %w", err)
	}

	exchange := ExchangeRPC
	if msgType == TypeNotify {
		exchange = ExchangeDiscovery
	}

	delay := p.retry.InitialDelay
	maxAttempts := p.retry.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = p.conn.WithChannel(ctx, func(ch *amqp.Channel) error {
			return ch.PublishWithContext(ctx,
				string(exchange),
				string(topic),
				false, false,
				amqp.Publishing{
					ContentType:   "application/json",
					CorrelationId: correlationID,
					ReplyTo:       string(replyTo),
					MessageId:     uuid.NewString(),
					Timestamp:     env.Timestamp,
					Body:          payload,
				},
			)
		})
		if lastErr == nil {
			return nil
		}

		p.logger.Debug("publish attempt failed",
			"type", msgType, "topic", topic, "attempt", attempt, "error", lastErr,
		)

		if attempt == maxAttempts {
			break
		}

		telemetry.PublishRetriesTotal.WithLabelValues(string(msgType)).Inc()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, p.retry.MaxDelay)
	}

	return fmt.Errorf("publish to %s/%s after %d attempts: %w", exchange, topic, maxAttempts, lastErr)
}

// Start объявляет reply-очередь, запускает цикл приёма и блокируется до
// остановки через Stop или отмены ctx. Между пакетами входящих сообщений
// вызывает on_wait.
func (p *Proxy) Start(ctx context.Context) error {
	defer close(p.doneCh)

	queueName, err := p.setupQueue()
	if err != nil {
		return fmt.Errorf("setup reply queue: %w", err)
	}

	p.readyOnce.Do(func() { close(p.readyCh) })
	p.logger.Info("proxy started", "uuid", p.uuid, "queue", queueName)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		default:
		}

		deliveries, err := p.consume(queueName)
		if err != nil {
			p.logger.Error("proxy consume setup failed", "error", err)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-p.stopCh:
				return nil
			case <-p.conn.ReconnectNotify():
				queueName, err = p.setupQueue()
				if err != nil {
					p.logger.Error("proxy requeue after reconnect failed", "error", err)
				}
				continue
			}
		}

		if err := p.drain(ctx, deliveries); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			select {
			case <-p.stopCh:
				return nil
			default:
			}
		}
	}
}

func (p *Proxy) setupQueue() (string, error) {
	var queueName string
	err := p.conn.WithChannel(context.Background(), func(ch *amqp.Channel) error {
		if err := DeclareExchanges(ch); err != nil {
			return err
		}
		name, err := DeclareReplyQueue(ch, p.topic, p.discoveryTopics)
		if err != nil {
			return err
		}
		queueName = name
		return nil
	})
	return queueName, err
}

func (p *Proxy) consume(queue string) (<-chan amqp.Delivery, error) {
	ch := p.conn.Channel()
	if ch == nil {
		return nil, fmt.Errorf("no channel available")
	}
	return ch.Consume(queue, "", false, true, false, false, nil)
}

// drain забирает входящие сообщения, вызывая on_wait в промежутках между
// ними вместо блокировки бесконечно на пустом канале.
func (p *Proxy) drain(ctx context.Context, deliveries <-chan amqp.Delivery) error {
	idle := time.NewTicker(200 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-p.stopCh:
			return nil
		case raw, ok := <-deliveries:
			if !ok {
				return fmt.Errorf("deliveries channel closed")
			}
			p.handle(ctx, raw)
		case <-idle.C:
			p.onWait()
		}
	}
}

func (p *Proxy) handle(ctx context.Context, raw amqp.Delivery) {
	var env Envelope
	if err := json.Unmarshal(raw.Body, &env); err != nil {
		p.logger.Error("failed to unmarshal envelope", "error", err)
		raw.Nack(false, false)
		return
	}
	if env.CorrelationID == "" {
		env.CorrelationID = raw.CorrelationId
	}
	if env.ReplyTo == "" {
		env.ReplyTo = raw.ReplyTo
	}

	fn, ok := p.handler[env.Type]
	if !ok {
		p.logger.Debug("no handler for message type, dropping", "type", env.Type)
		raw.Nack(false, false)
		return
	}

	fn(ctx, &env)
	raw.Ack(false)
}

// Stop сигнализирует циклу приёма завершиться на следующей безопасной точке,
// дожидается его выхода и очищает таблицу обработчиков.
func (p *Proxy) Stop() {
	select {
	case <-p.stopCh:
	default:
		close(p.stopCh)
	}
	<-p.doneCh
	p.handler = nil
}

// Wait блокируется до готовности цикла приёма.
func (p *Proxy) Wait() {
	<-p.readyCh
}
