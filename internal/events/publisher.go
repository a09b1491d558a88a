package events

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// amqpChannel - часть *amqp.Channel, которая нужна издателю
type amqpChannel interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

type dialFunc func(url string) (amqpChannel, func() error, error)

func dialAMQP(url string) (amqpChannel, func() error, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, nil, fmt.Errorf("dial rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("open channel: %w", err)
	}
	return ch, conn.Close, nil
}

// AMQPPublisher публикует события в durable-очередь с именем типа события.
// Соединение открывается лениво и переоткрывается после ошибки.
type AMQPPublisher struct {
	url    string
	dial   dialFunc
	logger *zap.Logger

	mu        sync.Mutex
	ch        amqpChannel
	closeConn func() error
	declared  map[string]bool
}

func NewAMQPPublisher(url string, logger *zap.Logger) *AMQPPublisher {
	return &AMQPPublisher{
		url:      url,
		dial:     dialAMQP,
		logger:   logger,
		declared: make(map[string]bool),
	}
}

// Publish отправляет событие. Ошибка логируется и возвращается:
// вызывающий решает, игнорировать ли её.
func (p *AMQPPublisher) Publish(ctx context.Context, event BookingEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.publishLocked(ctx, event, body); err != nil {
		p.logger.Warn("Failed to publish booking event",
			zap.String("type", event.Type),
			zap.Int64("booking_id", event.BookingID),
			zap.Error(err),
		)
		p.resetLocked()
		return err
	}
	return nil
}

func (p *AMQPPublisher) publishLocked(ctx context.Context, event BookingEvent, body []byte) error {
	if p.ch == nil {
		ch, closeConn, err := p.dial(p.url)
		if err != nil {
			return err
		}
		p.ch = ch
		p.closeConn = closeConn
		p.declared = make(map[string]bool)
	}

	if !p.declared[event.Type] {
		if _, err := p.ch.QueueDeclare(event.Type, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declare queue %s: %w", event.Type, err)
		}
		p.declared[event.Type] = true
	}

	msg := amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID.String(),
		Type:         event.Type,
		Timestamp:    time.Now().UTC(),
		Body:         body,
	}
	if err := p.ch.PublishWithContext(ctx, "", event.Type, false, false, msg); err != nil {
		return fmt.Errorf("publish %s: %w", event.Type, err)
	}
	return nil
}

func (p *AMQPPublisher) resetLocked() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	if p.closeConn != nil {
		_ = p.closeConn()
	}
	p.ch = nil
	p.closeConn = nil
}

// Close закрывает соединение с брокером
func (p *AMQPPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resetLocked()
	return nil
}

// NopPublisher - издатель для запуска без брокера
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, BookingEvent) error { return nil }
