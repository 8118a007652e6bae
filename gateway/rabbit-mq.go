package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"hearth/dispatcher"
	"hearth/libs"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

type RabbitMqTransport struct {
	rcvConnection *recoverableConnection
	channels      *sync.Map

	mu                sync.Mutex
	declaredQueues    []string
	declaredExchanges []string

	exchange string
	queue    string
	kinds    []string
	ready    chan struct{}
	once     sync.Once

	logger *zap.SugaredLogger
}

type recoverableConnection struct {
	mu         sync.RWMutex
	connection *amqp.Connection
	attempt    int
	closed     bool
}

func (c *recoverableConnection) get() *amqp.Connection {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return c.connection
}

// NewRabbitMqTransport connects to the broker. Events are consumed from queue,
// bound to exchange with one routing key per event kind.
func NewRabbitMqTransport(url, exchange, queue string, kinds []string, logger *zap.SugaredLogger) (*RabbitMqTransport, error) {
	conn, err := establishRcvConn(url, logger)
	if err != nil {
		return nil, err
	}

	transport := &RabbitMqTransport{
		rcvConnection: conn,
		channels:      &sync.Map{},
		exchange:      exchange,
		queue:         queue,
		kinds:         kinds,
		ready:         make(chan struct{}),
		logger:        logger,
	}

	return transport, nil
}

func establishRcvConn(url string, logger *zap.SugaredLogger) (*recoverableConnection, error) {
	conn, err := connect(url)

	if err != nil {
		logger.Error(err)
		return nil, err
	}
	logger.Info("connected to rabbitmq")

	rcvConn := &recoverableConnection{connection: conn}
	go watchConnection(rcvConn, url, logger)

	return rcvConn, nil
}

func watchConnection(rConn *recoverableConnection, url string, logger *zap.SugaredLogger) {
	for {
		closeErr := <-rConn.get().NotifyClose(make(chan *amqp.Error, 1))
		if closeErr == nil {
			logger.Warnln("rabbitmq graceful connection close")
			return
		}
		logger.Errorf("rabbitmq non graceful connection close - %s", closeErr.Error())

		for {
			rConn.mu.Lock()
			if rConn.closed {
				rConn.mu.Unlock()
				return
			}
			rConn.attempt++
			rConn.mu.Unlock()

			conn, err := connect(url)
			if err != nil {
				logger.Error(err)
				time.Sleep(reconnectDelay)
				continue
			}

			rConn.mu.Lock()
			rConn.connection = conn
			attempt := rConn.attempt
			rConn.attempt = 0
			rConn.mu.Unlock()

			logger.Infof("reconnected to rabbitmq after %d attempt", attempt)
			break
		}
	}
}

func connect(url string) (*amqp.Connection, error) {
	conn, err := amqp.DialConfig(url, amqp.Config{
		Properties: amqp.Table{
			"product":  Hearth,
			"version":  "v0.1.0",
			"platform": "golang",
		}})

	if err != nil {
		return nil, err
	}

	return conn, nil
}

func (t *RabbitMqTransport) getChannel(key string) (*amqp.Channel, error) {
	if channel, exists := t.channels.Load(key); exists {
		ch := channel.(*amqp.Channel)
		if !ch.IsClosed() {
			return ch, nil
		}
	}

	channel, err := t.rcvConnection.get().Channel()
	if err != nil {
		t.logger.Errorf("unable to open connection channel %s", err.Error())
		return nil, err
	}

	t.channels.Store(key, channel)
	return channel, nil
}

// Ready is closed once the first consumer is attached to the broker.
func (t *RabbitMqTransport) Ready() <-chan struct{} {
	return t.ready
}

// Events declares the gateway topology and streams decoded events until ctx
// ends. A broken consumer is re-attached after the connection recovers.
func (t *RabbitMqTransport) Events(ctx context.Context) (<-chan dispatcher.Event, error) {
	if err := t.declareTopology(); err != nil {
		return nil, err
	}

	deliveries, err := t.consume(ctx)
	if err != nil {
		return nil, err
	}

	events := make(chan dispatcher.Event, eventsBuffer)
	go func() {
		defer close(events)

		for {
			t.forward(ctx, deliveries, events)
			if ctx.Err() != nil {
				return
			}

			t.logger.Warnln("rabbitmq consumer closed, re-attaching")
			for {
				select {
				case <-ctx.Done():
					return
				case <-time.After(reconnectDelay):
				}

				deliveries, err = t.consume(ctx)
				if err == nil {
					break
				}
				t.logger.Errorf("re-attaching consumer error - %v", err)
			}
		}
	}()

	return events, nil
}

func (t *RabbitMqTransport) declareTopology() error {
	if err := t.CreateExchange(t.exchange); err != nil {
		return err
	}

	if err := t.CreateQueue(t.queue); err != nil {
		return err
	}

	for _, kind := range t.kinds {
		if err := t.BindQueue(t.queue, t.exchange, kind); err != nil {
			return err
		}
	}

	return nil
}

func (t *RabbitMqTransport) consume(ctx context.Context) (<-chan amqp.Delivery, error) {
	chann, err := t.getChannel(t.queue)
	if err != nil {
		return nil, err
	}

	deliveries, err := chann.ConsumeWithContext(ctx, t.queue, Hearth, false,
		false, false, false, amqp.Table{})
	if err != nil {
		t.logger.Errorf("error during rabbitmq consume - %v", err)
		return nil, err
	}

	t.once.Do(func() { close(t.ready) })

	return deliveries, nil
}

// forward hands deliveries over without waiting for any handler. A delivery
// is acked once the dispatcher has accepted it and requeued when refused;
// deliveries never settled are redelivered by the broker after the
// connection closes.
func (t *RabbitMqTransport) forward(ctx context.Context, deliveries <-chan amqp.Delivery, events chan<- dispatcher.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case delivery, ok := <-deliveries:
			if !ok {
				return
			}

			evt, err := decodeEnvelope(delivery.Body, delivery.RoutingKey, time.Now())
			if err != nil {
				t.logger.Errorf("dropping gateway message %s - %v", delivery.MessageId, err)
				if err = delivery.Nack(false, false); err != nil {
					t.logger.Errorf("error during nack - %v", err)
				}
				continue
			}
			evt.Settle = t.settle(delivery)

			select {
			case events <- evt:
			case <-ctx.Done():
				_ = delivery.Nack(false, true)
				return
			}
		}
	}
}

func (t *RabbitMqTransport) settle(delivery amqp.Delivery) func(accepted bool) {
	return func(accepted bool) {
		var err error
		if accepted {
			err = delivery.Ack(false)
		} else {
			err = delivery.Nack(false, true)
		}

		if err != nil {
			t.logger.Errorf("error during settling message %s - %v", delivery.MessageId, err)
		}
	}
}

func (t *RabbitMqTransport) Publish(ctx context.Context, exchange, routingKey string, message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return errors.New("invalid message format")
	}

	msg := amqp.Publishing{
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		ContentType:  libs.ApplicationJson,
		Body:         data,
	}

	chann, err := t.getChannel(exchange)
	if err != nil {
		t.logger.Errorf("get channel error - %v", err)
		return err
	}

	err = chann.PublishWithContext(ctx, exchange, routingKey, false, false, msg)
	if err != nil {
		t.logger.Errorf("publish error - %v", err)
		return err
	}

	return nil
}

func (t *RabbitMqTransport) CreateQueue(queue string) error {
	queue = strings.Trim(queue, " ")

	t.mu.Lock()
	defer t.mu.Unlock()

	if slices.Contains(t.declaredQueues, queue) {
		return nil
	}

	chann, err := t.getChannel(AdminChannel)
	if err != nil {
		return err
	}

	createdQueue, err := chann.QueueDeclare(queue, true, false, false,
		false, amqp.Table{})
	if err != nil {
		t.logger.Errorf("creating queue error %s - %v", queue, err)
		return err
	}

	t.declaredQueues = append(t.declaredQueues, createdQueue.Name)

	return nil
}

func (t *RabbitMqTransport) CreateExchange(exchange string) error {
	exchange = strings.Trim(exchange, " ")

	t.mu.Lock()
	defer t.mu.Unlock()

	if slices.Contains(t.declaredExchanges, exchange) {
		return nil
	}

	chann, err := t.getChannel(AdminChannel)
	if err != nil {
		return err
	}

	err = chann.ExchangeDeclare(exchange, "direct", true, false,
		false, false, amqp.Table{})
	if err != nil {
		t.logger.Errorf("creating exchange error %s - %v", exchange, err)
		return err
	}

	t.declaredExchanges = append(t.declaredExchanges, exchange)

	return nil
}

func (t *RabbitMqTransport) BindQueue(queue, exchange, routingKey string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !slices.Contains(t.declaredExchanges, exchange) {
		return errors.New("exchange has not been declared")
	}

	if !slices.Contains(t.declaredQueues, queue) {
		return errors.New("queue has not been declared")
	}

	chann, err := t.getChannel(AdminChannel)
	if err != nil {
		return err
	}

	err = chann.QueueBind(queue, routingKey, exchange, false, amqp.Table{})
	if err != nil {
		t.logger.Errorf("exchange %s queue %s with routing key %s binding error - %v", exchange, queue, routingKey, err)
		return err
	}

	return nil
}

// Close stops reconnecting and closes the broker connection.
func (t *RabbitMqTransport) Close() error {
	t.rcvConnection.mu.Lock()
	t.rcvConnection.closed = true
	conn := t.rcvConnection.connection
	t.rcvConnection.mu.Unlock()

	return conn.Close()
}

// RabbitMqReplier publishes operator replies to the reply exchange, wrapped
// in the same envelope gateway events use.
type RabbitMqReplier struct {
	Transport *RabbitMqTransport
	Exchange  string
}

func (r RabbitMqReplier) Reply(ctx context.Context, reply libs.OperatorReply) error {
	if err := r.Transport.CreateExchange(r.Exchange); err != nil {
		return err
	}

	payload, err := json.Marshal(reply)
	if err != nil {
		return err
	}

	return r.Transport.Publish(ctx, r.Exchange, OperatorReplies,
		libs.EventEnvelope{Id: uuid.New(), Kind: OperatorReplies, Payload: payload})
}
