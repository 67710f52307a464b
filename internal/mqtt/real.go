package mqtt

import (
	"fmt"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"

	"github.com/sweeney/e84-loadport/internal/loadport"
	"github.com/sweeney/e84-loadport/internal/logger"
)

const (
	connectTimeout     = 10 * time.Second
	publishTimeout     = 5 * time.Second
	disconnectQuiesce  = 1000 // ms
	defaultBufferSize  = 256
	reconnectedEvent   = "RECONNECTED"
	willReason         = "MQTT_DISCONNECT"
	defaultClientID    = "e84-loadport"
	retryConnectPeriod = 5 * time.Second
)

// Options configures a RealPublisher.
type Options struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	// BufferSize is how many messages are kept while the broker is
	// unreachable. Oldest messages are dropped first.
	BufferSize int
}

// RealPublisher publishes to an actual MQTT broker. Messages published while
// disconnected are buffered and replayed on reconnect.
type RealPublisher struct {
	client paho.Client
	topics Topics
	log    logger.Logger

	mu        sync.Mutex
	buf       *ringBuffer
	connected bool
	everUp    bool
}

// NewRealPublisher creates a publisher for the given broker. If the broker
// is not reachable within the connect timeout the publisher keeps retrying
// in the background and buffers messages meanwhile.
func NewRealPublisher(opts Options, log logger.Logger) (*RealPublisher, error) {
	if opts.Broker == "" {
		return nil, fmt.Errorf("mqtt: broker address is required")
	}
	if opts.ClientID == "" {
		opts.ClientID = defaultClientID
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = defaultBufferSize
	}

	p := &RealPublisher{
		topics: NewTopics(opts.TopicPrefix),
		log:    log.With("component", "mqtt", "broker", opts.Broker),
		buf:    newRingBuffer(opts.BufferSize),
	}

	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     "SHUTDOWN",
		Reason:    willReason,
	})
	if err != nil {
		return nil, fmt.Errorf("format will payload: %w", err)
	}

	clientOpts := paho.NewClientOptions().
		AddBroker(opts.Broker).
		SetClientID(opts.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(retryConnectPeriod).
		SetBinaryWill(p.topics.System, will, 1, true).
		SetOnConnectHandler(p.onConnect).
		SetConnectionLostHandler(p.onConnectionLost)

	p.client = paho.NewClient(clientOpts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		p.log.Warn("broker not reachable yet, buffering until connected", "timeout", connectTimeout)
		return p, nil
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}
	return p, nil
}

// Topics returns the topic names in use.
func (p *RealPublisher) Topics() Topics { return p.topics }

// Publish sends a controller event, and the acquisition trigger for data
// collection events.
func (p *RealPublisher) Publish(event loadport.Event) error {
	payload, err := FormatPayload(event)
	if err != nil {
		return fmt.Errorf("format payload: %w", err)
	}
	// QoS 0 (at-most-once), not retained
	if err := p.send(bufferedMsg{topic: p.topics.Events, payload: payload}); err != nil {
		return err
	}

	acq, ok, err := FormatAcquisitionPayload(event)
	if err != nil {
		return fmt.Errorf("format acquisition payload: %w", err)
	}
	if !ok {
		return nil
	}
	// Acquisition triggers must not be lost: QoS 1.
	return p.send(bufferedMsg{topic: p.topics.Acquisition, payload: acq, qos: 1})
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}
	return p.send(bufferedMsg{topic: p.topics.System, payload: payload, qos: 1, retained: event.Retained})
}

// IsConnected reports whether the broker connection is up.
func (p *RealPublisher) IsConnected() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.connected
}

// Buffered returns the number of messages waiting for a connection and the
// number dropped because the buffer was full.
func (p *RealPublisher) Buffered() (pending int, dropped uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.buf.len(), p.buf.drops()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(disconnectQuiesce)
	return nil
}

func (p *RealPublisher) send(msg bufferedMsg) error {
	p.mu.Lock()
	if !p.connected {
		if p.buf.push(msg) {
			p.log.Warn("offline buffer full, dropping oldest", "capacity", p.buf.capacity)
		}
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	token := p.client.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
	if !token.WaitTimeout(publishTimeout) {
		return fmt.Errorf("publish %s: timeout", msg.topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", msg.topic, err)
	}
	return nil
}

func (p *RealPublisher) onConnect(c paho.Client) {
	p.mu.Lock()
	p.connected = true
	reconnect := p.everUp
	p.everUp = true
	pending := p.buf.drainAll()
	p.mu.Unlock()

	p.log.Info("connected", "replaying", len(pending))
	for _, msg := range pending {
		token := c.Publish(msg.topic, msg.qos, msg.retained, msg.payload)
		if !token.WaitTimeout(publishTimeout) || token.Error() != nil {
			p.log.Warn("replay failed", "topic", msg.topic, "error", token.Error())
		}
	}

	if reconnect {
		if err := p.PublishSystem(SystemEvent{Timestamp: time.Now(), Event: reconnectedEvent}); err != nil {
			p.log.Warn("publish reconnected event", "error", err)
		}
	}
}

func (p *RealPublisher) onConnectionLost(_ paho.Client, err error) {
	p.mu.Lock()
	p.connected = false
	p.mu.Unlock()
	p.log.Warn("connection lost", "error", err)
}

var (
	_ Publisher        = (*RealPublisher)(nil)
	_ ConnectionStatus = (*RealPublisher)(nil)
)
