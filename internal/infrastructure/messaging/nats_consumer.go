package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"crypto-rug-graph-detector/internal/domain/entity"
	"crypto-rug-graph-detector/internal/domain/service"
	"crypto-rug-graph-detector/internal/infrastructure/config"
	"crypto-rug-graph-detector/internal/infrastructure/logger"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// DecodeFailureObserver is told about relay messages that could not be decoded
type DecodeFailureObserver interface {
	ObserveDecodeFailure(reason string)
}

// NATSConsumer handles NATS JetStream consumption of transfer events and
// core NATS subscription of session control messages
type NATSConsumer struct {
	conn       *nats.Conn
	js         nats.JetStreamContext
	sub        *nats.Subscription
	controlSub *nats.Subscription
	config     *config.NATSConfig
	decoder    service.TransferDecoder
	failures   DecodeFailureObserver
	logger     *logger.Logger

	msgChan     chan entity.TransferEvent
	controlChan chan entity.ControlMessage
	isRunning   atomic.Bool
	wg          sync.WaitGroup

	// chanMu guards sends against the channels being closed by Disconnect
	chanMu sync.RWMutex
	closed bool
}

// NewNATSConsumer creates a new NATS consumer
func NewNATSConsumer(cfg *config.NATSConfig, decoder service.TransferDecoder, failures DecodeFailureObserver, logger *logger.Logger) *NATSConsumer {
	return &NATSConsumer{
		config:      cfg,
		decoder:     decoder,
		failures:    failures,
		logger:      logger.WithComponent("nats-consumer"),
		msgChan:     make(chan entity.TransferEvent, cfg.MaxPendingMessages),
		controlChan: make(chan entity.ControlMessage, 64),
	}
}

// Connect connects to NATS server and sets up the subscriptions
func (n *NATSConsumer) Connect(ctx context.Context) error {
	if !n.config.Enabled {
		n.logger.Info("NATS is disabled, skipping connection")
		return nil
	}

	n.logger.Info("Connecting to NATS server", zap.String("url", n.config.URL))

	opts := []nats.Option{
		nats.Name("rug-graph-detector"),
		nats.Timeout(n.config.ConnectTimeout),
		nats.ReconnectWait(n.config.ReconnectDelay),
		nats.MaxReconnects(n.config.ReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			n.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			n.logger.Info("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(n.config.URL, opts...)
	if err != nil {
		n.logger.Error("Failed to connect to NATS", zap.Error(err))
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n.conn = conn

	if err := n.setupControlSubscription(); err != nil {
		return err
	}

	// Try JetStream first, if not available fall back to core NATS
	js, err := conn.JetStream()
	if err != nil {
		n.logger.Warn("JetStream not available, using core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.js = js
	return n.setupJetStreamSubscription()
}

func (n *NATSConsumer) transferSubject() string {
	return fmt.Sprintf("%s.events", n.config.SubjectPrefix)
}

// setupJetStreamSubscription binds a pull subscription to the durable consumer
func (n *NATSConsumer) setupJetStreamSubscription() error {
	subject := n.transferSubject()
	durable := n.config.DurableConsumer

	n.logger.Info("Setting up JetStream subscription",
		zap.String("subject", subject),
		zap.String("consumer", durable),
		zap.String("stream", n.config.StreamName))

	sub, err := n.js.PullSubscribe(subject, durable, nats.Bind(n.config.StreamName, durable))
	if err != nil {
		n.logger.Warn("Failed to bind to durable consumer, falling back to core NATS", zap.Error(err))
		return n.setupCoreNATSSubscription()
	}

	n.sub = sub
	n.isRunning.Store(true)

	n.wg.Add(1)
	go n.processJetStreamMessages()

	n.logger.Info("Successfully connected to NATS JetStream",
		zap.String("subject", subject),
		zap.String("consumer", durable))

	return nil
}

// processJetStreamMessages processes messages from the pull subscription
func (n *NATSConsumer) processJetStreamMessages() {
	defer n.wg.Done()
	n.logger.Info("Starting JetStream message processing")

	for n.isRunning.Load() {
		msgs, err := n.sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) {
				continue
			}
			if !n.isRunning.Load() {
				break
			}
			n.logger.Error("Failed to fetch messages", zap.Error(err))
			continue
		}

		n.logger.Debug("Fetched messages from JetStream", zap.Int("count", len(msgs)))

		for _, msg := range msgs {
			n.handleMessage(msg)
		}
	}

	n.logger.Info("Stopped JetStream message processing")
}

// setupCoreNATSSubscription sets up a queue subscription on core NATS
func (n *NATSConsumer) setupCoreNATSSubscription() error {
	subject := n.transferSubject()
	queueGroup := n.config.ConsumerGroup

	n.logger.Info("Setting up core NATS subscription",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))

	sub, err := n.conn.QueueSubscribe(subject, queueGroup, func(msg *nats.Msg) {
		n.handleMessage(msg)
	})
	if err != nil {
		n.logger.Error("Failed to subscribe to subject", zap.Error(err))
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	n.sub = sub
	n.isRunning.Store(true)

	n.logger.Info("Successfully connected to core NATS",
		zap.String("subject", subject),
		zap.String("queue_group", queueGroup))

	return nil
}

// setupControlSubscription subscribes to session lifecycle commands
func (n *NATSConsumer) setupControlSubscription() error {
	if n.config.ControlSubject == "" {
		return nil
	}
	sub, err := n.conn.Subscribe(n.config.ControlSubject, n.handleControlMessage)
	if err != nil {
		return fmt.Errorf("failed to subscribe to control subject: %w", err)
	}
	n.controlSub = sub
	n.logger.Info("Subscribed to control subject", zap.String("subject", n.config.ControlSubject))
	return nil
}

// handleMessage decodes a relay message and queues the resulting transfer
func (n *NATSConsumer) handleMessage(msg *nats.Msg) {
	ev, err := n.decode(msg.Data)
	if err != nil {
		n.logger.Warn("Dropping undecodable transfer message", zap.Error(err))
		// Terminal: redelivery will not make a malformed message valid
		if msg.Reply != "" {
			_ = msg.Term()
		}
		return
	}

	n.chanMu.RLock()
	defer n.chanMu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.msgChan <- ev:
		if msg.Reply != "" {
			_ = msg.Ack()
		}
	default:
		n.logger.Warn("Message channel is full, dropping message", zap.String("signature", ev.Signature))
		if msg.Reply != "" {
			_ = msg.Nak()
		}
	}
}

func (n *NATSConsumer) decode(data []byte) (entity.TransferEvent, error) {
	var raw entity.TransferMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		n.observeFailure("unmarshal")
		return entity.TransferEvent{}, fmt.Errorf("failed to unmarshal transfer: %w", err)
	}
	ev, err := n.decoder.DecodeTransfer(&raw)
	if err != nil {
		n.observeFailure("decode")
		return entity.TransferEvent{}, fmt.Errorf("failed to decode transfer %s: %w", raw.Signature, err)
	}
	return ev, nil
}

func (n *NATSConsumer) observeFailure(reason string) {
	if n.failures != nil {
		n.failures.ObserveDecodeFailure(reason)
	}
}

// handleControlMessage parses a lifecycle command and queues it
func (n *NATSConsumer) handleControlMessage(msg *nats.Msg) {
	cmd, err := ParseControlMessage(msg.Data)
	if err != nil {
		n.logger.Warn("Ignoring invalid control message", zap.Error(err))
		if msg.Reply != "" {
			_ = msg.Respond([]byte("ERROR: " + err.Error()))
		}
		return
	}

	n.chanMu.RLock()
	defer n.chanMu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.controlChan <- cmd:
		if msg.Reply != "" {
			_ = msg.Respond([]byte("OK"))
		}
	default:
		n.logger.Warn("Control channel is full, dropping command",
			zap.String("action", string(cmd.Action)),
			zap.String("mint", cmd.TokenMint))
		if msg.Reply != "" {
			_ = msg.Respond([]byte("ERROR: busy"))
		}
	}
}

// ParseControlMessage decodes and validates a control command
func ParseControlMessage(data []byte) (entity.ControlMessage, error) {
	var cmd entity.ControlMessage
	if err := json.Unmarshal(data, &cmd); err != nil {
		return cmd, fmt.Errorf("failed to unmarshal control message: %w", err)
	}
	if cmd.TokenMint == "" {
		return cmd, fmt.Errorf("control message has no mint")
	}
	switch cmd.Action {
	case entity.ControlActionStart, entity.ControlActionStop:
	default:
		return cmd, fmt.Errorf("unknown control action %q", cmd.Action)
	}
	if h := cmd.HeuristicSafety; h != nil && (*h < 0 || *h > 1) {
		return cmd, fmt.Errorf("heuristic_safety %.3f out of range", *h)
	}
	return cmd, nil
}

// Disconnect disconnects from NATS server
func (n *NATSConsumer) Disconnect() error {
	n.isRunning.Store(false)

	if n.controlSub != nil {
		_ = n.controlSub.Unsubscribe()
		n.controlSub = nil
	}
	if n.sub != nil {
		_ = n.sub.Unsubscribe()
	}
	n.wg.Wait()
	n.sub = nil

	if n.conn != nil {
		if err := n.conn.Drain(); err != nil {
			n.conn.Close()
		}
		n.conn = nil
	}
	n.chanMu.Lock()
	if !n.closed {
		n.closed = true
		close(n.msgChan)
		close(n.controlChan)
	}
	n.chanMu.Unlock()
	n.logger.Info("Disconnected from NATS")
	return nil
}

// IsConnected checks if connected to NATS
func (n *NATSConsumer) IsConnected() bool {
	return n.isRunning.Load() && n.conn != nil && n.conn.IsConnected()
}

// Conn returns the underlying connection, nil when not connected
func (n *NATSConsumer) Conn() *nats.Conn {
	return n.conn
}

// GetMessageChannel returns the decoded transfer channel
func (n *NATSConsumer) GetMessageChannel() <-chan entity.TransferEvent {
	return n.msgChan
}

// GetControlChannel returns the control command channel
func (n *NATSConsumer) GetControlChannel() <-chan entity.ControlMessage {
	return n.controlChan
}
