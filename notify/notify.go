// Package notify delivers purchase notifications to logs and NATS subscribers.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	clearsky "github.com/clearskynet/clearsky/go"
)

// DefaultSubjectPrefix is the NATS subject prefix; the purchase state (or
// the level when there is none) is appended
const DefaultSubjectPrefix = "clearsky.purchases"

// LogNotifier writes notifications to a zap logger
type LogNotifier struct {
	logger *zap.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogNotifier{logger: logger.Named("notify")}
}

// Notify logs n at a level matching its severity
func (l *LogNotifier) Notify(_ context.Context, n clearsky.Notification) {
	fields := []zap.Field{
		zap.String("purchase", n.PurchaseID),
		zap.String("state", string(n.State)),
	}
	if n.Reason != "" {
		fields = append(fields, zap.String("reason", n.Reason))
	}
	if n.TxHash != "" {
		fields = append(fields, zap.String("tx", n.TxHash))
	}
	if n.TxURL != "" {
		fields = append(fields, zap.String("url", n.TxURL))
	}

	switch n.Level {
	case clearsky.LevelError:
		l.logger.Warn(n.Message, fields...)
	default:
		l.logger.Info(n.Message, fields...)
	}
}

// Publisher is the part of *nats.Conn used by NATSNotifier
type Publisher interface {
	Publish(subject string, data []byte) error
}

// NATSNotifier publishes notifications as JSON
type NATSNotifier struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

// NewNATSNotifier publishes through pub under prefix (DefaultSubjectPrefix when empty)
func NewNATSNotifier(pub Publisher, prefix string, logger *zap.Logger) *NATSNotifier {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &NATSNotifier{pub: pub, prefix: prefix, logger: logger}
}

// DialNATS connects to url and returns a notifier owning the connection
func DialNATS(url, prefix string, logger *zap.Logger) (*NATSNotifier, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	conn, err := nats.Connect(url,
		nats.Name("clearsky"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	n := NewNATSNotifier(conn, prefix, logger)
	n.conn = conn
	return n, nil
}

// Subject returns the subject n is published on
func (n *NATSNotifier) Subject(note clearsky.Notification) string {
	suffix := string(note.State)
	if suffix == "" {
		suffix = string(note.Level)
	}
	return n.prefix + "." + suffix
}

// Notify publishes note; failures are logged, not returned
func (n *NATSNotifier) Notify(_ context.Context, note clearsky.Notification) {
	data, err := json.Marshal(note)
	if err != nil {
		n.logger.Error("failed to marshal notification", zap.Error(err))
		return
	}
	if err := n.pub.Publish(n.Subject(note), data); err != nil {
		n.logger.Warn("failed to publish notification",
			zap.String("subject", n.Subject(note)),
			zap.String("purchase", note.PurchaseID),
			zap.Error(err))
	}
}

// Close drains and closes the connection opened by DialNATS
func (n *NATSNotifier) Close() error {
	if n.conn == nil {
		return nil
	}
	return n.conn.Drain()
}

// Multi fans a notification out to every notifier
type Multi []clearsky.Notifier

// Notify delivers n to each notifier in order
func (m Multi) Notify(ctx context.Context, n clearsky.Notification) {
	for _, notifier := range m {
		if notifier != nil {
			notifier.Notify(ctx, n)
		}
	}
}

// Func adapts a function to clearsky.Notifier
type Func func(ctx context.Context, n clearsky.Notification)

// Notify calls f
func (f Func) Notify(ctx context.Context, n clearsky.Notification) { f(ctx, n) }
