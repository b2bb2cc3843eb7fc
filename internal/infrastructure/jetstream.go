package infrastructure

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/krobus00/order-execution-engine/internal/config"
	"github.com/krobus00/order-execution-engine/internal/util"
	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
)

const (
	natsConnectTimeout   = 5 * time.Second
	natsDrainTimeout     = 10 * time.Second
	natsPingInterval     = 30 * time.Second
	natsPingsOutstanding = 3
	jetstreamMaxWait     = 5 * time.Second
	jetstreamMaxPending  = 256
)

var ErrNatsURLRequired = errors.New("nats jetstream url is required")

// natsReconnectPolicy is the resolved reconnect backoff; zero config values fall back to defaults.
type natsReconnectPolicy struct {
	maxReconnects int
	factor        float64
	minJitter     time.Duration
	maxJitter     time.Duration
}

func reconnectPolicyFrom(cfg config.NatsJetstreamConfig) natsReconnectPolicy {
	p := natsReconnectPolicy{
		maxReconnects: cfg.MaxRetries,
		factor:        cfg.ReconnectFactor,
		minJitter:     cfg.MinJitter,
		maxJitter:     cfg.MaxJitter,
	}
	if p.maxReconnects <= 0 {
		p.maxReconnects = 10
	}
	if p.factor < 1 {
		p.factor = 2
	}
	if p.minJitter <= 0 {
		p.minJitter = 100 * time.Millisecond
	}
	if p.maxJitter < p.minJitter {
		p.maxJitter = max(2*time.Second, p.minJitter)
	}

	return p
}

// NewJetstream connects to nats and opens the JetStream context the order queue publishes and consumes on.
func NewJetstream(cfg config.NatsJetstreamConfig) (*nats.Conn, nats.JetStreamContext, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, nil, ErrNatsURLRequired
	}

	policy := reconnectPolicyFrom(cfg)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	nc, err := nats.Connect(url,
		nats.Name(config.ServiceName),
		nats.Timeout(natsConnectTimeout),
		nats.DrainTimeout(natsDrainTimeout),
		nats.PingInterval(natsPingInterval),
		nats.MaxPingsOutstanding(natsPingsOutstanding),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(policy.maxReconnects),
		nats.CustomReconnectDelay(func(attempts int) time.Duration {
			return util.BackoffWithJitter(attempts, policy.factor, policy.minJitter, policy.maxJitter, rng)
		}),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logrus.WithError(err).Warn("nats disconnected")
		}),
		nats.ReconnectHandler(func(conn *nats.Conn) {
			logrus.WithField("url", conn.ConnectedUrl()).Info("nats reconnected")
		}),
		nats.ClosedHandler(func(conn *nats.Conn) {
			logrus.WithError(conn.LastError()).Warn("nats connection closed")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, sub *nats.Subscription, err error) {
			entry := logrus.WithError(err)
			if sub != nil {
				entry = entry.WithField("subject", sub.Subject)
			}
			entry.Error("nats async error")
		}),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream(
		nats.PublishAsyncMaxPending(jetstreamMaxPending),
		nats.MaxWait(jetstreamMaxWait),
	)
	if err != nil {
		nc.Close()
		return nil, nil, fmt.Errorf("create jetstream context: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"url":            url,
		"max_reconnects": policy.maxReconnects,
		"status":         nc.Status().String(),
	}).Info("nats jetstream connection established")

	return nc, js, nil
}

// JetstreamReadiness fails while the connection is reconnecting or closed.
func JetstreamReadiness(nc *nats.Conn) ReadinessCheck {
	return ReadinessCheck{
		Name: "nats",
		Check: func(context.Context) error {
			if status := nc.Status(); status != nats.CONNECTED {
				return fmt.Errorf("nats connection %s", status)
			}
			return nil
		},
	}
}

// CloseJetstream drains in-flight acks and publishes before closing the connection.
func CloseJetstream(nc *nats.Conn) error {
	if nc == nil || nc.IsClosed() {
		return nil
	}

	if err := nc.Drain(); err != nil {
		nc.Close()
		return fmt.Errorf("drain nats connection: %w", err)
	}

	deadline := time.Now().Add(natsDrainTimeout)
	for !nc.IsClosed() && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	return nil
}
