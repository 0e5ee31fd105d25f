// Package natsadapter implements an alternative SubprocessSink/cross-process
// transport for adapters that run as separate OS processes or services
// rather than a local subprocess, using request-reply over NATS.
//
// Grounded on the teacher's graceful-degrade connection pattern
// (internal/events/subscriber.go, publisher.go): if NATS is unreachable or
// unconfigured the adapter disables itself rather than failing startup.
package natsadapter

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/xianshu-virtuous/MoFox-Core/internal/bus"
	"github.com/xianshu-virtuous/MoFox-Core/internal/envelope"
	coreerrors "github.com/xianshu-virtuous/MoFox-Core/internal/errors"
	"github.com/xianshu-virtuous/MoFox-Core/internal/logger"
)

// Config configures the NATS connection.
type Config struct {
	URL      string
	User     string
	Password string
}

// subjectForPlatform builds the NATS subject an adapter process for
// platform publishes/subscribes to.
func subjectForPlatform(platform string) string {
	return fmt.Sprintf("mofox.adapter.%s", platform)
}

// Adapter bridges a runtime's outbound sends to a NATS-connected adapter
// process and feeds inbound messages back into the runtime.
type Adapter struct {
	conn    *nats.Conn
	enabled bool
	runtime *bus.Runtime
}

// Connect establishes (or gracefully disables) the NATS connection.
func Connect(cfg Config, runtime *bus.Runtime) (*Adapter, error) {
	if cfg.URL == "" {
		logger.Adapter().Warn().Msg("nats url not configured, nats adapter transport disabled")
		return &Adapter{enabled: false, runtime: runtime}, nil
	}

	opts := []nats.Option{
		nats.Name("mofox-core"),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			logger.Adapter().Error().Err(err).Msg("nats error")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		logger.Adapter().Warn().Err(err).Str("url", cfg.URL).Msg("failed to connect to nats, transport disabled")
		return &Adapter{enabled: false, runtime: runtime}, nil
	}

	logger.Adapter().Info().Str("url", conn.ConnectedUrl()).Msg("nats adapter transport connected")
	return &Adapter{conn: conn, enabled: true, runtime: runtime}, nil
}

// Enabled reports whether the NATS transport is active.
func (a *Adapter) Enabled() bool { return a.enabled }

// Subscribe begins consuming inbound envelopes published by the adapter
// process for platform and feeding them into the runtime.
func (a *Adapter) Subscribe(platform string) error {
	if !a.enabled {
		return nil
	}
	_, err := a.conn.Subscribe(subjectForPlatform(platform)+".in", func(msg *nats.Msg) {
		env, err := envelope.Decode(msg.Data)
		if err != nil {
			logger.Adapter().Warn().Err(err).Msg("dropping malformed nats envelope")
			return
		}
		if err := a.runtime.PushIncoming(env); err != nil {
			logger.Adapter().Warn().Err(err).Msg("push_incoming failed")
		}
	})
	return err
}

// Sink returns a bus.Sink that publishes outgoing envelopes to the
// adapter process for platform, and uses NATS request-reply for Call.
func (a *Adapter) Sink(platform string) bus.Sink {
	return &natsSink{adapter: a, platform: platform}
}

type natsSink struct {
	adapter  *Adapter
	platform string
}

func (s *natsSink) Platform() string { return s.platform }

func (s *natsSink) Send(ctx context.Context, env *envelope.MessageEnvelope) error {
	if !s.adapter.enabled {
		return coreerrors.New(coreerrors.TransientAdapter, "nats transport disabled")
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return coreerrors.InvalidEnvelope(err.Error())
	}
	if err := s.adapter.conn.Publish(subjectForPlatform(s.platform)+".out", data); err != nil {
		return coreerrors.AdapterTimeout(s.platform, err)
	}
	return nil
}

func (s *natsSink) Call(ctx context.Context, env *envelope.MessageEnvelope, timeout time.Duration) (*envelope.MessageEnvelope, error) {
	if !s.adapter.enabled {
		return nil, coreerrors.New(coreerrors.TransientAdapter, "nats transport disabled")
	}
	data, err := envelope.Encode(env)
	if err != nil {
		return nil, coreerrors.InvalidEnvelope(err.Error())
	}
	msg, err := s.adapter.conn.RequestWithContext(ctx, subjectForPlatform(s.platform)+".call", data)
	if err != nil {
		return nil, coreerrors.AdapterTimeout(s.platform, err)
	}
	var resp envelope.MessageEnvelope
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, coreerrors.InvalidEnvelope(err.Error())
	}
	return &resp, nil
}

func (s *natsSink) Close() error { return nil }

// Close tears down the NATS connection, if any.
func (a *Adapter) Close() error {
	if a.enabled {
		a.conn.Close()
	}
	return nil
}
