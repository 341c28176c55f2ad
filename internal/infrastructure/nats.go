package infrastructure

import (
	"context"
	"errors"

	"creditflow/internal/logger"

	"github.com/nats-io/nats.go"
)

func connectNats(url, name string, log *logger.Logger) (*nats.Conn, error) {
	if url == "" {
		return nil, errors.New("nats url is required")
	}

	nc, err := nats.Connect(url,
		nats.Name(name),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				log.Warn(log.WithField(context.Background(), "error", err.Error()), "nats disconnected")
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			log.Info(log.WithField(context.Background(), "url", c.ConnectedUrl()), "nats reconnected")
		}),
	)
	if err != nil {
		return nil, err
	}

	return nc, nil
}
