// Package simulator drives synthetic traffic through the reference broker so
// a standalone devtools run shows live data without a host application.
package simulator

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/event-broker/devtools/internal/core/domain"
	memorybroker "github.com/event-broker/devtools/internal/infrastructure/broker/memory"

	"go.uber.org/zap"
)

var eventTypes = []string{"user.login", "cart.updated", "ping", "metrics.report"}

var transports = []domain.TransportKind{
	domain.TransportIframe,
	domain.TransportWorker,
	domain.TransportWindow,
	domain.TransportLocal,
}

type Simulator struct {
	broker   *memorybroker.Broker
	clients  []string
	interval time.Duration
	logger   *zap.SugaredLogger
}

func New(broker *memorybroker.Broker, clients int, interval time.Duration, logger *zap.SugaredLogger) *Simulator {
	ids := make([]string, clients)
	for i := range ids {
		ids[i] = fmt.Sprintf("sim-client-%d", i+1)
	}
	return &Simulator{
		broker:   broker,
		clients:  ids,
		interval: interval,
		logger:   logger,
	}
}

// Run connects the synthetic clients, subscribes each to a slice of the event
// types and exchanges messages until the context is cancelled.
func (s *Simulator) Run(ctx context.Context) error {
	for i, id := range s.clients {
		if err := s.broker.Connect(id, transports[i%len(transports)], nil); err != nil {
			return fmt.Errorf("failed to connect simulated client: %w", err)
		}
		for j, eventType := range eventTypes {
			if (i+j)%2 == 0 {
				if err := s.broker.SubscribeClient(id, eventType); err != nil {
					s.logger.Warnw("simulated subscription denied", "client", id, "type", eventType, "error", err)
				}
			}
		}
	}
	s.logger.Infow("traffic simulator started", "clients", len(s.clients), "interval", s.interval)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			for _, id := range s.clients {
				s.broker.Disconnect(id)
			}
			return ctx.Err()
		case <-ticker.C:
			s.emit(ctx)
		}
	}
}

func (s *Simulator) emit(ctx context.Context) {
	sender := s.clients[rand.Intn(len(s.clients))]
	eventType := eventTypes[rand.Intn(len(eventTypes))]
	payload, _ := json.Marshal(map[string]interface{}{
		"seq": rand.Intn(100000),
		"ts":  time.Now().UnixMilli(),
	})

	var err error
	if rand.Intn(3) == 0 {
		recipient := s.clients[rand.Intn(len(s.clients))]
		err = s.broker.Send(ctx, eventType, sender, recipient, payload)
	} else {
		err = s.broker.Broadcast(ctx, eventType, sender, payload)
	}
	if err != nil {
		s.logger.Debugw("simulated send rejected", "error", err)
	}
}
