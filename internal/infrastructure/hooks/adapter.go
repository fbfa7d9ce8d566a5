// Package hooks attaches the aggregation core to a broker's lifecycle
// extension points. The adapter owns no state of its own: every interception
// is translated into a call on the aggregator and answered permissively, so
// the panel has zero authority to deny subscriptions or sends.
package hooks

import (
	"errors"
	"fmt"
	"sync"

	"github.com/event-broker/devtools/internal/core/domain"
	"github.com/event-broker/devtools/internal/core/ports"
	"github.com/event-broker/devtools/internal/core/services"

	"go.uber.org/zap"
)

// Attach registers the three lifecycle interceptors and starts the periodic
// snapshot timer. It returns a single detach function that stops the timer
// first and then unregisters every hook; detach is idempotent.
//
// A broker without the optional subscription-interception point degrades
// silently with a logged warning. Failure to register the publish or delivery
// hook aborts the attach and unwinds whatever was registered so far.
func Attach(broker ports.Broker, agg *services.Aggregator, logger *zap.SugaredLogger) (ports.DetachFunc, error) {
	var detaches []ports.DetachFunc

	unwind := func() {
		for i := len(detaches) - 1; i >= 0; i-- {
			detaches[i]()
		}
	}

	subDetach, err := broker.InterceptSubscriptions(func(eventType, clientID string) ports.HookDecision {
		return ports.Allow()
	})
	switch {
	case errors.Is(err, domain.ErrHookUnsupported):
		logger.Warnw("broker does not support subscription interception, continuing without it")
	case err != nil:
		return nil, fmt.Errorf("register subscription hook: %w", err)
	default:
		detaches = append(detaches, subDetach)
	}

	pubDetach, err := broker.InterceptPublish(func(evt ports.PublishNotice) ports.HookDecision {
		agg.RecordPublish(evt)
		return ports.Allow()
	})
	if err != nil {
		unwind()
		return nil, fmt.Errorf("register publish hook: %w", err)
	}
	detaches = append(detaches, pubDetach)

	delDetach, err := broker.InterceptDelivery(func(evt ports.PublishNotice, res ports.DeliveryResult) {
		agg.RecordDelivery(evt, res)
	})
	if err != nil {
		unwind()
		return nil, fmt.Errorf("register delivery hook: %w", err)
	}
	detaches = append(detaches, delDetach)

	agg.StartTicker()

	var once sync.Once
	return func() {
		once.Do(func() {
			// Timer stops before the hooks go away so no tick can fire
			// against a broker that is already detached.
			agg.StopTicker()
			unwind()
			agg.MarkDisconnected()
			logger.Infow("devtools panel detached from broker")
		})
	}, nil
}
