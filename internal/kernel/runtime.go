package kernel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"memoria/pkg/memoria"
)

// moduleRecord tracks one registered module and the subscriptions it owns.
type moduleRecord struct {
	name          string
	module        memoria.Module
	capabilities  []memoria.Capability
	mu            sync.Mutex
	subscriptions []memoria.Subscription
}

func (m *moduleRecord) track(subscription memoria.Subscription) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, subscription)
}

// closeSubscriptions closes tracked subscriptions once; later calls are no-ops.
func (m *moduleRecord) closeSubscriptions(ctx context.Context) error {
	m.mu.Lock()
	subscriptions := m.subscriptions
	m.subscriptions = nil
	m.mu.Unlock()

	var closeErr error
	for _, subscription := range subscriptions {
		if err := subscription.Close(ctx); err != nil {
			closeErr = errors.Join(closeErr, fmt.Errorf("close subscription %s: %w", subscription.Name(), err))
		}
	}

	return closeErr
}

// moduleRuntime is the kernel-owned memoria.ModuleRuntime handed to OnRegister.
type moduleRuntime struct {
	record   *moduleRecord
	services memoria.ServiceRegistry
	bus      memoria.EventBus
}

// Services returns the kernel service registry.
func (r *moduleRuntime) Services() memoria.ServiceRegistry {
	return r.services
}

// Subscribe registers a module-owned subscription after capability checks.
func (r *moduleRuntime) Subscribe(
	ctx context.Context,
	spec memoria.SubscriptionSpec,
	handler memoria.EventHandler,
) (memoria.Subscription, error) {
	if spec.Name == "" {
		spec.Name = r.record.name + "-subscription"
	}
	if !coveredByCapabilities(r.record.capabilities, spec.Filter) {
		return nil, fmt.Errorf("module %s subscribe %s: %w: filter not covered by declared capabilities",
			r.record.name, spec.Name, memoria.ErrInvalidSubscription)
	}

	subscription, err := r.bus.Subscribe(ctx, spec, handler)
	if err != nil {
		return nil, fmt.Errorf("module %s subscribe %s: %w", r.record.name, spec.Name, err)
	}
	r.record.track(subscription)

	return subscription, nil
}

// coveredByCapabilities reports whether at least one capability allows filter.
func coveredByCapabilities(capabilities []memoria.Capability, filter memoria.InterestSet) bool {
	for _, capability := range capabilities {
		if capability.Interest.Allows(filter) {
			return true
		}
	}

	return false
}
