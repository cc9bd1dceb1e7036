package kernel

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"memoria/pkg/memoria"
)

var errBusClosed = errors.New("bus closed")

// EventBus fans inbound events out to bounded per-subscription queues.
//
// Each subscription owns its workers, so a slow pipeline only stalls its own queue.
type EventBus struct {
	mu      sync.RWMutex
	nextID  atomic.Int64
	closed  bool
	members map[int64]*subscriber

	defaults     subscriptionDefaults
	onAsyncError func(context.Context, string, error)
}

type subscriptionDefaults struct {
	buffer         int
	workers        int
	handlerTimeout time.Duration
}

// NewEventBus creates an event bus with the given subscription defaults.
func NewEventBus(
	defaultBuffer int,
	defaultWorkers int,
	defaultHandlerTimeout time.Duration,
	onAsyncError func(context.Context, string, error),
) *EventBus {
	return &EventBus{
		members: make(map[int64]*subscriber),
		defaults: subscriptionDefaults{
			buffer:         defaultBuffer,
			workers:        defaultWorkers,
			handlerTimeout: defaultHandlerTimeout,
		},
		onAsyncError: onAsyncError,
	}
}

// Publish validates event and enqueues it on every matching subscription.
//
// Backpressure drops are reported to the async error sink rather than to the
// publisher; only blocking enqueue failures are returned.
func (b *EventBus) Publish(ctx context.Context, event *memoria.Event) error {
	if err := event.Validate(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}

	targets, err := b.matching(event)
	if err != nil {
		return fmt.Errorf("publish event %s: %w", event.ID, err)
	}

	var failures []error
	for _, target := range targets {
		err := target.enqueue(ctx, event)
		switch {
		case err == nil:
		case errors.Is(err, memoria.ErrEventDropped), errors.Is(err, memoria.ErrSubscriptionClosed):
			b.reportAsyncError(ctx, target.spec.Name, err)
		default:
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("publish event %s: %w", event.ID, errors.Join(failures...))
	}

	return nil
}

// Subscribe registers handler for events matching spec.Filter and starts its workers.
func (b *EventBus) Subscribe(
	ctx context.Context,
	spec memoria.SubscriptionSpec,
	handler memoria.EventHandler,
) (memoria.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, err)
	}
	if handler == nil {
		return nil, fmt.Errorf("subscribe %s: %w: nil handler", spec.Name, memoria.ErrInvalidSubscription)
	}
	if !validBackpressure(spec.Backpressure) {
		return nil, fmt.Errorf("subscribe %s: %w: backpressure %q",
			spec.Name, memoria.ErrInvalidSubscription, spec.Backpressure)
	}

	id := b.nextID.Add(1)
	spec = b.withDefaults(spec, id)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, fmt.Errorf("subscribe %s: %w", spec.Name, errBusClosed)
	}
	member := startSubscriber(id, spec, handler, b)
	b.members[id] = member

	return member, nil
}

// Close stops every subscription and waits for in-flight handlers until ctx expires.
func (b *EventBus) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	members := make([]*subscriber, 0, len(b.members))
	for _, member := range b.members {
		members = append(members, member)
	}
	b.members = make(map[int64]*subscriber)
	b.mu.Unlock()

	var failures []error
	for _, member := range members {
		if err := member.stop(ctx); err != nil {
			failures = append(failures, err)
		}
	}
	if len(failures) > 0 {
		return fmt.Errorf("close event bus: %w", errors.Join(failures...))
	}

	return nil
}

func (b *EventBus) matching(event *memoria.Event) ([]*subscriber, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, errBusClosed
	}
	targets := make([]*subscriber, 0, len(b.members))
	for _, member := range b.members {
		if member.spec.Filter.Matches(event) {
			targets = append(targets, member)
		}
	}

	return targets, nil
}

func (b *EventBus) withDefaults(spec memoria.SubscriptionSpec, id int64) memoria.SubscriptionSpec {
	if spec.Name == "" {
		spec.Name = fmt.Sprintf("subscription-%d", id)
	}
	if spec.Buffer <= 0 {
		spec.Buffer = b.defaults.buffer
	}
	if spec.Workers <= 0 {
		spec.Workers = b.defaults.workers
	}
	if spec.HandlerTimeout == 0 {
		spec.HandlerTimeout = b.defaults.handlerTimeout
	}
	if spec.Backpressure == "" {
		spec.Backpressure = memoria.BackpressureDropNewest
	}
	spec.Filter = cloneInterest(spec.Filter)

	return spec
}

func (b *EventBus) remove(ctx context.Context, id int64) error {
	b.mu.Lock()
	member, found := b.members[id]
	delete(b.members, id)
	b.mu.Unlock()

	if !found {
		return nil
	}

	return member.stop(ctx)
}

func (b *EventBus) reportAsyncError(ctx context.Context, scope string, err error) {
	if b.onAsyncError != nil {
		b.onAsyncError(ctx, scope, err)
	}
}

func validBackpressure(policy memoria.BackpressurePolicy) bool {
	switch policy {
	case "", memoria.BackpressureDropNewest, memoria.BackpressureDropOldest, memoria.BackpressureBlock:
		return true
	default:
		return false
	}
}

func cloneInterest(interest memoria.InterestSet) memoria.InterestSet {
	interest.Kinds = slices.Clone(interest.Kinds)
	interest.MediaTypes = slices.Clone(interest.MediaTypes)
	interest.Commands = slices.Clone(interest.Commands)

	return interest
}

// subscriber owns the queue and workers of one subscription.
type subscriber struct {
	id      int64
	spec    memoria.SubscriptionSpec
	handler memoria.EventHandler
	queue   chan *memoria.Event
	bus     *EventBus

	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
	stopping atomic.Bool
	stopOnce sync.Once
}

func startSubscriber(
	id int64,
	spec memoria.SubscriptionSpec,
	handler memoria.EventHandler,
	bus *EventBus,
) *subscriber {
	ctx, cancel := context.WithCancel(context.Background())
	member := &subscriber{
		id:      id,
		spec:    spec,
		handler: handler,
		queue:   make(chan *memoria.Event, spec.Buffer),
		bus:     bus,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}

	var workers sync.WaitGroup
	for worker := range spec.Workers {
		workers.Add(1)
		go func() {
			defer workers.Done()
			member.work(worker)
		}()
	}
	go func() {
		workers.Wait()
		close(member.done)
	}()

	return member
}

// Name returns the subscription name.
func (s *subscriber) Name() string {
	return s.spec.Name
}

// Close detaches the subscription from its bus.
func (s *subscriber) Close(ctx context.Context) error {
	return s.bus.remove(ctx, s.id)
}

func (s *subscriber) enqueue(ctx context.Context, event *memoria.Event) error {
	if s.stopping.Load() {
		return fmt.Errorf("enqueue %s: %w", s.spec.Name, memoria.ErrSubscriptionClosed)
	}

	select {
	case s.queue <- event:
		return nil
	default:
	}

	switch s.spec.Backpressure {
	case memoria.BackpressureDropOldest:
		select {
		case <-s.queue:
		default:
		}
		select {
		case s.queue <- event:
			return nil
		default:
		}
	case memoria.BackpressureBlock:
		select {
		case s.queue <- event:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, ctx.Err())
		case <-s.ctx.Done():
			return fmt.Errorf("enqueue %s: %w", s.spec.Name, memoria.ErrSubscriptionClosed)
		}
	}

	return fmt.Errorf("enqueue %s: %w", s.spec.Name, memoria.ErrEventDropped)
}

func (s *subscriber) work(worker int) {
	for {
		select {
		case <-s.ctx.Done():
			return
		case event := <-s.queue:
			if err := s.dispatch(worker, event); err != nil {
				s.bus.reportAsyncError(s.ctx, s.spec.Name, err)
			}
		}
	}
}

// dispatch runs one handler call. Handlers run on a context detached from
// subscription shutdown so in-flight events reach their terminal state; the
// per-subscription timeout still applies.
func (s *subscriber) dispatch(worker int, event *memoria.Event) error {
	ctx := context.WithoutCancel(s.ctx)
	if s.spec.HandlerTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.spec.HandlerTimeout)
		defer cancel()
	}

	scope := fmt.Sprintf("subscription %s worker %d", s.spec.Name, worker)
	if err := runSafely(scope, func() error {
		return s.handler(ctx, event)
	}); err != nil {
		return fmt.Errorf("handle event %s: %w", event.ID, err)
	}

	return nil
}

func (s *subscriber) stop(ctx context.Context) error {
	s.stopOnce.Do(func() {
		s.stopping.Store(true)
		s.cancel()
	})

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("stop subscription %s: %w", s.spec.Name, ctx.Err())
	}
}
