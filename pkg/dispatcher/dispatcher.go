// Package dispatcher implements the PacketDispatcher: an asynchronous
// routing layer that matches incoming packets to one-shot awaiters
// (with optional predicates) or to registered default handlers, with
// bounded latency under backpressure (spec.md §4.5). The four staging
// lists and committed maps of the original design map onto Go
// goroutine-safe staging lists feeding a single delivery-loop
// goroutine that alone owns the committed maps — no locks on that
// side, matching spec.md §5's "no locks on the hot path".
package dispatcher

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"nodecore/pkg/backoff"
	"nodecore/pkg/packet"
)

// Handler is a long-lived sink for packets of a given id that no
// awaiter claims (spec.md §4.5.1 register_default_handler).
type Handler func(packet.Envelope)

// Predicate filters which packets of an id an awaiter or handler will
// accept.
type Predicate func(packet.Envelope) bool

type awaiterEntry struct {
	id     packet.ID
	result chan packet.Envelope
}

type filteredEntry struct {
	id        packet.ID
	predicate Predicate
	result    chan packet.Envelope
}

type handlerEntry struct {
	id        packet.ID
	delay     time.Duration
	predicate Predicate
	handler   Handler
}

// Dispatcher routes enqueued packets to awaiters or default handlers.
// The zero value is not usable; construct with New.
type Dispatcher struct {
	log *zap.Logger

	stagingPackets  staging[packet.Stamped]
	stagingAwaiters staging[awaiterEntry]
	stagingFiltered staging[filteredEntry]
	stagingHandlers staging[handlerEntry]

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New constructs a Dispatcher. Call Start to launch its delivery loop.
func New(log *zap.Logger) *Dispatcher {
	if log == nil {
		log = zap.NewNop()
	}
	return &Dispatcher{log: log}
}

// Start launches the delivery-loop goroutine. It must be called at
// most once.
func (d *Dispatcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.wg.Add(1)
	go d.loop(ctx)
}

// Close stops the delivery loop and waits for it to exit.
func (d *Dispatcher) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	d.wg.Wait()
}

// EnqueuePacket stages env for the next delivery pass. Non-blocking.
func (d *Dispatcher) EnqueuePacket(env packet.Envelope) {
	d.stagingPackets.push(packet.Stamped{Envelope: env, CreatedAt: time.Now()})
}

// AwaitPacket returns the next envelope with the given id. If
// timeout <= 0 it waits indefinitely (until ctx is done); otherwise it
// returns ok=false after timeout elapses (spec.md §4.5.1).
func (d *Dispatcher) AwaitPacket(ctx context.Context, id packet.ID, timeout time.Duration) (packet.Envelope, bool) {
	return d.await(ctx, id, nil, timeout)
}

// AwaitPacketPredicate is AwaitPacket with an additional predicate the
// envelope must satisfy.
func (d *Dispatcher) AwaitPacketPredicate(ctx context.Context, id packet.ID, predicate Predicate, timeout time.Duration) (packet.Envelope, bool) {
	return d.await(ctx, id, predicate, timeout)
}

func (d *Dispatcher) await(ctx context.Context, id packet.ID, predicate Predicate, timeout time.Duration) (packet.Envelope, bool) {
	result := make(chan packet.Envelope, 1)
	if predicate != nil {
		d.stagingFiltered.push(filteredEntry{id: id, predicate: predicate, result: result})
	} else {
		d.stagingAwaiters.push(awaiterEntry{id: id, result: result})
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case env := <-result:
			return env, true
		case <-timer.C:
			return nil, false
		case <-ctx.Done():
			return nil, false
		}
	}
	select {
	case env := <-result:
		return env, true
	case <-ctx.Done():
		return nil, false
	}
}

// RegisterDefaultHandler installs a long-lived handler for id. delay
// is the minimum packet age, measured from when EnqueuePacket staged
// it, before the handler is eligible to fire — this keeps a handler from racing an
// awaiter registered moments later (spec.md §4.5.1).
func (d *Dispatcher) RegisterDefaultHandler(id packet.ID, handler Handler, predicate Predicate, delay time.Duration) {
	d.stagingHandlers.push(handlerEntry{id: id, handler: handler, predicate: predicate, delay: delay})
}

// deliveryBackoff tunes the delivery loop's idle sleep (spec.md §4.5.3
// step 4: initial 1µs, cap 500µs, mult 2, divisor 32, jitter 10%).
func deliveryBackoff() *backoff.Controller {
	return backoff.New(backoff.Config{
		Initial:    time.Microsecond,
		Cap:        500 * time.Microsecond,
		Multiplier: 2,
		Divisor:    32,
		Jitter:     0.10,
	})
}

func (d *Dispatcher) loop(ctx context.Context) {
	defer d.wg.Done()
	ctl := deliveryBackoff()

	pending := make(map[packet.ID][]packet.Stamped)
	awaiters := make(map[packet.ID][]awaiterEntry)
	filtered := make(map[packet.ID][]filteredEntry)
	handlers := make(map[packet.ID][]handlerEntry)

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		drainedAny := d.drainStaging(pending, awaiters, filtered, handlers)
		progressed, nextWake := d.deliverPass(pending, awaiters, filtered, handlers)
		progressed = progressed || drainedAny

		if progressed {
			ctl.Reset()
			continue
		}
		if !nextWake.IsZero() {
			time.Sleep(time.Until(nextWake))
			continue
		}
		ctl.Increase()
		ctl.Sleep()
	}
}

func (d *Dispatcher) drainStaging(
	pending map[packet.ID][]packet.Stamped,
	awaiters map[packet.ID][]awaiterEntry,
	filtered map[packet.ID][]filteredEntry,
	handlers map[packet.ID][]handlerEntry,
) bool {
	drainedAny := false

	if items := d.stagingPackets.drain(); len(items) > 0 {
		for _, it := range items {
			pending[it.ID()] = append(pending[it.ID()], it)
		}
		drainedAny = true
	}
	if items := d.stagingAwaiters.drain(); len(items) > 0 {
		for _, it := range items {
			awaiters[it.id] = append(awaiters[it.id], it)
		}
		drainedAny = true
	}
	if items := d.stagingFiltered.drain(); len(items) > 0 {
		for _, it := range items {
			filtered[it.id] = append(filtered[it.id], it)
		}
		drainedAny = true
	}
	if items := d.stagingHandlers.drain(); len(items) > 0 {
		for _, it := range items {
			handlers[it.id] = append(handlers[it.id], it)
		}
		drainedAny = true
	}
	return drainedAny
}

// deliverPass runs one iteration of the pseudocode in spec.md §4.5.3
// step 2 over the committed maps. It reports whether any packet was
// consumed and the earliest instant a delayed handler next becomes
// eligible, if any.
func (d *Dispatcher) deliverPass(
	pending map[packet.ID][]packet.Stamped,
	awaiters map[packet.ID][]awaiterEntry,
	filtered map[packet.ID][]filteredEntry,
	handlers map[packet.ID][]handlerEntry,
) (progressed bool, nextWake time.Time) {
	now := time.Now()

	for id, pkts := range pending {
		survivors := pkts[:0]
		for _, stamped := range pkts {
			consumed := false

			// (a) filtered awaiter: first matching predicate wins.
			if fl := filtered[id]; len(fl) > 0 {
				for i, fe := range fl {
					if fe.predicate(stamped.Envelope) {
						fe.result <- stamped.Envelope
						filtered[id] = append(fl[:i:i], fl[i+1:]...)
						consumed = true
						progressed = true
						break
					}
				}
			}

			// (b) plain awaiter: FIFO.
			if !consumed {
				if aw := awaiters[id]; len(aw) > 0 {
					aw[0].result <- stamped.Envelope
					awaiters[id] = aw[1:]
					consumed = true
					progressed = true
				}
			}

			// (c) default handler, in registration order.
			if !consumed {
				for _, h := range handlers[id] {
					age := stamped.Age(now)
					if age >= h.delay && (h.predicate == nil || h.predicate(stamped.Envelope)) {
						d.invokeHandler(h.handler, stamped.Envelope)
						consumed = true
						progressed = true
						break
					}
					if h.delay > age {
						wake := now.Add(h.delay - age)
						if nextWake.IsZero() || wake.Before(nextWake) {
							nextWake = wake
						}
					}
				}
			}

			// (d) expiration.
			if !consumed && stamped.Expired(now) {
				consumed = true
				progressed = true
			}

			if !consumed {
				survivors = append(survivors, stamped)
			}
		}

		if len(survivors) == 0 {
			delete(pending, id)
		} else {
			pending[id] = survivors
		}
	}
	return progressed, nextWake
}

// invokeHandler runs h with recover, so a handler panic is logged and
// the packet is still considered delivered rather than re-queued
// (spec.md §4.5.5, §7 HandlerException).
func (d *Dispatcher) invokeHandler(h Handler, env packet.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("dispatcher: default handler panicked",
				zap.Any("panic", r), zap.String("id", packet.Name(env.ID())))
		}
	}()
	h(env)
}
