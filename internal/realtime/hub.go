package realtime

import (
	"errors"
	"sync"

	"github.com/goodtune/adherence/internal/compliance"
	"github.com/goodtune/adherence/internal/metrics"
	"github.com/rs/zerolog"
)

const (
	// DefaultQueueSize bounds the hub's command queue.
	DefaultQueueSize = 256

	// DefaultSubscriberBuffer bounds each subscriber's event channel.
	DefaultSubscriberBuffer = 16
)

// ErrClosed is returned by Subscribe after the hub has been closed.
var ErrClosed = errors.New("realtime hub closed")

// Config holds hub configuration
type Config struct {
	QueueSize        int
	SubscriberBuffer int
}

// Hub fans events out to the subscribers of each patient. A single
// goroutine owns the subscriber table; everything else talks to it through
// the command queue.
type Hub struct {
	commands  chan command
	done      chan struct{}
	stopped   chan struct{}
	closeOnce sync.Once
	buffer    int
	logger    zerolog.Logger
}

type commandKind int

const (
	cmdSubscribe commandKind = iota
	cmdUnsubscribe
	cmdPublish
)

type command struct {
	kind      commandKind
	patientID string
	sub       *Subscription
	event     compliance.Event
	ack       chan struct{}
}

// NewHub creates and starts a hub. Call Close to stop it.
func NewHub(config Config, logger zerolog.Logger) *Hub {
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.SubscriberBuffer <= 0 {
		config.SubscriberBuffer = DefaultSubscriberBuffer
	}

	h := &Hub{
		commands: make(chan command, config.QueueSize),
		done:     make(chan struct{}),
		stopped:  make(chan struct{}),
		buffer:   config.SubscriberBuffer,
		logger:   logger.With().Str("component", "realtime").Logger(),
	}

	go h.run()

	return h
}

// Publish queues event for every subscriber of patientID. It never blocks:
// the event is dropped when the queue is full or the hub is closed.
func (h *Hub) Publish(patientID string, event compliance.Event) {
	select {
	case <-h.done:
		metrics.RealtimeEvents.WithLabelValues("closed").Inc()
		return
	default:
	}

	select {
	case h.commands <- command{kind: cmdPublish, patientID: patientID, event: event}:
	default:
		metrics.RealtimeEvents.WithLabelValues("queue_full").Inc()
	}
}

// Subscribe registers a new subscriber for patientID. The returned
// subscription must be closed by the caller.
func (h *Hub) Subscribe(patientID string) (*Subscription, error) {
	sub := &Subscription{
		patientID: patientID,
		events:    make(chan compliance.Event, h.buffer),
		hub:       h,
	}

	cmd := command{kind: cmdSubscribe, patientID: patientID, sub: sub, ack: make(chan struct{}, 1)}
	select {
	case h.commands <- cmd:
	case <-h.done:
		return nil, ErrClosed
	}

	// Wait until the hub owns the subscriber so later publishes reach it.
	select {
	case <-cmd.ack:
		return sub, nil
	case <-h.stopped:
		return nil, ErrClosed
	}
}

// Close stops the hub and closes every subscriber's event channel.
func (h *Hub) Close() {
	h.closeOnce.Do(func() {
		close(h.done)
		<-h.stopped
	})
}

func (h *Hub) unsubscribe(sub *Subscription) {
	select {
	case h.commands <- command{kind: cmdUnsubscribe, patientID: sub.patientID, sub: sub}:
	case <-h.done:
	}
}

func (h *Hub) run() {
	defer close(h.stopped)

	subscribers := make(map[string]map[*Subscription]struct{})

	for {
		select {
		case <-h.done:
			for _, subs := range subscribers {
				for sub := range subs {
					close(sub.events)
					metrics.RealtimeSubscribers.Dec()
				}
			}
			h.logger.Debug().Msg("Realtime hub stopped")
			return

		case cmd := <-h.commands:
			switch cmd.kind {
			case cmdSubscribe:
				subs, ok := subscribers[cmd.patientID]
				if !ok {
					subs = make(map[*Subscription]struct{})
					subscribers[cmd.patientID] = subs
				}
				subs[cmd.sub] = struct{}{}
				cmd.ack <- struct{}{}
				metrics.RealtimeSubscribers.Inc()
				h.logger.Debug().Str("patient_id", cmd.patientID).Int("subscribers", len(subs)).Msg("Subscriber added")

			case cmdUnsubscribe:
				subs := subscribers[cmd.patientID]
				if _, ok := subs[cmd.sub]; !ok {
					continue
				}
				delete(subs, cmd.sub)
				close(cmd.sub.events)
				metrics.RealtimeSubscribers.Dec()
				if len(subs) == 0 {
					delete(subscribers, cmd.patientID)
				}
				h.logger.Debug().Str("patient_id", cmd.patientID).Msg("Subscriber removed")

			case cmdPublish:
				subs := subscribers[cmd.patientID]
				if len(subs) == 0 {
					metrics.RealtimeEvents.WithLabelValues("no_subscriber").Inc()
					continue
				}
				for sub := range subs {
					select {
					case sub.events <- cmd.event:
						metrics.RealtimeEvents.WithLabelValues("delivered").Inc()
					default:
						metrics.RealtimeEvents.WithLabelValues("subscriber_full").Inc()
					}
				}
			}
		}
	}
}

// Subscription is one consumer of a patient's events.
type Subscription struct {
	patientID string
	events    chan compliance.Event
	hub       *Hub
	closeOnce sync.Once
}

// PatientID returns the patient this subscription listens to.
func (s *Subscription) PatientID() string {
	return s.patientID
}

// Events returns the event stream. It is closed after Close or when the
// hub shuts down.
func (s *Subscription) Events() <-chan compliance.Event {
	return s.events
}

// Close unsubscribes. It is safe to call more than once.
func (s *Subscription) Close() {
	s.closeOnce.Do(func() {
		s.hub.unsubscribe(s)
	})
}
