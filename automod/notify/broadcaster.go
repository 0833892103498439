package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v3"
)

var ErrBroadcasterClosed = errors.New("broadcaster shut down")

// Wire format of every event sent to subscribers.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Process-wide publish/subscribe hub. A single Run goroutine owns the subscriber list, so each subscriber sees events in publish order. Slow subscribers lose events instead of blocking publishers.
type Broadcaster struct {
	logger *slog.Logger

	// only touched by the Run goroutine
	subs []*subscriber

	ops        chan *operation
	closed     chan struct{}
	bufferSize int

	nextID atomic.Uint64
	stats  *xsync.MapOf[uint64, *SubscriberStats]
}

type SubscriberStats struct {
	ID          uint64
	Label       string
	ConnectedAt time.Time
	Delivered   atomic.Int64
	Dropped     atomic.Int64
}

// Point-in-time view of one subscriber's delivery counters.
type SubscriberSnapshot struct {
	ID          uint64    `json:"id"`
	Label       string    `json:"label"`
	ConnectedAt time.Time `json:"connectedAt"`
	Delivered   int64     `json:"delivered"`
	Dropped     int64     `json:"dropped"`
}

type subscriber struct {
	outgoing chan []byte
	stats    *SubscriberStats
}

const (
	opSubscribe = iota
	opUnsubscribe
	opSend
)

type operation struct {
	op  int
	sub *subscriber
	msg []byte
}

func NewBroadcaster(logger *slog.Logger, bufferSize int) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Broadcaster{
		logger:     logger.With("component", "broadcaster"),
		ops:        make(chan *operation),
		closed:     make(chan struct{}),
		bufferSize: bufferSize,
		stats:      xsync.NewMapOf[uint64, *SubscriberStats](),
	}
}

var _ Notifier = (*Broadcaster)(nil)

// Runs the fan-out loop until ctx is done. Must be started exactly once; on exit all subscriber channels are closed.
func (b *Broadcaster) Run(ctx context.Context) {
	defer func() {
		close(b.closed)
		for _, s := range b.subs {
			b.stats.Delete(s.stats.ID)
			close(s.outgoing)
			broadcasterSubscribers.Dec()
		}
		b.subs = nil
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case op := <-b.ops:
			switch op.op {
			case opSubscribe:
				b.subs = append(b.subs, op.sub)
				broadcasterSubscribers.Inc()
			case opUnsubscribe:
				for i, s := range b.subs {
					if s == op.sub {
						b.subs[i] = b.subs[len(b.subs)-1]
						b.subs = b.subs[:len(b.subs)-1]
						b.stats.Delete(s.stats.ID)
						close(s.outgoing)
						broadcasterSubscribers.Dec()
						break
					}
				}
			case opSend:
				for _, s := range b.subs {
					select {
					case s.outgoing <- op.msg:
						s.stats.Delivered.Add(1)
					default:
						s.stats.Dropped.Add(1)
						broadcasterDropped.Inc()
						b.logger.Warn("event overflow", "subscriber", s.stats.ID)
					}
				}
			default:
				b.logger.Error("unrecognized broadcaster operation", "op", op.op)
			}
		}
	}
}

func (b *Broadcaster) Publish(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", name, err)
	}
	msg, err := json.Marshal(Envelope{Event: name, Data: data})
	if err != nil {
		return err
	}
	select {
	case b.ops <- &operation{op: opSend, msg: msg}:
		broadcasterPublished.WithLabelValues(name).Inc()
		return nil
	case <-b.closed:
		return ErrBroadcasterClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Registers a new subscriber; label identifies it in Subscribers. Only events published after this returns are delivered. The channel is closed after cleanup is called, or when the broadcaster shuts down.
func (b *Broadcaster) Subscribe(label string) (<-chan []byte, func(), error) {
	sub := &subscriber{
		outgoing: make(chan []byte, b.bufferSize),
		stats: &SubscriberStats{
			ID:          b.nextID.Add(1),
			Label:       label,
			ConnectedAt: time.Now().UTC(),
		},
	}
	b.stats.Store(sub.stats.ID, sub.stats)
	select {
	case b.ops <- &operation{op: opSubscribe, sub: sub}:
	case <-b.closed:
		b.stats.Delete(sub.stats.ID)
		return nil, nil, ErrBroadcasterClosed
	}

	cleanup := func() {
		select {
		case b.ops <- &operation{op: opUnsubscribe, sub: sub}:
		case <-b.closed:
		}
	}
	return sub.outgoing, cleanup, nil
}

// Number of currently registered subscribers. Safe to call from any goroutine.
func (b *Broadcaster) NumSubscribers() int {
	return b.stats.Size()
}

// Delivery counters of every current subscriber, oldest first. Safe to call from any goroutine.
func (b *Broadcaster) Subscribers() []SubscriberSnapshot {
	out := make([]SubscriberSnapshot, 0, b.stats.Size())
	b.stats.Range(func(id uint64, s *SubscriberStats) bool {
		out = append(out, SubscriberSnapshot{
			ID:          id,
			Label:       s.Label,
			ConnectedAt: s.ConnectedAt,
			Delivered:   s.Delivered.Load(),
			Dropped:     s.Dropped.Load(),
		})
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}
