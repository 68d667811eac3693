package simulator

import (
	"fmt"
	"net"

	"github.com/nsvirk/stockmarket/internal/market"
	"github.com/nsvirk/stockmarket/internal/telemetry"
)

// subscription is one live UDP destination.
type subscription struct {
	addr *net.UDPAddr
	last int64
}

// queued is one expiry-ordered queue entry; a refresh appends a new
// entry rather than reordering, and stale entries are skipped on pop.
type queued struct {
	key  string
	last int64
}

// subscriptions tracks live subscribers with an expiry queue ordered by
// registration time, so eviction only ever inspects the head.
type subscriptions struct {
	byKey map[string]*subscription
	queue []queued
}

func newSubscriptions() *subscriptions {
	return &subscriptions{byKey: make(map[string]*subscription)}
}

// add registers or refreshes a subscriber.
func (s *subscriptions) add(host string, port int, now int64) error {
	key := fmt.Sprintf("%s:%d", host, port)
	sub, ok := s.byKey[key]
	if !ok {
		addr, err := net.ResolveUDPAddr("udp", key)
		if err != nil {
			return fmt.Errorf("resolve subscriber %s: %w", key, err)
		}
		sub = &subscription{addr: addr}
		s.byKey[key] = sub
	}
	sub.last = now
	s.queue = append(s.queue, queued{key: key, last: now})
	telemetry.SimSubscribers.Set(float64(len(s.byKey)))
	return nil
}

// expire evicts subscribers whose last refresh is at least the timeout
// old. Expiry at exactly the timeout is inclusive.
func (s *subscriptions) expire(now int64) int {
	evicted := 0
	for len(s.queue) > 0 {
		head := s.queue[0]
		sub, ok := s.byKey[head.key]
		if !ok || sub.last != head.last {
			// refreshed since this entry was queued; a newer entry
			// covers it
			s.queue = s.queue[1:]
			continue
		}
		if now-sub.last < int64(market.SubscribeTimeout) {
			break
		}
		delete(s.byKey, head.key)
		s.queue = s.queue[1:]
		evicted++
	}
	if evicted > 0 {
		telemetry.SimSubscribers.Set(float64(len(s.byKey)))
	}
	return evicted
}

// each calls fn for every live subscriber.
func (s *subscriptions) each(fn func(addr *net.UDPAddr)) {
	for _, sub := range s.byKey {
		fn(sub.addr)
	}
}

// len returns the live subscriber count.
func (s *subscriptions) len() int { return len(s.byKey) }
