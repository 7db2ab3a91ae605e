package kvstore

import (
	"context"
	"sync"
	"time"
)

// ChangeEvent reports that a key was written or removed.
type ChangeEvent struct {
	Category  Category
	Key       string
	Version   int64
	Removed   bool
	Timestamp time.Time
}

// Broadcaster fans change events out to subscribers without blocking writers.
// A subscriber whose buffer is full misses the event.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
	bufferSize  int
	watchers    sync.WaitGroup
}

type subscriber struct {
	id         int64
	categories map[Category]struct{}
	stream     chan ChangeEvent
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[int64]*subscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for the given categories, or for every
// category when none are passed. The subscription ends when ctx is done or
// the returned cleanup runs.
func (b *Broadcaster) Subscribe(ctx context.Context, categories ...Category) (<-chan ChangeEvent, func()) {
	filter := make(map[Category]struct{}, len(categories))
	for _, category := range categories {
		filter[category] = struct{}{}
	}
	sub := &subscriber{
		categories: filter,
		stream:     make(chan ChangeEvent, b.bufferSize),
	}

	b.mu.Lock()
	b.nextID++
	sub.id = b.nextID
	b.subscribers[sub.id] = sub
	b.mu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, sub.id)
			b.mu.Unlock()
			close(done)
		})
	}
	b.watchers.Add(1)
	go func() {
		defer b.watchers.Done()
		select {
		case <-ctx.Done():
			cleanup()
		case <-done:
		}
	}()
	return sub.stream, cleanup
}

func (b *Broadcaster) Publish(event ChangeEvent) {
	if event.Category == "" {
		return
	}
	b.mu.RLock()
	targets := make([]*subscriber, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		if len(sub.categories) > 0 {
			if _, ok := sub.categories[event.Category]; !ok {
				continue
			}
		}
		targets = append(targets, sub)
	}
	b.mu.RUnlock()

	for _, sub := range targets {
		select {
		case sub.stream <- event:
		default:
		}
	}
}

func (b *Broadcaster) subscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
