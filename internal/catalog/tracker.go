package catalog

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// Ticket tags one issued request.
type Ticket uint64

// Tracker applies results in issue order: a result is accepted only when its
// ticket is the most recently issued one.
type Tracker[T any] struct {
	mu      sync.Mutex
	latest  Ticket
	applied Ticket
	value   T
	has     bool
}

// Begin issues a ticket that supersedes every earlier one.
func (t *Tracker[T]) Begin() Ticket {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest++
	return t.latest
}

func (t *Tracker[T]) IsCurrent(ticket Ticket) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return ticket == t.latest
}

// Commit stores value and reports true only when ticket is still current.
func (t *Tracker[T]) Commit(ticket Ticket, value T) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ticket != t.latest || ticket == t.applied {
		return false
	}
	t.applied = ticket
	t.value = value
	t.has = true
	return true
}

// Current returns the last committed value and its ticket.
func (t *Tracker[T]) Current() (T, Ticket, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.value, t.applied, t.has
}

// Searcher runs one search.
type Searcher interface {
	Search(ctx context.Context, query Query) (Result, error)
}

// LiveSearch runs searches as they are typed. Each submission supersedes the
// previous ones; stale responses are dropped when they arrive.
type LiveSearch struct {
	searcher Searcher
	tracker  Tracker[Result]
	deliver  sync.Mutex
	onResult func(Ticket, Query, Result)
	logger   *zap.Logger
	wg       sync.WaitGroup
}

func NewLiveSearch(searcher Searcher, logger *zap.Logger, onResult func(Ticket, Query, Result)) *LiveSearch {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LiveSearch{searcher: searcher, onResult: onResult, logger: logger}
}

// Submit starts a search and returns its ticket without waiting.
func (l *LiveSearch) Submit(ctx context.Context, query Query) Ticket {
	ticket := l.tracker.Begin()
	l.wg.Add(1)
	go func() {
		defer l.wg.Done()
		result, err := l.searcher.Search(ctx, query)
		if err != nil {
			l.logger.Warn("live search failed", zap.String("keyword", query.Keyword), zap.Error(err))
			result = Result{Degraded: true, Notice: DegradedNotice}
		}
		l.deliver.Lock()
		defer l.deliver.Unlock()
		if l.tracker.Commit(ticket, result) && l.onResult != nil {
			l.onResult(ticket, query, result)
		}
	}()
	return ticket
}

// Wait blocks until every submitted search has finished.
func (l *LiveSearch) Wait() {
	l.wg.Wait()
}

func (l *LiveSearch) Current() (Result, Ticket, bool) {
	return l.tracker.Current()
}
