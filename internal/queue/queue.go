// Package queue is the ingress wrapper for externally submitted searches:
// asynchronous intake, token-bucket consumption, bounded retries with
// exponential backoff, and per-item state-transition history.
package queue

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/qpd-v/deepwebresearch/internal/content"
	"github.com/qpd-v/deepwebresearch/internal/telemetry"
)

// ErrAlreadyStarted is returned by Cancel for items past the pending state.
var ErrAlreadyStarted = errors.New("item already started")

// ErrUnknownItem is returned by Cancel for ids the queue never issued.
var ErrUnknownItem = errors.New("unknown queue item")

// ItemStatus is the lifecycle state of one queued search.
type ItemStatus string

const (
	ItemPending    ItemStatus = "pending"
	ItemInProgress ItemStatus = "in_progress"
	ItemCompleted  ItemStatus = "completed"
	ItemFailed     ItemStatus = "failed"
	ItemCancelled  ItemStatus = "cancelled"
)

// EventType labels queue lifecycle events.
type EventType string

const (
	EventItemAdded     EventType = "item_added"
	EventItemStarted   EventType = "item_started"
	EventItemCompleted EventType = "item_completed"
	EventItemFailed    EventType = "item_failed"
	EventItemRetrying  EventType = "item_retrying"
	EventQueueDone     EventType = "queue_completed"
)

// Event is one entry of the queue's transition log, also delivered to
// subscribers. Consumers poll Status or read Events; there are no ad hoc
// listener registrations.
type Event struct {
	Type       EventType  `json:"type"`
	ItemID     string     `json:"item_id,omitempty"`
	Query      string     `json:"query,omitempty"`
	Status     ItemStatus `json:"status,omitempty"`
	Error      string     `json:"error,omitempty"`
	Attempt    int        `json:"attempt,omitempty"`
	OccurredAt time.Time  `json:"occurred_at"`
}

// Transition is one timestamped status change kept on the item itself.
type Transition struct {
	Status ItemStatus `json:"status"`
	At     time.Time  `json:"at"`
}

// Item is one queued search with its full status history.
type Item struct {
	ID          string               `json:"id"`
	Query       string               `json:"query"`
	Status      ItemStatus           `json:"status"`
	Retries     int                  `json:"retries"`
	Error       string               `json:"error,omitempty"`
	Result      *content.QueryResult `json:"result,omitempty"`
	Transitions []Transition         `json:"transitions"`
	AddedAt     time.Time            `json:"added_at"`
}

// Status is the aggregate view exposed to callers.
type Status struct {
	Pending    int    `json:"pending"`
	InProgress int    `json:"in_progress"`
	Completed  int    `json:"completed"`
	Failed     int    `json:"failed"`
	Cancelled  int    `json:"cancelled"`
	Current    string `json:"current_item,omitempty"`
}

// Handler executes one query; the queue owns retry policy around it.
type Handler func(ctx context.Context, query string) (content.QueryResult, error)

// Config bounds queue behaviour.
type Config struct {
	MaxRetries  int
	RateEvery   time.Duration
	RateBurst   int
	RetryBase   time.Duration
	EventBuffer int
}

// Queue holds pending searches and drains them under a token bucket.
type Queue struct {
	cfg     Config
	handler Handler
	logger  *log.Logger
	limiter *rate.Limiter

	mu      sync.Mutex
	items   map[string]*Item
	pending []string
	current string
	wake    chan struct{}
	events  chan Event
}

// New builds a queue draining into handler. Defaults: 3 retries, a token
// every 2 seconds with burst 3.
func New(cfg Config, handler Handler, logger *log.Logger) *Queue {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RateEvery <= 0 {
		cfg.RateEvery = 2 * time.Second
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 3
	}
	if cfg.RetryBase <= 0 {
		cfg.RetryBase = 2 * time.Second
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 64
	}
	if logger == nil {
		logger = log.New(os.Stdout, "[QUEUE] ", log.LstdFlags)
	}
	return &Queue{
		cfg:     cfg,
		handler: handler,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Every(cfg.RateEvery), cfg.RateBurst),
		items:   make(map[string]*Item),
		wake:    make(chan struct{}, 1),
		events:  make(chan Event, cfg.EventBuffer),
	}
}

// Add accepts one query and returns its id immediately.
func (q *Queue) Add(query string) string {
	q.mu.Lock()
	item := &Item{
		ID:      uuid.NewString(),
		Query:   query,
		Status:  ItemPending,
		AddedAt: time.Now(),
	}
	item.Transitions = append(item.Transitions, Transition{Status: ItemPending, At: item.AddedAt})
	q.items[item.ID] = item
	q.pending = append(q.pending, item.ID)
	telemetry.QueuePending.Inc()
	q.mu.Unlock()

	q.emit(Event{Type: EventItemAdded, ItemID: item.ID, Query: query, Status: ItemPending})
	q.kick()
	return item.ID
}

// AddBatch accepts queries in order and returns their ids.
func (q *Queue) AddBatch(queries []string) []string {
	ids := make([]string, 0, len(queries))
	for _, query := range queries {
		ids = append(ids, q.Add(query))
	}
	return ids
}

// Cancel cancels a still-pending item. Items already in progress or
// settled cannot be cancelled.
func (q *Queue) Cancel(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return ErrUnknownItem
	}
	if item.Status != ItemPending {
		return ErrAlreadyStarted
	}
	q.transitionLocked(item, ItemCancelled)
	q.removePendingLocked(id)
	return nil
}

// CancelAll cancels every pending item and returns how many were cancelled.
func (q *Queue) CancelAll() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, id := range q.pending {
		if item := q.items[id]; item != nil && item.Status == ItemPending {
			q.transitionLocked(item, ItemCancelled)
			n++
		}
	}
	q.pending = q.pending[:0]
	return n
}

// Status returns aggregate counts plus the item currently processing.
func (q *Queue) Status() Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	var st Status
	for _, item := range q.items {
		switch item.Status {
		case ItemPending:
			st.Pending++
		case ItemInProgress:
			st.InProgress++
		case ItemCompleted:
			st.Completed++
		case ItemFailed:
			st.Failed++
		case ItemCancelled:
			st.Cancelled++
		}
	}
	st.Current = q.current
	return st
}

// Item returns a copy of the item with the given id.
func (q *Queue) Item(id string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	item, ok := q.items[id]
	if !ok {
		return Item{}, false
	}
	return *item, true
}

// Events exposes the lifecycle event stream. The channel is buffered;
// events are dropped rather than blocking the consumption loop.
func (q *Queue) Events() <-chan Event { return q.events }

// Run is the single consumption loop. It blocks until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) {
	for {
		id, ok := q.nextPending()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-q.wake:
				continue
			}
		}
		if err := q.limiter.Wait(ctx); err != nil {
			return
		}
		q.process(ctx, id)
	}
}

// process runs one item to a terminal state, retrying transient failures
// with exponential backoff (2^attempt seconds) up to MaxRetries.
func (q *Queue) process(ctx context.Context, id string) {
	q.mu.Lock()
	item, ok := q.items[id]
	if !ok || item.Status != ItemPending {
		q.mu.Unlock()
		return
	}
	q.transitionLocked(item, ItemInProgress)
	q.current = id
	query := item.Query
	q.mu.Unlock()
	q.emit(Event{Type: EventItemStarted, ItemID: id, Query: query, Status: ItemInProgress})

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = q.cfg.RetryBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = q.cfg.RetryBase << uint(q.cfg.MaxRetries)
	bo.Reset()

	var res content.QueryResult
	var err error
	for attempt := 0; ; attempt++ {
		res, err = q.handler(ctx, query)
		if err == nil || attempt >= q.cfg.MaxRetries || ctx.Err() != nil {
			break
		}
		q.mu.Lock()
		item.Retries = attempt + 1
		q.mu.Unlock()
		q.emit(Event{Type: EventItemRetrying, ItemID: id, Query: query, Attempt: attempt + 1, Error: err.Error()})
		select {
		case <-ctx.Done():
			err = ctx.Err()
		case <-time.After(bo.NextBackOff()):
			continue
		}
		break
	}

	q.mu.Lock()
	q.current = ""
	if err != nil {
		item.Error = err.Error()
		q.transitionLocked(item, ItemFailed)
	} else {
		item.Result = &res
		q.transitionLocked(item, ItemCompleted)
	}
	drained := len(q.pending) == 0
	q.mu.Unlock()

	if err != nil {
		q.emit(Event{Type: EventItemFailed, ItemID: id, Query: query, Status: ItemFailed, Error: err.Error()})
	} else {
		q.emit(Event{Type: EventItemCompleted, ItemID: id, Query: query, Status: ItemCompleted})
	}
	if drained {
		q.emit(Event{Type: EventQueueDone})
	}
}

func (q *Queue) nextPending() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.pending) > 0 {
		id := q.pending[0]
		q.pending = q.pending[1:]
		if item := q.items[id]; item != nil && item.Status == ItemPending {
			return id, true
		}
	}
	return "", false
}

func (q *Queue) transitionLocked(item *Item, status ItemStatus) {
	if item.Status == ItemPending && status != ItemPending {
		telemetry.QueuePending.Dec()
	}
	item.Status = status
	item.Transitions = append(item.Transitions, Transition{Status: status, At: time.Now()})
}

func (q *Queue) removePendingLocked(id string) {
	for i, p := range q.pending {
		if p == id {
			q.pending = append(q.pending[:i], q.pending[i+1:]...)
			return
		}
	}
}

func (q *Queue) emit(ev Event) {
	ev.OccurredAt = time.Now()
	select {
	case q.events <- ev:
	default:
		q.logger.Printf("event buffer full, dropping %s", ev.Type)
	}
}

func (q *Queue) kick() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}
