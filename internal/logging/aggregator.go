package logging

import (
	"log/slog"
	"sync"
	"time"
)

type eventKey struct {
	component string
	event     string
}

type eventTally struct {
	count int64
	last  []slog.Attr
}

// Aggregator counts repeated events and logs one summary per event per interval.
type Aggregator struct {
	logger   *slog.Logger
	interval time.Duration

	mu      sync.Mutex
	tallies map[eventKey]*eventTally

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewAggregator returns an aggregator flushing every intervalSecs seconds.
// A nil logger drops everything.
func NewAggregator(logger *slog.Logger, intervalSecs int) *Aggregator {
	if intervalSecs <= 0 {
		intervalSecs = 30
	}
	return &Aggregator{
		logger:   logger,
		interval: time.Duration(intervalSecs) * time.Second,
		tallies:  make(map[eventKey]*eventTally),
		stop:     make(chan struct{}),
	}
}

// Start launches the flush loop.
func (a *Aggregator) Start() {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ticker := time.NewTicker(a.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				a.flush()
			case <-a.stop:
				return
			}
		}
	}()
}

// Stop ends the flush loop and writes whatever is pending.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	a.wg.Wait()
	a.flush()
}

// Record bumps the counter for (component, event). The attrs of the latest
// call are attached to the summary.
func (a *Aggregator) Record(component, event string, fields ...slog.Attr) {
	a.mu.Lock()
	defer a.mu.Unlock()

	k := eventKey{component: component, event: event}
	t, ok := a.tallies[k]
	if !ok {
		t = &eventTally{}
		a.tallies[k] = t
	}
	t.count++
	if len(fields) > 0 {
		t.last = fields
	}
}

func (a *Aggregator) flush() {
	a.mu.Lock()
	if len(a.tallies) == 0 {
		a.mu.Unlock()
		return
	}
	pending := a.tallies
	a.tallies = make(map[eventKey]*eventTally)
	a.mu.Unlock()

	if a.logger == nil {
		return
	}
	for k, t := range pending {
		args := []any{
			slog.String("component", k.component),
			slog.String("event", k.event),
			slog.Int64("count", t.count),
			slog.Int("window_seconds", int(a.interval.Seconds())),
		}
		for _, f := range t.last {
			args = append(args, f)
		}
		a.logger.Info("event_summary", args...)
	}
}
