package stats

import (
	"cmp"
	"fmt"
	"io"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

type Stage string

const (
	StageFetch   Stage = "fetch"
	StageFilter  Stage = "filter"
	StageExtract Stage = "extract"
)

type EventType string

const (
	EventTypeListed    EventType = "listed"
	EventTypeKnown     EventType = "known"
	EventTypeDuplicate EventType = "duplicate"
	EventTypeExtracted EventType = "extracted"
	// EventTypeUnchanged is a successful extraction the ledger already held.
	EventTypeUnchanged EventType = "unchanged"
	EventTypeFailed    EventType = "failed"
	EventTypeTransport EventType = "transport_error"
)

type Event struct {
	Stage        Stage
	Type         EventType
	MessageID    string
	Carrier      string
	Organization string
	Err          error
}

type Summary struct {
	Listed          int
	Known           int
	Duplicates      int
	Extracted       int
	Unchanged       int
	Failed          int
	TransportErrors int
	ByCarrier       map[string]int
	ByOrganization  map[string]int
	LastError       error
}

// Fields renders the summary for a structured log line.
func (s Summary) Fields() []zap.Field {
	fields := []zap.Field{
		zap.Int("listed", s.Listed),
		zap.Int("known", s.Known),
		zap.Int("duplicates", s.Duplicates),
		zap.Int("extracted", s.Extracted),
		zap.Int("unchanged", s.Unchanged),
		zap.Int("failed", s.Failed),
		zap.Int("transportErrors", s.TransportErrors),
	}
	if len(s.ByCarrier) > 0 {
		fields = append(fields, zap.Any("byCarrier", s.ByCarrier))
	}
	if len(s.ByOrganization) > 0 {
		fields = append(fields, zap.Any("byOrganization", s.ByOrganization))
	}
	if s.LastError != nil {
		fields = append(fields, zap.String("lastError", s.LastError.Error()))
	}
	return fields
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{summary: Summary{
		ByCarrier:      make(map[string]int),
		ByOrganization: make(map[string]int),
	}}
}

func (c *Collector) Record(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeListed:
		c.summary.Listed++
	case EventTypeKnown:
		c.summary.Known++
	case EventTypeDuplicate:
		c.summary.Duplicates++
	case EventTypeExtracted:
		c.summary.Extracted++
		c.summary.ByCarrier[evt.Carrier]++
		c.summary.ByOrganization[evt.Organization]++
	case EventTypeUnchanged:
		c.summary.Unchanged++
	case EventTypeFailed:
		c.summary.Failed++
		c.summary.LastError = evt.Err
	case EventTypeTransport:
		c.summary.TransportErrors++
		c.summary.LastError = evt.Err
	}
}

// Snapshot returns a copy that later events do not change.
func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	defer c.mu.Unlock()
	summary := c.summary
	summary.ByCarrier = cloneCounts(c.summary.ByCarrier)
	summary.ByOrganization = cloneCounts(c.summary.ByOrganization)
	return summary
}

func cloneCounts(m map[string]int) map[string]int {
	out := make(map[string]int, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Recorder receives run events.
type Recorder interface {
	Record(evt Event)
}

// Reporter collects events and logs a summary when the run finishes.
type Reporter struct {
	collector *Collector
	logger    *zap.Logger
	started   time.Time
}

func NewReporter(logger *zap.Logger) *Reporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
}

func (r *Reporter) Record(evt Event) {
	r.collector.Record(evt)
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}

// Finish logs the summary and returns it.
func (r *Reporter) Finish() Summary {
	summary := r.collector.Snapshot()
	fields := append(summary.Fields(), zap.Duration("duration", time.Since(r.started)))
	r.logger.Info("stats summary", fields...)
	return summary
}

// Count is one entry of a frequency table.
type Count struct {
	Key   string
	Value int
}

// Top returns the limit most frequent entries, ties broken by key. A
// non-positive limit returns every entry.
func Top(m map[string]int, limit int) []Count {
	pairs := make([]Count, 0, len(m))
	for k, v := range m {
		pairs = append(pairs, Count{k, v})
	}

	slices.SortFunc(pairs, func(a, b Count) int {
		if c := cmp.Compare(b.Value, a.Value); c != 0 {
			return c
		}
		return cmp.Compare(a.Key, b.Key)
	})

	if limit > 0 && len(pairs) > limit {
		pairs = pairs[:limit]
	}
	return pairs
}

// PrettyPrintTop prints the top N most frequent items in a map.
func PrettyPrintTop(w io.Writer, m map[string]int, limit int) {
	for i, p := range Top(m, limit) {
		fmt.Fprintf(w, "%d. %s (%d)\n", i+1, p.Key, p.Value)
	}
}
