package progress

import (
	"io"
	"os"
	"sync"

	"github.com/pterm/pterm"

	"github.com/dhcgn/parcelscan/stats"
)

// Bar draws a progress bar over the messages a run extracts. It writes to
// stderr so that stdout carries only tracking numbers.
type Bar struct {
	pb      *pterm.ProgressbarPrinter
	out     io.Writer
	total   int
	done    int
	mu      sync.Mutex
	enabled bool
}

// New returns a Bar. A disabled Bar ignores every call.
func New(enabled bool) *Bar {
	return &Bar{enabled: enabled, out: os.Stderr}
}

// WithWriter redirects the bar, mainly for tests.
func (b *Bar) WithWriter(w io.Writer) *Bar {
	b.out = w
	return b
}

// Start shows the listing status and begins the bar.
func (b *Bar) Start(total, known int) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.total = total
	info := pterm.Info.WithWriter(b.out)
	info.Printf("Messages listed: %d\n", total+known)
	info.Printf("Already in ledger: %d\n", known)
	info.Printf("Remaining to process: %d\n", total)

	if total == 0 {
		return
	}
	pb, err := pterm.DefaultProgressbar.
		WithTotal(total).
		WithTitle("Extracting").
		WithWriter(b.out).
		Start()
	if err != nil {
		return
	}
	b.pb = pb
}

// Record advances the bar once per processed message.
func (b *Bar) Record(evt stats.Event) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch evt.Type {
	case stats.EventTypeExtracted, stats.EventTypeUnchanged, stats.EventTypeFailed, stats.EventTypeTransport:
	default:
		return
	}

	b.done++
	if b.pb == nil {
		return
	}
	if evt.MessageID != "" {
		displayID := evt.MessageID
		if len(displayID) > 40 {
			displayID = displayID[:37] + "..."
		}
		b.pb.UpdateTitle("Extracting: " + displayID)
	}
	b.pb.Increment()
}

// Stop finalizes the bar and prints the run summary.
func (b *Bar) Stop(summary stats.Summary) {
	if !b.enabled {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.pb != nil {
		if b.pb.Current < b.total {
			b.pb.Current = b.total
		}
		_, _ = b.pb.Stop()
		b.pb = nil
	}

	info := pterm.Info.WithWriter(b.out)
	pterm.Fprintln(b.out, pterm.Bold.Sprint("Summary"))
	info.Printf("Extracted: %d\n", summary.Extracted)
	info.Printf("Already recorded: %d\n", summary.Unchanged)
	info.Printf("Failed (error ledger): %d\n", summary.Failed)
	info.Printf("Transport errors (retry next run): %d\n", summary.TransportErrors)
	for _, c := range stats.Top(summary.ByOrganization, 0) {
		info.Printf("  %s: %d\n", c.Key, c.Value)
	}
}

// Processed is the number of messages recorded since Start.
func (b *Bar) Processed() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.done
}
