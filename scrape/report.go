package scrape

import (
	"context"
	"fmt"
	"log"
	"strings"
)

// Reporter receives the matched listings of a finished run. Rendering
// and delivery (email, feeds) live behind this boundary.
type Reporter interface {
	Deliver(ctx context.Context, matches []Match) error
}

// LogReporter prints matches to the process log. The default sink when
// nothing else is wired up.
type LogReporter struct{}

func (LogReporter) Deliver(_ context.Context, matches []Match) error {
	for _, m := range matches {
		var b strings.Builder
		fmt.Fprintf(&b, "[match] %-13s €%d", m.State.Status, m.State.CurrentPrice)
		if m.State.PreviousPrice != nil {
			fmt.Fprintf(&b, " (was €%d)", *m.State.PreviousPrice)
		}
		if m.Listing.AreaSqm != nil {
			fmt.Fprintf(&b, " %.0fm²", *m.Listing.AreaSqm)
		}
		fmt.Fprintf(&b, " %s | %s (%s)", m.Listing.Title, m.Listing.Town, m.Listing.URL)
		log.Print(b.String())
	}
	return nil
}
