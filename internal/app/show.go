package app

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"ndx-relay/internal/storage"
)

// ShowOptions configure the show command.
type ShowOptions struct {
	Limit int
}

// Show prints today's gate state and recent relays.
func (a *App) Show(ctx context.Context, w io.Writer, opts ShowOptions) error {
	s, err := a.openStores(ctx)
	if err != nil {
		return err
	}
	defer s.Close()

	gate := a.newGate(s.kv)
	price, found, err := gate.Today(ctx)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "timezone: %s\nkey: %s\n", a.Config.Relay.Timezone, gate.TodayKey())
	if found {
		fmt.Fprintf(w, "status: relayed (price %s)\n", price)
	} else {
		fmt.Fprintln(w, "status: pending")
	}

	if pg, ok := s.kv.(*storage.PostgresStore); ok {
		if err := writeMarks(ctx, w, pg, opts.Limit); err != nil {
			return err
		}
	}

	if s.audit == nil {
		return nil
	}

	relays, err := s.audit.ListRecentRelays(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(relays) == 0 {
		fmt.Fprintln(w, "no relays recorded")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "\nTime (UTC)\tKey\tPrice\tDelivered\tFailed\tEvent")
	for _, rec := range relays {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%d\t%d\t%s\n",
			rec.CreatedAt.UTC().Format(time.RFC3339),
			rec.DayKey,
			rec.Price.String(),
			rec.Delivered,
			rec.Failed,
			rec.EventID,
		)
	}
	return writer.Flush()
}

// markLister lists stored dedup marks.
type markLister interface {
	ListRecentMarks(ctx context.Context, limit int) ([]storage.Mark, error)
}

func writeMarks(ctx context.Context, w io.Writer, src markLister, limit int) error {
	marks, err := src.ListRecentMarks(ctx, limit)
	if err != nil {
		return err
	}
	if len(marks) == 0 {
		fmt.Fprintln(w, "no dedup marks stored")
		return nil
	}

	writer := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "\nKey\tPrice\tCreated (UTC)\tExpires (UTC)")
	for _, m := range marks {
		expires := "never"
		if m.ExpiresAt != nil {
			expires = m.ExpiresAt.UTC().Format(time.RFC3339)
		}
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", m.Key, m.Value, m.CreatedAt.UTC().Format(time.RFC3339), expires)
	}
	return writer.Flush()
}
