package events

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"
)

// WatchSubjects returns the subjects that carry the events of one solve,
// or of every solve of owner when solveID is empty.
func WatchSubjects(prefix, owner, solveID string) []string {
	if prefix == "" {
		prefix = "solvd"
	}
	if solveID == "" {
		return []string{prefix + ".solves." + token(owner) + ".>"}
	}
	return []string{
		prefix + ".solves.*." + token(solveID) + ".>",
		prefix + ".runs." + token(solveID) + ".>",
	}
}

// Watch delivers the events published on subjects to fn until ctx is done
// or fn returns false. Undecodable messages are skipped.
func Watch(ctx context.Context, nc *nats.Conn, subjects []string, fn func(subject string, ev Event) bool) error {
	ch := make(chan *nats.Msg, 64)
	subs := make([]*nats.Subscription, 0, len(subjects))
	defer func() {
		for _, sub := range subs {
			_ = sub.Unsubscribe()
		}
	}()
	for _, subject := range subjects {
		sub, err := nc.ChanSubscribe(subject, ch)
		if err != nil {
			return fmt.Errorf("subscribe %s: %w", subject, err)
		}
		subs = append(subs, sub)
	}
	if err := nc.Flush(); err != nil {
		return fmt.Errorf("flush subscriptions: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg := <-ch:
			var ev Event
			if err := json.Unmarshal(msg.Data, &ev); err != nil {
				continue
			}
			if !fn(msg.Subject, ev) {
				return nil
			}
		}
	}
}
