// Package eventdb is an append-only, day-partitioned store for recording
// trigger events, queried by time range. It is deliberately separate from
// pkg/log's bbolt-backed application log: events drive recording retrieval
// and playback, and are expected to be queried far more often and at much
// higher volume than application log lines.
package eventdb

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"nvr/pkg/common"
	"nvr/pkg/log"
)

const dayLayout = "20060102"

// ErrQueryLimitZero is returned by Query when Limit is not positive.
var ErrQueryLimitZero = errors.New("eventdb: limit must be positive")

// EventQuery selects events in [Start, End), most recent first, up to
// Limit results.
type EventQuery struct {
	Start time.Time
	End   time.Time
	Limit int
}

// Database is the single-goroutine actor driving the event store: all
// state (the currently open day file) is owned by run(), reached only
// through the request channels, the same pattern pkg/video/hls's playlist
// actor uses for its own mutable state.
type Database struct {
	dir       string
	retention time.Duration
	logf      log.Func

	chWrite chan writeRequest
	chQuery chan queryRequest
	chPurge chan chan struct{}
}

type writeRequest struct {
	event common.Event
	done  chan error
}

type queryRequest struct {
	query EventQuery
	res   chan queryResult
}

type queryResult struct {
	events []common.Event
	err    error
}

// NewDatabase creates the event store rooted at dir and starts its actor
// goroutine. retention of zero disables the retention sweep.
func NewDatabase(ctx context.Context, dir string, retention time.Duration, logf log.Func) (*Database, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("eventdb: create directory: %w", err)
	}

	d := &Database{
		dir:       dir,
		retention: retention,
		logf:      logf,
		chWrite:   make(chan writeRequest),
		chQuery:   make(chan queryRequest),
		chPurge:   make(chan chan struct{}),
	}
	go d.run(ctx)
	return d, nil
}

func (d *Database) run(ctx context.Context) {
	var curDay string
	var curFile *os.File
	defer func() {
		if curFile != nil {
			curFile.Close()
		}
	}()

	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			if d.retention > 0 {
				if err := d.purgeOlderThan(time.Now().Add(-d.retention)); err != nil {
					d.logf(log.LevelError, "eventdb: purge: %v", err)
				}
			}

		case done := <-d.chPurge:
			if d.retention > 0 {
				if err := d.purgeOlderThan(time.Now().Add(-d.retention)); err != nil {
					d.logf(log.LevelError, "eventdb: purge: %v", err)
				}
			}
			close(done)

		case req := <-d.chWrite:
			day := req.event.Time.UTC().Format(dayLayout)
			if curFile == nil || day != curDay {
				if curFile != nil {
					curFile.Close()
				}
				f, err := os.OpenFile(
					filepath.Join(d.dir, day+".events"),
					os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
				if err != nil {
					req.done <- fmt.Errorf("eventdb: open day file: %w", err)
					continue
				}
				curFile = f
				curDay = day
			}

			buf := &bytes.Buffer{}
			if err := encodeEvent(buf, req.event); err != nil {
				req.done <- fmt.Errorf("eventdb: encode event: %w", err)
				continue
			}
			if _, err := curFile.Write(buf.Bytes()); err != nil {
				req.done <- fmt.Errorf("eventdb: write event: %w", err)
				continue
			}
			req.done <- nil

		case req := <-d.chQuery:
			events, err := d.query(req.query)
			req.res <- queryResult{events: events, err: err}
		}
	}
}

// WriteEvent appends event to the current day's file, blocking until it is
// durably written (or the context driving the actor is canceled).
func (d *Database) WriteEvent(event common.Event) error {
	done := make(chan error)
	d.chWrite <- writeRequest{event: event, done: done}
	return <-done
}

// Query returns events in q.Start..q.End, most recent first, up to
// q.Limit.
func (d *Database) Query(q EventQuery) ([]common.Event, error) {
	if q.Limit <= 0 {
		return nil, ErrQueryLimitZero
	}
	res := make(chan queryResult)
	d.chQuery <- queryRequest{query: q, res: res}
	r := <-res
	return r.events, r.err
}

// Purge runs the retention sweep immediately and waits for it to finish.
func (d *Database) Purge() {
	done := make(chan struct{})
	d.chPurge <- done
	<-done
}

func (d *Database) dayFiles() ([]string, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		return nil, err
	}
	var days []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		const ext = ".events"
		if len(name) == len(dayLayout)+len(ext) && name[len(dayLayout):] == ext {
			days = append(days, name[:len(dayLayout)])
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(days)))
	return days, nil
}

func (d *Database) query(q EventQuery) ([]common.Event, error) {
	days, err := d.dayFiles()
	if err != nil {
		return nil, fmt.Errorf("eventdb: list day files: %w", err)
	}

	var out []common.Event
	for _, day := range days {
		t, err := time.ParseInLocation(dayLayout, day, time.UTC)
		if err != nil {
			continue
		}
		// Skip days wholly after the query window or wholly before it.
		if !q.End.IsZero() && t.After(q.End) {
			continue
		}

		events, err := d.readDay(day)
		if err != nil {
			d.logf(log.LevelError, "eventdb: read day %q: %v", day, err)
			continue
		}

		for i := len(events) - 1; i >= 0; i-- {
			e := events[i]
			if e.Time.Before(q.Start) || !e.Time.Before(q.End) {
				continue
			}
			out = append(out, e)
			if len(out) >= q.Limit {
				return out, nil
			}
		}

		if t.Before(q.Start) {
			break
		}
	}

	return out, nil
}

func (d *Database) readDay(day string) ([]common.Event, error) {
	buf, err := os.ReadFile(filepath.Join(d.dir, day+".events"))
	if err != nil {
		return nil, err
	}
	return decodeAll(buf)
}

func (d *Database) purgeOlderThan(cutoff time.Time) error {
	days, err := d.dayFiles()
	if err != nil {
		return err
	}
	for _, day := range days {
		t, err := time.ParseInLocation(dayLayout, day, time.UTC)
		if err != nil {
			continue
		}
		if t.Before(cutoff) {
			if err := os.Remove(filepath.Join(d.dir, day+".events")); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("remove %s: %w", day, err)
			}
		}
	}
	return nil
}
