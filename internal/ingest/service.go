// Package ingest drives chunked bulk imports from a staged upload session
// into the live table, resolving natural-key duplicates along the way.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"github.com/ruslano69/refdesk/internal/csvio"
	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/events"
	"github.com/ruslano69/refdesk/internal/staging"
	"github.com/ruslano69/refdesk/internal/store"
)

// DefaultChunkSize is how many staged rows one Advance call consumes.
const DefaultChunkSize = 100

// DuplicatePolicy says what Advance does with a row whose natural key
// already exists in the table.
type DuplicatePolicy string

const (
	// PolicySkip leaves the existing row untouched.
	PolicySkip DuplicatePolicy = "skip"
	// PolicyUpdate overwrites the existing row with the staged values.
	PolicyUpdate DuplicatePolicy = "update"
)

// ParsePolicy maps the wire value to a DuplicatePolicy. Empty means skip.
func ParsePolicy(s string) (DuplicatePolicy, error) {
	switch DuplicatePolicy(s) {
	case "":
		return PolicySkip, nil
	case PolicySkip:
		return PolicySkip, nil
	case PolicyUpdate:
		return PolicyUpdate, nil
	default:
		return "", fmt.Errorf("ingest: unknown duplicate policy %q", s)
	}
}

// Progress reports how far an upload session has been consumed.
type Progress struct {
	Processed int  `json:"processed"`
	Total     int  `json:"total"`
	Complete  bool `json:"complete"`
}

// DuplicatePreview is one staged row that collides with a table row.
type DuplicatePreview struct {
	Row        []string `json:"row"`
	ExistingID int64    `json:"existing_id"`
}

// Report is the pre-flight duplicate summary for a staged upload.
type Report struct {
	Total      int                `json:"total"`
	NewCount   int                `json:"new_count"`
	Skipped    int                `json:"skipped"`
	Duplicates []DuplicatePreview `json:"duplicates"`
}

// Service stages uploads and moves them chunk by chunk into the table.
type Service struct {
	sessions *staging.Store
	db       *store.DB
	resolver *Resolver
	pub      events.Publisher
	log      zerolog.Logger

	// ChunkSize is the number of rows consumed per Advance call.
	ChunkSize int
	// LockLease bounds how long one chunk call may hold the session lock.
	LockLease time.Duration
}

// NewService wires an ingestion service. Pass events.Nop{} when no broker
// is configured.
func NewService(sessions *staging.Store, db *store.DB, pub events.Publisher, log zerolog.Logger) *Service {
	return &Service{
		sessions:  sessions,
		db:        db,
		resolver:  NewResolver(db),
		pub:       pub,
		log:       log,
		ChunkSize: DefaultChunkSize,
		LockLease: staging.DefaultLockLease,
	}
}

// Stage parses the uploaded CSV and stores the rows under a fresh session
// token. Ownership of fileRef, the temp file the upload was spooled to,
// passes to the session store, which removes it once the rows are staged.
func (s *Service) Stage(ctx context.Context, ds dataset.Dataset, r io.Reader, fileRef string) (string, int, error) {
	rows, err := csvio.Parse(r, ds)
	if err != nil {
		return "", 0, err
	}
	token, err := s.sessions.Create(ctx, ds.Name, rows, fileRef)
	if err != nil {
		return "", 0, err
	}
	sessionsStagedTotal.WithLabelValues(ds.Name).Inc()
	s.log.Info().
		Str("dataset", ds.Name).
		Str("token", token).
		Int("rows", len(rows)).
		Msg("upload staged")
	return token, len(rows), nil
}

// Check classifies every staged row against the live table without writing
// anything, so the client can pick a duplicate policy up front. The session
// must belong to ds; a token staged under another dataset reports
// staging.ErrSessionExpired, indistinguishable from an unknown one.
func (s *Service) Check(ctx context.Context, ds dataset.Dataset, token string) (Report, error) {
	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return Report{}, err
	}
	if sess.Dataset != ds.Name {
		return Report{}, staging.ErrSessionExpired
	}

	c, err := s.resolver.Classify(ctx, ds, sess.Rows)
	if err != nil {
		return Report{}, err
	}

	rep := Report{
		Total:      sess.Total,
		NewCount:   len(c.New),
		Skipped:    c.Skipped,
		Duplicates: make([]DuplicatePreview, 0, len(c.Duplicates)),
	}
	for _, d := range c.Duplicates {
		rep.Duplicates = append(rep.Duplicates, DuplicatePreview{Row: d.Row, ExistingID: d.ExistingID})
	}
	return rep, nil
}

// Advance consumes one chunk of staged rows starting at offset, writes it to
// the table under the given duplicate policy, and raises the session cursor.
// Calls for the same token are serialized by a Redis lock; a concurrent call
// gets staging.ErrLockHeld. When the cursor reaches the end, the session is
// destroyed and an ingest_completed event is published.
// Like Check, a token staged under a different dataset is treated as unknown.
func (s *Service) Advance(ctx context.Context, ds dataset.Dataset, token string, offset int, policy DuplicatePolicy) (Progress, error) {
	lock, err := s.sessions.AcquireLock(ctx, token, s.LockLease)
	if err != nil {
		return Progress{}, err
	}
	defer func() {
		if rerr := lock.Release(context.WithoutCancel(ctx)); rerr != nil {
			s.log.Warn().Err(rerr).Str("token", token).Msg("release chunk lock")
		}
	}()

	sess, err := s.sessions.Get(ctx, token)
	if err != nil {
		return Progress{}, err
	}
	if sess.Dataset != ds.Name {
		return Progress{}, staging.ErrSessionExpired
	}

	if offset < 0 {
		offset = 0
	}
	if offset > sess.Total {
		offset = sess.Total
	}
	end := offset + s.ChunkSize
	if end > sess.Total {
		end = sess.Total
	}

	if err := s.consume(ctx, ds, sess.Rows[offset:end], policy); err != nil {
		return Progress{}, err
	}

	cursor, err := s.sessions.AdvanceCursor(ctx, token, end)
	if err != nil {
		return Progress{}, err
	}

	prog := Progress{Processed: cursor, Total: sess.Total, Complete: cursor >= sess.Total}
	if prog.Complete {
		if err := s.sessions.Destroy(ctx, token); err != nil {
			s.log.Warn().Err(err).Str("token", token).Msg("destroy completed session")
		}
		uploadsCompletedTotal.WithLabelValues(ds.Name).Inc()
		s.publish(ctx, events.Event{
			Type:    events.TypeIngestCompleted,
			Dataset: ds.Name,
			Rows:    sess.Total,
		})
		s.log.Info().
			Str("dataset", ds.Name).
			Str("token", token).
			Int("rows", sess.Total).
			Msg("ingestion complete")
	}
	return prog, nil
}

// consume writes one chunk: fresh rows are batch-inserted, duplicates follow
// the policy, empty-key rows are dropped but still count as processed.
func (s *Service) consume(ctx context.Context, ds dataset.Dataset, chunk [][]string, policy DuplicatePolicy) error {
	c, err := s.resolver.Classify(ctx, ds, chunk)
	if err != nil {
		return err
	}

	if len(c.New) > 0 {
		if err := s.db.InsertRows(ctx, ds, c.New); err != nil {
			return err
		}
		rowsIngestedTotal.WithLabelValues(ds.Name).Add(float64(len(c.New)))
	}
	if c.Skipped > 0 {
		rowsSkippedTotal.WithLabelValues(ds.Name).Add(float64(c.Skipped))
	}

	for _, d := range c.Duplicates {
		if policy == PolicySkip {
			duplicatesResolvedTotal.WithLabelValues(ds.Name, string(PolicySkip)).Inc()
			continue
		}
		err := s.db.UpdateRow(ctx, ds, d.ExistingID, rowFields(ds, d.Row))
		if errors.Is(err, store.ErrRowNotFound) {
			// The matched row was deleted between classify and update.
			if err := s.db.InsertRows(ctx, ds, [][]string{d.Row}); err != nil {
				return err
			}
			rowsIngestedTotal.WithLabelValues(ds.Name).Inc()
			continue
		}
		if err != nil {
			return err
		}
		duplicatesResolvedTotal.WithLabelValues(ds.Name, string(PolicyUpdate)).Inc()
		rowsIngestedTotal.WithLabelValues(ds.Name).Inc()
	}
	return nil
}

// Cancel drops a staged session. Cancelling a session that already expired
// is not an error, and a token staged under a different dataset is left
// untouched, same as an unknown one.
func (s *Service) Cancel(ctx context.Context, ds dataset.Dataset, token string) error {
	sess, err := s.sessions.Get(ctx, token)
	if errors.Is(err, staging.ErrSessionExpired) {
		return nil
	}
	if err != nil {
		return err
	}
	if sess.Dataset != ds.Name {
		return nil
	}
	return s.sessions.Destroy(ctx, token)
}

// PublishRowEvent emits a row-level change event. Failures are logged, not
// returned; the write already happened.
func (s *Service) PublishRowEvent(ctx context.Context, ev events.Event) {
	s.publish(ctx, ev)
}

func (s *Service) publish(ctx context.Context, ev events.Event) {
	if err := s.pub.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("type", ev.Type).Str("dataset", ev.Dataset).Msg("publish event")
	}
}

func rowFields(ds dataset.Dataset, row []string) map[string]string {
	fields := make(map[string]string, len(ds.Columns))
	for i, col := range ds.Columns {
		if i < len(row) {
			fields[col] = row[i]
		} else {
			fields[col] = ""
		}
	}
	return fields
}
