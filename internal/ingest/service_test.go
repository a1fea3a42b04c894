package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ruslano69/refdesk/internal/dataset"
	"github.com/ruslano69/refdesk/internal/events"
	"github.com/ruslano69/refdesk/internal/staging"
	"github.com/ruslano69/refdesk/internal/store"
)

func testDS() dataset.Dataset {
	return dataset.Dataset{
		Name:      "pins",
		Table:     "pins",
		Columns:   []string{"pincode", "officename", "statename"},
		KeyColumn: "pincode",
		Hierarchy: []string{"statename"},
	}
}

func newTestService(t *testing.T) (*Service, *staging.Store, *store.DB, dataset.Dataset) {
	t.Helper()
	ctx := context.Background()
	ds := testDS()

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	sessions, err := staging.New(rdb, 0)
	if err != nil {
		t.Fatalf("staging.New: %v", err)
	}

	db, err := store.Open(ctx, "sqlite", filepath.Join(t.TempDir(), "ingest.db"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if err := db.Migrate(ctx, ds); err != nil {
		t.Fatalf("Migrate: %v", err)
	}

	svc := NewService(sessions, db, events.Nop{}, zerolog.Nop())
	return svc, sessions, db, ds
}

// buildCSV emits a parseable upload with n sequential rows.
func buildCSV(n int) string {
	var b strings.Builder
	b.WriteString("pincode,officename,statename\n")
	for i := 0; i < n; i++ {
		fmt.Fprintf(&b, "%06d,Office %d,Delhi\n", 110000+i, i)
	}
	return b.String()
}

func stage(t *testing.T, svc *Service, ds dataset.Dataset, csv string) (string, int) {
	t.Helper()
	token, total, err := svc.Stage(context.Background(), ds, strings.NewReader(csv), "")
	if err != nil {
		t.Fatalf("Stage: %v", err)
	}
	return token, total
}

func TestStage_CreatesSession(t *testing.T) {
	svc, sessions, _, ds := newTestService(t)

	token, total := stage(t, svc, ds, buildCSV(3))
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}

	sess, err := sessions.Get(context.Background(), token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if sess.Dataset != "pins" || sess.Total != 3 {
		t.Fatalf("session = %+v", sess)
	}
}

func TestAdvance_ThreeChunks(t *testing.T) {
	svc, sessions, db, ds := newTestService(t)
	ctx := context.Background()

	token, _ := stage(t, svc, ds, buildCSV(250))

	prog, err := svc.Advance(ctx, ds, token, 0, PolicySkip)
	if err != nil {
		t.Fatalf("Advance 0: %v", err)
	}
	if prog.Processed != 100 || prog.Complete {
		t.Fatalf("after chunk 1: %+v", prog)
	}

	prog, err = svc.Advance(ctx, ds, token, 100, PolicySkip)
	if err != nil {
		t.Fatalf("Advance 100: %v", err)
	}
	if prog.Processed != 200 || prog.Complete {
		t.Fatalf("after chunk 2: %+v", prog)
	}

	prog, err = svc.Advance(ctx, ds, token, 200, PolicySkip)
	if err != nil {
		t.Fatalf("Advance 200: %v", err)
	}
	if prog.Processed != 250 || !prog.Complete {
		t.Fatalf("after chunk 3: %+v", prog)
	}

	rows, err := db.AllRows(ctx, ds)
	if err != nil {
		t.Fatalf("AllRows: %v", err)
	}
	if len(rows) != 250 {
		t.Fatalf("table has %d rows, want 250", len(rows))
	}

	// The completed session is gone.
	if _, err := sessions.Get(ctx, token); !errors.Is(err, staging.ErrSessionExpired) {
		t.Fatalf("Get after completion: %v, want ErrSessionExpired", err)
	}
}

func TestAdvance_RetrySameChunkIsSafe(t *testing.T) {
	svc, _, db, ds := newTestService(t)
	ctx := context.Background()

	token, _ := stage(t, svc, ds, buildCSV(150))

	if _, err := svc.Advance(ctx, ds, token, 0, PolicySkip); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	// Client retries the same offset after a lost response. The rows are
	// already in the table, so skip classifies them all as duplicates,
	// and the monotonic cursor stays put.
	prog, err := svc.Advance(ctx, ds, token, 0, PolicySkip)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if prog.Processed != 100 {
		t.Fatalf("processed = %d, want 100", prog.Processed)
	}

	rows, err := db.AllRows(ctx, ds)
	if err != nil {
		t.Fatalf("AllRows: %v", err)
	}
	if len(rows) != 100 {
		t.Fatalf("table has %d rows after retry, want 100", len(rows))
	}
}

func TestAdvance_DuplicatePolicies(t *testing.T) {
	ctx := context.Background()

	t.Run("skip keeps existing values", func(t *testing.T) {
		svc, _, db, ds := newTestService(t)
		if err := db.InsertRows(ctx, ds, [][]string{{"110001", "Old Office", "Delhi"}}); err != nil {
			t.Fatalf("seed: %v", err)
		}

		token, _ := stage(t, svc, ds, "pincode,officename,statename\n110001,New Office,Delhi\n")
		if _, err := svc.Advance(ctx, ds, token, 0, PolicySkip); err != nil {
			t.Fatalf("Advance: %v", err)
		}

		rows, _ := db.AllRows(ctx, ds)
		if len(rows) != 1 || rows[0][1] != "Old Office" {
			t.Fatalf("rows = %v", rows)
		}
	})

	t.Run("update overwrites existing values", func(t *testing.T) {
		svc, _, db, ds := newTestService(t)
		if err := db.InsertRows(ctx, ds, [][]string{{"110001", "Old Office", "Delhi"}}); err != nil {
			t.Fatalf("seed: %v", err)
		}

		token, _ := stage(t, svc, ds, "pincode,officename,statename\n110001,New Office,Delhi\n")
		if _, err := svc.Advance(ctx, ds, token, 0, PolicyUpdate); err != nil {
			t.Fatalf("Advance: %v", err)
		}

		rows, _ := db.AllRows(ctx, ds)
		if len(rows) != 1 || rows[0][1] != "New Office" {
			t.Fatalf("rows = %v", rows)
		}
	})
}

func TestAdvance_EmptyKeyRowsCountButNeverLand(t *testing.T) {
	svc, _, db, ds := newTestService(t)
	ctx := context.Background()

	csv := "pincode,officename,statename\n" +
		"110001,Office A,Delhi\n" +
		",Keyless,Delhi\n" +
		"110002,Office B,Delhi\n"
	token, total := stage(t, svc, ds, csv)
	if total != 3 {
		t.Fatalf("total = %d, want 3", total)
	}

	prog, err := svc.Advance(ctx, ds, token, 0, PolicySkip)
	if err != nil {
		t.Fatalf("Advance: %v", err)
	}
	if prog.Processed != 3 || !prog.Complete {
		t.Fatalf("progress = %+v", prog)
	}

	rows, _ := db.AllRows(ctx, ds)
	if len(rows) != 2 {
		t.Fatalf("table has %d rows, want 2", len(rows))
	}
}

func TestAdvance_UnknownToken(t *testing.T) {
	svc, _, _, _ := newTestService(t)

	_, err := svc.Advance(context.Background(), testDS(), "no-such-token", 0, PolicySkip)
	if !errors.Is(err, staging.ErrSessionExpired) {
		t.Fatalf("err = %v, want ErrSessionExpired", err)
	}
}

func TestSession_BoundToItsDataset(t *testing.T) {
	svc, sessions, _, ds := newTestService(t)
	ctx := context.Background()

	other := dataset.Dataset{
		Name:      "other",
		Table:     "other",
		Columns:   []string{"code", "city"},
		KeyColumn: "code",
	}

	token, _ := stage(t, svc, ds, buildCSV(2))

	// A token staged under one dataset is invisible through another.
	if _, err := svc.Advance(ctx, other, token, 0, PolicySkip); !errors.Is(err, staging.ErrSessionExpired) {
		t.Fatalf("Advance via other dataset: %v, want ErrSessionExpired", err)
	}
	if _, err := svc.Check(ctx, other, token); !errors.Is(err, staging.ErrSessionExpired) {
		t.Fatalf("Check via other dataset: %v, want ErrSessionExpired", err)
	}
	if err := svc.Cancel(ctx, other, token); err != nil {
		t.Fatalf("Cancel via other dataset: %v", err)
	}

	// The session is untouched and still drivable under its own dataset.
	if _, err := sessions.Get(ctx, token); err != nil {
		t.Fatalf("session gone after foreign cancel: %v", err)
	}
	if prog, err := svc.Advance(ctx, ds, token, 0, PolicySkip); err != nil || !prog.Complete {
		t.Fatalf("Advance under own dataset = %+v, %v", prog, err)
	}
}

func TestCheck_ClassifiesWithoutWriting(t *testing.T) {
	svc, _, db, ds := newTestService(t)
	ctx := context.Background()

	if err := db.InsertRows(ctx, ds, [][]string{{"110001", "Office A", "Delhi"}}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	csv := "pincode,officename,statename\n" +
		"110001,Replacement,Delhi\n" +
		"110002,Office B,Delhi\n" +
		",Keyless,Delhi\n"
	token, _ := stage(t, svc, ds, csv)

	rep, err := svc.Check(ctx, ds, token)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if rep.Total != 3 || rep.NewCount != 1 || rep.Skipped != 1 {
		t.Fatalf("report = %+v", rep)
	}
	if len(rep.Duplicates) != 1 || rep.Duplicates[0].Row[0] != "110001" || rep.Duplicates[0].ExistingID != 1 {
		t.Fatalf("duplicates = %v", rep.Duplicates)
	}

	// Check is read-only.
	rows, _ := db.AllRows(ctx, ds)
	if len(rows) != 1 {
		t.Fatalf("table has %d rows, want 1", len(rows))
	}
}

func TestCancel_Idempotent(t *testing.T) {
	svc, sessions, _, ds := newTestService(t)
	ctx := context.Background()

	token, _ := stage(t, svc, ds, buildCSV(2))
	if err := svc.Cancel(ctx, ds, token); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if _, err := sessions.Get(ctx, token); !errors.Is(err, staging.ErrSessionExpired) {
		t.Fatalf("Get after cancel: %v, want ErrSessionExpired", err)
	}
	if err := svc.Cancel(ctx, ds, token); err != nil {
		t.Fatalf("second Cancel: %v", err)
	}
}

func TestParsePolicy(t *testing.T) {
	if p, err := ParsePolicy(""); err != nil || p != PolicySkip {
		t.Fatalf("empty: %v %v", p, err)
	}
	if p, err := ParsePolicy("update"); err != nil || p != PolicyUpdate {
		t.Fatalf("update: %v %v", p, err)
	}
	if _, err := ParsePolicy("merge"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}
