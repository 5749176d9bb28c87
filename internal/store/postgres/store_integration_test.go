package postgres

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"

	"queueescape/queue-service/internal/models"
	"queueescape/queue-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

func TestUpdateStatusConcurrency(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := putTicket(t, ctx, st, "main_queue", 100)

	var wg sync.WaitGroup
	results := make(chan error, 4)
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := st.UpdateStatus(ctx, ticket.QueueID, ticket.TicketNumber, models.StatusWaiting, models.StatusBeingServed)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	won := 0
	for err := range results {
		if err == nil {
			won++
			continue
		}
		if !errors.Is(err, store.ErrConflict) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if won != 1 {
		t.Fatalf("expected one transition, got %d", won)
	}
}

func TestPutTicketDuplicateJoinTime(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	putTicket(t, ctx, st, "main_queue", 200)
	err := st.PutTicket(ctx, models.Ticket{
		QueueID:      "main_queue",
		TicketNumber: uuid.NewString()[:8],
		Status:       models.StatusWaiting,
		JoinTime:     200,
	})
	if !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestScanWaitingSnapshot(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	second := putTicket(t, ctx, st, "Registrar", 20)
	first := putTicket(t, ctx, st, "Registrar", 10)
	putTicket(t, ctx, st, "Cafeteria", 5)

	waiting, err := st.ScanWaiting(ctx, "Registrar")
	if err != nil {
		t.Fatalf("scan waiting: %v", err)
	}
	if len(waiting) != 2 || waiting[0].TicketNumber != first.TicketNumber || waiting[1].TicketNumber != second.TicketNumber {
		t.Fatalf("unexpected snapshot: %+v", waiting)
	}
}

func TestRecordMilestoneOnce(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := putTicket(t, ctx, st, "main_queue", 300)
	if err := st.PutNotificationRecord(ctx, models.NewNotificationRecord(ticket, "a@example.com")); err != nil {
		t.Fatalf("put record: %v", err)
	}

	applied, err := st.RecordMilestone(ctx, ticket.TicketNumber, 3, 2)
	if err != nil || !applied {
		t.Fatalf("expected applied, got %v %v", applied, err)
	}
	applied, err = st.RecordMilestone(ctx, ticket.TicketNumber, 3, 2)
	if err != nil || applied {
		t.Fatalf("expected no-op, got %v %v", applied, err)
	}

	record, err := st.GetNotificationRecord(ctx, ticket.TicketNumber)
	if err != nil {
		t.Fatalf("get record: %v", err)
	}
	if record.LastNotifiedRank != 2 || len(record.SentThresholds) != 1 {
		t.Fatalf("unexpected record: %+v", record)
	}
}

func TestRecordMilestoneAfterServed(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := putTicket(t, ctx, st, "main_queue", 400)
	if err := st.PutNotificationRecord(ctx, models.NewNotificationRecord(ticket, "a@example.com")); err != nil {
		t.Fatalf("put record: %v", err)
	}
	if err := st.UpdateNotificationRecord(ctx, ticket.TicketNumber, nil, 0); err != nil {
		t.Fatalf("mark served: %v", err)
	}

	applied, err := st.RecordMilestone(ctx, ticket.TicketNumber, 3, 2)
	if err != nil || applied {
		t.Fatalf("expected no write once served, got %v %v", applied, err)
	}
	record, err := st.GetNotificationRecord(ctx, ticket.TicketNumber)
	if err != nil || record.LastNotifiedRank != 0 || len(record.SentThresholds) != 0 {
		t.Fatalf("served record changed: %+v err=%v", record, err)
	}
}

func TestPutNotificationRecordRejectsExisting(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	ticket := putTicket(t, ctx, st, "main_queue", 500)
	if err := st.PutNotificationRecord(ctx, models.NewNotificationRecord(ticket, "a@example.com")); err != nil {
		t.Fatalf("put record: %v", err)
	}
	other := models.NewNotificationRecord(models.Ticket{QueueID: "other", TicketNumber: ticket.TicketNumber}, "b@example.com")
	if err := st.PutNotificationRecord(ctx, other); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("expected ErrConflict, got %v", err)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	ctx := context.Background()
	st, _, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	if _, err := st.GetSettings(ctx, "main_queue"); !errors.Is(err, store.ErrSettingsNotFound) {
		t.Fatalf("expected settings not found, got %v", err)
	}
	settings := models.PeakPreset("main_queue", models.PeakMorning)
	settings.Thresholds = []int{10, 5, 1}
	if err := st.PutSettings(ctx, settings); err != nil {
		t.Fatalf("put settings: %v", err)
	}
	got, err := st.GetSettings(ctx, "main_queue")
	if err != nil {
		t.Fatalf("get settings: %v", err)
	}
	if got.PeakPeriod != models.PeakMorning || len(got.Windows) != 1 || got.Windows[0].StartHour != 8 || len(got.Thresholds) != 3 {
		t.Fatalf("unexpected settings: %+v", got)
	}
}

func putTicket(t *testing.T, ctx context.Context, st *Store, queueID string, joinTime int64) models.Ticket {
	t.Helper()
	ticket := models.Ticket{
		QueueID:      queueID,
		TicketNumber: uuid.NewString()[:8],
		Status:       models.StatusWaiting,
		JoinTime:     joinTime,
		Contact:      "a@example.com",
	}
	if err := st.PutTicket(ctx, ticket); err != nil {
		t.Fatalf("put ticket: %v", err)
	}
	return ticket
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, *pgxpool.Pool, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := execAdmin(ctx, dsn, "CREATE SCHEMA "+schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := applyMigrations(ctx, pool); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = execAdmin(context.Background(), dsn, "DROP SCHEMA "+schema+" CASCADE")
	}
	return NewStore(pool), pool, cleanup
}

func execAdmin(ctx context.Context, dsn, statement string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, statement)
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func applyMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	dir := filepath.Join("..", "..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var files []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		files = append(files, entry.Name())
	}
	sort.Strings(files)
	for _, name := range files {
		content, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		if strings.TrimSpace(string(content)) == "" {
			continue
		}
		if _, err := pool.Exec(ctx, string(content)); err != nil {
			return err
		}
	}
	return nil
}
