package artifact

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/funnelcast/funnelcast/internal/apperrors"
)

//go:embed migrations/*.sql
var migrations embed.FS

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func Open(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+dbPath+"?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Enable WAL mode
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	if err := migrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &SQLiteStore{db: db}, nil
}

// migrateUp applies the embedded migrations. The migrate instance is not
// closed because that would close db.
func migrateUp(db *sql.DB) error {
	src, err := iofs.New(migrations, "migrations")
	if err != nil {
		return fmt.Errorf("failed to load migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db, &sqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Publish encodes the bundle first so that an encoding failure writes
// nothing, then inserts it and moves the current pointer in one
// transaction.
func (s *SQLiteStore) Publish(ctx context.Context, b *Bundle) error {
	if b.ID == "" {
		return fmt.Errorf("bundle id is required")
	}
	blobs, err := encode(b)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO bundles (id, trained_at, data_span_years, created_at) VALUES (?, ?, ?, ?)`,
		b.ID, b.TrainedAt.UnixMilli(), b.Metadata.DataSpanYears, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to insert bundle: %w", err)
	}

	for _, bl := range blobs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO blobs (bundle_id, name, data) VALUES (?, ?, ?)`,
			b.ID, bl.name, bl.data,
		); err != nil {
			return fmt.Errorf("failed to insert blob %s: %w", bl.name, err)
		}
	}

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO current_bundle (slot, bundle_id, published_at) VALUES (1, ?, ?)
		 ON CONFLICT(slot) DO UPDATE SET bundle_id = excluded.bundle_id, published_at = excluded.published_at`,
		b.ID, time.Now().Unix(),
	); err != nil {
		return fmt.Errorf("failed to publish bundle: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit bundle: %w", err)
	}
	return nil
}

// querier is satisfied by both *sql.DB and *sql.Tx.
type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Current reads the pointer and the blobs in one transaction, so a prune
// from another process cannot remove the bundle between the two reads.
func (s *SQLiteStore) Current(ctx context.Context) (*Bundle, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	id, err := currentID(ctx, tx)
	if err != nil {
		return nil, err
	}
	return getBundle(ctx, tx, id)
}

func (s *SQLiteStore) CurrentID(ctx context.Context) (string, error) {
	return currentID(ctx, s.db)
}

func currentID(ctx context.Context, q querier) (string, error) {
	var id string
	err := q.QueryRowContext(ctx, `SELECT bundle_id FROM current_bundle WHERE slot = 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", apperrors.ModelNotTrained("no trained model found; run train first")
	}
	if err != nil {
		return "", fmt.Errorf("failed to get current bundle: %w", err)
	}
	return id, nil
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Bundle, error) {
	return getBundle(ctx, s.db, id)
}

func getBundle(ctx context.Context, q querier, id string) (*Bundle, error) {
	rows, err := q.QueryContext(ctx, `SELECT name, data FROM blobs WHERE bundle_id = ? ORDER BY name`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query blobs: %w", err)
	}
	defer rows.Close()

	blobs := make(map[string][]byte)
	for rows.Next() {
		var name string
		var data []byte
		if err := rows.Scan(&name, &data); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		blobs[name] = data
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate blobs: %w", err)
	}
	if len(blobs) == 0 {
		var exists int
		err := q.QueryRowContext(ctx, `SELECT 1 FROM bundles WHERE id = ?`, id).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperrors.ModelNotTrained(fmt.Sprintf("bundle %s not found", id))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to get bundle: %w", err)
		}
		return nil, apperrors.ArtifactCorruption(nil, "bundle %s has no blobs", id)
	}

	return decode(id, blobs)
}

func (s *SQLiteStore) List(ctx context.Context) ([]Summary, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT b.id, b.trained_at, b.data_span_years,
		       COALESCE(c.bundle_id = b.id, 0)
		FROM bundles b
		LEFT JOIN current_bundle c ON c.slot = 1
		ORDER BY b.trained_at DESC, b.rowid DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list bundles: %w", err)
	}
	defer rows.Close()

	var summaries []Summary
	index := make(map[string]int)
	for rows.Next() {
		var sum Summary
		var trainedAt int64
		if err := rows.Scan(&sum.ID, &trainedAt, &sum.DataSpanYears, &sum.Current); err != nil {
			return nil, fmt.Errorf("failed to scan bundle: %w", err)
		}
		sum.TrainedAt = time.UnixMilli(trainedAt).UTC()
		index[sum.ID] = len(summaries)
		summaries = append(summaries, sum)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate bundles: %w", err)
	}

	blobRows, err := s.db.QueryContext(ctx, `SELECT bundle_id, name, length(data) FROM blobs ORDER BY bundle_id, name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list blobs: %w", err)
	}
	defer blobRows.Close()
	for blobRows.Next() {
		var id string
		var info BlobInfo
		if err := blobRows.Scan(&id, &info.Name, &info.Size); err != nil {
			return nil, fmt.Errorf("failed to scan blob: %w", err)
		}
		if i, ok := index[id]; ok {
			summaries[i].Blobs = append(summaries[i].Blobs, info)
		}
	}
	return summaries, blobRows.Err()
}

func (s *SQLiteStore) Prune(ctx context.Context, keep int) (int, error) {
	summaries, err := s.List(ctx)
	if err != nil {
		return 0, err
	}

	var doomed []string
	for i, sum := range summaries {
		if i < keep || sum.Current {
			continue
		}
		doomed = append(doomed, sum.ID)
	}
	if len(doomed) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, id := range doomed {
		if _, err := tx.ExecContext(ctx, `DELETE FROM blobs WHERE bundle_id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete blobs: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bundles WHERE id = ?`, id); err != nil {
			return 0, fmt.Errorf("failed to delete bundle: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit prune: %w", err)
	}
	return len(doomed), nil
}
