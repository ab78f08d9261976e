package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"midistore/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// GetMidiByID retrieves a catalog item by ID. Returns nil, nil when the
// item does not exist so callers can distinguish absence from failure.
func (s *Store) GetMidiByID(ctx context.Context, id string) (*models.Midi, error) {
	var midi models.Midi
	err := s.db.GetContext(ctx, &midi, "SELECT * FROM midi_files WHERE id = $1", id)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &midi, nil
}

// ListMidis retrieves a page of visible catalog items ordered by creation
// time descending. lastID is the cursor: the ID of the last item of the
// previous page, or empty for the first page. Returns the page, whether
// more items remain, and the cursor for the next page.
func (s *Store) ListMidis(ctx context.Context, limit int, lastID string) ([]models.Midi, bool, string, error) {
	if limit <= 0 {
		limit = 10
	}

	var midis []models.Midi
	var err error

	if lastID == "" {
		err = s.db.SelectContext(ctx, &midis,
			"SELECT * FROM midi_files WHERE hidden = FALSE ORDER BY created_at DESC LIMIT $1", limit)
	} else {
		var cursor time.Time
		err = s.db.GetContext(ctx, &cursor,
			"SELECT created_at FROM midi_files WHERE id = $1", lastID)
		if err == sql.ErrNoRows {
			// Stale cursor, start over from the top.
			return s.ListMidis(ctx, limit, "")
		}
		if err != nil {
			return nil, false, "", err
		}

		err = s.db.SelectContext(ctx, &midis,
			"SELECT * FROM midi_files WHERE hidden = FALSE AND created_at < $1 ORDER BY created_at DESC LIMIT $2",
			cursor, limit)
	}
	if err != nil {
		return nil, false, "", err
	}

	hasMore := len(midis) == limit
	nextCursor := ""
	if len(midis) > 0 {
		nextCursor = midis[len(midis)-1].ID
	}

	return midis, hasMore, nextCursor, nil
}

// TopMidisBySales retrieves the best-selling visible catalog items.
func (s *Store) TopMidisBySales(ctx context.Context, limit int) ([]models.Midi, error) {
	var midis []models.Midi
	err := s.db.SelectContext(ctx, &midis,
		"SELECT * FROM midi_files WHERE hidden = FALSE ORDER BY sale_count DESC, created_at DESC LIMIT $1", limit)
	return midis, err
}

// CreateMidi inserts a new catalog item
func (s *Store) CreateMidi(ctx context.Context, midi *models.Midi) error {
	query := `
		INSERT INTO midi_files (id, title, price_cents, musical_key, scale, bpm, genre, preview_url, file_url, hidden)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at, sale_count`

	return s.db.GetContext(ctx, midi, query,
		midi.ID, midi.Title, midi.PriceCents, midi.MusicalKey, midi.Scale,
		midi.BPM, midi.Genre, midi.PreviewURL, midi.FileURL, midi.Hidden)
}

// IncrementSaleCount bumps the sale counter for a catalog item by one. The
// increment happens in a single statement against the stored value, so
// concurrent fulfillments touching the same item never lose updates.
func (s *Store) IncrementSaleCount(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		"UPDATE midi_files SET sale_count = sale_count + 1 WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to increment sale count: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return fmt.Errorf("midi not found: %s", id)
	}
	return nil
}
