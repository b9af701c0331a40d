// Package catalog provides access to the relational store of per-image
// metadata records. It handles the connection to a PostgreSQL database and
// exposes the operations the web service and the consistency audit need.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/azcx/imagehost/internal/models"
)

// ErrNotFound is returned when no metadata record exists for a requested name.
var ErrNotFound = errors.New("image metadata not found")

// Config holds the configuration for connecting to the PostgreSQL database.
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type dbPool interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

// Manager manages the PostgreSQL connection pool for image metadata.
type Manager struct {
	dbpool dbPool
}

type options struct {
	newPool func(ctx context.Context, dsn string) (dbPool, error)
}

// Options represents an optional function to override Manager default values.
type Options func(*options)

// New creates a catalog manager with a PostgreSQL connection pool using the
// provided configuration.
// Note: The connection is validated with a ping, but it is not maintained.
func New(ctx context.Context, cfg Config, args ...Options) (*Manager, error) {
	opts := options{
		newPool: func(ctx context.Context, dsn string) (dbPool, error) {
			return pgxpool.New(ctx, dsn)
		},
	}

	for _, opt := range args {
		opt(&opts)
	}

	dbpool, err := opts.newPool(ctx, cfg.URI("postgres"))
	if err != nil {
		return nil, fmt.Errorf("unable to create database connection pool: %w", err)
	}

	slog.Debug("Testing database connection", "host", cfg.Host, "port", cfg.Port)
	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := dbpool.Ping(pingCtx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to ping database: %v", err)
	}

	slog.Info("Successfully pinged PostgreSQL database", "host", cfg.Host, "port", cfg.Port)
	return &Manager{dbpool: dbpool}, nil
}

// ListAllNames returns the full current set of image names known to the catalog.
func (db Manager) ListAllNames(ctx context.Context) ([]string, error) {
	if db.dbpool == nil {
		return nil, fmt.Errorf("database not initialized")
	}

	rows, err := db.dbpool.Query(ctx, `SELECT name FROM image_metadata`)
	if err != nil {
		return nil, fmt.Errorf("failed to list image names: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan image name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read image names: %w", err)
	}

	return names, nil
}

// Get returns the metadata record for the named image.
func (db Manager) Get(ctx context.Context, name string) (models.ImageMetadata, error) {
	var meta models.ImageMetadata

	if db.dbpool == nil {
		return meta, fmt.Errorf("database not initialized")
	}

	row := db.dbpool.QueryRow(ctx,
		`SELECT name, last_updated, file_extension, size_bytes FROM image_metadata WHERE name = $1`,
		name)
	if err := row.Scan(&meta.Name, &meta.LastUpdated, &meta.FileExtension, &meta.SizeBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return meta, ErrNotFound
		}
		return meta, fmt.Errorf("failed to get metadata for %q: %w", name, err)
	}

	return meta, nil
}

// Random returns the metadata record of a uniformly chosen image.
// Returns ErrNotFound if the catalog is empty.
func (db Manager) Random(ctx context.Context) (models.ImageMetadata, error) {
	var meta models.ImageMetadata

	if db.dbpool == nil {
		return meta, fmt.Errorf("database not initialized")
	}

	row := db.dbpool.QueryRow(ctx,
		`SELECT name, last_updated, file_extension, size_bytes FROM image_metadata ORDER BY random() LIMIT 1`)
	if err := row.Scan(&meta.Name, &meta.LastUpdated, &meta.FileExtension, &meta.SizeBytes); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return meta, ErrNotFound
		}
		return meta, fmt.Errorf("failed to get random metadata: %w", err)
	}

	return meta, nil
}

// Insert stores the metadata record, replacing any previous record with the
// same name. Re-uploading an image updates its metadata in place.
func (db Manager) Insert(ctx context.Context, meta models.ImageMetadata) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	_, err := db.dbpool.Exec(ctx,
		`INSERT INTO image_metadata (name, last_updated, file_extension, size_bytes)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET
			last_updated = EXCLUDED.last_updated,
			file_extension = EXCLUDED.file_extension,
			size_bytes = EXCLUDED.size_bytes`,
		meta.Name,          // name
		meta.LastUpdated,   // last_updated
		meta.FileExtension, // file_extension
		meta.SizeBytes,     // size_bytes
	)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return fmt.Errorf("insert canceled: %v", err)
		}
		return fmt.Errorf("failed to insert metadata for %q: %v", meta.Name, err)
	}
	return nil
}

// Delete removes the metadata record for the named image.
// Deleting a name with no record is not an error.
func (db Manager) Delete(ctx context.Context, name string) error {
	if db.dbpool == nil {
		return fmt.Errorf("database not initialized")
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if _, err := db.dbpool.Exec(ctx, `DELETE FROM image_metadata WHERE name = $1`, name); err != nil {
		return fmt.Errorf("failed to delete metadata for %q: %v", name, err)
	}
	return nil
}

// Close closes the database connection.
//
// If the connection is already closed, it does nothing.
// If the connection does not close within 10 seconds, it returns an error.
func (db *Manager) Close() error {
	if db.dbpool == nil {
		return nil
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		db.dbpool.Close()
	}()

	select {
	case <-done:
		db.dbpool = nil
		return nil
	case <-time.After(10 * time.Second):
		return fmt.Errorf("timeout while closing database, connection may still be open")
	}
}

// URI is a helper method that returns a connection URI for PostgreSQL.
// It does not check the validity of the configuration values.
//
// Security warning: the returned string may include credentials.
func (c Config) URI(scheme string) string {
	host := c.Host
	if c.Port != 0 {
		host = fmt.Sprintf("%s:%d", c.Host, c.Port)
	}

	user := url.User(c.User)
	if c.Password != "" {
		user = url.UserPassword(c.User, c.Password)
	}

	u := &url.URL{
		Scheme: scheme,
		User:   user,
		Host:   host,
		Path:   c.DBName,
	}

	q := u.Query()
	if c.SSLMode != "" {
		q.Set("sslmode", c.SSLMode)
	}
	u.RawQuery = q.Encode()
	return u.String()
}
