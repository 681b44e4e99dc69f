// Package mysqlstore stores plugin state in a MySQL table.
package mysqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/pteroca-com/pluginhost/internal/domain/plugin"
)

// ErrIDConflict is returned when a plugin is saved with an ID that another
// plugin already owns.
var ErrIDConflict = errors.New("plugin id already in use")

const errDuplicateEntry = 1062

const schema = `CREATE TABLE IF NOT EXISTS plugins (
        id CHAR(36) NOT NULL PRIMARY KEY,
        name VARCHAR(64) NOT NULL,
        display_name VARCHAR(255) NOT NULL,
        version VARCHAR(64) NOT NULL,
        author VARCHAR(255) NOT NULL DEFAULT '',
        description TEXT,
        license VARCHAR(64) NOT NULL DEFAULT '',
        state VARCHAR(32) NOT NULL,
        path VARCHAR(1024) NOT NULL,
        manifest LONGTEXT NOT NULL,
        host_min VARCHAR(64) NOT NULL DEFAULT '',
        host_max VARCHAR(64) NOT NULL DEFAULT '',
        enabled_at DATETIME(6) NULL,
        disabled_at DATETIME(6) NULL,
        fault_reason TEXT,
        created_at DATETIME(6) NOT NULL,
        updated_at DATETIME(6) NOT NULL,
        UNIQUE KEY uq_plugins_name (name),
        INDEX idx_plugins_state (state)
)`

const columns = `id, name, display_name, version, author, description, license, state, path,
        manifest, host_min, host_max, enabled_at, disabled_at, fault_reason, created_at, updated_at`

// Repository implements plugin.Repository on MySQL.
type Repository struct {
	db *sql.DB
}

// Open connects to dsn, verifies the connection and creates the plugins
// table when it does not exist. parseTime is forced on.
func Open(ctx context.Context, dsn string) (*Repository, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, errors.New("mysql dsn cannot be empty")
	}

	cfg, err := mysql.ParseDSN(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing mysql dsn: %w", err)
	}
	cfg.ParseTime = true

	connector, err := mysql.NewConnector(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating mysql connector: %w", err)
	}
	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("connecting to mysql: %w", err)
	}

	repo := NewRepository(db)
	if err := repo.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// NewRepository wraps an open database handle.
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// Migrate creates the plugins table.
func (r *Repository) Migrate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating plugins table: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (r *Repository) Close() error {
	return r.db.Close()
}

// Get returns the named plugin.
func (r *Repository) Get(ctx context.Context, name string) (*plugin.Plugin, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+columns+` FROM plugins WHERE name = ?`, name)
	p, err := scanPlugin(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, name)
		}
		return nil, fmt.Errorf("querying plugin %s: %w", name, err)
	}
	return p, nil
}

// List returns every plugin ordered by name.
func (r *Repository) List(ctx context.Context) ([]*plugin.Plugin, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+columns+` FROM plugins ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing plugins: %w", err)
	}
	defer rows.Close()

	var out []*plugin.Plugin
	for rows.Next() {
		p, err := scanPlugin(rows)
		if err != nil {
			return nil, fmt.Errorf("reading plugin row: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing plugins: %w", err)
	}
	return out, nil
}

// Save inserts p or updates the row with the same name.
func (r *Repository) Save(ctx context.Context, p *plugin.Plugin) error {
	if p == nil {
		return plugin.ErrNilPlugin
	}
	if p.Name == "" {
		return plugin.ErrEmptyPluginName
	}

	const stmt = `INSERT INTO plugins (` + columns + `)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON DUPLICATE KEY UPDATE
        display_name = VALUES(display_name), version = VALUES(version), author = VALUES(author),
        description = VALUES(description), license = VALUES(license), state = VALUES(state),
        path = VALUES(path), manifest = VALUES(manifest), host_min = VALUES(host_min),
        host_max = VALUES(host_max), enabled_at = VALUES(enabled_at), disabled_at = VALUES(disabled_at),
        fault_reason = VALUES(fault_reason), updated_at = VALUES(updated_at)`

	_, err := r.db.ExecContext(ctx, stmt,
		p.ID,
		p.Name,
		p.DisplayName,
		p.Version,
		p.Author,
		p.Description,
		p.License,
		string(p.State),
		p.Path,
		string(p.Manifest),
		p.HostMin,
		p.HostMax,
		nullTime(p.EnabledAt),
		nullTime(p.DisabledAt),
		p.FaultReason,
		p.CreatedAt,
		p.UpdatedAt,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
			return fmt.Errorf("%w: %s", ErrIDConflict, p.ID)
		}
		return fmt.Errorf("saving plugin %s: %w", p.Name, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanPlugin(s scanner) (*plugin.Plugin, error) {
	var (
		p           plugin.Plugin
		state       string
		manifest    string
		description sql.NullString
		faultReason sql.NullString
		enabledAt   sql.NullTime
		disabledAt  sql.NullTime
	)
	if err := s.Scan(
		&p.ID,
		&p.Name,
		&p.DisplayName,
		&p.Version,
		&p.Author,
		&description,
		&p.License,
		&state,
		&p.Path,
		&manifest,
		&p.HostMin,
		&p.HostMax,
		&enabledAt,
		&disabledAt,
		&faultReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	); err != nil {
		return nil, err
	}

	parsed, err := plugin.ParseState(state)
	if err != nil {
		return nil, fmt.Errorf("plugin %s: %w", p.Name, err)
	}
	p.State = parsed
	p.Manifest = []byte(manifest)
	p.Description = description.String
	p.FaultReason = faultReason.String
	p.EnabledAt = timePtr(enabledAt)
	p.DisabledAt = timePtr(disabledAt)
	return &p, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}

var _ plugin.Repository = (*Repository)(nil)
