// Package tabular implements the connector for point-of-sale databases.
//
// Each location runs its own PostgreSQL-compatible database reached over a
// private link. Queries are per-kind templates referencing :location_code,
// :from and :to; they are rewritten to positional parameters before
// execution. Two drivers are supported:
//
//	postgres - github.com/lib/pq
//	pgx      - github.com/jackc/pgx/v5/stdlib
package tabular

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib" // registers "pgx"
	_ "github.com/lib/pq"              // registers "postgres"

	"github.com/nucleus/fluxion/internal/connector"
	"github.com/nucleus/fluxion/internal/core"
)

const (
	defaultConnectTimeout = 10 * time.Second
	defaultCallTimeout    = 2 * time.Minute

	// wallClock is how range bounds are sent; sources store local wall time.
	wallClock = "2006-01-02 15:04:05"
)

func init() {
	connector.Register(core.ProtocolTabular, func(desc core.ConnectionDescriptor, creds connector.Credentials) (connector.Connector, error) {
		return New(desc, creds)
	})
}

// Config holds the resolved connection settings.
type Config struct {
	Driver         string
	Host           string
	Port           int
	Database       string
	User           string
	Password       string
	SSLMode        string
	ConnectTimeout time.Duration
	CallTimeout    time.Duration
	MaxOpen        int
}

// ConfigFromDescriptor resolves the descriptor's credential and defaults.
func ConfigFromDescriptor(desc core.ConnectionDescriptor, creds connector.Credentials) (*Config, error) {
	password := ""
	if desc.CredentialRef != "" {
		p, err := creds.Resolve(desc.CredentialRef)
		if err != nil {
			return nil, fmt.Errorf("resolve credential %s: %w", desc.CredentialRef, err)
		}
		password = p
	}
	cfg := &Config{
		Driver:         desc.Driver,
		Host:           desc.Host,
		Port:           desc.Port,
		Database:       desc.Database,
		User:           desc.User,
		Password:       password,
		SSLMode:        desc.SSLMode,
		ConnectTimeout: desc.ConnectTimeout,
		CallTimeout:    desc.CallTimeout,
		MaxOpen:        desc.Ceiling(),
	}
	if cfg.Driver == "" {
		cfg.Driver = "postgres"
	}
	if cfg.Port == 0 {
		cfg.Port = 5432
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = "disable"
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = defaultCallTimeout
	}
	switch cfg.Driver {
	case "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported tabular driver %q", cfg.Driver)
	}
	return cfg, nil
}

// DSN renders a keyword/value connection string understood by both drivers.
func (c *Config) DSN() string {
	secs := int(math.Ceil(c.ConnectTimeout.Seconds()))
	if secs < 1 {
		secs = 1
	}
	parts := []string{
		"host=" + dsnValue(c.Host),
		fmt.Sprintf("port=%d", c.Port),
		"dbname=" + dsnValue(c.Database),
		"sslmode=" + dsnValue(c.SSLMode),
		fmt.Sprintf("connect_timeout=%d", secs),
	}
	if c.User != "" {
		parts = append(parts, "user="+dsnValue(c.User))
	}
	if c.Password != "" {
		parts = append(parts, "password="+dsnValue(c.Password))
	}
	return strings.Join(parts, " ")
}

func dsnValue(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// Connector reads rows from one point-of-sale database.
type Connector struct {
	config  *Config
	db      *sql.DB
	queries core.QueryTemplates
}

// New opens a lazily-connecting database handle. No network I/O happens
// until the first Extract or Count.
func New(desc core.ConnectionDescriptor, creds connector.Credentials) (*Connector, error) {
	if creds == nil {
		creds = connector.NoCredentials{}
	}
	cfg, err := ConfigFromDescriptor(desc, creds)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(cfg.MaxOpen)
	db.SetMaxIdleConns(cfg.MaxOpen)
	db.SetConnMaxLifetime(5 * time.Minute)
	db.SetConnMaxIdleTime(time.Minute)

	return &Connector{config: cfg, db: db, queries: desc.Queries}, nil
}

// NewWithDB wraps an existing handle.
func NewWithDB(db *sql.DB, cfg *Config, queries core.QueryTemplates) *Connector {
	return &Connector{config: cfg, db: db, queries: queries}
}

// Close releases database resources.
func (c *Connector) Close() error {
	if c.db != nil {
		return c.db.Close()
	}
	return nil
}

// Extract runs the kind's extract template over r.
func (c *Connector) Extract(ctx context.Context, loc core.SourceLocation, kind core.DataKind, r core.TimeRange) ([]core.RawRow, error) {
	tmpl, ok := c.queries.Extract[kind]
	if !ok || strings.TrimSpace(tmpl) == "" {
		return nil, fmt.Errorf("no extract query configured for %s", kind)
	}
	query, args, err := c.bind(tmpl, loc, r)
	if err != nil {
		return nil, err
	}

	var out []core.RawRow
	err = c.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, query, args...)
		if err != nil {
			return err
		}
		defer rows.Close()

		cols, err := rows.Columns()
		if err != nil {
			return core.SchemaError("columns", err)
		}
		for rows.Next() {
			values := make([]any, len(cols))
			ptrs := make([]any, len(cols))
			for i := range values {
				ptrs[i] = &values[i]
			}
			if err := rows.Scan(ptrs...); err != nil {
				return core.SchemaError("", fmt.Errorf("scan failed: %w", err))
			}
			fields := make(map[string]any, len(cols))
			for i, col := range cols {
				fields[strings.ToLower(col)] = values[i]
			}
			out = append(out, core.RawRow{Source: core.SourceTabular, Fields: fields})
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Count runs the kind's count template, or wraps the extract template in a
// COUNT(*) when none is configured.
func (c *Connector) Count(ctx context.Context, loc core.SourceLocation, kind core.DataKind, r core.TimeRange) (int64, error) {
	tmpl := c.queries.Count[kind]
	if strings.TrimSpace(tmpl) == "" {
		extract, ok := c.queries.Extract[kind]
		if !ok || strings.TrimSpace(extract) == "" {
			return 0, fmt.Errorf("no count or extract query configured for %s", kind)
		}
		tmpl = "SELECT COUNT(*) FROM (" + strings.TrimRight(strings.TrimSpace(extract), ";") + ") AS extract_rows"
	}
	query, args, err := c.bind(tmpl, loc, r)
	if err != nil {
		return 0, err
	}

	var count int64
	err = c.withConn(ctx, func(ctx context.Context, conn *sql.Conn) error {
		if err := conn.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
			return err
		}
		return nil
	})
	return count, err
}

// withConn acquires a dedicated connection under the connect timeout, runs fn
// under the call timeout and always returns the connection to the pool.
func (c *Connector) withConn(ctx context.Context, fn func(context.Context, *sql.Conn) error) error {
	connectCtx, cancelConnect := context.WithTimeout(ctx, c.config.ConnectTimeout)
	conn, err := c.db.Conn(connectCtx)
	cancelConnect()
	if err != nil {
		return classify(ctx, err, true)
	}
	defer conn.Close()

	callCtx, cancel := context.WithTimeout(ctx, c.config.CallTimeout)
	defer cancel()
	if err := fn(callCtx, conn); err != nil {
		return classify(ctx, err, false)
	}
	return nil
}

func (c *Connector) bind(tmpl string, loc core.SourceLocation, r core.TimeRange) (string, []any, error) {
	code := loc.Code
	if code == "" {
		code = loc.ID
	}
	tz := loc.Location()
	return BindNamed(tmpl, map[string]any{
		"location_code": code,
		"from":          r.From.In(tz).Format(wallClock),
		"to":            r.To.In(tz).Format(wallClock),
	})
}
