package remote

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Postgres implements Store over a pgx connection pool. SQL is generated
// dynamically from the row maps; column order is sorted for deterministic
// statements.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open creates a connection pool and verifies connectivity.
func Open(ctx context.Context, url string) (*Postgres, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}

	cfg.MaxConns = 10
	cfg.MinConns = 0 // lazy: the client must start with zero connectivity
	cfg.MaxConnLifetime = time.Hour
	cfg.MaxConnIdleTime = 30 * time.Minute
	cfg.HealthCheckPeriod = time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	// An unreachable store at startup is expected: the connectivity
	// monitor decides when it becomes usable.
	if err := pool.Ping(ctx); err != nil {
		log.Warn().Err(err).Msg("remote store unreachable at startup, continuing offline")
	}

	log.Info().
		Int32("max_conns", cfg.MaxConns).
		Msg("postgres connection pool created")

	return &Postgres{pool: pool}, nil
}

// Close releases the underlying pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

func (p *Postgres) Select(ctx context.Context, table string, filters []Filter, orderBy string) ([]Row, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", pgx.Identifier{table}.Sanitize())

	args := make([]any, 0, len(filters))
	for i, f := range filters {
		if i == 0 {
			sb.WriteString(" WHERE ")
		} else {
			sb.WriteString(" AND ")
		}
		args = append(args, f.Value)
		fmt.Fprintf(&sb, "%s = $%d", pgx.Identifier{f.Column}.Sanitize(), len(args))
	}
	if orderBy != "" {
		fmt.Fprintf(&sb, " ORDER BY %s", pgx.Identifier{orderBy}.Sanitize())
	}

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	defer rows.Close()

	var out []Row
	for rows.Next() {
		row, err := scanRow(rows)
		if err != nil {
			return nil, fmt.Errorf("select %s: %w", table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("select %s: %w", table, err)
	}
	return out, nil
}

func (p *Postgres) Insert(ctx context.Context, table string, row Row) (Row, error) {
	if len(row) == 0 {
		return nil, fmt.Errorf("insert %s: empty row", table)
	}

	cols := sortedColumns(row)
	names := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		names[i] = pgx.Identifier{c}.Sanitize()
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = row[c]
	}

	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) RETURNING *",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(names, ", "),
		strings.Join(placeholders, ", "),
	)

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	defer rows.Close()

	if !rows.Next() {
		if err := rows.Err(); err != nil {
			return nil, fmt.Errorf("insert %s: %w", table, err)
		}
		return nil, fmt.Errorf("insert %s: no row returned", table)
	}
	stored, err := scanRow(rows)
	if err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("insert %s: %w", table, err)
	}
	return stored, nil
}

func (p *Postgres) Update(ctx context.Context, table string, id any, changes Row) error {
	if len(changes) == 0 {
		return fmt.Errorf("update %s: empty changes", table)
	}

	cols := sortedColumns(changes)
	sets := make([]string, 0, len(cols))
	args := make([]any, 0, len(cols)+1)
	for _, c := range cols {
		// id is immutable; never part of the SET clause.
		if c == "id" {
			continue
		}
		args = append(args, changes[c])
		sets = append(sets, fmt.Sprintf("%s = $%d", pgx.Identifier{c}.Sanitize(), len(args)))
	}
	if len(sets) == 0 {
		return fmt.Errorf("update %s: no updatable columns", table)
	}
	args = append(args, id)

	query := fmt.Sprintf(
		"UPDATE %s SET %s WHERE id = $%d",
		pgx.Identifier{table}.Sanitize(),
		strings.Join(sets, ", "),
		len(args),
	)

	tag, err := p.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", table, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update %s id %v: %w", table, id, ErrNoRowsAffected)
	}
	return nil
}

func (p *Postgres) Delete(ctx context.Context, table string, id any) error {
	query := fmt.Sprintf("DELETE FROM %s WHERE id = $1", pgx.Identifier{table}.Sanitize())
	if _, err := p.pool.Exec(ctx, query, id); err != nil {
		return fmt.Errorf("delete %s: %w", table, err)
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func sortedColumns(row Row) []string {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)
	return cols
}

// scanRow converts the current pgx row into a column-keyed map.
func scanRow(rows pgx.Rows) (Row, error) {
	values, err := rows.Values()
	if err != nil {
		return nil, err
	}
	fields := rows.FieldDescriptions()
	row := make(Row, len(fields))
	for i, fd := range fields {
		row[fd.Name] = values[i]
	}
	return row, nil
}
