package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/okian/riskpulse/internal/domain/model"
)

const backendPostgres = "postgres"

// pgUniqueViolation is the SQLSTATE for unique_violation.
const pgUniqueViolation = "23505"

// PostgresConfig holds connection settings for the PostgreSQL backend.
type PostgresConfig struct {
	URL string
}

// Documents are kept whole in a JSONB column. The columns beside it exist
// for the uniqueness constraints and the vehicle/time lookups; ts_nanos
// keeps nanosecond precision that TIMESTAMPTZ would round away.
var pgSchema = []string{
	`CREATE TABLE IF NOT EXISTS vehicle_data (
		id          TEXT PRIMARY KEY,
		vehicle_id  TEXT NOT NULL,
		contract_id TEXT NOT NULL DEFAULT '',
		ts          TIMESTAMPTZ NOT NULL,
		ts_nanos    BIGINT NOT NULL,
		doc         JSONB NOT NULL,
		CONSTRAINT ` + model.TelemetryKey.Name + ` UNIQUE (vehicle_id, contract_id, ts_nanos)
	)`,
	`CREATE INDEX IF NOT EXISTS vehicle_data_vehicle_ts_idx ON vehicle_data (vehicle_id, ts_nanos DESC)`,
	`CREATE TABLE IF NOT EXISTS risk_events (
		id          TEXT PRIMARY KEY,
		vehicle_id  TEXT NOT NULL,
		contract_id TEXT NOT NULL DEFAULT '',
		type        TEXT NOT NULL,
		ts_nanos    BIGINT NOT NULL,
		doc         JSONB NOT NULL,
		CONSTRAINT ` + model.RiskEventKey.Name + ` UNIQUE (vehicle_id, contract_id, ts_nanos)
	)`,
	`CREATE TABLE IF NOT EXISTS insurance_contracts (
		id         TEXT PRIMARY KEY,
		vehicle_id TEXT NOT NULL,
		doc        JSONB NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS insurance_contracts_vehicle_idx ON insurance_contracts (vehicle_id)`,
}

// OpenPostgres connects, ensures the schema and returns the three stores.
func OpenPostgres(ctx context.Context, cfg PostgresConfig) (*Stores, error) {
	if cfg.URL == "" {
		return nil, errors.New("postgres: url is required")
	}
	pool, err := pgxpool.New(ctx, cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", errors.Join(ErrUnavailable, err))
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", errors.Join(ErrUnavailable, err))
	}

	batch := &pgx.Batch{}
	for _, stmt := range pgSchema {
		batch.Queue(stmt)
	}
	if err := pool.SendBatch(ctx, batch).Close(); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ensure schema: %w", err)
	}

	return &Stores{
		Backend:   backendPostgres,
		Telemetry: &pgTelemetry{pool: pool},
		Events:    &pgEvents{pool: pool},
		Contracts: &pgContracts{pool: pool},
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}

func mapPgErr(err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return errors.Join(ErrNotFound, err)
	case errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation:
		return errors.Join(ErrConflict, err)
	case pgconn.SafeToRetry(err), pgconn.Timeout(err):
		return errors.Join(ErrUnavailable, err)
	default:
		return err
	}
}

// scanDocs reads a single JSONB column from every row.
func scanDocs[T any](rows pgx.Rows) ([]*T, error) {
	defer rows.Close()
	out := make([]*T, 0)
	for rows.Next() {
		var raw []byte
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		v, err := decodeInto[T](raw)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func queryOne[T any](ctx context.Context, pool *pgxpool.Pool, sql string, args ...any) (*T, error) {
	var raw []byte
	if err := pool.QueryRow(ctx, sql, args...).Scan(&raw); err != nil {
		return nil, mapPgErr(err)
	}
	return decodeInto[T](raw)
}

// pgTelemetry implements TelemetryStore.
type pgTelemetry struct {
	pool *pgxpool.Pool
}

const insertTelemetrySQL = `
	INSERT INTO vehicle_data (id, vehicle_id, contract_id, ts, ts_nanos, doc)
	VALUES ($1, $2, $3, $4, $5, $6)
`

func (s *pgTelemetry) Insert(ctx context.Context, rec *model.TelemetryRecord) (err error) {
	defer observe(backendPostgres, "telemetry_insert", time.Now(), &err)
	if rec.ID == "" {
		return ErrMissingID
	}
	doc, err := model.EncodeTelemetry(rec)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, insertTelemetrySQL,
		rec.ID, rec.VehicleID, rec.ContractID, rec.Timestamp, rec.Timestamp.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("postgres: insert telemetry %s: %w", rec.ID, mapPgErr(err))
	}
	return nil
}

func (s *pgTelemetry) FindByID(ctx context.Context, id string) (rec *model.TelemetryRecord, err error) {
	defer observe(backendPostgres, "telemetry_find_id", time.Now(), &err)
	rec, err = queryOne[model.TelemetryRecord](ctx, s.pool, `SELECT doc FROM vehicle_data WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: telemetry %s: %w", id, err)
	}
	return rec, nil
}

func (s *pgTelemetry) FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (rec *model.TelemetryRecord, err error) {
	defer observe(backendPostgres, "telemetry_find_key", time.Now(), &err)
	rec, err = queryOne[model.TelemetryRecord](ctx, s.pool,
		`SELECT doc FROM vehicle_data WHERE vehicle_id = $1 AND contract_id = $2 AND ts_nanos = $3`,
		vehicleID, contractID, ts.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("postgres: telemetry by key: %w", err)
	}
	return rec, nil
}

func (s *pgTelemetry) Latest(ctx context.Context, vehicleID string) (rec *model.TelemetryRecord, err error) {
	defer observe(backendPostgres, "telemetry_latest", time.Now(), &err)
	rec, err = queryOne[model.TelemetryRecord](ctx, s.pool,
		`SELECT doc FROM vehicle_data WHERE vehicle_id = $1 ORDER BY ts_nanos DESC LIMIT 1`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: latest telemetry for %s: %w", vehicleID, err)
	}
	return rec, nil
}

func (s *pgTelemetry) History(ctx context.Context, vehicleID string, page, size int) (out []*model.TelemetryRecord, err error) {
	defer observe(backendPostgres, "telemetry_history", time.Now(), &err)
	if page < 0 || size <= 0 {
		return nil, fmt.Errorf("postgres: invalid page %d size %d", page, size)
	}
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM vehicle_data WHERE vehicle_id = $1 ORDER BY ts_nanos DESC LIMIT $2 OFFSET $3`,
		vehicleID, size, page*size)
	if err != nil {
		return nil, fmt.Errorf("postgres: telemetry history: %w", mapPgErr(err))
	}
	out, err = scanDocs[model.TelemetryRecord](rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: telemetry history: %w", mapPgErr(err))
	}
	return out, nil
}

func (s *pgTelemetry) Range(ctx context.Context, vehicleID string, start, end time.Time) (out []*model.TelemetryRecord, err error) {
	defer observe(backendPostgres, "telemetry_range", time.Now(), &err)
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM vehicle_data WHERE vehicle_id = $1 AND ts_nanos BETWEEN $2 AND $3 ORDER BY ts_nanos`,
		vehicleID, start.UnixNano(), end.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("postgres: telemetry range: %w", mapPgErr(err))
	}
	out, err = scanDocs[model.TelemetryRecord](rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: telemetry range: %w", mapPgErr(err))
	}
	return out, nil
}

func (s *pgTelemetry) Count(ctx context.Context, vehicleID string) (n int64, err error) {
	defer observe(backendPostgres, "telemetry_count", time.Now(), &err)
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM vehicle_data WHERE vehicle_id = $1`, vehicleID).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count telemetry: %w", mapPgErr(err))
	}
	return n, nil
}

func (s *pgTelemetry) CountAll(ctx context.Context) (n int64, err error) {
	defer observe(backendPostgres, "telemetry_count_all", time.Now(), &err)
	if err := s.pool.QueryRow(ctx, `SELECT count(*) FROM vehicle_data`).Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count telemetry: %w", mapPgErr(err))
	}
	return n, nil
}

// pgEvents implements EventStore.
type pgEvents struct {
	pool *pgxpool.Pool
}

func (s *pgEvents) Insert(ctx context.Context, ev *model.RiskEvent) (err error) {
	defer observe(backendPostgres, "event_insert", time.Now(), &err)
	if ev.ID == "" {
		return ErrMissingID
	}
	doc, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("postgres: encode event: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO risk_events (id, vehicle_id, contract_id, type, ts_nanos, doc) VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.ID, ev.VehicleID, ev.ContractID, string(ev.Type), ev.Timestamp.UnixNano(), doc)
	if err != nil {
		return fmt.Errorf("postgres: insert event %s: %w", ev.ID, mapPgErr(err))
	}
	return nil
}

func (s *pgEvents) FindByKey(ctx context.Context, vehicleID, contractID string, ts time.Time) (ev *model.RiskEvent, err error) {
	defer observe(backendPostgres, "event_find_key", time.Now(), &err)
	ev, err = queryOne[model.RiskEvent](ctx, s.pool,
		`SELECT doc FROM risk_events WHERE vehicle_id = $1 AND contract_id = $2 AND ts_nanos = $3`,
		vehicleID, contractID, ts.UnixNano())
	if err != nil {
		return nil, fmt.Errorf("postgres: event by key: %w", err)
	}
	return ev, nil
}

func (s *pgEvents) ListByVehicle(ctx context.Context, vehicleID string, typ model.RiskEventType) (out []*model.RiskEvent, err error) {
	defer observe(backendPostgres, "event_list", time.Now(), &err)
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM risk_events WHERE vehicle_id = $1 AND ($2 = '' OR type = $2) ORDER BY ts_nanos`,
		vehicleID, string(typ))
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", mapPgErr(err))
	}
	out, err = scanDocs[model.RiskEvent](rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list events: %w", mapPgErr(err))
	}
	return out, nil
}

// pgContracts implements ContractStore.
type pgContracts struct {
	pool *pgxpool.Pool
}

func (s *pgContracts) Insert(ctx context.Context, c *model.InsuranceContract) (err error) {
	defer observe(backendPostgres, "contract_insert", time.Now(), &err)
	if c.ID == "" {
		return ErrMissingID
	}
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("postgres: encode contract: %w", err)
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO insurance_contracts (id, vehicle_id, doc) VALUES ($1, $2, $3)`, c.ID, c.VehicleID, doc)
	if err != nil {
		return fmt.Errorf("postgres: insert contract %s: %w", c.ID, mapPgErr(err))
	}
	return nil
}

func (s *pgContracts) Update(ctx context.Context, c *model.InsuranceContract) (err error) {
	defer observe(backendPostgres, "contract_update", time.Now(), &err)
	doc, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("postgres: encode contract: %w", err)
	}
	tag, err := s.pool.Exec(ctx,
		`UPDATE insurance_contracts SET vehicle_id = $2, doc = $3 WHERE id = $1`, c.ID, c.VehicleID, doc)
	if err != nil {
		return fmt.Errorf("postgres: update contract %s: %w", c.ID, mapPgErr(err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres: update contract %s: %w", c.ID, ErrNotFound)
	}
	return nil
}

func (s *pgContracts) FindByID(ctx context.Context, id string) (c *model.InsuranceContract, err error) {
	defer observe(backendPostgres, "contract_find_id", time.Now(), &err)
	c, err = queryOne[model.InsuranceContract](ctx, s.pool, `SELECT doc FROM insurance_contracts WHERE id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("postgres: contract %s: %w", id, err)
	}
	return c, nil
}

func (s *pgContracts) ListByVehicle(ctx context.Context, vehicleID string) (out []*model.InsuranceContract, err error) {
	defer observe(backendPostgres, "contract_list", time.Now(), &err)
	rows, err := s.pool.Query(ctx,
		`SELECT doc FROM insurance_contracts WHERE vehicle_id = $1 ORDER BY doc->>'startDate', id`, vehicleID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contracts: %w", mapPgErr(err))
	}
	out, err = scanDocs[model.InsuranceContract](rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: list contracts: %w", mapPgErr(err))
	}
	return out, nil
}
