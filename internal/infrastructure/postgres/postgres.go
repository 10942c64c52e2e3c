package postgres

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paincake00/dispatchcore/internal/entity"
	"github.com/paincake00/dispatchcore/internal/usecase"
)

//go:embed migrations/*.sql
var migrations embed.FS

// PostgresRepo реализация репозиториев тревог, назначений и попыток проверки на основе PostgreSQL.
type PostgresRepo struct {
	Pool *pgxpool.Pool
}

// New создает новое подключение к PostgreSQL.
func New(dsn string) (*PostgresRepo, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("unable to parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("ping failed: %w", err)
	}

	return &PostgresRepo{Pool: pool}, nil
}

// Close закрывает пул соединений.
func (r *PostgresRepo) Close() {
	r.Pool.Close()
}

// Ping проверяет соединение с БД.
func (r *PostgresRepo) Ping(ctx context.Context) error {
	return r.Pool.Ping(ctx)
}

// Migrate применяет встроенные SQL-миграции по порядку имен. Скрипты идемпотентны.
func (r *PostgresRepo) Migrate(ctx context.Context) error {
	names, err := fs.Glob(migrations, "migrations/*.sql")
	if err != nil {
		return err
	}
	sort.Strings(names)

	for _, name := range names {
		script, err := migrations.ReadFile(name)
		if err != nil {
			return err
		}
		if _, err := r.Pool.Exec(ctx, string(script)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return usecase.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("%s: %w", pgErr.ConstraintName, usecase.ErrDuplicateActiveAssignment)
	}
	return err
}

func splitCoordinates(c *entity.Coordinates) (lat, lon *float64) {
	if c == nil {
		return nil, nil
	}
	return &c.Latitude, &c.Longitude
}

func joinCoordinates(lat, lon *float64) *entity.Coordinates {
	if lat == nil || lon == nil {
		return nil
	}
	return &entity.Coordinates{Latitude: *lat, Longitude: *lon}
}

// Alarm Repository

const alarmColumns = `id, client_id, client_name, category, priority, address, latitude, longitude, status, created_at`

func scanAlarm(row pgx.Row) (*entity.Alarm, error) {
	var (
		a        entity.Alarm
		lat, lon *float64
	)
	if err := row.Scan(&a.ID, &a.ClientID, &a.ClientName, &a.Category, &a.Priority, &a.Address, &lat, &lon, &a.Status, &a.CreatedAt); err != nil {
		return nil, mapErr(err)
	}
	a.Location = joinCoordinates(lat, lon)
	return &a, nil
}

// CreateAlarm сохраняет новую тревогу.
func (r *PostgresRepo) CreateAlarm(ctx context.Context, a *entity.Alarm) error {
	lat, lon := splitCoordinates(a.Location)
	sql := `INSERT INTO alarms (` + alarmColumns + `) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`
	_, err := r.Pool.Exec(ctx, sql, a.ID, a.ClientID, a.ClientName, a.Category, a.Priority, a.Address, lat, lon, a.Status, a.CreatedAt)
	return err
}

// GetAlarm получает тревогу по ID.
func (r *PostgresRepo) GetAlarm(ctx context.Context, id string) (*entity.Alarm, error) {
	sql := `SELECT ` + alarmColumns + ` FROM alarms WHERE id = $1`
	return scanAlarm(r.Pool.QueryRow(ctx, sql, id))
}

// ListAlarms список тревог, новые первыми.
func (r *PostgresRepo) ListAlarms(ctx context.Context, limit, offset int) ([]*entity.Alarm, error) {
	sql := `SELECT ` + alarmColumns + ` FROM alarms ORDER BY created_at DESC LIMIT $1 OFFSET $2`
	rows, err := r.Pool.Query(ctx, sql, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	alarms := make([]*entity.Alarm, 0)
	for rows.Next() {
		a, err := scanAlarm(rows)
		if err != nil {
			return nil, err
		}
		alarms = append(alarms, a)
	}
	return alarms, rows.Err()
}

// MirrorAlarmStatus зеркалирует статус назначения в тревогу одним запросом: строка тревоги
// обновляется, только если назначение последнее для тревоги и все еще в этом статусе.
// Блокировка строки тревоги упорядочивает зеркала разных экземпляров.
func (r *PostgresRepo) MirrorAlarmStatus(ctx context.Context, alarmID, assignmentID string, status entity.Status) error {
	sql := `UPDATE alarms SET status = $1
			WHERE id = $2 AND ($3::text, $1::text) = (
				SELECT id, status FROM assignments
				WHERE alarm_id = $2
				ORDER BY created_at DESC, id DESC
				LIMIT 1)`
	ct, err := r.Pool.Exec(ctx, sql, status, alarmID, assignmentID)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM alarms WHERE id = $1)`, alarmID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return usecase.ErrNotFound
		}
	}
	return nil
}

// Assignment Repository

const assignmentColumns = `id, alarm_id, supervisor_id, dispatcher_id, status, created_at,
	accepted_at, arrived_at, verified_at, completed_at, canceled_at,
	arrival_latitude, arrival_longitude, notes, cancel_reason, verification`

func scanAssignment(row pgx.Row) (*entity.Assignment, error) {
	var (
		a            entity.Assignment
		lat, lon     *float64
		verification []byte
	)
	err := row.Scan(&a.ID, &a.AlarmID, &a.SupervisorID, &a.DispatcherID, &a.Status, &a.CreatedAt,
		&a.AcceptedAt, &a.ArrivedAt, &a.VerifiedAt, &a.CompletedAt, &a.CanceledAt,
		&lat, &lon, &a.Notes, &a.CancelReason, &verification)
	if err != nil {
		return nil, mapErr(err)
	}
	a.ArrivalLocation = joinCoordinates(lat, lon)
	if len(verification) > 0 {
		var v entity.VerificationAttempt
		if err := json.Unmarshal(verification, &v); err != nil {
			return nil, fmt.Errorf("decode verification of %s: %w", a.ID, err)
		}
		a.Verification = &v
	}
	return &a, nil
}

func encodeVerification(v *entity.VerificationAttempt) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

func (r *PostgresRepo) queryAssignments(ctx context.Context, sql string, args ...any) ([]*entity.Assignment, error) {
	rows, err := r.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*entity.Assignment, 0)
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateAssignment сохраняет новое назначение.
func (r *PostgresRepo) CreateAssignment(ctx context.Context, a *entity.Assignment) error {
	verification, err := encodeVerification(a.Verification)
	if err != nil {
		return err
	}
	lat, lon := splitCoordinates(a.ArrivalLocation)
	sql := `INSERT INTO assignments (` + assignmentColumns + `)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	_, err = r.Pool.Exec(ctx, sql, a.ID, a.AlarmID, a.SupervisorID, a.DispatcherID, a.Status, a.CreatedAt,
		a.AcceptedAt, a.ArrivedAt, a.VerifiedAt, a.CompletedAt, a.CanceledAt,
		lat, lon, a.Notes, a.CancelReason, verification)
	return mapErr(err)
}

// GetAssignment получает назначение по ID.
func (r *PostgresRepo) GetAssignment(ctx context.Context, id string) (*entity.Assignment, error) {
	sql := `SELECT ` + assignmentColumns + ` FROM assignments WHERE id = $1`
	return scanAssignment(r.Pool.QueryRow(ctx, sql, id))
}

// UpdateAssignment перезаписывает изменяемые поля назначения, если статус в таблице
// все еще expected. Ноль затронутых строк при существующем назначении - ErrStaleAssignment.
func (r *PostgresRepo) UpdateAssignment(ctx context.Context, a *entity.Assignment, expected entity.Status) error {
	verification, err := encodeVerification(a.Verification)
	if err != nil {
		return err
	}
	lat, lon := splitCoordinates(a.ArrivalLocation)
	sql := `UPDATE assignments SET status=$1, accepted_at=$2, arrived_at=$3, verified_at=$4, completed_at=$5,
			canceled_at=$6, arrival_latitude=$7, arrival_longitude=$8, notes=$9, cancel_reason=$10, verification=$11
			WHERE id=$12 AND status=$13`
	ct, err := r.Pool.Exec(ctx, sql, a.Status, a.AcceptedAt, a.ArrivedAt, a.VerifiedAt, a.CompletedAt,
		a.CanceledAt, lat, lon, a.Notes, a.CancelReason, verification, a.ID, expected)
	if err != nil {
		return mapErr(err)
	}
	if ct.RowsAffected() == 0 {
		var exists bool
		if err := r.Pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assignments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return usecase.ErrNotFound
		}
		return usecase.ErrStaleAssignment
	}
	return nil
}

// GetActiveByAlarm активное назначение тревоги или nil, если его нет.
func (r *PostgresRepo) GetActiveByAlarm(ctx context.Context, alarmID string) (*entity.Assignment, error) {
	sql := `SELECT ` + assignmentColumns + ` FROM assignments
			WHERE alarm_id = $1 AND status NOT IN ('completed', 'canceled') LIMIT 1`
	a, err := scanAssignment(r.Pool.QueryRow(ctx, sql, alarmID))
	if errors.Is(err, usecase.ErrNotFound) {
		return nil, nil
	}
	return a, err
}

// ListActive все нетерминальные назначения, старые первыми.
func (r *PostgresRepo) ListActive(ctx context.Context) ([]*entity.Assignment, error) {
	sql := `SELECT ` + assignmentColumns + ` FROM assignments
			WHERE status NOT IN ('completed', 'canceled') ORDER BY created_at`
	return r.queryAssignments(ctx, sql)
}

// ListByAlarm история назначений тревоги.
func (r *PostgresRepo) ListByAlarm(ctx context.Context, alarmID string) ([]*entity.Assignment, error) {
	sql := `SELECT ` + assignmentColumns + ` FROM assignments WHERE alarm_id = $1 ORDER BY created_at`
	return r.queryAssignments(ctx, sql, alarmID)
}

// VerificationAttempt Repository

// CreateAttempt сохраняет попытку подтверждения прибытия. Записи не изменяются.
func (r *PostgresRepo) CreateAttempt(ctx context.Context, v *entity.VerificationAttempt) error {
	lat, lon := splitCoordinates(v.Reporter)
	sql := `INSERT INTO verification_attempts (id, assignment_id, scan_client_id, scan_location, scanned_at,
			reporter_latitude, reporter_longitude, distance_meters, outcome, reason, unconfirmed, attempted_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	_, err := r.Pool.Exec(ctx, sql, v.ID, v.AssignmentID, v.Scan.ClientID, v.Scan.LocationCode, v.Scan.ScannedAt,
		lat, lon, v.DistanceMeters, v.Outcome, v.Reason, v.Unconfirmed, v.AttemptedAt)
	return err
}

// ListAttempts журнал попыток в порядке проведения.
func (r *PostgresRepo) ListAttempts(ctx context.Context, assignmentID string) ([]*entity.VerificationAttempt, error) {
	sql := `SELECT id, assignment_id, scan_client_id, scan_location, scanned_at, reporter_latitude, reporter_longitude,
			distance_meters, outcome, reason, unconfirmed, attempted_at
			FROM verification_attempts WHERE assignment_id = $1 ORDER BY attempted_at`
	rows, err := r.Pool.Query(ctx, sql, assignmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	attempts := make([]*entity.VerificationAttempt, 0)
	for rows.Next() {
		var (
			v         entity.VerificationAttempt
			lat, lon  *float64
			scannedAt *time.Time
		)
		if err := rows.Scan(&v.ID, &v.AssignmentID, &v.Scan.ClientID, &v.Scan.LocationCode, &scannedAt,
			&lat, &lon, &v.DistanceMeters, &v.Outcome, &v.Reason, &v.Unconfirmed, &v.AttemptedAt); err != nil {
			return nil, err
		}
		if scannedAt != nil {
			v.Scan.ScannedAt = *scannedAt
		}
		v.Reporter = joinCoordinates(lat, lon)
		attempts = append(attempts, &v)
	}
	return attempts, rows.Err()
}

var (
	_ usecase.AlarmRepository        = (*PostgresRepo)(nil)
	_ usecase.AssignmentRepository   = (*PostgresRepo)(nil)
	_ usecase.VerificationRepository = (*PostgresRepo)(nil)
)
