package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/release-engineering/odcs/internal/compose"
	"github.com/release-engineering/odcs/internal/odcserrors"
)

// PostgresStore is the production Store, backed by a pgx connection pool.
// Every mutation runs inside an explicit transaction; Transition uses a
// compare-and-set UPDATE so concurrent Schedulers in separate backend
// processes can never both claim the same compose (spec.md §4.1, §5).
type PostgresStore struct {
	pool *pgxpool.Pool
}

// Open creates a PostgresStore against dsn (a standard postgres:// URL).
func Open(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connecting to store database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging store database: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// NewWithPool wraps an already-constructed pool (used by tests against a
// throwaway database).
func NewWithPool(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Close releases the underlying connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

const composeColumns = `id, owner, source_type, source, packages, builds, sigkeys, arches,
	multilib_arches, multilib_method, flags, results, koji_event, state, state_reason,
	time_submitted, time_done, time_removed, time_to_expire, removed_by, reused_id,
	koji_task_id, pungi_compose_id`

func scanCompose(row pgx.Row) (*compose.Compose, error) {
	var c compose.Compose
	var kojiEvent, reusedID, kojiTaskID *int64
	if err := row.Scan(
		&c.ID, &c.Owner, &c.SourceType, &c.Source, &c.Packages, &c.Builds, &c.Sigkeys, &c.Arches,
		&c.MultilibArches, &c.MultilibMethod, &c.Flags, &c.Results, &kojiEvent, &c.State, &c.StateReason,
		&c.TimeSubmitted, &c.TimeDone, &c.TimeRemoved, &c.TimeToExpire, &c.RemovedBy, &reusedID,
		&kojiTaskID, &c.PungiComposeID,
	); err != nil {
		return nil, err
	}
	c.KojiEvent = kojiEvent
	c.ReusedID = reusedID
	c.KojiTaskID = kojiTaskID
	return &c, nil
}

func (s *PostgresStore) CreateCompose(ctx context.Context, c *compose.Compose) (*compose.Compose, error) {
	if !c.SourceType.Valid() {
		return nil, odcserrors.New(odcserrors.InvalidInput, "unknown source_type %q", c.SourceType)
	}
	c.Results |= compose.ResultRepository
	c.State = compose.StateWait

	row := s.pool.QueryRow(ctx, `
		INSERT INTO composes (owner, source_type, source, packages, builds, sigkeys, arches,
			multilib_arches, multilib_method, flags, results, koji_event, state, state_reason,
			time_submitted, time_to_expire, removed_by, reused_id, koji_task_id, pungi_compose_id)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,'',$14,$15,'',NULL,NULL,'')
		RETURNING `+composeColumns,
		c.Owner, c.SourceType, c.Source, c.Packages, c.Builds, c.Sigkeys, c.Arches,
		c.MultilibArches, c.MultilibMethod, c.Flags, c.Results, c.KojiEvent, c.State,
		c.TimeSubmitted, c.TimeToExpire,
	)
	created, err := scanCompose(row)
	if err != nil {
		return nil, fmt.Errorf("creating compose: %w", err)
	}
	return created, nil
}

func (s *PostgresStore) GetCompose(ctx context.Context, id int64) (*compose.Compose, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+composeColumns+` FROM composes WHERE id = $1`, id)
	c, err := scanCompose(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, odcserrors.New(odcserrors.NotFound, "compose %d not found", id)
	}
	if err != nil {
		return nil, fmt.Errorf("loading compose %d: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) FindComposes(ctx context.Context, f Filters, p Pagination, o Ordering) ([]*compose.Compose, error) {
	query := `SELECT ` + composeColumns + ` FROM composes WHERE TRUE`
	var args []any
	if f.Owner != "" {
		args = append(args, f.Owner)
		query += fmt.Sprintf(" AND owner = $%d", len(args))
	}
	if f.SourceType != "" {
		args = append(args, f.SourceType)
		query += fmt.Sprintf(" AND source_type = $%d", len(args))
	}
	if f.State != "" {
		args = append(args, f.State)
		query += fmt.Sprintf(" AND state = $%d", len(args))
	}

	col := o.Column
	if col != "id" && col != "time_submitted" {
		col = "id"
	}
	query += " ORDER BY " + col
	if o.Desc {
		query += " DESC"
	}
	if p.Limit > 0 {
		args = append(args, p.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if p.Offset > 0 {
		args = append(args, p.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing composes: %w", err)
	}
	defer rows.Close()
	return collectComposes(rows)
}

func collectComposes(rows pgx.Rows) ([]*compose.Compose, error) {
	var out []*compose.Compose
	for rows.Next() {
		c, err := scanCompose(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ComposesInState(ctx context.Context, state compose.State) ([]*compose.Compose, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+composeColumns+` FROM composes WHERE state = $1 ORDER BY id`, state)
	if err != nil {
		return nil, fmt.Errorf("listing composes in state %s: %w", state, err)
	}
	defer rows.Close()
	return collectComposes(rows)
}

func (s *PostgresStore) ComposesToExpire(ctx context.Context, now time.Time) ([]*compose.Compose, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+composeColumns+` FROM composes
		WHERE state IN ($1, $2) AND time_to_expire < $3
		ORDER BY id`, compose.StateDone, compose.StateFailed, now)
	if err != nil {
		return nil, fmt.Errorf("listing composes to expire: %w", err)
	}
	defer rows.Close()
	return collectComposes(rows)
}

func (s *PostgresStore) Transition(ctx context.Context, id int64, from, to compose.State, extra TransitionExtra) error {
	if !compose.CanTransition(from, to) {
		return odcserrors.New(odcserrors.InvalidTransition, "no edge %s -> %s", from, to)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE composes SET state = $1, state_reason = $2, time_done = COALESCE($3, time_done),
			time_removed = COALESCE($4, time_removed), reused_id = COALESCE($5, reused_id),
			pungi_compose_id = CASE WHEN $6 <> '' THEN $6 ELSE pungi_compose_id END
		WHERE id = $7 AND state = $8`,
		to, extra.StateReason, extra.TimeDone, extra.TimeRemoved, extra.ReusedID, extra.PungiComposeID, id, from)
	if err != nil {
		return fmt.Errorf("transitioning compose %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return odcserrors.New(odcserrors.InvalidTransition, "compose %d is not in state %s", id, from)
	}
	return nil
}

func (s *PostgresStore) ExtendExpiration(ctx context.Context, id int64, fromTime time.Time, ttl time.Duration) error {
	candidate := fromTime.Add(ttl)
	_, err := s.pool.Exec(ctx, `
		UPDATE composes SET time_to_expire = GREATEST(time_to_expire, $1) WHERE id = $2`,
		candidate, id)
	if err != nil {
		return fmt.Errorf("extending expiration for compose %d: %w", id, err)
	}
	return nil
}

func (s *PostgresStore) ReuseCandidates(ctx context.Context, sourceType compose.SourceType) ([]*compose.Compose, error) {
	if sourceType == compose.SourceRawConfig {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+composeColumns+` FROM composes
		WHERE source_type = $1 AND state = $2 AND reused_id IS NULL
		ORDER BY id`, sourceType, compose.StateDone)
	if err != nil {
		return nil, fmt.Errorf("listing reuse candidates for %s: %w", sourceType, err)
	}
	defer rows.Close()
	return collectComposes(rows)
}

func (s *PostgresStore) ReusersOf(ctx context.Context, id int64) ([]*compose.Compose, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+composeColumns+` FROM composes WHERE reused_id = $1`, id)
	if err != nil {
		return nil, fmt.Errorf("listing reusers of compose %d: %w", id, err)
	}
	defer rows.Close()
	return collectComposes(rows)
}

func (s *PostgresStore) RequestRemoval(ctx context.Context, id int64, by string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE composes SET time_to_expire = $1, removed_by = $2
		WHERE id = $3 AND state IN ($4, $5)`,
		now, by, id, compose.StateDone, compose.StateFailed)
	if err != nil {
		return fmt.Errorf("requesting removal of compose %d: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return odcserrors.New(odcserrors.InvalidState, "compose %d is not done or failed", id)
	}
	return nil
}

func (s *PostgresStore) NextRespin(ctx context.Context, releaseShort, date string) (int, error) {
	var respin int
	err := s.pool.QueryRow(ctx, `
		INSERT INTO compose_respins (release_short, date, respin) VALUES ($1, $2, 0)
		ON CONFLICT (release_short, date)
		DO UPDATE SET respin = compose_respins.respin + 1
		RETURNING respin`, releaseShort, date).Scan(&respin)
	if err != nil {
		return 0, fmt.Errorf("allocating respin for %s/%s: %w", releaseShort, date, err)
	}
	return respin, nil
}
