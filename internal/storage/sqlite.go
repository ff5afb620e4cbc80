package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pressly/goose/v3"

	"github.com/maremma-monitoring/maremma/internal/types"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNotFound is returned by single-row lookups that find nothing.
var ErrNotFound = errors.New("storage: not found")

// SQLiteStore implements Store on top of database/sql + mattn/go-sqlite3,
// queried through jmoiron/sqlx and migrated forward-only with
// pressly/goose/v3 against an embed.FS of SQL files.
type SQLiteStore struct {
	db *sqlx.DB
}

// Open opens (creating if necessary) the SQLite database at path and
// applies any pending migrations.
func Open(path string) (*SQLiteStore, error) {
	db, err := sqlx.Connect("sqlite3", path+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening database %s: %w", path, err)
	}
	db.SetMaxOpenConns(1) // sqlite3 driver serializes writers anyway; avoid SQLITE_BUSY churn

	if err := goose.SetDialect("sqlite3"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting migration dialect: %w", err)
	}
	goose.SetBaseFS(migrationsFS)
	if err := goose.Up(db.DB, "migrations"); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying migrations: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// hostRow is the sqlx-scannable shape of the hosts table.
type hostRow struct {
	ID        string `db:"id"`
	Name      string `db:"name"`
	Hostname  string `db:"hostname"`
	CheckKind string `db:"check_kind"`
	Config    string `db:"config"`
	Tags      string `db:"tags"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (r hostRow) toHost() (*types.Host, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt host id %q: %w", r.ID, err)
	}
	var cfg map[string]map[string]any
	if err := json.Unmarshal([]byte(r.Config), &cfg); err != nil {
		return nil, fmt.Errorf("corrupt host config for %s: %w", r.ID, err)
	}
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil, fmt.Errorf("corrupt host tags for %s: %w", r.ID, err)
	}
	return &types.Host{
		ID:        id,
		Name:      r.Name,
		Hostname:  r.Hostname,
		Check:     types.HostCheckKind(r.CheckKind),
		Config:    cfg,
		Tags:      tags,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}, nil
}

func (s *SQLiteStore) CreateHost(ctx context.Context, host *types.Host) error {
	cfg, err := json.Marshal(host.Config)
	if err != nil {
		return fmt.Errorf("marshalling host config: %w", err)
	}
	tags, err := json.Marshal(host.Tags)
	if err != nil {
		return fmt.Errorf("marshalling host tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO hosts (id, name, hostname, check_kind, config, tags)
		VALUES (?, ?, ?, ?, ?, ?)`,
		host.ID.String(), host.Name, host.Hostname, string(host.Check), cfg, tags)
	if err != nil {
		return fmt.Errorf("inserting host %s: %w", host.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetHost(ctx context.Context, id uuid.UUID) (*types.Host, error) {
	var row hostRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM hosts WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching host %s: %w", id, err)
	}
	return row.toHost()
}

func (s *SQLiteStore) GetHostByName(ctx context.Context, name string) (*types.Host, error) {
	var row hostRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM hosts WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching host %q: %w", name, err)
	}
	return row.toHost()
}

func (s *SQLiteStore) ListHosts(ctx context.Context) ([]*types.Host, error) {
	var rows []hostRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM hosts ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing hosts: %w", err)
	}
	hosts := make([]*types.Host, 0, len(rows))
	for _, r := range rows {
		h, err := r.toHost()
		if err != nil {
			return nil, err
		}
		hosts = append(hosts, h)
	}
	return hosts, nil
}

func (s *SQLiteStore) UpdateHost(ctx context.Context, host *types.Host) error {
	cfg, err := json.Marshal(host.Config)
	if err != nil {
		return fmt.Errorf("marshalling host config: %w", err)
	}
	tags, err := json.Marshal(host.Tags)
	if err != nil {
		return fmt.Errorf("marshalling host tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE hosts SET hostname = ?, check_kind = ?, config = ?, tags = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		host.Hostname, string(host.Check), cfg, tags, host.ID.String())
	if err != nil {
		return fmt.Errorf("updating host %s: %w", host.ID, err)
	}
	return mustAffectOne(res, "host", host.ID.String())
}

func (s *SQLiteStore) DeleteHost(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM hosts WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting host %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) CreateHostGroup(ctx context.Context, group *types.HostGroup) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO host_groups (id, name) VALUES (?, ?)`, group.ID.String(), group.Name)
	if err != nil {
		return fmt.Errorf("inserting host group %s: %w", group.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetHostGroupByName(ctx context.Context, name string) (*types.HostGroup, error) {
	var row struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM host_groups WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching host group %q: %w", name, err)
	}
	id, err := uuid.Parse(row.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt host group id %q: %w", row.ID, err)
	}
	return &types.HostGroup{ID: id, Name: row.Name}, nil
}

func (s *SQLiteStore) ListHostGroups(ctx context.Context) ([]*types.HostGroup, error) {
	var rows []struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM host_groups ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing host groups: %w", err)
	}
	groups := make([]*types.HostGroup, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("corrupt host group id %q: %w", r.ID, err)
		}
		groups = append(groups, &types.HostGroup{ID: id, Name: r.Name})
	}
	return groups, nil
}

func (s *SQLiteStore) SetHostGroupMembers(ctx context.Context, hostID uuid.UUID, groupIDs []uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM host_group_members WHERE host_id = ?`, hostID.String()); err != nil {
		return fmt.Errorf("clearing host group membership for %s: %w", hostID, err)
	}
	for _, groupID := range groupIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO host_group_members (host_id, host_group_id) VALUES (?, ?)`,
			hostID.String(), groupID.String()); err != nil {
			return fmt.Errorf("linking host %s to group %s: %w", hostID, groupID, err)
		}
	}
	return tx.Commit()
}

// serviceRow is the sqlx-scannable shape of the services table.
type serviceRow struct {
	ID           string    `db:"id"`
	Name         string    `db:"name"`
	Description  string    `db:"description"`
	ServiceType  string    `db:"service_type"`
	CronSchedule string    `db:"cron_schedule"`
	ExtraConfig  string    `db:"extra_config"`
	Tags         string    `db:"tags"`
	TimeoutSecs  int       `db:"timeout_secs"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r serviceRow) toService() (*types.Service, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt service id %q: %w", r.ID, err)
	}
	var extra map[string]any
	if err := json.Unmarshal([]byte(r.ExtraConfig), &extra); err != nil {
		return nil, fmt.Errorf("corrupt service extra_config for %s: %w", r.ID, err)
	}
	var tags []string
	if err := json.Unmarshal([]byte(r.Tags), &tags); err != nil {
		return nil, fmt.Errorf("corrupt service tags for %s: %w", r.ID, err)
	}
	return &types.Service{
		ID:           id,
		Name:         r.Name,
		Description:  r.Description,
		Type:         types.ServiceType(r.ServiceType),
		CronSchedule: r.CronSchedule,
		ExtraConfig:  extra,
		Tags:         tags,
		TimeoutSecs:  r.TimeoutSecs,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}, nil
}

func (s *SQLiteStore) CreateService(ctx context.Context, service *types.Service) error {
	extra, err := json.Marshal(service.ExtraConfig)
	if err != nil {
		return fmt.Errorf("marshalling service extra_config: %w", err)
	}
	tags, err := json.Marshal(service.Tags)
	if err != nil {
		return fmt.Errorf("marshalling service tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO services (id, name, description, service_type, cron_schedule, extra_config, tags, timeout_secs)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		service.ID.String(), service.Name, service.Description, string(service.Type),
		service.CronSchedule, extra, tags, service.TimeoutSecs)
	if err != nil {
		return fmt.Errorf("inserting service %s: %w", service.Name, err)
	}
	return nil
}

func (s *SQLiteStore) GetService(ctx context.Context, id uuid.UUID) (*types.Service, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM services WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching service %s: %w", id, err)
	}
	return row.toService()
}

func (s *SQLiteStore) GetServiceByName(ctx context.Context, name string) (*types.Service, error) {
	var row serviceRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM services WHERE name = ?`, name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching service %q: %w", name, err)
	}
	return row.toService()
}

func (s *SQLiteStore) ListServices(ctx context.Context) ([]*types.Service, error) {
	var rows []serviceRow
	if err := s.db.SelectContext(ctx, &rows, `SELECT * FROM services ORDER BY name`); err != nil {
		return nil, fmt.Errorf("listing services: %w", err)
	}
	services := make([]*types.Service, 0, len(rows))
	for _, r := range rows {
		svc, err := r.toService()
		if err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	return services, nil
}

func (s *SQLiteStore) UpdateService(ctx context.Context, service *types.Service) error {
	extra, err := json.Marshal(service.ExtraConfig)
	if err != nil {
		return fmt.Errorf("marshalling service extra_config: %w", err)
	}
	tags, err := json.Marshal(service.Tags)
	if err != nil {
		return fmt.Errorf("marshalling service tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE services SET description = ?, cron_schedule = ?, extra_config = ?, tags = ?,
			timeout_secs = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?`,
		service.Description, service.CronSchedule, extra, tags, service.TimeoutSecs, service.ID.String())
	if err != nil {
		return fmt.Errorf("updating service %s: %w", service.ID, err)
	}
	return mustAffectOne(res, "service", service.ID.String())
}

func (s *SQLiteStore) DeleteService(ctx context.Context, id uuid.UUID) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM services WHERE id = ?`, id.String())
	if err != nil {
		return fmt.Errorf("deleting service %s: %w", id, err)
	}
	return nil
}

func (s *SQLiteStore) SetServiceHostGroups(ctx context.Context, serviceID uuid.UUID, groupIDs []uuid.UUID) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM service_host_groups WHERE service_id = ?`, serviceID.String()); err != nil {
		return fmt.Errorf("clearing host groups for service %s: %w", serviceID, err)
	}
	for _, groupID := range groupIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO service_host_groups (service_id, host_group_id) VALUES (?, ?)`,
			serviceID.String(), groupID.String()); err != nil {
			return fmt.Errorf("linking service %s to group %s: %w", serviceID, groupID, err)
		}
	}
	return tx.Commit()
}

// serviceCheckRow is the sqlx-scannable shape of the service_checks table.
type serviceCheckRow struct {
	ID                string       `db:"id"`
	HostID            string       `db:"host_id"`
	ServiceID         string       `db:"service_id"`
	Status            string       `db:"status"`
	LastCheck         sql.NullTime `db:"last_check"`
	NextCheck         time.Time    `db:"next_check"`
	LastUpdated       time.Time    `db:"last_updated"`
	LastElapsedMillis int64        `db:"last_elapsed_millis"`
	ConsecutiveErrors int          `db:"consecutive_errors"`
}

func (r serviceCheckRow) toServiceCheck() (*types.ServiceCheck, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("corrupt service_check id %q: %w", r.ID, err)
	}
	hostID, err := uuid.Parse(r.HostID)
	if err != nil {
		return nil, fmt.Errorf("corrupt service_check host_id %q: %w", r.HostID, err)
	}
	serviceID, err := uuid.Parse(r.ServiceID)
	if err != nil {
		return nil, fmt.Errorf("corrupt service_check service_id %q: %w", r.ServiceID, err)
	}
	return &types.ServiceCheck{
		ID:                id,
		HostID:            hostID,
		ServiceID:         serviceID,
		Status:            r.Status,
		LastCheck:         r.LastCheck.Time,
		NextCheck:         r.NextCheck,
		LastUpdated:       r.LastUpdated,
		LastElapsedMillis: r.LastElapsedMillis,
		ConsecutiveErrors: r.ConsecutiveErrors,
	}, nil
}

func (s *SQLiteStore) GetServiceCheck(ctx context.Context, id uuid.UUID) (*types.ServiceCheck, error) {
	var row serviceCheckRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM service_checks WHERE id = ?`, id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching service_check %s: %w", id, err)
	}
	return row.toServiceCheck()
}

// defaultServiceCheckPageSize is the page size ListServiceChecks applies
// when the caller passes a zero Limit, per spec.md §4.6.
const defaultServiceCheckPageSize = 50

func (s *SQLiteStore) ListServiceChecks(ctx context.Context, filter ServiceCheckFilter) ([]*types.ServiceCheck, error) {
	query := `SELECT sc.* FROM service_checks sc JOIN services svc ON svc.id = sc.service_id`
	var joins []string
	var conds []string
	var args []any

	if filter.HostGroup != "" {
		joins = append(joins, `JOIN host_group_members hgm ON hgm.host_id = sc.host_id`)
		joins = append(joins, `JOIN host_groups hg ON hg.id = hgm.host_group_id`)
		conds = append(conds, `hg.name = ?`)
		args = append(args, filter.HostGroup)
	}
	if filter.HostID != uuid.Nil {
		conds = append(conds, `sc.host_id = ?`)
		args = append(args, filter.HostID.String())
	}
	if filter.ServiceID != uuid.Nil {
		conds = append(conds, `sc.service_id = ?`)
		args = append(args, filter.ServiceID.String())
	}
	if filter.Status != "" {
		conds = append(conds, `sc.status = ?`)
		args = append(args, filter.Status)
	}

	for _, j := range joins {
		query += " " + j
	}
	if len(conds) > 0 {
		query += " WHERE "
		for i, c := range conds {
			if i > 0 {
				query += " AND "
			}
			query += c
		}
	}
	// Ordered by current status precedence (worst first, so a dashboard's
	// first page surfaces what needs attention) then by service name.
	query += ` ORDER BY CASE sc.status
		WHEN 'error' THEN 6
		WHEN 'critical' THEN 5
		WHEN 'warning' THEN 4
		WHEN 'unknown' THEN 3
		WHEN 'disabled' THEN 2
		WHEN 'pending' THEN 1
		WHEN 'ok' THEN 0
		ELSE -1
	END DESC, svc.name ASC`

	switch {
	case filter.Limit < 0:
		// Unlimited: used by internal aggregate consumers (e.g. query.Views'
		// counters) that need every matching row, not one page of them.
	case filter.Limit == 0:
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", defaultServiceCheckPageSize, filter.Offset)
	default:
		query += fmt.Sprintf(" LIMIT %d OFFSET %d", filter.Limit, filter.Offset)
	}

	var rows []serviceCheckRow
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("listing service checks: %w", err)
	}
	checks := make([]*types.ServiceCheck, 0, len(rows))
	for _, r := range rows {
		c, err := r.toServiceCheck()
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, nil
}

func (s *SQLiteStore) ListServiceCheckHistory(ctx context.Context, serviceCheckID uuid.UUID, limit int) ([]*types.ServiceCheckHistory, error) {
	var rows []struct {
		ID             int64     `db:"id"`
		ServiceCheckID string    `db:"service_check_id"`
		Timestamp      time.Time `db:"timestamp"`
		Status         string    `db:"status"`
		ElapsedMillis  int64     `db:"elapsed_millis"`
		ResultText     string    `db:"result_text"`
	}
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM service_check_history
		WHERE service_check_id = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?`, serviceCheckID.String(), limit)
	if err != nil {
		return nil, fmt.Errorf("listing history for %s: %w", serviceCheckID, err)
	}
	history := make([]*types.ServiceCheckHistory, 0, len(rows))
	for _, r := range rows {
		scID, err := uuid.Parse(r.ServiceCheckID)
		if err != nil {
			return nil, fmt.Errorf("corrupt history service_check_id %q: %w", r.ServiceCheckID, err)
		}
		history = append(history, &types.ServiceCheckHistory{
			ID:             r.ID,
			ServiceCheckID: scID,
			Timestamp:      r.Timestamp,
			Status:         r.Status,
			ElapsedMillis:  r.ElapsedMillis,
			ResultText:     r.ResultText,
		})
	}
	return history, nil
}

func (s *SQLiteStore) MaterialiseServiceChecks(ctx context.Context, plan []ServiceCheckPlan) (ServiceCheckDiff, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return ServiceCheckDiff{}, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	wanted := make(map[string]ServiceCheckPlan, len(plan))
	for _, p := range plan {
		wanted[p.HostID.String()+"/"+p.ServiceID.String()] = p
	}

	var existing []struct {
		ID        string `db:"id"`
		HostID    string `db:"host_id"`
		ServiceID string `db:"service_id"`
	}
	if err := tx.SelectContext(ctx, &existing, `SELECT id, host_id, service_id FROM service_checks`); err != nil {
		return ServiceCheckDiff{}, fmt.Errorf("loading existing service checks: %w", err)
	}

	var diff ServiceCheckDiff
	have := make(map[string]bool, len(existing))
	for _, e := range existing {
		key := e.HostID + "/" + e.ServiceID
		have[key] = true
		if _, ok := wanted[key]; !ok {
			if _, err := tx.ExecContext(ctx, `DELETE FROM service_checks WHERE id = ?`, e.ID); err != nil {
				return ServiceCheckDiff{}, fmt.Errorf("deleting stale service check %s: %w", e.ID, err)
			}
			diff.Deleted++
		}
	}

	for key, p := range wanted {
		if have[key] {
			continue
		}
		next, err := cronNext(p.CronSchedule, nowFunc())
		if err != nil {
			return ServiceCheckDiff{}, fmt.Errorf("computing initial next_check for %s: %w", key, err)
		}
		_, err = tx.ExecContext(ctx, `
			INSERT INTO service_checks (id, host_id, service_id, status, next_check)
			VALUES (?, ?, ?, 'pending', ?)`,
			uuid.New().String(), p.HostID.String(), p.ServiceID.String(), next)
		if err != nil {
			return ServiceCheckDiff{}, fmt.Errorf("inserting service check %s: %w", key, err)
		}
		diff.Created++
	}

	if err := tx.Commit(); err != nil {
		return ServiceCheckDiff{}, fmt.Errorf("committing materialisation: %w", err)
	}
	return diff, nil
}

func (s *SQLiteStore) NextDue(ctx context.Context, asOf time.Time, limit int) ([]*types.ServiceCheck, error) {
	var rows []serviceCheckRow
	// next_check ASC, last_check ASC, id ASC matches spec.md §4.5's ordering
	// and fairness guarantee: oldest-due first, ties broken first on
	// last_check (a never-checked row sorts first) and finally on id so the
	// order is fully deterministic.
	err := s.db.SelectContext(ctx, &rows, `
		SELECT * FROM service_checks
		WHERE next_check <= ?
		ORDER BY next_check ASC, last_check ASC, id ASC
		LIMIT ?`, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("listing due service checks: %w", err)
	}
	checks := make([]*types.ServiceCheck, 0, len(rows))
	for _, r := range rows {
		c, err := r.toServiceCheck()
		if err != nil {
			return nil, err
		}
		checks = append(checks, c)
	}
	return checks, nil
}

func (s *SQLiteStore) RecordResult(ctx context.Context, serviceCheckID uuid.UUID, result ServiceCheckResult, maxHistory int) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		UPDATE service_checks SET
			status = ?, last_check = CURRENT_TIMESTAMP, next_check = ?,
			last_updated = CURRENT_TIMESTAMP, last_elapsed_millis = ?, consecutive_errors = ?
		WHERE id = ?`,
		result.Status, result.NextCheck, result.ElapsedMillis, result.ConsecutiveErrors, serviceCheckID.String())
	if err != nil {
		return fmt.Errorf("updating service check %s: %w", serviceCheckID, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO service_check_history (service_check_id, status, elapsed_millis, result_text)
		VALUES (?, ?, ?, ?)`,
		serviceCheckID.String(), result.Status, result.ElapsedMillis, result.ResultText)
	if err != nil {
		return fmt.Errorf("inserting history for %s: %w", serviceCheckID, err)
	}

	if maxHistory > 0 {
		_, err = tx.ExecContext(ctx, `
			DELETE FROM service_check_history
			WHERE service_check_id = ? AND id NOT IN (
				SELECT id FROM service_check_history
				WHERE service_check_id = ?
				ORDER BY timestamp DESC, id DESC
				LIMIT ?
			)`, serviceCheckID.String(), serviceCheckID.String(), maxHistory)
		if err != nil {
			return fmt.Errorf("trimming history for %s: %w", serviceCheckID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Expedite(ctx context.Context, serviceCheckID uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE service_checks SET next_check = CURRENT_TIMESTAMP WHERE id = ?`, serviceCheckID.String())
	if err != nil {
		return fmt.Errorf("expediting service check %s: %w", serviceCheckID, err)
	}
	return mustAffectOne(res, "service_check", serviceCheckID.String())
}

func (s *SQLiteStore) GetOrCreateUser(ctx context.Context, email, subject string) (*types.User, error) {
	var row struct {
		ID      string `db:"id"`
		Email   string `db:"email"`
		Subject string `db:"subject"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM users WHERE subject = ?`, subject)
	if err == nil {
		id, parseErr := uuid.Parse(row.ID)
		if parseErr != nil {
			return nil, fmt.Errorf("corrupt user id %q: %w", row.ID, parseErr)
		}
		return &types.User{ID: id, Email: row.Email, Subject: row.Subject}, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("fetching user %q: %w", subject, err)
	}

	user := &types.User{ID: uuid.New(), Email: email, Subject: subject}
	_, err = s.db.ExecContext(ctx, `INSERT INTO users (id, email, subject) VALUES (?, ?, ?)`,
		user.ID.String(), user.Email, user.Subject)
	if err != nil {
		return nil, fmt.Errorf("creating user %q: %w", subject, err)
	}
	return user, nil
}

func (s *SQLiteStore) CreateSession(ctx context.Context, session *types.Session) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, expires_at) VALUES (?, ?, ?)`,
		session.ID, session.UserID.String(), session.ExpiresAt)
	if err != nil {
		return fmt.Errorf("creating session %s: %w", session.ID, err)
	}
	return nil
}

func (s *SQLiteStore) GetSession(ctx context.Context, id string) (*types.Session, error) {
	var row struct {
		ID        string    `db:"id"`
		UserID    string    `db:"user_id"`
		ExpiresAt time.Time `db:"expires_at"`
		CreatedAt time.Time `db:"created_at"`
	}
	err := s.db.GetContext(ctx, &row, `SELECT * FROM sessions WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetching session %s: %w", id, err)
	}
	userID, err := uuid.Parse(row.UserID)
	if err != nil {
		return nil, fmt.Errorf("corrupt session user_id %q: %w", row.UserID, err)
	}
	return &types.Session{ID: row.ID, UserID: userID, ExpiresAt: row.ExpiresAt, CreatedAt: row.CreatedAt}, nil
}

func (s *SQLiteStore) DeleteExpiredSessions(ctx context.Context, asOf time.Time) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE expires_at <= ?`, asOf)
	if err != nil {
		return fmt.Errorf("deleting expired sessions: %w", err)
	}
	return nil
}

func mustAffectOne(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected for %s %s: %w", entity, id, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s %s", ErrNotFound, entity, id)
	}
	return nil
}
