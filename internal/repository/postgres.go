package repository

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/internal/logging"
	"skillmarket/backend/pkg/models"
)

// Postgres is the pgx-backed Repository. Every mutation maps to one statement
// or one transaction so concurrent requests for the same tenant never race.
type Postgres struct {
	db     *pgxpool.Pool
	logger *logging.Logger
}

// NewPostgres creates a Postgres repository over an existing pool.
func NewPostgres(db *pgxpool.Pool, logger *logging.Logger) *Postgres {
	return &Postgres{db: db, logger: logger}
}

func (p *Postgres) Registry() RegistryStore  { return p }
func (p *Postgres) Installs() InstallStore   { return p }
func (p *Postgres) Rates() RateStore         { return p }
func (p *Postgres) Wallets() WalletStore     { return p }
func (p *Postgres) Ledger() LedgerStore      { return p }
func (p *Postgres) Workflows() WorkflowStore { return p }
func (p *Postgres) Tenants() TenantStore     { return p }

const schema = `
CREATE TABLE IF NOT EXISTS skills (
	skill_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL DEFAULT '',
	developer_id TEXT NOT NULL,
	category TEXT NOT NULL DEFAULT '',
	risk_level TEXT NOT NULL DEFAULT '',
	visibility TEXT NOT NULL DEFAULT 'public',
	allowed_tenants TEXT[] NOT NULL DEFAULT '{}',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS skill_approvals (
	skill_id TEXT NOT NULL,
	version TEXT NOT NULL,
	submission_id TEXT NOT NULL DEFAULT '',
	approved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (skill_id, version)
);
CREATE TABLE IF NOT EXISTS version_locks (
	skill_id TEXT PRIMARY KEY,
	locked_version TEXT NOT NULL,
	locked_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS submissions (
	submission_id TEXT PRIMARY KEY,
	skill_id TEXT NOT NULL,
	version TEXT NOT NULL,
	developer_id TEXT NOT NULL,
	status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	notes TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS tenant_installs (
	tenant_id TEXT NOT NULL,
	skill_id TEXT NOT NULL,
	version TEXT NOT NULL,
	PRIMARY KEY (tenant_id, skill_id)
);
CREATE TABLE IF NOT EXISTS install_history (
	id BIGSERIAL PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	skill_id TEXT NOT NULL,
	action TEXT NOT NULL,
	from_version TEXT NOT NULL DEFAULT '',
	to_version TEXT NOT NULL,
	actor TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS install_history_tenant_skill ON install_history (tenant_id, skill_id, id);
CREATE TABLE IF NOT EXISTS rate_counters (
	key TEXT PRIMARY KEY,
	window_start BIGINT NOT NULL,
	window_sec BIGINT NOT NULL,
	count BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS suspensions (
	suspend_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	device_id TEXT NOT NULL,
	until_ts BIGINT NOT NULL,
	reason TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS suspensions_pair ON suspensions (tenant_id, device_id, until_ts);
CREATE TABLE IF NOT EXISTS wallets (
	tenant_id TEXT PRIMARY KEY,
	balance BIGINT NOT NULL CHECK (balance >= 0)
);
CREATE TABLE IF NOT EXISTS billing_events (
	event_id TEXT PRIMARY KEY,
	tenant_id TEXT NOT NULL,
	skill_id TEXT NOT NULL,
	version TEXT NOT NULL,
	credits BIGINT NOT NULL,
	gross_usd DOUBLE PRECISION NOT NULL,
	platform_fee_usd DOUBLE PRECISION NOT NULL,
	developer_net_usd DOUBLE PRECISION NOT NULL,
	developer_id TEXT NOT NULL,
	latency_ms BIGINT NOT NULL,
	ts TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS workflows (
	workflow_id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	version TEXT NOT NULL,
	developer_id TEXT NOT NULL,
	status TEXT NOT NULL,
	steps JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE TABLE IF NOT EXISTS workflow_approvals (
	workflow_id TEXT NOT NULL,
	version TEXT NOT NULL,
	approved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (workflow_id, version)
);
CREATE TABLE IF NOT EXISTS workflow_locks (
	workflow_id TEXT PRIMARY KEY,
	locked_version TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS tenants (
	id TEXT PRIMARY KEY,
	name TEXT NOT NULL,
	domain TEXT NOT NULL UNIQUE,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the schema. Idempotent.
func (p *Postgres) Migrate(ctx context.Context) error {
	if _, err := p.db.Exec(ctx, schema); err != nil {
		return p.fail("migrate", err)
	}
	return nil
}

// fail logs the driver error and returns an opaque storage fault; the raw
// message never reaches API callers.
func (p *Postgres) fail(op string, err error) error {
	if p.logger != nil {
		p.logger.Error("storage operation failed", "op", op, "error", err)
	}
	return fault.Storage(op)
}

// --- RegistryStore ---

func (p *Postgres) PutSkill(ctx context.Context, meta *models.SkillMeta) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO skills (skill_id, name, version, developer_id, category, risk_level, visibility, allowed_tenants)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (skill_id) DO UPDATE SET
			name = EXCLUDED.name,
			version = EXCLUDED.version,
			developer_id = EXCLUDED.developer_id,
			category = EXCLUDED.category,
			risk_level = EXCLUDED.risk_level,
			visibility = EXCLUDED.visibility,
			allowed_tenants = EXCLUDED.allowed_tenants`,
		meta.SkillID, meta.Name, meta.Version, meta.DeveloperID, meta.Category, meta.RiskLevel, string(meta.Visibility), meta.AllowedTenants)
	if err != nil {
		return p.fail("put skill", err)
	}
	return nil
}

func (p *Postgres) GetSkill(ctx context.Context, skillID string) (*models.SkillMeta, error) {
	var m models.SkillMeta
	var vis string
	err := p.db.QueryRow(ctx,
		`SELECT skill_id, name, version, developer_id, category, risk_level, visibility, allowed_tenants, created_at
		 FROM skills WHERE skill_id = $1`, skillID).
		Scan(&m.SkillID, &m.Name, &m.Version, &m.DeveloperID, &m.Category, &m.RiskLevel, &vis, &m.AllowedTenants, &m.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, p.fail("get skill", err)
	}
	m.Visibility = models.Visibility(vis)
	return &m, nil
}

func (p *Postgres) ListSkills(ctx context.Context) ([]*models.SkillMeta, error) {
	rows, err := p.db.Query(ctx,
		`SELECT skill_id, name, version, developer_id, category, risk_level, visibility, allowed_tenants, created_at
		 FROM skills ORDER BY skill_id`)
	if err != nil {
		return nil, p.fail("list skills", err)
	}
	defer rows.Close()

	var out []*models.SkillMeta
	for rows.Next() {
		var m models.SkillMeta
		var vis string
		if err := rows.Scan(&m.SkillID, &m.Name, &m.Version, &m.DeveloperID, &m.Category, &m.RiskLevel, &vis, &m.AllowedTenants, &m.CreatedAt); err != nil {
			return nil, p.fail("list skills", err)
		}
		m.Visibility = models.Visibility(vis)
		out = append(out, &m)
	}
	return out, rows.Err()
}

func (p *Postgres) AddApproval(ctx context.Context, approval *models.SkillApproval) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO skill_approvals (skill_id, version, submission_id)
		VALUES ($1, $2, $3) ON CONFLICT DO NOTHING`,
		approval.SkillID, approval.Version, approval.SubmissionID)
	if err != nil {
		return p.fail("add approval", err)
	}
	return nil
}

func (p *Postgres) IsApproved(ctx context.Context, skillID, version string) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM skill_approvals WHERE skill_id = $1 AND version = $2)`,
		skillID, version).Scan(&ok)
	if err != nil {
		return false, p.fail("is approved", err)
	}
	return ok, nil
}

func (p *Postgres) SetLock(ctx context.Context, lock *models.VersionLock) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO version_locks (skill_id, locked_version) VALUES ($1, $2)
		ON CONFLICT (skill_id) DO UPDATE SET locked_version = EXCLUDED.locked_version, locked_at = now()`,
		lock.SkillID, lock.LockedVersion)
	if err != nil {
		return p.fail("set lock", err)
	}
	return nil
}

func (p *Postgres) LockedVersion(ctx context.Context, skillID string) (string, error) {
	var v string
	err := p.db.QueryRow(ctx, `SELECT locked_version FROM version_locks WHERE skill_id = $1`, skillID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", p.fail("locked version", err)
	}
	return v, nil
}

func (p *Postgres) CreateSubmission(ctx context.Context, sub *models.Submission) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO submissions (submission_id, skill_id, version, developer_id, status, reason, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		sub.SubmissionID, sub.SkillID, sub.Version, sub.DeveloperID, string(sub.Status), sub.Reason, sub.Notes, sub.CreatedAt, sub.UpdatedAt)
	if err != nil {
		return p.fail("create submission", err)
	}
	return nil
}

func (p *Postgres) GetSubmission(ctx context.Context, submissionID string) (*models.Submission, error) {
	var s models.Submission
	var status string
	err := p.db.QueryRow(ctx,
		`SELECT submission_id, skill_id, version, developer_id, status, reason, notes, created_at, updated_at
		 FROM submissions WHERE submission_id = $1`, submissionID).
		Scan(&s.SubmissionID, &s.SkillID, &s.Version, &s.DeveloperID, &status, &s.Reason, &s.Notes, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, p.fail("get submission", err)
	}
	s.Status = models.SubmissionStatus(status)
	return &s, nil
}

func (p *Postgres) UpdateSubmission(ctx context.Context, sub *models.Submission) error {
	tag, err := p.db.Exec(ctx, `
		UPDATE submissions SET status = $2, reason = $3, updated_at = $4 WHERE submission_id = $1`,
		sub.SubmissionID, string(sub.Status), sub.Reason, sub.UpdatedAt)
	if err != nil {
		return p.fail("update submission", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.KindNotFound, "submission not found: %s", sub.SubmissionID)
	}
	return nil
}

func (p *Postgres) ListSubmissions(ctx context.Context) ([]*models.Submission, error) {
	rows, err := p.db.Query(ctx,
		`SELECT submission_id, skill_id, version, developer_id, status, reason, notes, created_at, updated_at
		 FROM submissions ORDER BY created_at`)
	if err != nil {
		return nil, p.fail("list submissions", err)
	}
	defer rows.Close()

	var out []*models.Submission
	for rows.Next() {
		var s models.Submission
		var status string
		if err := rows.Scan(&s.SubmissionID, &s.SkillID, &s.Version, &s.DeveloperID, &status, &s.Reason, &s.Notes, &s.CreatedAt, &s.UpdatedAt); err != nil {
			return nil, p.fail("list submissions", err)
		}
		s.Status = models.SubmissionStatus(status)
		out = append(out, &s)
	}
	return out, rows.Err()
}

// --- InstallStore ---

func (p *Postgres) InstalledVersion(ctx context.Context, tenantID, skillID string) (string, error) {
	var v string
	err := p.db.QueryRow(ctx,
		`SELECT version FROM tenant_installs WHERE tenant_id = $1 AND skill_id = $2`,
		tenantID, skillID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", p.fail("installed version", err)
	}
	return v, nil
}

func (p *Postgres) Install(ctx context.Context, tenantID, skillID, version, actor string) (*models.InstallRecord, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, p.fail("install", err)
	}
	defer tx.Rollback(ctx)

	var from string
	err = tx.QueryRow(ctx,
		`SELECT version FROM tenant_installs WHERE tenant_id = $1 AND skill_id = $2 FOR UPDATE`,
		tenantID, skillID).Scan(&from)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return nil, p.fail("install", err)
	}

	rec := models.InstallRecord{
		TenantID:    tenantID,
		SkillID:     skillID,
		Action:      models.ActionInstall,
		FromVersion: from,
		ToVersion:   version,
		Actor:       actor,
		Timestamp:   nowUTC(),
	}
	if _, err := tx.Exec(ctx, `
		INSERT INTO tenant_installs (tenant_id, skill_id, version) VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, skill_id) DO UPDATE SET version = EXCLUDED.version`,
		tenantID, skillID, version); err != nil {
		return nil, p.fail("install", err)
	}
	if err := p.appendHistory(ctx, tx, &rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, p.fail("install", err)
	}
	return &rec, nil
}

func (p *Postgres) Rollback(ctx context.Context, tenantID, skillID, actor string) (*models.InstallRecord, error) {
	tx, err := p.db.Begin(ctx)
	if err != nil {
		return nil, p.fail("rollback", err)
	}
	defer tx.Rollback(ctx)

	// lock the install row so concurrent rollbacks serialize
	var current string
	err = tx.QueryRow(ctx,
		`SELECT version FROM tenant_installs WHERE tenant_id = $1 AND skill_id = $2 FOR UPDATE`,
		tenantID, skillID).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fault.New(fault.KindInvalidState, "nothing to roll back to for %s", skillID)
	}
	if err != nil {
		return nil, p.fail("rollback", err)
	}

	rows, err := tx.Query(ctx,
		`SELECT to_version FROM install_history
		 WHERE tenant_id = $1 AND skill_id = $2 ORDER BY id DESC LIMIT 2`,
		tenantID, skillID)
	if err != nil {
		return nil, p.fail("rollback", err)
	}
	var versions []string
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			rows.Close()
			return nil, p.fail("rollback", err)
		}
		versions = append(versions, v)
	}
	rows.Close()
	if len(versions) < 2 {
		return nil, fault.New(fault.KindInvalidState, "nothing to roll back to for %s", skillID)
	}
	prev := versions[1]

	rec := models.InstallRecord{
		TenantID:    tenantID,
		SkillID:     skillID,
		Action:      models.ActionRollback,
		FromVersion: current,
		ToVersion:   prev,
		Actor:       actor,
		Timestamp:   nowUTC(),
	}
	if _, err := tx.Exec(ctx,
		`UPDATE tenant_installs SET version = $3 WHERE tenant_id = $1 AND skill_id = $2`,
		tenantID, skillID, prev); err != nil {
		return nil, p.fail("rollback", err)
	}
	if err := p.appendHistory(ctx, tx, &rec); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, p.fail("rollback", err)
	}
	return &rec, nil
}

func (p *Postgres) appendHistory(ctx context.Context, tx pgx.Tx, rec *models.InstallRecord) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO install_history (tenant_id, skill_id, action, from_version, to_version, actor, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.TenantID, rec.SkillID, string(rec.Action), rec.FromVersion, rec.ToVersion, rec.Actor, rec.Timestamp)
	if err != nil {
		return p.fail("append history", err)
	}
	return nil
}

func (p *Postgres) History(ctx context.Context, tenantID, skillID string) ([]models.InstallRecord, error) {
	rows, err := p.db.Query(ctx,
		`SELECT tenant_id, skill_id, action, from_version, to_version, actor, ts
		 FROM install_history WHERE tenant_id = $1 AND skill_id = $2 ORDER BY id`,
		tenantID, skillID)
	if err != nil {
		return nil, p.fail("history", err)
	}
	defer rows.Close()

	var out []models.InstallRecord
	for rows.Next() {
		var r models.InstallRecord
		var action string
		if err := rows.Scan(&r.TenantID, &r.SkillID, &action, &r.FromVersion, &r.ToVersion, &r.Actor, &r.Timestamp); err != nil {
			return nil, p.fail("history", err)
		}
		r.Action = models.InstallAction(action)
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- RateStore ---

func (p *Postgres) TouchCounter(ctx context.Context, key string, windowStart, windowSec, cost int64) (int64, error) {
	var count int64
	err := p.db.QueryRow(ctx, `
		INSERT INTO rate_counters (key, window_start, window_sec, count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN rate_counters.window_start = EXCLUDED.window_start
				THEN rate_counters.count + EXCLUDED.count
				ELSE EXCLUDED.count END,
			window_start = EXCLUDED.window_start
		RETURNING count`,
		key, windowStart, windowSec, cost).Scan(&count)
	if err != nil {
		return 0, p.fail("touch counter", err)
	}
	return count, nil
}

func (p *Postgres) ActiveSuspension(ctx context.Context, tenantID, deviceID string, now int64) (*models.Suspension, error) {
	var s models.Suspension
	err := p.db.QueryRow(ctx,
		`SELECT suspend_id, tenant_id, device_id, until_ts, reason FROM suspensions
		 WHERE tenant_id = $1 AND device_id = $2 AND until_ts > $3
		 ORDER BY until_ts DESC LIMIT 1`,
		tenantID, deviceID, now).
		Scan(&s.SuspendID, &s.TenantID, &s.DeviceID, &s.UntilTS, &s.Reason)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, p.fail("active suspension", err)
	}
	return &s, nil
}

func (p *Postgres) CreateSuspension(ctx context.Context, s *models.Suspension) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO suspensions (suspend_id, tenant_id, device_id, until_ts, reason)
		VALUES ($1, $2, $3, $4, $5)`,
		s.SuspendID, s.TenantID, s.DeviceID, s.UntilTS, s.Reason)
	if err != nil {
		return p.fail("create suspension", err)
	}
	return nil
}

func (p *Postgres) ListSuspensions(ctx context.Context, now int64, limit int) ([]*models.Suspension, error) {
	rows, err := p.db.Query(ctx,
		`SELECT suspend_id, tenant_id, device_id, until_ts, reason FROM suspensions
		 WHERE until_ts > $1 ORDER BY until_ts DESC LIMIT $2`, now, limit)
	if err != nil {
		return nil, p.fail("list suspensions", err)
	}
	defer rows.Close()

	var out []*models.Suspension
	for rows.Next() {
		var s models.Suspension
		if err := rows.Scan(&s.SuspendID, &s.TenantID, &s.DeviceID, &s.UntilTS, &s.Reason); err != nil {
			return nil, p.fail("list suspensions", err)
		}
		out = append(out, &s)
	}
	return out, rows.Err()
}

func (p *Postgres) ClearSuspension(ctx context.Context, suspendID string) (bool, error) {
	tag, err := p.db.Exec(ctx, `DELETE FROM suspensions WHERE suspend_id = $1`, suspendID)
	if err != nil {
		return false, p.fail("clear suspension", err)
	}
	return tag.RowsAffected() > 0, nil
}

// --- WalletStore ---

func (p *Postgres) Ensure(ctx context.Context, tenantID string, starter int64) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO wallets (tenant_id, balance) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO NOTHING`, tenantID, starter)
	if err != nil {
		return p.fail("ensure wallet", err)
	}
	return nil
}

func (p *Postgres) Balance(ctx context.Context, tenantID string) (int64, error) {
	var bal int64
	err := p.db.QueryRow(ctx, `SELECT balance FROM wallets WHERE tenant_id = $1`, tenantID).Scan(&bal)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, p.fail("balance", err)
	}
	return bal, nil
}

// Charge is the compare-and-decrement: the WHERE clause rejects the update
// when the balance is short, so no read-then-write race exists.
func (p *Postgres) Charge(ctx context.Context, tenantID string, credits int64) error {
	tag, err := p.db.Exec(ctx,
		`UPDATE wallets SET balance = balance - $2 WHERE tenant_id = $1 AND balance >= $2`,
		tenantID, credits)
	if err != nil {
		return p.fail("charge", err)
	}
	if tag.RowsAffected() == 0 {
		bal, berr := p.Balance(ctx, tenantID)
		if berr != nil {
			return berr
		}
		return fault.New(fault.KindInsufficientCredits, "insufficient credits: have %d, need %d", bal, credits)
	}
	return nil
}

func (p *Postgres) Credit(ctx context.Context, tenantID string, credits int64) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO wallets (tenant_id, balance) VALUES ($1, $2)
		ON CONFLICT (tenant_id) DO UPDATE SET balance = wallets.balance + EXCLUDED.balance`,
		tenantID, credits)
	if err != nil {
		return p.fail("credit", err)
	}
	return nil
}

// --- LedgerStore ---

func (p *Postgres) Append(ctx context.Context, ev *models.BillingEvent) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO billing_events (event_id, tenant_id, skill_id, version, credits, gross_usd, platform_fee_usd, developer_net_usd, developer_id, latency_ms, ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (event_id) DO NOTHING`,
		ev.EventID, ev.TenantID, ev.SkillID, ev.Version, ev.Credits, ev.GrossUSD, ev.PlatformFeeUSD, ev.DeveloperNetUSD, ev.DeveloperID, ev.LatencyMS, ev.Timestamp)
	if err != nil {
		return p.fail("append event", err)
	}
	return nil
}

func (p *Postgres) ListByTenant(ctx context.Context, tenantID string) ([]*models.BillingEvent, error) {
	return p.listEvents(ctx, `WHERE tenant_id = $1`, tenantID)
}

func (p *Postgres) ListByDeveloper(ctx context.Context, developerID string) ([]*models.BillingEvent, error) {
	return p.listEvents(ctx, `WHERE developer_id = $1`, developerID)
}

func (p *Postgres) ListAll(ctx context.Context) ([]*models.BillingEvent, error) {
	return p.listEvents(ctx, ``)
}

func (p *Postgres) listEvents(ctx context.Context, where string, args ...any) ([]*models.BillingEvent, error) {
	q := `SELECT event_id, tenant_id, skill_id, version, credits, gross_usd, platform_fee_usd, developer_net_usd, developer_id, latency_ms, ts
	      FROM billing_events ` + where + ` ORDER BY ts`
	rows, err := p.db.Query(ctx, q, args...)
	if err != nil {
		return nil, p.fail("list events", err)
	}
	defer rows.Close()

	var out []*models.BillingEvent
	for rows.Next() {
		var ev models.BillingEvent
		if err := rows.Scan(&ev.EventID, &ev.TenantID, &ev.SkillID, &ev.Version, &ev.Credits, &ev.GrossUSD, &ev.PlatformFeeUSD, &ev.DeveloperNetUSD, &ev.DeveloperID, &ev.LatencyMS, &ev.Timestamp); err != nil {
			return nil, p.fail("list events", err)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

// --- WorkflowStore ---

func (p *Postgres) CreateWorkflow(ctx context.Context, wf *models.WorkflowDefinition) error {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fault.New(fault.KindStepInputInvalid, "steps not serializable")
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO workflows (workflow_id, name, version, developer_id, status, steps, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		wf.WorkflowID, wf.Name, wf.Version, wf.DeveloperID, string(wf.Status), steps, wf.CreatedAt, wf.UpdatedAt)
	if err != nil {
		return p.fail("create workflow", err)
	}
	return nil
}

func (p *Postgres) GetWorkflow(ctx context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	var wf models.WorkflowDefinition
	var status string
	var steps []byte
	err := p.db.QueryRow(ctx,
		`SELECT workflow_id, name, version, developer_id, status, steps, created_at, updated_at
		 FROM workflows WHERE workflow_id = $1`, workflowID).
		Scan(&wf.WorkflowID, &wf.Name, &wf.Version, &wf.DeveloperID, &status, &steps, &wf.CreatedAt, &wf.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, p.fail("get workflow", err)
	}
	wf.Status = models.WorkflowStatus(status)
	if err := json.Unmarshal(steps, &wf.Steps); err != nil {
		return nil, p.fail("get workflow", err)
	}
	return &wf, nil
}

func (p *Postgres) UpdateWorkflow(ctx context.Context, wf *models.WorkflowDefinition) error {
	steps, err := json.Marshal(wf.Steps)
	if err != nil {
		return fault.New(fault.KindStepInputInvalid, "steps not serializable")
	}
	tag, err := p.db.Exec(ctx, `
		UPDATE workflows SET name = $2, version = $3, developer_id = $4, status = $5, steps = $6, updated_at = $7
		WHERE workflow_id = $1`,
		wf.WorkflowID, wf.Name, wf.Version, wf.DeveloperID, string(wf.Status), steps, wf.UpdatedAt)
	if err != nil {
		return p.fail("update workflow", err)
	}
	if tag.RowsAffected() == 0 {
		return fault.New(fault.KindNotFound, "workflow not found: %s", wf.WorkflowID)
	}
	return nil
}

func (p *Postgres) ListWorkflows(ctx context.Context) ([]*models.WorkflowDefinition, error) {
	rows, err := p.db.Query(ctx,
		`SELECT workflow_id, name, version, developer_id, status, steps, created_at, updated_at
		 FROM workflows ORDER BY workflow_id`)
	if err != nil {
		return nil, p.fail("list workflows", err)
	}
	defer rows.Close()

	var out []*models.WorkflowDefinition
	for rows.Next() {
		var wf models.WorkflowDefinition
		var status string
		var steps []byte
		if err := rows.Scan(&wf.WorkflowID, &wf.Name, &wf.Version, &wf.DeveloperID, &status, &steps, &wf.CreatedAt, &wf.UpdatedAt); err != nil {
			return nil, p.fail("list workflows", err)
		}
		wf.Status = models.WorkflowStatus(status)
		if err := json.Unmarshal(steps, &wf.Steps); err != nil {
			return nil, p.fail("list workflows", err)
		}
		out = append(out, &wf)
	}
	return out, rows.Err()
}

func (p *Postgres) AddWorkflowApproval(ctx context.Context, approval *models.WorkflowApproval) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO workflow_approvals (workflow_id, version) VALUES ($1, $2)
		ON CONFLICT DO NOTHING`,
		approval.WorkflowID, approval.Version)
	if err != nil {
		return p.fail("add workflow approval", err)
	}
	return nil
}

func (p *Postgres) IsWorkflowApproved(ctx context.Context, workflowID, version string) (bool, error) {
	var ok bool
	err := p.db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM workflow_approvals WHERE workflow_id = $1 AND version = $2)`,
		workflowID, version).Scan(&ok)
	if err != nil {
		return false, p.fail("is workflow approved", err)
	}
	return ok, nil
}

func (p *Postgres) SetWorkflowLock(ctx context.Context, workflowID, version string) error {
	_, err := p.db.Exec(ctx, `
		INSERT INTO workflow_locks (workflow_id, locked_version) VALUES ($1, $2)
		ON CONFLICT (workflow_id) DO UPDATE SET locked_version = EXCLUDED.locked_version`,
		workflowID, version)
	if err != nil {
		return p.fail("set workflow lock", err)
	}
	return nil
}

func (p *Postgres) WorkflowLockedVersion(ctx context.Context, workflowID string) (string, error) {
	var v string
	err := p.db.QueryRow(ctx, `SELECT locked_version FROM workflow_locks WHERE workflow_id = $1`, workflowID).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", p.fail("workflow locked version", err)
	}
	return v, nil
}

// --- TenantStore ---

func (p *Postgres) GetTenantByDomain(ctx context.Context, domain string) (*models.Tenant, error) {
	var t models.Tenant
	err := p.db.QueryRow(ctx,
		`SELECT id, name, domain, created_at, updated_at FROM tenants WHERE domain = $1`, domain).
		Scan(&t.ID, &t.Name, &t.Domain, &t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, p.fail("get tenant", err)
	}
	return &t, nil
}

func (p *Postgres) CreateTenant(ctx context.Context, tenant *models.Tenant) error {
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	tenant.CreatedAt = nowUTC()
	tenant.UpdatedAt = tenant.CreatedAt
	_, err := p.db.Exec(ctx, `
		INSERT INTO tenants (id, name, domain, created_at, updated_at) VALUES ($1, $2, $3, $4, $5)`,
		tenant.ID, tenant.Name, tenant.Domain, tenant.CreatedAt, tenant.UpdatedAt)
	if err != nil {
		return p.fail("create tenant", err)
	}
	return nil
}
