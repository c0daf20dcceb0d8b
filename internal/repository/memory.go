package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"skillmarket/backend/internal/fault"
	"skillmarket/backend/pkg/models"
)

// Memory is an in-process Repository used by tests and single-node dev mode.
// A single mutex serializes every mutation, which satisfies the per-key
// atomicity the interfaces demand.
type Memory struct {
	mu sync.Mutex

	skills      map[string]*models.SkillMeta
	approvals   map[string]bool
	locks       map[string]*models.VersionLock
	submissions map[string]*models.Submission
	subOrder    []string

	installed map[string]map[string]string // tenant -> skill -> version
	history   map[string][]models.InstallRecord

	counters    map[string]*models.RateCounter
	suspensions map[string]*models.Suspension

	wallets map[string]int64
	ledger  []*models.BillingEvent

	workflows   map[string]*models.WorkflowDefinition
	wfApprovals map[string]bool
	wfLocks     map[string]string

	tenants map[string]*models.Tenant // keyed by domain
}

// NewMemory creates an empty in-memory repository.
func NewMemory() *Memory {
	return &Memory{
		skills:      map[string]*models.SkillMeta{},
		approvals:   map[string]bool{},
		locks:       map[string]*models.VersionLock{},
		submissions: map[string]*models.Submission{},
		installed:   map[string]map[string]string{},
		history:     map[string][]models.InstallRecord{},
		counters:    map[string]*models.RateCounter{},
		suspensions: map[string]*models.Suspension{},
		wallets:     map[string]int64{},
		workflows:   map[string]*models.WorkflowDefinition{},
		wfApprovals: map[string]bool{},
		wfLocks:     map[string]string{},
		tenants:     map[string]*models.Tenant{},
	}
}

func (m *Memory) Registry() RegistryStore   { return m }
func (m *Memory) Installs() InstallStore    { return m }
func (m *Memory) Rates() RateStore          { return m }
func (m *Memory) Wallets() WalletStore      { return m }
func (m *Memory) Ledger() LedgerStore       { return m }
func (m *Memory) Workflows() WorkflowStore  { return m }
func (m *Memory) Tenants() TenantStore      { return m }

func approvalKey(skillID, version string) string { return skillID + "@" + version }
func installKey(tenantID, skillID string) string { return tenantID + "/" + skillID }

// --- RegistryStore ---

func (m *Memory) PutSkill(_ context.Context, meta *models.SkillMeta) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *meta
	m.skills[meta.SkillID] = &cp
	return nil
}

func (m *Memory) GetSkill(_ context.Context, skillID string) (*models.SkillMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.skills[skillID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) ListSkills(_ context.Context) ([]*models.SkillMeta, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.SkillMeta, 0, len(m.skills))
	for _, s := range m.skills {
		cp := *s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SkillID < out[j].SkillID })
	return out, nil
}

func (m *Memory) AddApproval(_ context.Context, approval *models.SkillApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[approvalKey(approval.SkillID, approval.Version)] = true
	return nil
}

func (m *Memory) IsApproved(_ context.Context, skillID, version string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.approvals[approvalKey(skillID, version)], nil
}

func (m *Memory) SetLock(_ context.Context, lock *models.VersionLock) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *lock
	m.locks[lock.SkillID] = &cp
	return nil
}

func (m *Memory) LockedVersion(_ context.Context, skillID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.locks[skillID]; ok {
		return l.LockedVersion, nil
	}
	return "", nil
}

func (m *Memory) CreateSubmission(_ context.Context, sub *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *sub
	m.submissions[sub.SubmissionID] = &cp
	m.subOrder = append(m.subOrder, sub.SubmissionID)
	return nil
}

func (m *Memory) GetSubmission(_ context.Context, submissionID string) (*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.submissions[submissionID]
	if !ok {
		return nil, nil
	}
	cp := *s
	return &cp, nil
}

func (m *Memory) UpdateSubmission(_ context.Context, sub *models.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.submissions[sub.SubmissionID]; !ok {
		return fault.New(fault.KindNotFound, "submission not found: %s", sub.SubmissionID)
	}
	cp := *sub
	m.submissions[sub.SubmissionID] = &cp
	return nil
}

func (m *Memory) ListSubmissions(_ context.Context) ([]*models.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.Submission, 0, len(m.subOrder))
	for _, id := range m.subOrder {
		cp := *m.submissions[id]
		out = append(out, &cp)
	}
	return out, nil
}

// --- InstallStore ---

func (m *Memory) InstalledVersion(_ context.Context, tenantID, skillID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.installed[tenantID][skillID], nil
}

func (m *Memory) Install(_ context.Context, tenantID, skillID, version, actor string) (*models.InstallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.installed[tenantID]
	if !ok {
		t = map[string]string{}
		m.installed[tenantID] = t
	}
	rec := models.InstallRecord{
		TenantID:    tenantID,
		SkillID:     skillID,
		Action:      models.ActionInstall,
		FromVersion: t[skillID],
		ToVersion:   version,
		Actor:       actor,
		Timestamp:   nowUTC(),
	}
	t[skillID] = version
	key := installKey(tenantID, skillID)
	m.history[key] = append(m.history[key], rec)
	return &rec, nil
}

func (m *Memory) Rollback(_ context.Context, tenantID, skillID, actor string) (*models.InstallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := installKey(tenantID, skillID)
	hist := m.history[key]
	if len(hist) < 2 {
		return nil, fault.New(fault.KindInvalidState, "nothing to roll back to for %s", skillID)
	}
	prev := hist[len(hist)-2].ToVersion
	t := m.installed[tenantID]
	rec := models.InstallRecord{
		TenantID:    tenantID,
		SkillID:     skillID,
		Action:      models.ActionRollback,
		FromVersion: t[skillID],
		ToVersion:   prev,
		Actor:       actor,
		Timestamp:   nowUTC(),
	}
	t[skillID] = prev
	m.history[key] = append(hist, rec)
	return &rec, nil
}

func (m *Memory) History(_ context.Context, tenantID, skillID string) ([]models.InstallRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	hist := m.history[installKey(tenantID, skillID)]
	out := make([]models.InstallRecord, len(hist))
	copy(out, hist)
	return out, nil
}

// --- RateStore ---

func (m *Memory) TouchCounter(_ context.Context, key string, windowStart, windowSec, cost int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.counters[key]
	if !ok {
		c = &models.RateCounter{Key: key, WindowStart: windowStart, WindowSec: windowSec}
		m.counters[key] = c
	}
	if c.WindowStart != windowStart {
		c.WindowStart = windowStart
		c.Count = 0
	}
	c.Count += cost
	return c.Count, nil
}

func (m *Memory) ActiveSuspension(_ context.Context, tenantID, deviceID string, now int64) (*models.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var best *models.Suspension
	for _, s := range m.suspensions {
		if s.TenantID == tenantID && s.DeviceID == deviceID && s.UntilTS > now {
			if best == nil || s.UntilTS > best.UntilTS {
				best = s
			}
		}
	}
	if best == nil {
		return nil, nil
	}
	cp := *best
	return &cp, nil
}

func (m *Memory) CreateSuspension(_ context.Context, s *models.Suspension) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *s
	m.suspensions[s.SuspendID] = &cp
	return nil
}

func (m *Memory) ListSuspensions(_ context.Context, now int64, limit int) ([]*models.Suspension, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.Suspension
	for _, s := range m.suspensions {
		if s.UntilTS > now {
			cp := *s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UntilTS > out[j].UntilTS })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) ClearSuspension(_ context.Context, suspendID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.suspensions[suspendID]; !ok {
		return false, nil
	}
	delete(m.suspensions, suspendID)
	return true, nil
}

// --- WalletStore ---

func (m *Memory) Ensure(_ context.Context, tenantID string, starter int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.wallets[tenantID]; !ok {
		m.wallets[tenantID] = starter
	}
	return nil
}

func (m *Memory) Balance(_ context.Context, tenantID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wallets[tenantID], nil
}

func (m *Memory) Charge(_ context.Context, tenantID string, credits int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	bal := m.wallets[tenantID]
	if bal < credits {
		return fault.New(fault.KindInsufficientCredits, "insufficient credits: have %d, need %d", bal, credits)
	}
	m.wallets[tenantID] = bal - credits
	return nil
}

func (m *Memory) Credit(_ context.Context, tenantID string, credits int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[tenantID] += credits
	return nil
}

// --- LedgerStore ---

func (m *Memory) Append(_ context.Context, ev *models.BillingEvent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *ev
	m.ledger = append(m.ledger, &cp)
	return nil
}

func (m *Memory) ListByTenant(_ context.Context, tenantID string) ([]*models.BillingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BillingEvent
	for _, ev := range m.ledger {
		if ev.TenantID == tenantID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) ListByDeveloper(_ context.Context, developerID string) ([]*models.BillingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.BillingEvent
	for _, ev := range m.ledger {
		if ev.DeveloperID == developerID {
			cp := *ev
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *Memory) ListAll(_ context.Context) ([]*models.BillingEvent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.BillingEvent, 0, len(m.ledger))
	for _, ev := range m.ledger {
		cp := *ev
		out = append(out, &cp)
	}
	return out, nil
}

// --- WorkflowStore ---

func (m *Memory) CreateWorkflow(_ context.Context, wf *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *wf
	cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
	m.workflows[wf.WorkflowID] = &cp
	return nil
}

func (m *Memory) GetWorkflow(_ context.Context, workflowID string) (*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	wf, ok := m.workflows[workflowID]
	if !ok {
		return nil, nil
	}
	cp := *wf
	cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
	return &cp, nil
}

func (m *Memory) UpdateWorkflow(_ context.Context, wf *models.WorkflowDefinition) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.workflows[wf.WorkflowID]; !ok {
		return fault.New(fault.KindNotFound, "workflow not found: %s", wf.WorkflowID)
	}
	cp := *wf
	cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
	m.workflows[wf.WorkflowID] = &cp
	return nil
}

func (m *Memory) ListWorkflows(_ context.Context) ([]*models.WorkflowDefinition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.WorkflowDefinition, 0, len(m.workflows))
	for _, wf := range m.workflows {
		cp := *wf
		cp.Steps = append([]models.WorkflowStep(nil), wf.Steps...)
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].WorkflowID < out[j].WorkflowID })
	return out, nil
}

func (m *Memory) AddWorkflowApproval(_ context.Context, approval *models.WorkflowApproval) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wfApprovals[approvalKey(approval.WorkflowID, approval.Version)] = true
	return nil
}

func (m *Memory) IsWorkflowApproved(_ context.Context, workflowID, version string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wfApprovals[approvalKey(workflowID, version)], nil
}

func (m *Memory) SetWorkflowLock(_ context.Context, workflowID, version string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wfLocks[workflowID] = version
	return nil
}

func (m *Memory) WorkflowLockedVersion(_ context.Context, workflowID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.wfLocks[workflowID], nil
}

// --- TenantStore ---

func (m *Memory) GetTenantByDomain(_ context.Context, domain string) (*models.Tenant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tenants[domain]
	if !ok {
		return nil, nil
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) CreateTenant(_ context.Context, tenant *models.Tenant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tenant.ID == "" {
		tenant.ID = uuid.New().String()
	}
	tenant.CreatedAt = nowUTC()
	tenant.UpdatedAt = tenant.CreatedAt
	cp := *tenant
	m.tenants[tenant.Domain] = &cp
	return nil
}
