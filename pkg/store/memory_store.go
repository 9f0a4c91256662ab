package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"interviewprep/pkg/domain"
)

// MemoryStore keeps every record in-process. It honours the same conditional
// transitions as GormStore and backs tests and local runs without Postgres.
type MemoryStore struct {
	mu           sync.RWMutex
	profiles     map[string]domain.Profile
	interviews   map[string]domain.Interview
	jobs         map[string]domain.Job
	versions     map[string]domain.QAVersion
	reports      map[string]domain.Report
	transactions []domain.TokenTransaction
	txKeys       map[string]struct{}
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		profiles:   make(map[string]domain.Profile),
		interviews: make(map[string]domain.Interview),
		jobs:       make(map[string]domain.Job),
		versions:   make(map[string]domain.QAVersion),
		reports:    make(map[string]domain.Report),
		txKeys:     make(map[string]struct{}),
	}
}

// GetProfile returns a profile by user ID.
func (m *MemoryStore) GetProfile(_ context.Context, userID string) (domain.Profile, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.profiles[userID]
	return p, ok, nil
}

// SaveProfile creates a profile or updates email and role, keeping the balance.
func (m *MemoryStore) SaveProfile(_ context.Context, p domain.Profile) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.Role == "" {
		p.Role = domain.RoleUser
	}
	if existing, ok := m.profiles[p.UserID]; ok {
		existing.Email = p.Email
		existing.Role = p.Role
		existing.UpdatedAt = p.UpdatedAt
		m.profiles[p.UserID] = existing
		return nil
	}
	p.Tokens = decimal.Zero
	m.profiles[p.UserID] = p
	return nil
}

// SetBalance overwrites a balance directly. Only seeding code should call it.
func (m *MemoryStore) SetBalance(userID string, tokens decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.profiles[userID]
	if !ok {
		p = domain.Profile{UserID: userID, Role: domain.RoleUser, CreatedAt: time.Now().UTC()}
	}
	p.Tokens = tokens
	m.profiles[userID] = p
}

// SpendTokens decrements the balance only when it covers the amount.
func (m *MemoryStore) SpendTokens(_ context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, dup := m.txKeys[entry.IdempotencyKey]; dup {
		return domain.TokenTransaction{}, ErrDuplicateTransaction
	}
	p, ok := m.profiles[entry.UserID]
	if !ok || p.Tokens.LessThan(entry.Amount) {
		return domain.TokenTransaction{}, ErrInsufficientTokens
	}
	p.Tokens = p.Tokens.Sub(entry.Amount)
	p.UpdatedAt = entry.CreatedAt
	m.profiles[entry.UserID] = p
	entry.BalanceAfter = p.Tokens
	m.appendTransaction(entry)
	return entry, nil
}

// CreditTokens increments the balance, creating the profile on demand.
func (m *MemoryStore) CreditTokens(_ context.Context, entry domain.TokenTransaction) (domain.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.creditLocked(entry)
}

func (m *MemoryStore) creditLocked(entry domain.TokenTransaction) (domain.TokenTransaction, error) {
	if _, dup := m.txKeys[entry.IdempotencyKey]; dup {
		return domain.TokenTransaction{}, ErrDuplicateTransaction
	}
	p, ok := m.profiles[entry.UserID]
	if !ok {
		p = domain.Profile{UserID: entry.UserID, Role: domain.RoleUser, CreatedAt: entry.CreatedAt}
	}
	p.Tokens = p.Tokens.Add(entry.Amount)
	p.UpdatedAt = entry.CreatedAt
	m.profiles[entry.UserID] = p
	entry.BalanceAfter = p.Tokens
	m.appendTransaction(entry)
	return entry, nil
}

func (m *MemoryStore) appendTransaction(entry domain.TokenTransaction) {
	m.transactions = append(m.transactions, entry)
	m.txKeys[entry.IdempotencyKey] = struct{}{}
}

// HasTransaction reports whether a ledger entry with the key exists.
func (m *MemoryStore) HasTransaction(_ context.Context, idempotencyKey string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.txKeys[idempotencyKey]
	return ok, nil
}

// ListTransactions returns ledger entries, newest first.
func (m *MemoryStore) ListTransactions(_ context.Context, filter TransactionFilter) ([]domain.TokenTransaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.TokenTransaction, 0)
	for i := len(m.transactions) - 1; i >= 0; i-- {
		t := m.transactions[i]
		if filter.UserID != "" && t.UserID != filter.UserID {
			continue
		}
		if filter.Kind != "" && t.Kind != filter.Kind {
			continue
		}
		res = append(res, t)
	}
	return page(res, filter.Offset, clampLimit(filter.Limit, 50, 500)), nil
}

// SaveInterview stores or replaces an interview.
func (m *MemoryStore) SaveInterview(_ context.Context, iv domain.Interview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.interviews[iv.ID]; ok {
		iv.CreatedAt = existing.CreatedAt
	}
	m.interviews[iv.ID] = iv
	return nil
}

// GetInterview retrieves an interview.
func (m *MemoryStore) GetInterview(_ context.Context, id string) (domain.Interview, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	iv, ok := m.interviews[id]
	return iv, ok, nil
}

// ListInterviewsByUser returns a user's interviews, newest first.
func (m *MemoryStore) ListInterviewsByUser(_ context.Context, userID string) ([]domain.Interview, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Interview, 0)
	for _, iv := range m.interviews {
		if iv.UserID == userID {
			res = append(res, iv)
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	return res, nil
}

// DeleteInterview removes an interview with its jobs, versions and reports.
func (m *MemoryStore) DeleteInterview(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for jid, j := range m.jobs {
		if j.InterviewID == id {
			delete(m.jobs, jid)
		}
	}
	for vid, v := range m.versions {
		if v.InterviewID == id {
			delete(m.versions, vid)
		}
	}
	for rid, r := range m.reports {
		if r.InterviewID == id {
			delete(m.reports, rid)
		}
	}
	delete(m.interviews, id)
	return nil
}

// CreateJob inserts a job, refusing a second active job for the same user.
func (m *MemoryStore) CreateJob(_ context.Context, job domain.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job.Status.Active() {
		for _, j := range m.jobs {
			if j.UserID == job.UserID && j.Status.Active() {
				return ErrActiveJobExists
			}
		}
	}
	m.jobs[job.ID] = cloneJob(job)
	return nil
}

// GetJob retrieves a job.
func (m *MemoryStore) GetJob(_ context.Context, id string) (domain.Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	j, ok := m.jobs[id]
	if !ok {
		return domain.Job{}, false, nil
	}
	return cloneJob(j), true, nil
}

// GetActiveJob returns the user's queued or processing job, if any.
func (m *MemoryStore) GetActiveJob(_ context.Context, userID string) (domain.Job, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, j := range m.jobs {
		if j.UserID == userID && j.Status.Active() {
			return cloneJob(j), true, nil
		}
	}
	return domain.Job{}, false, nil
}

// ListJobsByUser returns the user's jobs, newest first.
func (m *MemoryStore) ListJobsByUser(_ context.Context, userID string, filter JobFilter) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Job, 0)
	for _, j := range m.jobs {
		if j.UserID != userID || !statusIn(j.Status, filter.Statuses) {
			continue
		}
		res = append(res, cloneJob(j))
	}
	sort.Slice(res, func(i, k int) bool { return res[i].CreatedAt.After(res[k].CreatedAt) })
	return page(res, 0, clampLimit(filter.Limit, 20, 200)), nil
}

// ListJobsByInterview returns every job linked to an interview.
func (m *MemoryStore) ListJobsByInterview(_ context.Context, interviewID string) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Job, 0)
	for _, j := range m.jobs {
		if j.InterviewID == interviewID {
			res = append(res, cloneJob(j))
		}
	}
	sort.Slice(res, func(i, k int) bool { return res[i].CreatedAt.Before(res[k].CreatedAt) })
	return res, nil
}

// ListStaleJobs mirrors GormStore.ListStaleJobs.
func (m *MemoryStore) ListStaleJobs(_ context.Context, status domain.JobStatus, before time.Time) ([]domain.Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Job, 0)
	for _, j := range m.jobs {
		if j.Status != status {
			continue
		}
		ref := j.CreatedAt
		if status == domain.JobProcessing {
			if j.StartedAt == nil {
				continue
			}
			ref = *j.StartedAt
		}
		if ref.Before(before) {
			res = append(res, cloneJob(j))
		}
	}
	return res, nil
}

// ClaimJob moves a queued job to processing.
func (m *MemoryStore) ClaimJob(_ context.Context, id string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobQueued {
		return false, nil
	}
	j.Status = domain.JobProcessing
	j.StartedAt = &at
	j.UpdatedAt = at
	m.jobs[id] = j
	return true, nil
}

// FailJob moves an active job to failed.
func (m *MemoryStore) FailJob(_ context.Context, id, errMsg string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || !j.Status.Active() {
		return false, nil
	}
	j.Status = domain.JobFailed
	j.ErrorMessage = errMsg
	j.CompletedAt = &at
	j.UpdatedAt = at
	m.jobs[id] = j
	return true, nil
}

// CompleteJob stores the version and marks the job completed atomically.
func (m *MemoryStore) CompleteJob(_ context.Context, id string, version domain.QAVersion, result domain.JobResult, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.Status != domain.JobProcessing {
		return ErrJobNotProcessing
	}
	if version.IsDefault {
		m.clearDefaultLocked(version.InterviewID, "")
	}
	m.versions[version.ID] = cloneVersion(version)
	j.Status = domain.JobCompleted
	j.Result = &result
	j.ErrorMessage = ""
	j.CompletedAt = &at
	j.UpdatedAt = at
	m.jobs[id] = j
	return nil
}

// CancelJob removes a queued job owned by userID.
func (m *MemoryStore) CancelJob(_ context.Context, id, userID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok || j.UserID != userID || j.Status != domain.JobQueued {
		return false, nil
	}
	delete(m.jobs, id)
	return true, nil
}

// SaveQAVersion inserts a version directly. Only seeding code should call it.
func (m *MemoryStore) SaveQAVersion(v domain.QAVersion) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v.IsDefault {
		m.clearDefaultLocked(v.InterviewID, v.ID)
	}
	m.versions[v.ID] = cloneVersion(v)
}

// GetQAVersion retrieves a generated version.
func (m *MemoryStore) GetQAVersion(_ context.Context, id string) (domain.QAVersion, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.versions[id]
	if !ok {
		return domain.QAVersion{}, false, nil
	}
	return cloneVersion(v), true, nil
}

// ListQAVersions returns every version of an interview, oldest first.
func (m *MemoryStore) ListQAVersions(_ context.Context, interviewID string) ([]domain.QAVersion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.QAVersion, 0)
	for _, v := range m.versions {
		if v.InterviewID == interviewID {
			res = append(res, cloneVersion(v))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	return res, nil
}

// GetDefaultQAVersion returns the interview's default version.
func (m *MemoryStore) GetDefaultQAVersion(_ context.Context, interviewID string) (domain.QAVersion, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, v := range m.versions {
		if v.InterviewID == interviewID && v.IsDefault {
			return cloneVersion(v), true, nil
		}
	}
	return domain.QAVersion{}, false, nil
}

// SetDefaultQAVersion clears the current default and flags versionID.
func (m *MemoryStore) SetDefaultQAVersion(_ context.Context, interviewID, versionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.versions[versionID]
	if !ok || v.InterviewID != interviewID {
		return ErrNotFound
	}
	m.clearDefaultLocked(interviewID, versionID)
	v.IsDefault = true
	m.versions[versionID] = v
	return nil
}

func (m *MemoryStore) clearDefaultLocked(interviewID, keepID string) {
	for id, v := range m.versions {
		if v.InterviewID == interviewID && v.IsDefault && id != keepID {
			v.IsDefault = false
			m.versions[id] = v
		}
	}
}

// CreateReport inserts a report.
func (m *MemoryStore) CreateReport(_ context.Context, r domain.Report) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports[r.ID] = cloneReport(r)
	return nil
}

// GetReport retrieves a report.
func (m *MemoryStore) GetReport(_ context.Context, id string) (domain.Report, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.reports[id]
	if !ok {
		return domain.Report{}, false, nil
	}
	return cloneReport(r), true, nil
}

// ListReports returns one page of reports, newest first, and the total match count.
func (m *MemoryStore) ListReports(_ context.Context, filter ReportFilter) ([]domain.Report, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Report, 0)
	for _, r := range m.reports {
		if filter.UserID != "" && r.UserID != filter.UserID {
			continue
		}
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		res = append(res, cloneReport(r))
	}
	sort.Slice(res, func(i, j int) bool { return res[i].CreatedAt.After(res[j].CreatedAt) })
	total := int64(len(res))
	return page(res, filter.Offset, clampLimit(filter.Limit, 20, 200)), total, nil
}

// UpdateReportStatus sets the review status and admin response.
func (m *MemoryStore) UpdateReportStatus(_ context.Context, id string, status domain.ReportStatus, response string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[id]
	if !ok {
		return ErrNotFound
	}
	r.Status = status
	r.AdminResponse = response
	r.UpdatedAt = at
	m.reports[id] = r
	return nil
}

// RefundReportItem flags one report cell refunded and credits the owner.
func (m *MemoryStore) RefundReportItem(_ context.Context, req RefundItemRequest) (domain.Report, domain.TokenTransaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	stored, ok := m.reports[req.ReportID]
	if !ok {
		return domain.Report{}, domain.TokenTransaction{}, ErrNotFound
	}
	r := cloneReport(stored)
	item, ok := r.Items.Find(req.Kind, req.Category, req.Index)
	if !ok {
		return domain.Report{}, domain.TokenTransaction{}, ErrItemNotFound
	}
	if item.Refunded {
		return domain.Report{}, domain.TokenTransaction{}, ErrAlreadyRefunded
	}
	credit := req.Entry
	credit.UserID = r.UserID
	credit.ReportID = r.ID
	entry, err := m.creditLocked(credit)
	if err != nil {
		return domain.Report{}, domain.TokenTransaction{}, err
	}
	at := req.At
	item.Refunded = true
	item.RefundAmount = req.Entry.Amount
	item.RefundedAt = &at
	r.UpdatedAt = at
	m.reports[r.ID] = r
	return cloneReport(r), entry, nil
}

func statusIn(status domain.JobStatus, set []domain.JobStatus) bool {
	if len(set) == 0 {
		return true
	}
	for _, s := range set {
		if s == status {
			return true
		}
	}
	return false
}

func page[T any](items []T, offset, limit int) []T {
	if offset < 0 {
		offset = 0
	}
	if offset >= len(items) {
		return []T{}
	}
	end := offset + limit
	if end > len(items) {
		end = len(items)
	}
	return items[offset:end]
}

func cloneJob(j domain.Job) domain.Job {
	j.Input.Items = append([]domain.ItemRef(nil), j.Input.Items...)
	if j.Input.Index != nil {
		idx := *j.Input.Index
		j.Input.Index = &idx
	}
	if j.Result != nil {
		res := *j.Result
		j.Result = &res
	}
	return j
}

func cloneVersion(v domain.QAVersion) domain.QAVersion {
	v.Questions = cloneGrid(v.Questions)
	v.Answers = cloneGrid(v.Answers)
	v.TargetItems = domain.TargetItems{
		Questions: append([]domain.ItemRef(nil), v.TargetItems.Questions...),
		Answers:   append([]domain.ItemRef(nil), v.TargetItems.Answers...),
	}
	return v
}

func cloneGrid(grid map[string][]string) map[string][]string {
	if grid == nil {
		return nil
	}
	out := make(map[string][]string, len(grid))
	for k, items := range grid {
		out[k] = append([]string(nil), items...)
	}
	return out
}

func cloneReport(r domain.Report) domain.Report {
	r.Items = domain.ReportItems{
		Questions: append([]domain.ReportItem(nil), r.Items.Questions...),
		Answers:   append([]domain.ReportItem(nil), r.Items.Answers...),
	}
	return r
}
