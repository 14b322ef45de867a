package storage

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage is the in-process backend used when no DATABASE_URL is
// configured, and the reference implementation the SQL backend must match.
type MemoryStorage struct {
	mu sync.RWMutex

	assistants map[string]*Assistant
	threads    map[string]*Thread
	snapshots  map[string][]*StateSnapshot
	runs       map[string]*Run
	items      map[string]*StoreItem
	crons      map[string]*Cron
}

// NewMemoryStorage creates an empty in-memory backend.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		assistants: make(map[string]*Assistant),
		threads:    make(map[string]*Thread),
		snapshots:  make(map[string][]*StateSnapshot),
		runs:       make(map[string]*Run),
		items:      make(map[string]*StoreItem),
		crons:      make(map[string]*Cron),
	}
}

func (m *MemoryStorage) Assistants() AssistantStore { return (*memoryAssistants)(m) }
func (m *MemoryStorage) Threads() ThreadStore       { return (*memoryThreads)(m) }
func (m *MemoryStorage) Runs() RunStore             { return (*memoryRuns)(m) }
func (m *MemoryStorage) Items() ItemStore           { return (*memoryItems)(m) }
func (m *MemoryStorage) Crons() CronStore           { return (*memoryCrons)(m) }

func (m *MemoryStorage) Counts(_ context.Context) (Counts, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Counts{
		Assistants: len(m.assistants),
		Threads:    len(m.threads),
		Runs:       len(m.runs),
		StoreItems: len(m.items),
		Crons:      len(m.crons),
	}, nil
}

func (m *MemoryStorage) Ping(_ context.Context) error { return nil }
func (m *MemoryStorage) Close() error                 { return nil }

// --- assistants ---

type memoryAssistants MemoryStorage

func (m *memoryAssistants) Create(_ context.Context, assistant *Assistant, caller, ifExists string) (*Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.assistants[assistant.AssistantID]; ok {
		if ifExists == IfExistsDoNothing {
			return cloneAssistant(existing), nil
		}
		return nil, ErrConflict
	}

	stored := cloneAssistant(assistant)
	stored.Metadata = StampOwner(stored.Metadata, caller)
	stored.Version = 1
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.assistants[stored.AssistantID] = stored
	return cloneAssistant(stored), nil
}

func (m *memoryAssistants) Get(_ context.Context, id, caller string) (*Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	assistant, ok := m.assistants[id]
	if !ok || !CanRead(assistant.Owner(), caller) {
		return nil, ErrNotFound
	}
	return cloneAssistant(assistant), nil
}

func (m *memoryAssistants) Search(_ context.Context, q AssistantQuery, caller string) ([]*Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filterAssistants(q, caller)
	sortAssistants(matched, q.SortBy, q.SortOrder)
	return paginateAssistants(matched, ClampLimit(q.Limit), ClampOffset(q.Offset)), nil
}

func (m *memoryAssistants) Count(_ context.Context, q AssistantQuery, caller string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filterAssistants(q, caller)), nil
}

func (m *memoryAssistants) filterAssistants(q AssistantQuery, caller string) []*Assistant {
	var matched []*Assistant
	for _, a := range m.assistants {
		if !CanRead(a.Owner(), caller) {
			continue
		}
		if q.GraphID != "" && a.GraphID != q.GraphID {
			continue
		}
		if q.Name != "" && !strings.Contains(strings.ToLower(a.Name), strings.ToLower(q.Name)) {
			continue
		}
		if !MatchesMetadata(a.Metadata, q.Metadata) {
			continue
		}
		matched = append(matched, a)
	}
	return matched
}

func (m *memoryAssistants) Update(_ context.Context, id string, patch AssistantPatch, caller string) (*Assistant, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	assistant, ok := m.assistants[id]
	if !ok || !CanWrite(assistant.Owner(), caller) {
		return nil, ErrNotFound
	}

	if patch.GraphID != nil {
		assistant.GraphID = *patch.GraphID
	}
	if patch.Config != nil {
		assistant.Config = *cloneAssistantConfig(patch.Config)
	}
	if patch.Context != nil {
		assistant.Context = cloneMap(patch.Context)
	}
	if patch.Metadata != nil {
		assistant.Metadata = MergeMetadata(assistant.Metadata, patch.Metadata)
	}
	if patch.Name != nil {
		assistant.Name = *patch.Name
	}
	if patch.Description != nil {
		assistant.Description = *patch.Description
	}
	assistant.Version++
	assistant.UpdatedAt = time.Now().UTC()
	return cloneAssistant(assistant), nil
}

func (m *memoryAssistants) Delete(_ context.Context, id, caller string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	assistant, ok := m.assistants[id]
	if !ok || !CanWrite(assistant.Owner(), caller) {
		return ErrNotFound
	}
	delete(m.assistants, id)
	return nil
}

func (m *memoryAssistants) FindByGraphID(_ context.Context, graphID string) (*Assistant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var oldest *Assistant
	for _, a := range m.assistants {
		if a.GraphID != graphID {
			continue
		}
		if oldest == nil || a.CreatedAt.Before(oldest.CreatedAt) {
			oldest = a
		}
	}
	if oldest == nil {
		return nil, ErrNotFound
	}
	return cloneAssistant(oldest), nil
}

func sortAssistants(list []*Assistant, sortBy, sortOrder string) {
	asc := strings.EqualFold(sortOrder, "asc")
	sort.SliceStable(list, func(i, j int) bool {
		var less bool
		switch sortBy {
		case "updated_at":
			less = list[i].UpdatedAt.Before(list[j].UpdatedAt)
		case "name":
			less = list[i].Name < list[j].Name
		case "graph_id":
			less = list[i].GraphID < list[j].GraphID
		default:
			less = list[i].CreatedAt.Before(list[j].CreatedAt)
		}
		if asc {
			return less
		}
		return !less
	})
}

func paginateAssistants(list []*Assistant, limit, offset int) []*Assistant {
	if offset >= len(list) {
		return []*Assistant{}
	}
	end := offset + limit
	if end > len(list) {
		end = len(list)
	}
	out := make([]*Assistant, 0, end-offset)
	for _, a := range list[offset:end] {
		out = append(out, cloneAssistant(a))
	}
	return out
}

// --- threads ---

type memoryThreads MemoryStorage

func (m *memoryThreads) Create(_ context.Context, thread *Thread, caller, ifExists string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, ok := m.threads[thread.ThreadID]; ok {
		if ifExists == IfExistsDoNothing {
			return cloneThread(existing), nil
		}
		return nil, ErrConflict
	}

	stored := cloneThread(thread)
	stored.Metadata = StampOwner(stored.Metadata, caller)
	if stored.Status == "" {
		stored.Status = ThreadStatusIdle
	}
	if stored.Values == nil {
		stored.Values = map[string]any{}
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.threads[stored.ThreadID] = stored
	return cloneThread(stored), nil
}

func (m *memoryThreads) Get(_ context.Context, id, caller string) (*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[id]
	if !ok || !CanRead(thread.Owner(), caller) {
		return nil, ErrNotFound
	}
	return cloneThread(thread), nil
}

func (m *memoryThreads) Search(_ context.Context, q ThreadQuery, caller string) ([]*Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filterThreads(q, caller)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})
	limit, offset := ClampLimit(q.Limit), ClampOffset(q.Offset)
	if offset >= len(matched) {
		return []*Thread{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Thread, 0, end-offset)
	for _, t := range matched[offset:end] {
		out = append(out, cloneThread(t))
	}
	return out, nil
}

func (m *memoryThreads) Count(_ context.Context, q ThreadQuery, caller string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filterThreads(q, caller)), nil
}

func (m *memoryThreads) filterThreads(q ThreadQuery, caller string) []*Thread {
	var matched []*Thread
	for _, t := range m.threads {
		if !CanRead(t.Owner(), caller) {
			continue
		}
		if q.Status != "" && t.Status != q.Status {
			continue
		}
		if !MatchesMetadata(t.Metadata, q.Metadata) {
			continue
		}
		if !MatchesMetadata(t.Values, q.Values) {
			continue
		}
		matched = append(matched, t)
	}
	return matched
}

func (m *memoryThreads) Update(_ context.Context, id string, patch ThreadPatch, caller string) (*Thread, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[id]
	if !ok || !CanWrite(thread.Owner(), caller) {
		return nil, ErrNotFound
	}
	if patch.Metadata != nil {
		thread.Metadata = MergeMetadata(thread.Metadata, patch.Metadata)
	}
	if patch.Config != nil {
		thread.Config = cloneMap(patch.Config)
	}
	thread.UpdatedAt = time.Now().UTC()
	return cloneThread(thread), nil
}

func (m *memoryThreads) Delete(_ context.Context, id, caller string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[id]
	if !ok || !CanWrite(thread.Owner(), caller) {
		return ErrNotFound
	}
	delete(m.threads, id)
	delete(m.snapshots, id)
	for runID, run := range m.runs {
		if run.ThreadID == id {
			delete(m.runs, runID)
		}
	}
	return nil
}

func (m *memoryThreads) GetState(_ context.Context, threadID string) (*StateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	snaps := m.snapshots[threadID]
	if len(snaps) == 0 {
		// No checkpoint yet: synthesize from current thread values.
		return &StateSnapshot{
			ThreadID: threadID,
			Values:   cloneMap(thread.Values),
			Next:     []string{},
			Tasks:    []any{},
			Metadata: map[string]any{},
		}, nil
	}
	return cloneSnapshot(snaps[len(snaps)-1]), nil
}

func (m *memoryThreads) AddStateSnapshot(_ context.Context, threadID string, snapshot *StateSnapshot) (*StateSnapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}

	stored := cloneSnapshot(snapshot)
	stored.ThreadID = threadID
	stored.CheckpointID = uuid.NewString()
	stored.CreatedAt = time.Now().UTC()
	if stored.Values == nil {
		stored.Values = map[string]any{}
	}
	if stored.Next == nil {
		stored.Next = []string{}
	}
	if stored.Tasks == nil {
		stored.Tasks = []any{}
	}
	if stored.Metadata == nil {
		stored.Metadata = map[string]any{}
	}
	if prev := m.snapshots[threadID]; len(prev) > 0 {
		stored.ParentCheckpoint = map[string]any{
			"checkpoint_id": prev[len(prev)-1].CheckpointID,
		}
	}
	m.snapshots[threadID] = append(m.snapshots[threadID], stored)

	thread.Values = cloneMap(stored.Values)
	thread.UpdatedAt = stored.CreatedAt
	return cloneSnapshot(stored), nil
}

func (m *memoryThreads) GetHistory(_ context.Context, threadID string, limit int, before string) ([]*StateSnapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.threads[threadID]; !ok {
		return nil, ErrNotFound
	}
	snaps := m.snapshots[threadID]

	end := len(snaps)
	if before != "" {
		end = 0
		for i, s := range snaps {
			if s.CheckpointID == before {
				end = i
				break
			}
		}
	}

	limit = ClampLimit(limit)
	out := make([]*StateSnapshot, 0, limit)
	for i := end - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, cloneSnapshot(snaps[i]))
	}
	return out, nil
}

func (m *memoryThreads) SetStatus(_ context.Context, threadID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return ErrNotFound
	}
	thread.Status = status
	thread.UpdatedAt = time.Now().UTC()
	return nil
}

// --- runs ---

type memoryRuns MemoryStorage

func (m *memoryRuns) Create(_ context.Context, run *Run) (*Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneRun(run)
	if stored.RunID == "" {
		stored.RunID = uuid.NewString()
	}
	if stored.Status == "" {
		stored.Status = RunStatusPending
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.runs[stored.RunID] = stored
	return cloneRun(stored), nil
}

func (m *memoryRuns) Get(_ context.Context, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

func (m *memoryRuns) GetByThread(_ context.Context, threadID, runID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	run, ok := m.runs[runID]
	if !ok || run.ThreadID != threadID {
		return nil, ErrNotFound
	}
	return cloneRun(run), nil
}

func (m *memoryRuns) ListByThread(_ context.Context, threadID string, limit, offset int, status string) ([]*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*Run
	for _, r := range m.runs {
		if r.ThreadID != threadID {
			continue
		}
		if status != "" && r.Status != status {
			continue
		}
		matched = append(matched, r)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	limit, offset = ClampLimit(limit), ClampOffset(offset)
	if offset >= len(matched) {
		return []*Run{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Run, 0, end-offset)
	for _, r := range matched[offset:end] {
		out = append(out, cloneRun(r))
	}
	return out, nil
}

func (m *memoryRuns) DeleteByThread(_ context.Context, threadID, runID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok || run.ThreadID != threadID {
		return ErrNotFound
	}
	delete(m.runs, runID)
	return nil
}

func (m *memoryRuns) GetActiveRun(_ context.Context, threadID string) (*Run, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var latest *Run
	for _, r := range m.runs {
		if r.ThreadID != threadID {
			continue
		}
		if r.Status != RunStatusPending && r.Status != RunStatusRunning {
			continue
		}
		if latest == nil || r.CreatedAt.After(latest.CreatedAt) {
			latest = r
		}
	}
	if latest == nil {
		return nil, nil
	}
	return cloneRun(latest), nil
}

func (m *memoryRuns) UpdateStatus(_ context.Context, runID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	run, ok := m.runs[runID]
	if !ok {
		return ErrNotFound
	}
	// Terminal statuses are final.
	if IsTerminalRunStatus(run.Status) {
		return nil
	}
	run.Status = status
	run.UpdatedAt = time.Now().UTC()
	return nil
}

// --- store items ---

type memoryItems MemoryStorage

func itemKey(owner, namespace, key string) string {
	return owner + "\x00" + namespace + "\x00" + key
}

func (m *memoryItems) Put(_ context.Context, owner, namespace, key string, value, metadata map[string]any) (*StoreItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	k := itemKey(owner, namespace, key)
	item, ok := m.items[k]
	if !ok {
		item = &StoreItem{
			Namespace: namespace,
			Key:       key,
			OwnerID:   owner,
			CreatedAt: now,
		}
		m.items[k] = item
	}
	item.Value = cloneMap(value)
	item.Metadata = cloneMap(metadata)
	item.UpdatedAt = now
	return cloneItem(item), nil
}

func (m *memoryItems) Get(_ context.Context, owner, namespace, key string) (*StoreItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	item, ok := m.items[itemKey(owner, namespace, key)]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneItem(item), nil
}

func (m *memoryItems) Delete(_ context.Context, owner, namespace, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	k := itemKey(owner, namespace, key)
	if _, ok := m.items[k]; !ok {
		return ErrNotFound
	}
	delete(m.items, k)
	return nil
}

func (m *memoryItems) Search(_ context.Context, owner, namespacePrefix string, limit, offset int) ([]*StoreItem, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matched []*StoreItem
	for _, item := range m.items {
		if item.OwnerID != owner {
			continue
		}
		if namespacePrefix != "" && !strings.HasPrefix(item.Namespace, namespacePrefix) {
			continue
		}
		matched = append(matched, item)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		if matched[i].Namespace != matched[j].Namespace {
			return matched[i].Namespace < matched[j].Namespace
		}
		return matched[i].Key < matched[j].Key
	})

	limit, offset = ClampLimit(limit), ClampOffset(offset)
	if offset >= len(matched) {
		return []*StoreItem{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*StoreItem, 0, end-offset)
	for _, item := range matched[offset:end] {
		out = append(out, cloneItem(item))
	}
	return out, nil
}

func (m *memoryItems) ListNamespaces(_ context.Context, owner string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := map[string]struct{}{}
	for _, item := range m.items {
		if item.OwnerID == owner {
			seen[item.Namespace] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for ns := range seen {
		out = append(out, ns)
	}
	sort.Strings(out)
	return out, nil
}

// --- crons ---

type memoryCrons MemoryStorage

func (m *memoryCrons) Create(_ context.Context, cron *Cron) (*Cron, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := cloneCron(cron)
	if stored.CronID == "" {
		stored.CronID = uuid.NewString()
	}
	now := time.Now().UTC()
	stored.CreatedAt = now
	stored.UpdatedAt = now
	m.crons[stored.CronID] = stored
	return cloneCron(stored), nil
}

func (m *memoryCrons) Get(_ context.Context, cronID, caller string) (*Cron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	cron, ok := m.crons[cronID]
	if !ok || !CanRead(cron.Owner(), caller) {
		return nil, ErrNotFound
	}
	return cloneCron(cron), nil
}

func (m *memoryCrons) List(_ context.Context, q CronQuery, caller string) ([]*Cron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	matched := m.filterCrons(q, caller)
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.Before(matched[j].CreatedAt)
	})

	limit, offset := ClampLimit(q.Limit), ClampOffset(q.Offset)
	if offset >= len(matched) {
		return []*Cron{}, nil
	}
	end := offset + limit
	if end > len(matched) {
		end = len(matched)
	}
	out := make([]*Cron, 0, end-offset)
	for _, c := range matched[offset:end] {
		out = append(out, cloneCron(c))
	}
	return out, nil
}

func (m *memoryCrons) Count(_ context.Context, q CronQuery, caller string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.filterCrons(q, caller)), nil
}

func (m *memoryCrons) filterCrons(q CronQuery, caller string) []*Cron {
	var matched []*Cron
	for _, c := range m.crons {
		if !CanRead(c.Owner(), caller) {
			continue
		}
		if q.AssistantID != "" && c.AssistantID != q.AssistantID {
			continue
		}
		if q.ThreadID != "" && c.ThreadID != q.ThreadID {
			continue
		}
		matched = append(matched, c)
	}
	return matched
}

func (m *memoryCrons) Update(_ context.Context, cronID string, patch map[string]any, caller string) (*Cron, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	cron, ok := m.crons[cronID]
	if !ok || !CanWrite(cron.Owner(), caller) {
		return nil, ErrNotFound
	}
	applyCronPatch(cron, patch)
	cron.UpdatedAt = time.Now().UTC()
	return cloneCron(cron), nil
}

func applyCronPatch(cron *Cron, patch map[string]any) {
	if schedule, ok := patch["schedule"].(string); ok {
		cron.Schedule = schedule
	}
	if threadID, ok := patch["thread_id"].(string); ok {
		cron.ThreadID = threadID
	}
	if payload, ok := patch["payload"].(map[string]any); ok {
		cron.Payload = cloneMap(payload)
	}
	if metadata, ok := patch["metadata"].(map[string]any); ok {
		cron.Metadata = MergeMetadata(cron.Metadata, metadata)
	}
	if end, ok := patch["end_time"].(time.Time); ok {
		end := end.UTC()
		cron.EndTime = &end
	}
	if next, ok := patch["next_run_date"].(time.Time); ok {
		cron.NextRunDate = next.UTC()
	}
}

func (m *memoryCrons) Delete(_ context.Context, cronID, caller string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cron, ok := m.crons[cronID]
	if !ok || !CanWrite(cron.Owner(), caller) {
		return ErrNotFound
	}
	delete(m.crons, cronID)
	return nil
}

func (m *memoryCrons) Due(_ context.Context, now time.Time) ([]*Cron, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var due []*Cron
	for _, c := range m.crons {
		if !c.NextRunDate.IsZero() && !c.NextRunDate.After(now) {
			due = append(due, c)
		}
	}
	sort.SliceStable(due, func(i, j int) bool {
		return due[i].NextRunDate.Before(due[j].NextRunDate)
	})
	out := make([]*Cron, 0, len(due))
	for _, c := range due {
		out = append(out, cloneCron(c))
	}
	return out, nil
}

func (m *memoryCrons) SetNextRun(_ context.Context, cronID string, next time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cron, ok := m.crons[cronID]
	if !ok {
		return ErrNotFound
	}
	cron.NextRunDate = next.UTC()
	cron.UpdatedAt = time.Now().UTC()
	return nil
}
