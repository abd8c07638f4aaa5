package storage

import (
	"context"
	"sort"
	"sync"

	"taskhub/domain"
	"taskhub/query"
)

// MemoryStore keeps everything in process. It is the default backend and the
// one used by service and handler tests.
type MemoryStore struct {
	mu       sync.RWMutex
	tasks    map[string]domain.TaskRecord
	projects map[string]domain.Project
	users    map[string]domain.User
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tasks:    make(map[string]domain.TaskRecord),
		projects: make(map[string]domain.Project),
		users:    make(map[string]domain.User),
	}
}

func (m *MemoryStore) CreateTask(ctx context.Context, t domain.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[t.ProjectID]; !ok {
		return notFound(entityProject, t.ProjectID)
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *MemoryStore) GetTask(ctx context.Context, id string) (domain.TaskRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return domain.TaskRecord{}, notFound(entityTask, id)
	}
	return t, nil
}

func (m *MemoryStore) UpdateTask(ctx context.Context, t domain.TaskRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[t.ID]; !ok {
		return notFound(entityTask, t.ID)
	}
	m.tasks[t.ID] = t
	return nil
}

func (m *MemoryStore) DeleteTask(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return notFound(entityTask, id)
	}
	delete(m.tasks, id)
	return nil
}

func (m *MemoryStore) QueryTasks(ctx context.Context, req query.Request) (query.Result, error) {
	m.mu.RLock()
	all := make([]domain.TaskRecord, 0, len(m.tasks))
	for _, t := range m.tasks {
		all = append(all, t)
	}
	m.mu.RUnlock()
	// map order is random; pin ties to id before the newest-first sort
	sort.Slice(all, func(i, j int) bool { return all[i].ID < all[j].ID })
	return query.Apply(all, req), nil
}

func (m *MemoryStore) CreateProject(ctx context.Context, p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p.TaskCount = 0
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	if !ok {
		return domain.Project{}, notFound(entityProject, id)
	}
	p.TaskCount = m.countTasksLocked(id)
	return p, nil
}

func (m *MemoryStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Project, 0, len(m.projects))
	for _, p := range m.projects {
		p.TaskCount = m.countTasksLocked(p.ID)
		out = append(out, p)
	}
	sortProjects(out)
	return out, nil
}

func (m *MemoryStore) UpdateProject(ctx context.Context, p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[p.ID]; !ok {
		return notFound(entityProject, p.ID)
	}
	p.TaskCount = 0
	m.projects[p.ID] = p
	return nil
}

func (m *MemoryStore) DeleteProject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.projects[id]; !ok {
		return notFound(entityProject, id)
	}
	delete(m.projects, id)
	return nil
}

func (m *MemoryStore) UpsertUser(ctx context.Context, u domain.User) error {
	m.mu.Lock()
	m.users[u.ID] = u
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return domain.User{}, notFound(entityUser, id)
	}
	return u, nil
}

func (m *MemoryStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sortUsers(out)
	return out, nil
}

func (m *MemoryStore) DeleteUser(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[id]; !ok {
		return notFound(entityUser, id)
	}
	delete(m.users, id)
	return nil
}

func (m *MemoryStore) countTasksLocked(projectID string) int {
	n := 0
	for _, t := range m.tasks {
		if t.ProjectID == projectID {
			n++
		}
	}
	return n
}

// sortProjects orders projects by name, then id.
func sortUsers(us []domain.User) {
	sort.Slice(us, func(i, j int) bool {
		if us[i].FullName != us[j].FullName {
			return us[i].FullName < us[j].FullName
		}
		return us[i].ID < us[j].ID
	})
}

func sortProjects(ps []domain.Project) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].Name != ps[j].Name {
			return ps[i].Name < ps[j].Name
		}
		return ps[i].ID < ps[j].ID
	})
}
