package storage

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"

	"taskhub/domain"
	"taskhub/query"
)

const (
	taskPartition    = "task"
	projectPartition = "project"
	userPartition    = "user"

	edmDateTime = "Edm.DateTime"
	edmDouble   = "Edm.Double"
)

// TableStore persists entities in Azure Table Storage. Each entity kind lives
// in its own table under a single partition; equality filters are pushed to
// the service and search, ordering and paging run in process.
type TableStore struct {
	tasks    *aztables.Client
	projects *aztables.Client
	users    *aztables.Client
}

// NewTableStore creates a TableStore from the given connection string.
func NewTableStore(connStr, tasksTable, projectsTable, usersTable string) (*TableStore, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return &TableStore{
		tasks:    svc.NewClient(tasksTable),
		projects: svc.NewClient(projectsTable),
		users:    svc.NewClient(usersTable),
	}, nil
}

type taskEntity struct {
	PartitionKey       string     `json:"PartitionKey"`
	RowKey             string     `json:"RowKey"`
	Title              string     `json:"Title"`
	Description        *string    `json:"Description,omitempty"`
	Status             string     `json:"Status"`
	EstimatedHours     *float64   `json:"EstimatedHours,omitempty"`
	EstimatedHoursType *string    `json:"EstimatedHours@odata.type,omitempty"`
	ProjectID          string     `json:"ProjectId"`
	CreatedByUserID    string     `json:"CreatedByUserId"`
	AssignedToUserID   *string    `json:"AssignedToUserId,omitempty"`
	CreatedAt          time.Time  `json:"CreatedAt"`
	CreatedAtType      string     `json:"CreatedAt@odata.type"`
	UpdatedAt          *time.Time `json:"UpdatedAt,omitempty"`
	CompletedAt        *time.Time `json:"CompletedAt,omitempty"`
}

type projectEntity struct {
	PartitionKey  string    `json:"PartitionKey"`
	RowKey        string    `json:"RowKey"`
	Name          string    `json:"Name"`
	CreatedAt     time.Time `json:"CreatedAt"`
	CreatedAtType string    `json:"CreatedAt@odata.type"`
}

type userEntity struct {
	PartitionKey string `json:"PartitionKey"`
	RowKey       string `json:"RowKey"`
	Email        string `json:"Email"`
	FullName     string `json:"FullName"`
	PasswordHash string `json:"PasswordHash,omitempty"`
}

func encodeTask(t domain.TaskRecord) ([]byte, error) {
	ent := taskEntity{
		PartitionKey:     taskPartition,
		RowKey:           t.ID,
		Title:            t.Title,
		Description:      t.Description,
		Status:           string(t.Status),
		EstimatedHours:   t.EstimatedHours,
		ProjectID:        t.ProjectID,
		CreatedByUserID:  t.CreatedByUserID,
		AssignedToUserID: t.AssignedToUserID,
		CreatedAt:        t.CreatedAt,
		CreatedAtType:    edmDateTime,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
	if t.EstimatedHours != nil {
		typ := edmDouble
		ent.EstimatedHoursType = &typ
	}
	return sonic.ConfigStd.Marshal(ent)
}

func decodeTask(data []byte) (domain.TaskRecord, error) {
	var ent taskEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return domain.TaskRecord{}, err
	}
	return domain.TaskRecord{
		ID:               ent.RowKey,
		Title:            ent.Title,
		Description:      ent.Description,
		Status:           domain.Status(ent.Status),
		EstimatedHours:   ent.EstimatedHours,
		ProjectID:        ent.ProjectID,
		CreatedByUserID:  ent.CreatedByUserID,
		AssignedToUserID: ent.AssignedToUserID,
		CreatedAt:        ent.CreatedAt.UTC(),
		UpdatedAt:        ent.UpdatedAt,
		CompletedAt:      ent.CompletedAt,
	}, nil
}

func encodeProject(p domain.Project) ([]byte, error) {
	return sonic.ConfigStd.Marshal(projectEntity{
		PartitionKey:  projectPartition,
		RowKey:        p.ID,
		Name:          p.Name,
		CreatedAt:     p.CreatedAt,
		CreatedAtType: edmDateTime,
	})
}

func decodeProject(data []byte) (domain.Project, error) {
	var ent projectEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return domain.Project{}, err
	}
	return domain.Project{ID: ent.RowKey, Name: ent.Name, CreatedAt: ent.CreatedAt.UTC()}, nil
}

func encodeUser(u domain.User) ([]byte, error) {
	return sonic.ConfigStd.Marshal(userEntity{
		PartitionKey: userPartition,
		RowKey:       u.ID,
		Email:        u.Email,
		FullName:     u.FullName,
		PasswordHash: u.PasswordHash,
	})
}

func decodeUser(data []byte) (domain.User, error) {
	var ent userEntity
	if err := sonic.ConfigStd.Unmarshal(data, &ent); err != nil {
		return domain.User{}, err
	}
	return domain.User{ID: ent.RowKey, Email: ent.Email, FullName: ent.FullName, PasswordHash: ent.PasswordHash}, nil
}

func decodeUsers(entities [][]byte) ([]domain.User, error) {
	out := make([]domain.User, 0, len(entities))
	for _, e := range entities {
		u, err := decodeUser(e)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, nil
}

// odataString quotes s as an OData string literal.
func odataString(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

// taskFilter renders the equality part of f as an OData filter. Search is not
// expressible in OData and is left to the caller.
func taskFilter(f query.Filter) string {
	clauses := []string{"PartitionKey eq " + odataString(taskPartition)}
	if f.Status != nil {
		clauses = append(clauses, "Status eq "+odataString(string(*f.Status)))
	}
	if f.ProjectID != "" {
		clauses = append(clauses, "ProjectId eq "+odataString(f.ProjectID))
	}
	if f.AssigneeID != "" {
		clauses = append(clauses, "AssignedToUserId eq "+odataString(f.AssigneeID))
	}
	return strings.Join(clauses, " and ")
}

// tableErr maps a 404 from the service to a NotFoundError.
func tableErr(err error, entity, id string) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
		return notFound(entity, id)
	}
	return err
}

func replaceOpts() *aztables.UpdateEntityOptions {
	et := azcore.ETagAny
	return &aztables.UpdateEntityOptions{IfMatch: &et, UpdateMode: aztables.UpdateModeReplace}
}

func (s *TableStore) CreateTask(ctx context.Context, t domain.TaskRecord) error {
	if _, err := s.projects.GetEntity(ctx, projectPartition, t.ProjectID, nil); err != nil {
		return tableErr(err, entityProject, t.ProjectID)
	}
	payload, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.tasks.AddEntity(ctx, payload, nil)
	return err
}

func (s *TableStore) GetTask(ctx context.Context, id string) (domain.TaskRecord, error) {
	ent, err := s.tasks.GetEntity(ctx, taskPartition, id, nil)
	if err != nil {
		return domain.TaskRecord{}, tableErr(err, entityTask, id)
	}
	return decodeTask(ent.Value)
}

func (s *TableStore) UpdateTask(ctx context.Context, t domain.TaskRecord) error {
	payload, err := encodeTask(t)
	if err != nil {
		return err
	}
	_, err = s.tasks.UpdateEntity(ctx, payload, replaceOpts())
	return tableErr(err, entityTask, t.ID)
}

func (s *TableStore) DeleteTask(ctx context.Context, id string) error {
	_, err := s.tasks.DeleteEntity(ctx, taskPartition, id, nil)
	return tableErr(err, entityTask, id)
}

func (s *TableStore) QueryTasks(ctx context.Context, req query.Request) (query.Result, error) {
	filter := taskFilter(req.Filter)
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.TaskRecord{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return query.Result{}, err
		}
		for _, e := range resp.Entities {
			t, err := decodeTask(e)
			if err != nil {
				return query.Result{}, err
			}
			tasks = append(tasks, t)
		}
	}
	return query.Apply(tasks, req), nil
}

func (s *TableStore) CreateProject(ctx context.Context, p domain.Project) error {
	payload, err := encodeProject(p)
	if err != nil {
		return err
	}
	_, err = s.projects.AddEntity(ctx, payload, nil)
	return err
}

func (s *TableStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	ent, err := s.projects.GetEntity(ctx, projectPartition, id, nil)
	if err != nil {
		return domain.Project{}, tableErr(err, entityProject, id)
	}
	p, err := decodeProject(ent.Value)
	if err != nil {
		return domain.Project{}, err
	}
	counts, err := s.taskCounts(ctx, id)
	if err != nil {
		return domain.Project{}, err
	}
	p.TaskCount = counts[id]
	return p, nil
}

func (s *TableStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	filter := "PartitionKey eq " + odataString(projectPartition)
	pager := s.projects.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.Project{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			p, err := decodeProject(e)
			if err != nil {
				return nil, err
			}
			out = append(out, p)
		}
	}
	counts, err := s.taskCounts(ctx, "")
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].TaskCount = counts[out[i].ID]
	}
	sortProjects(out)
	return out, nil
}

// taskCounts counts tasks per project, limited to projectID when set.
func (s *TableStore) taskCounts(ctx context.Context, projectID string) (map[string]int, error) {
	filter := taskFilter(query.Filter{ProjectID: projectID})
	sel := "ProjectId"
	pager := s.tasks.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter, Select: &sel})
	counts := make(map[string]int)
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, e := range resp.Entities {
			var ent struct {
				ProjectID string `json:"ProjectId"`
			}
			if err := sonic.ConfigStd.Unmarshal(e, &ent); err != nil {
				return nil, err
			}
			counts[ent.ProjectID]++
		}
	}
	return counts, nil
}

func (s *TableStore) UpdateProject(ctx context.Context, p domain.Project) error {
	payload, err := encodeProject(p)
	if err != nil {
		return err
	}
	_, err = s.projects.UpdateEntity(ctx, payload, replaceOpts())
	return tableErr(err, entityProject, p.ID)
}

func (s *TableStore) DeleteProject(ctx context.Context, id string) error {
	_, err := s.projects.DeleteEntity(ctx, projectPartition, id, nil)
	return tableErr(err, entityProject, id)
}

func (s *TableStore) UpsertUser(ctx context.Context, u domain.User) error {
	payload, err := encodeUser(u)
	if err != nil {
		return err
	}
	_, err = s.users.UpsertEntity(ctx, payload, &aztables.UpsertEntityOptions{UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (s *TableStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	ent, err := s.users.GetEntity(ctx, userPartition, id, nil)
	if err != nil {
		return domain.User{}, tableErr(err, entityUser, id)
	}
	return decodeUser(ent.Value)
}

func (s *TableStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	filter := "PartitionKey eq " + odataString(userPartition)
	pager := s.users.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	out := []domain.User{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		page, err := decodeUsers(resp.Entities)
		if err != nil {
			return nil, err
		}
		out = append(out, page...)
	}
	sortUsers(out)
	return out, nil
}

func (s *TableStore) DeleteUser(ctx context.Context, id string) error {
	_, err := s.users.DeleteEntity(ctx, userPartition, id, nil)
	return tableErr(err, entityUser, id)
}
