package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"taskhub/domain"
	"taskhub/query"
)

type taskRow struct {
	ID               string     `gorm:"primaryKey;size:64"`
	Title            string     `gorm:"size:200;not null"`
	Description      *string    `gorm:"type:text"`
	Status           string     `gorm:"size:16;not null;index"`
	EstimatedHours   *float64   `gorm:"column:estimated_hours"`
	ProjectID        string     `gorm:"size:64;not null;index"`
	CreatedByUserID  string     `gorm:"column:created_by_user_id;size:128;not null"`
	AssignedToUserID *string    `gorm:"column:assigned_to_user_id;size:128;index"`
	CreatedAt        time.Time  `gorm:"not null;index;autoCreateTime:false"`
	UpdatedAt        *time.Time `gorm:"autoUpdateTime:false"`
	CompletedAt      *time.Time
}

func (taskRow) TableName() string { return "tasks" }

type projectRow struct {
	ID        string    `gorm:"primaryKey;size:64"`
	Name      string    `gorm:"size:100;not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:false"`
}

func (projectRow) TableName() string { return "projects" }

type userRow struct {
	ID           string `gorm:"primaryKey;size:128"`
	Email        string `gorm:"size:256;not null"`
	FullName     string `gorm:"size:100;not null"`
	PasswordHash string
}

func (userRow) TableName() string { return "users" }

func userRowFromUser(u domain.User) userRow {
	return userRow{ID: u.ID, Email: u.Email, FullName: u.FullName, PasswordHash: u.PasswordHash}
}

func (r userRow) user() domain.User {
	return domain.User{ID: r.ID, Email: r.Email, FullName: r.FullName, PasswordHash: r.PasswordHash}
}

func taskRowFromRecord(t domain.TaskRecord) taskRow {
	return taskRow{
		ID:               t.ID,
		Title:            t.Title,
		Description:      t.Description,
		Status:           string(t.Status),
		EstimatedHours:   t.EstimatedHours,
		ProjectID:        t.ProjectID,
		CreatedByUserID:  t.CreatedByUserID,
		AssignedToUserID: t.AssignedToUserID,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
		CompletedAt:      t.CompletedAt,
	}
}

func (r taskRow) record() domain.TaskRecord {
	return domain.TaskRecord{
		ID:               r.ID,
		Title:            r.Title,
		Description:      r.Description,
		Status:           domain.Status(r.Status),
		EstimatedHours:   r.EstimatedHours,
		ProjectID:        r.ProjectID,
		CreatedByUserID:  r.CreatedByUserID,
		AssignedToUserID: r.AssignedToUserID,
		CreatedAt:        r.CreatedAt.UTC(),
		UpdatedAt:        r.UpdatedAt,
		CompletedAt:      r.CompletedAt,
	}
}

// SQLStore persists entities through GORM. Filtering, counting, ordering and
// paging all run in the database.
type SQLStore struct {
	db *gorm.DB
}

// OpenPostgres opens a GORM handle for dsn.
func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	return db, nil
}

func NewSQLStore(db *gorm.DB) (*SQLStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection cannot be nil")
	}
	return &SQLStore{db: db}, nil
}

// Migrate creates or updates the schema.
func (s *SQLStore) Migrate(ctx context.Context) error {
	return s.db.WithContext(ctx).AutoMigrate(&projectRow{}, &userRow{}, &taskRow{})
}

func (s *SQLStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// likePattern escapes LIKE wildcards in a lowercased search term.
func likePattern(term string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return "%" + r.Replace(term) + "%"
}

func applyTaskFilter(db *gorm.DB, f query.Filter) *gorm.DB {
	if f.Status != nil {
		db = db.Where("status = ?", string(*f.Status))
	}
	if f.ProjectID != "" {
		db = db.Where("project_id = ?", f.ProjectID)
	}
	if f.AssigneeID != "" {
		db = db.Where("assigned_to_user_id = ?", f.AssigneeID)
	}
	if term := f.SearchTerm(); term != "" {
		p := likePattern(term)
		db = db.Where("(LOWER(title) LIKE ? OR LOWER(description) LIKE ?)", p, p)
	}
	return db
}

func sqlErr(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(entity, id)
	}
	return err
}

func (s *SQLStore) CreateTask(ctx context.Context, t domain.TaskRecord) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var p projectRow
		if err := tx.Where("id = ?", t.ProjectID).First(&p).Error; err != nil {
			return sqlErr(err, entityProject, t.ProjectID)
		}
		row := taskRowFromRecord(t)
		return tx.Create(&row).Error
	})
}

func (s *SQLStore) GetTask(ctx context.Context, id string) (domain.TaskRecord, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return domain.TaskRecord{}, sqlErr(err, entityTask, id)
	}
	return row.record(), nil
}

func (s *SQLStore) UpdateTask(ctx context.Context, t domain.TaskRecord) error {
	row := taskRowFromRecord(t)
	res := s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", t.ID).Select("*").Omit("id", "created_at").Updates(&row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(entityTask, t.ID)
	}
	return nil
}

func (s *SQLStore) DeleteTask(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&taskRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(entityTask, id)
	}
	return nil
}

func (s *SQLStore) QueryTasks(ctx context.Context, req query.Request) (query.Result, error) {
	req = req.Normalized()
	base := applyTaskFilter(s.db.WithContext(ctx).Model(&taskRow{}), req.Filter).Session(&gorm.Session{})

	var total int64
	if err := base.Count(&total).Error; err != nil {
		return query.Result{}, fmt.Errorf("count tasks: %w", err)
	}
	var rows []taskRow
	if err := base.Order("created_at DESC").Offset(req.Offset()).Limit(req.PageSize).Find(&rows).Error; err != nil {
		return query.Result{}, fmt.Errorf("list tasks: %w", err)
	}
	res := query.Result{Items: make([]domain.TaskRecord, 0, len(rows)), TotalCount: int(total), Page: req.Page, PageSize: req.PageSize}
	for _, r := range rows {
		res.Items = append(res.Items, r.record())
	}
	return res, nil
}

func (s *SQLStore) CreateProject(ctx context.Context, p domain.Project) error {
	row := projectRow{ID: p.ID, Name: p.Name, CreatedAt: p.CreatedAt}
	return s.db.WithContext(ctx).Create(&row).Error
}

func (s *SQLStore) GetProject(ctx context.Context, id string) (domain.Project, error) {
	db := s.db.WithContext(ctx)
	var row projectRow
	if err := db.Where("id = ?", id).First(&row).Error; err != nil {
		return domain.Project{}, sqlErr(err, entityProject, id)
	}
	var n int64
	if err := db.Model(&taskRow{}).Where("project_id = ?", id).Count(&n).Error; err != nil {
		return domain.Project{}, err
	}
	return domain.Project{ID: row.ID, Name: row.Name, CreatedAt: row.CreatedAt.UTC(), TaskCount: int(n)}, nil
}

func (s *SQLStore) ListProjects(ctx context.Context) ([]domain.Project, error) {
	db := s.db.WithContext(ctx)
	var rows []projectRow
	if err := db.Order("name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	var counts []struct {
		ProjectID string
		N         int
	}
	if err := db.Model(&taskRow{}).Select("project_id, count(*) as n").Group("project_id").Scan(&counts).Error; err != nil {
		return nil, err
	}
	byProject := make(map[string]int, len(counts))
	for _, c := range counts {
		byProject[c.ProjectID] = c.N
	}
	out := make([]domain.Project, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Project{ID: r.ID, Name: r.Name, CreatedAt: r.CreatedAt.UTC(), TaskCount: byProject[r.ID]})
	}
	return out, nil
}

func (s *SQLStore) UpdateProject(ctx context.Context, p domain.Project) error {
	res := s.db.WithContext(ctx).Model(&projectRow{}).Where("id = ?", p.ID).Update("name", p.Name)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(entityProject, p.ID)
	}
	return nil
}

func (s *SQLStore) DeleteProject(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&projectRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(entityProject, id)
	}
	return nil
}

func (s *SQLStore) UpsertUser(ctx context.Context, u domain.User) error {
	row := userRowFromUser(u)
	return s.db.WithContext(ctx).Save(&row).Error
}

func (s *SQLStore) GetUser(ctx context.Context, id string) (domain.User, error) {
	var row userRow
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&row).Error; err != nil {
		return domain.User{}, sqlErr(err, entityUser, id)
	}
	return row.user(), nil
}

func (s *SQLStore) ListUsers(ctx context.Context) ([]domain.User, error) {
	var rows []userRow
	if err := s.db.WithContext(ctx).Order("full_name, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.User, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.user())
	}
	return out, nil
}

func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&userRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return notFound(entityUser, id)
	}
	return nil
}
