package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"taskhub/domain"
	"taskhub/query"
	"taskhub/realtime"
	"taskhub/service"
)

const (
	idempotencyHeader = "Idempotency-Key"
	healthTimeout     = 2 * time.Second
)

// Deps bundles what Register needs. Deduper and Health are optional.
type Deps struct {
	Tasks     TaskService
	Projects  ProjectService
	Users     UserService
	Auth      Authenticator
	Deduper   Deduper
	Hub       *realtime.Hub
	Health    map[string]HealthChecker
	Logger    *log.Logger
	KeepAlive time.Duration
}

// Register wires up all API routes on the provided Echo instance.
func Register(e *echo.Echo, d Deps) {
	if d.Logger == nil {
		d.Logger = log.StandardLogger()
	}
	if d.KeepAlive <= 0 {
		d.KeepAlive = defaultKeepAlive
	}
	authed := RequireAuth(d.Auth)

	g := e.Group("/api", authed)
	g.GET("/tasks", listTasks(d.Tasks))
	g.GET("/tasks/:id", getTask(d.Tasks))
	g.POST("/tasks", createTask(d.Tasks, d.Deduper, d.Logger))
	g.PATCH("/tasks/:id", updateTask(d.Tasks))
	g.DELETE("/tasks/:id", deleteTask(d.Tasks))

	g.GET("/projects", listProjects(d.Projects))
	g.POST("/projects", createProject(d.Projects))
	g.GET("/projects/:id", getProject(d.Projects))
	g.PATCH("/projects/:id", renameProject(d.Projects))
	g.DELETE("/projects/:id", deleteProject(d.Projects))

	g.GET("/users", listUsers(d.Users))
	g.PUT("/users/me", upsertMe(d.Users))
	g.GET("/users/:id", getUser(d.Users))
	g.DELETE("/users/:id", deleteUser(d.Users))

	s := e.Group("/stream", authed)
	s.GET("", streamEvents(d.Hub, d.KeepAlive, d.Logger))
	s.POST("/:connectionId/projects/:projectId", joinProject(d.Hub))
	s.DELETE("/:connectionId/projects/:projectId", leaveProject(d.Hub))

	e.GET("/healthz", healthz(d.Health))
}

func actorFrom(c echo.Context) service.Actor {
	id := identityFrom(c)
	return service.Actor{UserID: id.UserID, Name: id.Name}
}

type taskListResponse struct {
	Items           []domain.TaskRecord `json:"items"`
	Page            int                 `json:"page"`
	PageSize        int                 `json:"pageSize"`
	TotalCount      int                 `json:"totalCount"`
	TotalPages      int                 `json:"totalPages"`
	HasNextPage     bool                `json:"hasNextPage"`
	HasPreviousPage bool                `json:"hasPreviousPage"`
}

func newTaskListResponse(res query.Result) taskListResponse {
	items := res.Items
	if items == nil {
		items = []domain.TaskRecord{}
	}
	return taskListResponse{
		Items:           items,
		Page:            res.Page,
		PageSize:        res.PageSize,
		TotalCount:      res.TotalCount,
		TotalPages:      res.TotalPages(),
		HasNextPage:     res.HasNextPage(),
		HasPreviousPage: res.HasPreviousPage(),
	}
}

func intParam(c echo.Context, name string) (int, error) {
	raw := strings.TrimSpace(c.QueryParam(name))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &domain.ValidationError{Field: name, Message: "must be an integer"}
	}
	return v, nil
}

func listTasks(tasks TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		m := metricsFrom(c)
		page, err := intParam(c, "page")
		if err != nil {
			m.SetErrorStage("invalid_page")
			return err
		}
		pageSize, err := intParam(c, "pageSize")
		if err != nil {
			m.SetErrorStage("invalid_page_size")
			return err
		}
		req, err := query.New(
			c.QueryParam("status"),
			c.QueryParam("projectId"),
			c.QueryParam("assignedToUserId"),
			c.QueryParam("searchTerm"),
			page, pageSize,
		)
		if err != nil {
			m.SetErrorStage("invalid_status")
			return err
		}

		start := time.Now()
		res, err := tasks.List(c.Request().Context(), req)
		m.ObserveStore(time.Since(start))
		if err != nil {
			m.SetErrorStage("storage")
			return err
		}
		m.SetItemsReturned(len(res.Items), res.HasNextPage())
		return c.JSON(http.StatusOK, newTaskListResponse(res))
	}
}

func getTask(tasks TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		d, err := tasks.Get(c.Request().Context(), c.Param("id"))
		metricsFrom(c).ObserveStore(time.Since(start))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, d)
	}
}

type createTaskRequest struct {
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	ProjectID        string   `json:"projectId"`
	EstimatedHours   *float64 `json:"estimatedHours"`
	AssignedToUserID *string  `json:"assignedToUserId"`
}

func createTask(tasks TaskService, deduper Deduper, logger *log.Logger) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		actor := actorFrom(c)
		m := metricsFrom(c)

		var body createTaskRequest
		if err := decodeBody(c, &body); err != nil {
			m.SetErrorStage("decode")
			return err
		}

		key := strings.TrimSpace(c.Request().Header.Get(idempotencyHeader))
		if key != "" && deduper != nil {
			added, err := deduper.Add(ctx, actor.UserID, key)
			if err != nil {
				m.SetErrorStage("idempotency")
				return err
			}
			if !added {
				m.SetErrorStage("duplicate")
				return ErrDuplicateRequest
			}
		}

		d, err := tasks.Create(ctx, actor, service.CreateTaskInput{
			Title:            body.Title,
			Description:      body.Description,
			ProjectID:        body.ProjectID,
			EstimatedHours:   body.EstimatedHours,
			AssignedToUserID: body.AssignedToUserID,
		})
		if err != nil {
			if key != "" && deduper != nil {
				if rerr := deduper.Remove(ctx, actor.UserID, key); rerr != nil {
					logger.WithError(rerr).WithField("key", key).Warn("release idempotency key")
				}
			}
			return err
		}
		c.Response().Header().Set(echo.HeaderLocation, "/api/tasks/"+d.ID)
		return c.JSON(http.StatusCreated, d)
	}
}

type updateTaskRequest struct {
	Title            *string  `json:"title"`
	Description      *string  `json:"description"`
	EstimatedHours   *float64 `json:"estimatedHours"`
	AssignedToUserID *string  `json:"assignedToUserId"`
	Unassign         bool     `json:"unassign"`
	Status           *string  `json:"status"`
}

func (r updateTaskRequest) patch() (service.TaskPatch, error) {
	p := service.TaskPatch{
		Title:            r.Title,
		Description:      r.Description,
		EstimatedHours:   r.EstimatedHours,
		AssignedToUserID: r.AssignedToUserID,
		Unassign:         r.Unassign,
	}
	if r.Status != nil {
		st, err := domain.ParseStatus(*r.Status)
		if err != nil {
			return service.TaskPatch{}, err
		}
		p.Status = &st
	}
	return p, nil
}

func updateTask(tasks TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body updateTaskRequest
		if err := decodeBody(c, &body); err != nil {
			metricsFrom(c).SetErrorStage("decode")
			return err
		}
		patch, err := body.patch()
		if err != nil {
			return err
		}
		d, err := tasks.Update(c.Request().Context(), actorFrom(c), c.Param("id"), patch)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, d)
	}
}

func deleteTask(tasks TaskService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := tasks.Delete(c.Request().Context(), actorFrom(c), c.Param("id")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type projectRequest struct {
	Name string `json:"name"`
}

func listProjects(projects ProjectService) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := projects.List(c.Request().Context())
		if err != nil {
			return err
		}
		if list == nil {
			list = []domain.Project{}
		}
		return c.JSON(http.StatusOK, list)
	}
}

func createProject(projects ProjectService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body projectRequest
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		p, err := projects.Create(c.Request().Context(), body.Name)
		if err != nil {
			return err
		}
		c.Response().Header().Set(echo.HeaderLocation, "/api/projects/"+p.ID)
		return c.JSON(http.StatusCreated, p)
	}
}

func getProject(projects ProjectService) echo.HandlerFunc {
	return func(c echo.Context) error {
		p, err := projects.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}
}

func renameProject(projects ProjectService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body projectRequest
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		p, err := projects.Rename(c.Request().Context(), c.Param("id"), body.Name)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, p)
	}
}

func deleteProject(projects ProjectService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := projects.Delete(c.Request().Context(), c.Param("id")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type userRequest struct {
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

type userResponse struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	FullName string `json:"fullName"`
}

func newUserResponse(u domain.User) userResponse {
	return userResponse{ID: u.ID, Email: u.Email, FullName: u.FullName}
}

func upsertMe(users UserService) echo.HandlerFunc {
	return func(c echo.Context) error {
		var body userRequest
		if err := decodeBody(c, &body); err != nil {
			return err
		}
		id := identityFrom(c)
		if body.FullName == "" && id.Name != unknownUserName {
			body.FullName = id.Name
		}
		if body.Email == "" {
			body.Email = id.Email
		}
		u, err := users.Upsert(c.Request().Context(), id.UserID, body.Email, body.FullName)
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newUserResponse(u))
	}
}

func getUser(users UserService) echo.HandlerFunc {
	return func(c echo.Context) error {
		u, err := users.Get(c.Request().Context(), c.Param("id"))
		if err != nil {
			return err
		}
		return c.JSON(http.StatusOK, newUserResponse(u))
	}
}

func listUsers(users UserService) echo.HandlerFunc {
	return func(c echo.Context) error {
		list, err := users.List(c.Request().Context())
		if err != nil {
			return err
		}
		out := make([]userResponse, 0, len(list))
		for _, u := range list {
			out = append(out, newUserResponse(u))
		}
		return c.JSON(http.StatusOK, out)
	}
}

func deleteUser(users UserService) echo.HandlerFunc {
	return func(c echo.Context) error {
		if err := users.Delete(c.Request().Context(), actorFrom(c), c.Param("id")); err != nil {
			return err
		}
		return c.NoContent(http.StatusNoContent)
	}
}

type healthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func healthz(checks map[string]HealthChecker) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx, cancel := context.WithTimeout(c.Request().Context(), healthTimeout)
		defer cancel()

		resp := healthResponse{Status: "ok"}
		for name, hc := range checks {
			if err := hc.Ping(ctx); err != nil {
				if resp.Checks == nil {
					resp.Checks = make(map[string]string)
				}
				resp.Checks[name] = err.Error()
				resp.Status = "unhealthy"
			}
		}
		if resp.Status != "ok" {
			return c.JSON(http.StatusServiceUnavailable, resp)
		}
		return c.JSON(http.StatusOK, resp)
	}
}
