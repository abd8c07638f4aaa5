// Package query implements task filtering, search and pagination shared by
// every store.
package query

import (
	"math"
	"sort"
	"strings"

	"taskhub/domain"
)

const (
	DefaultPageSize = 10
	MaxPageSize     = 50
)

// Filter narrows a task listing. Zero values mean "no constraint"; all set
// constraints must hold.
type Filter struct {
	Status     *domain.Status
	ProjectID  string
	AssigneeID string
	Search     string
}

// Request is a normalized task query.
type Request struct {
	Filter
	Page     int
	PageSize int
}

// Result is one page of matches plus the total count over the whole filter.
type Result struct {
	Items      []domain.TaskRecord
	TotalCount int
	Page       int
	PageSize   int
}

// New validates the raw status and normalizes paging. An unparseable status
// rejects the whole request.
func New(status, projectID, assigneeID, search string, page, pageSize int) (Request, error) {
	req := Request{
		Filter: Filter{
			ProjectID:  strings.TrimSpace(projectID),
			AssigneeID: strings.TrimSpace(assigneeID),
			Search:     search,
		},
	}
	if strings.TrimSpace(status) != "" {
		st, err := domain.ParseStatus(status)
		if err != nil {
			return Request{}, err
		}
		req.Status = &st
	}
	req.Page, req.PageSize = NormalizePage(page, pageSize)
	return req, nil
}

// NormalizePage clamps page to at least 1 and pageSize to at most
// MaxPageSize. A page size below 1 falls back to DefaultPageSize, not 1.
func NormalizePage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case pageSize > MaxPageSize:
		pageSize = MaxPageSize
	case pageSize < 1:
		pageSize = DefaultPageSize
	}
	return page, pageSize
}

// Normalized returns r with paging clamped, for requests built by hand.
func (r Request) Normalized() Request {
	r.Page, r.PageSize = NormalizePage(r.Page, r.PageSize)
	return r
}

// Offset is the number of matches skipped before this page. It saturates at
// math.MaxInt for pages too far out to address.
func (r Request) Offset() int {
	if r.Page < 1 || r.PageSize < 1 {
		return 0
	}
	if r.Page-1 > math.MaxInt/r.PageSize {
		return math.MaxInt
	}
	return (r.Page - 1) * r.PageSize
}

// SearchTerm returns the lowercased search term, or "" when the term is blank.
func (f Filter) SearchTerm() string {
	if strings.TrimSpace(f.Search) == "" {
		return ""
	}
	return strings.ToLower(f.Search)
}

// Matches reports whether t satisfies every constraint of f.
func (f Filter) Matches(t domain.TaskRecord) bool {
	if f.Status != nil && t.Status != *f.Status {
		return false
	}
	if f.ProjectID != "" && t.ProjectID != f.ProjectID {
		return false
	}
	if f.AssigneeID != "" && (t.AssignedToUserID == nil || *t.AssignedToUserID != f.AssigneeID) {
		return false
	}
	if term := f.SearchTerm(); term != "" {
		if strings.Contains(strings.ToLower(t.Title), term) {
			return true
		}
		return t.Description != nil && strings.Contains(strings.ToLower(*t.Description), term)
	}
	return true
}

// Apply runs r against an in-memory task set: filter, newest first, page.
// tasks is not modified.
func Apply(tasks []domain.TaskRecord, r Request) Result {
	r = r.Normalized()
	matched := make([]domain.TaskRecord, 0, len(tasks))
	for _, t := range tasks {
		if r.Matches(t) {
			matched = append(matched, t)
		}
	}
	SortNewestFirst(matched)
	return Paginate(matched, r)
}

// SortNewestFirst orders tasks by creation time, most recent first.
func SortNewestFirst(tasks []domain.TaskRecord) {
	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].CreatedAt.After(tasks[j].CreatedAt)
	})
}

// Paginate cuts one page out of already filtered and sorted matches.
func Paginate(matched []domain.TaskRecord, r Request) Result {
	res := Result{TotalCount: len(matched), Page: r.Page, PageSize: r.PageSize, Items: []domain.TaskRecord{}}
	start := r.Offset()
	if start < 0 || start >= len(matched) {
		return res
	}
	end := start + r.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	res.Items = append(res.Items, matched[start:end]...)
	return res
}

// TotalPages is the number of pages needed for TotalCount.
func (r Result) TotalPages() int {
	if r.PageSize <= 0 {
		return 0
	}
	return (r.TotalCount + r.PageSize - 1) / r.PageSize
}

func (r Result) HasNextPage() bool     { return r.Page < r.TotalPages() }
func (r Result) HasPreviousPage() bool { return r.Page > 1 }
