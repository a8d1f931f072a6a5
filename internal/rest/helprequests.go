package rest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/co-de-er123/CrowdAid/internal/domain"
)

type CreateHelpRequestInput struct {
	Title       string          `json:"title"`
	Description string          `json:"description"`
	Category    string          `json:"category"`
	Priority    string          `json:"priority"`
	Location    domain.GeoPoint `json:"location"`
}

// UpdateHelpRequestInput carries a partial update; nil fields are left
// untouched by the server.
type UpdateHelpRequestInput struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Category    *string          `json:"category,omitempty"`
	Priority    *string          `json:"priority,omitempty"`
	Location    *domain.GeoPoint `json:"location,omitempty"`
	Status      *string          `json:"status,omitempty"`
	VolunteerID *int64           `json:"volunteerId,omitempty"`
}

type HelpRequestFilter struct {
	Statuses   []string
	Priorities []string
	Categories []string
	Page       int
	Limit      int
	SortBy     string
	SortOrder  string
}

func (f HelpRequestFilter) query() url.Values {
	q := url.Values{}
	for _, s := range f.Statuses {
		q.Add("status", s)
	}
	for _, p := range f.Priorities {
		q.Add("priority", p)
	}
	for _, c := range f.Categories {
		q.Add("category", c)
	}
	if f.Page > 0 {
		q.Set("page", strconv.Itoa(f.Page))
	}
	if f.Limit > 0 {
		q.Set("limit", strconv.Itoa(f.Limit))
	}
	if f.SortBy != "" {
		q.Set("sortBy", f.SortBy)
	}
	if f.SortOrder != "" {
		q.Set("sortOrder", f.SortOrder)
	}
	return q
}

// HelpRequestPage is one page of a filtered listing.
type HelpRequestPage struct {
	Items      []domain.HelpRequest `json:"items"`
	Total      int                  `json:"total"`
	Page       int                  `json:"page"`
	Limit      int                  `json:"limit"`
	TotalPages int                  `json:"totalPages"`
}

// ListHelpRequests fetches a filtered, paginated listing.
func (c *Client) ListHelpRequests(ctx context.Context, filter HelpRequestFilter) (*HelpRequestPage, error) {
	var page HelpRequestPage
	if err := c.do(ctx, http.MethodGet, "/help-requests", filter.query(), nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// AssignedHelpRequests fetches the requests the current user has volunteered
// for.
func (c *Client) AssignedHelpRequests(ctx context.Context) ([]domain.HelpRequest, error) {
	var reqs []domain.HelpRequest
	if err := c.do(ctx, http.MethodGet, "/help-requests/assigned", nil, nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// MyHelpRequests fetches the requests created by the current user.
func (c *Client) MyHelpRequests(ctx context.Context) ([]domain.HelpRequest, error) {
	var reqs []domain.HelpRequest
	if err := c.do(ctx, http.MethodGet, "/help-requests/me", nil, nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// NearbyHelpRequests fetches open requests within distanceKm of a point.
func (c *Client) NearbyHelpRequests(ctx context.Context, latitude, longitude, distanceKm float64) ([]domain.HelpRequest, error) {
	q := url.Values{}
	q.Set("latitude", strconv.FormatFloat(latitude, 'f', -1, 64))
	q.Set("longitude", strconv.FormatFloat(longitude, 'f', -1, 64))
	q.Set("distance", strconv.FormatFloat(distanceKm, 'f', -1, 64))

	var reqs []domain.HelpRequest
	if err := c.do(ctx, http.MethodGet, "/help-requests/nearby", q, nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// GetHelpRequest fetches a single request by id.
func (c *Client) GetHelpRequest(ctx context.Context, id int64) (*domain.HelpRequest, error) {
	var req domain.HelpRequest
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/help-requests/%d", id), nil, nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// CreateHelpRequest creates a new request.
func (c *Client) CreateHelpRequest(ctx context.Context, in CreateHelpRequestInput) (*domain.HelpRequest, error) {
	var req domain.HelpRequest
	if err := c.do(ctx, http.MethodPost, "/help-requests", nil, in, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// UpdateHelpRequest applies a partial update.
func (c *Client) UpdateHelpRequest(ctx context.Context, id int64, in UpdateHelpRequestInput) (*domain.HelpRequest, error) {
	var req domain.HelpRequest
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/help-requests/%d", id), nil, in, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// DeleteHelpRequest removes a request owned by the current user.
func (c *Client) DeleteHelpRequest(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/help-requests/%d", id), nil, nil, nil)
}

// Volunteer signs the current user up for a request.
func (c *Client) Volunteer(ctx context.Context, id int64) (*domain.HelpRequest, error) {
	var req domain.HelpRequest
	if err := c.do(ctx, http.MethodPost, fmt.Sprintf("/help-requests/%d/volunteer", id), nil, nil, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// Unvolunteer withdraws the current user from a request.
func (c *Client) Unvolunteer(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/help-requests/%d/volunteer", id), nil, nil, nil)
}

type statusUpdate struct {
	Status string `json:"status"`
}

// UpdateHelpRequestStatus moves a request through its lifecycle.
func (c *Client) UpdateHelpRequestStatus(ctx context.Context, id int64, status string) (*domain.HelpRequest, error) {
	var req domain.HelpRequest
	if err := c.do(ctx, http.MethodPatch, fmt.Sprintf("/help-requests/%d/status", id), nil, statusUpdate{Status: status}, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

type CategoryCount struct {
	Category string `json:"category"`
	Count    int    `json:"count"`
}

type StatusCount struct {
	Status string `json:"status"`
	Count  int    `json:"count"`
}

// HelpRequestStatistics aggregates request volume for the dashboard.
type HelpRequestStatistics struct {
	TotalRequests       int             `json:"totalRequests"`
	CompletedRequests   int             `json:"completedRequests"`
	InProgressRequests  int             `json:"inProgressRequests"`
	PendingRequests     int             `json:"pendingRequests"`
	AverageResponseTime float64         `json:"averageResponseTime"` // minutes
	RequestsByCategory  []CategoryCount `json:"requestsByCategory"`
	RequestsByStatus    []StatusCount   `json:"requestsByStatus"`
}

// Statistics fetches aggregate help request counts.
func (c *Client) Statistics(ctx context.Context) (*HelpRequestStatistics, error) {
	var stats HelpRequestStatistics
	if err := c.do(ctx, http.MethodGet, "/help-requests/statistics", nil, nil, &stats); err != nil {
		return nil, err
	}
	return &stats, nil
}

// FileUpload describes a stored attachment.
type FileUpload struct {
	URL  string `json:"url"`
	Key  string `json:"key"`
	Name string `json:"name"`
	Size int64  `json:"size"`
	Type string `json:"type"`
}

// UploadFile attaches a single file to a request.
func (c *Client) UploadFile(ctx context.Context, id int64, path string) (*FileUpload, error) {
	var up FileUpload
	if err := c.upload(ctx, fmt.Sprintf("/help-requests/%d/upload", id), "file", []string{path}, &up); err != nil {
		return nil, err
	}
	return &up, nil
}

// UploadImages attaches images to a request and returns the updated request.
func (c *Client) UploadImages(ctx context.Context, id int64, paths []string) (*domain.HelpRequest, error) {
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: at least one image is required", domain.ErrInvalidInput)
	}
	var req domain.HelpRequest
	if err := c.upload(ctx, fmt.Sprintf("/help-requests/%d/images", id), "images", paths, &req); err != nil {
		return nil, err
	}
	return &req, nil
}
