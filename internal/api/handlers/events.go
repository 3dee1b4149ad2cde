package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/Togather-Foundation/catalog/internal/api/problem"
	"github.com/Togather-Foundation/catalog/internal/domain/events"
)

// EventReader is the read side consumed by the listing UI.
type EventReader interface {
	List(ctx context.Context, filters events.Filters, pagination events.Pagination) (events.ListResult, error)
	GetByULID(ctx context.Context, ulid string) (*events.EventDetail, error)
}

var _ EventReader = (*events.Service)(nil)

type EventsHandler struct {
	Service EventReader
	Env     string
}

func NewEventsHandler(service EventReader, env string) *EventsHandler {
	return &EventsHandler{Service: service, Env: env}
}

type eventView struct {
	ID           string `json:"id"`
	Site         string `json:"site"`
	Title        string `json:"title"`
	Organization string `json:"organization,omitempty"`
	Description  string `json:"description,omitempty"`
	DateStart    string `json:"date_start"`
	DateEnd      string `json:"date_end"`
	Address      string `json:"address,omitempty"`
	Venue        string `json:"venue,omitempty"`
	Image        string `json:"image,omitempty"`
	UpdatedAt    string `json:"updated_at,omitempty"`
}

type scheduleView struct {
	Date         string  `json:"date"`
	TimeStart    string  `json:"time_start"`
	TimeEnd      *string `json:"time_end"`
	SpecialNotes string  `json:"special_notes,omitempty"`
	Status       string  `json:"status,omitempty"`
}

type priceView struct {
	Tier         string `json:"price_tier"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	DiscountInfo string `json:"discount_info,omitempty"`
}

type linkView struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

type eventDetailView struct {
	eventView
	Schedules  []scheduleView `json:"schedules"`
	Prices     []priceView    `json:"prices"`
	Links      []linkView     `json:"links"`
	Categories []string       `json:"categories"`
	Tags       []string       `json:"tags"`
}

type listResponse struct {
	Items  []eventView `json:"items"`
	Total  int         `json:"total"`
	Limit  int         `json:"limit"`
	Offset int         `json:"offset"`
}

func (h *EventsHandler) List(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Server error", nil, "")
		return
	}

	filters, pagination, err := events.ParseFilters(r.URL.Query())
	if err != nil {
		problem.Write(w, r, http.StatusBadRequest, "Invalid request", err, h.Env, filterDetail(err))
		return
	}

	result, err := h.Service.List(r.Context(), filters, pagination)
	if err != nil {
		problem.Write(w, r, http.StatusInternalServerError, "Server error", err, h.Env)
		return
	}

	items := make([]eventView, 0, len(result.Events))
	for _, event := range result.Events {
		items = append(items, toEventView(event))
	}
	writeJSON(w, http.StatusOK, listResponse{
		Items:  items,
		Total:  result.Total,
		Limit:  pagination.Limit,
		Offset: pagination.Offset,
	})
}

func (h *EventsHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h == nil || h.Service == nil {
		problem.Write(w, r, http.StatusInternalServerError, "Server error", nil, "")
		return
	}

	id := strings.TrimSpace(pathParam(r, "id"))
	item, err := h.Service.GetByULID(r.Context(), id)
	if err != nil {
		var filterErr events.FilterError
		switch {
		case errors.As(err, &filterErr):
			problem.Write(w, r, http.StatusBadRequest, "Invalid request", err, h.Env, filterDetail(err))
		case errors.Is(err, events.ErrNotFound):
			problem.Write(w, r, http.StatusNotFound, "Not found", nil, h.Env)
		default:
			problem.Write(w, r, http.StatusInternalServerError, "Server error", err, h.Env)
		}
		return
	}

	writeJSON(w, http.StatusOK, toEventDetailView(item))
}

func filterDetail(err error) problem.Option {
	var filterErr events.FilterError
	if errors.As(err, &filterErr) && filterErr.Field != "" {
		return problem.WithDetail(filterErr.Field, filterErr.Message)
	}
	return problem.WithDetails(nil)
}

func toEventView(e events.Event) eventView {
	view := eventView{
		ID:           e.ULID,
		Site:         e.Site,
		Title:        e.Title,
		Organization: e.Organization,
		Description:  e.Description,
		DateStart:    formatDate(e.DateStart),
		DateEnd:      formatDate(e.DateEnd),
		Address:      e.Address,
		Venue:        e.VenueName,
		Image:        e.ImageURL,
	}
	if !e.UpdatedAt.IsZero() {
		view.UpdatedAt = e.UpdatedAt.UTC().Format(time.RFC3339)
	}
	return view
}

func toEventDetailView(d *events.EventDetail) eventDetailView {
	view := eventDetailView{
		eventView:  toEventView(d.Event),
		Schedules:  make([]scheduleView, 0, len(d.Schedules)),
		Prices:     make([]priceView, 0, len(d.Prices)),
		Links:      make([]linkView, 0, len(d.Links)),
		Categories: nonNil(d.Categories),
		Tags:       nonNil(d.Tags),
	}
	for _, s := range d.Schedules {
		view.Schedules = append(view.Schedules, scheduleView{
			Date:         formatDate(s.Date),
			TimeStart:    s.TimeStart,
			TimeEnd:      s.TimeEnd,
			SpecialNotes: s.SpecialNotes,
			Status:       s.Status,
		})
	}
	for _, p := range d.Prices {
		view.Prices = append(view.Prices, priceView{
			Tier:         p.Tier,
			Amount:       p.Amount,
			Currency:     p.Currency,
			DiscountInfo: p.DiscountInfo,
		})
	}
	for _, l := range d.Links {
		view.Links = append(view.Links, linkView{URL: l.URL, Type: l.Type})
	}
	return view
}

func formatDate(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.DateOnly)
}

func nonNil(values []string) []string {
	if values == nil {
		return []string{}
	}
	return values
}
