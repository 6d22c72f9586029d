package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hearsay-ai/callwire/pkg/bridge/config"
	"github.com/hearsay-ai/callwire/pkg/bridge/store"
)

var validDays = map[string]struct{}{
	"monday":    {},
	"tuesday":   {},
	"wednesday": {},
	"thursday":  {},
	"friday":    {},
	"saturday":  {},
	"sunday":    {},
}

// SchedulesHandler manages recurring check-in call schedules.
type SchedulesHandler struct {
	Config config.Config
	Store  store.Store
	Logger *slog.Logger
}

type createScheduleRequest struct {
	PhoneNumber string   `json:"phone_number"`
	DaysOfWeek  []string `json:"days_of_week"`
	TimeOfDay   string   `json:"time_of_day"`
	Timezone    string   `json:"timezone"`
}

type scheduleResponse struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	DaysOfWeek []string  `json:"days_of_week"`
	TimeOfDay  string    `json:"time_of_day"`
	Timezone   string    `json:"timezone"`
	Active     bool      `json:"active"`
	CreatedAt  time.Time `json:"created_at"`
}

func (h SchedulesHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		h.create(w, r)
	case http.MethodGet:
		h.list(w, r)
	default:
		writeJSONError(w, r, http.StatusMethodNotAllowed, errTypeInvalidRequest, "method not allowed")
	}
}

func (h SchedulesHandler) create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.Config.MaxBodyBytes)
	var req createScheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "invalid JSON body")
		return
	}

	if strings.TrimSpace(req.PhoneNumber) == "" {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "phone_number is required")
		return
	}
	if len(req.DaysOfWeek) == 0 {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "days_of_week must not be empty")
		return
	}
	days := make([]string, 0, len(req.DaysOfWeek))
	for _, d := range req.DaysOfWeek {
		day := strings.ToLower(strings.TrimSpace(d))
		if _, ok := validDays[day]; !ok {
			writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "invalid day of week: "+d)
			return
		}
		days = append(days, day)
	}
	if _, err := time.Parse("15:04", strings.TrimSpace(req.TimeOfDay)); err != nil {
		writeJSONError(w, r, http.StatusBadRequest, errTypeInvalidRequest, "time_of_day must be HH:MM")
		return
	}
	tz := strings.TrimSpace(req.Timezone)
	if tz == "" {
		tz = "UTC"
	}

	ctx := r.Context()
	user, err := h.Store.EnsureUser(ctx, req.PhoneNumber)
	if err != nil {
		h.Logger.Error("ensure user", "error", err)
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to create schedule")
		return
	}

	s, err := h.Store.CreateSchedule(ctx, store.Schedule{
		UserID:     user.ID,
		DaysOfWeek: days,
		TimeOfDay:  strings.TrimSpace(req.TimeOfDay),
		Timezone:   tz,
		Active:     true,
	})
	if err != nil {
		h.Logger.Error("create schedule", "user_id", user.ID, "error", err)
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to create schedule")
		return
	}

	h.Logger.Info("schedule created", "schedule_id", s.ID, "user_id", user.ID)
	writeJSON(w, http.StatusCreated, toScheduleResponse(s))
}

func (h SchedulesHandler) list(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.Store.ActiveSchedules(r.Context())
	if err != nil {
		h.Logger.Error("list schedules", "error", err)
		writeJSONError(w, r, http.StatusInternalServerError, errTypeAPI, "failed to list schedules")
		return
	}

	out := make([]scheduleResponse, 0, len(schedules))
	for _, s := range schedules {
		out = append(out, toScheduleResponse(s))
	}
	writeJSON(w, http.StatusOK, map[string]any{"schedules": out})
}

func toScheduleResponse(s store.Schedule) scheduleResponse {
	return scheduleResponse{
		ID:         s.ID,
		UserID:     s.UserID,
		DaysOfWeek: s.DaysOfWeek,
		TimeOfDay:  s.TimeOfDay,
		Timezone:   s.Timezone,
		Active:     s.Active,
		CreatedAt:  s.CreatedAt,
	}
}
