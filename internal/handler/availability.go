package handler

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"go.uber.org/zap"
)

const (
	noAvailabilityMessage = "No availability, please contact us"
	maxPolicyDocumentSize = 64 << 10
)

type policyView struct {
	BufferBeforeMinutes           int    `json:"buffer_before_minutes"`
	BufferAfterMinutes            int    `json:"buffer_after_minutes"`
	BusinessHoursStart            string `json:"business_hours_start"`
	BusinessHoursEnd              string `json:"business_hours_end"`
	WorkingDays                   []int  `json:"working_days"`
	MinAdvanceBookingHours        int    `json:"min_advance_booking_hours"`
	MaxAdvanceBookingDays         int    `json:"max_advance_booking_days"`
	EnableCustomerSelfScheduling  bool   `json:"enable_customer_self_scheduling"`
	AutoApproveCustomerSelections bool   `json:"auto_approve_customer_selections"`
}

func newPolicyView(p model.SchedulingPolicy) policyView {
	days := make([]int, 0, len(p.WorkingDays))
	for d, on := range p.WorkingDays {
		if on {
			days = append(days, int(d))
		}
	}
	sort.Ints(days)

	return policyView{
		BufferBeforeMinutes:           p.BufferBeforeMinutes,
		BufferAfterMinutes:            p.BufferAfterMinutes,
		BusinessHoursStart:            p.BusinessHoursStart.String(),
		BusinessHoursEnd:              p.BusinessHoursEnd.String(),
		WorkingDays:                   days,
		MinAdvanceBookingHours:        p.MinAdvanceBookingHours,
		MaxAdvanceBookingDays:         p.MaxAdvanceBookingDays,
		EnableCustomerSelfScheduling:  p.EnableCustomerSelfScheduling,
		AutoApproveCustomerSelections: p.AutoApproveCustomerSelections,
	}
}

func (h *Handler) GetPolicy(w http.ResponseWriter, r *http.Request) {
	policy := h.engine.ResolvePolicy(r.Context(), orgIDFrom(r))
	h.successResponse(w, r, "scheduling policy", newPolicyView(policy))
}

// UpdatePolicy stores the raw settings document. Fields that cannot be used
// are reported back; they fall back to defaults when the policy is resolved.
func (h *Handler) UpdatePolicy(w http.ResponseWriter, r *http.Request) {
	raw, err := io.ReadAll(io.LimitReader(r.Body, maxPolicyDocumentSize))
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	parsed, parseErr := availability.ParsePolicy(raw)
	if parseErr != nil && errors.Is(parseErr, availability.ErrInvalidDocument) {
		h.badRequest(w, r, parseErr)
		return
	}

	if err := h.policies.SavePolicy(r.Context(), orgIDFrom(r), raw); err != nil {
		h.internalServerError(w, r, err)
		return
	}

	msg := "scheduling policy saved"
	if parseErr != nil {
		msg = fmt.Sprintf("scheduling policy saved, defaults used for: %v", parseErr)
	}
	h.successResponse(w, r, msg, newPolicyView(parsed))
}

// searchParams reads duration and the optional from/to range of a slot search
func searchParams(r *http.Request) (duration int, from, to *time.Time, err error) {
	q := r.URL.Query()

	duration, err = strconv.Atoi(q.Get("duration"))
	if err != nil {
		return 0, nil, nil, fmt.Errorf("duration must be a number of minutes")
	}

	for name, dst := range map[string]**time.Time{"from": &from, "to": &to} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return 0, nil, nil, fmt.Errorf("%s must be an RFC 3339 timestamp", name)
		}
		*dst = &t
	}

	return duration, from, to, nil
}

func (h *Handler) GetWorkerSlots(w http.ResponseWriter, r *http.Request) {
	duration, from, to, err := searchParams(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	start := time.Now()
	if from != nil {
		start = *from
	}
	end := start.Add(availability.DefaultSuggestionHorizon)
	if to != nil {
		end = *to
	}

	res, err := h.engine.FindAvailableSlots(r.Context(), orgIDFrom(r), workerIDFrom(r), duration, start, end, nil)
	if err != nil {
		if errors.Is(err, availability.ErrValidation) {
			h.badRequest(w, r, err)
			return
		}
		h.internalServerError(w, r, err)
		return
	}

	msg := "available slots"
	if res.Count == 0 {
		msg = noAvailabilityMessage
	}
	h.successResponse(w, r, msg, res)
}

func parseWorkerIDs(v string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("workers must be a comma separated list of ids")
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// GetSuggestions serves the customer booking page. Invalid input is
// reported, but a backend failure never breaks the page: it yields an empty
// suggestion set.
func (h *Handler) GetSuggestions(w http.ResponseWriter, r *http.Request) {
	duration, from, to, err := searchParams(r)
	if err != nil {
		h.badRequest(w, r, err)
		return
	}
	workerIDs, err := parseWorkerIDs(r.URL.Query().Get("workers"))
	if err != nil {
		h.badRequest(w, r, err)
		return
	}

	orgID := orgIDFrom(r)
	res, err := h.suggest(r, availability.SuggestionRequest{
		OrgID:           orgID,
		WorkerIDs:       workerIDs,
		DurationMinutes: duration,
		From:            from,
		To:              to,
	})
	if err != nil {
		if errors.Is(err, availability.ErrValidation) {
			h.badRequest(w, r, err)
			return
		}
		h.logger.Error("Suggestion search failed, returning empty set", zap.Int64("org_id", orgID), zap.Error(err))
		res = &availability.Suggestions{PerWorker: map[int64]*availability.WorkerAvailability{}}
	}

	if res.Empty() {
		h.successResponse(w, r, noAvailabilityMessage, res)
		return
	}
	h.successResponse(w, r, "suggested slots", res)
}

func (h *Handler) suggest(r *http.Request, req availability.SuggestionRequest) (res *availability.Suggestions, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic in suggestion search: %v", p)
		}
	}()
	return h.engine.GetSuggestions(r.Context(), req)
}

type rescheduleRequest struct {
	EventID  string    `json:"event_id" validate:"required"`
	NewStart time.Time `json:"new_start" validate:"required"`
	NewEnd   time.Time `json:"new_end" validate:"required,gtfield=NewStart"`
}

func (h *Handler) CheckReschedule(w http.ResponseWriter, r *http.Request) {
	var req rescheduleRequest
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	check, err := h.engine.CheckReschedule(r.Context(), orgIDFrom(r), workerIDFrom(r), req.EventID, req.NewStart, req.NewEnd)
	if err != nil {
		if errors.Is(err, availability.ErrValidation) {
			h.badRequest(w, r, err)
			return
		}
		h.internalServerError(w, r, err)
		return
	}

	msg := "move allowed"
	if !check.Allowed {
		msg = "move conflicts with existing work"
	}
	h.successResponse(w, r, msg, check)
}
