package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/service"
)

type createBookingRequest struct {
	WorkerID    int64     `json:"worker_id" validate:"required,gt=0"`
	StartTime   time.Time `json:"start_time" validate:"required"`
	EndTime     time.Time `json:"end_time" validate:"required,gtfield=StartTime"`
	CustomerID  int64     `json:"customer_id" validate:"required_if=RequestedBy customer,omitempty,gt=0"`
	JobID       *int64    `json:"job_id" validate:"omitempty,gt=0"`
	RequestedBy string    `json:"requested_by" validate:"required,oneof=customer staff"`
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := h.readJSON(r, &req); err != nil {
		h.badRequest(w, r, err)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.badRequest(w, r, err)
		return
	}

	slot := model.CandidateSlot{
		WorkerID:        req.WorkerID,
		StartTime:       req.StartTime,
		EndTime:         req.EndTime,
		DurationMinutes: int(req.EndTime.Sub(req.StartTime) / time.Minute),
	}
	requester := service.Requester{
		Kind:       model.RequesterKind(req.RequestedBy),
		CustomerID: req.CustomerID,
		JobID:      req.JobID,
	}

	c, err := h.bookings.CreateBooking(r.Context(), orgIDFrom(r), slot, requester)
	if err != nil {
		h.bookingError(w, r, err)
		return
	}

	msg := "booking confirmed"
	if c.ApprovalState == model.ApprovalStatePending {
		msg = "booking is waiting for approval"
	}
	h.writeJSON(w, r, http.StatusCreated, Response{Success: true, Message: msg, Data: c})
}

func (h *Handler) GetPendingBookings(w http.ResponseWriter, r *http.Request) {
	list, err := h.bookings.PendingBookings(r.Context(), orgIDFrom(r))
	if err != nil {
		h.internalServerError(w, r, err)
		return
	}
	if list == nil {
		list = []*model.Commitment{}
	}

	h.successResponse(w, r, "pending bookings", list)
}

func (h *Handler) ApproveBooking(w http.ResponseWriter, r *http.Request) {
	c, err := h.bookings.ApproveBooking(r.Context(), orgIDFrom(r), bookingIDFrom(r))
	if err != nil {
		h.bookingError(w, r, err)
		return
	}
	h.successResponse(w, r, "booking approved", c)
}

func (h *Handler) RejectBooking(w http.ResponseWriter, r *http.Request) {
	c, err := h.bookings.RejectBooking(r.Context(), orgIDFrom(r), bookingIDFrom(r))
	if err != nil {
		h.bookingError(w, r, err)
		return
	}
	h.successResponse(w, r, "booking rejected", c)
}

func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	c, err := h.bookings.CancelBooking(r.Context(), orgIDFrom(r), bookingIDFrom(r))
	if err != nil {
		h.bookingError(w, r, err)
		return
	}
	h.successResponse(w, r, "booking cancelled", c)
}

func (h *Handler) bookingError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, availability.ErrValidation),
		errors.Is(err, service.ErrInvalidRequester):
		h.badRequest(w, r, err)
	case errors.Is(err, service.ErrSelfSchedulingDisabled):
		h.errorResponse(w, r, http.StatusForbidden, err.Error())
	case errors.Is(err, service.ErrBookingNotFound):
		h.notFound(w, r, err.Error())
	case errors.Is(err, service.ErrSlotTaken),
		errors.Is(err, availability.ErrCapacityExceeded),
		errors.Is(err, service.ErrBookingInProgress),
		errors.Is(err, service.ErrInvalidTransition):
		h.conflict(w, r, err.Error())
	default:
		h.internalServerError(w, r, err)
	}
}
