package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Engine answers availability questions.
type Engine interface {
	ResolvePolicy(ctx context.Context, orgID int64) model.SchedulingPolicy
	FindAvailableSlots(ctx context.Context, orgID, workerID int64, durationMinutes int, from, to time.Time, policy *model.SchedulingPolicy) (*availability.WorkerAvailability, error)
	GetSuggestions(ctx context.Context, req availability.SuggestionRequest) (*availability.Suggestions, error)
	CheckReschedule(ctx context.Context, orgID, workerID int64, eventID string, newStart, newEnd time.Time) (*availability.RescheduleCheck, error)
}

// Bookings runs the booking workflow.
type Bookings interface {
	CreateBooking(ctx context.Context, orgID int64, slot model.CandidateSlot, req service.Requester) (*model.Commitment, error)
	PendingBookings(ctx context.Context, orgID int64) ([]*model.Commitment, error)
	ApproveBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error)
	RejectBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error)
	CancelBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error)
}

// PolicyWriter stores the scheduling settings document of an organization.
type PolicyWriter interface {
	SavePolicy(ctx context.Context, orgID int64, raw []byte) error
}

type Handler struct {
	validate   *validator.Validate
	translator ut.Translator
	engine     Engine
	bookings   Bookings
	policies   PolicyWriter
	metrics    http.Handler
	logger     *zap.Logger

	Mux *chi.Mux
}

// NewHandler builds the HTTP API. policies and metrics may be nil, which
// disables the settings update and /metrics routes.
func NewHandler(engine Engine, bookings Bookings, policies PolicyWriter, metrics http.Handler, logger *zap.Logger) (*Handler, error) {
	validate := validator.New(validator.WithRequiredStructEnabled())
	english := en.New()
	uni := ut.New(english, english)
	trans, _ := uni.GetTranslator("en")
	if err := en_translations.RegisterDefaultTranslations(validate, trans); err != nil {
		return nil, err
	}

	return &Handler{
		validate:   validate,
		translator: trans,
		engine:     engine,
		bookings:   bookings,
		policies:   policies,
		metrics:    metrics,
		logger:     logger,

		Mux: chi.NewRouter(),
	}, nil
}

func (h *Handler) RegisterRoutes() {
	h.Mux.Use(h.requestLogger)
	h.Mux.Use(h.recoverer)

	if h.metrics != nil {
		h.Mux.Method(http.MethodGet, "/metrics", h.metrics)
	}

	h.Mux.Route("/orgs/{orgID}", func(r chi.Router) {
		r.Use(h.organization)

		r.Get("/policy", h.GetPolicy)
		if h.policies != nil {
			r.Put("/policy", h.UpdatePolicy)
		}

		r.Get("/suggestions", h.GetSuggestions)

		r.Route("/workers/{workerID}", func(r chi.Router) {
			r.Use(h.worker)
			r.Get("/slots", h.GetWorkerSlots)
			r.Post("/reschedule-check", h.CheckReschedule)
		})

		r.Route("/bookings", func(r chi.Router) {
			r.Post("/", h.CreateBooking)
			r.Get("/pending", h.GetPendingBookings)
			r.Route("/{bookingID}", func(r chi.Router) {
				r.Use(h.booking)
				r.Post("/approve", h.ApproveBooking)
				r.Post("/reject", h.RejectBooking)
				r.Post("/cancel", h.CancelBooking)
			})
		})
	})
}
