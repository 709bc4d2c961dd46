package handler

import (
	"context"
	"fmt"
	"net/http"
	"runtime/debug"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

type ResponseWriter struct {
	http.ResponseWriter
	StatusCode int
}

func (rw *ResponseWriter) WriteHeader(statusCode int) {
	rw.StatusCode = statusCode
	rw.ResponseWriter.WriteHeader(statusCode)
}

func (h *Handler) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &ResponseWriter{ResponseWriter: w, StatusCode: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("Request handled",
			zap.Int("status", rw.StatusCode),
			zap.String("ip", r.RemoteAddr),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				h.logger.Error("Panic while handling request", zap.ByteString("stack", debug.Stack()))
				h.internalServerError(w, r, fmt.Errorf("panic: %v", err))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func positiveIDParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid %s", name)
	}
	return id, nil
}

func (h *Handler) organization(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID, err := positiveIDParam(r, "orgID")
		if err != nil {
			h.badRequest(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), OrgIDCtxKey, orgID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) worker(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		workerID, err := positiveIDParam(r, "workerID")
		if err != nil {
			h.badRequest(w, r, err)
			return
		}

		ctx := context.WithValue(r.Context(), WorkerIDCtxKey, workerID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (h *Handler) booking(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "bookingID"))
		if err != nil {
			h.badRequest(w, r, fmt.Errorf("invalid bookingID"))
			return
		}

		ctx := context.WithValue(r.Context(), BookingIDCtxKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func orgIDFrom(r *http.Request) int64 {
	return r.Context().Value(OrgIDCtxKey).(int64)
}

func workerIDFrom(r *http.Request) int64 {
	return r.Context().Value(WorkerIDCtxKey).(int64)
}

func bookingIDFrom(r *http.Request) uuid.UUID {
	return r.Context().Value(BookingIDCtxKey).(uuid.UUID)
}
