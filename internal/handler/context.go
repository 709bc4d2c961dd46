package handler

type ContextKey string

var (
	OrgIDCtxKey     ContextKey = "orgID"
	WorkerIDCtxKey  ContextKey = "workerID"
	BookingIDCtxKey ContextKey = "bookingID"
)
