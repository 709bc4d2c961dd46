package availability

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"go.uber.org/zap"
)

// Defaults applied to every field that is missing or malformed in the stored
// organization settings.
const (
	DefaultBufferMinutes          = 30
	DefaultMinAdvanceBookingHours = 1
	DefaultMaxAdvanceBookingDays  = 30
	DefaultDailyCapacityMinutes   = 480
)

var (
	DefaultBusinessHoursStart = model.NewTimeOfDay(7, 30)
	DefaultBusinessHoursEnd   = model.NewTimeOfDay(17, 0)
)

// PolicyStore returns the raw stored settings document of an organization,
// or nil when the organization has never saved any.
type PolicyStore interface {
	GetPolicy(ctx context.Context, orgID int64) ([]byte, error)
}

// DefaultPolicy returns a fully populated policy with the fixed defaults.
func DefaultPolicy() model.SchedulingPolicy {
	return model.SchedulingPolicy{
		BufferBeforeMinutes:           DefaultBufferMinutes,
		BufferAfterMinutes:            DefaultBufferMinutes,
		BusinessHoursStart:            DefaultBusinessHoursStart,
		BusinessHoursEnd:              DefaultBusinessHoursEnd,
		WorkingDays:                   defaultWorkingDays(),
		MinAdvanceBookingHours:        DefaultMinAdvanceBookingHours,
		MaxAdvanceBookingDays:         DefaultMaxAdvanceBookingDays,
		EnableCustomerSelfScheduling:  false,
		AutoApproveCustomerSelections: false,
	}
}

func defaultWorkingDays() map[time.Weekday]bool {
	return map[time.Weekday]bool{
		time.Monday:    true,
		time.Tuesday:   true,
		time.Wednesday: true,
		time.Thursday:  true,
		time.Friday:    true,
	}
}

// ParsePolicy converts a stored settings document into a complete policy.
// Every field is parsed on its own: a missing field takes its default, a
// malformed field takes its default and is reported in the returned error.
// The returned policy is always usable, even when err is non-nil.
func ParsePolicy(raw []byte) (model.SchedulingPolicy, error) {
	policy := DefaultPolicy()

	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return policy, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return policy, fmt.Errorf("%w: %v", ErrInvalidDocument, err)
	}

	var errs []error
	field := func(name string) (json.RawMessage, bool) {
		v, ok := fields[name]
		if !ok || isNull(v) {
			return nil, false
		}
		return v, true
	}
	intField := func(name string, dst *int) bool {
		v, ok := field(name)
		if !ok {
			return false
		}
		n, err := parseNonNegativeInt(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return false
		}
		*dst = n
		return true
	}
	boolField := func(name string, dst *bool) {
		v, ok := field(name)
		if !ok {
			return
		}
		b, err := parseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
			return
		}
		*dst = b
	}

	// Older organizations stored one symmetric buffer.
	legacyBuffer := -1
	intField("bufferMinutes", &legacyBuffer)
	if !intField("bufferBeforeMinutes", &policy.BufferBeforeMinutes) && legacyBuffer >= 0 {
		policy.BufferBeforeMinutes = legacyBuffer
	}
	if !intField("bufferAfterMinutes", &policy.BufferAfterMinutes) && legacyBuffer >= 0 {
		policy.BufferAfterMinutes = legacyBuffer
	}

	intField("minAdvanceBookingHours", &policy.MinAdvanceBookingHours)
	intField("maxAdvanceBookingDays", &policy.MaxAdvanceBookingDays)
	boolField("enableCustomerSelfScheduling", &policy.EnableCustomerSelfScheduling)
	boolField("autoApproveCustomerSelections", &policy.AutoApproveCustomerSelections)

	start, end := policy.BusinessHoursStart, policy.BusinessHoursEnd
	hoursOK := true
	if v, ok := field("businessHoursStart"); ok {
		t, err := parseTimeOfDay(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("businessHoursStart: %w", err))
			hoursOK = false
		}
		start = t
	}
	if v, ok := field("businessHoursEnd"); ok {
		t, err := parseTimeOfDay(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("businessHoursEnd: %w", err))
			hoursOK = false
		}
		end = t
	}
	if hoursOK && start >= end {
		errs = append(errs, fmt.Errorf("business hours %s-%s: start must be before end", start, end))
		hoursOK = false
	}
	// Hours fall back as a pair so that a half-valid range never survives.
	if hoursOK {
		policy.BusinessHoursStart, policy.BusinessHoursEnd = start, end
	}

	if v, ok := field("workingDays"); ok {
		days, err := parseWorkingDays(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("workingDays: %w", err))
		} else {
			policy.WorkingDays = days
		}
	}

	return policy, errors.Join(errs...)
}

// ResolvePolicy loads the policy of an organization. It never fails: a read
// error or an unusable document yields defaults so availability can always be
// computed. The result is not cached; policy may change between calls.
func (e *Engine) ResolvePolicy(ctx context.Context, orgID int64) model.SchedulingPolicy {
	raw, err := e.policies.GetPolicy(ctx, orgID)
	if err != nil {
		e.logger.Warn("Failed to read scheduling policy, using defaults",
			zap.Error(&ConfigurationError{OrgID: orgID, Err: err}))
		e.metrics.PolicyFallback("read_error")
		return DefaultPolicy()
	}

	policy, err := ParsePolicy(raw)
	if err != nil {
		e.logger.Warn("Scheduling policy partially malformed, defaults substituted",
			zap.Error(&ConfigurationError{OrgID: orgID, Err: err}))
		e.metrics.PolicyFallback("malformed")
	}

	e.logger.Debug("Scheduling policy resolved",
		zap.Int64("org_id", orgID),
		zap.Int("buffer_before", policy.BufferBeforeMinutes),
		zap.Int("buffer_after", policy.BufferAfterMinutes),
		zap.Stringer("hours_start", policy.BusinessHoursStart),
		zap.Stringer("hours_end", policy.BusinessHoursEnd))

	return policy
}

func isNull(v json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(v), []byte("null"))
}

// unquote returns the contents of a JSON string, or ok=false if v is not one.
func unquote(v json.RawMessage) (string, bool) {
	var s string
	if err := json.Unmarshal(v, &s); err != nil {
		return "", false
	}
	return strings.TrimSpace(s), true
}

// maxPolicyValue bounds every numeric setting, so hours and days still fit
// time.Duration and calendar arithmetic.
const maxPolicyValue = 100000

func parseNonNegativeInt(v json.RawMessage) (int, error) {
	var n int
	if s, ok := unquote(v); ok {
		parsed, err := strconv.Atoi(s)
		if err != nil {
			return 0, fmt.Errorf("not an integer: %q", s)
		}
		n = parsed
	} else {
		var f float64
		if err := json.Unmarshal(v, &f); err != nil {
			return 0, fmt.Errorf("not a number: %s", v)
		}
		if f > maxPolicyValue || f < -maxPolicyValue {
			return 0, fmt.Errorf("value %v is out of range", f)
		}
		if f != float64(int(f)) {
			return 0, fmt.Errorf("not an integer: %v", f)
		}
		n = int(f)
	}
	if n < 0 {
		return 0, fmt.Errorf("negative value %d", n)
	}
	if n > maxPolicyValue {
		return 0, fmt.Errorf("value %d is above %d", n, maxPolicyValue)
	}
	return n, nil
}

func parseBool(v json.RawMessage) (bool, error) {
	var b bool
	if err := json.Unmarshal(v, &b); err == nil {
		return b, nil
	}
	if s, ok := unquote(v); ok {
		parsed, err := strconv.ParseBool(s)
		if err == nil {
			return parsed, nil
		}
	}
	return false, fmt.Errorf("not a boolean: %s", v)
}

func parseTimeOfDay(v json.RawMessage) (model.TimeOfDay, error) {
	s, ok := unquote(v)
	if !ok {
		return 0, fmt.Errorf("not a time string: %s", v)
	}
	for _, layout := range []string{"15:04", "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return model.NewTimeOfDay(t.Hour(), t.Minute()), nil
		}
	}
	return 0, fmt.Errorf("invalid time of day %q", s)
}

// parseWorkingDays accepts a JSON array of weekday indices or the same array
// serialized into a string, e.g. "[1,2,3,4,5]".
func parseWorkingDays(v json.RawMessage) (map[time.Weekday]bool, error) {
	if s, ok := unquote(v); ok {
		v = json.RawMessage(s)
	}

	var items []json.RawMessage
	if err := json.Unmarshal(v, &items); err != nil {
		return nil, fmt.Errorf("not a list: %s", v)
	}

	days := make(map[time.Weekday]bool, len(items))
	for _, item := range items {
		n, err := parseNonNegativeInt(item)
		if err != nil {
			return nil, err
		}
		if n > int(time.Saturday) {
			return nil, fmt.Errorf("weekday %d out of range", n)
		}
		days[time.Weekday(n)] = true
	}
	if len(days) == 0 {
		return nil, errors.New("no working days")
	}
	return days, nil
}
