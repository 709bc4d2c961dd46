package controller

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/service"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Callback data prefixes of the approval buttons
const (
	ApproveBooking = "approve_booking:" // approve_booking:<uuid>
	RejectBooking  = "reject_booking:"  // reject_booking:<uuid>
)

const (
	slotsHorizon  = 7 * 24 * time.Hour
	maxSlotsShown = 10
)

// StaffBookings is the booking workflow as staff uses it.
type StaffBookings interface {
	PendingBookings(ctx context.Context, orgID int64) ([]*model.Commitment, error)
	ApproveBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error)
	RejectBooking(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error)
}

// SlotFinder looks up free slots of a worker.
type SlotFinder interface {
	FindAvailableSlots(ctx context.Context, orgID, workerID int64, durationMinutes int, from, to time.Time, policy *model.SchedulingPolicy) (*availability.WorkerAvailability, error)
}

// Sender is the part of *bot.Bot the handlers talk through.
type Sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// reply is what the bot answers with
type reply struct {
	Text     string
	Keyboard *models.InlineKeyboardMarkup
}

type Handlers struct {
	bookings StaffBookings
	slots    SlotFinder
	orgID    int64
	staff    map[int64]bool
	loc      *time.Location
	now      func() time.Time
	logger   *zap.Logger
}

// NewHandlers builds staff handlers for one organization. Only chats in
// staffChatIDs may use the bot.
func NewHandlers(bookings StaffBookings, slots SlotFinder, orgID int64, staffChatIDs []int64, loc *time.Location, logger *zap.Logger) *Handlers {
	staff := make(map[int64]bool, len(staffChatIDs))
	for _, id := range staffChatIDs {
		staff[id] = true
	}
	if loc == nil {
		loc = time.Local
	}
	return &Handlers{
		bookings: bookings,
		slots:    slots,
		orgID:    orgID,
		staff:    staff,
		loc:      loc,
		now:      time.Now,
		logger:   logger,
	}
}

// HandleCommand dispatches text commands
func (h *Handlers) HandleCommand(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}
	h.send(ctx, b, update.Message.Chat.ID, h.command(ctx, update.Message.Chat.ID, update.Message.Text))
}

// HandleCallbackQuery handles the approval buttons
func (h *Handlers) HandleCallbackQuery(ctx context.Context, b *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}
	h.handleCallback(ctx, b, update.CallbackQuery)
}

func (h *Handlers) handleCallback(ctx context.Context, s Sender, callback *models.CallbackQuery) {
	if _, err := s.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{CallbackQueryID: callback.ID}); err != nil {
		h.logger.Warn("Failed to answer callback", zap.Error(err))
	}

	if callback.Message.Message == nil {
		return
	}
	chatID := callback.Message.Message.Chat.ID
	h.send(ctx, s, chatID, h.callback(ctx, chatID, callback.Data))
}

func (h *Handlers) send(ctx context.Context, s Sender, chatID int64, r reply) {
	params := &bot.SendMessageParams{
		ChatID: chatID,
		Text:   r.Text,
	}
	if r.Keyboard != nil {
		params.ReplyMarkup = r.Keyboard
	}

	if _, err := s.SendMessage(ctx, params); err != nil {
		h.logger.Error("Failed to send message", zap.Int64("chat_id", chatID), zap.Error(err))
	}
}

func (h *Handlers) command(ctx context.Context, chatID int64, text string) reply {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return reply{Text: helpText}
	}
	// "/pending@my_bot" in group chats
	name, _, _ := strings.Cut(fields[0], "@")
	args := fields[1:]

	if name == "/start" {
		return h.start(chatID)
	}
	if !h.staff[chatID] {
		return reply{Text: fmt.Sprintf("⛔ This chat is not allowed to manage bookings.\nChat ID: %d", chatID)}
	}

	switch name {
	case "/help":
		return reply{Text: helpText}
	case "/pending":
		return h.pending(ctx)
	case "/approve":
		return h.transitionCommand(ctx, args, h.bookings.ApproveBooking, "✅ Booking approved")
	case "/reject":
		return h.transitionCommand(ctx, args, h.bookings.RejectBooking, "❌ Booking rejected")
	case "/slots":
		return h.freeSlots(ctx, args)
	default:
		return reply{Text: "🤔 Unknown command. /help lists what I can do."}
	}
}

func (h *Handlers) callback(ctx context.Context, chatID int64, data string) reply {
	if !h.staff[chatID] {
		return reply{Text: "⛔ This chat is not allowed to manage bookings."}
	}

	switch {
	case strings.HasPrefix(data, ApproveBooking):
		return h.transition(ctx, strings.TrimPrefix(data, ApproveBooking), h.bookings.ApproveBooking, "✅ Booking approved")
	case strings.HasPrefix(data, RejectBooking):
		return h.transition(ctx, strings.TrimPrefix(data, RejectBooking), h.bookings.RejectBooking, "❌ Booking rejected")
	default:
		h.logger.Warn("Unknown callback data", zap.String("data", data))
		return reply{Text: "🤔 Unknown action."}
	}
}

const helpText = "📚 Commands:\n\n" +
	"/pending - bookings waiting for approval\n" +
	"/approve <id> - approve a booking\n" +
	"/reject <id> - reject a booking\n" +
	"/slots <worker> <minutes> - free slots of a worker for the next 7 days\n" +
	"/help - this message"

func (h *Handlers) start(chatID int64) reply {
	if !h.staff[chatID] {
		return reply{Text: fmt.Sprintf("👋 Hi! This bot is for dispatch staff.\nAsk an administrator to add chat ID %d to the staff list.", chatID)}
	}
	return reply{Text: "👋 Hi! I will post bookings that need approval here.\n\n" + helpText}
}

func (h *Handlers) pending(ctx context.Context) reply {
	list, err := h.bookings.PendingBookings(ctx, h.orgID)
	if err != nil {
		h.logger.Error("Failed to list pending bookings", zap.Error(err))
		return reply{Text: "❌ Could not load bookings. Try again later."}
	}
	if len(list) == 0 {
		return reply{Text: "✨ No bookings are waiting for approval."}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("⏳ Waiting for approval: %d\n", len(list)))
	buttons := make([][]models.InlineKeyboardButton, 0, len(list))

	for i, c := range list {
		n := i + 1
		who := fmt.Sprintf("👷 Worker %d", c.WorkerID)
		if c.CustomerID > 0 {
			who += fmt.Sprintf(", 👤 customer %d", c.CustomerID)
		}
		sb.WriteString(fmt.Sprintf("\n%d. %s\n   %s\n   🆔 %s\n", n, h.describe(c), who, c.ID))
		buttons = append(buttons, []models.InlineKeyboardButton{
			{Text: fmt.Sprintf("✅ Approve #%d", n), CallbackData: ApproveBooking + c.ID.String()},
			{Text: fmt.Sprintf("❌ Reject #%d", n), CallbackData: RejectBooking + c.ID.String()},
		})
	}

	return reply{Text: sb.String(), Keyboard: &models.InlineKeyboardMarkup{InlineKeyboard: buttons}}
}

type transitionFunc func(ctx context.Context, orgID int64, id uuid.UUID) (*model.Commitment, error)

func (h *Handlers) transitionCommand(ctx context.Context, args []string, fn transitionFunc, done string) reply {
	if len(args) != 1 {
		return reply{Text: "ℹ️ Usage: /approve <id> or /reject <id>"}
	}
	return h.transition(ctx, args[0], fn, done)
}

func (h *Handlers) transition(ctx context.Context, rawID string, fn transitionFunc, done string) reply {
	id, err := uuid.Parse(rawID)
	if err != nil {
		return reply{Text: "❌ Invalid booking ID"}
	}

	c, err := fn(ctx, h.orgID, id)
	switch {
	case errors.Is(err, service.ErrBookingNotFound):
		return reply{Text: "❌ Booking not found"}
	case errors.Is(err, service.ErrInvalidTransition):
		return reply{Text: "⚠️ The booking is no longer waiting for approval"}
	case err != nil:
		h.logger.Error("Failed to change booking state", zap.String("booking_id", id.String()), zap.Error(err))
		return reply{Text: "❌ Could not update the booking. Try again later."}
	}

	return reply{Text: fmt.Sprintf("%s\n📅 %s", done, h.describe(c))}
}

func (h *Handlers) freeSlots(ctx context.Context, args []string) reply {
	usage := reply{Text: "ℹ️ Usage: /slots <worker> <minutes>"}
	if len(args) != 2 {
		return usage
	}
	workerID, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return usage
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		return usage
	}

	now := h.now()
	res, err := h.slots.FindAvailableSlots(ctx, h.orgID, workerID, minutes, now, now.Add(slotsHorizon), nil)
	if err != nil {
		if errors.Is(err, availability.ErrValidation) {
			return reply{Text: fmt.Sprintf("❌ %v", err)}
		}
		h.logger.Error("Slot search failed", zap.Int64("worker_id", workerID), zap.Error(err))
		return reply{Text: "❌ Could not search slots. Try again later."}
	}

	if res.Count == 0 {
		return reply{Text: fmt.Sprintf("😔 Worker %d has no free %s slot in the next 7 days.", workerID, availability.FormatDuration(minutes))}
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("📅 Worker %d, %s, %d slots:\n\n", workerID, availability.FormatDuration(minutes), res.Count))
	for i, s := range res.Slots {
		if i == maxSlotsShown {
			sb.WriteString(fmt.Sprintf("... and %d more\n", res.Count-maxSlotsShown))
			break
		}
		sb.WriteString(availability.DescribeSlot(s, h.loc) + "\n")
	}
	if res.Degraded {
		sb.WriteString("\n⚠️ Some calendars could not be read, double-check before booking.")
	}

	return reply{Text: sb.String()}
}

func (h *Handlers) describe(c *model.Commitment) string {
	slot := model.CandidateSlot{WorkerID: c.WorkerID, StartTime: c.StartTime, EndTime: c.EndTime}
	return availability.DescribeSlot(slot, h.loc)
}
