package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/Freeeeeet/fieldservice_scheduler/internal/availability"
	"github.com/Freeeeeet/fieldservice_scheduler/internal/model"
	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// MessageSender is the part of *bot.Bot the notifier needs.
type MessageSender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
}

// TelegramNotifier posts booking events to the staff chats.
type TelegramNotifier struct {
	sender  MessageSender
	chatIDs []int64
	loc     *time.Location
}

func NewTelegramNotifier(sender MessageSender, chatIDs []int64, loc *time.Location) *TelegramNotifier {
	if loc == nil {
		loc = time.Local
	}
	return &TelegramNotifier{sender: sender, chatIDs: chatIDs, loc: loc}
}

func (n *TelegramNotifier) Notify(ctx context.Context, event Event) error {
	text := n.format(event)
	if text == "" {
		return nil
	}

	for _, chatID := range n.chatIDs {
		_, err := n.sender.SendMessage(ctx, &bot.SendMessageParams{
			ChatID: chatID,
			Text:   text,
		})
		if err != nil {
			return fmt.Errorf("send %s to chat %d: %w", event.Type, chatID, err)
		}
	}

	return nil
}

// format returns the staff message for an event, empty when staff is not told
func (n *TelegramNotifier) format(event Event) string {
	c := event.Commitment
	if c == nil {
		return ""
	}

	var title string
	switch event.Type {
	case EventBookingCreated:
		if c.ApprovalState != model.ApprovalStatePending {
			return ""
		}
		title = "🆕 New booking waiting for approval"
	case EventPendingReminder:
		title = "⏰ Booking still waiting for approval"
	case EventBookingApproved:
		title = "✅ Booking approved"
	case EventBookingRejected:
		title = "❌ Booking rejected"
	case EventBookingCancelled:
		title = "🚫 Booking cancelled"
	default:
		return ""
	}

	slot := model.CandidateSlot{WorkerID: c.WorkerID, StartTime: c.StartTime, EndTime: c.EndTime}

	var sb strings.Builder
	sb.WriteString(title + "\n\n")
	sb.WriteString(fmt.Sprintf("📅 %s\n", availability.DescribeSlot(slot, n.loc)))
	sb.WriteString(fmt.Sprintf("⏱ %s\n", availability.FormatDuration(c.DurationMinutes())))
	sb.WriteString(fmt.Sprintf("👷 Worker: %d\n", c.WorkerID))
	if c.CustomerID > 0 {
		sb.WriteString(fmt.Sprintf("👤 Customer: %d\n", c.CustomerID))
	}
	if c.ApprovalState == model.ApprovalStatePending {
		sb.WriteString(fmt.Sprintf("\n/approve %s\n/reject %s", c.ID, c.ID))
	} else {
		sb.WriteString(fmt.Sprintf("🆔 %s", c.ID))
	}

	return sb.String()
}
