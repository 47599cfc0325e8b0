package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"rentledger/internal/database"
	"rentledger/internal/events"
	"rentledger/internal/models"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

// TelegramSender is the slice of tgbotapi.BotAPI the dispatcher needs.
type TelegramSender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Dispatcher turns escrow events into in-app notification rows for the
// parties and Telegram alerts for the managers. It runs on the publisher's
// goroutine, so handlers stay cheap: one or two inserts per event.
type Dispatcher struct {
	db             *database.DB
	sender         TelegramSender
	managerChatIDs []int64
	logger         *zerolog.Logger
}

func NewDispatcher(db *database.DB, sender TelegramSender, managerChatIDs []int64, logger *zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		db:             db,
		sender:         sender,
		managerChatIDs: managerChatIDs,
		logger:         logger,
	}
}

// Register subscribes the dispatcher to every escrow event type.
func (d *Dispatcher) Register(bus *events.EventBus) {
	for _, eventType := range []string{
		events.EventBookingCreated,
		events.EventPaymentHeld,
		events.EventOwnerAccepted,
		events.EventOwnerRejected,
		events.EventDeliveryConfirmed,
		events.EventBookingCompleted,
		events.EventBookingCancelled,
		events.EventStatusOverridden,
	} {
		bus.Subscribe(eventType, d.handle)
	}
}

func (d *Dispatcher) handle(event *events.Event) error {
	var p events.EscrowEventPayload
	if err := json.Unmarshal(event.Payload, &p); err != nil {
		d.logger.Error().Err(err).Str("event_type", event.Type).Msg("bad event payload")
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	switch event.Type {
	case events.EventBookingCreated:
		d.notifyUser(ctx, p.OwnerID, fmt.Sprintf("New booking request for %s", p.ItemName), "booking")

	case events.EventPaymentHeld:
		d.notifyUser(ctx, p.OwnerID, fmt.Sprintf("Payment held for %s, awaiting your decision", p.ItemName), "payment")

	case events.EventOwnerAccepted:
		d.notifyUser(ctx, p.RenterID, fmt.Sprintf("Owner accepted your booking for %s", p.ItemName), "booking")

	case events.EventOwnerRejected:
		d.notifyUser(ctx, p.RenterID,
			fmt.Sprintf("Your booking for %s was rejected: %s. Refund issued minus the service fee.", p.ItemName, p.Reason), "booking")

	case events.EventDeliveryConfirmed:
		d.notifyUser(ctx, p.RenterID,
			fmt.Sprintf("Owner marked %s as delivered. Confirm with your code to release the payment.", p.ItemName), "delivery")

	case events.EventBookingCompleted:
		d.notifyUser(ctx, p.RenterID, fmt.Sprintf("Rental of %s completed", p.ItemName), "booking")
		d.notifyUser(ctx, p.OwnerID, fmt.Sprintf("Rental of %s completed, payment released to you", p.ItemName), "payment")

	case events.EventBookingCancelled:
		d.notifyUser(ctx, p.RenterID, fmt.Sprintf("Booking for %s was cancelled: %s", p.ItemName, p.Reason), "booking")
		d.notifyUser(ctx, p.OwnerID, fmt.Sprintf("Booking for %s was cancelled: %s", p.ItemName, p.Reason), "booking")

	case events.EventStatusOverridden:
		msg := fmt.Sprintf("Booking %d status changed by support: %s", p.BookingID, p.Reason)
		d.notifyUser(ctx, p.RenterID, msg, "admin")
		d.notifyUser(ctx, p.OwnerID, msg, "admin")
		d.alertManagers(fmt.Sprintf("Admin override on booking %d (%s): %s", p.BookingID, p.ItemName, p.Reason))
	}

	return nil
}

func (d *Dispatcher) notifyUser(ctx context.Context, userID int64, message, notifType string) {
	if userID == 0 {
		return
	}
	n := &models.Notification{UserID: userID, Message: message, Type: notifType}
	if err := d.db.CreateNotification(ctx, n); err != nil {
		d.logger.Error().Err(err).Int64("user_id", userID).Msg("failed to create notification")
	}
}

func (d *Dispatcher) alertManagers(text string) {
	if d.sender == nil {
		return
	}
	for _, chatID := range d.managerChatIDs {
		msg := tgbotapi.NewMessage(chatID, text)
		if _, err := d.sender.Send(msg); err != nil {
			d.logger.Error().Err(err).Int64("chat_id", chatID).Msg("failed to send manager alert")
		}
	}
}
