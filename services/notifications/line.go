package notifications

import (
	"fmt"
	"log"
	"os"
	"sync"

	"schoolledger_go/models"

	"github.com/line/line-bot-sdk-go/linebot"
)

// LineMessagingService wraps the LINE Messaging API used to push payment
// receipts to guardians.
type LineMessagingService struct {
	Bot *linebot.Client
}

var (
	lineOnce sync.Once
	lineSvc  *LineMessagingService
)

// NewLineMessagingService creates a new instance. When credentials are
// absent the service stays up with pushes disabled.
func NewLineMessagingService() *LineMessagingService {
	channelSecret := os.Getenv("LINE_CHANNEL_SECRET")
	channelToken := os.Getenv("LINE_CHANNEL_ACCESS_TOKEN")

	if channelSecret == "" || channelToken == "" {
		log.Println("LINE Messaging API disabled: missing LINE_CHANNEL_SECRET or LINE_CHANNEL_ACCESS_TOKEN")
		return &LineMessagingService{Bot: nil}
	}

	bot, err := linebot.New(channelSecret, channelToken)
	if err != nil {
		log.Fatalf("Cannot create LINE bot client: %v", err)
	}

	return &LineMessagingService{Bot: bot}
}

func lineService() *LineMessagingService {
	lineOnce.Do(func() {
		lineSvc = NewLineMessagingService()
	})
	return lineSvc
}

// Push sends a plain text message to a LINE user or group ID.
func (s *LineMessagingService) Push(to string, message string) error {
	if s.Bot == nil {
		return fmt.Errorf("LINE Bot client is not initialized")
	}

	_, err := s.Bot.PushMessage(to, linebot.NewTextMessage(message)).Do()
	if err != nil {
		return fmt.Errorf("LINE Messaging API failed: %v", err)
	}
	return nil
}

// PushReceipt sends a payment receipt summary to a guardian's LINE account.
func PushReceipt(lineID string, student models.Student, payment *models.Payment, invoice *models.Invoice) {
	msg := fmt.Sprintf(
		"Receipt %s\nStudent: %s %s\nInvoice: %s\nAmount paid: %s\nOutstanding: %s",
		payment.ReceiptNumber,
		student.FirstName, student.LastName,
		invoice.InvoiceNumber,
		FormatAmount(payment.Amount),
		FormatAmount(invoice.BalanceAmount),
	)
	if err := lineService().Push(lineID, msg); err != nil {
		log.Printf("[notif] LINE receipt push failed: %v", err)
	}
}
