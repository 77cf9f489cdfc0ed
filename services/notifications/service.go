package notifications

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"schoolledger_go/config"
	"schoolledger_go/database"
	"schoolledger_go/models"
	"schoolledger_go/utils"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Queue item structure stored in Redis. Kept minimal to reduce payload
// size; one payload can fan out to many users. If Redis is down the
// service falls back to direct DB inserts, the DB row stays the source
// of truth.

type queuedNotification struct {
	UserIDs   []uint    `json:"user_ids"`
	Title     string    `json:"title"`
	Message   string    `json:"message"`
	Type      string    `json:"type"`
	Channels  []string  `json:"channels,omitempty"`
	Data      any       `json:"data,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

const redisListKey = "notifications:queue"

// Service exposes notification creation with an optional Redis queue.
// If Redis is disabled or unavailable, it performs direct DB inserts.
type Service struct {
	db       *gorm.DB
	redis    *redis.Client
	useRedis bool
	wsHub    WSHub
}

// WSHub interface for WebSocket broadcasting
type WSHub interface {
	BroadcastToUser(userID uint, message interface{})
}

// defaultHub lets services created in different parts of the app (e.g. the
// scheduler) broadcast over the same WebSocket hub without manual wiring.
var defaultHub WSHub

// SetDefaultWSHub sets the package-level default WebSocket hub used by new
// Service instances.
func SetDefaultWSHub(h WSHub) {
	defaultHub = h
}

func NewService() *Service {
	return &Service{
		db:       database.GetDB(),
		redis:    database.GetRedisClient(),
		useRedis: config.AppConfig != nil && config.AppConfig.UseRedisNotifications && database.GetRedisClient() != nil,
		wsHub:    defaultHub,
	}
}

// SetWebSocketHub sets the WebSocket hub for real-time notifications
func (s *Service) SetWebSocketHub(hub WSHub) {
	s.wsHub = hub
}

// normalizeChannels keeps only allowed values and ensures default channel
func normalizeChannels(in []string) []string {
	if len(in) == 0 {
		return []string{"normal"}
	}
	allowed := map[string]struct{}{"normal": {}, "popup": {}, "line": {}}
	out := make([]string, 0, len(in))
	seen := map[string]struct{}{}
	for _, ch := range in {
		if _, ok := allowed[ch]; ok {
			if _, dup := seen[ch]; !dup {
				out = append(out, ch)
				seen[ch] = struct{}{}
			}
		}
	}
	if len(out) == 0 {
		out = []string{"normal"}
	}
	return out
}

// Queued creates a minimal queuedNotification (public helper for controllers)
func Queued(title, message, typ string, channels ...string) queuedNotification {
	return queuedNotification{Title: title, Message: message, Type: typ, Channels: normalizeChannels(channels)}
}

// QueuedWithData allows attaching a structured data payload (deep-links/actions)
func QueuedWithData(title, message, typ string, data any, channels ...string) queuedNotification {
	return queuedNotification{Title: title, Message: message, Type: typ, Channels: normalizeChannels(channels), Data: data}
}

// EnqueueOrCreate stores notifications using the Redis queue if enabled,
// else direct insert.
func (s *Service) EnqueueOrCreate(userIDs []uint, n queuedNotification) error {
	if len(userIDs) == 0 {
		return errors.New("no user ids")
	}
	n.UserIDs = userIDs
	n.CreatedAt = time.Now().UTC()

	if s.useRedis {
		b, err := json.Marshal(n)
		if err != nil {
			return err
		}
		if err = s.redis.RPush(context.Background(), redisListKey, b).Err(); err == nil {
			return nil // queued successfully
		}
		log.Printf("[notif] Redis queue failed, falling back to direct insert: %v", err)
	}

	return s.createDirect(userIDs, n)
}

// createDirect writes directly to DB (used by worker or fallback).
func (s *Service) createDirect(userIDs []uint, n queuedNotification) error {
	if len(userIDs) == 0 {
		return nil
	}
	notifs := make([]models.Notification, 0, len(userIDs))
	// Always set channels JSON, defaulting to ["normal"] to avoid the DB
	// default on JSON which MySQL forbids
	channelsJSON, err := json.Marshal(normalizeChannels(n.Channels))
	if err != nil {
		channelsJSON = []byte(`["normal"]`)
	}
	var dataJSON []byte
	if n.Data != nil {
		if b, err2 := json.Marshal(n.Data); err2 == nil {
			dataJSON = b
		}
	}
	for _, uid := range userIDs {
		notifs = append(notifs, models.Notification{
			UserID:   uid,
			Title:    n.Title,
			Message:  n.Message,
			Type:     n.Type,
			Read:     false,
			Channels: channelsJSON,
			Data:     dataJSON,
		})
	}

	if err := s.db.Create(&notifs).Error; err != nil {
		return err
	}

	if s.wsHub != nil {
		for _, notif := range notifs {
			s.db.Preload("User").Preload("User.Student").First(&notif, notif.ID)

			dto := utils.ToNotificationDTO(notif)
			s.wsHub.BroadcastToUser(notif.UserID, map[string]interface{}{
				"type": "notification",
				"data": dto,
			})
		}
	}

	return nil
}

// BudgetWarning implements the budget service's notifier hook: finance
// staff get a popup when spending crosses a budget's warning threshold.
func (s *Service) BudgetWarning(budget *models.Budget, utilizedPct int) {
	var staff []models.User
	if err := s.db.Where("role IN ? AND status = ?", []string{"owner", "admin", "bursar"}, "active").
		Find(&staff).Error; err != nil {
		log.Printf("[notif] budget warning recipient lookup failed: %v", err)
		return
	}
	ids := make([]uint, 0, len(staff))
	for _, u := range staff {
		ids = append(ids, u.ID)
	}
	if len(ids) == 0 {
		return
	}
	n := QueuedWithData(
		"Budget warning",
		fmt.Sprintf("Budget %q has reached %d%% of its total", budget.Name, utilizedPct),
		"warning",
		map[string]interface{}{
			"budget_id":    budget.ID,
			"utilized_pct": utilizedPct,
			"utilized":     budget.UtilizedAmount,
			"total":        budget.TotalAmount,
		},
		"normal", "popup",
	)
	if err := s.EnqueueOrCreate(ids, n); err != nil {
		log.Printf("[notif] budget warning enqueue failed: %v", err)
	}
}

// PaymentReceived notifies the student's account and pushes a LINE receipt
// to the guardian when one is linked.
func (s *Service) PaymentReceived(payment *models.Payment, invoice *models.Invoice) {
	var student models.Student
	if err := s.db.First(&student, invoice.StudentID).Error; err != nil {
		log.Printf("[notif] payment notification student lookup failed: %v", err)
		return
	}

	n := QueuedWithData(
		"Payment received",
		fmt.Sprintf("Receipt %s for invoice %s: %s", payment.ReceiptNumber, invoice.InvoiceNumber, payment.Amount),
		"success",
		map[string]interface{}{
			"payment_id": payment.ID,
			"invoice_id": invoice.ID,
			"amount":     payment.Amount,
		},
		"normal", "line",
	)
	if student.UserID != 0 {
		if err := s.EnqueueOrCreate([]uint{student.UserID}, n); err != nil {
			log.Printf("[notif] payment notification enqueue failed: %v", err)
		}
	}

	if student.GuardianLineID != "" {
		go PushReceipt(student.GuardianLineID, student, payment, invoice)
	}
}

// InvoiceOverdue fans an overdue notice out to the students whose invoices
// the nightly sweep just flipped.
func (s *Service) InvoiceOverdue(invoices []models.Invoice) {
	for i := range invoices {
		inv := &invoices[i]
		var student models.Student
		if err := s.db.First(&student, inv.StudentID).Error; err != nil || student.UserID == 0 {
			continue
		}
		n := QueuedWithData(
			"Invoice overdue",
			fmt.Sprintf("Invoice %s is past due, outstanding balance %s", inv.InvoiceNumber, inv.BalanceAmount),
			"warning",
			map[string]interface{}{"invoice_id": inv.ID, "balance": inv.BalanceAmount},
			"normal",
		)
		if err := s.EnqueueOrCreate([]uint{student.UserID}, n); err != nil {
			log.Printf("[notif] overdue notification enqueue failed: %v", err)
		}
	}
}

// FormatAmount renders a decimal for user-facing messages.
func FormatAmount(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// StartWorker starts a background worker polling the Redis queue and
// flushing to DB.
func (s *Service) StartWorker(stop <-chan struct{}) {
	if !s.useRedis {
		log.Println("[notif] Redis notifications disabled; worker not started")
		return
	}
	go func() {
		log.Println("[notif] Redis notification worker started")
		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()
		ctx := context.Background()
		batchSize := 200
		for {
			select {
			case <-stop:
				log.Println("[notif] Worker stopping")
				return
			case <-ticker.C:
				s.flushBatch(ctx, batchSize)
			}
		}
	}()
}

// flushBatch polls the redis queue and processes notifications in batches.
func (s *Service) flushBatch(ctx context.Context, batchSize int) {
	if s.redis == nil {
		return
	}
	for i := 0; i < 5; i++ { // up to 5 sub-batches per tick
		vals, err := s.redis.LRange(ctx, redisListKey, 0, int64(batchSize-1)).Result()
		if err != nil || len(vals) == 0 {
			return
		}
		// Trim immediately to avoid duplicates (best-effort)
		if err = s.redis.LTrim(ctx, redisListKey, int64(len(vals)), -1).Err(); err != nil {
			log.Printf("[notif] LTrim failed: %v", err)
		}
		for _, raw := range vals {
			var q queuedNotification
			if err := json.Unmarshal([]byte(raw), &q); err != nil {
				continue
			}
			if err := s.createDirect(q.UserIDs, q); err != nil {
				log.Printf("[notif] DB insert failed (retry later?): %v", err)
			}
		}
		if len(vals) < batchSize {
			return
		}
	}
}
