package services

import (
	"time"

	"schoolledger_go/config"
	"schoolledger_go/database"
	"schoolledger_go/models"
	"schoolledger_go/services/billing"
	"schoolledger_go/services/notifications"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Scheduler owns the recurring finance jobs: the nightly overdue sweep,
// the hourly audit log flush and the daily archive upload.
type Scheduler struct {
	cron     *cron.Cron
	invoices *billing.InvoiceService
	archive  *AuditArchiveService
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		cron:     cron.New(),
		invoices: billing.NewInvoiceService(database.GetDB()),
		archive:  NewAuditArchiveService(),
	}
}

// Start registers the jobs and runs the cron loop in its own goroutine.
func (s *Scheduler) Start() {
	spec := config.AppConfig.OverdueSweepCron
	if _, err := s.cron.AddFunc(spec, s.sweepOverdueInvoices); err != nil {
		logrus.WithError(err).Fatalf("invalid overdue sweep cron spec %q", spec)
	}

	if _, err := s.cron.AddFunc("@hourly", func() {
		if err := s.archive.FlushCachedLogsToDatabase(); err != nil {
			logrus.WithError(err).Warn("audit log flush failed")
		}
	}); err != nil {
		logrus.WithError(err).Fatal("failed to register audit flush job")
	}

	if _, err := s.cron.AddFunc("@daily", func() {
		if err := s.archive.ArchiveOldLogs(30); err != nil {
			logrus.WithError(err).Warn("audit log archive failed")
		}
	}); err != nil {
		logrus.WithError(err).Fatal("failed to register audit archive job")
	}

	s.cron.Start()
	logrus.Infof("Scheduler started (overdue sweep: %q)", spec)
}

// Stop halts the cron loop, letting running jobs finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// sweepOverdueInvoices flips unpaid invoices past their due date and
// notifies the affected students. The candidate list is captured before
// the bulk update so notifications cover exactly the flipped rows.
func (s *Scheduler) sweepOverdueInvoices() {
	now := time.Now()

	var candidates []models.Invoice
	err := database.DB.
		Where("status IN ? AND due_date < ?",
			[]models.InvoiceStatus{models.InvoiceStatusPending, models.InvoiceStatusPartiallyPaid}, now).
		Find(&candidates).Error
	if err != nil {
		logrus.WithError(err).Error("overdue sweep query failed")
		return
	}

	n, err := s.invoices.MarkOverdue(now)
	if err != nil {
		logrus.WithError(err).Error("overdue sweep update failed")
		return
	}
	if n == 0 {
		return
	}
	logrus.Infof("Overdue sweep flipped %d invoices", n)

	notifications.NewService().InvoiceOverdue(candidates)
}
