package jobs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/avasiliev/proposal-system/internal/model"
	"github.com/avasiliev/proposal-system/internal/repository"
	"github.com/avasiliev/proposal-system/internal/scheduler"
)

// NotifyProposalJob доставляет уведомление заявителю:
// pending → processing → {sent | failed}.
type NotifyProposalJob struct {
	store    ProposalStore
	notifier Notifier
	logger   *zap.Logger
}

// NewNotifyProposalJob создаёт обработчик задач уведомления заявителей.
func NewNotifyProposalJob(store ProposalStore, notifier Notifier, logger *zap.Logger) *NotifyProposalJob {
	return &NotifyProposalJob{
		store:    store,
		notifier: notifier,
		logger:   logger,
	}
}

// Kind возвращает вид задачи.
func (j *NotifyProposalJob) Kind() string { return KindNotifyProposal }

// MaxAttempts возвращает лимит попыток.
func (j *NotifyProposalJob) MaxAttempts() int { return maxAttempts }

// BackoffSchedule возвращает расписание задержек между попытками.
func (j *NotifyProposalJob) BackoffSchedule() []time.Duration { return notifyBackoff }

// Execute выполняет одну попытку доставки уведомления.
func (j *NotifyProposalJob) Execute(ctx context.Context, proposalID int64) scheduler.Result {
	p, err := j.store.GetProposalByID(ctx, proposalID)
	if errors.Is(err, repository.ErrProposalNotFound) {
		j.logger.Warn("proposal not found, dropping notification job",
			zap.Int64("proposalID", proposalID),
		)
		return scheduler.Done()
	}
	if err != nil {
		return scheduler.Retry(fmt.Sprintf("load proposal: %v", err))
	}

	if p.NotificationStatus.Concluded() {
		j.logger.Info("proposal notification already concluded, nothing to do",
			zap.Int64("proposalID", p.ID),
			zap.String("notificationStatus", string(p.NotificationStatus)),
		)
		return scheduler.Done()
	}

	if p.NotificationStatus == model.NotificationPending {
		if err := j.store.SetNotificationProcessing(ctx, p.ID); err != nil {
			return scheduler.Retry(fmt.Sprintf("set processing status: %v", err))
		}
	}

	if err := j.notifier.Notify(ctx, p); err != nil {
		j.logger.Error("proposal notification attempt failed",
			zap.Int64("proposalID", p.ID),
			zap.Error(err),
		)
		return scheduler.Retry(err.Error())
	}

	if _, err := j.store.MarkNotificationSent(ctx, p.ID); err != nil {
		return scheduler.Retry(fmt.Sprintf("persist sent status: %v", err))
	}

	j.logger.Info("proposal notification sent", zap.Int64("proposalID", p.ID))
	return scheduler.Done()
}

// Exhausted фиксирует окончательный провал доставки после исчерпания всех попыток.
func (j *NotifyProposalJob) Exhausted(ctx context.Context, proposalID int64, lastReason string) {
	reason := "proposal notification permanently failed after exhausting all retry attempts: " + lastReason

	updated, err := j.store.MarkNotificationFailed(ctx, proposalID, reason)
	if err != nil {
		j.logger.Error("mark notification failed",
			zap.Int64("proposalID", proposalID),
			zap.Error(err),
		)
		return
	}

	if updated {
		j.logger.Error("proposal notification permanently failed",
			zap.Int64("proposalID", proposalID),
			zap.String("reason", lastReason),
		)
	}
}
