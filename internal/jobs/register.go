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

// RegisterProposalJob регистрирует заявку во внешней системе авторизации:
// pending → processing → {registered | failed}.
type RegisterProposalJob struct {
	store      ProposalStore
	authorizer Authorizer
	logger     *zap.Logger
}

// NewRegisterProposalJob создаёт обработчик задач регистрации заявок.
func NewRegisterProposalJob(store ProposalStore, authorizer Authorizer, logger *zap.Logger) *RegisterProposalJob {
	return &RegisterProposalJob{
		store:      store,
		authorizer: authorizer,
		logger:     logger,
	}
}

// Kind возвращает вид задачи.
func (j *RegisterProposalJob) Kind() string { return KindRegisterProposal }

// MaxAttempts возвращает лимит попыток.
func (j *RegisterProposalJob) MaxAttempts() int { return maxAttempts }

// BackoffSchedule возвращает расписание задержек между попытками.
func (j *RegisterProposalJob) BackoffSchedule() []time.Duration { return registerBackoff }

// Execute выполняет одну попытку регистрации заявки.
func (j *RegisterProposalJob) Execute(ctx context.Context, proposalID int64) scheduler.Result {
	p, err := j.store.GetProposalByID(ctx, proposalID)
	if errors.Is(err, repository.ErrProposalNotFound) {
		j.logger.Warn("proposal not found, dropping registration job",
			zap.Int64("proposalID", proposalID),
		)
		return scheduler.Done()
	}
	if err != nil {
		return scheduler.Retry(fmt.Sprintf("load proposal: %v", err))
	}

	if p.Status.Concluded() {
		j.logger.Info("proposal registration already concluded, nothing to do",
			zap.Int64("proposalID", p.ID),
			zap.String("status", string(p.Status)),
		)
		return scheduler.Done()
	}

	// Маркер 'processing' сохраняется до обращения к внешнему сервису,
	// чтобы работа над заявкой была видна наблюдателям и дублирующим доставкам.
	if p.Status == model.StatusPending {
		if err := j.store.SetRegistrationProcessing(ctx, p.ID); err != nil {
			return scheduler.Retry(fmt.Sprintf("set processing status: %v", err))
		}
	}

	if err := j.authorizer.Authorize(ctx, p); err != nil {
		j.logger.Error("proposal authorization attempt failed",
			zap.Int64("proposalID", p.ID),
			zap.Error(err),
		)
		return scheduler.Retry(err.Error())
	}

	if _, err := j.store.MarkRegistered(ctx, p.ID); err != nil {
		return scheduler.Retry(fmt.Sprintf("persist registered status: %v", err))
	}

	j.logger.Info("proposal registered", zap.Int64("proposalID", p.ID))
	return scheduler.Done()
}

// Exhausted фиксирует окончательный провал регистрации после исчерпания
// всех попыток. Единственный путь, устанавливающий status = 'failed'.
func (j *RegisterProposalJob) Exhausted(ctx context.Context, proposalID int64, lastReason string) {
	reason := "proposal registration permanently failed after exhausting all retry attempts: " + lastReason

	updated, err := j.store.MarkRegistrationFailed(ctx, proposalID, reason)
	if err != nil {
		j.logger.Error("mark registration failed",
			zap.Int64("proposalID", proposalID),
			zap.Error(err),
		)
		return
	}

	if updated {
		j.logger.Error("proposal registration permanently failed",
			zap.Int64("proposalID", proposalID),
			zap.String("reason", lastReason),
		)
	}
}
