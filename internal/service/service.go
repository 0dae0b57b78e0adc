// Package service реализует бизнес-логику приёма кредитных заявок.
package service

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/avasiliev/proposal-system/internal/jobs"
	"github.com/avasiliev/proposal-system/internal/metrics"
	"github.com/avasiliev/proposal-system/internal/model"
	"github.com/avasiliev/proposal-system/internal/repository"
)

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	Close() error
	CreateProposal(ctx context.Context, c *model.ProposalCandidate) (int64, error)
}

// Queue описывает постановку фоновых задач в очередь.
type Queue interface {
	Enqueue(ctx context.Context, kind string, proposalID int64) error
}

// Service содержит бизнес-логику приёма заявок.
type Service struct {
	repo   Repository
	queue  Queue
	logger *zap.Logger
}

// NewService создаёт новый сервис с указанным репозиторием и очередью задач.
func NewService(repo Repository, queue Queue, logger *zap.Logger) *Service {
	return &Service{
		repo:   repo,
		queue:  queue,
		logger: logger,
	}
}

// Close закрывает ресурсы сервиса.
func (s *Service) Close() error {
	if s.repo != nil {
		return s.repo.Close()
	}
	return nil
}

// SubmitProposal атомарно создаёт заявку и ставит в очередь две независимые
// задачи: регистрацию и уведомление. Ошибка постановки в очередь не откатывает
// созданную запись: зависшая в 'pending' заявка обнаруживается оператором.
func (s *Service) SubmitProposal(ctx context.Context, c *model.ProposalCandidate) (int64, error) {
	id, err := s.repo.CreateProposal(ctx, c)
	if err != nil {
		if errors.Is(err, repository.ErrProposalExists) {
			return 0, repository.ErrProposalExists
		}
		return 0, err
	}

	metrics.ProposalsCreated.Inc()

	if err := s.queue.Enqueue(ctx, jobs.KindRegisterProposal, id); err != nil {
		s.logger.Error("enqueue registration job",
			zap.Int64("proposalID", id),
			zap.Error(err),
		)
	}

	if err := s.queue.Enqueue(ctx, jobs.KindNotifyProposal, id); err != nil {
		s.logger.Error("enqueue notification job",
			zap.Int64("proposalID", id),
			zap.Error(err),
		)
	}

	return id, nil
}
