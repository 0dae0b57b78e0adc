// Package jobs содержит обработчики фоновых задач обработки кредитных заявок.
//
// Каждая задача несёт только идентификатор заявки: обработчик заново
// загружает актуальное состояние из хранилища, поэтому повторная доставка
// той же задачи безопасна.
package jobs

import (
	"context"
	"time"

	"github.com/avasiliev/proposal-system/internal/model"
)

// Виды фоновых задач.
const (
	KindRegisterProposal = "register_proposal"
	KindNotifyProposal   = "notify_proposal"
)

// Лимит попыток фактически не ограничивает повторы: их сдерживает
// растущее расписание задержек.
const maxAttempts = 9999

var (
	registerBackoff = []time.Duration{
		10 * time.Second,
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		300 * time.Second,
		600 * time.Second,
		1200 * time.Second,
		2400 * time.Second,
		3600 * time.Second,
	}

	notifyBackoff = []time.Duration{
		10 * time.Second,
		30 * time.Second,
		60 * time.Second,
		120 * time.Second,
		300 * time.Second,
	}
)

// ProposalStore описывает операции с хранилищем заявок, используемые задачами.
type ProposalStore interface {
	GetProposalByID(ctx context.Context, id int64) (*model.Proposal, error)
	SetRegistrationProcessing(ctx context.Context, id int64) error
	MarkRegistered(ctx context.Context, id int64) (bool, error)
	MarkRegistrationFailed(ctx context.Context, id int64, reason string) (bool, error)
	SetNotificationProcessing(ctx context.Context, id int64) error
	MarkNotificationSent(ctx context.Context, id int64) (bool, error)
	MarkNotificationFailed(ctx context.Context, id int64, reason string) (bool, error)
}

// Authorizer описывает внешний сервис авторизации заявок.
type Authorizer interface {
	Authorize(ctx context.Context, p *model.Proposal) error
}

// Notifier описывает внешний сервис уведомлений заявителей.
type Notifier interface {
	Notify(ctx context.Context, p *model.Proposal) error
}
