// Package model содержит доменные сущности сервиса кредитных заявок.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// ProposalStatus описывает статус регистрации заявки во внешней системе авторизации.
type ProposalStatus string

const (
	StatusPending    ProposalStatus = "pending"
	StatusProcessing ProposalStatus = "processing"
	StatusRegistered ProposalStatus = "registered"
	StatusFailed     ProposalStatus = "failed"

	// StatusAccepted — историческое значение из ранних версий схемы.
	// Новые записи его не получают, но заявки с этим статусом считаются
	// завершёнными и повторно не обрабатываются.
	StatusAccepted ProposalStatus = "accepted"
)

// Concluded сообщает, завершена ли регистрация заявки: из такого статуса переходы запрещены.
func (s ProposalStatus) Concluded() bool {
	return s == StatusRegistered || s == StatusAccepted || s == StatusFailed
}

// NotificationStatus описывает статус доставки уведомления по заявке.
type NotificationStatus string

const (
	NotificationPending    NotificationStatus = "pending"
	NotificationProcessing NotificationStatus = "processing"
	NotificationSent       NotificationStatus = "sent"
	NotificationFailed     NotificationStatus = "failed"
)

// Concluded сообщает, завершена ли доставка уведомления.
func (s NotificationStatus) Concluded() bool {
	return s == NotificationSent || s == NotificationFailed
}

// Proposal представляет кредитную заявку с двумя независимыми статусами обработки:
// регистрацией во внешней системе авторизации и доставкой уведомления заявителю.
type Proposal struct {
	ID                 int64
	CPF                string
	Name               string
	BirthDate          time.Time
	LoanAmount         decimal.Decimal
	PixKey             string
	Status             ProposalStatus
	RegistrationError  *string
	NotificationStatus NotificationStatus
	NotificationError  *string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// ProposalCandidate содержит проверенные данные новой заявки перед сохранением.
type ProposalCandidate struct {
	CPF        string
	Name       string
	BirthDate  time.Time
	LoanAmount decimal.Decimal
	PixKey     string
}
