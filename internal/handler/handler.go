// Package handler содержит HTTP-обработчики API сервиса кредитных заявок.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/avasiliev/proposal-system/internal/model"
	"github.com/avasiliev/proposal-system/internal/repository"
	"github.com/avasiliev/proposal-system/internal/validation"
)

// Service определяет контракт бизнес-логики, используемой HTTP-обработчиками.
type Service interface {
	SubmitProposal(ctx context.Context, c *model.ProposalCandidate) (int64, error)
}

// Handler реализует HTTP-обработчики API сервиса заявок.
type Handler struct {
	service Service
	logger  *zap.Logger
}

// NewHandler создаёт новый экземпляр обработчика HTTP-запросов.
func NewHandler(s Service, logger *zap.Logger) *Handler {
	return &Handler{
		service: s,
		logger:  logger,
	}
}

type proposalAcceptedResponse struct {
	Message    string `json:"message"`
	ProposalID int64  `json:"proposal_id"`
	Status     string `json:"status"`
}

type errorResponse struct {
	Message string              `json:"message"`
	Errors  map[string][]string `json:"errors,omitempty"`
}

const (
	validationMessage = "Erro de validação nos dados da proposta."
	acceptedMessage   = "Proposta recebida com sucesso e em processamento. Você será notificado em breve."
	internalMessage   = "Ocorreu um erro interno ao processar sua solicitação. Por favor, tente novamente mais tarde."
)

// CreateProposal принимает новую кредитную заявку и отвечает 202 до завершения
// её асинхронной обработки.
func (h *Handler) CreateProposal(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var payload validation.ProposalPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Message: validationMessage,
			Errors:  map[string][]string{"payload": {"request body must be valid JSON"}},
		})
		return
	}

	candidate, verrs := validation.ValidateProposal(payload)
	if len(verrs) > 0 {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
			Message: validationMessage,
			Errors:  verrs,
		})
		return
	}

	id, err := h.service.SubmitProposal(r.Context(), candidate)
	if err != nil {
		if errors.Is(err, repository.ErrProposalExists) {
			writeJSON(w, http.StatusUnprocessableEntity, errorResponse{
				Message: validationMessage,
				Errors:  map[string][]string{"cpf": {"the cpf has already been taken"}},
			})
			return
		}
		h.logger.Error("submit proposal error", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{
			Message: internalMessage,
		})
		return
	}

	writeJSON(w, http.StatusAccepted, proposalAcceptedResponse{
		Message:    acceptedMessage,
		ProposalID: id,
		Status:     string(model.StatusPending),
	})
}

func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	_ = json.NewEncoder(w).Encode(v)
}
