package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/avasiliev/proposal-system/internal/model"
	"github.com/avasiliev/proposal-system/internal/repository"
)

type stubService struct {
	id        int64
	err       error
	submitted []*model.ProposalCandidate
}

func (s *stubService) SubmitProposal(ctx context.Context, c *model.ProposalCandidate) (int64, error) {
	if s.err != nil {
		return 0, s.err
	}
	s.submitted = append(s.submitted, c)
	return s.id, nil
}

const validBody = `{
	"cpf": "12345678901",
	"nome": "Maria Silva",
	"data_nascimento": "1990-03-15",
	"valor_emprestimo": 1500.75,
	"chave_pix": "maria@example.com"
}`

func postProposal(t *testing.T, h *Handler, body string) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/proposal", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.CreateProposal(rec, req)
	return rec
}

func TestCreateProposal_Accepted(t *testing.T) {
	svc := &stubService{id: 42}
	h := NewHandler(svc, zap.NewNop())

	rec := postProposal(t, h, validBody)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusAccepted, rec.Body.String())
	}

	var resp proposalAcceptedResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.ProposalID != 42 {
		t.Errorf("proposal_id = %d, want 42", resp.ProposalID)
	}
	if resp.Status != string(model.StatusPending) {
		t.Errorf("status = %q, want %q", resp.Status, model.StatusPending)
	}
	if resp.Message == "" {
		t.Errorf("message is empty, want the acceptance text")
	}

	if len(svc.submitted) != 1 {
		t.Fatalf("submitted %d candidates, want 1", len(svc.submitted))
	}
	if svc.submitted[0].CPF != "12345678901" {
		t.Errorf("submitted CPF = %q, want 12345678901", svc.submitted[0].CPF)
	}
}

func TestCreateProposal_MalformedJSON(t *testing.T) {
	h := NewHandler(&stubService{}, zap.NewNop())

	rec := postProposal(t, h, `{"cpf": `)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if _, ok := resp.Errors["payload"]; !ok {
		t.Errorf("errors = %v, want payload entry", resp.Errors)
	}
}

func TestCreateProposal_ValidationErrors(t *testing.T) {
	svc := &stubService{}
	h := NewHandler(svc, zap.NewNop())

	rec := postProposal(t, h, `{
		"cpf": "123",
		"nome": "",
		"data_nascimento": "15/03/1990",
		"valor_emprestimo": 0,
		"chave_pix": "not-an-email"
	}`)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d; body: %s", rec.Code, http.StatusUnprocessableEntity, rec.Body.String())
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	for _, field := range []string{"cpf", "nome", "data_nascimento", "valor_emprestimo", "chave_pix"} {
		if _, ok := resp.Errors[field]; !ok {
			t.Errorf("errors = %v, want entry for field %q", resp.Errors, field)
		}
	}

	if len(svc.submitted) != 0 {
		t.Errorf("submitted %d candidates, want none for invalid payload", len(svc.submitted))
	}
}

func TestCreateProposal_DuplicateCPF(t *testing.T) {
	h := NewHandler(&stubService{err: repository.ErrProposalExists}, zap.NewNop())

	rec := postProposal(t, h, validBody)

	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusUnprocessableEntity)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	messages, ok := resp.Errors["cpf"]
	if !ok {
		t.Fatalf("errors = %v, want cpf entry", resp.Errors)
	}
	if !strings.Contains(strings.Join(messages, " "), "already been taken") {
		t.Errorf("cpf messages = %v, want duplicate diagnostics", messages)
	}
}

func TestCreateProposal_InternalError(t *testing.T) {
	h := NewHandler(&stubService{err: context.DeadlineExceeded}, zap.NewNop())

	rec := postProposal(t, h, validBody)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusInternalServerError)
	}

	var resp errorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Message == "" {
		t.Errorf("message is empty, want the internal error text")
	}
	if len(resp.Errors) != 0 {
		t.Errorf("errors = %v, want none for internal failure", resp.Errors)
	}
}
