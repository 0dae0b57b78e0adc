package jobs

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/avasiliev/proposal-system/internal/model"
	"github.com/avasiliev/proposal-system/internal/repository"
)

type stubStore struct {
	proposal    *model.Proposal
	proposalErr error

	processingErr error
	markErr       error

	ops []string
}

func (s *stubStore) GetProposalByID(ctx context.Context, id int64) (*model.Proposal, error) {
	s.ops = append(s.ops, "get")
	return s.proposal, s.proposalErr
}

func (s *stubStore) SetRegistrationProcessing(ctx context.Context, id int64) error {
	s.ops = append(s.ops, "registration_processing")
	return s.processingErr
}

func (s *stubStore) MarkRegistered(ctx context.Context, id int64) (bool, error) {
	s.ops = append(s.ops, "mark_registered")
	return s.markErr == nil, s.markErr
}

func (s *stubStore) MarkRegistrationFailed(ctx context.Context, id int64, reason string) (bool, error) {
	s.ops = append(s.ops, "mark_registration_failed: "+reason)
	return s.markErr == nil, s.markErr
}

func (s *stubStore) SetNotificationProcessing(ctx context.Context, id int64) error {
	s.ops = append(s.ops, "notification_processing")
	return s.processingErr
}

func (s *stubStore) MarkNotificationSent(ctx context.Context, id int64) (bool, error) {
	s.ops = append(s.ops, "mark_notification_sent")
	return s.markErr == nil, s.markErr
}

func (s *stubStore) MarkNotificationFailed(ctx context.Context, id int64, reason string) (bool, error) {
	s.ops = append(s.ops, "mark_notification_failed: "+reason)
	return s.markErr == nil, s.markErr
}

type stubAuthorizer struct {
	err    error
	called int

	onCall func()
}

func (a *stubAuthorizer) Authorize(ctx context.Context, p *model.Proposal) error {
	a.called++
	if a.onCall != nil {
		a.onCall()
	}
	return a.err
}

func testProposal(status model.ProposalStatus, notifStatus model.NotificationStatus) *model.Proposal {
	return &model.Proposal{
		ID:                 42,
		CPF:                "12345678901",
		Name:               "João da Silva",
		BirthDate:          time.Date(1985, 1, 1, 0, 0, 0, 0, time.UTC),
		LoanAmount:         decimal.RequireFromString("1500.75"),
		PixKey:             "joao.silva@email.com",
		Status:             status,
		NotificationStatus: notifStatus,
	}
}

func TestRegisterExecute_AlreadyConcluded(t *testing.T) {
	for _, status := range []model.ProposalStatus{
		model.StatusRegistered,
		model.StatusAccepted,
		model.StatusFailed,
	} {
		t.Run(string(status), func(t *testing.T) {
			store := &stubStore{proposal: testProposal(status, model.NotificationPending)}
			auth := &stubAuthorizer{}
			job := NewRegisterProposalJob(store, auth, zap.NewNop())

			res := job.Execute(context.Background(), 42)

			if res.NeedsRetry() {
				t.Fatalf("expected terminal short-circuit, got retry %q", res.Reason())
			}
			if auth.called != 0 {
				t.Fatalf("external call made for concluded proposal")
			}
			for _, op := range store.ops {
				if op != "get" {
					t.Fatalf("unexpected store mutation %q for concluded proposal", op)
				}
			}
		})
	}
}

func TestRegisterExecute_NotFound(t *testing.T) {
	store := &stubStore{proposalErr: repository.ErrProposalNotFound}
	auth := &stubAuthorizer{}
	job := NewRegisterProposalJob(store, auth, zap.NewNop())

	res := job.Execute(context.Background(), 42)

	if res.NeedsRetry() {
		t.Fatalf("missing proposal must not be retried")
	}
	if auth.called != 0 {
		t.Fatalf("external call made for missing proposal")
	}
}

func TestRegisterExecute_LoadErrorRetries(t *testing.T) {
	store := &stubStore{proposalErr: errors.New("connection refused")}
	job := NewRegisterProposalJob(store, &stubAuthorizer{}, zap.NewNop())

	res := job.Execute(context.Background(), 42)

	if !res.NeedsRetry() {
		t.Fatalf("store failure must be retried")
	}
	if !strings.Contains(res.Reason(), "connection refused") {
		t.Fatalf("reason = %q, want load diagnostics", res.Reason())
	}
}

func TestRegisterExecute_PendingClaimedBeforeCall(t *testing.T) {
	store := &stubStore{proposal: testProposal(model.StatusPending, model.NotificationPending)}

	claimedBeforeCall := false
	auth := &stubAuthorizer{}
	auth.onCall = func() {
		for _, op := range store.ops {
			if op == "registration_processing" {
				claimedBeforeCall = true
			}
		}
	}

	job := NewRegisterProposalJob(store, auth, zap.NewNop())

	res := job.Execute(context.Background(), 42)

	if res.NeedsRetry() {
		t.Fatalf("unexpected retry: %q", res.Reason())
	}
	if auth.called != 1 {
		t.Fatalf("authorizer called %d times, want 1", auth.called)
	}
	if !claimedBeforeCall {
		t.Fatalf("processing marker not persisted before the external call")
	}

	last := store.ops[len(store.ops)-1]
	if last != "mark_registered" {
		t.Fatalf("last op = %q, want mark_registered", last)
	}
}

func TestRegisterExecute_ProcessingSkipsClaim(t *testing.T) {
	store := &stubStore{proposal: testProposal(model.StatusProcessing, model.NotificationPending)}
	auth := &stubAuthorizer{}
	job := NewRegisterProposalJob(store, auth, zap.NewNop())

	res := job.Execute(context.Background(), 42)

	if res.NeedsRetry() {
		t.Fatalf("unexpected retry: %q", res.Reason())
	}
	for _, op := range store.ops {
		if op == "registration_processing" {
			t.Fatalf("claim repeated for a proposal already in processing")
		}
	}
	if auth.called != 1 {
		t.Fatalf("authorizer called %d times, want 1", auth.called)
	}
}

func TestRegisterExecute_DeniedRetriesKeepingProcessing(t *testing.T) {
	store := &stubStore{proposal: testProposal(model.StatusProcessing, model.NotificationPending)}
	auth := &stubAuthorizer{err: errors.New("authorization denied or unexpected response: HTTP status 200")}
	job := NewRegisterProposalJob(store, auth, zap.NewNop())

	res := job.Execute(context.Background(), 42)

	if !res.NeedsRetry() {
		t.Fatalf("denied authorization must be retried")
	}
	if !strings.Contains(res.Reason(), "authorization denied") {
		t.Fatalf("reason = %q, want authorization diagnostics", res.Reason())
	}
	for _, op := range store.ops {
		if op == "mark_registered" || strings.HasPrefix(op, "mark_registration_failed") {
			t.Fatalf("terminal write %q on a retryable failure", op)
		}
	}
}

func TestRegisterExhausted_SetsFailedWithReason(t *testing.T) {
	store := &stubStore{}
	job := NewRegisterProposalJob(store, &stubAuthorizer{}, zap.NewNop())

	job.Exhausted(context.Background(), 42, "HTTP status 500, body: oops")

	if len(store.ops) != 1 {
		t.Fatalf("ops = %v, want a single terminal write", store.ops)
	}
	op := store.ops[0]
	if !strings.HasPrefix(op, "mark_registration_failed") {
		t.Fatalf("op = %q, want mark_registration_failed", op)
	}
	if !strings.Contains(op, "permanently failed after exhausting all retry attempts") {
		t.Fatalf("op = %q, want permanent-failure wording", op)
	}
	if !strings.Contains(op, "HTTP status 500, body: oops") {
		t.Fatalf("op = %q, want last failure reason included", op)
	}
}

func TestRegisterBackoffSchedule(t *testing.T) {
	job := NewRegisterProposalJob(&stubStore{}, &stubAuthorizer{}, zap.NewNop())

	schedule := job.BackoffSchedule()
	if len(schedule) != 9 {
		t.Fatalf("schedule length = %d, want 9", len(schedule))
	}
	if schedule[0] != 10*time.Second {
		t.Fatalf("first delay = %v, want 10s", schedule[0])
	}
	if schedule[len(schedule)-1] != 3600*time.Second {
		t.Fatalf("last delay = %v, want 1h", schedule[len(schedule)-1])
	}
	if job.MaxAttempts() != 9999 {
		t.Fatalf("max attempts = %d, want 9999", job.MaxAttempts())
	}
}
