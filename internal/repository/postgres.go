// Package repository содержит реализацию доступа к данным в PostgreSQL.
package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/sethvargo/go-retry"
	"github.com/shopspring/decimal"

	"github.com/avasiliev/proposal-system/internal/model"
	"github.com/avasiliev/proposal-system/internal/scheduler"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrProposalExists возвращается при попытке создать заявку с уже зарегистрированным CPF.
var (
	ErrProposalExists = errors.New("proposal with this cpf already exists")
	// ErrProposalNotFound возвращается, если заявка не найдена.
	ErrProposalNotFound = errors.New("proposal not found")
)

const proposalColumns = `id, cpf, name, birth_date, loan_amount::text, pix_key,
	status, registration_error, notification_status, notification_error,
	created_at, updated_at`

// PostgresRepository предоставляет доступ к хранилищу заявок и очереди задач в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

// withRetry повторяет операцию при временных ошибках БД: сериализация, дедлок, обрыв соединения.
func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	backoff := retry.WithMaxRetries(3, retry.NewConstant(time.Second))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		err := fn()
		if err == nil {
			return nil
		}
		if isTransient(err) {
			return retry.RetryableError(err)
		}
		return err
	})
}

func isTransient(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// CreateProposal создаёт новую заявку с исходными статусами 'pending' и пустыми полями ошибок.
func (r *PostgresRepository) CreateProposal(ctx context.Context, c *model.ProposalCandidate) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO proposals (cpf, name, birth_date, loan_amount, pix_key)
		 VALUES ($1, $2, $3, $4, $5)
		 RETURNING id`,
		c.CPF, c.Name, c.BirthDate, c.LoanAmount.StringFixed(2), c.PixKey,
	).Scan(&id)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return 0, fmt.Errorf("%w: %s", ErrProposalExists, c.CPF)
		}
		return 0, fmt.Errorf("create proposal: %w", err)
	}
	return id, nil
}

// GetProposalByID возвращает заявку по идентификатору.
func (r *PostgresRepository) GetProposalByID(ctx context.Context, id int64) (*model.Proposal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE id = $1`,
		id,
	)

	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("get proposal: %w", err)
	}

	return p, nil
}

// GetProposalByCPF возвращает заявку по CPF.
func (r *PostgresRepository) GetProposalByCPF(ctx context.Context, cpf string) (*model.Proposal, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+proposalColumns+` FROM proposals WHERE cpf = $1`,
		cpf,
	)

	p, err := scanProposal(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProposalNotFound
		}
		return nil, fmt.Errorf("get proposal by cpf: %w", err)
	}

	return p, nil
}

func scanProposal(row pgx.Row) (*model.Proposal, error) {
	var (
		p          model.Proposal
		amountText string
		status     string
		notifSt    string
	)

	err := row.Scan(
		&p.ID, &p.CPF, &p.Name, &p.BirthDate, &amountText, &p.PixKey,
		&status, &p.RegistrationError, &notifSt, &p.NotificationError,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	amount, err := decimal.NewFromString(amountText)
	if err != nil {
		return nil, fmt.Errorf("parse loan amount %q: %w", amountText, err)
	}

	p.LoanAmount = amount
	p.Status = model.ProposalStatus(status)
	p.NotificationStatus = model.NotificationStatus(notifSt)

	return &p, nil
}

// SetRegistrationProcessing помечает регистрацию заявки как взятую в работу.
// Обновление выполняется только из статуса 'pending': завершённые заявки не затрагиваются.
func (r *PostgresRepository) SetRegistrationProcessing(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE proposals SET status = $2, updated_at = now()
			 WHERE id = $1 AND status = $3`,
			id, string(model.StatusProcessing), string(model.StatusPending),
		)
		if err != nil {
			return fmt.Errorf("set registration processing: %w", err)
		}
		return nil
	})
}

// MarkRegistered переводит регистрацию в терминальный статус 'registered' и очищает текст ошибки.
// Возвращает false, если заявка уже была в терминальном статусе и запись не изменилась.
func (r *PostgresRepository) MarkRegistered(ctx context.Context, id int64) (bool, error) {
	var updated bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE proposals SET status = $2, registration_error = NULL, updated_at = now()
			 WHERE id = $1 AND status IN ($3, $4)`,
			id, string(model.StatusRegistered),
			string(model.StatusPending), string(model.StatusProcessing),
		)
		if err != nil {
			return fmt.Errorf("mark registered: %w", err)
		}
		updated = tag.RowsAffected() == 1
		return nil
	})
	return updated, err
}

// MarkRegistrationFailed переводит регистрацию в терминальный статус 'failed' с текстом ошибки.
// Возвращает false, если заявка уже была в терминальном статусе и запись не изменилась.
func (r *PostgresRepository) MarkRegistrationFailed(ctx context.Context, id int64, reason string) (bool, error) {
	var updated bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE proposals SET status = $2, registration_error = $3, updated_at = now()
			 WHERE id = $1 AND status IN ($4, $5)`,
			id, string(model.StatusFailed), reason,
			string(model.StatusPending), string(model.StatusProcessing),
		)
		if err != nil {
			return fmt.Errorf("mark registration failed: %w", err)
		}
		updated = tag.RowsAffected() == 1
		return nil
	})
	return updated, err
}

// SetNotificationProcessing помечает доставку уведомления как взятую в работу.
func (r *PostgresRepository) SetNotificationProcessing(ctx context.Context, id int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE proposals SET notification_status = $2, updated_at = now()
			 WHERE id = $1 AND notification_status = $3`,
			id, string(model.NotificationProcessing), string(model.NotificationPending),
		)
		if err != nil {
			return fmt.Errorf("set notification processing: %w", err)
		}
		return nil
	})
}

// MarkNotificationSent переводит доставку уведомления в терминальный статус 'sent'.
func (r *PostgresRepository) MarkNotificationSent(ctx context.Context, id int64) (bool, error) {
	var updated bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE proposals SET notification_status = $2, notification_error = NULL, updated_at = now()
			 WHERE id = $1 AND notification_status IN ($3, $4)`,
			id, string(model.NotificationSent),
			string(model.NotificationPending), string(model.NotificationProcessing),
		)
		if err != nil {
			return fmt.Errorf("mark notification sent: %w", err)
		}
		updated = tag.RowsAffected() == 1
		return nil
	})
	return updated, err
}

// MarkNotificationFailed переводит доставку уведомления в терминальный статус 'failed'.
func (r *PostgresRepository) MarkNotificationFailed(ctx context.Context, id int64, reason string) (bool, error) {
	var updated bool
	err := r.withRetry(ctx, func() error {
		tag, err := r.pool.Exec(ctx,
			`UPDATE proposals SET notification_status = $2, notification_error = $3, updated_at = now()
			 WHERE id = $1 AND notification_status IN ($4, $5)`,
			id, string(model.NotificationFailed), reason,
			string(model.NotificationPending), string(model.NotificationProcessing),
		)
		if err != nil {
			return fmt.Errorf("mark notification failed: %w", err)
		}
		updated = tag.RowsAffected() == 1
		return nil
	})
	return updated, err
}

// EnqueueJob добавляет задачу в очередь.
func (r *PostgresRepository) EnqueueJob(ctx context.Context, kind string, proposalID int64) (int64, error) {
	var id int64
	err := r.pool.QueryRow(ctx,
		`INSERT INTO jobs (kind, proposal_id) VALUES ($1, $2) RETURNING id`,
		kind, proposalID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("enqueue job: %w", err)
	}
	return id, nil
}

// DequeueDueJobs выбирает созревшие задачи и удерживает их на время lease.
// Задача, чьё удержание истекло без подтверждения исхода, выдаётся повторно:
// доставка как минимум однократная. Конкурентные воркеры не блокируют
// друг друга благодаря FOR UPDATE SKIP LOCKED.
func (r *PostgresRepository) DequeueDueJobs(ctx context.Context, limit int, lease time.Duration) ([]scheduler.Job, error) {
	holdUntil := time.Now().Add(lease)

	rows, err := r.pool.Query(ctx,
		`WITH due AS (
			SELECT id FROM jobs
			WHERE state IN ('pending', 'running') AND run_at <= now()
			ORDER BY run_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE jobs j
		SET state = 'running', run_at = $2, updated_at = now()
		FROM due
		WHERE j.id = due.id
		RETURNING j.id, j.kind, j.proposal_id, j.attempts, COALESCE(j.last_error, '')`,
		limit, holdUntil,
	)
	if err != nil {
		return nil, fmt.Errorf("dequeue jobs: %w", err)
	}
	defer rows.Close()

	var jobs []scheduler.Job
	for rows.Next() {
		var j scheduler.Job
		if err := rows.Scan(&j.ID, &j.Kind, &j.ProposalID, &j.Attempts, &j.LastError); err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, j)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return jobs, nil
}

// MarkJobDone помечает задачу как успешно выполненную.
func (r *PostgresRepository) MarkJobDone(ctx context.Context, jobID int64) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE jobs SET state = 'done', updated_at = now() WHERE id = $1`,
			jobID,
		)
		if err != nil {
			return fmt.Errorf("mark job done: %w", err)
		}
		return nil
	})
}

// MarkJobRetry возвращает задачу в очередь с увеличенным счётчиком попыток и временем следующего запуска.
func (r *PostgresRepository) MarkJobRetry(ctx context.Context, jobID int64, reason string, runAt time.Time) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE jobs
			 SET state = 'pending', attempts = attempts + 1, last_error = $2, run_at = $3, updated_at = now()
			 WHERE id = $1`,
			jobID, reason, runAt,
		)
		if err != nil {
			return fmt.Errorf("mark job retry: %w", err)
		}
		return nil
	})
}

// MarkJobExhausted помечает задачу как исчерпавшую лимит попыток.
func (r *PostgresRepository) MarkJobExhausted(ctx context.Context, jobID int64, reason string) error {
	return r.withRetry(ctx, func() error {
		_, err := r.pool.Exec(ctx,
			`UPDATE jobs
			 SET state = 'exhausted', attempts = attempts + 1, last_error = $2, updated_at = now()
			 WHERE id = $1`,
			jobID, reason,
		)
		if err != nil {
			return fmt.Errorf("mark job exhausted: %w", err)
		}
		return nil
	})
}
