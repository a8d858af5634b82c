package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
)

var _ repository.CredentialRepository = (*CredentialRepo)(nil)

// CredentialRepo certificados de firma de los tenants.
type CredentialRepo struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewCredentialRepository construye el adaptador.
func NewCredentialRepository(pool *pgxpool.Pool) *CredentialRepo {
	return &CredentialRepo{pool: pool, tx: NewTxRunner(pool)}
}

func (r *CredentialRepo) GetActive(ctx context.Context, tenantID string) (*entity.SigningCredential, error) {
	query := `
		SELECT id::text, tenant_id, credential_bytes, credential_password, expiry_date, active, created_at
		FROM signing_credentials WHERE tenant_id = $1 AND active`
	var c entity.SigningCredential
	err := r.pool.QueryRow(ctx, query, tenantID).Scan(
		&c.ID, &c.TenantID, &c.CredentialBytes, &c.CredentialPassword, &c.ExpiryDate, &c.Active, &c.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active credential: %w", err)
	}
	return &c, nil
}

func (r *CredentialRepo) Rotate(ctx context.Context, cred *entity.SigningCredential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}
	now := time.Now()
	return r.tx.Run(ctx, func(q Querier) error {
		if _, err := q.Exec(ctx,
			`UPDATE signing_credentials SET active = FALSE WHERE tenant_id = $1 AND active`, cred.TenantID); err != nil {
			return fmt.Errorf("deactivate credential: %w", err)
		}
		_, err := q.Exec(ctx, `
			INSERT INTO signing_credentials (id, tenant_id, credential_bytes, credential_password, expiry_date, active, created_at)
			VALUES ($1, $2, $3, $4, $5, TRUE, $6)`,
			cred.ID, cred.TenantID, cred.CredentialBytes, cred.CredentialPassword, cred.ExpiryDate, now,
		)
		if err != nil {
			return fmt.Errorf("insert credential: %w", err)
		}
		cred.Active = true
		cred.CreatedAt = now
		return nil
	})
}
