package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
)

var (
	_ repository.FolioRangeRepository = (*FolioRangeRepo)(nil)
	_ repository.SeriesRepository     = (*FolioRangeRepo)(nil)
)

const folioRangeColumns = `id, tenant_id, document_type, range_start, range_end, cursor,
	authorized_date, expiry_date, active, caf_xml, created_at, updated_at`

const folioRangeSelect = `id::text, tenant_id, document_type, range_start, range_end, cursor,
	authorized_date, expiry_date, active, caf_xml, created_at, updated_at`

// FolioRangeRepo rangos CAF y correlativos por serie.
type FolioRangeRepo struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewFolioRangeRepository construye el adaptador.
func NewFolioRangeRepository(pool *pgxpool.Pool) *FolioRangeRepo {
	return &FolioRangeRepo{pool: pool, tx: NewTxRunner(pool)}
}

func (r *FolioRangeRepo) GetActive(ctx context.Context, tenantID string, documentType int) (*entity.FolioRange, error) {
	query := `SELECT ` + folioRangeSelect + `
		FROM folio_ranges WHERE tenant_id = $1 AND document_type = $2 AND active`
	fr, err := scanFolioRange(r.pool.QueryRow(ctx, query, tenantID, documentType))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get active folio range: %w", err)
	}
	return fr, nil
}

// IncrementCursor es un único UPDATE condicional: la fila queda bloqueada durante la sentencia,
// así dos emisiones concurrentes nunca leen el mismo cursor.
func (r *FolioRangeRepo) IncrementCursor(ctx context.Context, tenantID string, documentType int, now time.Time) (*entity.FolioRange, error) {
	query := `
		UPDATE folio_ranges
		SET cursor = cursor + 1, updated_at = $3
		WHERE tenant_id = $1 AND document_type = $2 AND active
		  AND cursor < range_end
		  AND (expiry_date IS NULL OR expiry_date > $3)
		RETURNING ` + folioRangeSelect
	fr, err := scanFolioRange(r.pool.QueryRow(ctx, query, tenantID, documentType, now))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("increment folio cursor: %w", err)
	}
	return fr, nil
}

func (r *FolioRangeRepo) ReplaceActive(ctx context.Context, fr *entity.FolioRange) error {
	if fr.RangeStart <= 0 || fr.RangeEnd < fr.RangeStart {
		return fmt.Errorf("%w: rango [%d,%d] inválido", domain.ErrInvalidInput, fr.RangeStart, fr.RangeEnd)
	}
	if fr.ID == "" {
		fr.ID = uuid.New().String()
	}
	now := time.Now()
	return r.tx.Run(ctx, func(q Querier) error {
		if _, err := q.Exec(ctx, `
			UPDATE folio_ranges SET active = FALSE, updated_at = $3
			WHERE tenant_id = $1 AND document_type = $2 AND active`,
			fr.TenantID, fr.DocumentType, now); err != nil {
			return fmt.Errorf("deactivate folio range: %w", err)
		}
		var authorized *time.Time
		if !fr.AuthorizedDate.IsZero() {
			authorized = &fr.AuthorizedDate
		}
		_, err := q.Exec(ctx, `
			INSERT INTO folio_ranges (`+folioRangeColumns+`)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, TRUE, $9, $10, $10)`,
			fr.ID, fr.TenantID, fr.DocumentType, fr.RangeStart, fr.RangeEnd, fr.Cursor,
			authorized, fr.ExpiryDate, fr.CAFXML, now,
		)
		if err != nil {
			return fmt.Errorf("insert folio range: %w", err)
		}
		fr.Active = true
		fr.CreatedAt, fr.UpdatedAt = now, now
		return nil
	})
}

func (r *FolioRangeRepo) ListByTenant(ctx context.Context, tenantID string) ([]*entity.FolioRange, error) {
	query := `SELECT ` + folioRangeSelect + `
		FROM folio_ranges WHERE tenant_id = $1 ORDER BY document_type, range_start`
	rows, err := r.pool.Query(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list folio ranges: %w", err)
	}
	defer rows.Close()
	var out []*entity.FolioRange
	for rows.Next() {
		fr, err := scanFolioRange(rows)
		if err != nil {
			return nil, fmt.Errorf("scan folio range: %w", err)
		}
		out = append(out, fr)
	}
	return out, rows.Err()
}

// NextCorrelative upsert atómico del contador de la serie.
func (r *FolioRangeRepo) NextCorrelative(ctx context.Context, tenantID string, documentType int, series string) (int64, error) {
	query := `
		INSERT INTO series_counters (tenant_id, document_type, series, last_number, updated_at)
		VALUES ($1, $2, $3, 1, NOW())
		ON CONFLICT (tenant_id, document_type, series)
		DO UPDATE SET last_number = series_counters.last_number + 1, updated_at = NOW()
		RETURNING last_number`
	var n int64
	if err := r.pool.QueryRow(ctx, query, tenantID, documentType, series).Scan(&n); err != nil {
		return 0, fmt.Errorf("next series correlative: %w", err)
	}
	return n, nil
}

func scanFolioRange(row pgx.Row) (*entity.FolioRange, error) {
	var fr entity.FolioRange
	var authorized *time.Time
	err := row.Scan(
		&fr.ID, &fr.TenantID, &fr.DocumentType, &fr.RangeStart, &fr.RangeEnd, &fr.Cursor,
		&authorized, &fr.ExpiryDate, &fr.Active, &fr.CAFXML, &fr.CreatedAt, &fr.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if authorized != nil {
		fr.AuthorizedDate = *authorized
	}
	return &fr, nil
}
