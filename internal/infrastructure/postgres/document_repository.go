package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/emisor-dte/internal/domain"
	"github.com/jhoicas/emisor-dte/internal/domain/entity"
	"github.com/jhoicas/emisor-dte/internal/domain/repository"
)

var _ repository.DocumentRepository = (*DocumentRepo)(nil)

const documentColumns = `id, tenant_id, document_type, folio, issue_date, issuer, recipient, line_items,
	net_amount, tax_amount, exempt_amount, total_amount, state,
	track_id, raw_content, signed_content, authority_message, reference_document_id, reference_reason,
	transmit_to_authority, send_receipt_email, version, created_at, updated_at`

// documentSelect columnas UUID como texto para escanear en string.
const documentSelect = `id::text, tenant_id, document_type, folio, issue_date, issuer, recipient, line_items,
	net_amount, tax_amount, exempt_amount, total_amount, state,
	track_id, raw_content, signed_content, authority_message, reference_document_id::text, reference_reason,
	transmit_to_authority, send_receipt_email, version, created_at, updated_at`

// DocumentRepo DTE con líneas en JSONB y su historial de transiciones.
type DocumentRepo struct {
	pool *pgxpool.Pool
	tx   *TxRunner
}

// NewDocumentRepository construye el adaptador.
func NewDocumentRepository(pool *pgxpool.Pool) *DocumentRepo {
	return &DocumentRepo{pool: pool, tx: NewTxRunner(pool)}
}

func (r *DocumentRepo) Create(ctx context.Context, doc *entity.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	issuer, recipient, lines, err := marshalParts(doc)
	if err != nil {
		return err
	}
	now := time.Now()
	query := `
		INSERT INTO documents (` + documentColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, 1, $22, $22)`
	_, err = r.pool.Exec(ctx, query,
		doc.ID, doc.TenantID, doc.DocumentType, doc.Folio, doc.IssueDate, issuer, recipient, lines,
		doc.NetAmount, doc.TaxAmount, doc.ExemptAmount, doc.TotalAmount, string(doc.State),
		nullIfEmpty(doc.TrackID), nullIfEmpty(doc.RawContent), nullIfEmpty(doc.SignedContent),
		nullIfEmpty(doc.AuthorityMessage), nullIfEmpty(doc.ReferenceDocumentID), nullIfEmpty(doc.ReferenceReason),
		doc.TransmitToAuthority, doc.SendReceiptEmail, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("folio %d del tipo %d ya emitido: %w", doc.Folio, doc.DocumentType, err)
		}
		return fmt.Errorf("insert document: %w", err)
	}
	doc.Version = 1
	doc.CreatedAt, doc.UpdatedAt = now, now
	return nil
}

func (r *DocumentRepo) GetByID(ctx context.Context, id string) (*entity.Document, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}
	query := `SELECT ` + documentSelect + ` FROM documents WHERE id = $1`
	doc, err := scanDocument(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// Transition UPDATE condicionado al estado esperado; la fila de historial se inserta en la misma tx.
func (r *DocumentRepo) Transition(ctx context.Context, doc *entity.Document, expected entity.DocumentState, t *entity.StateTransition) error {
	now := time.Now()
	return r.tx.Run(ctx, func(q Querier) error {
		var version int64
		err := q.QueryRow(ctx, `
			UPDATE documents
			SET state             = $3,
			    folio             = $4,
			    track_id          = $5,
			    raw_content       = $6,
			    signed_content    = $7,
			    authority_message = $8,
			    version           = version + 1,
			    updated_at        = $9
			WHERE id = $1 AND state = $2
			RETURNING version`,
			doc.ID, string(expected), string(doc.State), doc.Folio,
			nullIfEmpty(doc.TrackID), nullIfEmpty(doc.RawContent), nullIfEmpty(doc.SignedContent),
			nullIfEmpty(doc.AuthorityMessage), now,
		).Scan(&version)
		if err != nil {
			if isNoRows(err) {
				return fmt.Errorf("documento %s ya no está en %s: %w", doc.ID, expected, domain.ErrConcurrentModification)
			}
			return fmt.Errorf("update document state: %w", err)
		}
		if t != nil && t.From != t.To {
			if t.ID == "" {
				t.ID = uuid.New().String()
			}
			if t.At.IsZero() {
				t.At = now
			}
			if _, err := q.Exec(ctx, `
				INSERT INTO document_transitions (id, document_id, from_state, to_state, detail, at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				t.ID, doc.ID, string(t.From), string(t.To), t.Detail, t.At); err != nil {
				return fmt.Errorf("insert transition: %w", err)
			}
		}
		doc.Version = version
		doc.UpdatedAt = now
		return nil
	})
}

// ClaimTransmission toma la reserva con un UPDATE condicionado: dos workers nunca la obtienen a la vez.
func (r *DocumentRepo) ClaimTransmission(ctx context.Context, documentID string, now, until time.Time) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE documents SET transmitting_until = $4
		WHERE id = $1 AND state = $2
		  AND (transmitting_until IS NULL OR transmitting_until <= $3)`,
		documentID, string(entity.StatePending), now, until)
	if err != nil {
		return fmt.Errorf("claim transmission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("documento %s con envío en curso o fuera de PENDING: %w", documentID, domain.ErrConcurrentModification)
	}
	return nil
}

func (r *DocumentRepo) ReleaseTransmission(ctx context.Context, documentID string) error {
	if _, err := r.pool.Exec(ctx, `UPDATE documents SET transmitting_until = NULL WHERE id = $1`, documentID); err != nil {
		return fmt.Errorf("release transmission: %w", err)
	}
	return nil
}

func (r *DocumentRepo) MarkPolled(ctx context.Context, documentID string, at time.Time) error {
	if _, err := r.pool.Exec(ctx, `UPDATE documents SET last_polled_at = $2 WHERE id = $1`, documentID, at); err != nil {
		return fmt.Errorf("mark polled: %w", err)
	}
	return nil
}

func (r *DocumentRepo) ListByState(ctx context.Context, state entity.DocumentState, limit int) ([]*entity.Document, error) {
	query := `SELECT ` + documentSelect + ` FROM documents WHERE state = $1
		ORDER BY last_polled_at NULLS FIRST, updated_at`
	args := []any{string(state)}
	if limit > 0 {
		query += ` LIMIT $2`
		args = append(args, limit)
	}
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list documents by state: %w", err)
	}
	defer rows.Close()
	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, rows.Err()
}

// ListByTenant lista documentos del tenant con paginación.
func (r *DocumentRepo) ListByTenant(ctx context.Context, tenantID string, limit, offset int) ([]*entity.Document, int, error) {
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM documents WHERE tenant_id = $1`, tenantID).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count documents: %w", err)
	}
	rows, err := r.pool.Query(ctx, `SELECT `+documentSelect+` FROM documents
		WHERE tenant_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`, tenantID, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()
	var out []*entity.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("scan document: %w", err)
		}
		out = append(out, doc)
	}
	return out, total, rows.Err()
}

func (r *DocumentRepo) ListTransitions(ctx context.Context, documentID string) ([]*entity.StateTransition, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, document_id::text, from_state, to_state, detail, at
		FROM document_transitions WHERE document_id = $1 ORDER BY at, id`, documentID)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()
	var out []*entity.StateTransition
	for rows.Next() {
		var t entity.StateTransition
		var from, to string
		if err := rows.Scan(&t.ID, &t.DocumentID, &from, &to, &t.Detail, &t.At); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		t.From, t.To = entity.DocumentState(from), entity.DocumentState(to)
		out = append(out, &t)
	}
	return out, rows.Err()
}

func marshalParts(doc *entity.Document) (issuer, recipient, lines []byte, err error) {
	if issuer, err = json.Marshal(doc.Issuer); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal issuer: %w", err)
	}
	if doc.Recipient != nil {
		if recipient, err = json.Marshal(doc.Recipient); err != nil {
			return nil, nil, nil, fmt.Errorf("marshal recipient: %w", err)
		}
	}
	if lines, err = json.Marshal(doc.LineItems); err != nil {
		return nil, nil, nil, fmt.Errorf("marshal line items: %w", err)
	}
	return issuer, recipient, lines, nil
}

func scanDocument(row pgx.Row) (*entity.Document, error) {
	var d entity.Document
	var issuer, recipient, lines []byte
	var state string
	var trackID, raw, signed, msg, refID, refReason *string
	err := row.Scan(
		&d.ID, &d.TenantID, &d.DocumentType, &d.Folio, &d.IssueDate, &issuer, &recipient, &lines,
		&d.NetAmount, &d.TaxAmount, &d.ExemptAmount, &d.TotalAmount, &state,
		&trackID, &raw, &signed, &msg, &refID, &refReason,
		&d.TransmitToAuthority, &d.SendReceiptEmail, &d.Version, &d.CreatedAt, &d.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	d.State = entity.DocumentState(state)
	d.TrackID, d.RawContent, d.SignedContent = derefStr(trackID), derefStr(raw), derefStr(signed)
	d.AuthorityMessage, d.ReferenceDocumentID, d.ReferenceReason = derefStr(msg), derefStr(refID), derefStr(refReason)
	if err := json.Unmarshal(issuer, &d.Issuer); err != nil {
		return nil, fmt.Errorf("unmarshal issuer: %w", err)
	}
	if len(recipient) > 0 {
		d.Recipient = &entity.Party{}
		if err := json.Unmarshal(recipient, d.Recipient); err != nil {
			return nil, fmt.Errorf("unmarshal recipient: %w", err)
		}
	}
	if err := json.Unmarshal(lines, &d.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshal line items: %w", err)
	}
	return &d, nil
}
