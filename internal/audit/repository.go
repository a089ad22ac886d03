package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/aed-compliance/platform/internal/shared/database"
	"github.com/aed-compliance/platform/internal/shared/errors"
	"github.com/aed-compliance/platform/internal/shared/metrics"
	"github.com/aed-compliance/platform/internal/shared/types"
)

// chainLockKey is the advisory lock that serialises appends across all
// service instances.
const chainLockKey int64 = 0x4145445f41554454 // "AED_AUDT"

const entryColumns = `id, sequence, timestamp, hash, prev_hash,
	actor_type, actor_id, actor_role, actor_ip,
	action, resource_type, resource_id,
	changes, justification`

// Pool is the subset of *pgxpool.Pool the repository needs.
type Pool interface {
	database.Querier
	database.TxBeginner
}

// Repository provides append-only audit log operations
type Repository struct {
	pool Pool
}

// NewRepository creates a new audit repository
func NewRepository(pool Pool) *Repository {
	return &Repository{pool: pool}
}

// Append appends an entry in its own transaction.
func (r *Repository) Append(ctx context.Context, entry *AuditEntry) error {
	return database.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return r.AppendTx(ctx, tx, entry)
	})
}

// AppendTx appends an entry inside the caller's transaction, so the entry
// is only written if the audited change commits. The advisory lock is held
// until that transaction ends.
func (r *Repository) AppendTx(ctx context.Context, tx pgx.Tx, entry *AuditEntry) error {
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, chainLockKey); err != nil {
		return errors.Wrap(err, "failed to lock audit chain")
	}

	var prevHash string
	err := tx.QueryRow(ctx, `SELECT hash FROM audit.entries ORDER BY sequence DESC LIMIT 1`).Scan(&prevHash)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return errors.Wrap(err, "failed to get last audit hash")
	}

	entry.PrevHash = prevHash
	entry.Hash = entry.calculateHash()

	var changesJSON []byte
	if len(entry.Changes) > 0 {
		changesJSON, err = json.Marshal(entry.Changes)
		if err != nil {
			return errors.Wrap(err, "failed to marshal changes")
		}
	}

	err = tx.QueryRow(ctx, `
		INSERT INTO audit.entries (
			id, timestamp, hash, prev_hash,
			actor_type, actor_id, actor_role, actor_ip,
			action, resource_type, resource_id,
			changes, justification
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING sequence`,
		entry.ID, entry.Timestamp, entry.Hash, entry.PrevHash,
		entry.ActorType, entry.ActorID, nullable(entry.ActorRole), nullable(entry.ActorIP),
		entry.Action, entry.ResourceType, nullable(entry.ResourceID),
		changesJSON, nullable(entry.Justification),
	).Scan(&entry.Sequence)
	if err != nil {
		return errors.Wrap(err, "failed to append audit entry")
	}

	metrics.RecordAuditEntry()
	return nil
}

// Log records an event for the principal in ctx. It satisfies the audit
// logger interfaces of other packages.
func (r *Repository) Log(ctx context.Context, action, resourceType, resourceID string, details map[string]any) error {
	return r.Append(ctx, EntryFor(ctx, action, resourceType, resourceID, details))
}

// List lists audit entries with filters (read-only)
func (r *Repository) List(ctx context.Context, filter ListEntriesFilter) ([]AuditEntry, int, error) {
	var conditions []string
	var args []any
	argNum := 1

	if filter.ActorID != "" {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argNum))
		args = append(args, filter.ActorID)
		argNum++
	}

	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action LIKE $%d", argNum))
		args = append(args, filter.Action+"%")
		argNum++
	}

	if filter.ResourceType != "" {
		conditions = append(conditions, fmt.Sprintf("resource_type = $%d", argNum))
		args = append(args, filter.ResourceType)
		argNum++
	}

	if filter.ResourceID != "" {
		conditions = append(conditions, fmt.Sprintf("resource_id = $%d", argNum))
		args = append(args, filter.ResourceID)
		argNum++
	}

	if filter.StartTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp >= $%d", argNum))
		args = append(args, *filter.StartTime)
		argNum++
	}

	if filter.EndTime != nil {
		conditions = append(conditions, fmt.Sprintf("timestamp <= $%d", argNum))
		args = append(args, *filter.EndTime)
		argNum++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.pool.QueryRow(ctx, "SELECT COUNT(*) FROM audit.entries "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, errors.Wrap(err, "failed to count audit entries")
	}

	limit := 50
	if filter.Limit > 0 && filter.Limit <= 100 {
		limit = filter.Limit
	}

	query := fmt.Sprintf(`SELECT %s FROM audit.entries %s ORDER BY sequence DESC LIMIT $%d OFFSET $%d`,
		entryColumns, whereClause, argNum, argNum+1)
	args = append(args, limit, max(filter.Offset, 0))

	entries, err := r.query(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return entries, total, nil
}

// FindByID finds an audit entry by ID (read-only)
func (r *Repository) FindByID(ctx context.Context, id types.ID) (*AuditEntry, error) {
	entries, err := r.query(ctx, `SELECT `+entryColumns+` FROM audit.entries WHERE id = $1`, id)
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, errors.NotFound("audit entry", id.String())
	}
	return &entries[0], nil
}

// VerifyChain checks the newest limit entries.
func (r *Repository) VerifyChain(ctx context.Context, limit int, includeDetails bool) (*VerifyResult, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	entries, err := r.query(ctx, `SELECT `+entryColumns+` FROM audit.entries ORDER BY sequence DESC LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	return VerifyEntries(entries, includeDetails), nil
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]AuditEntry, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query audit entries")
	}
	defer rows.Close()

	entries := make([]AuditEntry, 0)
	for rows.Next() {
		var e AuditEntry
		var changesJSON []byte
		var role, ip, resourceID, justification *string

		err := rows.Scan(
			&e.ID, &e.Sequence, &e.Timestamp, &e.Hash, &e.PrevHash,
			&e.ActorType, &e.ActorID, &role, &ip,
			&e.Action, &e.ResourceType, &resourceID,
			&changesJSON, &justification,
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan audit entry")
		}
		e.ActorRole = deref(role)
		e.ActorIP = deref(ip)
		e.ResourceID = deref(resourceID)
		e.Justification = deref(justification)

		if len(changesJSON) > 0 {
			if err := json.Unmarshal(changesJSON, &e.Changes); err != nil {
				e.Changes = nil
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read audit entries")
	}
	return entries, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
