package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/soullink/soullink/internal/storage"
	"github.com/soullink/soullink/pkg/types"
)

const memoryColumns = `id, user_id, tier, content, content_hash, category,
	confidence, salience, reinforcement_count, created_at, last_reinforced_at,
	source_conversation_id`

// tierOrder sorts tiers permanent first for ListAll.
const tierOrder = `CASE tier WHEN 'permanent' THEN 0 WHEN 'long_term' THEN 1 ELSE 2 END`

// Upsert inserts the record or replaces the row sharing its
// (user_id, tier, content_hash). The conflict branch keeps the original
// id and created_at so a merged fact retains its identity.
func (s *Store) Upsert(ctx context.Context, record *types.MemoryRecord) error {
	if record.ID == "" || record.UserID == "" || record.ContentHash == "" {
		return storage.ErrInvalidInput
	}
	if !types.IsValidTier(record.Tier) {
		return storage.ErrInvalidInput
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO memory_records (`+memoryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, tier, content_hash) DO UPDATE SET
			content = excluded.content,
			category = excluded.category,
			confidence = excluded.confidence,
			salience = excluded.salience,
			reinforcement_count = excluded.reinforcement_count,
			last_reinforced_at = excluded.last_reinforced_at,
			source_conversation_id = excluded.source_conversation_id`,
		record.ID, record.UserID, string(record.Tier), record.Content,
		record.ContentHash, record.Category, record.Confidence, record.Salience,
		record.ReinforcementCount, record.CreatedAt.UnixNano(),
		record.LastReinforcedAt.UnixNano(), record.SourceConversationID,
	)
	if err != nil {
		return fmt.Errorf("upsert memory record: %w", err)
	}
	return nil
}

// Update rewrites an existing record by ID, including tier moves during
// promotion.
func (s *Store) Update(ctx context.Context, record *types.MemoryRecord) error {
	if record.ID == "" || record.UserID == "" {
		return storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE memory_records SET
			tier = ?,
			content = ?,
			content_hash = ?,
			category = ?,
			confidence = ?,
			salience = ?,
			reinforcement_count = ?,
			last_reinforced_at = ?,
			source_conversation_id = ?
		WHERE user_id = ? AND id = ?`,
		string(record.Tier), record.Content, record.ContentHash,
		record.Category, record.Confidence, record.Salience,
		record.ReinforcementCount, record.LastReinforcedAt.UnixNano(),
		record.SourceConversationID, record.UserID, record.ID,
	)
	if err != nil {
		return fmt.Errorf("update memory record: %w", err)
	}
	return requireRowAffected(res)
}

// Get retrieves a record by ID.
func (s *Store) Get(ctx context.Context, userID, id string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memory_records
		WHERE user_id = ? AND id = ?`, userID, id)
	return scanMemoryRecord(row)
}

// GetByHash finds the record with the given normalized content hash in
// any tier. The classifier guarantees at most one tier holds a hash, so
// a bare LIMIT 1 is safe.
func (s *Store) GetByHash(ctx context.Context, userID, contentHash string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memory_records
		WHERE user_id = ? AND content_hash = ? LIMIT 1`, userID, contentHash)
	return scanMemoryRecord(row)
}

// GetByContent finds a record by exact content text in any tier.
func (s *Store) GetByContent(ctx context.Context, userID, content string) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memory_records
		WHERE user_id = ? AND content = ? LIMIT 1`, userID, content)
	return scanMemoryRecord(row)
}

// ListByTier returns the user's records in one tier, salience
// descending, ties broken by most recent reinforcement.
func (s *Store) ListByTier(ctx context.Context, userID string, tier types.Tier) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memory_records
		WHERE user_id = ? AND tier = ?
		ORDER BY salience DESC, last_reinforced_at DESC`, userID, string(tier))
	if err != nil {
		return nil, fmt.Errorf("list memory records by tier: %w", err)
	}
	defer rows.Close()
	return collectMemoryRecords(rows)
}

// ListAll returns every record for the user, permanent tier first.
func (s *Store) ListAll(ctx context.Context, userID string) ([]*types.MemoryRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+memoryColumns+` FROM memory_records
		WHERE user_id = ?
		ORDER BY `+tierOrder+`, salience DESC, last_reinforced_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list memory records: %w", err)
	}
	defer rows.Close()
	return collectMemoryRecords(rows)
}

// CountByTier returns how many records the user holds in a tier.
func (s *Store) CountByTier(ctx context.Context, userID string, tier types.Tier) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM memory_records
		WHERE user_id = ? AND tier = ?`, userID, string(tier)).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count memory records: %w", err)
	}
	return count, nil
}

// EvictionCandidate returns the lowest-salience record in the tier,
// ties broken by oldest last_reinforced_at.
func (s *Store) EvictionCandidate(ctx context.Context, userID string, tier types.Tier) (*types.MemoryRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT `+memoryColumns+` FROM memory_records
		WHERE user_id = ? AND tier = ?
		ORDER BY salience ASC, last_reinforced_at ASC
		LIMIT 1`, userID, string(tier))
	return scanMemoryRecord(row)
}

// Delete removes a record by ID.
func (s *Store) Delete(ctx context.Context, userID, id string) error {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_records WHERE user_id = ? AND id = ?`, userID, id)
	if err != nil {
		return fmt.Errorf("delete memory record: %w", err)
	}
	return requireRowAffected(res)
}

// EvictStale removes records in the tier not reinforced since cutoff.
func (s *Store) EvictStale(ctx context.Context, userID string, tier types.Tier, cutoff time.Time) (int, error) {
	if tier == types.TierPermanent {
		return 0, storage.ErrInvalidInput
	}

	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_records
		WHERE user_id = ? AND tier = ? AND last_reinforced_at < ?`,
		userID, string(tier), cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("evict stale memory records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("evict stale memory records: %w", err)
	}
	return int(n), nil
}

// DeleteUser removes every record the user holds.
func (s *Store) DeleteUser(ctx context.Context, userID string) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM memory_records WHERE user_id = ?`, userID)
	if err != nil {
		return 0, fmt.Errorf("delete user memory records: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("delete user memory records: %w", err)
	}
	return int(n), nil
}

// scanMemoryRecord scans one row into a MemoryRecord, translating
// sql.ErrNoRows to storage.ErrNotFound.
func scanMemoryRecord(row *sql.Row) (*types.MemoryRecord, error) {
	var (
		rec            types.MemoryRecord
		tier           string
		createdNanos   int64
		reinforceNanos int64
	)
	err := row.Scan(&rec.ID, &rec.UserID, &tier, &rec.Content, &rec.ContentHash,
		&rec.Category, &rec.Confidence, &rec.Salience, &rec.ReinforcementCount,
		&createdNanos, &reinforceNanos, &rec.SourceConversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan memory record: %w", err)
	}
	rec.Tier = types.Tier(tier)
	rec.CreatedAt = time.Unix(0, createdNanos).UTC()
	rec.LastReinforcedAt = time.Unix(0, reinforceNanos).UTC()
	return &rec, nil
}

// collectMemoryRecords drains a result set of memory rows.
func collectMemoryRecords(rows *sql.Rows) ([]*types.MemoryRecord, error) {
	var records []*types.MemoryRecord
	for rows.Next() {
		var (
			rec            types.MemoryRecord
			tier           string
			createdNanos   int64
			reinforceNanos int64
		)
		err := rows.Scan(&rec.ID, &rec.UserID, &tier, &rec.Content,
			&rec.ContentHash, &rec.Category, &rec.Confidence, &rec.Salience,
			&rec.ReinforcementCount, &createdNanos, &reinforceNanos,
			&rec.SourceConversationID)
		if err != nil {
			return nil, fmt.Errorf("scan memory record: %w", err)
		}
		rec.Tier = types.Tier(tier)
		rec.CreatedAt = time.Unix(0, createdNanos).UTC()
		rec.LastReinforcedAt = time.Unix(0, reinforceNanos).UTC()
		records = append(records, &rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate memory records: %w", err)
	}
	return records, nil
}

// requireRowAffected maps a zero-row mutation to ErrNotFound.
func requireRowAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}
