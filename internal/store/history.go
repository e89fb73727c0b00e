package store

import (
	"fmt"

	"playbackd/internal/models"
)

const historyColumns = `id, request_id, source_url, playable_url, source_type, title, artist,
	started_at, stopped_at, position_ms, duration_ms, created_at`

const historyInsertSQL = `INSERT INTO playback_history (request_id, source_url, playable_url, source_type,
	title, artist, started_at, stopped_at, position_ms, duration_ms)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func scanHistoryEntry(scanner interface{ Scan(...any) error }) (models.HistoryEntry, error) {
	var e models.HistoryEntry
	var sourceType string
	err := scanner.Scan(&e.ID, &e.RequestID, &e.SourceURL, &e.PlayableURL, &sourceType,
		&e.Title, &e.Artist, &e.StartedAt, &e.StoppedAt, &e.PositionMs, &e.DurationMs, &e.CreatedAt)
	e.SourceType = models.SourceType(sourceType)
	return e, err
}

func (s *Store) InsertHistory(entry *models.HistoryEntry) error {
	result, err := s.db.Exec(historyInsertSQL,
		entry.RequestID, entry.SourceURL, entry.PlayableURL, string(entry.SourceType),
		entry.Title, entry.Artist, entry.StartedAt, entry.StoppedAt,
		entry.PositionMs, entry.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("inserting history: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	entry.ID = id
	return nil
}

func (s *Store) ListHistory(limit int) ([]models.HistoryEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := s.db.Query(
		"SELECT "+historyColumns+" FROM playback_history ORDER BY stopped_at DESC, id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	entries := make([]models.HistoryEntry, 0, limit)
	for rows.Next() {
		e, err := scanHistoryEntry(rows)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneHistory deletes everything but the newest keep rows.
func (s *Store) PruneHistory(keep int) error {
	if keep <= 0 {
		return nil
	}
	_, err := s.db.Exec(`DELETE FROM playback_history WHERE id NOT IN (
		SELECT id FROM playback_history ORDER BY stopped_at DESC, id DESC LIMIT ?)`, keep)
	if err != nil {
		return fmt.Errorf("pruning history: %w", err)
	}
	return nil
}
