package sqlite

import (
	"context"
	"strings"
	"time"

	gateway "github.com/smartai/router/internal"
	"github.com/smartai/router/internal/storage"
)

// InsertUsage batch-inserts usage records.
func (s *Store) InsertUsage(ctx context.Context, records []gateway.UsageRecord) error {
	if len(records) == 0 {
		return nil
	}

	// cols must match the number of columns in the INSERT below.
	// Single multi-row INSERT avoids N round-trips for large batches.
	const cols = 15
	placeholders := make([]string, len(records))
	args := make([]any, 0, len(records)*cols)

	for i, r := range records {
		placeholders[i] = "(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)"
		args = append(args,
			r.RequestID, r.Timestamp.UTC().Format(time.RFC3339),
			r.Model, r.ChannelID, r.ChannelName, r.Provider,
			r.InputTokens, r.OutputTokens,
			r.InputCost, r.OutputCost, r.TotalCost, r.Currency,
			r.Status, r.ResponseTimeMs, r.SessionKey,
		)
	}

	query := `INSERT INTO usage_records
		(request_id, ts, model, channel_id, channel_name, provider,
		 input_tokens, output_tokens, input_cost, output_cost, total_cost, currency,
		 status, response_time_ms, session_key)
		VALUES ` + strings.Join(placeholders, ", ")

	_, err := s.write.ExecContext(ctx, query, args...)
	return err
}

// SumCost returns the total accumulated cost for a given channel.
func (s *Store) SumCost(ctx context.Context, channelID string) (float64, error) {
	var total float64
	err := s.read.QueryRowContext(ctx,
		`SELECT COALESCE(SUM(total_cost), 0) FROM usage_records WHERE channel_id = ?`, channelID,
	).Scan(&total)
	return total, err
}

// QueryUsage returns usage records matching the filter, newest first.
func (s *Store) QueryUsage(ctx context.Context, f storage.UsageFilter) ([]gateway.UsageRecord, error) {
	where, args := usageWhere(f)
	query := `SELECT request_id, ts, model, channel_id, channel_name, provider,
		input_tokens, output_tokens, input_cost, output_cost, total_cost, currency,
		status, response_time_ms, session_key
		FROM usage_records` + where + ` ORDER BY ts DESC LIMIT ? OFFSET ?`
	limit := f.Limit
	if limit <= 0 {
		limit = 50
	}
	args = append(args, limit, f.Offset)

	rows, err := s.read.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []gateway.UsageRecord
	for rows.Next() {
		var r gateway.UsageRecord
		var ts string
		err := rows.Scan(
			&r.RequestID, &ts,
			&r.Model, &r.ChannelID, &r.ChannelName, &r.Provider,
			&r.InputTokens, &r.OutputTokens,
			&r.InputCost, &r.OutputCost, &r.TotalCost, &r.Currency,
			&r.Status, &r.ResponseTimeMs, &r.SessionKey,
		)
		if err != nil {
			return nil, err
		}
		if t, e := time.Parse(time.RFC3339, ts); e == nil {
			r.Timestamp = t
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func usageWhere(f storage.UsageFilter) (string, []any) {
	var clauses []string
	var args []any
	if f.ChannelID != "" {
		clauses = append(clauses, "channel_id = ?")
		args = append(args, f.ChannelID)
	}
	if f.Model != "" {
		clauses = append(clauses, "model = ?")
		args = append(args, f.Model)
	}
	if f.Since != "" {
		clauses = append(clauses, "ts >= ?")
		args = append(args, f.Since)
	}
	if f.Until != "" {
		clauses = append(clauses, "ts < ?")
		args = append(args, f.Until)
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
