// Package observability provides SQLite-native monitoring for the agent:
// alert history, per-channel dispatch outcomes, resource timeseries and
// liveness heartbeats, without an external metrics stack.
//
// Each component writes to a shared observability database (separate from
// the channels database to avoid write contention). Call Init() on the
// shared *sql.DB first, then pass it to the individual constructors.
//
// All persistence is best effort and non-blocking: a failing observability
// store degrades history, never alert delivery.
package observability

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/hazyhaar/hostwatch/channels"
	"github.com/hazyhaar/hostwatch/dbopen"
	"github.com/hazyhaar/hostwatch/dispatch"
)

// AlertLogger records composed alerts and their per-channel delivery
// outcomes.
type AlertLogger struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewAlertLogger creates a logger backed by the given observability database.
func NewAlertLogger(db *sql.DB, logger *slog.Logger) *AlertLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertLogger{db: db, logger: logger}
}

// LogAlert records one composed alert. Errors are logged but do not
// propagate, so a failing store never blocks dispatch.
func (l *AlertLogger) LogAlert(ctx context.Context, a dispatch.Alert) {
	_, err := dbopen.Exec(ctx, l.db, `
		INSERT INTO alert_log (alert_id, alert_type, body, timestamp)
		VALUES (?,?,?,?)`,
		a.ID, string(a.Type), a.Body, a.Timestamp.Unix())
	if err != nil {
		l.logger.Error("alert log failed", "error", err, "alert_id", a.ID)
	}
}

// LogDispatch records the delivery outcome of one alert on every channel.
func (l *AlertLogger) LogDispatch(ctx context.Context, alertID string, results []channels.DispatchResult) {
	for _, r := range results {
		var errMsg sql.NullString
		if r.Err != nil {
			errMsg = sql.NullString{String: r.Err.Error(), Valid: true}
		}
		success := 0
		if r.Success {
			success = 1
		}
		_, err := dbopen.Exec(ctx, l.db, `
			INSERT INTO dispatch_results
			    (alert_id, channel_name, channel_kind, success, chunks, attempts, error_message)
			VALUES (?,?,?,?,?,?,?)`,
			alertID, r.Channel, r.Kind, success, r.Chunks, r.Attempts, errMsg)
		if err != nil {
			l.logger.Error("dispatch log failed",
				"error", err, "alert_id", alertID, "channel", r.Channel)
		}
	}
}

// AlertRecord is one row from the alert log joined with its delivery stats.
type AlertRecord struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
	Delivered int       `json:"delivered"`
	Failed    int       `json:"failed"`
}

// RecentAlerts returns the newest alerts with per-alert delivery counts,
// newest first. Used by the status endpoint.
func (l *AlertLogger) RecentAlerts(ctx context.Context, limit int) ([]AlertRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT a.alert_id, a.alert_type, a.body, a.timestamp,
		       COALESCE(SUM(CASE WHEN d.success = 1 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN d.success = 0 THEN 1 ELSE 0 END), 0)
		FROM alert_log a
		LEFT JOIN dispatch_results d ON d.alert_id = a.alert_id
		GROUP BY a.alert_id
		ORDER BY a.timestamp DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlertRecord
	for rows.Next() {
		var r AlertRecord
		var ts int64
		if err := rows.Scan(&r.ID, &r.Type, &r.Body, &ts, &r.Delivered, &r.Failed); err != nil {
			return nil, err
		}
		r.Timestamp = time.Unix(ts, 0)
		out = append(out, r)
	}
	return out, rows.Err()
}

// Cleanup deletes alert and dispatch records older than retentionDays.
func (l *AlertLogger) Cleanup(ctx context.Context, retentionDays int) (int64, error) {
	threshold := time.Now().AddDate(0, 0, -retentionDays).Unix()
	if _, err := l.db.ExecContext(ctx,
		`DELETE FROM dispatch_results WHERE alert_id IN
		    (SELECT alert_id FROM alert_log WHERE timestamp < ?)`, threshold); err != nil {
		return 0, err
	}
	result, err := l.db.ExecContext(ctx,
		`DELETE FROM alert_log WHERE timestamp < ?`, threshold)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
