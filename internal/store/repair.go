package store

import (
	"context"
	"encoding/json"
	"time"

	"scrapesched/internal/job"
	logx "scrapesched/pkg/logx"
)

// Repair scans every stored job row and quarantines records whose schedule
// blob or status no longer parses. Quarantined rows keep their raw content in
// jobs_quarantine so an operator can inspect or restore them by hand.
func (s *sqliteStore) Repair(ctx context.Context) (RepairReport, error) {
	var report RepairReport

	rows, err := s.db.QueryContext(ctx, `SELECT id, schedule, status FROM jobs`)
	if err != nil {
		return report, err
	}

	type badRow struct {
		id     string
		reason string
		raw    string
	}
	var bad []badRow

	for rows.Next() {
		var id, sched, status string
		if err := rows.Scan(&id, &sched, &status); err != nil {
			rows.Close()
			return report, err
		}
		report.Scanned++

		reason := ""
		var spec job.ScheduleSpec
		if err := json.Unmarshal([]byte(sched), &spec); err != nil {
			reason = "unparsable schedule: " + err.Error()
		} else if err := spec.Validate(); err != nil {
			reason = "invalid schedule: " + err.Error()
		} else if !job.Status(status).Valid() {
			reason = "unknown status: " + status
		}

		if reason == "" {
			report.Healthy++
			continue
		}
		raw, _ := json.Marshal(map[string]string{"id": id, "schedule": sched, "status": status})
		bad = append(bad, badRow{id: id, reason: reason, raw: string(raw)})
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return report, err
	}
	rows.Close()

	now := time.Now().UnixNano()
	for _, b := range bad {
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO jobs_quarantine(id, quarantined_at, reason, raw) VALUES(?,?,?,?)`,
			b.id, now, b.reason, b.raw,
		); err != nil {
			return report, err
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM jobs WHERE id = ?`, b.id); err != nil {
			return report, err
		}
		report.Quarantined++
		s.log.Warn("job quarantined", logx.String("id", b.id), logx.String("reason", b.reason))
	}
	return report, nil
}
