package analyze

import (
	"database/sql"
	"encoding/csv"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	json "github.com/goccy/go-json"
	"github.com/mx-space/insight/internal/models"
	"github.com/mx-space/insight/internal/modules/stats/report"
	"github.com/mx-space/insight/internal/pkg/response"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// exporter describes one exportable table.
type exporter struct {
	header []string
	query  func(db *gorm.DB, r report.DateRange) *gorm.DB
	// scan reads the current row and returns its json value and csv record.
	scan func(db *gorm.DB, rows *sql.Rows) (any, []string, error)
}

var exporters = map[string]exporter{
	"pageviews": {
		header: []string{"id", "timestamp", "visitor_id", "session_id", "path", "title", "referrer", "time_spent", "scroll_depth", "load_time", "exit_page"},
		query: func(db *gorm.DB, r report.DateRange) *gorm.DB {
			return db.Model(&models.PageView{}).
				Where("timestamp >= ? AND timestamp <= ?", r.Start, r.End).
				Order("timestamp ASC, id ASC")
		},
		scan: func(db *gorm.DB, rows *sql.Rows) (any, []string, error) {
			var pv models.PageView
			if err := db.ScanRows(rows, &pv); err != nil {
				return nil, nil, err
			}
			return pv, []string{
				pv.ID, formatTime(pv.Timestamp), pv.VisitorID, pv.SessionID, pv.Path, pv.Title, pv.Referrer,
				formatOptional(pv.TimeSpent), formatOptional(pv.ScrollDepth), formatOptional(pv.LoadTime),
				strconv.FormatBool(pv.ExitPage),
			}, nil
		},
	},
	"visitors": {
		header: []string{"visitor_id", "first_visit", "last_visit", "visit_count", "total_page_views", "total_session_duration", "country", "city", "device_type", "browser", "os", "language", "is_bot"},
		query: func(db *gorm.DB, r report.DateRange) *gorm.DB {
			return db.Model(&models.Visitor{}).
				Where("created_at >= ? AND created_at <= ?", r.Start, r.End).
				Order("created_at ASC, id ASC")
		},
		scan: func(db *gorm.DB, rows *sql.Rows) (any, []string, error) {
			var v models.Visitor
			if err := db.ScanRows(rows, &v); err != nil {
				return nil, nil, err
			}
			return v, []string{
				v.VisitorID, formatTime(v.FirstVisit), formatTime(v.LastVisit),
				strconv.FormatInt(v.VisitCount, 10), strconv.FormatInt(v.TotalPageViews, 10),
				strconv.FormatInt(v.TotalSessionDuration, 10),
				v.Country, v.City, v.DeviceType, v.Browser, v.OS, v.Language, strconv.FormatBool(v.IsBot),
			}, nil
		},
	},
	"sessions": {
		header: []string{"session_id", "visitor_id", "session_start", "session_end", "duration", "page_views", "bounced", "entry_page", "exit_page", "referrer", "utm_source", "device_type", "country", "is_active"},
		query: func(db *gorm.DB, r report.DateRange) *gorm.DB {
			return db.Model(&models.Session{}).
				Where("session_start >= ? AND session_start <= ?", r.Start, r.End).
				Order("session_start ASC, id ASC")
		},
		scan: func(db *gorm.DB, rows *sql.Rows) (any, []string, error) {
			var s models.Session
			if err := db.ScanRows(rows, &s); err != nil {
				return nil, nil, err
			}
			end := ""
			if s.SessionEnd != nil {
				end = formatTime(*s.SessionEnd)
			}
			return s, []string{
				s.SessionID, s.VisitorID, formatTime(s.SessionStart), end,
				strconv.FormatInt(s.Duration, 10), strconv.FormatInt(s.PageViews, 10), strconv.FormatBool(s.Bounced),
				s.EntryPage, s.ExitPage, s.Referrer, s.UTM.Source, s.DeviceType, s.Country, strconv.FormatBool(s.IsActive),
			}, nil
		},
	},
}

// export streams one table as csv or a json array.
func (h *Handler) export(c *gin.Context) {
	format := c.DefaultQuery("format", "csv")
	if format != "csv" && format != "json" {
		response.BadRequest(c, "format must be csv or json")
		return
	}
	kind := c.DefaultQuery("type", "pageviews")
	exp, ok := exporters[kind]
	if !ok {
		response.BadRequest(c, "type must be pageviews, visitors or sessions")
		return
	}
	r, ok := h.dateRange(c)
	if !ok {
		return
	}

	db := h.reports.DB().WithContext(c.Request.Context())
	rows, err := exp.query(db, r).Rows()
	if err != nil {
		h.fail(c, fmt.Errorf("export %s: %w", kind, err))
		return
	}
	defer rows.Close()

	filename := fmt.Sprintf("%s-%s.%s", kind, h.reports.Now().Format("20060102-150405"), format)
	c.Header("Content-Disposition", `attachment; filename="`+filename+`"`)
	if format == "csv" {
		c.Header("Content-Type", "text/csv; charset=utf-8")
	} else {
		c.Header("Content-Type", "application/json; charset=utf-8")
	}
	c.Status(http.StatusOK)

	var n int
	if format == "csv" {
		n, err = writeCSV(c.Writer, db, rows, exp)
	} else {
		n, err = writeJSON(c.Writer, db, rows, exp)
	}
	if err != nil {
		// Headers are already sent; the body is truncated.
		_ = c.Error(err)
		h.logger.Error("export aborted", zap.String("type", kind), zap.Int("rows", n), zap.Error(err))
		return
	}
	h.logger.Info("export finished", zap.String("type", kind), zap.String("format", format), zap.Int("rows", n))
}

func writeCSV(w io.Writer, db *gorm.DB, rows *sql.Rows, exp exporter) (int, error) {
	cw := csv.NewWriter(w)
	if err := cw.Write(exp.header); err != nil {
		return 0, err
	}
	n := 0
	for rows.Next() {
		_, record, err := exp.scan(db, rows)
		if err != nil {
			return n, err
		}
		if err := cw.Write(record); err != nil {
			return n, err
		}
		n++
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return n, err
	}
	return n, rows.Err()
}

func writeJSON(w io.Writer, db *gorm.DB, rows *sql.Rows, exp exporter) (int, error) {
	if _, err := io.WriteString(w, "["); err != nil {
		return 0, err
	}
	n := 0
	for rows.Next() {
		value, _, err := exp.scan(db, rows)
		if err != nil {
			return n, err
		}
		data, err := json.Marshal(value)
		if err != nil {
			return n, err
		}
		if n > 0 {
			if _, err := io.WriteString(w, ","); err != nil {
				return n, err
			}
		}
		if _, err := w.Write(data); err != nil {
			return n, err
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, err
	}
	_, err := io.WriteString(w, "]")
	return n, err
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatOptional(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}
