// package formatter renders kiosk data for people: sizes, durations, room time left, and visit
// history exports (CSV, Markdown, plain text)
package formatter

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/desertthunder/mesakiosk/internal/models"
	"github.com/desertthunder/mesakiosk/internal/shared"
)

var sizeUnits = []string{"Bytes", "KB", "MB", "GB"}

// FormatFileSize renders n bytes with 1024-based units and at most two decimals, e.g. "1.5 KB".
func FormatFileSize(n int64) string {
	if n <= 0 {
		return "0 Bytes"
	}
	v, i := float64(n), 0
	for v >= 1024 && i < len(sizeUnits)-1 {
		v /= 1024
		i++
	}
	return strconv.FormatFloat(math.Round(v*100)/100, 'f', -1, 64) + " " + sizeUnits[i]
}

// FormatDuration renders d as minutes and zero-padded seconds, e.g. "3:07".
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int(d / time.Second)
	return fmt.Sprintf("%d:%02d", total/60, total%60)
}

// Remaining renders the time from now until exp as "2h 15m" or "45m". Past times are "expired".
func Remaining(exp, now time.Time) string {
	left := exp.Sub(now)
	if left <= 0 {
		return "expired"
	}
	if left < time.Minute {
		return "<1m"
	}
	h := int(left / time.Hour)
	m := int(left % time.Hour / time.Minute)
	if h == 0 {
		return fmt.Sprintf("%dm", m)
	}
	return fmt.Sprintf("%dh %dm", h, m)
}

// FormatExpiration is the room banner line for exp.
func FormatExpiration(exp *time.Time, now time.Time) string {
	if exp == nil {
		return "No expiration"
	}
	if !exp.After(now) {
		return "Expired at " + exp.Local().Format("15:04")
	}
	return fmt.Sprintf("Expires in %s (%s)", Remaining(*exp, now), exp.Local().Format("15:04"))
}

// Format is an export format for visit history.
type Format string

const (
	FormatCSV      Format = "csv"
	FormatMarkdown Format = "md"
	FormatText     Format = "txt"
)

// ParseFormat accepts csv, md/markdown and txt/text.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(s) {
	case "csv":
		return FormatCSV, nil
	case "md", "markdown":
		return FormatMarkdown, nil
	case "txt", "text", "":
		return FormatText, nil
	default:
		return "", fmt.Errorf("%w: format %q", shared.ErrInvalidArgument, s)
	}
}

// VisitsToCSV converts visits to CSV with columns: Sequence, Tab, URL, Title, VisitedAt
func VisitsToCSV(visits []models.Visit) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Sequence", "Tab", "URL", "Title", "VisitedAt"}
	if err := writer.Write(headers); err != nil {
		return nil, fmt.Errorf("failed to write CSV headers: %w", err)
	}

	for _, v := range visits {
		record := []string{
			strconv.Itoa(v.Sequence),
			v.TabID,
			v.URL,
			v.Title,
			v.VisitedAt.UTC().Format(time.RFC3339),
		}
		if err := writer.Write(record); err != nil {
			return nil, fmt.Errorf("failed to write CSV record: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, fmt.Errorf("CSV writer error: %w", err)
	}

	return buf.Bytes(), nil
}

// VisitsToMarkdown converts visits to a Markdown list of links grouped under one heading
func VisitsToMarkdown(visits []models.Visit) ([]byte, error) {
	var buf bytes.Buffer

	buf.WriteString("# Kiosk History\n\n")
	buf.WriteString(fmt.Sprintf("**Visits**: %d\n\n", len(visits)))

	for i, v := range visits {
		title := v.Title
		if title == "" {
			title = v.URL
		}
		buf.WriteString(fmt.Sprintf("%d. [%s](%s) (%s, %s)\n", i+1, title, v.URL, v.TabID, v.VisitedAt.Local().Format("Jan 2 15:04")))
	}

	return buf.Bytes(), nil
}

// VisitsToText converts visits to plain text, one per line
func VisitsToText(visits []models.Visit) ([]byte, error) {
	var buf bytes.Buffer

	for _, v := range visits {
		buf.WriteString(fmt.Sprintf("%s  %-8s %s", v.VisitedAt.Local().Format("2006-01-02 15:04"), v.TabID, v.URL))
		if v.Title != "" {
			buf.WriteString("  " + v.Title)
		}
		buf.WriteString("\n")
	}

	return buf.Bytes(), nil
}

// RenderVisits renders visits in format.
func RenderVisits(visits []models.Visit, format Format) ([]byte, error) {
	switch format {
	case FormatCSV:
		return VisitsToCSV(visits)
	case FormatMarkdown:
		return VisitsToMarkdown(visits)
	case FormatText:
		return VisitsToText(visits)
	default:
		return nil, fmt.Errorf("%w: format %q", shared.ErrInvalidArgument, format)
	}
}

// WriteVisits renders visits and writes them to path, creating parent directories.
//
// An empty path defaults to history.{format} in the working directory.
func WriteVisits(visits []models.Visit, format Format, path string) (string, error) {
	if path == "" {
		path = "history." + string(format)
	}

	data, err := RenderVisits(visits, format)
	if err != nil {
		return "", err
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return "", fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("failed to write history file: %w", err)
	}

	return path, nil
}
