// Package report renders reservation snapshots as the CSV artifact mailed
// to administrators and handed to users as their history export.
package report

import (
	"bytes"
	"encoding/csv"
	"io"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/iliyamo/parking-reservation/internal/pricing"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

const (
	timeLayout      = "2006-01-02 15:04:05"
	generatedLayout = "2006-01-02 15:04:05 UTC"
	notAvailable    = "N/A"

	StatusActive    = "Active"
	StatusCompleted = "Completed"
)

// Header is the fixed column order of every report.
var Header = []string{
	"Reservation ID",
	"User Name",
	"User Email",
	"Parking Lot Name",
	"Parking Lot Address",
	"Parking Lot Pincode",
	"Spot Number",
	"Parking Start Time (UTC)",
	"Parking End Time (UTC)",
	"Duration (Hours)",
	"Parking Cost",
	"Reservation Status",
	"Price Per Hour",
}

// Summary is the trailing statistics block.
type Summary struct {
	Total       int
	Completed   int
	Active      int
	Revenue     decimal.Decimal
	GeneratedAt time.Time
}

// Render writes rows in the order given, followed by a blank row and the
// summary block.  Callers pass rows ordered by start time descending.
func Render(w io.Writer, rows []repository.ReportRow, generatedAt time.Time) (Summary, error) {
	sum := Summary{Revenue: decimal.Zero, GeneratedAt: generatedAt.UTC()}
	cw := csv.NewWriter(w)
	cw.UseCRLF = true

	if err := cw.Write(Header); err != nil {
		return sum, err
	}
	for _, row := range rows {
		record, completed := formatRow(row)
		if completed {
			sum.Completed++
		}
		sum.Total++
		sum.Revenue = sum.Revenue.Add(row.Cost)
		if err := cw.Write(record); err != nil {
			return sum, err
		}
	}
	sum.Active = sum.Total - sum.Completed

	trailer := [][]string{
		{},
		{"SUMMARY STATISTICS"},
		{"Total Reservations", strconv.Itoa(sum.Total)},
		{"Completed Reservations", strconv.Itoa(sum.Completed)},
		{"Active Reservations", strconv.Itoa(sum.Active)},
		{"Total Revenue", money(sum.Revenue)},
		{"Report Generated", sum.GeneratedAt.Format(generatedLayout)},
	}
	if err := cw.WriteAll(trailer); err != nil {
		return sum, err
	}
	return sum, cw.Error()
}

// Bytes renders into memory.
func Bytes(rows []repository.ReportRow, generatedAt time.Time) ([]byte, Summary, error) {
	var buf bytes.Buffer
	sum, err := Render(&buf, rows, generatedAt)
	if err != nil {
		return nil, sum, err
	}
	return buf.Bytes(), sum, nil
}

func formatRow(row repository.ReportRow) ([]string, bool) {
	ended, duration, status := notAvailable, notAvailable, StatusActive
	completed := row.EndedAt.Valid
	if completed {
		ended = row.EndedAt.Time.UTC().Format(timeLayout)
		duration = pricing.ElapsedHours(row.EndedAt.Time.Sub(row.StartedAt)).StringFixed(2)
		status = StatusCompleted
	}
	rate := decimal.Zero
	if row.HourlyRate.Valid {
		rate = row.HourlyRate.Decimal
	}
	return []string{
		strconv.FormatUint(row.ReservationID, 10),
		row.UserName,
		row.UserEmail,
		row.LotName,
		row.LotAddress,
		row.LotPostalCode,
		strconv.Itoa(row.SpotNumber),
		row.StartedAt.UTC().Format(timeLayout),
		ended,
		duration,
		money(row.Cost),
		status,
		money(rate),
	}, completed
}

func money(d decimal.Decimal) string {
	return d.StringFixed(2)
}
