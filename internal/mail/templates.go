package mail

import (
	"bytes"
	"text/template"
	"time"

	"github.com/shopspring/decimal"
)

const (
	ReportSubject = "ParkIndia - Parking Report CSV Export"
	ExportSubject = "ParkIndia - Your Parking History Export"
)

// ReportData fills the administrator report email.
type ReportData struct {
	Total       int
	Completed   int
	Active      int
	Revenue     decimal.Decimal
	GeneratedAt time.Time
}

// ExportData fills the export-ready notification.
type ExportData struct {
	Name        string
	Records     int
	Location    string
	GeneratedAt time.Time
}

var funcs = template.FuncMap{
	"money": func(d decimal.Decimal) string { return d.StringFixed(2) },
	"stamp": func(t time.Time) string { return t.UTC().Format("2006-01-02 15:04:05 UTC") },
}

var reportTmpl = template.Must(template.New("report").Funcs(funcs).Parse(`Dear Admin,

Your parking report has been generated successfully!

Report Summary:
- Total Reservations: {{.Total}}
- Completed Reservations: {{.Completed}}
- Active Reservations: {{.Active}}
- Total Revenue: {{money .Revenue}}
- Generated At: {{stamp .GeneratedAt}}

Please find the detailed CSV report attached to this email.

Best regards,
ParkIndia System
`))

var exportTmpl = template.Must(template.New("export").Funcs(funcs).Parse(`Dear {{.Name}},

Your parking history export is ready.

- Reservations exported: {{.Records}}
- Generated At: {{stamp .GeneratedAt}}

Download it from the app under "My exports".

Best regards,
ParkIndia Team
`))

func ReportBody(d ReportData) (string, error) {
	return render(reportTmpl, d)
}

func ExportBody(d ExportData) (string, error) {
	return render(exportTmpl, d)
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}
