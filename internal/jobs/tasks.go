package jobs

import (
	"context"
	"errors"
	"fmt"

	parkmail "github.com/iliyamo/parking-reservation/internal/mail"
	"github.com/iliyamo/parking-reservation/internal/model"
	"github.com/iliyamo/parking-reservation/internal/report"
	"github.com/iliyamo/parking-reservation/internal/repository"
)

const reportStampLayout = "20060102_150405"

// generateReport snapshots every reservation, stores the CSV and mails it
// to the administrator.  A mail failure keeps the artifact and degrades the
// job to partial success.
func (r *Runner) generateReport(ctx context.Context, p reportParams) repository.JobResult {
	rows, err := r.reports.AllRows(ctx)
	if err != nil {
		return failed(err, "Error generating parking report")
	}
	now := r.now()
	data, sum, err := report.Bytes(rows, now)
	if err != nil {
		return failed(err, "Error generating parking report")
	}
	filename := "parking_report_" + now.Format(reportStampLayout) + ".csv"
	location, err := r.artifacts.Save(ctx, ReportKey(filename), data)
	if err != nil {
		return failed(err, "Error storing parking report")
	}

	result := repository.JobResult{
		Artifact:     location,
		TotalRecords: sum.Total,
		TotalRevenue: sum.Revenue,
	}
	body, err := parkmail.ReportBody(parkmail.ReportData{
		Total: sum.Total, Completed: sum.Completed, Active: sum.Active,
		Revenue: sum.Revenue, GeneratedAt: now,
	})
	if err == nil {
		err = r.mailer.Send(ctx, parkmail.Message{
			To:      p.AdminEmail,
			Subject: parkmail.ReportSubject,
			Body:    body,
			Attachments: []parkmail.Attachment{{
				Filename: filename, ContentType: "text/csv", Data: data,
			}},
		})
	}
	if err != nil {
		r.logg.WarnErr(r.logg.WithField(ctx, "to", p.AdminEmail), "report email not delivered", err)
		result.Status = model.JobPartialSuccess
		result.Message = fmt.Sprintf("Report generated but failed to send email to %s", p.AdminEmail)
		return result
	}
	result.Status = model.JobSuccess
	result.EmailSent = true
	result.Message = fmt.Sprintf("Report generated and emailed successfully to %s", p.AdminEmail)
	return result
}

// exportUserHistory overwrites the user's export with a fresh snapshot of
// their reservations and optionally tells them it is ready.
func (r *Runner) exportUserHistory(ctx context.Context, p exportParams) repository.JobResult {
	user, err := r.users.GetByID(ctx, p.UserID)
	if errors.Is(err, repository.ErrNotFound) {
		return failed(fmt.Errorf("user %d does not exist", p.UserID), "Error exporting reservations")
	}
	if err != nil {
		return failed(err, "Error exporting reservations")
	}
	rows, err := r.reports.UserRows(ctx, p.UserID)
	if err != nil {
		return failed(err, "Error exporting reservations")
	}
	now := r.now()
	data, sum, err := report.Bytes(rows, now)
	if err != nil {
		return failed(err, "Error exporting reservations")
	}
	location, err := r.artifacts.Save(ctx, ExportKey(p.UserID), data)
	if err != nil {
		return failed(err, "Error storing export")
	}

	result := repository.JobResult{
		Status:       model.JobSuccess,
		Message:      fmt.Sprintf("Exported %d reservations", sum.Total),
		Artifact:     location,
		TotalRecords: sum.Total,
		TotalRevenue: sum.Revenue,
	}
	if !r.notify {
		return result
	}
	body, err := parkmail.ExportBody(parkmail.ExportData{
		Name: user.Name, Records: sum.Total, Location: location, GeneratedAt: now,
	})
	if err == nil {
		err = r.mailer.Send(ctx, parkmail.Message{To: user.Email, Subject: parkmail.ExportSubject, Body: body})
	}
	if err != nil {
		r.logg.WarnErr(r.logg.WithField(ctx, "to", user.Email), "export notification not delivered", err)
		result.Status = model.JobPartialSuccess
		result.Message = fmt.Sprintf("Exported %d reservations but failed to notify %s", sum.Total, user.Email)
		return result
	}
	result.EmailSent = true
	return result
}
