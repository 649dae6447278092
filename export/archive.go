package export

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/c360studio/visatrack/visa"
	"github.com/dustin/go-humanize"
	"github.com/klauspost/compress/zip"
)

// SummaryFileName is the name of the text summary inside an archive.
const SummaryFileName = "applicants_summary.txt"

// summaryDelimiter separates applicant records in the summary.
var summaryDelimiter = strings.Repeat("-", 40)

// MissingDocument is a referenced upload that could not be added to an archive.
type MissingDocument struct {
	ApplicantID string
	Name        string
	URL         string
	Err         error
}

// ArchiveReport describes a finished archive.
type ArchiveReport struct {
	Applicants int
	Documents  int
	Bytes      int64
	Missing    []MissingDocument
}

// WriteArchive streams a zip archive of the selected applicants to w.
//
// Documents whose files are missing or unreadable are logged, recorded in the
// report and skipped; they never fail the archive. Any other error leaves w
// holding a truncated archive.
func (b *Bundler) WriteArchive(ctx context.Context, w io.Writer, ids []string) (ArchiveReport, error) {
	snap, err := b.Snapshot(ctx, ids)
	if err != nil {
		return ArchiveReport{}, err
	}

	report := ArchiveReport{Applicants: len(snap.Applicants)}
	zw := zip.NewWriter(w)

	summary, err := zw.CreateHeader(&zip.FileHeader{
		Name:     SummaryFileName,
		Method:   zip.Deflate,
		Modified: b.now(),
	})
	if err != nil {
		return report, fmt.Errorf("create summary: %w", err)
	}
	if err := writeSummary(summary, snap, b.now()); err != nil {
		return report, fmt.Errorf("write summary: %w", err)
	}

	for _, a := range snap.Applicants {
		folder := folderName(a)
		for _, doc := range a.Documents {
			if err := ctx.Err(); err != nil {
				return report, err
			}
			n, err := b.addDocument(zw, folder, doc)
			if err != nil {
				if isMissing(err) {
					b.logger.Warn("Skipping missing document", "applicant", a.ID, "document", doc.Name, "url", doc.URL, "error", err)
					report.Missing = append(report.Missing, MissingDocument{
						ApplicantID: a.ID,
						Name:        doc.Name,
						URL:         doc.URL,
						Err:         err,
					})
					continue
				}
				return report, err
			}
			report.Documents++
			report.Bytes += n
		}
	}

	if err := zw.Close(); err != nil {
		return report, fmt.Errorf("finish archive: %w", err)
	}

	b.logger.Info("Wrote archive",
		"applicants", report.Applicants,
		"documents", report.Documents,
		"missing", len(report.Missing),
		"size", humanize.Bytes(uint64(report.Bytes)))
	return report, nil
}

// missingError marks a document that could not be opened.
type missingError struct{ err error }

func (e *missingError) Error() string { return e.err.Error() }
func (e *missingError) Unwrap() error { return e.err }

func isMissing(err error) bool {
	var m *missingError
	return errors.As(err, &m)
}

// addDocument copies one upload into the archive. Failing to open the upload
// returns a *missingError; failing mid-copy is fatal for the archive.
func (b *Bundler) addDocument(zw *zip.Writer, folder string, doc visa.Document) (int64, error) {
	f, info, err := b.uploads.Open(doc.URL)
	if err != nil {
		return 0, &missingError{err: err}
	}
	defer f.Close()

	entry, err := zw.CreateHeader(&zip.FileHeader{
		Name:     folder + "/" + documentFileName(doc.Name, info.Name()),
		Method:   zip.Deflate,
		Modified: info.ModTime(),
	})
	if err != nil {
		return 0, fmt.Errorf("create archive entry: %w", err)
	}
	n, err := io.Copy(entry, f)
	if err != nil {
		return n, fmt.Errorf("copy %s: %w", info.Name(), err)
	}
	return n, nil
}

func writeSummary(w io.Writer, snap Snapshot, generated time.Time) error {
	var sb strings.Builder
	sb.WriteString("Visa Applicants Summary\n")
	fmt.Fprintf(&sb, "Generated: %s\n", generated.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&sb, "Applicants: %d\n", len(snap.Applicants))
	sb.WriteString(summaryDelimiter + "\n")

	for _, a := range snap.Applicants {
		awaiting, ok := visa.AwaitingStep(snap.Settings.VisaSteps, a.StepsCompleted)
		if !ok {
			awaiting = "All steps completed"
		}
		fields := []struct{ label, value string }{
			{"Full Name", a.FullName},
			{"Passport Number", a.PassportNumber},
			{"File Number", a.FileNumber},
			{"UID Number", a.UIDNumber},
			{"Email", a.Email},
			{"Phone", a.Phone},
			{"Nationality", a.Nationality},
			{"Awaiting Step", awaiting},
		}
		for _, f := range fields {
			v := f.value
			if v == "" {
				v = "N/A"
			}
			fmt.Fprintf(&sb, "%s: %s\n", f.label, v)
		}
		fmt.Fprintf(&sb, "Documents: %d\n", len(a.Documents))
		sb.WriteString(summaryDelimiter + "\n")
	}

	_, err := io.WriteString(w, sb.String())
	return err
}
