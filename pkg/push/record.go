// Package push implements the batched record-push engine: record
// validation, order-preserving batching, envelope signing, and per-batch
// transmission through the retry executor.
package push

import (
	"fmt"
	"regexp"
	"strings"
)

// Statuses a record may report.
const (
	StatusSeqCancel   = "seqcancel"
	StatusSeqConfirm  = "seqconfirm"
	StatusSeqAbnormal = "seqabnormal"
)

var validStatuses = map[string]struct{}{
	StatusSeqCancel:   {},
	StatusSeqConfirm:  {},
	StatusSeqAbnormal: {},
}

var (
	// relativePathPattern accepts plain relative paths: word characters,
	// separators, dots, dashes.
	relativePathPattern = regexp.MustCompile(`^[\w/.\\-]+$`)

	// windowsPathPattern accepts drive-letter paths like C:\reports\a.pdf.
	windowsPathPattern = regexp.MustCompile(`^[a-zA-Z]:\\`)
)

// Record is one outbound report record.
type Record struct {
	DetectNo     string
	Status       string
	ReportPath   string
	ReportReason string

	// Ext carries optional extended fields such as plasmid_length and
	// sample_length.
	Ext map[string]string
}

// Validate checks required fields and business rules. Records failing
// validation are dropped before batching; they are never retried.
func (r Record) Validate() error {
	if strings.TrimSpace(r.DetectNo) == "" {
		return fmt.Errorf("detect_no must not be empty")
	}
	if strings.TrimSpace(r.Status) == "" {
		return fmt.Errorf("status must not be empty")
	}
	if strings.TrimSpace(r.ReportPath) == "" {
		return fmt.Errorf("report_path must not be empty")
	}

	if _, ok := validStatuses[strings.ToLower(r.Status)]; !ok {
		return fmt.Errorf("invalid status %q: must be one of %s, %s, %s",
			r.Status, StatusSeqCancel, StatusSeqConfirm, StatusSeqAbnormal)
	}

	return validateReportPath(r.ReportPath)
}

// validateReportPath rejects traversal sequences and anything that is not
// a relative path, a Unix absolute path, or a Windows drive path.
func validateReportPath(p string) error {
	if strings.Contains(p, "..") || strings.Contains(p, "//") {
		return fmt.Errorf("report_path contains invalid characters")
	}

	if relativePathPattern.MatchString(p) ||
		strings.HasPrefix(p, "/") ||
		windowsPathPattern.MatchString(p) {
		return nil
	}
	return fmt.Errorf("invalid report_path format: %q", p)
}
