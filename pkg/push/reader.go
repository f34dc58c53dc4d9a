package push

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/limsync/limsync/pkg/metrics"
)

// Field layout of a record line:
//
//	detectNo status reportPath [reason [plasmid_length [sample_length]]]
//
// "-" marks an empty optional field. Length fields must be digits.
const (
	plasmidLengthIndex = 4
	sampleLengthIndex  = 5
	emptyField         = "-"
)

// ReadRecords parses whitespace-delimited record lines from r. Lines that
// fail to parse or validate are dropped with a logged reason and a
// parse.error increment; one bad line never aborts the file.
func ReadRecords(r io.Reader, logger *zap.Logger, collector *metrics.Collector) ([]Record, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var records []Record
	scanner := bufio.NewScanner(r)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		record, err := parseLine(line, logger)
		if err != nil {
			logger.Warn("dropping unparseable record line",
				zap.Int("line", lineNum),
				zap.String("error", err.Error()))
			collector.Inc(metrics.ParseError)
			continue
		}
		if err := record.Validate(); err != nil {
			logger.Warn("dropping invalid record",
				zap.Int("line", lineNum),
				zap.String("detect_no", record.DetectNo),
				zap.String("error", err.Error()))
			collector.Inc(metrics.ParseError)
			continue
		}

		records = append(records, record)
	}

	if err := scanner.Err(); err != nil {
		return records, fmt.Errorf("read records: %w", err)
	}
	return records, nil
}

func parseLine(line string, logger *zap.Logger) (Record, error) {
	parts := strings.Fields(line)
	if len(parts) < 3 {
		return Record{}, fmt.Errorf("need at least 3 fields, got %d", len(parts))
	}

	record := Record{
		DetectNo:   parts[0],
		Status:     parts[1],
		ReportPath: parts[2],
	}
	if len(parts) > 3 && parts[3] != emptyField {
		record.ReportReason = parts[3]
	}
	record.Ext = parseExtendedFields(parts, logger)
	return record, nil
}

// parseExtendedFields extracts the optional length fields. A malformed
// length drops that field only, not the record.
func parseExtendedFields(parts []string, logger *zap.Logger) map[string]string {
	ext := make(map[string]string)

	addLength := func(index int, key string) {
		if len(parts) <= index {
			return
		}
		value := strings.TrimSpace(parts[index])
		if value == "" || value == emptyField {
			return
		}
		if !isDigits(value) {
			logger.Warn("ignoring malformed length field",
				zap.String("field", key),
				zap.String("value", value))
			return
		}
		ext[key] = value
	}

	addLength(plasmidLengthIndex, "plasmid_length")
	addLength(sampleLengthIndex, "sample_length")

	if len(ext) == 0 {
		return nil
	}
	return ext
}

func isDigits(s string) bool {
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return len(s) > 0
}
