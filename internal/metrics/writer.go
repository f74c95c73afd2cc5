package metrics

// Metrics output (CSV/JSON) and summary formatting

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"
)

var csvHeader = []string{
	"timestamp",
	"source",
	"function_code",
	"value",
	"attack_tag",
	"accepted",
	"class",
	"reason",
}

// Writer handles writing metrics to files
type Writer struct {
	csvFile   *os.File
	csvWriter *csv.Writer
	jsonFile  *os.File
	jsonCount int
}

// NewWriter creates a new metrics writer
func NewWriter(csvPath, jsonPath string) (*Writer, error) {
	w := &Writer{}

	if csvPath != "" {
		file, err := os.Create(csvPath)
		if err != nil {
			return nil, fmt.Errorf("create CSV file: %w", err)
		}
		w.csvFile = file
		w.csvWriter = csv.NewWriter(file)
		if err := w.csvWriter.Write(csvHeader); err != nil {
			file.Close()
			return nil, fmt.Errorf("write CSV header: %w", err)
		}
		w.csvWriter.Flush()
	}

	if jsonPath != "" {
		file, err := os.Create(jsonPath)
		if err != nil {
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("create JSON file: %w", err)
		}
		w.jsonFile = file
		if _, err := file.WriteString("[\n"); err != nil {
			file.Close()
			if w.csvFile != nil {
				w.csvFile.Close()
			}
			return nil, fmt.Errorf("write JSON start: %w", err)
		}
	}

	return w, nil
}

// WriteMetric writes a single metric
func (w *Writer) WriteMetric(m Metric) error {
	if w.csvWriter != nil {
		record := []string{
			m.Timestamp.Format(time.RFC3339Nano),
			m.Source,
			strconv.Itoa(int(m.Function)),
			strconv.Itoa(m.Value),
			m.Tag,
			strconv.FormatBool(m.Accepted),
			m.Class,
			m.Reason,
		}
		if err := w.csvWriter.Write(record); err != nil {
			return fmt.Errorf("write CSV record: %w", err)
		}
		w.csvWriter.Flush()
	}

	if w.jsonFile != nil {
		jsonData, err := json.Marshal(m)
		if err != nil {
			return fmt.Errorf("marshal JSON: %w", err)
		}
		if w.jsonCount > 0 {
			if _, err := w.jsonFile.WriteString(",\n"); err != nil {
				return fmt.Errorf("write JSON comma: %w", err)
			}
		}
		var buf bytes.Buffer
		if err := json.Indent(&buf, jsonData, "", "  "); err != nil {
			return fmt.Errorf("indent JSON: %w", err)
		}
		if _, err := w.jsonFile.Write(buf.Bytes()); err != nil {
			return fmt.Errorf("write JSON: %w", err)
		}
		w.jsonCount++
	}

	return nil
}

// Close closes the writer and flushes all data
func (w *Writer) Close() error {
	var errs []error

	if w.csvWriter != nil {
		w.csvWriter.Flush()
	}
	if w.csvFile != nil {
		if err := w.csvFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if w.jsonFile != nil {
		if _, err := w.jsonFile.WriteString("\n]\n"); err != nil {
			errs = append(errs, err)
		}
		if err := w.jsonFile.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("close writer: %v", errs)
	}
	return nil
}

// FormatSummary formats a summary for human-readable output
func FormatSummary(summary *Summary) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Inspected Packets: %d\n", summary.Total)
	if summary.Total == 0 {
		return b.String()
	}
	fmt.Fprintf(&b, "Accepted: %d (%.1f%%)\n", summary.Accepted, pct(summary.Accepted, summary.Total))
	fmt.Fprintf(&b, "Rejected: %d (%.1f%%)\n", summary.Rejected, pct(summary.Rejected, summary.Total))
	if summary.Divergent > 0 {
		fmt.Fprintf(&b, "Classified differently than attack intent: %d\n", summary.Divergent)
	}

	if len(summary.ByClass) > 0 {
		b.WriteString("\nRejections by Classification:\n")
		for _, class := range sortedKeys(summary.ByClass) {
			fmt.Fprintf(&b, "  %s: %d\n", class, summary.ByClass[class])
		}
	}

	if len(summary.BySource) > 0 {
		b.WriteString("\nPer-Source Statistics:\n")
		for _, src := range summary.Sources() {
			st := summary.BySource[src]
			fmt.Fprintf(&b, "  %s: %d packets (%d accepted, %d rejected)\n", src, st.Count, st.Accepted, st.Rejected)
		}
	}

	if len(summary.ByTag) > 0 {
		b.WriteString("\nPer-Attack-Tag Outcomes:\n")
		tags := make([]string, 0, len(summary.ByTag))
		for tag := range summary.ByTag {
			tags = append(tags, tag)
		}
		sort.Strings(tags)
		for _, tag := range tags {
			st := summary.ByTag[tag]
			fmt.Fprintf(&b, "  %s: %d packets, %d accepted", tag, st.Count, st.Accepted)
			for _, class := range sortedKeys(st.ByClass) {
				fmt.Fprintf(&b, ", %s=%d", class, st.ByClass[class])
			}
			b.WriteString("\n")
		}
	}

	return b.String()
}

func pct(n, total int) float64 {
	return float64(n) / float64(total) * 100
}

func sortedKeys(m map[string]int) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
