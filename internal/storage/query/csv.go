package query

import (
	"encoding/csv"
	"io"
	"strconv"

	"github.com/xtxerr/plclogger/internal/storage/types"
)

// CSV headers.
var (
	csvHeader        = []string{"ts", "tag", "value", "unit"}
	csvLabeledHeader = []string{"ts_utc", "tag", "label", "value", "unit"}
)

// WriteCSV writes rows as CSV. A non-nil labels map adds a label column;
// tags missing from it are labeled with their own name. Null values are
// written as empty fields.
func WriteCSV(w io.Writer, rows []types.LogRow, labels map[string]string) error {
	cw := csv.NewWriter(w)

	header := csvHeader
	if labels != nil {
		header = csvLabeledHeader
	}
	if err := cw.Write(header); err != nil {
		return err
	}

	record := make([]string, len(header))
	for _, r := range rows {
		value := ""
		if r.Value != nil {
			value = strconv.FormatFloat(*r.Value, 'f', -1, 64)
		}

		if labels != nil {
			label, ok := labels[r.Tag]
			if !ok || label == "" {
				label = r.Tag
			}
			record[0], record[1], record[2], record[3], record[4] = r.Timestamp, r.Tag, label, value, r.Unit
		} else {
			record[0], record[1], record[2], record[3] = r.Timestamp, r.Tag, value, r.Unit
		}

		if err := cw.Write(record); err != nil {
			return err
		}
	}

	cw.Flush()
	return cw.Error()
}
