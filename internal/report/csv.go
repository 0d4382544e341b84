package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/FranksOps/dossier/internal/storage"
)

// sourceHeaders defines the CSV column order.
var sourceHeaders = []string{
	"position",
	"url",
	"title",
	"score",
	"published_date",
	"extraction_success",
	"strategy",
	"word_count",
	"page_count",
	"error",
	"created_at",
}

// WriteSourcesCSV writes one row per source, without content, in stored
// order.
func WriteSourcesCSV(w io.Writer, sources []storage.Source) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sourceHeaders); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, s := range sources {
		created := ""
		if !s.CreatedAt.IsZero() {
			created = s.CreatedAt.Format(time.RFC3339Nano)
		}
		record := []string{
			strconv.Itoa(s.Position),
			s.URL,
			s.Title,
			strconv.FormatFloat(s.Score, 'f', -1, 64),
			s.PublishedDate,
			strconv.FormatBool(s.Success),
			s.Strategy,
			strconv.Itoa(s.WordCount),
			strconv.Itoa(s.PageCount),
			s.Error,
			created,
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}
