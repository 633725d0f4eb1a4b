package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

// Archive column names.
const (
	ColOrderID    = "id_arrete"
	ColStart      = "date_debut"
	ColEnd        = "date_fin"
	ColDepartment = "departement"
	ColZoneLevels = "zones_alerte.niveau_gravite"
	ColZoneTypes  = "zones_alerte.type"
)

var requiredColumns = []string{ColStart, ColEnd, ColDepartment, ColZoneLevels, ColZoneTypes}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	time.RFC3339,
	"02/01/2006",
}

// OrdersStats reports how many archive rows were read and dropped.
type OrdersStats struct {
	Rows    int
	Dropped int
}

// ParseOrders reads the restriction-order archive. Rows without a usable end
// or start date are dropped.
func ParseOrders(r io.Reader) ([]drought.Order, OrdersStats, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		return nil, OrdersStats{}, fmt.Errorf("read archive header: %w", err)
	}
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.TrimSpace(strings.TrimPrefix(name, "\ufeff"))] = i
	}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			return nil, OrdersStats{}, fmt.Errorf("archive is missing column %q", col)
		}
	}
	field := func(rec []string, col string) string {
		i, ok := index[col]
		if !ok || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	var (
		orders []drought.Order
		stats  OrdersStats
	)
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, stats, fmt.Errorf("read archive row %d: %w", stats.Rows+1, err)
		}
		stats.Rows++
		end, endErr := parseDate(field(rec, ColEnd))
		start, startErr := parseDate(field(rec, ColStart))
		if endErr != nil || startErr != nil {
			stats.Dropped++
			continue
		}
		orders = append(orders, drought.Order{
			ID:         field(rec, ColOrderID),
			Start:      start,
			End:        end,
			Department: field(rec, ColDepartment),
			Levels:     drought.ParseListCell(field(rec, ColZoneLevels)),
			Types:      drought.ParseListCell(field(rec, ColZoneTypes)),
		})
	}
	return orders, stats, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty date")
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return drought.Today(t), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable date %q", s)
}
