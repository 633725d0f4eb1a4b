package render

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/AlaingToul/mybinder-arrete-secheresse/internal/drought"
)

// Card is one network level box of the indicators page.
type Card struct {
	Level     drought.Level
	Label     string
	Color     string
	Count     int
	Delta     drought.Delta
	Names     string
	Highlight bool
}

// IndicatorsView feeds the indicators page. When Available is false the
// archive could not be loaded and Message explains why.
type IndicatorsView struct {
	Indicators drought.Indicators
	Available  bool
	Message    string
}

type indicatorsData struct {
	IndicatorsView
	DeltaFR  drought.Delta
	LastYear int
	Cards    []Card
}

// Cards builds the four network boxes. Names are listed above vigilance only.
func Cards(ind drought.Indicators) []Card {
	out := make([]Card, 0, len(drought.Levels))
	for _, l := range drought.Levels {
		cur := ind.Current.Network[l]
		c := Card{
			Level:     l,
			Label:     l.Label(),
			Color:     l.Color(),
			Count:     cur.Count,
			Delta:     ind.DeltaNetwork(l),
			Highlight: l == drought.LevelCrise,
		}
		if l != drought.LevelVigilance && cur.Count > 0 {
			c.Names = cur.Names
		}
		out = append(out, c)
	}
	return out
}

// IndicatorsPage renders the indicators HTML page.
func IndicatorsPage(w io.Writer, v IndicatorsView) error {
	data := indicatorsData{IndicatorsView: v}
	if v.Available {
		data.DeltaFR = v.Indicators.DeltaFR()
		data.LastYear = v.Indicators.PreviousYear.Date.Year()
		data.Cards = Cards(v.Indicators)
	}
	if err := pages.ExecuteTemplate(w, "indicators.html", data); err != nil {
		return fmt.Errorf("render indicators page: %w", err)
	}
	return nil
}

// WriteTable prints the indicator table as aligned text columns.
func WriteTable(w io.Writer, ind drought.Indicators) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintf(tw, "horizon\tdate\tdept_fr")
	for _, l := range drought.Levels {
		fmt.Fprintf(tw, "\t%s", l)
	}
	fmt.Fprintln(tw)
	for _, row := range ind.Rows() {
		fmt.Fprintf(tw, "%s\t%s\t%d", row.Horizon, FrenchDate(row.Date), row.DeptFR)
		for _, l := range drought.Levels {
			fmt.Fprintf(tw, "\t%d", row.Network[l].Count)
		}
		fmt.Fprintln(tw)
	}
	fmt.Fprintf(tw, "delta\t\t%s", ind.DeltaFR())
	for _, l := range drought.Levels {
		fmt.Fprintf(tw, "\t%s", ind.DeltaNetwork(l))
	}
	fmt.Fprintln(tw)
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("flush table: %w", err)
	}
	for _, l := range drought.RestrictiveLevels {
		if names := ind.Current.Network[l].Names; names != "" {
			if _, err := fmt.Fprintf(w, "%s: %s\n", l.Label(), names); err != nil {
				return fmt.Errorf("write names: %w", err)
			}
		}
	}
	return nil
}
