package main

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand/v2"
	"os"
	"strconv"
	"time"

	"github.com/couchcryptid/crime-data-service/internal/domain"
	"github.com/spf13/cobra"
)

const mockDateLayout = "01/02/2006 03:04:05 PM"

type mockArea struct {
	id     int
	name   string
	lat    float64
	lon    float64
	street []string
}

// Areas and streets follow the LAPD export. Coordinates are the division
// centroids; locations are spread around them on a fixed grid.
var mockAreas = []mockArea{
	{1, "Central", 34.0505, -118.2490, []string{"ALAMEDA", "SPRING", "MAIN", "BROADWAY", "HILL", "OLIVE", "GRAND", "FLOWER", "HOPE", "FIGUEROA"}},
	{2, "Rampart", 34.0695, -118.2720, []string{"SUNSET", "ALVARADO", "VERMONT", "WILSHIRE", "BEVERLY", "TEMPLE", "RAMPART", "HOOVER", "COUNCIL", "BONNIE BRAE"}},
	{3, "Southwest", 34.0180, -118.3050, []string{"FIGUEROA", "VERMONT", "NORMANDIE", "WESTERN", "JEFFERSON", "EXPOSITION", "MARTIN LUTHER KING JR", "CRENSHAW", "ADAMS", "HOOVER"}},
	{4, "Hollenbeck", 34.0440, -118.2100, []string{"CESAR E CHAVEZ", "WHITTIER", "FIRST", "SOTO", "BOYLE", "LORENA", "INDIANA", "MARENGO", "BROOKLYN", "MISSION"}},
	{5, "Harbor", 33.7580, -118.2890, []string{"PACIFIC", "GAFFEY", "ANAHEIM", "WESTERN", "VERMONT", "FRONT", "HARBOR", "SEPULVEDA", "WILMINGTON", "PALOS VERDES"}},
}

// mockCounts is the per-location incident count of one area before the
// hotspot is added. Rotated per area, it keeps every background z-score
// well under the anomaly threshold.
var mockCounts = []int{4, 5, 6, 5, 4, 6, 5, 4, 5, 6}

type mockCrime struct {
	code  string
	desc  string
	part1 bool
}

var mockCrimes = []mockCrime{
	{"624", "BATTERY - SIMPLE ASSAULT", true},
	{"740", "VANDALISM - FELONY ($400 & OVER, ALL CHURCH VANDALISMS)", false},
	{"330", "BURGLARY FROM VEHICLE", true},
	{"510", "VEHICLE - STOLEN", true},
	{"354", "THEFT OF IDENTITY", false},
	{"230", "ASSAULT WITH DEADLY WEAPON, AGGRAVATED ASSAULT", true},
	{"440", "THEFT PLAIN - PETTY ($950 & UNDER)", true},
}

var mockPremises = []struct{ code, desc string }{
	{"101", "STREET"},
	{"102", "SIDEWALK"},
	{"501", "SINGLE FAMILY DWELLING"},
	{"502", "MULTI-UNIT DWELLING (APARTMENT, DUPLEX, ETC)"},
	{"108", "PARKING LOT"},
}

var mockStatuses = []struct{ code, desc string }{
	{"IC", "Invest Cont"},
	{"AA", "Adult Arrest"},
	{"AO", "Adult Other"},
}

type genOptions struct {
	Seed      uint64
	Hotspot   int // extra incidents at the hotspot location
	PriorYear int // rows dated the year before, dropped on ingest
	Unlocated int // rows without coordinates
}

type genStats struct {
	Rows      int
	InYear    int
	Located   int
	Locations int
}

func newGenmockCmd(e *env) *cobra.Command {
	var (
		output string
		opts   = genOptions{Seed: 1, Hotspot: 60, PriorYear: 25, Unlocated: 10}
	)
	cmd := &cobra.Command{
		Use:     "genmock",
		Short:   "Write a synthetic crime export with one planted hotspot",
		GroupID: "tools",
		Example: `  crimectl genmock > synthetic.csv
  crimectl genmock -o data/mock/crime_data_synthetic.csv --seed 7 --hotspot 80`,
		Args: cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			w := e.out
			if output != "" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				defer f.Close()
				w = f
			}

			stats, err := generate(w, opts)
			if err != nil {
				return err
			}
			if output != "" {
				area, loc := hotspot()
				fmt.Fprintf(e.out, "%s: %d rows (%d in %d, %d located at %d locations), hotspot %s / %s\n",
					output, stats.Rows, stats.InYear, domain.TargetYear, stats.Located, stats.Locations, area, loc)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (defaults to stdout)")
	cmd.Flags().Uint64Var(&opts.Seed, "seed", opts.Seed, "random seed")
	cmd.Flags().IntVar(&opts.Hotspot, "hotspot", opts.Hotspot, "extra incidents at the hotspot location")
	cmd.Flags().IntVar(&opts.PriorYear, "prior-year", opts.PriorYear, "rows dated outside the ingested year")
	cmd.Flags().IntVar(&opts.Unlocated, "unlocated", opts.Unlocated, "rows without coordinates")
	return cmd
}

// hotspot returns the area and location that receive the extra incidents.
func hotspot() (area, location string) {
	a := mockAreas[0]
	return a.name, mockLocation(a, 0)
}

func mockLocation(a mockArea, i int) string {
	num := (i + 1) * 100 * (a.id + 1)
	dir := [...]string{"N", "S", "E", "W"}[(a.id+i)%4]
	return fmt.Sprintf("%d %s  %-30s ST", num, dir, a.street[i])
}

func mockCoords(a mockArea, i int) (lat, lon float64) {
	return a.lat + float64(i%5-2)*0.004, a.lon + float64(i/5)*0.006
}

// generate writes a complete export in US date format to w.
func generate(w io.Writer, opts genOptions) (genStats, error) {
	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	cw := csv.NewWriter(w)
	if err := cw.Write(domain.ExpectedColumns); err != nil {
		return genStats{}, err
	}

	var stats genStats
	seq := 0
	emit := func(a mockArea, loc string, lat, lon string, year int) error {
		seq++
		stats.Rows++
		if year == domain.TargetYear {
			stats.InYear++
			if lat != "" {
				stats.Located++
			}
		}
		return cw.Write(mockRow(rng, a, seq, loc, lat, lon, year))
	}

	for ai, a := range mockAreas {
		for li := range a.street {
			n := mockCounts[(li+ai)%len(mockCounts)]
			if ai == 0 && li == 0 {
				n += opts.Hotspot
			}
			lat, lon := mockCoords(a, li)
			latS, lonS := strconv.FormatFloat(lat, 'f', 4, 64), strconv.FormatFloat(lon, 'f', 4, 64)
			loc := mockLocation(a, li)
			for range n {
				if err := emit(a, loc, latS, lonS, domain.TargetYear); err != nil {
					return genStats{}, err
				}
			}
			stats.Locations++
		}
	}

	for i := range opts.PriorYear {
		a := mockAreas[i%len(mockAreas)]
		li := rng.IntN(len(a.street))
		lat, lon := mockCoords(a, li)
		if err := emit(a, mockLocation(a, li),
			strconv.FormatFloat(lat, 'f', 4, 64), strconv.FormatFloat(lon, 'f', 4, 64),
			domain.TargetYear-1); err != nil {
			return genStats{}, err
		}
	}

	for i := range opts.Unlocated {
		a := mockAreas[i%len(mockAreas)]
		if err := emit(a, mockLocation(a, rng.IntN(len(a.street))), "", "", domain.TargetYear); err != nil {
			return genStats{}, err
		}
	}

	cw.Flush()
	return stats, cw.Error()
}

func mockRow(rng *rand.Rand, a mockArea, seq int, loc, lat, lon string, year int) []string {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	days := time.Date(year+1, time.January, 1, 0, 0, 0, 0, time.UTC).Sub(start).Hours() / 24
	occurred := start.AddDate(0, 0, rng.IntN(int(days)))
	reported := occurred.AddDate(0, 0, rng.IntN(4))

	crime := mockCrimes[rng.IntN(len(mockCrimes))]
	premise := mockPremises[rng.IntN(len(mockPremises))]
	status := mockStatuses[rng.IntN(len(mockStatuses))]

	part := "2"
	if crime.part1 {
		part = "1"
	}

	// Victim age: mostly numeric, sometimes blank or unparseable.
	var age string
	switch p := rng.IntN(20); {
	case p == 0:
		age = ""
	case p == 1:
		age = "unknown"
	default:
		age = strconv.Itoa(18 + rng.IntN(60))
	}

	row := map[string]string{
		domain.ColDRNo:              fmt.Sprintf("%02d%02d%05d", year%100, a.id, seq),
		domain.ColDateReported:      reported.Format(mockDateLayout),
		domain.ColDateOccurred:      occurred.Format(mockDateLayout),
		domain.ColTimeOccurred:      strconv.Itoa(rng.IntN(24)*100 + rng.IntN(60)),
		domain.ColAreaID:            fmt.Sprintf("%02d", a.id),
		domain.ColAreaName:          a.name,
		domain.ColReportingDistrict: fmt.Sprintf("%02d%02d", a.id, 10+rng.IntN(80)),
		domain.ColPart12:            part,
		domain.ColCrimeCode:         crime.code,
		domain.ColCrimeCodeDesc:     crime.desc,
		domain.ColMOCodes:           fmt.Sprintf("%04d", rng.IntN(2000)),
		domain.ColVictimAge:         age,
		domain.ColVictimSex:         [...]string{"M", "F", "X"}[rng.IntN(3)],
		domain.ColVictimDescent:     [...]string{"H", "W", "B", "A", "O", "X"}[rng.IntN(6)],
		domain.ColPremiseCode:       premise.code,
		domain.ColPremiseDesc:       premise.desc,
		domain.ColStatus:            status.code,
		domain.ColStatusDesc:        status.desc,
		domain.ColCrimeCode1:        crime.code,
		domain.ColLocation:          loc,
		domain.ColLat:               lat,
		domain.ColLon:               lon,
	}

	out := make([]string, len(domain.ExpectedColumns))
	for i, col := range domain.ExpectedColumns {
		out[i] = row[col]
	}
	return out
}
