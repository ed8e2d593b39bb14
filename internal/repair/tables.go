package repair

import (
	"embed"
	"fmt"
	"io/fs"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"gopkg.in/yaml.v3"

	"github.com/rebekaee1/mgp-v2/internal/textnorm"
)

//go:embed tables/*.yaml
var tablesFS embed.FS

// NoFlightDeparture is the departure id of land-only packages.
const NoFlightDeparture = 99

type departureRow struct {
	ID     int      `yaml:"id"`
	City   string   `yaml:"city"`
	Match  []string `yaml:"match"`
	Verify string   `yaml:"verify"`
}

type resortRow struct {
	Match       string `yaml:"match"`
	Country     int    `yaml:"country"`
	CountryName string `yaml:"country_name"`
	Region      int    `yaml:"region,omitempty"`
	Parent      string `yaml:"parent,omitempty"`
}

// Departure is a departure city with its compiled detectors.
type Departure struct {
	ID     int
	City   string
	match  []*regexp.Regexp
	verify *regexp.Regexp
}

// Resort maps a resort name pattern to its country and region.
type Resort struct {
	CountryID   int
	CountryName string
	RegionID    int
	Parent      string
	match       *regexp.Regexp
}

var (
	departures  []Departure
	departureBy map[int]Departure
	resorts     []Resort
)

func init() {
	var err error
	if departures, err = loadDepartures(); err != nil {
		panic(err)
	}
	departureBy = make(map[int]Departure, len(departures))
	for _, d := range departures {
		departureBy[d.ID] = d
	}
	if resorts, err = loadResorts(); err != nil {
		panic(err)
	}
}

func readTable(name string, out any) error {
	b, err := fs.ReadFile(tablesFS, "tables/"+name)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(b, out); err != nil {
		return fmt.Errorf("parse %s: %w", name, err)
	}
	return nil
}

func loadDepartures() ([]Departure, error) {
	var doc struct {
		Departures []departureRow `yaml:"departures"`
	}
	if err := readTable("departures.yaml", &doc); err != nil {
		return nil, err
	}
	out := make([]Departure, 0, len(doc.Departures))
	for _, row := range doc.Departures {
		out = append(out, Departure{
			ID:     row.ID,
			City:   row.City,
			match:  textnorm.MustCompileAll(row.Match...),
			verify: textnorm.MustCompile(row.Verify),
		})
	}
	return out, nil
}

func loadResorts() ([]Resort, error) {
	var doc struct {
		Resorts []resortRow `yaml:"resorts"`
	}
	if err := readTable("resorts.yaml", &doc); err != nil {
		return nil, err
	}
	out := make([]Resort, 0, len(doc.Resorts))
	for _, row := range doc.Resorts {
		out = append(out, Resort{
			CountryID:   row.Country,
			CountryName: row.CountryName,
			RegionID:    row.Region,
			Parent:      row.Parent,
			match:       textnorm.MustCompile(row.Match),
		})
	}
	return out, nil
}

// DepartureCity returns the display name of a departure id.
func DepartureCity(id int) (string, bool) {
	d, ok := departureBy[id]
	return d.City, ok
}

// DepartureCities returns all known departures ordered by id.
func DepartureCities() []Departure {
	out := append([]Departure(nil), departures...)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// DepartureFromText returns the first departure whose "из X" pattern occurs
// in the folded text.
func DepartureFromText(text string) (Departure, bool) {
	for _, d := range departures {
		if textnorm.MatchAny(d.match, text) {
			return d, true
		}
	}
	return Departure{}, false
}

var departureContext = textnorm.MustCompile(`(?:^|[^\p{L}])(?:из|с)\s*$`)

// ResortFromText returns the first resort named in the folded text and the
// name as written. A city named as the departure ("из Сочи") is not a
// destination.
func ResortFromText(text string) (Resort, string, bool) {
	for _, r := range resorts {
		for _, loc := range r.match.FindAllStringIndex(text, -1) {
			m := text[loc[0]:loc[1]]
			name := trimNonLetters(m)
			start := loc[0] + strings.Index(m, name)
			if departureContext.MatchString(text[:start]) {
				continue
			}
			return r, name, true
		}
	}
	return Resort{}, "", false
}

// trimNonLetters drops the boundary characters an emulated \b consumes.
func trimNonLetters(s string) string {
	return strings.TrimFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
