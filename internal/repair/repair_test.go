package repair

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rebekaee1/mgp-v2/internal/conversation"
	"github.com/rebekaee1/mgp-v2/internal/toolargs"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
	"github.com/rebekaee1/mgp-v2/pkg/logging"
)

type fakeRegions struct {
	entries []tourvisor.Entry
	err     error
	calls   int
}

func (f *fakeRegions) Regions(_ context.Context, _ int) ([]tourvisor.Entry, error) {
	f.calls++
	return f.entries, f.err
}

var fixedNow = time.Date(2030, time.March, 10, 15, 30, 0, 0, time.UTC)

func newRepairer(regions RegionResolver) *Repairer {
	return New(logging.NewDiscardLogger(), regions, WithClock(func() time.Time { return fixedNow }))
}

func input(userTexts ...string) Input {
	h := conversation.NewHistory()
	for _, text := range userTexts {
		h.Append(conversation.Turn{Role: conversation.RoleUser, Content: text})
	}
	return Input{History: h}
}

func run(t *testing.T, fn func(context.Context, *Repairer, Input, toolargs.Args) (bool, error), in Input, args toolargs.Args) bool {
	t.Helper()
	changed, err := fn(context.Background(), newRepairer(nil), in, args)
	require.NoError(t, err)
	return changed
}

func TestDepartureList(t *testing.T) {
	args := toolargs.Args{"departure": []any{5.0, 10.0}}
	_, err := fixDepartureList(context.Background(), newRepairer(nil), input(), args)
	ce, ok := AsCorrection(err)
	require.True(t, ok)
	assert.Contains(t, ce.Message, "Санкт-Петербург, Казань")
	assert.Contains(t, ce.Message, "ОДНОГО")

	args = toolargs.Args{"departure": []any{"1"}}
	assert.True(t, run(t, fixDepartureList, input(), args))
	assert.Equal(t, 1, args.IntOr("departure", 0))

	args = toolargs.Args{"departure": 1.0}
	assert.False(t, run(t, fixDepartureList, input(), args))
}

func TestDepartureText(t *testing.T) {
	args := toolargs.Args{"departure": 1.0}
	assert.True(t, run(t, fixDepartureText, input("Турция, вылет из Казани"), args))
	assert.Equal(t, 10, args.IntOr("departure", 0))

	args = toolargs.Args{}
	assert.True(t, run(t, fixDepartureText, input("летим с Екб"), args))
	assert.Equal(t, 3, args.IntOr("departure", 0))

	args = toolargs.Args{"departure": 10.0}
	assert.False(t, run(t, fixDepartureText, input("из Казани"), args))
}

func TestDepartureChangeConfirmed(t *testing.T) {
	in := input("Турция из Москвы в начале июня", "а если из Питера?")
	in.LastSearch = toolargs.Args{"departure": 1.0}

	args := toolargs.Args{"departure": 5.0}
	assert.False(t, run(t, fixDepartureText, in, args))
	assert.Equal(t, 5, args.IntOr("departure", 0))

	// An unconfirmed switch is overridden by the stated city.
	args = toolargs.Args{"departure": 3.0}
	assert.True(t, run(t, fixDepartureText, in, args))
	assert.Equal(t, 1, args.IntOr("departure", 0))
}

func TestLeakedCall(t *testing.T) {
	args := toolargs.Args{"datefrom": `"get_current_date(`, "dateto": "20.06.2030"}
	assert.True(t, run(t, fixLeakedCall, input(), args))
	assert.False(t, args.Has("datefrom"))
	assert.Equal(t, "20.06.2030", args.Str("dateto"))
}

func TestDateYear(t *testing.T) {
	args := toolargs.Args{"datefrom": "15.6", "dateto": "1.02"}
	assert.True(t, run(t, fixDateYear, input(), args))
	assert.Equal(t, "15.06.2030", args.Str("datefrom"))
	assert.Equal(t, "01.02.2031", args.Str("dateto"), "a passed date rolls to next year")

	args = toolargs.Args{"datefrom": "10.03"}
	run(t, fixDateYear, input(), args)
	assert.Equal(t, "10.03.2030", args.Str("datefrom"), "today is not in the past")

	args = toolargs.Args{"datefrom": "31.02"}
	assert.False(t, run(t, fixDateYear, input(), args))
}

func TestDateToDefault(t *testing.T) {
	args := toolargs.Args{"datefrom": "15.06.2030"}
	assert.True(t, run(t, fixDateToDefault, input(), args))
	assert.Equal(t, "15.06.2030", args.Str("dateto"))

	args = toolargs.Args{"datefrom": "15.06.2030", "dateto": "20.06.2030"}
	assert.False(t, run(t, fixDateToDefault, input(), args))
}

func TestDateToClamp(t *testing.T) {
	tests := []struct {
		name   string
		text   string
		args   toolargs.Args
		wantTo string
	}{
		{
			name:   "return date sent as dateto",
			text:   "15 июня на 7 ночей",
			args:   toolargs.Args{"datefrom": "15.06.2030", "dateto": "22.06.2030", "nightsfrom": 7.0, "nightsto": 7.0},
			wantTo: "15.06.2030",
		},
		{
			name:   "no nights keeps the window",
			text:   "в июне",
			args:   toolargs.Args{"datefrom": "15.06.2030", "dateto": "22.06.2030"},
			wantTo: "22.06.2030",
		},
		{
			name:   "wide window kept",
			text:   "в июне на неделю",
			args:   toolargs.Args{"datefrom": "01.06.2030", "dateto": "20.06.2030", "nightsfrom": 7.0, "nightsto": 7.0},
			wantTo: "20.06.2030",
		},
		{
			name:   "explicit range equal to the trip",
			text:   "с 15 по 22 июня, 7 ночей",
			args:   toolargs.Args{"datefrom": "15.06.2030", "dateto": "22.06.2030", "nightsfrom": 7.0, "nightsto": 7.0},
			wantTo: "15.06.2030",
		},
		{
			name:   "explicit departure window",
			text:   "вылет с 15 по 25 июня, 7 ночей",
			args:   toolargs.Args{"datefrom": "15.06.2030", "dateto": "25.06.2030", "nightsfrom": 7.0, "nightsto": 9.0},
			wantTo: "25.06.2030",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run(t, fixDateToClamp, input(tt.text), tt.args)
			assert.Equal(t, tt.wantTo, tt.args.Str("dateto"))
		})
	}
}

func TestPastDate(t *testing.T) {
	args := toolargs.Args{"datefrom": "01.03.2030", "dateto": "05.03.2030"}
	assert.True(t, run(t, fixPastDate, input(), args))
	assert.Equal(t, "11.03.2030", args.Str("datefrom"))
	assert.Equal(t, "13.03.2030", args.Str("dateto"))

	args = toolargs.Args{"datefrom": "01.03.2030", "dateto": "20.03.2030"}
	run(t, fixPastDate, input(), args)
	assert.Equal(t, "20.03.2030", args.Str("dateto"))
}

func TestMonthPart(t *testing.T) {
	tests := []struct {
		text     string
		from, to string
		wantFrom string
		wantTo   string
	}{
		{"в конце мая", "28.05.2030", "30.05.2030", "20.05.2030", "31.05.2030"},
		{"в начале июня", "01.06.2030", "10.06.2030", "01.06.2030", "04.06.2030"},
		{"в середине июля", "15.07.2030", "15.07.2030", "10.07.2030", "20.07.2030"},
		{"в первой половине августа", "01.08.2030", "03.08.2030", "01.08.2030", "14.08.2030"},
		{"во второй половине февраля", "20.02.2031", "21.02.2031", "15.02.2031", "28.02.2031"},
		{"в конце мая", "20.05.2030", "30.05.2030", "20.05.2030", "30.05.2030"},
	}
	for _, tt := range tests {
		t.Run(tt.text+" "+tt.from, func(t *testing.T) {
			args := toolargs.Args{"datefrom": tt.from, "dateto": tt.to}
			run(t, fixMonthPart, input(tt.text), args)
			assert.Equal(t, tt.wantFrom, args.Str("datefrom"))
			assert.Equal(t, tt.wantTo, args.Str("dateto"))
		})
	}
}

func TestMonthPartNextYear(t *testing.T) {
	args := toolargs.Args{"datefrom": "10.11.2030", "dateto": "12.11.2030"}
	run(t, fixMonthPart, input("в начале января"), args)
	assert.Equal(t, "01.01.2031", args.Str("datefrom"))
	assert.Equal(t, "04.01.2031", args.Str("dateto"))
}

func TestDateCorrectorsIdempotent(t *testing.T) {
	cases := []struct {
		text string
		args toolargs.Args
	}{
		{"в конце мая на 7-10 ночей", toolargs.Args{"datefrom": "28.05", "dateto": "30.05", "nightsfrom": 7.0, "nightsto": 10.0}},
		{"15 июня на неделю", toolargs.Args{"datefrom": "15.06", "dateto": "22.06.2030", "nightsfrom": 7.0, "nightsto": 7.0}},
		{"в начале марта", toolargs.Args{"datefrom": "01.03.2030", "dateto": "02.03.2030"}},
		{"завтра", toolargs.Args{"datefrom": `get_current_date()`}},
		{"с 10 по 20 апреля", toolargs.Args{"datefrom": "10.04", "nightsfrom": 7.0, "nightsto": 9.0}},
	}
	r := newRepairer(nil)
	for _, c := range cases {
		t.Run(c.text, func(t *testing.T) {
			in := input(c.text)
			_, err := r.ApplyDates(context.Background(), in, c.args)
			require.NoError(t, err)
			once := c.args.Clone()

			_, err = r.ApplyDates(context.Background(), in, c.args)
			require.NoError(t, err)
			assert.Equal(t, once, c.args)
		})
	}
}

func TestResortRegionFromTable(t *testing.T) {
	args := toolargs.Args{"country": 1.0}
	assert.True(t, run(t, fixResortRegion, input("Хотим в Кемер"), args))
	assert.Equal(t, 4, args.IntOr("country", 0))
	assert.Equal(t, "22", args.Str("regions"))

	args = toolargs.Args{"country": 4.0, "regions": "20"}
	assert.False(t, run(t, fixResortRegion, input("Хотим в Кемер"), args))
	assert.Equal(t, "20", args.Str("regions"), "explicit regions win")
}

func TestResortRegionDropsCountryAsRegion(t *testing.T) {
	args := toolargs.Args{"country": 4.0, "regions": "4"}
	assert.True(t, run(t, fixResortRegion, input("Турция"), args))
	assert.False(t, args.Has("regions"))
}

func TestResortDepartureCityIgnored(t *testing.T) {
	_, _, ok := ResortFromText("вылет из сочи в турцию")
	assert.False(t, ok)

	r, name, ok := ResortFromText("хотим в сочи")
	require.True(t, ok)
	assert.Equal(t, "сочи", name)
	assert.Equal(t, 426, r.RegionID)
}

func TestResortRegionFromDictionary(t *testing.T) {
	regions := &fakeRegions{entries: []tourvisor.Entry{
		{"id": "101", "name": "Нячанг"},
		{"id": "102", "name": "Фукуок"},
	}}
	r := newRepairer(regions)

	args := toolargs.Args{"country": 16.0}
	changed, err := fixResortRegion(context.Background(), r, input("мечтаем про Фукуок"), args)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, "102", args.Str("regions"))
	assert.Equal(t, 1, regions.calls)
}

func TestResortRegionUnresolved(t *testing.T) {
	regions := &fakeRegions{err: errors.New("boom")}
	r := newRepairer(regions)

	args := toolargs.Args{"country": 2.0}
	_, err := fixResortRegion(context.Background(), r, input("на Хуа Хин"), args)
	ce, ok := AsCorrection(err)
	require.True(t, ok)
	assert.Contains(t, ce.Message, "хуа хин")
	assert.Contains(t, ce.Message, "regcountry=2")
	assert.False(t, args.Has("regions"))
}

func TestBackfill(t *testing.T) {
	in := input("а в Египет?")
	in.LastSearch = toolargs.Args{
		"departure": 1.0, "datefrom": "01.06.2030", "nightsfrom": 7.0, "adults": 2.0,
		KeyCountry: 4.0, KeyRegions: "22",
	}
	args := toolargs.Args{"country": 1.0, "regions": "22", "adults": 3.0}
	assert.True(t, run(t, fixBackfill, in, args))
	assert.Equal(t, 1, args.IntOr("departure", 0))
	assert.Equal(t, "01.06.2030", args.Str("datefrom"))
	assert.Equal(t, 3, args.IntOr("adults", 0), "explicit values are never overwritten")
	assert.False(t, args.Has("regions"), "regions of the old country are dropped")

	args = toolargs.Args{"country": 4.0, "regions": "22"}
	run(t, fixBackfill, in, args)
	assert.Equal(t, "22", args.Str("regions"))
}

func TestNightsBounds(t *testing.T) {
	args := toolargs.Args{"nightsfrom": 2.0, "nightsto": 10.0}
	assert.True(t, run(t, fixNightsBounds, input(), args))
	assert.Equal(t, 3, args.IntOr("nightsfrom", 0))

	args = toolargs.Args{"nightsfrom": 12.0, "nightsto": 10.0}
	assert.True(t, run(t, fixNightsBounds, input(), args))
	assert.Equal(t, 10, args.IntOr("nightsfrom", 0))

	args = toolargs.Args{"nightsfrom": 7.0, "nightsto": 10.0}
	assert.False(t, run(t, fixNightsBounds, input(), args))
}

func TestDaysToNights(t *testing.T) {
	args := toolargs.Args{"nightsfrom": 10.0, "nightsto": 10.0}
	assert.True(t, run(t, fixDaysToNights, input("на 10 дней"), args))
	assert.Equal(t, 9, args.IntOr("nightsfrom", 0))
	assert.Equal(t, 10, args.IntOr("nightsto", 0))

	args = toolargs.Args{"nightsfrom": 10.0, "nightsto": 10.0}
	assert.False(t, run(t, fixDaysToNights, input("10 дней, 9 ночей"), args))
}

func TestBetterFlags(t *testing.T) {
	args := toolargs.Args{"meal": 5.0, "stars": 4.0}
	assert.True(t, run(t, fixBetterFlags, input("4 звезды"), args))
	assert.Equal(t, 0, args.IntOr("mealbetter", -1))
	assert.Equal(t, 0, args.IntOr("starsbetter", -1))

	args = toolargs.Args{"stars": 4.0, "starsbetter": 1.0}
	run(t, fixBetterFlags, input("4 звезды"), args)
	assert.Equal(t, 0, args.IntOr("starsbetter", -1))

	args = toolargs.Args{"stars": 4.0, "starsbetter": 1.0}
	run(t, fixBetterFlags, input("от 4 звезд"), args)
	assert.Equal(t, 1, args.IntOr("starsbetter", -1))
}

func TestIndifference(t *testing.T) {
	args := toolargs.Args{"stars": 4.0, "starsbetter": 0.0, "meal": 5.0, "mealbetter": 0.0, "country": 4.0}
	assert.True(t, run(t, fixIndifference, input("4 звезды", "без разницы"), args))
	assert.Equal(t, toolargs.Args{"country": 4.0}, args)

	args = toolargs.Args{"stars": 4.0}
	assert.False(t, run(t, fixIndifference, input("без разницы", "4 звезды"), args))
}

func TestApproximatePrice(t *testing.T) {
	args := toolargs.Args{"priceto": 100000.0}
	assert.True(t, run(t, fixApproximatePrice, input("бюджет около 100 тысяч"), args))
	assert.Equal(t, 80000, args.IntOr("pricefrom", 0))
	assert.Equal(t, 120000, args.IntOr("priceto", 0))

	assert.False(t, run(t, fixApproximatePrice, input("бюджет около 100 тысяч"), args))

	args = toolargs.Args{"priceto": 100000.0}
	assert.False(t, run(t, fixApproximatePrice, input("до 100 тысяч"), args))
}

func TestApplyPipeline(t *testing.T) {
	in := input("Из Казани в Кемер в начале июня на 7 ночей, двое взрослых, 5 звезд все включено")
	args := toolargs.Args{
		"departure":  1.0,
		"country":    4.0,
		"datefrom":   "01.06",
		"nightsfrom": 7.0,
		"nightsto":   7.0,
		"adults":     2.0,
		"stars":      5.0,
		"meal":       7.0,
	}
	report, err := newRepairer(nil).Apply(context.Background(), in, args)
	require.NoError(t, err)

	assert.Equal(t, 10, args.IntOr("departure", 0))
	assert.Equal(t, "01.06.2030", args.Str("datefrom"))
	assert.Equal(t, "04.06.2030", args.Str("dateto"))
	assert.Equal(t, "22", args.Str("regions"))
	assert.Equal(t, 0, args.IntOr("starsbetter", -1))
	assert.Equal(t, 0, args.IntOr("mealbetter", -1))

	assert.True(t, report.Has(FixDepartureText))
	assert.True(t, report.Has(FixDateYear))
	assert.True(t, report.Has(FixMonthPart))
	assert.True(t, report.Has(FixResortRegion))
	assert.False(t, report.Has(FixBackfill))
}

func TestApplyStopsOnCorrection(t *testing.T) {
	args := toolargs.Args{"departure": "1,5", "datefrom": "01.06"}
	report, err := newRepairer(nil).Apply(context.Background(), input(), args)
	_, ok := AsCorrection(err)
	require.True(t, ok)
	assert.Empty(t, report.Applied)
	assert.Equal(t, "01.06", args.Str("datefrom"), "later correctors did not run")
}

func TestTables(t *testing.T) {
	city, ok := DepartureCity(8)
	require.True(t, ok)
	assert.Equal(t, "Нижний Новгород", city)

	d, ok := DepartureFromText("вылетаем из нижнего новгорода")
	require.True(t, ok)
	assert.Equal(t, 8, d.ID)

	d, ok = DepartureFromText("туры без перелета")
	require.True(t, ok)
	assert.Equal(t, NoFlightDeparture, d.ID)

	cities := DepartureCities()
	require.NotEmpty(t, cities)
	assert.Equal(t, 1, cities[0].ID)
}
