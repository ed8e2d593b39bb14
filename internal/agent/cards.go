package agent

import (
	"fmt"
	"strings"
	"time"

	"github.com/rebekaee1/mgp-v2/internal/ranking"
	"github.com/rebekaee1/mgp-v2/internal/repair"
	"github.com/rebekaee1/mgp-v2/internal/tourvisor"
)

// OfferCard is the caller-facing rendering of one offer. Field names are
// the ones the web widget reads.
type OfferCard struct {
	HotelName       string  `json:"hotel_name"`
	HotelStars      int     `json:"hotel_stars"`
	HotelRating     float64 `json:"hotel_rating"`
	Country         string  `json:"country"`
	Resort          string  `json:"resort"`
	Region          string  `json:"region"`
	DateFrom        *string `json:"date_from"`
	DateTo          *string `json:"date_to"`
	Nights          int     `json:"nights"`
	Price           int     `json:"price"`
	PricePerPerson  *int    `json:"price_per_person"`
	FoodType        string  `json:"food_type"`
	MealDescription string  `json:"meal_description"`
	RoomType        string  `json:"room_type"`
	ImageURL        *string `json:"image_url"`
	HotelLink       string  `json:"hotel_link"`
	ID              string  `json:"id"`
	DepartureCity   string  `json:"departure_city"`
	IsHotelOnly     bool    `json:"is_hotel_only"`
	FlightIncluded  bool    `json:"flight_included"`
	Operator        string  `json:"operator"`
}

const isoDate = "2006-01-02"

var mealNames = map[string]string{
	"RO":  "Без питания",
	"BB":  "Только завтрак",
	"HB":  "Завтрак и ужин",
	"HB+": "Полупансион+",
	"FB":  "Полный пансион",
	"FB+": "Полный пансион+",
	"AI":  "Всё включено",
	"UAI": "Ультра всё включено",
}

func isoFlyDate(flydate string) *string {
	t, err := time.Parse(tourvisor.DateLayout, flydate)
	if err != nil {
		return nil
	}
	s := t.Format(isoDate)
	return &s
}

func isoEndDate(flydate string, nights int) *string {
	if nights <= 0 {
		return nil
	}
	t, err := time.Parse(tourvisor.DateLayout, flydate)
	if err != nil {
		return nil
	}
	s := t.AddDate(0, 0, nights).Format(isoDate)
	return &s
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// searchCard renders a ranked search result. Search prices are for the
// whole party.
func searchCard(r ranking.Ranked, departureCity string) OfferCard {
	h, t := r.Hotel, r.Tour
	nights := t.Nights.Int()
	if nights == 0 {
		nights = 7
	}
	price := t.Price.Int()
	if price == 0 {
		price = h.Price.Int()
	}
	noFlight := departureCity == noFlightCity || t.NoFlight.Bool()
	return OfferCard{
		HotelName:       orDefault(h.HotelName.String(), "Отель"),
		HotelStars:      h.HotelStars.Int(),
		HotelRating:     h.HotelRating.Float(),
		Country:         h.CountryName.String(),
		Resort:          h.RegionName.String(),
		Region:          h.RegionName.String(),
		DateFrom:        isoFlyDate(t.FlyDate.String()),
		DateTo:          isoEndDate(t.FlyDate.String(), nights),
		Nights:          nights,
		Price:           price,
		MealDescription: t.MealRussian.String(),
		RoomType:        orDefault(t.Room.String(), "Standard"),
		ImageURL:        optString(h.Picture()),
		HotelLink:       orDefault(h.DescLink.String(), "#"),
		ID:              t.TourID.String(),
		DepartureCity:   departureCity,
		IsHotelOnly:     noFlight,
		FlightIncluded:  !noFlight,
		Operator:        t.OperatorName.String(),
	}
}

// hotTourCard renders a hot tour. Hot tour prices are per person.
func hotTourCard(t tourvisor.HotTour) OfferCard {
	nights := t.Nights.Int()
	if nights == 0 {
		nights = 7
	}
	price := t.Price.Int()
	meal := strings.TrimSpace(t.Meal.String())
	return OfferCard{
		HotelName:       orDefault(t.HotelName.String(), "Отель"),
		HotelStars:      t.HotelStars.Int(),
		HotelRating:     t.HotelRating.Float(),
		Country:         t.CountryName.String(),
		Resort:          t.RegionName.String(),
		Region:          t.RegionName.String(),
		DateFrom:        isoFlyDate(t.FlyDate.String()),
		DateTo:          isoEndDate(t.FlyDate.String(), nights),
		Nights:          nights,
		Price:           price,
		PricePerPerson:  &price,
		FoodType:        meal,
		MealDescription: orDefault(mealNames[meal], meal),
		RoomType:        "Standard",
		ImageURL:        optString(t.Picture()),
		HotelLink:       orDefault(t.DescLink.String(), "#"),
		ID:              t.TourID.String(),
		DepartureCity:   orDefault(t.DepartureName.String(), defaultDepartureCity),
		FlightIncluded:  true,
		Operator:        t.OperatorName.String(),
	}
}

var noFlightCity = func() string {
	city, _ := repair.DepartureCity(repair.NoFlightDeparture)
	return city
}()

// pinnedSummary lists the offers on screen so positional references
// ("второй отель") still resolve after the history is trimmed.
func pinnedSummary(cards []OfferCard) string {
	if len(cards) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Клиенту показаны варианты:")
	for i, c := range cards {
		fmt.Fprintf(&b, "\n%d) %s", i+1, c.HotelName)
		if c.HotelStars > 0 {
			fmt.Fprintf(&b, " %d*", c.HotelStars)
		}
		if c.Resort != "" {
			b.WriteString(", " + c.Resort)
		}
		if c.DateFrom != nil {
			b.WriteString(", вылет " + *c.DateFrom)
		}
		fmt.Fprintf(&b, ", %d ночей, %d руб.", c.Nights, c.Price)
		if c.PricePerPerson != nil {
			b.WriteString(" за человека")
		}
		fmt.Fprintf(&b, " (tourid=%s)", c.ID)
	}
	return b.String()
}
