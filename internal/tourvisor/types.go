package tourvisor

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"
)

// Num decodes the API's numeric fields, which arrive as numbers, numeric
// strings or empty strings depending on the endpoint.
type Num float64

func (n *Num) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*n = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(strings.ReplaceAll(s, ",", "."))
		if s == "" {
			*n = 0
			return nil
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			*n = 0
			return nil
		}
		*n = Num(f)
		return nil
	}
	if bytes.Equal(data, []byte("true")) {
		*n = 1
		return nil
	}
	if bytes.Equal(data, []byte("false")) {
		*n = 0
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*n = Num(f)
	return nil
}

func (n Num) Int() int { return int(n) }
func (n Num) Float() float64 { return float64(n) }
func (n Num) Bool() bool { return n != 0 }

// Text decodes string fields that the API sometimes sends as bare numbers.
type Text string

func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(s)
		return nil
	}
	*t = Text(string(data))
	return nil
}

func (t Text) String() string { return string(t) }

// List decodes collections that the API collapses to a bare object when
// they hold a single element.
type List[T any] []T

func (l *List[T]) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) || bytes.Equal(data, []byte(`""`)) {
		*l = nil
		return nil
	}
	if data[0] == '[' {
		var items []T
		if err := json.Unmarshal(data, &items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	var item T
	if err := json.Unmarshal(data, &item); err != nil {
		return err
	}
	*l = List[T]{item}
	return nil
}

// Search states reported by result.php?type=status.
const (
	StateSearching = "searching"
	StateFinished  = "finished"
	StateNotFound  = "no search results"
)

// Status is the progress of one asynchronous search.
type Status struct {
	State       string `json:"state"`
	HotelsFound Num    `json:"hotelsfound"`
	ToursFound  Num    `json:"toursfound"`
	Progress    Num    `json:"progress"`
	MinPrice    Num    `json:"minprice"`
	MaxPrice    Num    `json:"maxprice"`
	TimePassed  Num    `json:"timepassed"`
}

func (s Status) Finished() bool { return s.State == StateFinished }

// Tour is one priced package inside a hotel result.
type Tour struct {
	TourID         Text `json:"tourid"`
	OperatorCode   Text `json:"operatorcode"`
	OperatorName   Text `json:"operatorname"`
	FlyDate        Text `json:"flydate"`
	Nights         Num  `json:"nights"`
	Placement      Text `json:"placement"`
	Adults         Num  `json:"adults"`
	Child          Num  `json:"child"`
	Meal           Text `json:"meal"`
	MealRussian    Text `json:"mealrussian"`
	Room           Text `json:"room"`
	TourName       Text `json:"tourname"`
	Price          Num  `json:"price"`
	FuelCharge     Num  `json:"fuelcharge"`
	Currency       Text `json:"currency"`
	Regular        Num  `json:"regular"`
	Promo          Num  `json:"promo"`
	OnRequest      Num  `json:"onrequest"`
	FlightStatus   Num  `json:"flightstatus"`
	HotelStatus    Num  `json:"hotelstatus"`
	NightFlight    Num  `json:"nightflight"`
	NoFlight       Num  `json:"noflight"`
	NoTransfer     Num  `json:"notransfer"`
	NoMedInsurance Num  `json:"nomedinsurance"`
	NoMeal         Num  `json:"nomeal"`
}

// Warnings lists the tour's caveats in the wording shown to the model.
func (t Tour) Warnings() []string {
	var out []string
	if t.NightFlight.Bool() {
		out = append(out, "ночной перелёт")
	}
	if t.NoFlight.Bool() {
		out = append(out, "без перелёта")
	}
	if t.NoTransfer.Bool() {
		out = append(out, "без трансфера")
	}
	if t.NoMedInsurance.Bool() {
		out = append(out, "без мед.страховки")
	}
	if t.NoMeal.Bool() {
		out = append(out, "без питания")
	}
	if t.OnRequest.Bool() {
		out = append(out, "под запрос")
	}
	return out
}

// Hotel is one hotel of a result page together with its tours.
type Hotel struct {
	HotelCode   Text `json:"hotelcode"`
	HotelName   Text `json:"hotelname"`
	HotelStars  Num  `json:"hotelstars"`
	HotelRating Num  `json:"hotelrating"`
	CountryName Text `json:"countryname"`
	RegionName  Text `json:"regionname"`
	Price       Num  `json:"price"`
	SeaDistance Num  `json:"seadistance"`
	IsPhoto     Num  `json:"isphoto"`
	PictureLink Text `json:"picturelink"`
	Description Text `json:"hoteldescription"`
	DescLink    Text `json:"fulldesclink"`
	Tours       struct {
		Tour List[Tour] `json:"tour"`
	} `json:"tours"`
}

// Picture returns the hotel photo, or "" for the region placeholder images.
func (h Hotel) Picture() string {
	p := h.PictureLink.String()
	if !h.IsPhoto.Bool() || p == "" || strings.Contains(p, "/reg-") {
		return ""
	}
	return p
}

// ResultPage is one page of result.php?type=result.
type ResultPage struct {
	Status Status
	Hotels []Hotel
}

// HotTour is a single entry of hottours.php. Prices are per person.
type HotTour struct {
	HotelCode         Text `json:"hotelcode"`
	HotelName         Text `json:"hotelname"`
	HotelStars        Num  `json:"hotelstars"`
	HotelRating       Num  `json:"hotelrating"`
	CountryName       Text `json:"countryname"`
	RegionName        Text `json:"hotelregionname"`
	DepartureName     Text `json:"departurename"`
	DepartureNameFrom Text `json:"departurenamefrom"`
	OperatorName      Text `json:"operatorname"`
	Price             Num  `json:"price"`
	PriceOld          Num  `json:"priceold"`
	Currency          Text `json:"currency"`
	FlyDate           Text `json:"flydate"`
	Nights            Num  `json:"nights"`
	Meal              Text `json:"meal"`
	TourID            Text `json:"tourid"`
	PictureLink       Text `json:"hotelpicture"`
	DescLink          Text `json:"fulldesclink"`
}

// Discount is the rounded percentage off the old price.
func (t HotTour) Discount() int {
	if t.PriceOld <= 0 {
		return 0
	}
	return int((float64(t.PriceOld-t.Price)/float64(t.PriceOld))*100 + 0.5)
}

func (t HotTour) Picture() string {
	p := t.PictureLink.String()
	if strings.Contains(p, "/reg-") {
		return ""
	}
	return p
}

// Entry is one dictionary record. Dictionaries are heterogeneous so they
// stay loosely typed and are passed through to the model as JSON.
type Entry map[string]any

// ID returns the record's "id" field as text.
func (e Entry) ID() string {
	switch v := e["id"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	case json.Number:
		return v.String()
	}
	return ""
}

// Name returns the record's "name" field.
func (e Entry) Name() string {
	s, _ := e["name"].(string)
	return s
}

// Str returns an arbitrary field as text.
func (e Entry) Str(key string) string {
	switch v := e[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	}
	return ""
}
