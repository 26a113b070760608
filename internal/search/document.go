package search

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/fastygo/realty-mesh/domain"
)

// number accepts JSON numbers and numeric strings (decimal columns are often
// serialized as strings by the owning service).
type number float64

func (n *number) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(bytes.TrimSpace(b)), `"`)
	if s == "" || s == "null" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("invalid number %q", s)
	}
	*n = number(f)
	return nil
}

type locationPayload struct {
	Address      string   `json:"address"`
	City         string   `json:"city"`
	State        string   `json:"state"`
	Country      string   `json:"country"`
	ZipCode      string   `json:"zipCode"`
	Neighborhood string   `json:"neighborhood"`
	Landmarks    []string `json:"landmarks"`
	Latitude     *number  `json:"latitude"`
	Longitude    *number  `json:"longitude"`
	Lat          *number  `json:"lat"`
	Lon          *number  `json:"lon"`
}

type featuresPayload struct {
	Bedrooms    *number  `json:"bedrooms"`
	Bathrooms   *number  `json:"bathrooms"`
	Area        *number  `json:"area"`
	AreaUnit    string   `json:"areaUnit"`
	Parking     *number  `json:"parking"`
	Furnished   *bool    `json:"furnished"`
	Amenities   []string `json:"amenities"`
	YearBuilt   *number  `json:"yearBuilt"`
	Floor       *number  `json:"floor"`
	TotalFloors *number  `json:"totalFloors"`
}

// propertyPayload covers both the flat and the nested shapes emitted by the
// property service.
type propertyPayload struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"`
	Description     string           `json:"description"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	NewStatus       string           `json:"newStatus"`
	Price           *number          `json:"price"`
	Currency        string           `json:"currency"`
	Address         string           `json:"address"`
	City            string           `json:"city"`
	State           string           `json:"state"`
	Country         string           `json:"country"`
	ZipCode         string           `json:"zipCode"`
	Latitude        *number          `json:"latitude"`
	Longitude       *number          `json:"longitude"`
	Location        *locationPayload `json:"location"`
	Neighborhood    string           `json:"neighborhood"`
	Landmarks       []string         `json:"landmarks"`
	Features        *featuresPayload `json:"features"`
	Bedrooms        *number          `json:"bedrooms"`
	Bathrooms       *number          `json:"bathrooms"`
	Area            *number          `json:"area"`
	AreaUnit        string           `json:"areaUnit"`
	Parking         *number          `json:"parking"`
	Furnished       *bool            `json:"furnished"`
	Amenities       []string         `json:"amenities"`
	YearBuilt       *number          `json:"yearBuilt"`
	Floor           *number          `json:"floor"`
	TotalFloors     *number          `json:"totalFloors"`
	MediaURLs       []string         `json:"mediaUrls"`
	PrimaryImageURL string           `json:"primaryImageUrl"`
	OwnerID         string           `json:"ownerId"`
	AgentID         string           `json:"agentId"`
	CreatedAt       *time.Time       `json:"createdAt"`
	UpdatedAt       *time.Time       `json:"updatedAt"`
}

func decodePayload(evt domain.Event) (propertyPayload, error) {
	var p propertyPayload
	if len(evt.Data) == 0 || string(evt.Data) == "null" {
		return p, domain.InvalidPayload("empty property payload", nil)
	}
	if err := json.Unmarshal(evt.Data, &p); err != nil {
		return p, domain.InvalidPayload("decode property payload", err)
	}
	if p.ID == "" {
		p.ID = evt.Key
	}
	if p.ID == "" {
		return p, domain.InvalidPayload("property payload has no id", nil)
	}
	return p, nil
}

// Project maps an event payload onto the searchable document. Fields absent
// from the payload stay absent, so the result can be merged into an existing
// document.
func Project(evt domain.Event) (domain.PropertyDocument, error) {
	p, err := decodePayload(evt)
	if err != nil {
		return domain.PropertyDocument{}, err
	}

	loc := p.Location
	if loc == nil {
		loc = &locationPayload{}
	}
	feat := p.Features
	if feat == nil {
		feat = &featuresPayload{}
	}

	doc := domain.PropertyDocument{
		ID:              p.ID,
		Title:           p.Title,
		Description:     p.Description,
		Type:            p.Type,
		Status:          firstString(p.Status, p.NewStatus),
		Price:           toFloat(p.Price),
		Currency:        p.Currency,
		Address:         firstString(p.Address, loc.Address),
		City:            firstString(p.City, loc.City),
		State:           firstString(p.State, loc.State),
		Country:         firstString(p.Country, loc.Country),
		ZipCode:         firstString(p.ZipCode, loc.ZipCode),
		Neighborhood:    firstString(p.Neighborhood, loc.Neighborhood),
		Landmarks:       firstSlice(p.Landmarks, loc.Landmarks),
		Bedrooms:        toInt(firstNumber(p.Bedrooms, feat.Bedrooms)),
		Bathrooms:       toInt(firstNumber(p.Bathrooms, feat.Bathrooms)),
		Area:            toFloat(firstNumber(p.Area, feat.Area)),
		AreaUnit:        firstString(p.AreaUnit, feat.AreaUnit),
		Parking:         toInt(firstNumber(p.Parking, feat.Parking)),
		Furnished:       firstBool(p.Furnished, feat.Furnished),
		Amenities:       firstSlice(p.Amenities, feat.Amenities),
		YearBuilt:       toInt(firstNumber(p.YearBuilt, feat.YearBuilt)),
		Floor:           toInt(firstNumber(p.Floor, feat.Floor)),
		TotalFloors:     toInt(firstNumber(p.TotalFloors, feat.TotalFloors)),
		MediaURLs:       p.MediaURLs,
		PrimaryImageURL: p.PrimaryImageURL,
		OwnerID:         p.OwnerID,
		AgentID:         p.AgentID,
		CreatedAt:       p.CreatedAt,
		UpdatedAt:       p.UpdatedAt,
	}

	lat := firstNumber(p.Latitude, firstNumber(loc.Latitude, loc.Lat))
	lon := firstNumber(p.Longitude, firstNumber(loc.Longitude, loc.Lon))
	doc.Location = domain.GeoPointFor(toFloat(lat), toFloat(lon))

	return doc, nil
}

// Fields renders a document as the partial update body of the index.
func Fields(doc domain.PropertyDocument) (map[string]interface{}, error) {
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func firstString(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstSlice(a, b []string) []string {
	if len(a) > 0 {
		return a
	}
	return b
}

func firstNumber(a, b *number) *number {
	if a != nil {
		return a
	}
	return b
}

func firstBool(a, b *bool) *bool {
	if a != nil {
		return a
	}
	return b
}

func toFloat(n *number) *float64 {
	if n == nil {
		return nil
	}
	v := float64(*n)
	return &v
}

func toInt(n *number) *int {
	if n == nil {
		return nil
	}
	v := int(*n)
	return &v
}
