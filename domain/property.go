package domain

import (
	"strings"
	"time"
)

// Property statuses.
const (
	StatusDraft           = "draft"
	StatusPendingApproval = "pending_approval"
	StatusActive          = "active"
	StatusSold            = "sold"
	StatusRented          = "rented"
	StatusInactive        = "inactive"
	StatusArchived        = "archived"
	StatusUnderContract   = "under_contract"
)

// GeoPoint is the geo_point representation stored in the index.
type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// GeoPointFor builds a point only when both coordinates are known.
func GeoPointFor(lat, lon *float64) *GeoPoint {
	if lat == nil || lon == nil {
		return nil
	}
	return &GeoPoint{Lat: *lat, Lon: *lon}
}

// PropertyDocument is the searchable projection of a property listing.
// Absent values are omitted so that partial documents merge into existing ones.
type PropertyDocument struct {
	ID              string     `json:"id"`
	Title           string     `json:"title,omitempty"`
	Description     string     `json:"description,omitempty"`
	Type            string     `json:"type,omitempty"`
	Status          string     `json:"status,omitempty"`
	Price           *float64   `json:"price,omitempty"`
	Currency        string     `json:"currency,omitempty"`
	Address         string     `json:"address,omitempty"`
	City            string     `json:"city,omitempty"`
	State           string     `json:"state,omitempty"`
	Country         string     `json:"country,omitempty"`
	ZipCode         string     `json:"zipCode,omitempty"`
	Location        *GeoPoint  `json:"location,omitempty"`
	Neighborhood    string     `json:"neighborhood,omitempty"`
	Landmarks       []string   `json:"landmarks,omitempty"`
	Bedrooms        *int       `json:"bedrooms,omitempty"`
	Bathrooms       *int       `json:"bathrooms,omitempty"`
	Area            *float64   `json:"area,omitempty"`
	AreaUnit        string     `json:"areaUnit,omitempty"`
	Parking         *int       `json:"parking,omitempty"`
	Furnished       *bool      `json:"furnished,omitempty"`
	Amenities       []string   `json:"amenities,omitempty"`
	YearBuilt       *int       `json:"yearBuilt,omitempty"`
	Floor           *int       `json:"floor,omitempty"`
	TotalFloors     *int       `json:"totalFloors,omitempty"`
	MediaURLs       []string   `json:"mediaUrls,omitempty"`
	PrimaryImageURL string     `json:"primaryImageUrl,omitempty"`
	OwnerID         string     `json:"ownerId,omitempty"`
	AgentID         string     `json:"agentId,omitempty"`
	CreatedAt       *time.Time `json:"createdAt,omitempty"`
	UpdatedAt       *time.Time `json:"updatedAt,omitempty"`
}

// FullAddress joins the non-empty address parts of a document.
func FullAddress(d PropertyDocument) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{d.Address, d.City, d.State, d.ZipCode, d.Country} {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, ", ")
}

// GeoFilter restricts results to a radius around a point.
type GeoFilter struct {
	Lat      float64 `json:"lat"`
	Lon      float64 `json:"lon"`
	Distance string  `json:"distance"`
}

// SearchQuery describes a property search request.
type SearchQuery struct {
	Query        string     `json:"query,omitempty"`
	Type         string     `json:"type,omitempty"`
	Status       string     `json:"status,omitempty"`
	Currency     string     `json:"currency,omitempty"`
	MinPrice     *float64   `json:"minPrice,omitempty"`
	MaxPrice     *float64   `json:"maxPrice,omitempty"`
	Bedrooms     *int       `json:"bedrooms,omitempty"`
	Bathrooms    *int       `json:"bathrooms,omitempty"`
	MaxBedrooms  *int       `json:"maxBedrooms,omitempty"`
	MaxBathrooms *int       `json:"maxBathrooms,omitempty"`
	MinArea      *float64   `json:"minArea,omitempty"`
	MaxArea      *float64   `json:"maxArea,omitempty"`
	Furnished    *bool      `json:"furnished,omitempty"`
	City         string     `json:"city,omitempty"`
	State        string     `json:"state,omitempty"`
	Country      string     `json:"country,omitempty"`
	Location     *GeoFilter `json:"location,omitempty"`
	SortBy       string     `json:"sortBy,omitempty"`
	SortOrder    string     `json:"sortOrder,omitempty"`
	Page         int        `json:"page,omitempty"`
	Limit        int        `json:"limit,omitempty"`
}

// SearchHit is a matched document with its relevance score.
type SearchHit struct {
	PropertyDocument
	Score float64 `json:"score"`
}

// SearchResult is one page of search hits.
type SearchResult struct {
	Hits  []SearchHit `json:"hits"`
	Total int64       `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// Bucket is a single term aggregation entry.
type Bucket struct {
	Key   string `json:"key"`
	Count int64  `json:"count"`
}

// NumericStats summarizes a numeric field.
type NumericStats struct {
	Count int64    `json:"count"`
	Min   *float64 `json:"min"`
	Max   *float64 `json:"max"`
	Avg   *float64 `json:"avg"`
	Sum   float64  `json:"sum"`
}

// IndexStats aggregates the indexed listings.
type IndexStats struct {
	Total      int64        `json:"total"`
	ByType     []Bucket     `json:"byType"`
	ByStatus   []Bucket     `json:"byStatus"`
	ByCity     []Bucket     `json:"byCity"`
	PriceStats NumericStats `json:"priceStats"`
	AreaStats  NumericStats `json:"areaStats"`
}
