package transport

import (
	"math"
	"strconv"
	"strings"

	"github.com/valyala/fasthttp"

	"github.com/fastygo/realty-mesh/domain"
)

// ParseSearchQuery reads a flat query string into a SearchQuery.
// Unparsable or non-finite numeric values are treated as absent.
func ParseSearchQuery(args *fasthttp.Args) domain.SearchQuery {
	q := domain.SearchQuery{
		Query:        str(args, "query"),
		Type:         str(args, "type"),
		Status:       str(args, "status"),
		Currency:     str(args, "currency"),
		MinPrice:     float(args, "minPrice"),
		MaxPrice:     float(args, "maxPrice"),
		Bedrooms:     integer(args, "bedrooms"),
		Bathrooms:    integer(args, "bathrooms"),
		MaxBedrooms:  integer(args, "maxBedrooms"),
		MaxBathrooms: integer(args, "maxBathrooms"),
		MinArea:      float(args, "minArea"),
		MaxArea:      float(args, "maxArea"),
		Furnished:    boolean(args, "furnished"),
		City:         str(args, "city"),
		State:        str(args, "state"),
		Country:      str(args, "country"),
		SortBy:       str(args, "sortBy"),
		SortOrder:    str(args, "sortOrder"),
	}
	if q.Query == "" {
		q.Query = str(args, "q")
	}
	if page := integer(args, "page"); page != nil {
		q.Page = *page
	}
	if limit := integer(args, "limit"); limit != nil {
		q.Limit = *limit
	}

	lat, lon := float(args, "lat"), float(args, "lon")
	if lat != nil && lon != nil {
		distance := str(args, "distance")
		if distance == "" {
			distance = "10km"
		}
		q.Location = &domain.GeoFilter{Lat: *lat, Lon: *lon, Distance: distance}
	}
	return q
}

func str(args *fasthttp.Args, key string) string {
	return strings.TrimSpace(string(args.Peek(key)))
}

func float(args *fasthttp.Args, key string) *float64 {
	raw := str(args, key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func integer(args *fasthttp.Args, key string) *int {
	raw := str(args, key)
	if raw == "" {
		return nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil
	}
	return &v
}

func boolean(args *fasthttp.Args, key string) *bool {
	raw := str(args, key)
	if raw == "" {
		return nil
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return nil
	}
	return &v
}
