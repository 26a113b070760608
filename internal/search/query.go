package search

import (
	"strings"

	"github.com/fastygo/realty-mesh/domain"
)

const (
	DefaultPage  = 1
	DefaultLimit = 10
	MaxLimit     = 100

	// MaxResultWindow is the Elasticsearch default for index.max_result_window.
	MaxResultWindow = 10000

	defaultGeoDistance = "10km"
	suggestSize        = 10
	cityBuckets        = 10
)

var textFields = []string{"title^3", "description^2", "address", "city", "state", "country"}

// sortFields maps accepted sortBy values onto sortable index fields.
var sortFields = map[string]string{
	"price":     "price",
	"area":      "area",
	"bedrooms":  "bedrooms",
	"bathrooms": "bathrooms",
	"yearBuilt": "yearBuilt",
	"createdAt": "createdAt",
	"updatedAt": "updatedAt",
	"title":     "title.keyword",
	"city":      "city.keyword",
}

// NormalizeQuery applies paging defaults and bounds. Pages past the result
// window are clamped to the last reachable one.
func NormalizeQuery(q domain.SearchQuery) domain.SearchQuery {
	if q.Page < 1 {
		q.Page = DefaultPage
	}
	if q.Limit < 1 {
		q.Limit = DefaultLimit
	}
	if q.Limit > MaxLimit {
		q.Limit = MaxLimit
	}
	if maxPage := MaxResultWindow / q.Limit; q.Page > maxPage {
		q.Page = maxPage
	}
	q.SortOrder = strings.ToLower(q.SortOrder)
	if q.SortOrder != "asc" {
		q.SortOrder = "desc"
	}
	if q.Location != nil && q.Location.Distance == "" {
		loc := *q.Location
		loc.Distance = defaultGeoDistance
		q.Location = &loc
	}
	return q
}

// BuildSearchBody translates a query into an Elasticsearch request body.
func BuildSearchBody(q domain.SearchQuery) map[string]interface{} {
	q = NormalizeQuery(q)

	must := make([]interface{}, 0, 1)
	filter := make([]interface{}, 0, 8)

	if text := strings.TrimSpace(q.Query); text != "" {
		must = append(must, map[string]interface{}{
			"multi_match": map[string]interface{}{
				"query":     text,
				"fields":    textFields,
				"type":      "best_fields",
				"fuzziness": "AUTO",
			},
		})
	}

	for _, f := range []fieldValue{{"type", q.Type}, {"status", q.Status}, {"currency", q.Currency}} {
		if f.value != "" {
			filter = append(filter, term(f.field, f.value))
		}
	}
	if q.Furnished != nil {
		filter = append(filter, term("furnished", *q.Furnished))
	}

	if r := floatRange(q.MinPrice, q.MaxPrice); r != nil {
		filter = append(filter, rangeOf("price", r))
	}
	if r := floatRange(q.MinArea, q.MaxArea); r != nil {
		filter = append(filter, rangeOf("area", r))
	}
	if r := intRange(q.Bedrooms, q.MaxBedrooms); r != nil {
		filter = append(filter, rangeOf("bedrooms", r))
	}
	if r := intRange(q.Bathrooms, q.MaxBathrooms); r != nil {
		filter = append(filter, rangeOf("bathrooms", r))
	}

	for _, f := range []fieldValue{{"city", q.City}, {"state", q.State}, {"country", q.Country}} {
		if f.value != "" {
			filter = append(filter, map[string]interface{}{
				"match": map[string]interface{}{f.field + ".keyword": f.value},
			})
		}
	}

	if q.Location != nil {
		filter = append(filter, map[string]interface{}{
			"geo_distance": map[string]interface{}{
				"distance": q.Location.Distance,
				"location": map[string]interface{}{"lat": q.Location.Lat, "lon": q.Location.Lon},
			},
		})
	}

	if len(must) == 0 {
		must = append(must, map[string]interface{}{"match_all": map[string]interface{}{}})
	}

	return map[string]interface{}{
		"query": map[string]interface{}{
			"bool": map[string]interface{}{
				"must":   must,
				"filter": filter,
			},
		},
		"sort":             sortClause(q),
		"from":             (q.Page - 1) * q.Limit,
		"size":             q.Limit,
		"track_total_hits": true,
	}
}

// BuildStatsBody returns the aggregation-only request behind Stats.
func BuildStatsBody() map[string]interface{} {
	return map[string]interface{}{
		"size": 0,
		"aggs": map[string]interface{}{
			"total":       map[string]interface{}{"value_count": map[string]interface{}{"field": "id"}},
			"by_type":     map[string]interface{}{"terms": map[string]interface{}{"field": "type"}},
			"by_status":   map[string]interface{}{"terms": map[string]interface{}{"field": "status"}},
			"by_city":     map[string]interface{}{"terms": map[string]interface{}{"field": "city.keyword", "size": cityBuckets}},
			"price_stats": map[string]interface{}{"stats": map[string]interface{}{"field": "price"}},
			"area_stats":  map[string]interface{}{"stats": map[string]interface{}{"field": "area"}},
		},
	}
}

// BuildSuggestBody returns a title prefix lookup.
func BuildSuggestBody(prefix string) map[string]interface{} {
	return map[string]interface{}{
		"size":    suggestSize,
		"_source": []string{"title"},
		"query": map[string]interface{}{
			"match_phrase_prefix": map[string]interface{}{
				"title": map[string]interface{}{"query": prefix},
			},
		},
	}
}

func sortClause(q domain.SearchQuery) []interface{} {
	if field, ok := sortFields[q.SortBy]; ok {
		return []interface{}{
			map[string]interface{}{field: map[string]interface{}{"order": q.SortOrder}},
		}
	}
	clause := make([]interface{}, 0, 2)
	if strings.TrimSpace(q.Query) != "" {
		clause = append(clause, map[string]interface{}{"_score": map[string]interface{}{"order": "desc"}})
	}
	return append(clause, map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc"}})
}

type fieldValue struct {
	field string
	value string
}

func term(field string, value interface{}) map[string]interface{} {
	return map[string]interface{}{"term": map[string]interface{}{field: value}}
}

func rangeOf(field string, bounds map[string]interface{}) map[string]interface{} {
	return map[string]interface{}{"range": map[string]interface{}{field: bounds}}
}

func floatRange(min, max *float64) map[string]interface{} {
	if min == nil && max == nil {
		return nil
	}
	r := make(map[string]interface{}, 2)
	if min != nil {
		r["gte"] = *min
	}
	if max != nil {
		r["lte"] = *max
	}
	return r
}

func intRange(min, max *int) map[string]interface{} {
	if min == nil && max == nil {
		return nil
	}
	r := make(map[string]interface{}, 2)
	if min != nil {
		r["gte"] = *min
	}
	if max != nil {
		r["lte"] = *max
	}
	return r
}
