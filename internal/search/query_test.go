package search

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fastygo/realty-mesh/domain"
)

func filters(t *testing.T, body map[string]interface{}) []interface{} {
	t.Helper()
	b := body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	return b["filter"].([]interface{})
}

func must(t *testing.T, body map[string]interface{}) []interface{} {
	t.Helper()
	b := body["query"].(map[string]interface{})["bool"].(map[string]interface{})
	return b["must"].([]interface{})
}

func TestBuildSearchBodyDefaults(t *testing.T) {
	body := BuildSearchBody(domain.SearchQuery{})

	assert.Equal(t, 0, body["from"])
	assert.Equal(t, DefaultLimit, body["size"])
	assert.Empty(t, filters(t, body))
	assert.Equal(t, []interface{}{map[string]interface{}{"match_all": map[string]interface{}{}}}, must(t, body))
	assert.Equal(t, []interface{}{
		map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc"}},
	}, body["sort"])
}

func TestBuildSearchBodyPaging(t *testing.T) {
	body := BuildSearchBody(domain.SearchQuery{Page: 3, Limit: 20})
	assert.Equal(t, 40, body["from"])
	assert.Equal(t, 20, body["size"])

	body = BuildSearchBody(domain.SearchQuery{Limit: 500})
	assert.Equal(t, MaxLimit, body["size"])
}

func TestBuildSearchBodyClampsDeepPages(t *testing.T) {
	body := BuildSearchBody(domain.SearchQuery{Page: math.MaxInt, Limit: 100})
	assert.Equal(t, MaxResultWindow-100, body["from"])
	assert.Equal(t, 100, body["size"])

	body = BuildSearchBody(domain.SearchQuery{Page: 5000, Limit: 3})
	from := body["from"].(int)
	assert.LessOrEqual(t, from+3, MaxResultWindow)
	assert.Equal(t, 3333, NormalizeQuery(domain.SearchQuery{Page: 5000, Limit: 3}).Page)
}

func TestBuildSearchBodyText(t *testing.T) {
	body := BuildSearchBody(domain.SearchQuery{Query: " lake house "})

	mm := must(t, body)[0].(map[string]interface{})["multi_match"].(map[string]interface{})
	assert.Equal(t, "lake house", mm["query"])
	assert.Equal(t, "best_fields", mm["type"])
	assert.Equal(t, "AUTO", mm["fuzziness"])
	assert.Equal(t, textFields, mm["fields"])

	sort := body["sort"].([]interface{})
	require.Len(t, sort, 2)
	assert.Contains(t, sort[0], "_score")
}

func TestBuildSearchBodyFilters(t *testing.T) {
	minPrice, maxPrice := 100000.0, 300000.0
	beds := 2
	furnished := false
	body := BuildSearchBody(domain.SearchQuery{
		Type:      "apartment",
		Status:    "active",
		MinPrice:  &minPrice,
		MaxPrice:  &maxPrice,
		Bedrooms:  &beds,
		Furnished: &furnished,
		City:      "Austin",
		Location:  &domain.GeoFilter{Lat: 1, Lon: 2},
	})

	f := filters(t, body)
	assert.Contains(t, f, map[string]interface{}{"term": map[string]interface{}{"type": "apartment"}})
	assert.Contains(t, f, map[string]interface{}{"term": map[string]interface{}{"status": "active"}})
	assert.Contains(t, f, map[string]interface{}{"term": map[string]interface{}{"furnished": false}})
	assert.Contains(t, f, map[string]interface{}{"range": map[string]interface{}{
		"price": map[string]interface{}{"gte": 100000.0, "lte": 300000.0},
	}})
	assert.Contains(t, f, map[string]interface{}{"range": map[string]interface{}{
		"bedrooms": map[string]interface{}{"gte": 2},
	}})
	assert.Contains(t, f, map[string]interface{}{"match": map[string]interface{}{"city.keyword": "Austin"}})
	assert.Contains(t, f, map[string]interface{}{"geo_distance": map[string]interface{}{
		"distance": "10km",
		"location": map[string]interface{}{"lat": 1.0, "lon": 2.0},
	}})
}

func TestBuildSearchBodySort(t *testing.T) {
	body := BuildSearchBody(domain.SearchQuery{SortBy: "price", SortOrder: "ASC"})
	assert.Equal(t, []interface{}{
		map[string]interface{}{"price": map[string]interface{}{"order": "asc"}},
	}, body["sort"])

	body = BuildSearchBody(domain.SearchQuery{SortBy: "title"})
	assert.Equal(t, []interface{}{
		map[string]interface{}{"title.keyword": map[string]interface{}{"order": "desc"}},
	}, body["sort"])

	body = BuildSearchBody(domain.SearchQuery{SortBy: "nonsense"})
	assert.Equal(t, []interface{}{
		map[string]interface{}{"createdAt": map[string]interface{}{"order": "desc"}},
	}, body["sort"])
}
