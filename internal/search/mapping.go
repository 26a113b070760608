package search

const textAnalyzer = "text_analyzer"

func keyword() map[string]interface{} { return map[string]interface{}{"type": "keyword"} }

func typed(t string) map[string]interface{} { return map[string]interface{}{"type": t} }

func analyzed(withKeyword bool) map[string]interface{} {
	f := map[string]interface{}{"type": "text", "analyzer": textAnalyzer}
	if withKeyword {
		f["fields"] = map[string]interface{}{"keyword": keyword()}
	}
	return f
}

// IndexDefinition is the settings and mapping the properties index is created with.
func IndexDefinition() map[string]interface{} {
	return map[string]interface{}{
		"settings": map[string]interface{}{
			"analysis": map[string]interface{}{
				"analyzer": map[string]interface{}{
					textAnalyzer: map[string]interface{}{
						"type":      "custom",
						"tokenizer": "standard",
						"filter":    []string{"lowercase", "stop", "snowball"},
					},
				},
			},
		},
		"mappings": map[string]interface{}{
			"properties": map[string]interface{}{
				"id":              keyword(),
				"title":           analyzed(true),
				"description":     analyzed(false),
				"type":            keyword(),
				"status":          keyword(),
				"price":           typed("double"),
				"currency":        keyword(),
				"address":         analyzed(false),
				"city":            analyzed(true),
				"state":           analyzed(true),
				"country":         analyzed(true),
				"zipCode":         keyword(),
				"location":        typed("geo_point"),
				"neighborhood":    typed("text"),
				"landmarks":       typed("text"),
				"bedrooms":        typed("integer"),
				"bathrooms":       typed("integer"),
				"area":            typed("double"),
				"areaUnit":        keyword(),
				"parking":         typed("integer"),
				"furnished":       typed("boolean"),
				"amenities":       typed("text"),
				"yearBuilt":       typed("integer"),
				"floor":           typed("integer"),
				"totalFloors":     typed("integer"),
				"mediaUrls":       keyword(),
				"primaryImageUrl": keyword(),
				"ownerId":         keyword(),
				"agentId":         keyword(),
				"createdAt":       typed("date"),
				"updatedAt":       typed("date"),
			},
		},
	}
}
