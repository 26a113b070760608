package search

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/require"
)

// fakeES emulates the handful of index endpoints ESStore calls.
type fakeES struct {
	mu      sync.Mutex
	index   string
	exists  bool
	creates int
	docs    map[string]map[string]interface{}
}

func newFakeES(t *testing.T) (*fakeES, *ESStore) {
	t.Helper()
	f := &fakeES{index: "properties", docs: make(map[string]map[string]interface{})}
	srv := httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(srv.Close)

	client, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return f, NewESStore(client, f.index, "true", nil)
}

func (f *fakeES) doc(id string) (map[string]interface{}, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	d, ok := f.docs[id]
	if !ok {
		return nil, false
	}
	out := make(map[string]interface{}, len(d))
	for k, v := range d {
		out[k] = v
	}
	return out, true
}

func (f *fakeES) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.docs)
}

func (f *fakeES) serve(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("X-Elastic-Product", "Elasticsearch")
	w.Header().Set("Content-Type", "application/json")

	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case r.URL.Path == "/":
		reply(w, http.StatusOK, map[string]interface{}{"version": map[string]interface{}{"number": "8.19.0"}})
	case len(parts) == 1 && r.Method == http.MethodHead:
		if f.exists {
			w.WriteHeader(http.StatusOK)
		} else {
			w.WriteHeader(http.StatusNotFound)
		}
	case len(parts) == 1 && r.Method == http.MethodPut:
		if f.exists {
			reply(w, http.StatusBadRequest, esError("resource_already_exists_exception", "index exists"))
			return
		}
		f.exists = true
		f.creates++
		reply(w, http.StatusOK, map[string]interface{}{"acknowledged": true})
	case len(parts) == 3 && parts[1] == "_update":
		var body struct {
			Doc         map[string]interface{} `json:"doc"`
			DocAsUpsert bool                   `json:"doc_as_upsert"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusBadRequest, esError("parse_exception", err.Error()))
			return
		}
		current, ok := f.docs[parts[2]]
		if !ok {
			if !body.DocAsUpsert {
				reply(w, http.StatusNotFound, esError("document_missing_exception", parts[2]))
				return
			}
			current = make(map[string]interface{})
		}
		for k, v := range body.Doc {
			current[k] = v
		}
		f.docs[parts[2]] = current
		reply(w, http.StatusOK, map[string]interface{}{"_id": parts[2], "result": "updated"})
	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodGet:
		d, ok := f.docs[parts[2]]
		if !ok {
			reply(w, http.StatusNotFound, map[string]interface{}{"_id": parts[2], "found": false})
			return
		}
		reply(w, http.StatusOK, map[string]interface{}{"_id": parts[2], "found": true, "_source": d})
	case len(parts) == 3 && parts[1] == "_doc" && r.Method == http.MethodDelete:
		if _, ok := f.docs[parts[2]]; !ok {
			reply(w, http.StatusNotFound, map[string]interface{}{"_id": parts[2], "result": "not_found"})
			return
		}
		delete(f.docs, parts[2])
		reply(w, http.StatusOK, map[string]interface{}{"_id": parts[2], "result": "deleted"})
	case len(parts) == 2 && parts[1] == "_search":
		var body map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			reply(w, http.StatusBadRequest, esError("parse_exception", err.Error()))
			return
		}
		from, _ := body["from"].(float64)
		size, _ := body["size"].(float64)
		if from+size > MaxResultWindow {
			reply(w, http.StatusBadRequest, esError("illegal_argument_exception", "Result window is too large"))
			return
		}
		reply(w, http.StatusOK, f.search(body))
	default:
		reply(w, http.StatusNotFound, esError("not_found", r.Method+" "+r.URL.Path))
	}
}

func (f *fakeES) search(body map[string]interface{}) map[string]interface{} {
	ids := make([]string, 0, len(f.docs))
	for id, d := range f.docs {
		if q, ok := body["query"].(map[string]interface{}); !ok || matches(d, q) {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	from, _ := body["from"].(float64)
	size := float64(10)
	if s, ok := body["size"].(float64); ok {
		size = s
	}
	hits := make([]interface{}, 0)
	for i, id := range ids {
		if i < int(from) || len(hits) >= int(size) {
			continue
		}
		hits = append(hits, map[string]interface{}{"_id": id, "_score": 1.0, "_source": f.docs[id]})
	}

	out := map[string]interface{}{
		"hits": map[string]interface{}{
			"total": map[string]interface{}{"value": len(ids), "relation": "eq"},
			"hits":  hits,
		},
	}
	if aggs, ok := body["aggs"].(map[string]interface{}); ok {
		out["aggregations"] = f.aggregate(ids, aggs)
	}
	return out
}

func (f *fakeES) aggregate(ids []string, aggs map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(aggs))
	for name, spec := range aggs {
		for kind, params := range spec.(map[string]interface{}) {
			field := strings.TrimSuffix(params.(map[string]interface{})["field"].(string), ".keyword")
			switch kind {
			case "value_count":
				n := 0
				for _, id := range ids {
					if _, ok := f.docs[id][field]; ok {
						n++
					}
				}
				out[name] = map[string]interface{}{"value": n}
			case "terms":
				counts := map[string]int{}
				for _, id := range ids {
					if v, ok := f.docs[id][field]; ok {
						counts[fmt.Sprint(v)]++
					}
				}
				keys := make([]string, 0, len(counts))
				for k := range counts {
					keys = append(keys, k)
				}
				sort.Slice(keys, func(i, j int) bool {
					if counts[keys[i]] != counts[keys[j]] {
						return counts[keys[i]] > counts[keys[j]]
					}
					return keys[i] < keys[j]
				})
				buckets := make([]interface{}, 0, len(keys))
				for _, k := range keys {
					buckets = append(buckets, map[string]interface{}{"key": k, "doc_count": counts[k]})
				}
				out[name] = map[string]interface{}{"buckets": buckets}
			case "stats":
				var n int
				var min, max, sum float64
				for _, id := range ids {
					v, ok := f.docs[id][field].(float64)
					if !ok {
						continue
					}
					if n == 0 || v < min {
						min = v
					}
					if n == 0 || v > max {
						max = v
					}
					sum += v
					n++
				}
				if n == 0 {
					out[name] = map[string]interface{}{"count": 0, "min": nil, "max": nil, "avg": nil, "sum": 0}
					continue
				}
				out[name] = map[string]interface{}{"count": n, "min": min, "max": max, "avg": sum / float64(n), "sum": sum}
			}
		}
	}
	return out
}

// matches evaluates the subset of the query DSL BuildSearchBody emits.
func matches(doc map[string]interface{}, clause map[string]interface{}) bool {
	for kind, raw := range clause {
		params, _ := raw.(map[string]interface{})
		switch kind {
		case "bool":
			for _, key := range []string{"must", "filter"} {
				list, _ := params[key].([]interface{})
				for _, c := range list {
					if !matches(doc, c.(map[string]interface{})) {
						return false
					}
				}
			}
		case "match_all":
		case "multi_match":
			text := ""
			for _, field := range []string{"title", "description", "address", "city", "state", "country"} {
				text += " " + strings.ToLower(fmt.Sprint(doc[field]))
			}
			found := false
			for _, token := range strings.Fields(strings.ToLower(params["query"].(string))) {
				if strings.Contains(text, token) {
					found = true
				}
			}
			if !found {
				return false
			}
		case "match_phrase_prefix":
			for field, p := range params {
				prefix := strings.ToLower(p.(map[string]interface{})["query"].(string))
				if !strings.HasPrefix(strings.ToLower(fmt.Sprint(doc[field])), prefix) {
					return false
				}
			}
		case "term", "match":
			for field, want := range params {
				if fmt.Sprint(doc[strings.TrimSuffix(field, ".keyword")]) != fmt.Sprint(want) {
					return false
				}
			}
		case "range":
			for field, b := range params {
				v, ok := doc[field].(float64)
				if !ok {
					return false
				}
				bounds := b.(map[string]interface{})
				if gte, ok := bounds["gte"].(float64); ok && v < gte {
					return false
				}
				if lte, ok := bounds["lte"].(float64); ok && v > lte {
					return false
				}
			}
		case "geo_distance":
			if _, ok := doc["location"]; !ok {
				return false
			}
		}
	}
	return true
}

func reply(w http.ResponseWriter, status int, body interface{}) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func esError(kind, reason string) map[string]interface{} {
	return map[string]interface{}{"error": map[string]interface{}{"type": kind, "reason": reason}, "status": 400}
}
