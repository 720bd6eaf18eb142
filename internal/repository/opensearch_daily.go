package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/opensearch-project/opensearch-go/v2"
	"github.com/opensearch-project/opensearch-go/v2/opensearchapi"

	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/docstore"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/models"
	"github.com/spbu-ds-practicum-2025/example-project/services/delivery-service/internal/pricing"
)

const statsPageSize = 100

// OpenSearchDailyBackend stores each day's packages in its own index
type OpenSearchDailyBackend struct {
	client *opensearch.Client
}

// NewOpenSearchDailyBackend creates a per-day OpenSearch backend
func NewOpenSearchDailyBackend(client *opensearch.Client) *OpenSearchDailyBackend {
	return &OpenSearchDailyBackend{client: client}
}

func packageMappings() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"id":                map[string]interface{}{"type": "keyword"},
			"session_id":        map[string]interface{}{"type": "keyword"},
			"name":              map[string]interface{}{"type": "text"},
			"weight_kg":         map[string]interface{}{"type": "double"},
			"content_value_usd": map[string]interface{}{"type": "double"},
			"type_id":           map[string]interface{}{"type": "integer"},
			"type_name":         map[string]interface{}{"type": "keyword"},
			"delivery_cost_rub": map[string]interface{}{"type": "double"},
			"created_at":        map[string]interface{}{"type": "date"},
			"updated_at":        map[string]interface{}{"type": "date"},
		},
	}
}

// lookupMappings covers the two fields queried by session and by time.
func lookupMappings() map[string]interface{} {
	return map[string]interface{}{
		"properties": map[string]interface{}{
			"session_id": map[string]interface{}{"type": "keyword"},
			"created_at": map[string]interface{}{"type": "date"},
		},
	}
}

// Open creates the day's index if it does not exist and returns a handle on it.
func (b *OpenSearchDailyBackend) Open(ctx context.Context, day string) (docstore.Collection, error) {
	name := docstore.CollectionName(day)

	res, err := opensearchapi.IndicesExistsRequest{Index: []string{name}}.Do(ctx, b.client)
	if err != nil {
		return nil, fmt.Errorf("failed to check index %s: %w", name, err)
	}
	res.Body.Close()

	if res.StatusCode == http.StatusNotFound {
		body, err := json.Marshal(map[string]interface{}{
			"settings": map[string]interface{}{
				"number_of_shards":   1,
				"number_of_replicas": 0,
			},
			"mappings": packageMappings(),
		})
		if err != nil {
			return nil, err
		}

		res, err := opensearchapi.IndicesCreateRequest{Index: name, Body: bytes.NewReader(body)}.Do(ctx, b.client)
		if err != nil {
			return nil, fmt.Errorf("failed to create index %s: %w", name, err)
		}
		defer res.Body.Close()

		// A concurrent creator winning the race is fine.
		if res.IsError() && !isAlreadyExists(res.Body) {
			return nil, fmt.Errorf("failed to create index %s: %s", name, res.Status())
		}
	} else if res.IsError() {
		return nil, fmt.Errorf("failed to check index %s: %s", name, res.Status())
	}

	return &openSearchCollection{client: b.client, name: name}, nil
}

// EnsureIndexes maps session_id as keyword and created_at as date.
func (b *OpenSearchDailyBackend) EnsureIndexes(ctx context.Context, coll docstore.Collection) error {
	body, err := json.Marshal(lookupMappings())
	if err != nil {
		return err
	}

	res, err := opensearchapi.IndicesPutMappingRequest{
		Index: []string{coll.Name()},
		Body:  bytes.NewReader(body),
	}.Do(ctx, b.client)
	if err != nil {
		return fmt.Errorf("failed to put mapping on %s: %w", coll.Name(), err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("failed to put mapping on %s: %s - %s", coll.Name(), res.Status(), string(bodyBytes))
	}
	return nil
}

func isAlreadyExists(body io.Reader) bool {
	var e struct {
		Error struct {
			Type string `json:"type"`
		} `json:"error"`
	}
	if err := json.NewDecoder(body).Decode(&e); err != nil {
		return false
	}
	return e.Error.Type == "resource_already_exists_exception"
}

type openSearchCollection struct {
	client *opensearch.Client
	name   string
}

func (c *openSearchCollection) Name() string { return c.name }

type bulkResponse struct {
	Errors bool `json:"errors"`
	Items  []map[string]struct {
		ID     string `json:"_id"`
		Status int    `json:"status"`
		Error  *struct {
			Type   string `json:"type"`
			Reason string `json:"reason"`
		} `json:"error,omitempty"`
	} `json:"items"`
}

// InsertMany indexes all records in one bulk request. Records are keyed by
// their id, so replaying a batch overwrites instead of duplicating.
func (c *openSearchCollection) InsertMany(ctx context.Context, records []models.Package) error {
	if len(records) == 0 {
		return nil
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for _, p := range records {
		meta := map[string]interface{}{
			"index": map[string]interface{}{"_index": c.name, "_id": p.ID.String()},
		}
		if err := enc.Encode(meta); err != nil {
			return fmt.Errorf("failed to encode bulk action: %w", err)
		}
		if err := enc.Encode(p); err != nil {
			return fmt.Errorf("failed to encode package %s: %w", p.ID, err)
		}
	}

	res, err := opensearchapi.BulkRequest{
		Index: c.name,
		Body:  &buf,
	}.Do(ctx, c.client)
	if err != nil {
		return fmt.Errorf("bulk insert into %s failed: %w", c.name, err)
	}
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("bulk insert into %s failed: %s - %s", c.name, res.Status(), string(bodyBytes))
	}

	var br bulkResponse
	if err := json.NewDecoder(res.Body).Decode(&br); err != nil {
		return fmt.Errorf("failed to decode bulk response: %w", err)
	}
	if !br.Errors {
		return nil
	}

	failed := 0
	var first string
	for _, item := range br.Items {
		for _, result := range item {
			if result.Error != nil {
				failed++
				if first == "" {
					first = fmt.Sprintf("%s: %s", result.Error.Type, result.Error.Reason)
				}
			}
		}
	}
	return fmt.Errorf("bulk insert into %s: %d of %d items failed, first: %s", c.name, failed, len(records), first)
}

type statsResponse struct {
	Aggregations struct {
		ByType struct {
			AfterKey map[string]interface{} `json:"after_key"`
			Buckets  []struct {
				Key struct {
					TypeID   int    `json:"type_id"`
					TypeName string `json:"type_name"`
				} `json:"key"`
				Total struct {
					Value float64 `json:"value"`
				} `json:"total"`
			} `json:"buckets"`
		} `json:"by_type"`
	} `json:"aggregations"`
}

// Stats sums priced deliveries per (type_id, type_name) ordered by type_id.
func (c *openSearchCollection) Stats(ctx context.Context) ([]models.DeliveryStat, error) {
	var (
		stats    []models.DeliveryStat
		afterKey map[string]interface{}
	)

	for {
		composite := map[string]interface{}{
			"size": statsPageSize,
			"sources": []map[string]interface{}{
				{"type_id": map[string]interface{}{"terms": map[string]interface{}{"field": "type_id", "order": "asc"}}},
				{"type_name": map[string]interface{}{"terms": map[string]interface{}{"field": "type_name"}}},
			},
		}
		if afterKey != nil {
			composite["after"] = afterKey
		}

		query := map[string]interface{}{
			"size":  0,
			"query": map[string]interface{}{"exists": map[string]interface{}{"field": "delivery_cost_rub"}},
			"aggs": map[string]interface{}{
				"by_type": map[string]interface{}{
					"composite": composite,
					"aggs": map[string]interface{}{
						"total": map[string]interface{}{"sum": map[string]interface{}{"field": "delivery_cost_rub"}},
					},
				},
			},
		}

		var buf bytes.Buffer
		if err := json.NewEncoder(&buf).Encode(query); err != nil {
			return nil, err
		}

		res, err := opensearchapi.SearchRequest{
			Index: []string{c.name},
			Body:  &buf,
		}.Do(ctx, c.client)
		if err != nil {
			return nil, fmt.Errorf("stats query on %s failed: %w", c.name, err)
		}

		var sr statsResponse
		err = decodeSearch(res, &sr)
		if err != nil {
			return nil, fmt.Errorf("stats query on %s failed: %w", c.name, err)
		}

		for _, bucket := range sr.Aggregations.ByType.Buckets {
			stats = append(stats, models.DeliveryStat{
				TypeID:            bucket.Key.TypeID,
				TypeName:          bucket.Key.TypeName,
				TotalDeliveryCost: pricing.Round2(bucket.Total.Value),
			})
		}

		if len(sr.Aggregations.ByType.Buckets) < statsPageSize || sr.Aggregations.ByType.AfterKey == nil {
			break
		}
		afterKey = sr.Aggregations.ByType.AfterKey
	}

	return stats, nil
}

func decodeSearch(res *opensearchapi.Response, out interface{}) error {
	defer res.Body.Close()

	if res.IsError() {
		bodyBytes, _ := io.ReadAll(res.Body)
		return fmt.Errorf("%s - %s", res.Status(), string(bodyBytes))
	}
	return json.NewDecoder(res.Body).Decode(out)
}
