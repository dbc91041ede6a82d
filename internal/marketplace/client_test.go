package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/albapepper/collection-watch/internal/collection"
)

type recorded struct {
	path string
	body map[string]any
}

func newTestServer(t *testing.T, handler func(path string, body map[string]any) (int, any)) (*Client, *[]recorded) {
	t.Helper()
	var (
		mu   sync.Mutex
		reqs []recorded
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		reqs = append(reqs, recorded{path: r.URL.Path, body: body})
		mu.Unlock()

		status, resp := handler(r.URL.Path, body)
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, 99, 0, 5*time.Second, nil), &reqs
}

func listing(ids []int, total, perPage int) map[string]any {
	items := make([]map[string]any, 0, len(ids))
	for _, id := range ids {
		items = append(items, map[string]any{"id": id, "slug": fmt.Sprintf("c-%d", id), "percent": 10.5})
	}
	return map[string]any{
		"code": 0,
		"data": map[string]any{
			"items": items,
			"meta":  map[string]any{"totalCount": total, "perPage": perPage},
		},
	}
}

func TestFetchCollections_PagesUntilTotal(t *testing.T) {
	client, reqs := newTestServer(t, func(_ string, body map[string]any) (int, any) {
		switch body["page"].(float64) {
		case 1:
			return http.StatusOK, listing([]int{1, 2}, 5, 2)
		case 2:
			return http.StatusOK, listing([]int{3, 4}, 5, 2)
		default:
			return http.StatusOK, listing([]int{5}, 5, 2)
		}
	})

	got, err := client.FetchCollections(context.Background(), collection.Partner)
	require.NoError(t, err)
	require.Len(t, got, 5)
	assert.Equal(t, 5, got[4].ID)
	for _, c := range got {
		assert.Equal(t, collection.Partner, c.Partition)
	}

	require.Len(t, *reqs, 3)
	assert.Equal(t, "/panel/collections", (*reqs)[0].path)
	assert.Equal(t, true, (*reqs)[0].body["isPartnersPage"])
	assert.Equal(t, float64(99), (*reqs)[0].body["partnerId"])
}

func TestFetchCollections_PageFailureAbortsPartition(t *testing.T) {
	client, _ := newTestServer(t, func(_ string, body map[string]any) (int, any) {
		if body["page"].(float64) == 2 {
			return http.StatusInternalServerError, map[string]any{"code": 1}
		}
		return http.StatusOK, listing([]int{1, 2}, 6, 2)
	})

	got, err := client.FetchCollections(context.Background(), collection.Regular)
	require.Error(t, err)
	assert.Nil(t, got, "partial pages must not be returned")
}

func TestFetchPage_PartitionFilters(t *testing.T) {
	client, reqs := newTestServer(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, listing(nil, 0, 30)
	})

	_, err := client.FetchPage(context.Background(), collection.Regular, 1)
	require.NoError(t, err)
	_, err = client.FetchPage(context.Background(), collection.RegularSnowball, 1)
	require.NoError(t, err)

	assert.Equal(t, []any{float64(8)}, (*reqs)[0].body["excludeTypes"])
	assert.Equal(t, []any{"8"}, (*reqs)[1].body["type"])

	_, err = client.FetchPage(context.Background(), collection.Partition("bogus"), 1)
	assert.Error(t, err)
}

func TestProbeCollection(t *testing.T) {
	client, _ := newTestServer(t, func(_ string, body map[string]any) (int, any) {
		if body["collectionId"].(float64) == 510 {
			return http.StatusOK, map[string]any{
				"code": 0,
				"data": map[string]any{
					"items": []map[string]any{{"slug": "lucky-seven-12"}},
					"meta":  map[string]any{"totalCount": 40},
				},
			}
		}
		return http.StatusOK, map[string]any{"code": 0, "data": map[string]any{"items": []any{}}}
	})

	p, err := client.ProbeCollection(context.Background(), 510)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, "lucky-seven", p.Slug)
	assert.Equal(t, 40, p.TotalItems)
	assert.Equal(t, client.BaseURL()+"/collections/lucky-seven/nfts", p.URL)

	absent, err := client.ProbeCollection(context.Background(), 511)
	require.NoError(t, err)
	assert.Nil(t, absent)
}

func TestFetchInfo(t *testing.T) {
	client, _ := newTestServer(t, func(_ string, body map[string]any) (int, any) {
		if body["slug"] == "missing" {
			return http.StatusOK, map[string]any{"code": 404, "data": nil}
		}
		return http.StatusOK, map[string]any{
			"code": 0,
			"data": map[string]any{"id": 700, "name": "Lucky Seven", "slug": "lucky-seven", "liveDate": 700, "type": 8},
		}
	})

	info, err := client.FetchInfo(context.Background(), "lucky-seven")
	require.NoError(t, err)
	assert.Equal(t, 700, info.ID)
	assert.True(t, info.IsSnowball())
	assert.Equal(t, float64(700), info.LiveDate)
	assert.Contains(t, info.URL, "/collections/lucky-seven/nfts")

	_, err = client.FetchInfo(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFetchChart_SlugByType(t *testing.T) {
	client, reqs := newTestServer(t, func(string, map[string]any) (int, any) {
		return http.StatusOK, map[string]any{
			"code": 0,
			"data": []map[string]any{
				{"label": "Mar - 01", "percent": 101, "ggr": 50, "predictedGgr": 90},
				{"label": "Mar - 02", "percent": 110, "ggr": 70, "predictedGgr": 95},
			},
		}
	})

	snow := collection.Collection{ID: 1, Slug: "snow", Type: collection.TypeSnowball}
	points, err := client.FetchChart(context.Background(), snow, collection.PeriodMonth)
	require.NoError(t, err)
	require.Len(t, points, 2)
	assert.Equal(t, 70.0, points[1].GGR)

	_, err = client.FetchChart(context.Background(), collection.Collection{ID: 2, Slug: "reg"}, collection.PeriodYear)
	require.NoError(t, err)

	assert.Equal(t, "snow", (*reqs)[0].body["slug"])
	assert.Equal(t, float64(1), (*reqs)[0].body["dynamic"])
	assert.Equal(t, "month", (*reqs)[0].body["period"])
	assert.Equal(t, "reg-1", (*reqs)[1].body["slug"])
	assert.Nil(t, (*reqs)[1].body["dynamic"])
}

func TestPageCount(t *testing.T) {
	assert.Equal(t, 1, pageCount(0, 30))
	assert.Equal(t, 1, pageCount(30, 30))
	assert.Equal(t, 2, pageCount(31, 30))
	assert.Equal(t, 2, pageCount(31, 0))
}
