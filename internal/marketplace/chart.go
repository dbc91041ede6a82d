package marketplace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/albapepper/collection-watch/internal/collection"
)

// FetchChart loads the revenue series of c for the given period. Snowball
// series are requested in dynamic mode; other collections are addressed by
// the slug of their first item.
func (c *Client) FetchChart(ctx context.Context, col collection.Collection, period collection.Period) ([]collection.RevenuePoint, error) {
	body := map[string]any{
		"slug":         col.Slug + "-1",
		"partnerId":    c.partnerID,
		"period":       period,
		"collectionId": col.ID,
	}
	if col.IsSnowball() {
		body["slug"] = col.Slug
		body["dynamic"] = 1
	}

	env, err := c.post(ctx, "/panel/collections/chart", c.baseURL+"/en/nfts/"+col.Slug, body)
	if err != nil {
		return nil, fmt.Errorf("chart %s: %w", col.Slug, err)
	}
	if env.Code != 0 || env.empty() {
		return nil, fmt.Errorf("chart %s (code %d): %w", col.Slug, env.Code, ErrNotFound)
	}

	var points []collection.RevenuePoint
	if err := json.Unmarshal(env.Data, &points); err != nil {
		return nil, fmt.Errorf("decode chart %s: %w", col.Slug, err)
	}
	return points, nil
}
