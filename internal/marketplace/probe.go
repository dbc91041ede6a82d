package marketplace

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/albapepper/collection-watch/internal/collection"
)

type nftListing struct {
	Items []struct {
		Slug string `json:"slug"`
	} `json:"items"`
	Meta struct {
		TotalCount int `json:"totalCount"`
	} `json:"meta"`
}

// ProbeCollection asks the nft listing for the first item of collection id.
// It returns nil, nil when the collection does not exist or is not released
// yet.
func (c *Client) ProbeCollection(ctx context.Context, id int) (*collection.Probe, error) {
	body := map[string]any{
		"page":         1,
		"collectionId": id,
		"partnerId":    c.partnerID,
	}
	env, err := c.post(ctx, "/panel/collections/nfts", "", body)
	if err != nil {
		return nil, fmt.Errorf("probe %d: %w", id, err)
	}
	if env.empty() {
		return nil, nil
	}

	var data nftListing
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode probe %d: %w", id, err)
	}
	if len(data.Items) == 0 {
		return nil, nil
	}

	slug := collection.SlugFromItem(data.Items[0].Slug)
	total := data.Meta.TotalCount
	if total == 0 {
		total = len(data.Items)
	}
	return &collection.Probe{
		ID:         id,
		Slug:       slug,
		URL:        c.CollectionURL(slug),
		TotalItems: total,
	}, nil
}

// FetchInfo loads the detailed record of a collection by slug.
func (c *Client) FetchInfo(ctx context.Context, slug string) (*collection.Collection, error) {
	body := map[string]any{
		"slug":      slug,
		"partnerId": c.partnerID,
	}
	env, err := c.post(ctx, "/panel/collections/info", "", body)
	if err != nil {
		return nil, fmt.Errorf("info %s: %w", slug, err)
	}
	if env.Code != 0 || env.empty() {
		return nil, fmt.Errorf("info %s (code %d): %w", slug, env.Code, ErrNotFound)
	}

	var info collection.Collection
	if err := json.Unmarshal(env.Data, &info); err != nil {
		return nil, fmt.Errorf("decode info %s: %w", slug, err)
	}
	info.URL = c.CollectionURL(slug)
	return &info, nil
}

// CollectionURL is the public page of a collection.
func (c *Client) CollectionURL(slug string) string {
	return c.baseURL + "/collections/" + slug + "/nfts"
}
