package marketplace

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/albapepper/collection-watch/internal/collection"
)

const pageSize = 30

// Page is one listing page.
type Page struct {
	Items      []collection.Collection
	TotalCount int
	PerPage    int
}

type listingData struct {
	Items []collection.Collection `json:"items"`
	Meta  struct {
		TotalCount int `json:"totalCount"`
		PerPage    int `json:"perPage"`
	} `json:"meta"`
}

// listingRequest builds the body for one partition's listing call.
func (c *Client) listingRequest(p collection.Partition, page int) (map[string]any, string, error) {
	body := map[string]any{
		"page":      page,
		"perPage":   pageSize,
		"partnerId": c.partnerID,
	}
	var referer string
	switch p {
	case collection.Regular:
		body["excludeTypes"] = []int{collection.TypeSnowball}
		referer = c.baseURL + "/en/marketplace/collections/?excludeTypes=[8]"
	case collection.RegularSnowball:
		body["type"] = []string{fmt.Sprint(collection.TypeSnowball)}
		referer = c.baseURL + "/en/marketplace/collections/?type=8"
	case collection.Partner:
		body["isPartnersPage"] = true
		referer = c.baseURL + "/en/marketplace/partners-collections"
	default:
		return nil, "", fmt.Errorf("unknown partition %q", p)
	}
	return body, referer, nil
}

// FetchPage retrieves a single listing page of partition p. Items come back
// tagged with p.
func (c *Client) FetchPage(ctx context.Context, p collection.Partition, page int) (*Page, error) {
	body, referer, err := c.listingRequest(p, page)
	if err != nil {
		return nil, err
	}

	env, err := c.post(ctx, "/panel/collections", referer, body)
	if err != nil {
		return nil, err
	}
	if env.empty() {
		return nil, fmt.Errorf("%s page %d: %w", p, page, ErrNotFound)
	}

	var data listingData
	if err := json.Unmarshal(env.Data, &data); err != nil {
		return nil, fmt.Errorf("decode %s page %d: %w", p, page, err)
	}
	for i := range data.Items {
		data.Items[i].Partition = p
	}
	return &Page{Items: data.Items, TotalCount: data.Meta.TotalCount, PerPage: data.Meta.PerPage}, nil
}

// FetchCollections pages through partition p until the server-reported
// total is exhausted. Any page failure aborts the whole partition and
// returns nil: partial listings are never handed to the store.
func (c *Client) FetchCollections(ctx context.Context, p collection.Partition) ([]collection.Collection, error) {
	var all []collection.Collection
	totalPages := 1

	for page := 1; page <= totalPages; page++ {
		resp, err := c.FetchPage(ctx, p, page)
		if err != nil {
			return nil, fmt.Errorf("fetch %s page %d: %w", p, page, err)
		}
		all = append(all, resp.Items...)

		if page == 1 {
			totalPages = pageCount(resp.TotalCount, resp.PerPage)
		}
	}

	c.logger.Debug("Partition fetched", "partition", p, "pages", totalPages, "collections", len(all))
	return all, nil
}

func pageCount(total, perPage int) int {
	if perPage <= 0 {
		perPage = pageSize
	}
	n := int(math.Ceil(float64(total) / float64(perPage)))
	if n < 1 {
		return 1
	}
	return n
}
