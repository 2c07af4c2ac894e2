package types

// PageInfo contains pagination metadata for list responses.
type PageInfo struct {
	HasMore bool `json:"has_more"`
}

// ListResponse is a generic paginated response wrapper.
type ListResponse[T any] struct {
	Data     []T      `json:"data"`
	PageInfo PageInfo `json:"pagination"`
}

// NewListResponse trims items fetched with a one-row lookahead to limit and
// reports whether more rows exist.
func NewListResponse[T any](items []T, limit int) ListResponse[T] {
	resp := ListResponse[T]{Data: items}
	if resp.Data == nil {
		resp.Data = []T{}
	}
	if limit >= 0 && len(resp.Data) > limit {
		resp.Data = resp.Data[:limit]
		resp.PageInfo.HasMore = true
	}
	return resp
}
