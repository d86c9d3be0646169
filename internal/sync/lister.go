package sync

import "context"

// listAll pages through the source until the continuation token runs out or
// maxResults is reached. Listing is all-or-nothing: any page failure
// discards what was collected, since a broken page chain could silently
// miss part of the window.
//
// The last page request is shrunk to whatever is left under maxResults, so
// the result never exceeds the cap and no page request is issued past it.
func listAll(ctx context.Context, src Source, q ListQuery, pageSize int64, maxResults int) ([]MessageRef, error) {
	var refs []MessageRef
	pageToken := ""

	for {
		remaining := int64(maxResults - len(refs))
		if remaining <= 0 {
			return refs, nil
		}
		size := pageSize
		if remaining < size {
			size = remaining
		}

		page, err := src.ListPage(ctx, q, pageToken, size)
		if err != nil {
			return nil, err
		}

		refs = append(refs, page.Refs...)

		if page.NextPageToken == "" || len(refs) >= maxResults {
			return refs, nil
		}
		pageToken = page.NextPageToken
	}
}
