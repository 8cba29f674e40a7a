package internal

import (
	"net/url"
	"strconv"
)

// -- Listing parameters -----------------------------------------------------------------------------------------------

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// Pagination selects one page of a performer's shows or catalog
type Pagination struct {
	// Number of rows to skip
	Offset uint
	// Page size; zero or anything above maxPageSize is replaced by a sane value
	Limit uint
}

// Reads "offset" and "limit" from a query. Unparsable values fall back to the first page of default size.
func paginationFromQuery(val url.Values) Pagination {
	pag := Pagination{Limit: defaultPageSize}
	if i, err := strconv.ParseUint(val.Get("offset"), 10, 64); err == nil {
		pag.Offset = uint(i)
	}
	if i, err := strconv.ParseUint(val.Get("limit"), 10, 64); err == nil {
		pag.Limit = uint(i)
	}
	switch {
	case pag.Limit == 0:
		pag.Limit = defaultPageSize
	case pag.Limit > maxPageSize:
		pag.Limit = maxPageSize
	}
	return pag
}

// Search filters a performer's song catalog by a term matched against song name and artist
type Search struct {
	Pagination
	Search string
}
