package session

import (
	"context"

	"github.com/walktheearth/bookdlbot/internal/zlibrary"
)

// Library is the remote lookup service as a session sees it: one page of
// normalized search hits, plus resolution of a hit into its downloadable
// form. *zlibrary.Client implements it; tests substitute fakes.
type Library interface {
	Search(ctx context.Context, query string, count int) ([]zlibrary.Record, error)
	FetchFull(ctx context.Context, rec zlibrary.Record) (*zlibrary.FullRecord, error)
}
