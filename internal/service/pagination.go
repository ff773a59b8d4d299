package service

import (
	"context"
	"math"

	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
)

// DefaultPageSize is the number of messages in one history window.
const DefaultPageSize = 10

// MessageLister is the slice of the store the pagination protocol needs.
type MessageLister interface {
	ListMessages(ctx context.Context, conversationID string, offset, limit int) ([]model.Message, error)
}

// Paginate loads window `page` of a conversation, counted backwards from the
// newest message, and returns it oldest first. hasMore reports whether older
// messages exist before the window.
//
// Page 0 is always the freshest window. One lookahead record past the window
// is fetched to compute hasMore without a count query.
func Paginate(ctx context.Context, lister MessageLister, conversationID string, page, pageSize int) ([]model.Message, bool, error) {
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if err := validatePage(page, pageSize); err != nil {
		return nil, false, err
	}
	newestFirst, err := lister.ListMessages(ctx, conversationID, page*pageSize, pageSize+1)
	if err != nil {
		return nil, false, err
	}
	msgs, hasMore := trimWindow(newestFirst, pageSize)
	return msgs, hasMore, nil
}

// validatePage rejects negative pages and pages whose offset would overflow.
func validatePage(page, pageSize int) error {
	if page < 0 {
		return &registrystore.ValidationError{Field: "page", Message: "must not be negative"}
	}
	if pageSize > 0 && page > (math.MaxInt-1)/pageSize-1 {
		return &registrystore.ValidationError{Field: "page", Message: "is too large"}
	}
	return nil
}

// trimWindow drops the lookahead record and reverses a newest-first slice into
// display order.
func trimWindow(newestFirst []model.Message, pageSize int) ([]model.Message, bool) {
	hasMore := len(newestFirst) > pageSize
	if hasMore {
		newestFirst = newestFirst[:pageSize]
	}
	out := make([]model.Message, len(newestFirst))
	for i, m := range newestFirst {
		out[len(newestFirst)-1-i] = m
	}
	return out, hasMore
}
