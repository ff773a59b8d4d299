package service

import (
	"context"
	"math"
	"testing"

	"github.com/chirino/messaging-service/internal/model"
	registrystore "github.com/chirino/messaging-service/internal/registry/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sliceLister struct {
	newestFirst []model.Message
	calls       [][2]int
}

func (l *sliceLister) ListMessages(_ context.Context, _ string, offset, limit int) ([]model.Message, error) {
	l.calls = append(l.calls, [2]int{offset, limit})
	if offset >= len(l.newestFirst) {
		return nil, nil
	}
	end := offset + limit
	if end > len(l.newestFirst) {
		end = len(l.newestFirst)
	}
	return l.newestFirst[offset:end], nil
}

func seqs(msgs []model.Message) []int64 {
	out := make([]int64, len(msgs))
	for i, m := range msgs {
		out[i] = m.Seq
	}
	return out
}

func TestTrimWindow(t *testing.T) {
	newestFirst := []model.Message{{Seq: 4}, {Seq: 3}, {Seq: 2}, {Seq: 1}}

	msgs, hasMore := trimWindow(newestFirst, 3)
	assert.True(t, hasMore)
	assert.Equal(t, []int64{2, 3, 4}, seqs(msgs))

	msgs, hasMore = trimWindow(newestFirst, 4)
	assert.False(t, hasMore)
	assert.Equal(t, []int64{1, 2, 3, 4}, seqs(msgs))

	msgs, hasMore = trimWindow(nil, 4)
	assert.False(t, hasMore)
	assert.Empty(t, msgs)
}

func TestPaginateFetchesLookaheadRecord(t *testing.T) {
	lister := &sliceLister{}
	for seq := int64(7); seq >= 1; seq-- {
		lister.newestFirst = append(lister.newestFirst, model.Message{Seq: seq})
	}

	msgs, hasMore, err := Paginate(context.Background(), lister, "c", 1, 3)
	require.NoError(t, err)
	assert.True(t, hasMore)
	assert.Equal(t, []int64{2, 3, 4}, seqs(msgs))
	assert.Equal(t, [2]int{3, 4}, lister.calls[0])

	msgs, hasMore, err = Paginate(context.Background(), lister, "c", 2, 3)
	require.NoError(t, err)
	assert.False(t, hasMore)
	assert.Equal(t, []int64{1}, seqs(msgs))

	msgs, _, err = Paginate(context.Background(), lister, "c", 0, 0)
	require.NoError(t, err)
	assert.Len(t, msgs, 7)
	assert.Equal(t, [2]int{0, DefaultPageSize + 1}, lister.calls[2])

	_, _, err = Paginate(context.Background(), lister, "c", -1, 3)
	var validation *registrystore.ValidationError
	require.ErrorAs(t, err, &validation)
}

func TestPaginateRejectsPagesWhoseOffsetOverflows(t *testing.T) {
	lister := &sliceLister{}
	for _, page := range []int{-1, math.MaxInt / 10, math.MaxInt} {
		_, _, err := Paginate(context.Background(), lister, "c", page, 10)
		var verr *registrystore.ValidationError
		require.ErrorAs(t, err, &verr, "page %d", page)
		assert.Equal(t, "page", verr.Field)
	}
	assert.Empty(t, lister.calls)

	// The largest page whose offset and limit still fit is accepted.
	largest := (math.MaxInt-1)/10 - 1
	_, _, err := Paginate(context.Background(), lister, "c", largest, 10)
	require.NoError(t, err)
	require.Len(t, lister.calls, 1)
	assert.Equal(t, [2]int{largest * 10, 11}, lister.calls[0])
}
