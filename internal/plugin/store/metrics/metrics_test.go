package metrics_test

import (
	"context"
	"testing"

	"github.com/chirino/messaging-service/internal/config"
	"github.com/chirino/messaging-service/internal/model"
	"github.com/chirino/messaging-service/internal/plugin/store/metrics"
	"github.com/chirino/messaging-service/internal/plugin/store/sqlstore"
	"github.com/chirino/messaging-service/internal/security"
	"github.com/chirino/messaging-service/internal/testutil/testsqlite"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrapRecordsLatency(t *testing.T) {
	security.InitMetrics(prometheus.Labels{"service": "test"})

	cfg := config.DefaultConfig()
	cfg.DBURL = testsqlite.DSN(t)
	inner, err := sqlstore.Open(context.Background(), sqlstore.KindSQLite, &cfg)
	require.NoError(t, err)
	store := metrics.Wrap(inner)
	defer store.Close(context.Background())

	before := testutil.CollectAndCount(security.StoreLatency)
	require.NoError(t, store.PutUser(context.Background(), model.User{ID: "alice"}))
	user, err := store.GetUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "alice", user.ID)

	assert.GreaterOrEqual(t, testutil.CollectAndCount(security.StoreLatency), before+2)
}
