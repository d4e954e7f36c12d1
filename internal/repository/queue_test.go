package repository

import (
	"context"
	"os"
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dharsanguruparan/indexqueue/internal/database"
	"github.com/dharsanguruparan/indexqueue/internal/model"
)

// testRoot keeps the rows of these tests apart from anything else in the
// database.
const testRoot = 90001

// newTestRepository connects to INDEXQUEUE_TEST_DATABASE_URL, the tests are
// skipped without it.
func newTestRepository(t *testing.T) (*QueueRepository, *pgxpool.Pool) {
	t.Helper()
	dsn := os.Getenv("INDEXQUEUE_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("INDEXQUEUE_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	pool, err := database.Connect(ctx, dsn, 4)
	require.NoError(t, err)
	require.NoError(t, database.EnsureSchema(ctx, pool))
	repo := NewQueueRepository(pool)
	clean := func() {
		_, err := repo.DeleteItems(context.Background(), model.ItemFilter{RootPageID: testRoot})
		require.NoError(t, err)
	}
	clean()
	t.Cleanup(func() {
		clean()
		pool.Close()
	})
	return repo, pool
}

func newsItem(uid int, priority int, changed int64) *model.Item {
	return &model.Item{
		RootPageID: testRoot, ItemType: "tx_news", ItemUID: uid,
		IndexingConfiguration: "news", Priority: priority, Changed: changed,
	}
}

func ids(items []*model.Item) []int {
	out := make([]int, len(items))
	for i, it := range items {
		out[i] = it.ItemUID
	}
	return out
}

func TestClaimDueItems(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	failed := newsItem(5, 0, 500)
	failed.Errors = "boom"
	require.NoError(t, repo.InsertItems(ctx, []*model.Item{
		newsItem(1, 2, 500),
		newsItem(2, 0, 600),
		newsItem(3, 0, 400),
		newsItem(4, 0, 5000),
		failed,
	}))

	due, err := repo.DueItems(ctx, testRoot, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, ids(due), "future and failed items are not due")

	claimed, err := repo.ClaimDueItems(ctx, testRoot, 1000, 2, "w1", 2000)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(claimed))
	assert.Equal(t, "w1", claimed[0].ClaimedBy)
	assert.Equal(t, int64(2000), claimed[0].ClaimedUntil)

	claimed, err = repo.ClaimDueItems(ctx, testRoot, 1000, 10, "w2", 2000)
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ids(claimed), "leased items are skipped")

	require.NoError(t, repo.MarkIndexed(ctx, claimed[0].ID, 1000))
	claimed, err = repo.ClaimDueItems(ctx, testRoot, 2500, 10, "w3", 3000)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2}, ids(claimed), "expired leases are claimable again")
	assert.Equal(t, "w3", claimed[1].ClaimedBy)
}

func TestDeleteItemsRemovesProperties(t *testing.T) {
	repo, pool := newTestRepository(t)
	ctx := context.Background()

	item := &model.Item{
		RootPageID: testRoot, ItemType: model.TablePages, ItemUID: 2, IndexingConfiguration: "pages", Changed: 100,
		Properties: model.MountProperties{Source: 2, Destination: testRoot}.Properties(),
	}
	other := newsItem(7, 0, 100)
	require.NoError(t, repo.InsertItems(ctx, []*model.Item{item, other}))
	require.NoError(t, repo.SetProperties(ctx, other.ID, testRoot, map[string]string{"a": "1"}))

	found, err := repo.FindItems(ctx, model.ItemFilter{ID: item.ID})
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.True(t, found[0].IsMountedPage())
	assert.Equal(t, item.Properties, found[0].Properties)

	n, err := repo.DeleteItems(ctx, model.ItemFilter{ID: item.ID})
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	var props int
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM `+propertyTable+` WHERE item_id = $1`, item.ID).Scan(&props))
	assert.Zero(t, props, "no orphan properties")
	require.NoError(t, pool.QueryRow(ctx, `SELECT count(*) FROM `+propertyTable+` WHERE item_id = $1`, other.ID).Scan(&props))
	assert.Equal(t, 1, props)
}

func TestStatisticsAndErrors(t *testing.T) {
	repo, _ := newTestRepository(t)
	ctx := context.Background()

	pending, indexed, failed := newsItem(1, 0, 500), newsItem(2, 0, 500), newsItem(3, 0, 500)
	page := &model.Item{RootPageID: testRoot, ItemType: model.TablePages, ItemUID: 9, IndexingConfiguration: "pages", Changed: 500}
	require.NoError(t, repo.InsertItems(ctx, []*model.Item{pending, indexed, failed, page}))
	require.NoError(t, repo.MarkIndexed(ctx, indexed.ID, 600))
	require.NoError(t, repo.MarkFailed(ctx, failed.ID, "boom"))

	st, err := repo.Statistics(ctx, testRoot, "news")
	require.NoError(t, err)
	assert.Equal(t, model.Statistics{Total: 3, Pending: 1, Success: 1, Failed: 1}, st)

	st, err = repo.Statistics(ctx, testRoot, "")
	require.NoError(t, err)
	assert.Equal(t, 4, st.Total)
	assert.Equal(t, 2, st.Pending)

	n, err := repo.UpdateChanged(ctx, "tx_news", 3, 500, "")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, int64(1))
	errs, err := repo.FindItems(ctx, model.ItemFilter{RootPageID: testRoot, OnlyErrors: true})
	require.NoError(t, err)
	assert.Equal(t, []int{3}, ids(errs), "an unchanged record keeps its error")

	_, err = repo.UpdateChanged(ctx, "tx_news", 3, 700, "")
	require.NoError(t, err)
	n, err = repo.ResetErrors(ctx, model.ItemFilter{RootPageID: testRoot})
	require.NoError(t, err)
	assert.Zero(t, n, "newer data already cleared the error")
}
