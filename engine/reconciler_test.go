// +build unit

package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"releasewatcher/engine"
	"releasewatcher/models"
	"releasewatcher/testutils"
	"releasewatcher/utils"
)

const apiBase = "https://api.github.com"

func setUpEngine() (*engine.Engine, *testutils.FakeStore, *testutils.FakeProber) {
	store := testutils.NewFakeStore()
	prober := testutils.NewFakeProber()
	return engine.New(store, prober, apiBase), store, prober
}

func widgetAPIURI() string {
	return utils.RepoAPIURI(apiBase, "acme", "widget")
}

func TestReconcileCreatesUnknownRepository(t *testing.T) {
	eng, store, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	res, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)
	assert.Equal(t, engine.Created, res.Outcome)
	assert.Zero(t, res.FannedOut)

	repo, ok := store.Repository(res.RepoID)
	assert.True(t, ok)
	assert.Equal(t, "v1.0.0", repo.Release)
	assert.Equal(t, "https://github.com/acme/widget", repo.URI)
}

func TestReconcileUnchangedOnEqualTimestamp(t *testing.T) {
	eng, store, prober := setUpEngine()
	releaseDate := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	prober.SetRelease(widgetAPIURI(), "v1.0.0", releaseDate)

	first, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)
	assert.Equal(t, engine.Created, first.Outcome)

	// Same timestamp with a different tag does not count as an advance.
	prober.SetRelease(widgetAPIURI(), "v1.0.0-rebuilt", releaseDate)
	second, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)
	assert.Equal(t, engine.Unchanged, second.Outcome)

	repo, _ := store.Repository(first.RepoID)
	assert.Equal(t, "v1.0.0", repo.Release)
}

func TestReconcileIgnoresOlderRelease(t *testing.T) {
	eng, store, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	first, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)

	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	second, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)
	assert.Equal(t, engine.Unchanged, second.Outcome)

	repo, _ := store.Repository(first.RepoID)
	assert.Equal(t, "v1.1.0", repo.Release)
}

func TestReconcileProbeFailureLeavesCatalogUntouched(t *testing.T) {
	eng, store, prober := setUpEngine()
	prober.SetFailing(widgetAPIURI())

	res, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.Error(t, err)
	assert.Equal(t, engine.ProbeFailed, res.Outcome)

	repos, err := store.ListRepositories(context.Background())
	assert.NoError(t, err)
	assert.Empty(t, repos)
}

func TestAddSubscriptionIsIdempotent(t *testing.T) {
	eng, store, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	first, err := eng.AddSubscription(context.Background(), 100, "acme", "widget")
	assert.NoError(t, err)
	assert.Equal(t, engine.Created, first.Outcome)

	second, err := eng.AddSubscription(context.Background(), 100, "acme", "widget")
	assert.NoError(t, err)
	assert.Equal(t, engine.Unchanged, second.Outcome)
	assert.Equal(t, first.RepoID, second.RepoID)

	repos, err := store.ListRepositories(context.Background())
	assert.NoError(t, err)
	assert.Len(t, repos, 1)

	subs, err := eng.FetchSubscriptions(context.Background(), 100)
	assert.NoError(t, err)
	assert.Len(t, subs, 1)

	// Subscribing never enqueues a notification for the subscriber.
	assert.Zero(t, store.PendingCount(100))
}

func TestAdvanceFansOutOncePerSubscriber(t *testing.T) {
	eng, store, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	for _, userID := range []int64{1, 2, 3} {
		_, err := eng.AddSubscription(context.Background(), userID, "acme", "widget")
		assert.NoError(t, err)
	}

	prober.SetRelease(widgetAPIURI(), "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	res, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)
	assert.Equal(t, engine.Advanced, res.Outcome)
	assert.Equal(t, int64(3), res.FannedOut)

	// Re-observing the same release adds nothing.
	again, err := eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)
	assert.Equal(t, engine.Unchanged, again.Outcome)

	for _, userID := range []int64{1, 2, 3} {
		assert.Equal(t, 1, store.PendingCount(userID))
	}
}

func TestSweepAllSkipsFailingRepositories(t *testing.T) {
	eng, _, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	zapperURI := utils.RepoAPIURI(apiBase, "foo", "zapper")
	prober.SetRelease(zapperURI, "v0.1.0", time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC))

	_, err := eng.AddSubscription(context.Background(), 1, "acme", "widget")
	assert.NoError(t, err)
	_, err = eng.AddSubscription(context.Background(), 1, "foo", "zapper")
	assert.NoError(t, err)

	prober.SetFailing(zapperURI)
	prober.SetRelease(widgetAPIURI(), "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	summary, err := eng.SweepAll(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, engine.SweepSummary{Swept: 1, Advanced: 1, Failed: 1}, summary)
}

func TestFetchNewReleasesDrainsExactlyOnce(t *testing.T) {
	eng, _, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := eng.AddSubscription(context.Background(), 1, "acme", "widget")
	assert.NoError(t, err)
	_, err = eng.AddSubscription(context.Background(), 2, "acme", "widget")
	assert.NoError(t, err)

	prober.SetRelease(widgetAPIURI(), "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))

	// The fetch itself runs the sweep that observes the advance.
	repos, err := eng.FetchNewReleases(context.Background(), 1)
	assert.NoError(t, err)
	assert.Len(t, repos, 1)
	assert.Equal(t, "v1.1.0", repos[0].Release)
	assert.Equal(t, "2024.02.01 00:00:00", utils.FormatReleaseDate(repos[0].ReleaseDate))

	again, err := eng.FetchNewReleases(context.Background(), 1)
	assert.NoError(t, err)
	assert.Empty(t, again)

	// The other subscriber's backlog is untouched by user 1's drain.
	other, err := eng.FetchNewReleases(context.Background(), 2)
	assert.NoError(t, err)
	assert.Len(t, other, 1)
}

func TestFetchNewReleasesSurvivesSweepFailure(t *testing.T) {
	eng, store, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := eng.AddSubscription(context.Background(), 1, "acme", "widget")
	assert.NoError(t, err)

	store.ListRepositoriesErr = assert.AnError
	repos, err := eng.FetchNewReleases(context.Background(), 1)
	assert.NoError(t, err)
	assert.Empty(t, repos)
}

func TestRemoveSubscriptionsDropsPendingNotifications(t *testing.T) {
	eng, store, prober := setUpEngine()
	prober.SetRelease(widgetAPIURI(), "v1.0.0", time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))

	_, err := eng.AddSubscription(context.Background(), 1, "acme", "widget")
	assert.NoError(t, err)

	prober.SetRelease(widgetAPIURI(), "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	_, err = eng.Reconcile(context.Background(), "acme", "widget", widgetAPIURI())
	assert.NoError(t, err)
	assert.Equal(t, 1, store.PendingCount(1))

	err = eng.RemoveSubscriptions(context.Background(), 1, []string{"https://github.com/acme/widget"})
	assert.NoError(t, err)
	assert.Zero(t, store.PendingCount(1))

	subs, err := eng.FetchSubscriptions(context.Background(), 1)
	assert.NoError(t, err)
	assert.Empty(t, subs)
}

func TestRegisterUser(t *testing.T) {
	eng, _, _ := setUpEngine()
	err := eng.RegisterUser(context.Background(), models.User{UserID: 7, Username: "u7", FirstName: "Seven"})
	assert.NoError(t, err)
}
