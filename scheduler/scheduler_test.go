// +build unit

package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"

	"releasewatcher/models"
	"releasewatcher/testutils"
)

func setUpScheduler() (*DeliveryScheduler, *testutils.FakeScheduleStore, *testutils.FakeStore, *testutils.FakeSender) {
	store := testutils.NewFakeScheduleStore()
	queue := testutils.NewFakeStore()
	sender := testutils.NewFakeSender()
	return New(store, queue, sender, time.UTC), store, queue, sender
}

func (s *DeliveryScheduler) timerCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

func TestSetScheduleRejectsOutOfRangeTimes(t *testing.T) {
	sched, store, _, _ := setUpScheduler()

	cases := []struct {
		hour   int
		minute int
	}{
		{24, 0},
		{-1, 0},
		{0, 60},
		{0, -1},
	}
	for _, tc := range cases {
		err := sched.SetSchedule(context.Background(), 1, 10, tc.hour, tc.minute)
		assert.True(t, errors.Is(err, ErrInvalidTime))
	}

	_, ok := store.Schedule(1)
	assert.False(t, ok)
	assert.Zero(t, sched.timerCount())
}

func TestSetScheduleReplacesExistingTimer(t *testing.T) {
	sched, store, _, _ := setUpScheduler()

	assert.NoError(t, sched.SetSchedule(context.Background(), 1, 10, 9, 0))
	assert.NoError(t, sched.SetSchedule(context.Background(), 1, 10, 21, 30))

	assert.Equal(t, 1, sched.timerCount())
	job, ok := store.Schedule(1)
	assert.True(t, ok)
	assert.Equal(t, 21, job.Hour)
	assert.Equal(t, 30, job.Minute)
}

func TestClearScheduleIsIdempotent(t *testing.T) {
	sched, store, _, _ := setUpScheduler()

	assert.NoError(t, sched.SetSchedule(context.Background(), 1, 10, 9, 0))
	assert.NoError(t, sched.ClearSchedule(context.Background(), 1))
	assert.NoError(t, sched.ClearSchedule(context.Background(), 1))

	assert.Zero(t, sched.timerCount())
	_, ok := store.Schedule(1)
	assert.False(t, ok)
}

func TestLoadAndArmRebuildsTimersFromStore(t *testing.T) {
	sched, store, _, _ := setUpScheduler()

	assert.NoError(t, store.UpsertSchedule(context.Background(), models.DeliverySchedule{UserID: 1, ChatID: 10, Hour: 9, Minute: 0}))
	assert.NoError(t, store.UpsertSchedule(context.Background(), models.DeliverySchedule{UserID: 2, ChatID: 20, Hour: 21, Minute: 30}))

	armed, err := sched.LoadAndArm(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 2, armed)
	assert.Equal(t, 2, sched.timerCount())
}

func TestNextFire(t *testing.T) {
	now := time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)

	cases := []struct {
		hour     int
		minute   int
		Expected time.Duration
	}{
		{13, 0, time.Hour},
		{12, 30, 30 * time.Minute},
		{11, 0, 23 * time.Hour},
		{12, 0, 24 * time.Hour},
		{0, 0, 12 * time.Hour},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.Expected, NextFire(now, tc.hour, tc.minute))
	}
}

func TestDeliverSendsDrainedBacklog(t *testing.T) {
	sched, _, queue, sender := setUpScheduler()

	res, err := queue.UpsertObservedRelease(context.Background(), models.ObservedRelease{
		Owner:       "acme",
		RepoName:    "widget",
		URI:         "https://github.com/acme/widget",
		Release:     "v1.0.0",
		ReleaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
	assert.NoError(t, queue.Subscribe(context.Background(), 1, res.RepoID))
	_, err = queue.ApplyAdvance(context.Background(), res.RepoID, "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)

	sched.deliver(models.DeliverySchedule{UserID: 1, ChatID: 10, Hour: 9, Minute: 0})

	sent := sender.Sent()
	assert.Len(t, sent, 1)
	assert.Equal(t, int64(10), sent[0].ChatID)
	assert.Contains(t, sent[0].Text, "widget (by acme) release v1.1.0")

	// The backlog is consumed by the delivery.
	assert.Zero(t, queue.PendingCount(1))
}

func TestDeliverSkipsEmptyBacklog(t *testing.T) {
	sched, _, _, sender := setUpScheduler()

	sched.deliver(models.DeliverySchedule{UserID: 1, ChatID: 10, Hour: 9, Minute: 0})
	assert.Empty(t, sender.Sent())
}

func TestDeliverToleratesSenderFailure(t *testing.T) {
	sched, _, queue, sender := setUpScheduler()
	sender.Err = errors.New("transport down")

	res, err := queue.UpsertObservedRelease(context.Background(), models.ObservedRelease{
		Owner:       "acme",
		RepoName:    "widget",
		URI:         "https://github.com/acme/widget",
		Release:     "v1.0.0",
		ReleaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
	assert.NoError(t, queue.Subscribe(context.Background(), 1, res.RepoID))
	_, err = queue.ApplyAdvance(context.Background(), res.RepoID, "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)

	sched.deliver(models.DeliverySchedule{UserID: 1, ChatID: 10, Hour: 9, Minute: 0})
}

func TestDeliverWithoutSenderDoesNotDrain(t *testing.T) {
	queue := testutils.NewFakeStore()
	sched := New(testutils.NewFakeScheduleStore(), queue, nil, time.UTC)

	res, err := queue.UpsertObservedRelease(context.Background(), models.ObservedRelease{
		Owner:       "acme",
		RepoName:    "widget",
		URI:         "https://github.com/acme/widget",
		Release:     "v1.0.0",
		ReleaseDate: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	})
	assert.NoError(t, err)
	assert.NoError(t, queue.Subscribe(context.Background(), 1, res.RepoID))
	_, err = queue.ApplyAdvance(context.Background(), res.RepoID, "v1.1.0", time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC))
	assert.NoError(t, err)

	sched.deliver(models.DeliverySchedule{UserID: 1, ChatID: 10, Hour: 9, Minute: 0})
	assert.Equal(t, 1, queue.PendingCount(1))
}

func TestOnFireDoesNotRearmAfterClear(t *testing.T) {
	sched, _, _, _ := setUpScheduler()

	assert.NoError(t, sched.SetSchedule(context.Background(), 1, 10, 9, 0))

	sched.mu.Lock()
	fired := sched.timers[1]
	sched.mu.Unlock()

	assert.NoError(t, sched.ClearSchedule(context.Background(), 1))

	sched.onFire(models.DeliverySchedule{UserID: 1, ChatID: 10, Hour: 9, Minute: 0}, fired)
	assert.Zero(t, sched.timerCount())
}

func TestOnFireRearmsWhenStillCurrent(t *testing.T) {
	sched, _, _, _ := setUpScheduler()

	assert.NoError(t, sched.SetSchedule(context.Background(), 1, 10, 9, 0))

	sched.mu.Lock()
	fired := sched.timers[1]
	sched.mu.Unlock()

	sched.onFire(models.DeliverySchedule{UserID: 1, ChatID: 10, Hour: 9, Minute: 0}, fired)

	assert.Equal(t, 1, sched.timerCount())
	sched.mu.Lock()
	rearmed := sched.timers[1]
	sched.mu.Unlock()
	assert.NotEqual(t, fired, rearmed)
	rearmed.Stop()
}
