package testutils

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"

	"releasewatcher/models"
)

// FakeStore is an in-memory stand-in for the postgres client with the same
// observable semantics: one catalog row per identity, strictly-newer advance
// checks, idempotent fan-out and destructive drains.
type FakeStore struct {
	mu      sync.Mutex
	users   map[int64]models.User
	repos   map[int64]*models.Repository
	subs    map[int64]map[int64]bool
	pending map[int64]map[int64]bool
	nextID  int64

	ListRepositoriesErr error
	DrainErr            error
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		users:   make(map[int64]models.User),
		repos:   make(map[int64]*models.Repository),
		subs:    make(map[int64]map[int64]bool),
		pending: make(map[int64]map[int64]bool),
	}
}

func (f *FakeStore) EnsureUser(ctx context.Context, user models.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.users[user.UserID]; !ok {
		user.CreatedAt = time.Now()
		f.users[user.UserID] = user
	}
	return nil
}

func (f *FakeStore) UpsertObservedRelease(ctx context.Context, obs models.ObservedRelease) (models.UpsertResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, repo := range f.repos {
		if repo.Owner == obs.Owner && repo.RepoName == obs.RepoName {
			return models.UpsertResult{
				RepoID:   repo.ID,
				Advanced: obs.ReleaseDate.After(repo.ReleaseDate),
			}, nil
		}
	}

	f.nextID++
	f.repos[f.nextID] = &models.Repository{
		ID:          f.nextID,
		Owner:       obs.Owner,
		RepoName:    obs.RepoName,
		URI:         obs.URI,
		APIURI:      obs.APIURI,
		Release:     obs.Release,
		ReleaseDate: obs.ReleaseDate,
	}
	return models.UpsertResult{RepoID: f.nextID, Created: true}, nil
}

func (f *FakeStore) ApplyAdvance(ctx context.Context, repoID int64, release string, releaseDate time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	repo, ok := f.repos[repoID]
	if !ok || !releaseDate.After(repo.ReleaseDate) {
		return 0, nil
	}
	repo.Release = release
	repo.ReleaseDate = releaseDate

	var fannedOut int64
	for userID, repoIDs := range f.subs {
		if !repoIDs[repoID] {
			continue
		}
		if f.pending[userID] == nil {
			f.pending[userID] = make(map[int64]bool)
		}
		if !f.pending[userID][repoID] {
			f.pending[userID][repoID] = true
			fannedOut++
		}
	}
	return fannedOut, nil
}

func (f *FakeStore) Subscribe(ctx context.Context, userID, repoID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.subs[userID] == nil {
		f.subs[userID] = make(map[int64]bool)
	}
	f.subs[userID][repoID] = true
	return nil
}

func (f *FakeStore) UnsubscribeByURIs(ctx context.Context, userID int64, uris []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, uri := range uris {
		for id, repo := range f.repos {
			if repo.URI == uri {
				delete(f.subs[userID], id)
				delete(f.pending[userID], id)
			}
		}
	}
	return nil
}

func (f *FakeStore) UnsubscribeAll(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.subs, userID)
	delete(f.pending, userID)
	return nil
}

func (f *FakeStore) ListSubscriptions(ctx context.Context, userID int64) ([]models.SubscribedRepo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.joinLocked(f.subs[userID]), nil
}

func (f *FakeStore) DrainNotifications(ctx context.Context, userID int64) ([]models.SubscribedRepo, error) {
	if f.DrainErr != nil {
		return nil, f.DrainErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rtn := f.joinLocked(f.pending[userID])
	delete(f.pending, userID)
	return rtn, nil
}

func (f *FakeStore) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	if f.ListRepositoriesErr != nil {
		return nil, f.ListRepositoriesErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	rtn := make([]models.Repository, 0, len(f.repos))
	for _, repo := range f.repos {
		rtn = append(rtn, *repo)
	}
	sort.Slice(rtn, func(i, j int) bool { return rtn[i].ID < rtn[j].ID })
	return rtn, nil
}

// PendingCount reports how many notifications are queued for the user.
func (f *FakeStore) PendingCount(userID int64) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending[userID])
}

// Repository returns a copy of the catalog row, or false if absent.
func (f *FakeStore) Repository(repoID int64) (models.Repository, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	repo, ok := f.repos[repoID]
	if !ok {
		return models.Repository{}, false
	}
	return *repo, true
}

func (f *FakeStore) joinLocked(repoIDs map[int64]bool) []models.SubscribedRepo {
	rtn := make([]models.SubscribedRepo, 0, len(repoIDs))
	for id := range repoIDs {
		repo, ok := f.repos[id]
		if !ok {
			continue
		}
		rtn = append(rtn, models.SubscribedRepo{
			Owner:       repo.Owner,
			RepoName:    repo.RepoName,
			URI:         repo.URI,
			Release:     repo.Release,
			ReleaseDate: repo.ReleaseDate,
		})
	}
	sort.Slice(rtn, func(i, j int) bool {
		if rtn[i].RepoName != rtn[j].RepoName {
			return rtn[i].RepoName < rtn[j].RepoName
		}
		return rtn[i].Owner < rtn[j].Owner
	})
	return rtn
}

// FakeProber serves canned probe results keyed by api uri.
type FakeProber struct {
	mu       sync.Mutex
	releases map[string]fakeRelease
	failing  map[string]bool
	calls    map[string]int
}

type fakeRelease struct {
	release     string
	releaseDate time.Time
}

func NewFakeProber() *FakeProber {
	return &FakeProber{
		releases: make(map[string]fakeRelease),
		failing:  make(map[string]bool),
		calls:    make(map[string]int),
	}
}

func (f *FakeProber) SetRelease(apiURI, release string, releaseDate time.Time) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failing, apiURI)
	f.releases[apiURI] = fakeRelease{release: release, releaseDate: releaseDate}
}

func (f *FakeProber) SetFailing(apiURI string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failing[apiURI] = true
}

func (f *FakeProber) LatestRelease(ctx context.Context, apiURI string) (string, time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[apiURI]++
	if f.failing[apiURI] {
		return "", time.Time{}, errors.New("probe failed")
	}
	rel, ok := f.releases[apiURI]
	if !ok {
		return "", time.Time{}, errors.New("no release published")
	}
	return rel.release, rel.releaseDate, nil
}

func (f *FakeProber) Calls(apiURI string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[apiURI]
}

// FakeScheduleStore keeps delivery schedules in memory.
type FakeScheduleStore struct {
	mu        sync.Mutex
	schedules map[int64]models.DeliverySchedule
}

func NewFakeScheduleStore() *FakeScheduleStore {
	return &FakeScheduleStore{schedules: make(map[int64]models.DeliverySchedule)}
}

func (f *FakeScheduleStore) UpsertSchedule(ctx context.Context, job models.DeliverySchedule) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schedules[job.UserID] = job
	return nil
}

func (f *FakeScheduleStore) DeleteSchedule(ctx context.Context, userID int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.schedules, userID)
	return nil
}

func (f *FakeScheduleStore) ListSchedules(ctx context.Context) ([]models.DeliverySchedule, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rtn := make([]models.DeliverySchedule, 0, len(f.schedules))
	for _, job := range f.schedules {
		rtn = append(rtn, job)
	}
	return rtn, nil
}

func (f *FakeScheduleStore) Schedule(userID int64) (models.DeliverySchedule, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.schedules[userID]
	return job, ok
}

// SentMessage is one message captured by FakeSender.
type SentMessage struct {
	ChatID int64
	Text   string
}

// FakeSender records outgoing messages instead of hitting a transport.
type FakeSender struct {
	mu   sync.Mutex
	sent []SentMessage

	Err error
}

func NewFakeSender() *FakeSender {
	return &FakeSender{}
}

func (f *FakeSender) SendMessage(chatID int64, text string) error {
	if f.Err != nil {
		return f.Err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, SentMessage{ChatID: chatID, Text: text})
	return nil
}

func (f *FakeSender) Sent() []SentMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	rtn := make([]SentMessage, len(f.sent))
	copy(rtn, f.sent)
	return rtn
}
