package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"releasewatcher/log"
	"releasewatcher/models"
	"releasewatcher/utils"
)

// Outcome of one reconciliation for a single repository identity.
type Outcome string

const (
	Created     Outcome = "created"
	Advanced    Outcome = "advanced"
	Unchanged   Outcome = "unchanged"
	ProbeFailed Outcome = "probe_failed"
)

// Store is the persistence surface the engine drives: the repository
// catalog, the subscription registry and the pending notification queue.
// Implemented by client.PostgresClient.
type Store interface {
	EnsureUser(ctx context.Context, user models.User) error
	UpsertObservedRelease(ctx context.Context, obs models.ObservedRelease) (models.UpsertResult, error)
	ApplyAdvance(ctx context.Context, repoID int64, release string, releaseDate time.Time) (int64, error)
	Subscribe(ctx context.Context, userID, repoID int64) error
	UnsubscribeByURIs(ctx context.Context, userID int64, uris []string) error
	UnsubscribeAll(ctx context.Context, userID int64) error
	ListSubscriptions(ctx context.Context, userID int64) ([]models.SubscribedRepo, error)
	DrainNotifications(ctx context.Context, userID int64) ([]models.SubscribedRepo, error)
	ListRepositories(ctx context.Context) ([]models.Repository, error)
}

// Prober fetches the latest release of a repository from its listing
// endpoint. Implemented by client.GithubApi.
type Prober interface {
	LatestRelease(ctx context.Context, apiURI string) (string, time.Time, error)
}

// Engine reconciles observed releases against the catalog and fans decisions
// out to subscribers. Reconciliations for the same identity serialize on a
// per-identity mutex; different identities proceed in parallel.
type Engine struct {
	store   Store
	prober  Prober
	apiBase string

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func New(store Store, prober Prober, apiBase string) *Engine {
	return &Engine{
		store:   store,
		prober:  prober,
		apiBase: apiBase,
		locks:   make(map[string]*sync.Mutex),
	}
}

func (e *Engine) identityLock(owner, repoName string) *sync.Mutex {
	key := owner + "/" + repoName
	e.mu.Lock()
	defer e.mu.Unlock()
	lock, ok := e.locks[key]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[key] = lock
	}
	return lock
}

type ReconcileResult struct {
	RepoID    int64
	Outcome   Outcome
	FannedOut int64
}

// Reconcile probes the repository and decides create, advance or no-op. The
// probe runs before the critical section; the upsert check and, on an
// advance, the row mutation plus fan-out run inside it, so two
// reconciliations for the same identity cannot interleave those steps. A
// probe failure leaves the catalog untouched.
func (e *Engine) Reconcile(ctx context.Context, owner, repoName, apiURI string) (ReconcileResult, error) {
	release, releaseDate, err := e.prober.LatestRelease(ctx, apiURI)
	if err != nil {
		return ReconcileResult{Outcome: ProbeFailed}, err
	}

	lock := e.identityLock(owner, repoName)
	lock.Lock()
	defer lock.Unlock()

	obs := models.ObservedRelease{
		Owner:       owner,
		RepoName:    repoName,
		URI:         utils.RepoURI(owner, repoName),
		APIURI:      apiURI,
		Release:     release,
		ReleaseDate: releaseDate,
	}
	res, err := e.store.UpsertObservedRelease(ctx, obs)
	if err != nil {
		return ReconcileResult{}, err
	}

	rtn := ReconcileResult{RepoID: res.RepoID, Outcome: Unchanged}
	switch {
	case res.Created:
		rtn.Outcome = Created
	case res.Advanced:
		fannedOut, err := e.store.ApplyAdvance(ctx, res.RepoID, release, releaseDate)
		if err != nil {
			return rtn, err
		}
		rtn.Outcome = Advanced
		rtn.FannedOut = fannedOut
		log.LogAppInfow("repository release advanced",
			"owner", owner,
			"repo_name", repoName,
			"release", release,
			"fanned_out", fannedOut,
		)
	}
	return rtn, nil
}

// RegisterUser records the user on first contact with the front end.
func (e *Engine) RegisterUser(ctx context.Context, user models.User) error {
	return e.store.EnsureUser(ctx, user)
}

// AddSubscription reconciles-or-creates the repository, then subscribes the
// user. A repository created by this call enqueues nothing for anyone: the
// caller is not notified about the release they just added, and later
// advances flow through the normal fan-out. If the call instead observes an
// advance of an existing repository, fan-out happens before this user's
// subscription row exists, with the same effect.
func (e *Engine) AddSubscription(ctx context.Context, userID int64, owner, repoName string) (ReconcileResult, error) {
	apiURI := utils.RepoAPIURI(e.apiBase, owner, repoName)
	rtn, err := e.Reconcile(ctx, owner, repoName, apiURI)
	if err != nil {
		return rtn, err
	}
	if err = e.store.Subscribe(ctx, userID, rtn.RepoID); err != nil {
		return rtn, err
	}
	return rtn, nil
}

// SweepSummary reports one catalog-wide reconciliation pass.
type SweepSummary struct {
	Swept    int
	Advanced int
	Failed   int
}

// SweepAll reconciles every tracked repository. A failure for one
// repository is logged and skipped; it never aborts the pass. Only a catalog
// listing failure is returned.
func (e *Engine) SweepAll(ctx context.Context) (SweepSummary, error) {
	var summary SweepSummary

	repos, err := e.store.ListRepositories(ctx)
	if err != nil {
		return summary, err
	}

	for _, repo := range repos {
		res, err := e.Reconcile(ctx, repo.Owner, repo.RepoName, repo.APIURI)
		if err != nil {
			summary.Failed++
			log.LogAppWarn(fmt.Sprintf("Couldn't reconcile %s/%s during sweep", repo.Owner, repo.RepoName), err)
			continue
		}
		summary.Swept++
		if res.Outcome == Advanced {
			summary.Advanced++
		}
	}
	return summary, nil
}

// FetchNewReleases runs a sweep pass opportunistically, then drains the
// user's pending notifications. A sweep failure does not block the drain.
func (e *Engine) FetchNewReleases(ctx context.Context, userID int64) ([]models.SubscribedRepo, error) {
	if _, err := e.SweepAll(ctx); err != nil {
		log.LogAppWarn("Couldn't sweep catalog before draining notifications", err)
	}
	return e.store.DrainNotifications(ctx, userID)
}

// FetchSubscriptions lists the user's subscriptions without consuming
// anything.
func (e *Engine) FetchSubscriptions(ctx context.Context, userID int64) ([]models.SubscribedRepo, error) {
	return e.store.ListSubscriptions(ctx, userID)
}

func (e *Engine) RemoveSubscriptions(ctx context.Context, userID int64, uris []string) error {
	return e.store.UnsubscribeByURIs(ctx, userID, uris)
}

func (e *Engine) RemoveAllSubscriptions(ctx context.Context, userID int64) error {
	return e.store.UnsubscribeAll(ctx, userID)
}
