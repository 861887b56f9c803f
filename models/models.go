package models

import "time"

// User is the recipient key for notification fan-out. Rows are created by the
// conversational front end on first contact.
type User struct {
	UserID    int64     `db:"user_id" json:"user_id"`
	Username  string    `db:"username" json:"username"`
	FirstName string    `db:"first_name" json:"first_name"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Repository is a tracked repository with its last observed release. At most
// one row exists per (owner, repo_name); release_date never regresses.
type Repository struct {
	ID          int64     `db:"id" json:"id"`
	Owner       string    `db:"owner" json:"owner"`
	RepoName    string    `db:"repo_name" json:"repo_name"`
	URI         string    `db:"uri" json:"uri"`
	APIURI      string    `db:"api_uri" json:"api_uri"`
	Release     string    `db:"release" json:"release"`
	ReleaseDate time.Time `db:"release_date" json:"release_date"`
}

type Subscription struct {
	UserID int64 `db:"user_id" json:"user_id"`
	RepoID int64 `db:"repo_id" json:"repo_id"`
}

// PendingNotification marks an unseen release of repo_id for user_id. It is
// inserted idempotently on an advance and removed when the user's backlog is
// drained.
type PendingNotification struct {
	UserID int64 `db:"user_id" json:"user_id"`
	RepoID int64 `db:"repo_id" json:"repo_id"`
}

// DeliverySchedule is the persisted daily delivery time for one user. The
// scheduler's in-memory timers are rebuilt from these rows on startup.
type DeliverySchedule struct {
	UserID int64 `db:"user_id" json:"user_id"`
	ChatID int64 `db:"chat_id" json:"chat_id"`
	Hour   int   `db:"hour" json:"hour"`
	Minute int   `db:"minute" json:"minute"`
}

// SubscribedRepo is the join row returned by subscription listings and
// notification drains.
type SubscribedRepo struct {
	Owner       string    `db:"owner" json:"owner"`
	RepoName    string    `db:"repo_name" json:"repo_name"`
	URI         string    `db:"uri" json:"uri"`
	Release     string    `db:"release" json:"release"`
	ReleaseDate time.Time `db:"release_date" json:"release_date"`
}

// ObservedRelease is a probe result for one repository identity, as handed to
// the catalog's upsert check.
type ObservedRelease struct {
	Owner       string
	RepoName    string
	URI         string
	APIURI      string
	Release     string
	ReleaseDate time.Time
}

// UpsertResult reports what the catalog found for an observed release.
// Advanced means the stored release_date is strictly older; the row itself is
// only mutated by a later ApplyAdvance so that fan-out and the row update
// share one step.
type UpsertResult struct {
	RepoID   int64
	Created  bool
	Advanced bool
}
