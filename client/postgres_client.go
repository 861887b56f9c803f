package client

import (
	"context"
	"database/sql"
	"math"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"

	"releasewatcher/config"
	"releasewatcher/models"
)

type PostgresClient struct {
	db *sqlx.DB
}

// InitializePostgresClient opens the database and creates tables if they do
// not exist.
func InitializePostgresClient(conf *config.Config) (*PostgresClient, error) {
	client := PostgresClient{}

	var err error
	if client.db, err = sqlx.Open("postgres", conf.DSN); err != nil {
		return &client, errors.Wrap(err, "unable to open postgres db")
	}

	// Since this happens at initialization we could encounter racy
	// conditions waiting for pg to become available. Wait for it a bit.
	if err = client.db.Ping(); err != nil {
		// Try 3 more times: 5, 10, 20
		for i := 0; i < 3 && err != nil; i++ {
			time.Sleep(time.Duration(5*math.Pow(2, float64(i))) * time.Second)
			err = client.db.Ping()
		}
		if err != nil {
			return &client, errors.Wrap(err, "error trying to connect to postgres db, retries exhausted")
		}
	}

	if err = client.createTables(); err != nil {
		return &client, errors.Wrap(err, "problem executing create tables sql")
	}
	return &client, nil
}

func (client *PostgresClient) createTables() error {
	_, err := client.db.Exec(CreateTablesSQL)
	return err
}

func (client *PostgresClient) Close() error {
	return client.db.Close()
}

// EnsureUser inserts the user on first contact and refreshes the display
// fields afterwards.
func (client *PostgresClient) EnsureUser(ctx context.Context, user models.User) error {
	_, err := client.db.ExecContext(ctx, `
          INSERT INTO users (user_id, username, first_name, created_at)
          VALUES ($1, $2, $3, NOW())
          ON CONFLICT (user_id) DO UPDATE SET
            username = excluded.username,
            first_name = excluded.first_name;`,
		user.UserID, user.Username, user.FirstName)
	return errors.Wrapf(err, "issue upserting user [%d]", user.UserID)
}

// UpsertObservedRelease is the catalog's upsert check. A missing row is
// inserted with the observed release data. An existing row is never mutated
// here: a strictly newer release_date only flags Advanced, and the mutation
// happens in ApplyAdvance so it shares a step with notification fan-out.
func (client *PostgresClient) UpsertObservedRelease(ctx context.Context,
	obs models.ObservedRelease) (models.UpsertResult, error) {
	var rtn models.UpsertResult

	tx, err := client.db.BeginTxx(ctx, nil)
	if err != nil {
		return rtn, errors.WithStack(err)
	}

	var row struct {
		ID          int64     `db:"id"`
		ReleaseDate time.Time `db:"release_date"`
	}
	err = tx.GetContext(ctx, &row, `
          SELECT id, release_date FROM repos
          WHERE owner = $1 AND repo_name = $2
          FOR UPDATE;`,
		obs.Owner, obs.RepoName)

	if err == sql.ErrNoRows {
		var id int64
		if err = tx.GetContext(ctx, &id, `
              INSERT INTO repos (owner, repo_name, uri, api_uri, release, release_date)
              VALUES ($1, $2, $3, $4, $5, $6)
              RETURNING id;`,
			obs.Owner, obs.RepoName, obs.URI, obs.APIURI, obs.Release, obs.ReleaseDate); err != nil {
			tx.Rollback()
			return rtn, errors.Wrapf(err, "issue inserting repo [%s/%s]", obs.Owner, obs.RepoName)
		}
		if err = tx.Commit(); err != nil {
			return rtn, errors.WithStack(err)
		}
		rtn.RepoID = id
		rtn.Created = true
		return rtn, nil
	}
	if err != nil {
		tx.Rollback()
		return rtn, errors.Wrapf(err, "issue checking repo [%s/%s]", obs.Owner, obs.RepoName)
	}

	if err = tx.Commit(); err != nil {
		return rtn, errors.WithStack(err)
	}

	rtn.RepoID = row.ID
	rtn.Advanced = obs.ReleaseDate.After(row.ReleaseDate)
	return rtn, nil
}

// ApplyAdvance writes the new release data and fans out one pending
// notification per current subscriber, in one transaction. Returns the
// number of notifications created. The release_date guard keeps the row
// monotonic even if callers race past the upsert check.
func (client *PostgresClient) ApplyAdvance(ctx context.Context, repoID int64,
	release string, releaseDate time.Time) (int64, error) {
	tx, err := client.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, errors.WithStack(err)
	}

	res, err := tx.ExecContext(ctx, `
          UPDATE repos SET release = $2, release_date = $3
          WHERE id = $1 AND release_date < $3;`,
		repoID, release, releaseDate)
	if err != nil {
		tx.Rollback()
		return 0, errors.Wrapf(err, "issue updating release for repo id [%d]", repoID)
	}
	updated, _ := res.RowsAffected()
	if updated == 0 {
		// A concurrent caller already applied this advance and fanned out.
		tx.Rollback()
		return 0, nil
	}

	res, err = tx.ExecContext(ctx, `
          INSERT INTO notifications (user_id, repo_id)
          (SELECT s.user_id, s.repo_id FROM subscriptions AS s WHERE s.repo_id = $1)
          ON CONFLICT DO NOTHING;`,
		repoID)
	if err != nil {
		tx.Rollback()
		return 0, errors.Wrapf(err, "issue fanning out notifications for repo id [%d]", repoID)
	}
	fannedOut, _ := res.RowsAffected()

	if err = tx.Commit(); err != nil {
		return 0, errors.WithStack(err)
	}
	return fannedOut, nil
}

// Subscribe links a user to a repository. No-op if the link exists.
func (client *PostgresClient) Subscribe(ctx context.Context, userID, repoID int64) error {
	_, err := client.db.ExecContext(ctx, `
          INSERT INTO subscriptions (user_id, repo_id) VALUES ($1, $2)
          ON CONFLICT DO NOTHING;`,
		userID, repoID)
	return errors.Wrapf(err, "issue subscribing user [%d] to repo id [%d]", userID, repoID)
}

// UnsubscribeByURIs removes the user's subscriptions to the given repository
// URIs together with any pending notifications for them. The URI list is
// bound as an array parameter, never interpolated.
func (client *PostgresClient) UnsubscribeByURIs(ctx context.Context, userID int64, uris []string) error {
	if len(uris) == 0 {
		return nil
	}

	tx, err := client.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}

	if _, err = tx.ExecContext(ctx, `
          DELETE FROM subscriptions AS s WHERE s.user_id = $1
          AND s.repo_id IN (SELECT r.id FROM repos AS r WHERE r.uri = ANY($2));`,
		userID, pq.Array(uris)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "issue deleting subscriptions for user [%d]", userID)
	}

	if _, err = tx.ExecContext(ctx, `
          DELETE FROM notifications AS n WHERE n.user_id = $1
          AND n.repo_id IN (SELECT r.id FROM repos AS r WHERE r.uri = ANY($2));`,
		userID, pq.Array(uris)); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "issue deleting notifications for user [%d]", userID)
	}

	if err = tx.Commit(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// UnsubscribeAll removes every subscription and pending notification of the
// user. The repository rows stay.
func (client *PostgresClient) UnsubscribeAll(ctx context.Context, userID int64) error {
	tx, err := client.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.WithStack(err)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM subscriptions AS s WHERE s.user_id = $1;`, userID); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "issue deleting all subscriptions for user [%d]", userID)
	}
	if _, err = tx.ExecContext(ctx,
		`DELETE FROM notifications AS n WHERE n.user_id = $1;`, userID); err != nil {
		tx.Rollback()
		return errors.Wrapf(err, "issue deleting all notifications for user [%d]", userID)
	}

	if err = tx.Commit(); err != nil {
		return errors.WithStack(err)
	}
	return nil
}

// ListSubscriptions returns the user's subscribed repositories ordered by
// (repo_name, owner) ascending for stable display.
func (client *PostgresClient) ListSubscriptions(ctx context.Context, userID int64) ([]models.SubscribedRepo, error) {
	var rtn []models.SubscribedRepo
	err := client.db.SelectContext(ctx, &rtn, `
          SELECT r.owner, r.repo_name, r.uri, r.release, r.release_date
          FROM subscriptions AS s
          JOIN repos AS r ON s.repo_id = r.id
          WHERE s.user_id = $1
          ORDER BY r.repo_name ASC, r.owner ASC;`,
		userID)
	return rtn, errors.Wrapf(err, "issue listing subscriptions for user [%d]", userID)
}

// ListSubscribers returns the user ids currently subscribed to the repository.
func (client *PostgresClient) ListSubscribers(ctx context.Context, repoID int64) ([]int64, error) {
	var rtn []int64
	err := client.db.SelectContext(ctx, &rtn, `
          SELECT s.user_id FROM subscriptions AS s WHERE s.repo_id = $1;`,
		repoID)
	return rtn, errors.Wrapf(err, "issue listing subscribers of repo id [%d]", repoID)
}

// DrainNotifications atomically reads and deletes the user's pending
// notifications. A second immediate drain returns empty.
func (client *PostgresClient) DrainNotifications(ctx context.Context, userID int64) ([]models.SubscribedRepo, error) {
	tx, err := client.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, errors.WithStack(err)
	}

	var rtn []models.SubscribedRepo
	if err = tx.SelectContext(ctx, &rtn, `
          SELECT r.owner, r.repo_name, r.uri, r.release, r.release_date
          FROM notifications AS n
          JOIN repos AS r ON n.repo_id = r.id
          WHERE n.user_id = $1
          ORDER BY r.repo_name ASC, r.owner ASC;`,
		userID); err != nil {
		tx.Rollback()
		return nil, errors.Wrapf(err, "issue selecting notifications for user [%d]", userID)
	}

	if _, err = tx.ExecContext(ctx,
		`DELETE FROM notifications AS n WHERE n.user_id = $1;`, userID); err != nil {
		tx.Rollback()
		return nil, errors.Wrapf(err, "issue deleting notifications for user [%d]", userID)
	}

	if err = tx.Commit(); err != nil {
		return nil, errors.WithStack(err)
	}
	return rtn, nil
}

// ListRepositories returns every tracked repository, for the sweep.
func (client *PostgresClient) ListRepositories(ctx context.Context) ([]models.Repository, error) {
	var rtn []models.Repository
	err := client.db.SelectContext(ctx, &rtn, `
          SELECT id, owner, repo_name, uri, api_uri, release, release_date FROM repos;`)
	return rtn, errors.Wrap(err, "issue listing repositories")
}

// UpsertSchedule persists the user's delivery time, overwriting any prior row.
func (client *PostgresClient) UpsertSchedule(ctx context.Context, job models.DeliverySchedule) error {
	_, err := client.db.ExecContext(ctx, `
          INSERT INTO notification_jobs (user_id, chat_id, hour, minute)
          VALUES ($1, $2, $3, $4)
          ON CONFLICT (user_id) DO UPDATE SET
            chat_id = excluded.chat_id,
            hour = excluded.hour,
            minute = excluded.minute;`,
		job.UserID, job.ChatID, job.Hour, job.Minute)
	return errors.Wrapf(err, "issue upserting schedule for user [%d]", job.UserID)
}

// DeleteSchedule removes the user's delivery time. No-op if none exists.
func (client *PostgresClient) DeleteSchedule(ctx context.Context, userID int64) error {
	_, err := client.db.ExecContext(ctx,
		`DELETE FROM notification_jobs WHERE user_id = $1;`, userID)
	return errors.Wrapf(err, "issue deleting schedule for user [%d]", userID)
}

// ListSchedules returns all persisted delivery schedules, for startup re-arm.
func (client *PostgresClient) ListSchedules(ctx context.Context) ([]models.DeliverySchedule, error) {
	var rtn []models.DeliverySchedule
	err := client.db.SelectContext(ctx, &rtn,
		`SELECT user_id, chat_id, hour, minute FROM notification_jobs;`)
	return rtn, errors.Wrap(err, "issue listing schedules")
}

const CreateTablesSQL = `
CREATE TABLE IF NOT EXISTS users (
  user_id bigint NOT NULL PRIMARY KEY,
  username text NOT NULL,
  first_name text NOT NULL,
  created_at timestamp NOT NULL DEFAULT NOW()
);
CREATE TABLE IF NOT EXISTS repos (
  id serial PRIMARY KEY,
  owner text NOT NULL,
  repo_name text NOT NULL,
  uri text NOT NULL UNIQUE,
  api_uri text NOT NULL,
  release text NOT NULL,
  release_date timestamp NOT NULL,
  UNIQUE (owner, repo_name)
);
CREATE TABLE IF NOT EXISTS subscriptions (
  user_id bigint NOT NULL,
  repo_id integer NOT NULL,
  PRIMARY KEY (user_id, repo_id)
);
CREATE TABLE IF NOT EXISTS notifications (
  user_id bigint NOT NULL,
  repo_id integer NOT NULL,
  PRIMARY KEY (user_id, repo_id)
);
CREATE TABLE IF NOT EXISTS notification_jobs (
  user_id bigint NOT NULL PRIMARY KEY,
  chat_id bigint NOT NULL,
  hour integer NOT NULL,
  minute integer NOT NULL
);`
