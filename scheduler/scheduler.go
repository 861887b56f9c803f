package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"

	"releasewatcher/log"
	"releasewatcher/models"
	"releasewatcher/utils"
)

// ErrInvalidTime rejects schedule times outside 00:00..23:59 before anything
// is persisted.
var ErrInvalidTime = errors.New("schedule time out of range")

// Store holds the persisted delivery schedules. The table is the source of
// truth; the scheduler's timers are rebuilt from it on startup.
type Store interface {
	UpsertSchedule(ctx context.Context, job models.DeliverySchedule) error
	DeleteSchedule(ctx context.Context, userID int64) error
	ListSchedules(ctx context.Context) ([]models.DeliverySchedule, error)
}

// Drainer consumes a user's pending notification backlog.
type Drainer interface {
	DrainNotifications(ctx context.Context, userID int64) ([]models.SubscribedRepo, error)
}

// Sender is the minimal messaging transport surface the scheduler needs.
// Implemented by client.TelegramClient.
type Sender interface {
	SendMessage(chatID int64, text string) error
}

// DeliveryScheduler arms one recurring daily timer per scheduled user, at
// that user's wall-clock time in the reference timezone. Timer handles are
// an in-memory index keyed by user id; the persisted rows stay
// authoritative.
type DeliveryScheduler struct {
	store  Store
	queue  Drainer
	sender Sender
	loc    *time.Location

	mu     sync.Mutex
	timers map[int64]*time.Timer
}

func New(store Store, queue Drainer, sender Sender, loc *time.Location) *DeliveryScheduler {
	return &DeliveryScheduler{
		store:  store,
		queue:  queue,
		sender: sender,
		loc:    loc,
		timers: make(map[int64]*time.Timer),
	}
}

// LoadAndArm rebuilds the timer set from the persisted schedules. Mandatory
// at process start; without it no scheduled delivery would fire. Returns the
// number of timers armed.
func (s *DeliveryScheduler) LoadAndArm(ctx context.Context) (int, error) {
	jobs, err := s.store.ListSchedules(ctx)
	if err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, job := range jobs {
		s.armLocked(job)
	}
	return len(jobs), nil
}

// SetSchedule validates the time, cancels any existing timer for the user,
// persists the new row and arms a fresh timer. The scheduler mutex is held
// across cancel-persist-arm so two timers for one user never coexist.
func (s *DeliveryScheduler) SetSchedule(ctx context.Context, userID, chatID int64, hour, minute int) error {
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return errors.Wrapf(ErrInvalidTime, "got %02d:%02d", hour, minute)
	}

	job := models.DeliverySchedule{
		UserID: userID,
		ChatID: chatID,
		Hour:   hour,
		Minute: minute,
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.stopLocked(userID)
	if err := s.store.UpsertSchedule(ctx, job); err != nil {
		return err
	}
	s.armLocked(job)
	return nil
}

// ClearSchedule cancels the user's timer and deletes the persisted row.
// Idempotent; a fire already in flight completes one last time and does not
// re-arm.
func (s *DeliveryScheduler) ClearSchedule(ctx context.Context, userID int64) error {
	s.mu.Lock()
	s.stopLocked(userID)
	s.mu.Unlock()

	return s.store.DeleteSchedule(ctx, userID)
}

func (s *DeliveryScheduler) stopLocked(userID int64) {
	if timer, ok := s.timers[userID]; ok {
		timer.Stop()
		delete(s.timers, userID)
	}
}

func (s *DeliveryScheduler) armLocked(job models.DeliverySchedule) {
	delay := NextFire(time.Now().In(s.loc), job.Hour, job.Minute)
	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		s.onFire(job, timer)
	})
	s.timers[job.UserID] = timer
}

// onFire delivers the user's backlog, then re-arms for the next day unless
// the schedule was cleared or replaced while the fire was in flight.
func (s *DeliveryScheduler) onFire(job models.DeliverySchedule, fired *time.Timer) {
	s.deliver(job)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timers[job.UserID] == fired {
		s.armLocked(job)
	}
}

// deliver drains the queue and sends one rendered message. Transport
// failures are logged only; the drained notifications are not re-enqueued.
func (s *DeliveryScheduler) deliver(job models.DeliverySchedule) {
	if s.sender == nil {
		log.LogAppWarn(fmt.Sprintf("No messaging transport, skipping delivery for user %d", job.UserID), nil)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repos, err := s.queue.DrainNotifications(ctx, job.UserID)
	if err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't drain notifications for user %d", job.UserID), err)
		return
	}
	if len(repos) == 0 {
		return
	}

	if err := s.sender.SendMessage(job.ChatID, utils.RenderReleaseList(repos)); err != nil {
		log.LogAppErr(fmt.Sprintf("Couldn't deliver %d notifications to chat %d", len(repos), job.ChatID), err)
	}
}

// NextFire returns how long until the next occurrence of hour:minute
// strictly after now, in now's location.
func NextFire(now time.Time, hour, minute int) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next.Sub(now)
}
