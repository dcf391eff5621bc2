// Package progress persists finished "it" streaks and tag events off the game
// loop and notifies players of achievements they unlock.
package progress

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"tag-server/internal/achievement"
	"tag-server/internal/protocol"
	"tag-server/internal/store"
)

const (
	queueSize    = 1024
	maxAttempts  = 3
	writeTimeout = 5 * time.Second
)

// Notifier delivers a message to one connection
type Notifier interface {
	SendTo(connID string, env protocol.Envelope)
}

// Participant identifies a player by account and live connection
type Participant struct {
	Account string
	ConnID  string
}

// StreakEnd describes a finished "it" streak. Tagger is nil when the streak
// ended by disconnect.
type StreakEnd struct {
	EventID string
	Holder  Participant
	Elapsed time.Duration
	Tagger  *Participant
	At      time.Time
}

type achievementsRequest struct {
	who Participant
}

type job struct {
	streak       *StreakEnd
	achievements *achievementsRequest
}

// Worker applies progress writes in order on a single background goroutine
type Worker struct {
	store  store.Store
	notify Notifier
	log    *zap.SugaredLogger

	jobs chan job
	stop chan struct{}
	once sync.Once
	wg   sync.WaitGroup

	// newBackOff builds the retry schedule for one write
	newBackOff func() backoff.BackOff
}

// NewWorker creates and starts the progress writer
func NewWorker(st store.Store, notify Notifier, log *zap.SugaredLogger) *Worker {
	w := &Worker{
		store:  st,
		notify: notify,
		log:    log,
		jobs:   make(chan job, queueSize),
		stop:   make(chan struct{}),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 100 * time.Millisecond
			return b
		},
	}
	w.wg.Add(1)
	go w.run()
	return w
}

// StreakEnded enqueues a finished streak (non-blocking)
func (w *Worker) StreakEnded(ev StreakEnd) {
	w.enqueue(job{streak: &ev})
}

// SendAchievements looks up an account's achievements and sends them to connID
func (w *Worker) SendAchievements(account, connID string) {
	w.enqueue(job{achievements: &achievementsRequest{who: Participant{account, connID}}})
}

func (w *Worker) enqueue(j job) {
	select {
	case <-w.stop:
		w.log.Warnw("progress worker stopped, dropping job", "streak", j.streak != nil)
		return
	default:
	}
	select {
	case w.jobs <- j:
	default:
		// Queue full: drop rather than block the game loop
		w.log.Warnw("progress queue full, dropping job", "streak", j.streak != nil)
	}
}

// Stop drains queued jobs and waits for the writer to finish. Jobs enqueued
// concurrently with Stop are either handled or dropped.
func (w *Worker) Stop() {
	w.once.Do(func() {
		close(w.stop)
		w.wg.Wait()
	})
}

func (w *Worker) run() {
	defer w.wg.Done()
	for {
		select {
		case j := <-w.jobs:
			w.handle(j)
		case <-w.stop:
			for {
				select {
				case j := <-w.jobs:
					w.handle(j)
				default:
					return
				}
			}
		}
	}
}

func (w *Worker) handle(j job) {
	switch {
	case j.streak != nil:
		w.applyStreak(*j.streak)
	case j.achievements != nil:
		w.sendAchievements(j.achievements.who)
	}
}

// retry runs op with the bounded backoff schedule
func (w *Worker) retry(op func(ctx context.Context) error) error {
	b := backoff.WithMaxRetries(w.newBackOff(), maxAttempts-1)
	return backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		defer cancel()
		return op(ctx)
	}, b)
}

// applyStreak persists one streak: it-time, tag count, threshold unlocks,
// first_tag, best streak, then notifications.
func (w *Worker) applyStreak(ev StreakEnd) {
	seconds := ev.Elapsed.Seconds()
	holder := ev.Holder.Account
	log := w.log.With("event", ev.EventID, "account", holder)

	var unlocked []unlock

	var total float64
	err := w.retry(func(ctx context.Context) error {
		var err error
		total, err = w.store.IncrementItTime(ctx, ev.EventID+":it", holder, seconds)
		return err
	})
	if err != nil {
		log.Errorw("persist it-time failed", "seconds", seconds, "error", err)
	}

	if ev.Tagger != nil {
		tagger := ev.Tagger.Account
		if err := w.retry(func(ctx context.Context) error {
			return w.store.IncrementTagCount(ctx, ev.EventID+":tag", tagger, 1)
		}); err != nil {
			log.Errorw("persist tag count failed", "tagger", tagger, "error", err)
		}
	}

	if err == nil {
		for _, def := range achievement.CrossedThresholds(total-seconds, total) {
			if w.unlock(holder, def, ev.At) {
				unlocked = append(unlocked, unlock{ev.Holder.ConnID, def})
			}
		}
	}

	if ev.Tagger != nil {
		def, _ := achievement.Lookup(achievement.FirstTag)
		if w.unlock(ev.Tagger.Account, def, ev.At) {
			unlocked = append(unlocked, unlock{ev.Tagger.ConnID, def})
		}
	}

	if err := w.retry(func(ctx context.Context) error {
		return w.store.UpdateBestStreak(ctx, holder, seconds)
	}); err != nil {
		log.Errorw("persist best streak failed", "error", err)
	}

	for _, u := range unlocked {
		w.notify.SendTo(u.connID, protocol.Envelope{T: protocol.MsgAchievementUnlocked, Data: u.def.Unlocked()})
	}
}

type unlock struct {
	connID string
	def    achievement.Def
}

// unlock reports whether def was newly unlocked for account
func (w *Worker) unlock(account string, def achievement.Def, at time.Time) bool {
	var fresh bool
	err := w.retry(func(ctx context.Context) error {
		var err error
		fresh, err = w.store.UnlockAchievement(ctx, account, def.ID, at)
		return err
	})
	if err != nil {
		w.log.Errorw("unlock achievement failed", "account", account, "achievement", def.ID, "error", err)
		return false
	}
	if fresh {
		w.log.Infow("achievement unlocked", "account", account, "achievement", def.ID)
	}
	return fresh
}

func (w *Worker) sendAchievements(who Participant) {
	var got map[string]time.Time
	err := w.retry(func(ctx context.Context) error {
		var err error
		got, err = w.store.GetAchievements(ctx, who.Account)
		if errors.Is(err, store.ErrNotFound) {
			got, err = nil, nil
		}
		return err
	})
	if err != nil {
		w.log.Errorw("load achievements failed", "account", who.Account, "error", err)
		return
	}
	w.notify.SendTo(who.ConnID, protocol.Envelope{T: protocol.MsgAchievementsUpdate, Data: achievement.Status(got)})
}
