package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const cleanupTimeout = 30 * time.Second

// ExpiredIdentityReaper drops auth identities past their expiry.
type ExpiredIdentityReaper interface {
	DeleteExpired(ctx context.Context) (int64, error)
}

// OrphanSessionReaper drops sessions whose members are all gone.
type OrphanSessionReaper interface {
	DeleteOrphans(ctx context.Context) (int64, error)
}

type CleanupJob struct {
	identities ExpiredIdentityReaper
	sessions   OrphanSessionReaper
	interval   time.Duration
	done       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
}

func NewCleanupJob(identities ExpiredIdentityReaper, sessions OrphanSessionReaper, interval time.Duration) *CleanupJob {
	return &CleanupJob{
		identities: identities,
		sessions:   sessions,
		interval:   interval,
		done:       make(chan struct{}),
	}
}

func (j *CleanupJob) Start() {
	j.wg.Add(1)
	go j.run()
	log.Info().Dur("interval", j.interval).Msg("cleanup job started")
}

// Stop signals the loop and waits for an in-flight pass to finish.
func (j *CleanupJob) Stop() {
	j.stopOnce.Do(func() { close(j.done) })
	j.wg.Wait()
	log.Info().Msg("cleanup job stopped")
}

func (j *CleanupJob) run() {
	defer j.wg.Done()
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.cleanup()

	for {
		select {
		case <-j.done:
			return
		case <-ticker.C:
			j.cleanup()
		}
	}
}

func (j *CleanupJob) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()

	// Identities first so expired guests no longer hold their sessions open.
	j.runCleanup(ctx, "expired identities", j.identities.DeleteExpired)
	j.runCleanup(ctx, "orphan sessions", j.sessions.DeleteOrphans)
}

func (j *CleanupJob) runCleanup(ctx context.Context, name string, fn func(context.Context) (int64, error)) {
	count, err := fn(ctx)
	if err != nil {
		log.Error().Err(err).Msgf("failed to cleanup %s", name)
	} else if count > 0 {
		log.Info().Int64("count", count).Msgf("cleaned up %s", name)
	}
}
