package storage

import (
	"context"
	"time"

	"github.com/drivemind-app/drivemind/internal/log"
)

// CleanupManager periodically prunes expired used-state entries so the
// single-use set does not grow without bound. Other bounded caches can
// register extra prune tasks on the same ticker.
type CleanupManager struct {
	store    StateStore
	interval time.Duration
	tasks    []cleanupTask
	stopChan chan struct{}
	doneChan chan struct{}
}

type cleanupTask struct {
	name string
	fn   func() int
}

// NewCleanupManager creates a new cleanup manager
func NewCleanupManager(store StateStore, interval time.Duration) *CleanupManager {
	return &CleanupManager{
		store:    store,
		interval: interval,
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}
}

// AddTask registers an additional prune function run on each cycle.
// Must be called before Start.
func (cm *CleanupManager) AddTask(name string, fn func() int) {
	cm.tasks = append(cm.tasks, cleanupTask{name: name, fn: fn})
}

// Start begins the cleanup loop in a goroutine
func (cm *CleanupManager) Start(ctx context.Context) {
	log.LogInfoWithFields("cleanup", "Starting state cleanup manager", map[string]any{
		"interval": cm.interval.String(),
	})

	go cm.run(ctx)
}

// Stop gracefully stops the cleanup loop
func (cm *CleanupManager) Stop() {
	close(cm.stopChan)
	<-cm.doneChan
	log.Logf("State cleanup manager stopped")
}

func (cm *CleanupManager) run(ctx context.Context) {
	defer close(cm.doneChan)

	ticker := time.NewTicker(cm.interval)
	defer ticker.Stop()

	cm.cleanup(ctx)

	for {
		select {
		case <-ticker.C:
			cm.cleanup(ctx)
		case <-cm.stopChan:
			cm.cleanup(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

func (cm *CleanupManager) cleanup(ctx context.Context) {
	count, err := cm.store.CleanupExpiredStates(ctx)
	if err != nil {
		log.LogErrorWithFields("cleanup", "Failed to cleanup expired states", map[string]any{
			"error": err.Error(),
		})
	} else if count > 0 {
		log.LogDebugWithFields("cleanup", "Removed expired state entries", map[string]any{
			"count": count,
		})
	}

	for _, task := range cm.tasks {
		if removed := task.fn(); removed > 0 {
			log.LogDebugWithFields("cleanup", "Pruned entries", map[string]any{
				"task":  task.name,
				"count": removed,
			})
		}
	}
}
