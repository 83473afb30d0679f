package cleanup

import (
	"os"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/logger"
)

const (
	cleanupHour    = 2  // 2 AM
	retentionHours = 48 // 48 hours
)

// StartCleanupRoutine starts the daily cleanup job
func StartCleanupRoutine() {
	go func() {
		logger.LogInfo("Cleanup routine started - will run daily at %d:00 AM", cleanupHour)

		for {
			// Calculate the next run time
			now := time.Now()
			next := time.Date(now.Year(), now.Month(), now.Day(), cleanupHour, 0, 0, 0, now.Location())

			// If it's past the hour today, schedule for tomorrow
			if now.After(next) {
				next = next.Add(24 * time.Hour)
			}

			sleepDuration := next.Sub(now)
			logger.LogInfo("Next cleanup scheduled for %v (in %v)", next.Format("2006-01-02 15:04:05"), sleepDuration)

			time.Sleep(sleepDuration)

			RunCleanup()
		}
	}()
}

// RunCleanup removes abandoned unpaid registrations and their uploaded files.
// A registration is abandoned when it never reached payment within the
// retention window.
func RunCleanup() {
	logger.LogInfo("Starting daily cleanup of abandoned registrations")

	cutoff := time.Now().Add(-retentionHours * time.Hour)
	logger.LogInfo("Cleaning records older than %v (before %v)",
		time.Duration(retentionHours)*time.Hour, cutoff.Format("2006-01-02 15:04:05"))

	repo := data.NewRegistrationRepository()

	// Files before rows, the upload paths are only reachable through the
	// database.
	paths, err := repo.ListAbandonedUploadPaths(cutoff)
	if err != nil {
		logger.LogError("Failed to list abandoned upload files: %v", err)
	} else {
		for _, path := range paths {
			if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
				logger.LogWarn("Failed to remove abandoned upload %s: %v", path, err)
			}
		}
		if len(paths) > 0 {
			logger.LogInfo("Removed %d abandoned upload files", len(paths))
		}
	}

	deleted, err := repo.DeleteAbandoned(cutoff)
	if err != nil {
		logger.LogError("Failed to cleanup abandoned registrations: %v", err)
		return
	}

	if deleted == 0 {
		logger.LogInfo("Cleanup completed - no abandoned records found")
	} else {
		logger.LogInfo("Cleanup completed - total %d abandoned registrations removed", deleted)
	}
}
