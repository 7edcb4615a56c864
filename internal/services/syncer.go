package services

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"csfdsync/internal/models"
	"csfdsync/internal/notify"
	"csfdsync/internal/repository"
)

// Syncer merges the local store with the cloud backup using last-write-wins
// ordering on lastUpdate and tombstone deletion markers. A run is mutually
// exclusive with itself: a second Merge while one is active returns an error
// status instead of queueing. There is no cross-process lock; concurrent
// syncs from two installs race and the later lastUpdate wins.
type Syncer struct {
	repo     repository.RatingRepository
	cloud    CloudAPI
	notifier notify.Notifier
	logger   *logrus.Logger

	inProgress atomic.Bool
}

// SyncerConfig wires the syncer's collaborators.
type SyncerConfig struct {
	Repo     repository.RatingRepository
	Cloud    CloudAPI
	Notifier notify.Notifier
	Logger   *logrus.Logger
}

func NewSyncer(config SyncerConfig) *Syncer {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}
	if config.Notifier == nil {
		config.Notifier = notify.NoopNotifier{}
	}
	return &Syncer{
		repo:     config.Repo,
		cloud:    config.Cloud,
		notifier: config.Notifier,
		logger:   config.Logger,
	}
}

// Merge runs one sync pass for the user. With manualCheck set it only
// detects conflicts: any local/remote disagreement returns the full diff set
// with zero writes, so a human can pick a resolution direction instead of
// having it decided silently. Without manualCheck (or once conflicts were
// resolved) the standard last-write-wins merge runs.
func (s *Syncer) Merge(ctx context.Context, userSlug, token string, manualCheck bool) (*models.MergeResult, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		return &models.MergeResult{
			Status:  models.MergeStatusError,
			Message: "sync already in progress",
		}, nil
	}
	defer s.inProgress.Store(false)

	local, err := s.repo.GetAll(ctx, userSlug)
	if err != nil {
		return s.errResult("read local records", err)
	}
	remote, err := s.cloud.FetchRecords(ctx, token)
	if err != nil {
		return s.errResult("fetch remote records", err)
	}

	localByMovie := indexByMovie(local)

	if manualCheck {
		if conflicts := detectConflicts(localByMovie, remote); len(conflicts) > 0 {
			s.logger.WithFields(logrus.Fields{
				"user_slug": userSlug,
				"conflicts": len(conflicts),
			}).Warn("Sync conflicts detected, awaiting manual resolution")
			return &models.MergeResult{
				Status:    models.MergeStatusConflict,
				Conflicts: conflicts,
			}, nil
		}
	}

	result := &models.MergeResult{Status: models.MergeStatusSuccess}
	uploadNeeded := false

	// Tombstones that still win after the merge stay in the next upload so
	// other installs keep seeing the deletion.
	var survivingTombstones []models.RemoteRecord

	for _, record := range remote {
		existing, ok := localByMovie[record.MovieID]
		if !ok {
			if record.Deleted {
				survivingTombstones = append(survivingTombstones, record)
				continue
			}
			// Nothing local to compare against; the remote copy wins.
			if err := s.applyRemote(ctx, userSlug, record); err != nil {
				return s.errResult("apply remote record", err)
			}
			result.Updated++
			continue
		}

		if record.LastUpdate.After(existing.LastUpdate) {
			if record.Deleted {
				if err := s.repo.Delete(ctx, existing.ID); err != nil {
					return s.errResult("delete tombstoned record", err)
				}
				delete(localByMovie, record.MovieID)
				survivingTombstones = append(survivingTombstones, record)
				result.Deleted++
			} else {
				if err := s.applyRemote(ctx, userSlug, record); err != nil {
					return s.errResult("apply remote record", err)
				}
				result.Updated++
			}
		} else {
			// Local is newer; it goes up, nothing changes here.
			uploadNeeded = true
		}
	}

	for _, record := range local {
		if _, ok := remote[models.RemoteKey(record.MovieID)]; !ok {
			uploadNeeded = true
			break
		}
	}

	// Seed the backup on first sync even when nothing else changed.
	if uploadNeeded || len(remote) == 0 {
		merged, err := s.repo.GetAll(ctx, userSlug)
		if err != nil {
			return s.errResult("read merged records", err)
		}
		uploadSet := buildUploadSet(merged, survivingTombstones)
		if err := s.cloud.UploadRecords(ctx, token, userSlug, uploadSet); err != nil {
			return s.errResult("upload merged records", err)
		}
		result.Uploaded = len(uploadSet)
	}

	if result.LocalChanged() {
		s.notifier.RatingsChanged(ctx, userSlug)
	}

	s.logger.WithFields(logrus.Fields{
		"user_slug": userSlug,
		"updated":   result.Updated,
		"deleted":   result.Deleted,
		"uploaded":  result.Uploaded,
	}).Info("Sync merge finished")
	return result, nil
}

// ResolveWithRemote resolves a detected conflict by replacing the local set
// with the remote one: tombstoned and remote-unknown records are deleted,
// everything else is upserted. Afterwards the local set equals the remote
// live set. This is a whole-set operation; per-record cherry-picks are not
// supported.
func (s *Syncer) ResolveWithRemote(ctx context.Context, userSlug, token string) (*models.MergeResult, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		return &models.MergeResult{
			Status:  models.MergeStatusError,
			Message: "sync already in progress",
		}, nil
	}
	defer s.inProgress.Store(false)

	local, err := s.repo.GetAll(ctx, userSlug)
	if err != nil {
		return s.errResult("read local records", err)
	}
	remote, err := s.cloud.FetchRecords(ctx, token)
	if err != nil {
		return s.errResult("fetch remote records", err)
	}

	result := &models.MergeResult{Status: models.MergeStatusSuccess}
	for _, record := range remote {
		if record.Deleted {
			id := models.RecordID(userSlug, record.URL)
			if err := s.repo.Delete(ctx, id); err != nil {
				return s.errResult("delete tombstoned record", err)
			}
			result.Deleted++
			continue
		}
		if err := s.applyRemote(ctx, userSlug, record); err != nil {
			return s.errResult("apply remote record", err)
		}
		result.Updated++
	}

	for _, record := range local {
		if _, ok := remote[models.RemoteKey(record.MovieID)]; ok {
			continue
		}
		if err := s.repo.Delete(ctx, record.ID); err != nil {
			return s.errResult("delete local-only record", err)
		}
		result.Deleted++
	}

	if result.LocalChanged() {
		s.notifier.RatingsChanged(ctx, userSlug)
	}
	return result, nil
}

// ResolveWithLocal resolves a detected conflict by uploading the local set
// wholesale. The remote is not re-checked between conflict detection and
// this upload, so a remote change made in that window is overwritten.
func (s *Syncer) ResolveWithLocal(ctx context.Context, userSlug, token string) (*models.MergeResult, error) {
	if !s.inProgress.CompareAndSwap(false, true) {
		return &models.MergeResult{
			Status:  models.MergeStatusError,
			Message: "sync already in progress",
		}, nil
	}
	defer s.inProgress.Store(false)

	local, err := s.repo.GetAll(ctx, userSlug)
	if err != nil {
		return s.errResult("read local records", err)
	}

	uploadSet := buildUploadSet(local, nil)
	if err := s.cloud.UploadRecords(ctx, token, userSlug, uploadSet); err != nil {
		return s.errResult("upload local records", err)
	}

	return &models.MergeResult{
		Status:   models.MergeStatusSuccess,
		Uploaded: len(uploadSet),
	}, nil
}

// applyRemote upserts a remote copy into the local store, rekeyed for the
// local user.
func (s *Syncer) applyRemote(ctx context.Context, userSlug string, record models.RemoteRecord) error {
	local := record.Rating
	local.UserSlug = userSlug
	local.ID = models.RecordID(userSlug, local.URL)
	return s.repo.Put(ctx, &local)
}

func (s *Syncer) errResult(op string, err error) (*models.MergeResult, error) {
	s.logger.WithError(err).Error("Sync merge failed")
	return &models.MergeResult{
		Status:  models.MergeStatusError,
		Message: op,
	}, fmt.Errorf("%s: %w", op, err)
}

func indexByMovie(records []*models.Rating) map[int]*models.Rating {
	index := make(map[int]*models.Rating, len(records))
	for _, record := range records {
		index[record.MovieID] = record
	}
	return index
}

// detectConflicts flags the disagreements that need a human: remote has a
// live record the store never saw, remote tombstoned a record that still
// exists locally, or both sides hold different rating values.
func detectConflicts(localByMovie map[int]*models.Rating, remote models.RemoteRecordSet) []models.Conflict {
	var conflicts []models.Conflict
	for _, record := range remote {
		existing, ok := localByMovie[record.MovieID]
		switch {
		case !ok && !record.Deleted:
			conflicts = append(conflicts, models.Conflict{
				Kind:   models.ConflictMissingLocally,
				Remote: cloneRemote(record),
			})
		case ok && record.Deleted:
			conflicts = append(conflicts, models.Conflict{
				Kind:   models.ConflictDeletedRemotely,
				Local:  existing,
				Remote: cloneRemote(record),
			})
		case ok && !record.Deleted && !models.SameRating(existing.Rating, record.Rating.Rating):
			conflicts = append(conflicts, models.Conflict{
				Kind:   models.ConflictRatingMismatch,
				Local:  existing,
				Remote: cloneRemote(record),
			})
		}
	}
	return conflicts
}

func cloneRemote(record models.RemoteRecord) *models.RemoteRecord {
	copied := record
	return &copied
}

// buildUploadSet assembles the whole-set upload payload: every live local
// record plus the tombstones that must keep propagating.
func buildUploadSet(local []*models.Rating, tombstones []models.RemoteRecord) models.RemoteRecordSet {
	set := make(models.RemoteRecordSet, len(local)+len(tombstones))
	for _, record := range local {
		set[models.RemoteKey(record.MovieID)] = models.RemoteRecord{Rating: *record}
	}
	for _, tombstone := range tombstones {
		set[models.RemoteKey(tombstone.MovieID)] = tombstone
	}
	return set
}
