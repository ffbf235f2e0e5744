package usecase

import (
	"context"
	"fmt"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
)

// artifactTimeLayout is the filesystem-safe ISO timestamp embedded in
// every artifact name.
const artifactTimeLayout = "2006-01-02T150405Z"

const sidecarSuffix = ".meta.json"

// RetentionEngine deletes artifacts that fall outside a job's
// retention policy. It runs synchronously as the final backup stage so
// its failures stay visible on the same execution record.
type RetentionEngine struct {
	logger *logger.Logger
}

func NewRetention(log *logger.Logger) *RetentionEngine {
	return &RetentionEngine{logger: log}
}

type artifact struct {
	entry domain.Entry
	at    time.Time
}

// Apply lists the job's artifacts at the destination, selects the ones
// the policy no longer covers, and deletes them together with their
// sidecars. It returns the deleted artifact names.
func (e *RetentionEngine) Apply(ctx context.Context, storage domain.StorageAdapter, cfg domain.Settings, prefix string, policy domain.RetentionPolicy, now time.Time) ([]string, error) {
	if policy.Kind == domain.RetentionNone || policy.Kind == "" {
		return nil, nil
	}

	entries, err := storage.List(ctx, cfg, prefix)
	if err != nil {
		return nil, fmt.Errorf("failed to list artifacts: %w", err)
	}

	doomed := e.SelectDeletions(entries, policy, now)

	var deleted []string
	for _, entry := range doomed {
		if err := storage.Delete(ctx, cfg, entry.Name); err != nil {
			return deleted, fmt.Errorf("failed to delete artifact %s: %w", entry.Name, err)
		}
		deleted = append(deleted, entry.Name)

		// Sidecar removal is best-effort; the artifact is already gone.
		if err := storage.Delete(ctx, cfg, domain.SidecarName(entry.Name)); err != nil {
			e.logger.Debugf("no sidecar removed for %s: %v", entry.Name, err)
		}
	}
	return deleted, nil
}

// SelectDeletions returns the artifacts the policy does not keep.
// Sidecars are never selected directly; they follow their artifact.
func (e *RetentionEngine) SelectDeletions(entries []domain.Entry, policy domain.RetentionPolicy, now time.Time) []domain.Entry {
	var arts []artifact
	for _, entry := range entries {
		if strings.HasSuffix(entry.Name, sidecarSuffix) {
			continue
		}
		arts = append(arts, artifact{entry: entry, at: artifactTime(entry)})
	}
	sort.Slice(arts, func(i, j int) bool { return arts[i].at.After(arts[j].at) })

	switch policy.Kind {
	case domain.RetentionSimple:
		if len(arts) <= policy.KeepCount {
			return nil
		}
		var doomed []domain.Entry
		for _, a := range arts[policy.KeepCount:] {
			doomed = append(doomed, a.entry)
		}
		return doomed

	case domain.RetentionSmart:
		if policy.AllZero() {
			return nil
		}
		kept := smartKept(arts, policy, now)
		var doomed []domain.Entry
		for _, a := range arts {
			if !kept[a.entry.Name] {
				doomed = append(doomed, a.entry)
			}
		}
		return doomed

	default:
		return nil
	}
}

// smartKept marks the newest artifact inside each calendar window of
// each configured bucket. An artifact kept by any bucket survives.
func smartKept(arts []artifact, policy domain.RetentionPolicy, now time.Time) map[string]bool {
	now = now.UTC()
	kept := make(map[string]bool)

	buckets := []struct {
		count int
		key   func(t time.Time) string
		back  func(i int) time.Time
	}{
		{policy.Daily, dayKey, func(i int) time.Time { return now.AddDate(0, 0, -i) }},
		{policy.Weekly, weekKey, func(i int) time.Time { return now.AddDate(0, 0, -7*i) }},
		{policy.Monthly, monthKey, func(i int) time.Time { return monthsBack(now, i) }},
		{policy.Yearly, yearKey, func(i int) time.Time { return now.AddDate(-i, 0, 0) }},
	}

	for _, bucket := range buckets {
		for i := 0; i < bucket.count; i++ {
			window := bucket.key(bucket.back(i))
			// arts is sorted newest first: the first match wins.
			for _, a := range arts {
				if bucket.key(a.at) == window {
					kept[a.entry.Name] = true
					break
				}
			}
		}
	}
	return kept
}

func dayKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

func weekKey(t time.Time) string {
	year, week := t.UTC().ISOWeek()
	return fmt.Sprintf("%04d-W%02d", year, week)
}

func monthKey(t time.Time) string { return t.UTC().Format("2006-01") }

func yearKey(t time.Time) string { return t.UTC().Format("2006") }

// monthsBack subtracts whole calendar months without the end-of-month
// normalization AddDate would apply (Mar 31 minus one month is
// February, not March 3rd).
func monthsBack(t time.Time, months int) time.Time {
	year, month := t.Year(), int(t.Month())-months
	for month < 1 {
		month += 12
		year--
	}
	return time.Date(year, time.Month(month), 1, 0, 0, 0, 0, time.UTC)
}

// artifactTime recovers an artifact's timestamp from its name,
// falling back to the storage mtime when the name doesn't carry one.
func artifactTime(entry domain.Entry) time.Time {
	base := path.Base(entry.Name)
	if i := strings.IndexByte(base, '.'); i > 0 {
		base = base[:i]
	}
	if t, err := time.Parse(artifactTimeLayout, base); err == nil {
		return t
	}
	return entry.LastModified
}
