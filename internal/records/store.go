// Package records owns the persisted mock-exam score collection: validation,
// derived statistics, display ordering, and round-tripping through the durable
// slot blob.
package records

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/haeun-dev/suneung-tutor/internal/domain"
	"github.com/haeun-dev/suneung-tutor/internal/kvstore"
)

// SlotName is the durable slot the collection blob lives under.
const SlotName = "score_records"

var (
	// ErrIncompleteGrades is returned when any of the five grade fields is blank.
	ErrIncompleteGrades = errors.New("all five subject grades are required")
	// ErrDuplicatePeriod is returned when a record for the same year and month
	// already exists in the last observed snapshot.
	ErrDuplicatePeriod = errors.New("a record for this exam period already exists")
)

// examPeriods is the fixed set of exam-period labels, in form order. The
// ordinal doubles as the secondary sort key for display.
var examPeriods = []string{"3월 모의고사", "6월 모의고사", "9월 모의고사", "수능"}

var monthOrdinal = map[string]int{
	"3월 모의고사": 3,
	"6월 모의고사": 6,
	"9월 모의고사": 9,
	"수능":      11,
}

// ExamPeriods returns the fixed exam-period labels.
func ExamPeriods() []string {
	out := make([]string, len(examPeriods))
	copy(out, examPeriods)
	return out
}

// Input carries the raw form fields for a new record. Grades arrive as strings
// straight from the form.
type Input struct {
	Year     string `json:"year"`
	Month    string `json:"month"`
	Korean   string `json:"korean"`
	Math     string `json:"math"`
	English  string `json:"english"`
	Science1 string `json:"science1"`
	Science2 string `json:"science2"`
}

func (in Input) grades() []string {
	return []string{in.Korean, in.Math, in.English, in.Science1, in.Science2}
}

func (in Input) complete() bool {
	for _, g := range in.grades() {
		if g == "" {
			return false
		}
	}
	return true
}

// Stats holds derived statistics over a record sequence.
type Stats struct {
	Count        int     `json:"count"`
	AverageGrade float64 `json:"averageGrade"`
}

// Store owns the record collection persisted in one durable slot. It keeps
// the last observed snapshot in memory; validation runs against that snapshot,
// not a fresh read, so two stores sharing a slot can race (last write wins on
// the whole blob). This matches the source behavior and is covered by tests.
type Store struct {
	slot   kvstore.Slot
	logger *slog.Logger

	mu     sync.Mutex
	latest []domain.ScoreRecord

	now func() time.Time
}

// New creates a store over the given slot, primes the in-memory snapshot, and
// keeps it current for the lifetime of ctx.
func New(ctx context.Context, slot kvstore.Slot, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	blob, err := slot.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("prime record snapshot: %w", err)
	}
	initial, err := decodeRecords(blob)
	if err != nil {
		return nil, fmt.Errorf("prime record snapshot: %w", err)
	}

	s := &Store{
		slot:   slot,
		logger: logger,
		latest: initial,
		now:    time.Now,
	}

	go s.followSlot(ctx)

	return s, nil
}

// followSlot tracks writes from any handle of the slot, keeping the duplicate
// check's snapshot eventually consistent across instances.
func (s *Store) followSlot(ctx context.Context) {
	for blob := range s.slot.Watch(ctx) {
		decoded, err := decodeRecords(blob)
		if err != nil {
			s.logger.Warn("skipping malformed record blob", "error", err)
			continue
		}
		s.mu.Lock()
		s.latest = decoded
		s.mu.Unlock()
	}
}

// Snapshot returns a copy of the last observed collection.
func (s *Store) Snapshot() []domain.ScoreRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.ScoreRecord, len(s.latest))
	copy(out, s.latest)
	return out
}

// Observe streams collection snapshots: the current collection immediately,
// then one snapshot after every committed write, including writes from other
// store instances on the same slot. The stream ends when ctx is cancelled or
// the underlying store closes.
func (s *Store) Observe(ctx context.Context) <-chan []domain.ScoreRecord {
	out := make(chan []domain.ScoreRecord, 1)
	blobs := s.slot.Watch(ctx)
	go func() {
		defer close(out)
		emitted := false
		for blob := range blobs {
			decoded, err := decodeRecords(blob)
			if err != nil {
				s.logger.Warn("skipping malformed record blob", "error", err)
				if emitted {
					continue
				}
				decoded = nil
			}
			select {
			case out <- decoded:
			case <-ctx.Done():
				return
			}
			emitted = true
		}
	}()
	return out
}

// Add validates the candidate against the last observed snapshot, builds the
// record, and commits the grown collection as one atomic blob write. Slot I/O
// errors propagate untouched; nothing is committed on a validation failure.
func (s *Store) Add(ctx context.Context, in Input) (domain.ScoreRecord, error) {
	if !in.complete() {
		return domain.ScoreRecord{}, ErrIncompleteGrades
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	year := coerceGrade(in.Year)
	for _, existing := range s.latest {
		if existing.Year == year && existing.Month == in.Month {
			return domain.ScoreRecord{}, fmt.Errorf("%d년 %s: %w", year, in.Month, ErrDuplicatePeriod)
		}
	}

	rec := buildRecord(in, s.now())

	updated := make([]domain.ScoreRecord, len(s.latest), len(s.latest)+1)
	copy(updated, s.latest)
	updated = append(updated, rec)

	blob, err := encodeRecords(updated)
	if err != nil {
		return domain.ScoreRecord{}, err
	}
	if err := s.slot.Write(ctx, blob); err != nil {
		return domain.ScoreRecord{}, err
	}

	s.latest = updated
	s.logger.Info("score record added", "id", rec.ID, "year", rec.Year, "month", rec.Month)
	return rec, nil
}

// Delete removes the record with the given id and commits the reduced
// collection. Deleting an absent id is a no-op, not an error.
func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	updated := make([]domain.ScoreRecord, 0, len(s.latest))
	for _, rec := range s.latest {
		if rec.ID != id {
			updated = append(updated, rec)
		}
	}
	if len(updated) == len(s.latest) {
		return nil
	}

	blob, err := encodeRecords(updated)
	if err != nil {
		return err
	}
	if err := s.slot.Write(ctx, blob); err != nil {
		return err
	}

	s.latest = updated
	s.logger.Info("score record deleted", "id", id)
	return nil
}

// buildRecord converts validated form input into a record. Non-numeric grade
// input coerces to 0, matching the source app so existing persisted blobs stay
// comparable; see the store tests for the consequences.
func buildRecord(in Input, at time.Time) domain.ScoreRecord {
	korean := coerceGrade(in.Korean)
	mathGrade := coerceGrade(in.Math)
	english := coerceGrade(in.English)
	science1 := coerceGrade(in.Science1)
	science2 := coerceGrade(in.Science2)

	total := korean + mathGrade + english + science1 + science2
	avg := 0.0
	if total > 0 {
		avg = float64(total) / 5.0
	}

	return domain.ScoreRecord{
		ID:         strconv.FormatInt(at.UnixMilli(), 10),
		Title:      fmt.Sprintf("%s년 %s", in.Year, in.Month),
		Year:       coerceGrade(in.Year),
		Month:      in.Month,
		Korean:     korean,
		Math:       mathGrade,
		English:    english,
		Science1:   science1,
		Science2:   science2,
		TotalGrade: avg,
	}
}

func coerceGrade(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Statistics computes derived stats over a record sequence. The average is
// rounded to one decimal for display; an empty sequence averages 0.0.
func Statistics(records []domain.ScoreRecord) Stats {
	if len(records) == 0 {
		return Stats{}
	}
	sum := 0.0
	for _, rec := range records {
		sum += rec.TotalGrade
	}
	avg := sum / float64(len(records))
	return Stats{
		Count:        len(records),
		AverageGrade: math.Round(avg*10) / 10,
	}
}

// SortForDisplay orders records by year descending, then exam-period ordinal
// descending. Unknown period labels sort last within their year.
func SortForDisplay(records []domain.ScoreRecord) []domain.ScoreRecord {
	out := make([]domain.ScoreRecord, len(records))
	copy(out, records)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Year != out[j].Year {
			return out[i].Year > out[j].Year
		}
		return monthOrdinal[out[i].Month] > monthOrdinal[out[j].Month]
	})
	return out
}
