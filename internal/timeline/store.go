// Package timeline implements the chronological index of a user's data
// points and events. Writes are serialized per user; reads copy out a
// stable snapshot so detectors never observe partial writes.
package timeline

import (
	"fmt"
	"math"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/preventive-health-engine/internal/domain"
)

// Store is an in-memory timeline store keyed by user
type Store struct {
	mu    sync.RWMutex
	users map[string]*userTimeline
	log   *logrus.Logger
}

// userTimeline holds one user's data under its own lock. A global lock is
// only taken to look up or create the per-user entry.
type userTimeline struct {
	mu         sync.RWMutex
	version    int64
	seq        int64
	identities map[string]bool
	points     []domain.DataPoint
	events     []domain.Event
}

// NewStore creates a new in-memory timeline store
func NewStore(logger *logrus.Logger) *Store {
	return &Store{
		users: make(map[string]*userTimeline),
		log:   logger,
	}
}

// CreateTimeline creates an empty timeline for a user. An empty timeline
// is valid and distinct from having no timeline at all.
func (s *Store) CreateTimeline(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[userID]; !ok {
		s.users[userID] = newUserTimeline()
	}
}

// AddDataPoint inserts a data point, creating the user's timeline if
// needed. The insert is idempotent on the point's identity: repeated
// ingestion of the same (user, parameter, date, source) leaves the point
// count unchanged.
func (s *Store) AddDataPoint(point domain.DataPoint) error {
	if err := validatePoint(point); err != nil {
		return err
	}

	u := s.ensureUser(point.UserID)

	u.mu.Lock()
	defer u.mu.Unlock()

	identity := point.Identity()
	if u.identities[identity] {
		s.log.WithFields(logrus.Fields{
			"user_id":   point.UserID,
			"parameter": point.Parameter,
			"date":      point.Date.Format("2006-01-02"),
		}).Debug("Duplicate data point ignored")
		return nil
	}

	u.seq++
	point.Seq = u.seq
	u.identities[identity] = true
	u.points = append(u.points, point)
	u.version++
	return nil
}

// AddEvent appends a discrete event to the user's timeline
func (s *Store) AddEvent(event domain.Event) error {
	if event.UserID == "" {
		return domain.NewEngineError(domain.ErrInvalidInput, "event user_id is required", "")
	}
	if event.Date.IsZero() {
		return domain.NewEngineError(domain.ErrInvalidInput, "event date is required", "")
	}

	u := s.ensureUser(event.UserID)

	u.mu.Lock()
	defer u.mu.Unlock()

	u.seq++
	event.Seq = u.seq
	u.events = append(u.events, event)
	u.version++
	return nil
}

// GetHistory returns the user's data points for one parameter, ascending
// by date with insertion order breaking ties. An unknown user is a
// NotFoundError; a known user with no matching points returns an empty slice.
func (s *Store) GetHistory(userID, parameter string) ([]domain.DataPoint, error) {
	u, err := s.lookupUser(userID)
	if err != nil {
		return nil, err
	}

	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]domain.DataPoint, 0)
	for _, p := range u.points {
		if p.Parameter == parameter {
			out = append(out, p)
		}
	}
	sortPoints(out)
	return out, nil
}

// GetOrderedEvents returns the user's events ascending by date, ties
// broken by insertion sequence.
func (s *Store) GetOrderedEvents(userID string) ([]domain.Event, error) {
	u, err := s.lookupUser(userID)
	if err != nil {
		return nil, err
	}

	u.mu.RLock()
	defer u.mu.RUnlock()

	out := make([]domain.Event, len(u.events))
	copy(out, u.events)
	sortEvents(out)
	return out, nil
}

// Snapshot returns an immutable copy of the user's timeline at call time.
// Detectors operate on the snapshot only, so concurrent writes after the
// copy cannot be observed.
func (s *Store) Snapshot(userID string) (*domain.TimelineSnapshot, error) {
	u, err := s.lookupUser(userID)
	if err != nil {
		return nil, err
	}

	u.mu.RLock()
	defer u.mu.RUnlock()

	points := make([]domain.DataPoint, len(u.points))
	copy(points, u.points)
	sortPoints(points)

	events := make([]domain.Event, len(u.events))
	copy(events, u.events)
	sortEvents(events)

	return &domain.TimelineSnapshot{
		UserID:  userID,
		Version: u.version,
		Points:  points,
		Events:  events,
	}, nil
}

// Version returns the user's current timeline version counter.
func (s *Store) Version(userID string) (int64, error) {
	u, err := s.lookupUser(userID)
	if err != nil {
		return 0, err
	}
	u.mu.RLock()
	defer u.mu.RUnlock()
	return u.version, nil
}

func newUserTimeline() *userTimeline {
	return &userTimeline{
		identities: make(map[string]bool),
		points:     make([]domain.DataPoint, 0),
		events:     make([]domain.Event, 0),
	}
}

func (s *Store) ensureUser(userID string) *userTimeline {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		u = newUserTimeline()
		s.users[userID] = u
	}
	return u
}

func (s *Store) lookupUser(userID string) (*userTimeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.users[userID]
	if !ok {
		return nil, &domain.NotFoundError{Resource: "timeline", ID: userID}
	}
	return u, nil
}

func validatePoint(point domain.DataPoint) error {
	if point.UserID == "" {
		return domain.NewEngineError(domain.ErrInvalidInput, "data point user_id is required", "")
	}
	if point.Parameter == "" {
		return domain.NewEngineError(domain.ErrInvalidInput, "data point parameter is required", "")
	}
	if point.Date.IsZero() {
		return domain.NewEngineError(domain.ErrInvalidInput, "data point date is required", "")
	}
	if math.IsNaN(point.Value) || math.IsInf(point.Value, 0) {
		return domain.NewEngineError(domain.ErrInvalidInput, "data point value must be finite",
			fmt.Sprintf("parameter=%s", point.Parameter))
	}
	return nil
}

func sortPoints(points []domain.DataPoint) {
	sort.SliceStable(points, func(i, j int) bool {
		if points[i].Date.Equal(points[j].Date) {
			return points[i].Seq < points[j].Seq
		}
		return points[i].Date.Before(points[j].Date)
	})
}

func sortEvents(events []domain.Event) {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].Date.Equal(events[j].Date) {
			return events[i].Seq < events[j].Seq
		}
		return events[i].Date.Before(events[j].Date)
	})
}
