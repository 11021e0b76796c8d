package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/repository"
)

var testNow = time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

func fixedClock() time.Time { return testNow }

func strPtr(s string) *string { return &s }

func timePtr(t time.Time) *time.Time { return &t }

// memStore is an in-memory UserRepository and DailyStepsRepository
type memStore struct {
	mu    sync.Mutex
	users map[string]*domain.User
	days  map[string]map[time.Time]int64

	accessTokenWrites atomic.Int32
	upsertErr         error
}

var (
	_ repository.UserRepository       = (*memStore)(nil)
	_ repository.DailyStepsRepository = (*memStore)(nil)
)

func newMemStore(users ...*domain.User) *memStore {
	s := &memStore{
		users: map[string]*domain.User{},
		days:  map[string]map[time.Time]int64{},
	}
	for _, u := range users {
		s.users[u.ID] = u
	}
	return s
}

func cloneUser(u *domain.User) *domain.User {
	c := *u
	if u.AccessToken != nil {
		c.AccessToken = strPtr(*u.AccessToken)
	}
	if u.RefreshToken != nil {
		c.RefreshToken = strPtr(*u.RefreshToken)
	}
	if u.ProviderID != nil {
		c.ProviderID = strPtr(*u.ProviderID)
	}
	if u.TokenExpiresAt != nil {
		c.TokenExpiresAt = timePtr(*u.TokenExpiresAt)
	}
	return &c
}

func (s *memStore) user(id string) *domain.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u, ok := s.users[id]; ok {
		return cloneUser(u)
	}
	return nil
}

func (s *memStore) daySum(userID string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var sum int64
	for _, v := range s.days[userID] {
		sum += v
	}
	return sum
}

func (s *memStore) Create(ctx context.Context, user *domain.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, user.Email) {
			return repository.ErrDuplicateEmail
		}
	}
	if user.ID == "" {
		user.ID = uuid.New().String()
	}
	s.users[user.ID] = cloneUser(user)
	return nil
}

func (s *memStore) GetByID(ctx context.Context, id string) (*domain.User, error) {
	if u := s.user(id); u != nil {
		return u, nil
	}
	return nil, fmt.Errorf("user with id %s not found: %w", id, repository.ErrNotFound)
}

func (s *memStore) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if strings.EqualFold(u.Email, email) {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) GetByProviderID(ctx context.Context, providerID string) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.users {
		if u.ProviderID != nil && *u.ProviderID == providerID {
			return cloneUser(u), nil
		}
	}
	return nil, repository.ErrNotFound
}

func (s *memStore) UpdateAccessToken(ctx context.Context, userID, accessToken string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	s.accessTokenWrites.Add(1)
	u.AccessToken = strPtr(accessToken)
	u.TokenExpiresAt = timePtr(expiresAt)
	return nil
}

func (s *memStore) UpdateCredentials(ctx context.Context, userID, providerID, accessToken string, refreshToken *string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return repository.ErrNotFound
	}
	u.ProviderID = strPtr(providerID)
	u.AccessToken = strPtr(accessToken)
	if refreshToken != nil && *refreshToken != "" {
		u.RefreshToken = strPtr(*refreshToken)
	}
	u.TokenExpiresAt = timePtr(expiresAt)
	return nil
}

func (s *memStore) ListAll(ctx context.Context) ([]*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	users := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		users = append(users, cloneUser(u))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

func (s *memStore) ListLeaderboard(ctx context.Context, limit int) ([]*domain.LeaderboardEntry, error) {
	users, _ := s.ListAll(ctx)
	sort.SliceStable(users, func(i, j int) bool {
		if users[i].TotalSteps != users[j].TotalSteps {
			return users[i].TotalSteps > users[j].TotalSteps
		}
		return users[i].Name < users[j].Name
	})
	entries := []*domain.LeaderboardEntry{}
	for i, u := range users {
		if i == limit {
			break
		}
		entries = append(entries, &domain.LeaderboardEntry{Rank: i + 1, UserID: u.ID, Name: u.Name, TotalSteps: u.TotalSteps})
	}
	return entries, nil
}

func (s *memStore) UpsertDaily(ctx context.Context, userID string, day time.Time, steps int64) (*domain.DailyStepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	u, ok := s.users[userID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	date := domain.MidnightUTC(day)
	if s.days[userID] == nil {
		s.days[userID] = map[time.Time]int64{}
	}
	old := s.days[userID][date]
	s.days[userID][date] = steps
	u.TotalSteps += steps - old
	return &domain.DailyStepRecord{UserID: userID, Date: date, Steps: steps}, nil
}

func (s *memStore) ListByUser(ctx context.Context, userID string) ([]*domain.DailyStepRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	records := []*domain.DailyStepRecord{}
	for d, v := range s.days[userID] {
		records = append(records, &domain.DailyStepRecord{UserID: userID, Date: d, Steps: v})
	}
	sort.Slice(records, func(i, j int) bool { return records[i].Date.After(records[j].Date) })
	return records, nil
}

func (s *memStore) RecomputeTotal(ctx context.Context, userID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[userID]
	if !ok {
		return 0, repository.ErrNotFound
	}
	var sum int64
	for _, v := range s.days[userID] {
		sum += v
	}
	u.TotalSteps = sum
	return sum, nil
}

// fakeProvider answers FetchSteps from a function
type fakeProvider struct {
	calls atomic.Int32
	fetch func(token string, start time.Time) (int64, error)
}

func (p *fakeProvider) FetchSteps(ctx context.Context, accessToken string, start, end time.Time) (int64, error) {
	p.calls.Add(1)
	return p.fetch(accessToken, start)
}

// fakeRefresher answers refresh grants, optionally blocking until release is closed
type fakeRefresher struct {
	calls   atomic.Int32
	release chan struct{}
	token   *domain.RefreshedToken
	err     error
}

func (r *fakeRefresher) RefreshAccessToken(ctx context.Context, refreshToken string) (*domain.RefreshedToken, error) {
	r.calls.Add(1)
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
			return nil, &domain.RefreshFailedError{Message: ctx.Err().Error()}
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return r.token, nil
}

// fakeLocker counts acquisitions
type fakeLocker struct {
	mu       sync.Mutex
	acquired int
	released int
	err      error
}

func (l *fakeLocker) Acquire(ctx context.Context, userID string) (func(context.Context) error, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.err != nil {
		return nil, l.err
	}
	l.acquired++
	return func(context.Context) error {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.released++
		return nil
	}, nil
}

// healthyUser has a token valid for another hour
func healthyUser(id string) *domain.User {
	return &domain.User{
		ID:             id,
		Email:          id + "@example.com",
		Name:           id,
		AccessToken:    strPtr("access-" + id),
		RefreshToken:   strPtr("refresh-" + id),
		TokenExpiresAt: timePtr(testNow.Add(time.Hour)),
	}
}

// expiredUser has an expired token and a working refresh token
func expiredUser(id string) *domain.User {
	u := healthyUser(id)
	u.TokenExpiresAt = timePtr(testNow.Add(-time.Minute))
	return u
}
