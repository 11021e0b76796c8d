package acceptance

import (
	"bytes"
	"encoding/json"
	"net/http"
	"time"

	"github.com/prperemyshlev/step-sync-service/internal/domain"
	"github.com/prperemyshlev/step-sync-service/internal/dto"
)

func (s *Suite) request(method, path, auth string, body any) *http.Response {
	var buf bytes.Buffer
	if body != nil {
		s.Require().NoError(json.NewEncoder(&buf).Encode(body))
	}

	req, err := http.NewRequest(method, s.BaseURL+path, &buf)
	s.Require().NoError(err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}

	resp, err := http.DefaultClient.Do(req)
	s.Require().NoError(err)
	return resp
}

func (s *Suite) decode(resp *http.Response, v any) {
	defer resp.Body.Close()
	s.Require().NoError(json.NewDecoder(resp.Body).Decode(v))
}

func (s *Suite) linkUser(providerID, email, refreshToken string) string {
	resp := s.request(http.MethodPost, "/internal/credentials", s.Operator, dto.CredentialsRequest{
		ProviderID:   providerID,
		Email:        email,
		Name:         providerID,
		AccessToken:  "initial-" + providerID,
		RefreshToken: refreshToken,
		ExpiresIn:    3600,
	})
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var user dto.LinkedUserResponse
	s.decode(resp, &user)
	s.Require().NotEmpty(user.ID)
	return user.ID
}

func (s *Suite) totalSteps(userID string) int64 {
	var total int64
	err := s.Postgres.DB.QueryRow("SELECT total_steps FROM users WHERE id = $1", userID).Scan(&total)
	s.Require().NoError(err)
	return total
}

func (s *Suite) TestLinkCredentialsRequiresOperator() {
	resp := s.request(http.MethodPost, "/internal/credentials", "", dto.CredentialsRequest{
		ProviderID:  "g-1",
		Email:       "ann@example.com",
		AccessToken: "at",
	})
	defer resp.Body.Close()

	s.Equal(http.StatusUnauthorized, resp.StatusCode)
}

func (s *Suite) TestRelinkKeepsUserAndRefreshToken() {
	first := s.linkUser("g-1", "ann@example.com", "rt-1")
	second := s.linkUser("g-1", "ANN@example.com", "")
	s.Equal(first, second)

	var refresh string
	err := s.Postgres.DB.QueryRow("SELECT refresh_token FROM users WHERE id = $1", first).Scan(&refresh)
	s.Require().NoError(err)
	s.Equal("rt-1", refresh)
}

func (s *Suite) TestSyncUserStoresYesterday() {
	userID := s.linkUser("g-1", "ann@example.com", "rt-1")
	s.Google.steps.Store(7423)

	resp := s.request(http.MethodPut, "/steps/sync/"+userID, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var record dto.DailyStepsResponse
	s.decode(resp, &record)
	s.Equal(int64(7423), record.Steps)
	s.Equal(domain.DaysAgo(time.Now(), 1).Format(dto.DateLayout), record.Date)

	s.Google.steps.Store(8000)
	resp = s.request(http.MethodPut, "/steps/sync/"+userID, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	s.Equal(int64(8000), s.totalSteps(userID))

	resp = s.request(http.MethodGet, "/steps/"+userID, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var records []dto.DailyStepsResponse
	s.decode(resp, &records)
	s.Len(records, 1)
}

func (s *Suite) TestSyncUserRefreshesAfterUnauthorized() {
	userID := s.linkUser("g-1", "ann@example.com", "rt-1")
	s.Google.validToken.Store("only-a-refreshed-token-works")
	s.Google.steps.Store(12000)

	resp := s.request(http.MethodPut, "/steps/sync/"+userID, "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	s.Equal(int32(1), s.Google.refreshCalls.Load())
	s.Equal(int64(12000), s.totalSteps(userID))

	resp = s.request(http.MethodGet, "/users/"+userID+"/credentials/status", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var status domain.CredentialStatus
	s.decode(resp, &status)
	s.Equal(domain.CredentialStateHealthy, status.State)
	s.True(status.HasRefreshToken)
}

func (s *Suite) TestSyncUserRevokedRefreshWritesNothing() {
	userID := s.linkUser("g-1", "ann@example.com", "rt-1")
	s.Google.validToken.Store("unreachable")
	s.Google.revoked.Store(true)
	s.Google.steps.Store(100)

	resp := s.request(http.MethodPut, "/steps/sync/"+userID, "", nil)
	defer resp.Body.Close()

	s.Equal(http.StatusUnauthorized, resp.StatusCode)
	s.Zero(s.totalSteps(userID))

	var count int
	err := s.Postgres.DB.QueryRow("SELECT COUNT(*) FROM daily_steps WHERE user_id = $1", userID).Scan(&count)
	s.Require().NoError(err)
	s.Zero(count)
}

func (s *Suite) TestSyncHistoryBackfillsAndRecomputes() {
	userID := s.linkUser("g-1", "ann@example.com", "rt-1")
	s.Google.steps.Store(500)

	resp := s.request(http.MethodGet, "/steps/sync-history/"+userID+"?days=3", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var result dto.BackfillResponse
	s.decode(resp, &result)
	s.Equal(3, result.Synced)
	s.Len(result.Records, 3)
	s.Equal(int64(1500), s.totalSteps(userID))

	_, err := s.Postgres.DB.Exec("UPDATE users SET total_steps = 0 WHERE id = $1", userID)
	s.Require().NoError(err)

	resp = s.request(http.MethodPost, "/steps/"+userID+"/recompute", s.Operator, nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var recomputed dto.RecomputeResponse
	s.decode(resp, &recomputed)
	s.Equal(int64(1500), recomputed.TotalSteps)
}

func (s *Suite) TestSyncAllAndLeaderboard() {
	ann := s.linkUser("g-1", "ann@example.com", "rt-1")
	bob := s.linkUser("g-2", "bob@example.com", "rt-2")
	s.Google.steps.Store(4000)

	resp := s.request(http.MethodPost, "/steps/sync-all", "", nil)
	resp.Body.Close()
	s.Equal(http.StatusUnauthorized, resp.StatusCode)

	resp = s.request(http.MethodPost, "/steps/sync-all", s.Operator, nil)
	s.Require().Equal(http.StatusAccepted, resp.StatusCode)

	var ack dto.SyncAllResponse
	s.decode(resp, &ack)
	s.NotEmpty(ack.Message)
	s.False(ack.Timestamp.IsZero())

	s.Eventually(func() bool {
		return s.totalSteps(ann) == 4000 && s.totalSteps(bob) == 4000
	}, 5*time.Second, 50*time.Millisecond)

	resp = s.request(http.MethodGet, "/leaderboard?limit=10", "", nil)
	s.Require().Equal(http.StatusOK, resp.StatusCode)

	var entries []domain.LeaderboardEntry
	s.decode(resp, &entries)
	s.Require().Len(entries, 2)
	s.Equal(1, entries[0].Rank)
	s.Equal("g-1", entries[0].Name)
	s.Equal(2, entries[1].Rank)
}

func (s *Suite) TestUnknownUserIsNotFound() {
	resp := s.request(http.MethodPut, "/steps/sync/00000000-0000-0000-0000-000000000000", "", nil)
	defer resp.Body.Close()

	s.Equal(http.StatusNotFound, resp.StatusCode)
}
