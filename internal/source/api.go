package source

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vitalsink/vitalsink/internal/apperror"
)

// familyPaths maps each metric family to its per-day endpoint path. The
// date is appended as a query parameter.
var familyPaths = map[Family]string{
	FamilySteps:            "wellness/daily/steps",
	FamilyStats:            "wellness/daily/stats",
	FamilyHeartRate:        "wellness/daily/heart-rate",
	FamilyHRV:              "wellness/daily/hrv",
	FamilyStress:           "wellness/daily/stress",
	FamilySleep:            "wellness/daily/sleep",
	FamilyRestingHR:        "wellness/daily/resting-heart-rate",
	FamilyRespiration:      "wellness/daily/respiration",
	FamilyIntensityMinutes: "wellness/daily/intensity-minutes",
	FamilyBodyBattery:      "wellness/daily/body-battery",
	FamilySpO2:             "wellness/daily/spo2",
	FamilyMaxMetrics:       "metrics/maxmet",
	FamilyFitnessAge:       "metrics/fitness-age",
	FamilyFloors:           "wellness/daily/floors",
}

// APICaller speaks to the upstream wearable API. It holds the bearer token
// of the current session; the Guard owns session freshness and retries, so
// the caller reports failures as typed errors and nothing else.
type APICaller struct {
	baseURL  string
	email    string
	password string
	client   *http.Client

	token string
}

var _ Caller = (*APICaller)(nil)

func NewAPICaller(baseURL, email, password string) *APICaller {
	return &APICaller{
		baseURL:  baseURL,
		email:    email,
		password: password,
		client:   &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *APICaller) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"email":    c.email,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("encoding login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/auth/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return apperror.Wrap(err, apperror.ErrSourceUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return apperror.Wrap(fmt.Errorf("login returned %d", resp.StatusCode), apperror.ErrSourceRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return apperror.Wrap(fmt.Errorf("login returned %d", resp.StatusCode), apperror.ErrSourceAuth)
	case resp.StatusCode != http.StatusOK:
		return apperror.Wrap(fmt.Errorf("login returned %d", resp.StatusCode), apperror.ErrSourceUnavailable)
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return apperror.Wrap(fmt.Errorf("decoding login response: %w", err), apperror.ErrSourceUnavailable)
	}
	if session.Token == "" {
		return apperror.Wrap(fmt.Errorf("login response carried no token"), apperror.ErrSourceAuth)
	}

	c.token = session.Token
	return nil
}

func (c *APICaller) Call(ctx context.Context, family Family, day time.Time) (any, error) {
	path, ok := familyPaths[family]
	if !ok {
		return nil, fmt.Errorf("no endpoint for family %q", family)
	}

	url := fmt.Sprintf("%s/%s?date=%s", c.baseURL, path, day.Format("2006-01-02"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("building fetch request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, apperror.Wrap(err, apperror.ErrSourceUnavailable)
	}
	defer func() { _ = resp.Body.Close() }()

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, apperror.Wrap(fmt.Errorf("fetch returned %d", resp.StatusCode), apperror.ErrSourceRateLimited)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, apperror.Wrap(fmt.Errorf("fetch returned %d", resp.StatusCode), apperror.ErrSourceAuth)
	case resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound:
		return nil, nil
	case resp.StatusCode != http.StatusOK:
		return nil, apperror.Wrap(fmt.Errorf("fetch returned %d", resp.StatusCode), apperror.ErrSourceUnavailable)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperror.Wrap(fmt.Errorf("reading fetch response: %w", err), apperror.ErrSourceUnavailable)
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}

	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		return nil, apperror.Wrap(fmt.Errorf("decoding %s payload: %w", family, err), apperror.ErrMalformedPayload)
	}
	return payload, nil
}

// APIFactory wires a guard around one shared API caller. The upstream
// account is shared across configured users, so every user fetches through
// the same session and rate-limit state.
func APIFactory(baseURL, email, password string, state StateStore, policy RetryPolicy) Factory {
	caller := NewAPICaller(baseURL, email, password)
	guard := NewGuard(caller, state, policy)
	return func(userID int64) Client {
		return guard
	}
}
