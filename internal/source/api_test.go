package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vitalsink/vitalsink/internal/apperror"
)

func apiDay() time.Time {
	return time.Date(2026, 8, 15, 0, 0, 0, 0, time.UTC)
}

func TestAPICaller_LoginStoresToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/auth/login", r.URL.Path)
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"token": "tok-123"}`))
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	require.NoError(t, c.Login(context.Background()))
	assert.Equal(t, "tok-123", c.token)
}

func TestAPICaller_LoginRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	err := c.Login(context.Background())
	assert.True(t, apperror.Is(err, apperror.ErrSourceRateLimited))
}

func TestAPICaller_LoginBadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "wrong")
	err := c.Login(context.Background())
	assert.True(t, apperror.Is(err, apperror.ErrSourceAuth))
}

func TestAPICaller_LoginEmptyToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	err := c.Login(context.Background())
	assert.True(t, apperror.Is(err, apperror.ErrSourceAuth))
}

func TestAPICaller_CallReturnsPayload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/wellness/daily/steps", r.URL.Path)
		require.Equal(t, "2026-08-15", r.URL.Query().Get("date"))
		require.Equal(t, "Bearer tok-123", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"totalSteps": 9400}`))
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	c.token = "tok-123"

	payload, err := c.Call(context.Background(), FamilySteps, apiDay())
	require.NoError(t, err)

	obj, ok := payload.(map[string]any)
	require.True(t, ok)
	assert.InDelta(t, 9400.0, obj["totalSteps"], 1e-9)
}

func TestAPICaller_CallNoData(t *testing.T) {
	for _, status := range []int{http.StatusNoContent, http.StatusNotFound} {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(status)
		}))

		c := NewAPICaller(srv.URL, "ops@example.com", "secret")
		payload, err := c.Call(context.Background(), FamilySleep, apiDay())
		require.NoError(t, err)
		assert.Nil(t, payload)
		srv.Close()
	}
}

func TestAPICaller_CallExpiredSession(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	_, err := c.Call(context.Background(), FamilyStress, apiDay())
	assert.True(t, apperror.Is(err, apperror.ErrSourceAuth))
}

func TestAPICaller_CallRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	_, err := c.Call(context.Background(), FamilyHRV, apiDay())
	assert.True(t, apperror.Is(err, apperror.ErrSourceRateLimited))
}

func TestAPICaller_CallMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{broken`))
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	_, err := c.Call(context.Background(), FamilySteps, apiDay())
	assert.True(t, apperror.Is(err, apperror.ErrMalformedPayload))
}

func TestAPICaller_CallEmptyBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewAPICaller(srv.URL, "ops@example.com", "secret")
	payload, err := c.Call(context.Background(), FamilySteps, apiDay())
	require.NoError(t, err)
	assert.Nil(t, payload)
}

func TestAPIFactory_SharesGuardAcrossUsers(t *testing.T) {
	factory := APIFactory("https://api.example.com", "ops@example.com", "secret",
		NewMemoryStateStore(), DefaultRetryPolicy())

	a := factory(1)
	b := factory(2)
	assert.Same(t, a, b, "users share one session-guarded client")
}

func TestFamilyPaths_CoverAllFamilies(t *testing.T) {
	for _, family := range Families() {
		_, ok := familyPaths[family]
		assert.True(t, ok, "family %q has no endpoint path", family)
	}
}
