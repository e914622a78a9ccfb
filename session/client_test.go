package session_test

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/jrsteele09/go-session-client/credentials"
	"github.com/jrsteele09/go-session-client/internal/apitest"
	"github.com/jrsteele09/go-session-client/session"
	"github.com/jrsteele09/go-session-client/tenant"
)

const (
	testAccessToken  = "access-1"
	testRefreshToken = "refresh-1"
	newAccessToken   = "access-2"
	newRefreshToken  = "refresh-2"
)

// testFixture holds the fake API, the injected stores and the client under test
type testFixture struct {
	api    *apitest.Server
	creds  *credentials.MemoryStore
	scope  *tenant.Scope
	client *session.Client
}

func setupTestFixture(t *testing.T, options ...session.Option) *testFixture {
	t.Helper()

	api := apitest.New(t, testAccessToken, testRefreshToken)
	creds := credentials.NewMemoryStore(credentials.Pair{
		AccessToken:  testAccessToken,
		RefreshToken: testRefreshToken,
	})
	scope := tenant.NewScope()

	client, err := session.New(session.Config{BaseURL: api.URL}, creds, scope, options...)
	require.NoError(t, err)

	return &testFixture{api: api, creds: creds, scope: scope, client: client}
}

func TestNew_Validation(t *testing.T) {
	creds := credentials.NewMemoryStore()

	t.Run("missing base URL", func(t *testing.T) {
		_, err := session.New(session.Config{}, creds, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "BaseURL is required")
	})

	t.Run("base URL without host", func(t *testing.T) {
		_, err := session.New(session.Config{BaseURL: "/just/a/path"}, creds, nil)
		require.Error(t, err)
	})

	t.Run("missing credentials store", func(t *testing.T) {
		_, err := session.New(session.Config{BaseURL: "http://localhost"}, nil, nil)
		require.Error(t, err)
		require.Contains(t, err.Error(), "credentials store is required")
	})
}

func TestClient_Request(t *testing.T) {
	t.Run("attaches bearer token and request id", func(t *testing.T) {
		f := setupTestFixture(t)

		body, err := f.client.Get(context.Background(), "/orders")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"ok": true}, body)

		header := f.api.LastResourceHeader()
		require.Equal(t, "Bearer "+testAccessToken, header.Get("Authorization"))
		require.NotEmpty(t, header.Get("X-Request-Id"))
	})

	t.Run("non-2xx non-401 surfaces RequestError without retry", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.SetResource(http.StatusInternalServerError, "application/json", `{"message":"boom"}`)

		_, err := f.client.Get(context.Background(), "/orders")
		require.Error(t, err)

		var reqErr *session.RequestError
		require.ErrorAs(t, err, &reqErr)
		require.Equal(t, http.StatusInternalServerError, reqErr.Status)
		require.Contains(t, reqErr.Body, "boom")
		require.Equal(t, 1, f.api.ResourceCalls())
		require.Equal(t, 0, f.api.RefreshCalls())
	})

	t.Run("caller content type is never overridden", func(t *testing.T) {
		f := setupTestFixture(t)

		req := &session.Request{
			Method: http.MethodPost,
			Path:   "/menu/import",
			Header: http.Header{"Content-Type": []string{"multipart/form-data; boundary=xyz"}},
			Body:   []byte("--xyz--"),
		}
		_, err := f.client.Do(context.Background(), req)
		require.NoError(t, err)
		require.Equal(t, "multipart/form-data; boundary=xyz", f.api.LastResourceHeader().Get("Content-Type"))
	})

	t.Run("struct bodies are sent as JSON", func(t *testing.T) {
		f := setupTestFixture(t)

		_, err := f.client.Post(context.Background(), "/discounts", map[string]any{"name": "happy hour"})
		require.NoError(t, err)
		require.Equal(t, "application/json", f.api.LastResourceHeader().Get("Content-Type"))
	})
}

func TestClient_ContentTypeDecoding(t *testing.T) {
	t.Run("json body decodes to generic value", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.SetResource(http.StatusOK, "application/json", `{"a":1}`)

		body, err := f.client.Get(context.Background(), "/report")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"a": float64(1)}, body)
	})

	t.Run("text body decodes to string", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.SetResource(http.StatusOK, "text/plain", "ok")

		body, err := f.client.Get(context.Background(), "/health")
		require.NoError(t, err)
		require.Equal(t, "ok", body)
	})

	t.Run("204 decodes to nil", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.SetResource(http.StatusNoContent, "", "")

		body, err := f.client.Delete(context.Background(), "/orders/42")
		require.NoError(t, err)
		require.Nil(t, body)
	})
}

func TestClient_TenantScope(t *testing.T) {
	t.Run("GET requests carry the selected scope", func(t *testing.T) {
		f := setupTestFixture(t)
		f.scope.Set("brand-42")

		_, err := f.client.Get(context.Background(), "/orders")
		require.NoError(t, err)
		require.Equal(t, []string{"brand-42"}, f.api.LastResourceQuery()["brandId"])
	})

	t.Run("scope already present in URL is not duplicated", func(t *testing.T) {
		f := setupTestFixture(t)
		f.scope.Set("brand-42")

		_, err := f.client.Get(context.Background(), "/orders?brandId=7")
		require.NoError(t, err)
		require.Equal(t, []string{"7"}, f.api.LastResourceQuery()["brandId"])
	})

	t.Run("unscoped sentinel attaches nothing", func(t *testing.T) {
		f := setupTestFixture(t)
		f.scope.Set(tenant.All)

		_, err := f.client.Get(context.Background(), "/orders")
		require.NoError(t, err)
		require.NotContains(t, f.api.LastResourceQuery(), "brandId")
	})

	t.Run("non-GET requests are never scoped", func(t *testing.T) {
		f := setupTestFixture(t)
		f.scope.Set("brand-42")

		_, err := f.client.Post(context.Background(), "/orders", map[string]any{"total": 10})
		require.NoError(t, err)
		require.NotContains(t, f.api.LastResourceQuery(), "brandId")
	})
}

func TestClient_RefreshRecovery(t *testing.T) {
	t.Run("expired token refreshes and replays once", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.ExpireAccessToken()
		f.api.RotateOnRefresh(newAccessToken, newRefreshToken)

		body, err := f.client.Get(context.Background(), "/orders")
		require.NoError(t, err)
		require.Equal(t, map[string]any{"ok": true}, body)

		require.Equal(t, 1, f.api.RefreshCalls())
		require.Equal(t, 2, f.api.ResourceCalls())
		require.Equal(t, testRefreshToken, f.api.LastRefreshToken())

		pair, err := f.creds.Get()
		require.NoError(t, err)
		require.Equal(t, credentials.Pair{AccessToken: newAccessToken, RefreshToken: newRefreshToken}, pair)
	})

	t.Run("old refresh token is retained when the server does not rotate it", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.ExpireAccessToken()
		f.api.RotateOnRefresh(newAccessToken, "")

		_, err := f.client.Get(context.Background(), "/orders")
		require.NoError(t, err)

		pair, err := f.creds.Get()
		require.NoError(t, err)
		require.Equal(t, credentials.Pair{AccessToken: newAccessToken, RefreshToken: testRefreshToken}, pair)
	})

	t.Run("second 401 after refresh is terminal without another refresh", func(t *testing.T) {
		f := setupTestFixture(t)
		f.api.RotateOnRefresh(newAccessToken, newRefreshToken)
		f.api.RejectResources()

		_, err := f.client.Get(context.Background(), "/orders")
		require.ErrorIs(t, err, session.ErrSessionExpired)
		require.Equal(t, 1, f.api.RefreshCalls())

		pair, err := f.creds.Get()
		require.NoError(t, err)
		require.True(t, pair.Empty())
	})
}

func TestClient_NonRecoverable401(t *testing.T) {
	f := setupTestFixture(t)
	ended := f.client.SessionEnded()
	f.api.SetFailureCode(session.ReasonInvalidToken)
	f.api.ExpireAccessToken()

	_, err := f.client.Get(context.Background(), "/orders")
	require.ErrorIs(t, err, session.ErrSessionExpired)

	// No refresh attempt for a non-expired reason code.
	require.Equal(t, 0, f.api.RefreshCalls())

	pair, err := f.creds.Get()
	require.NoError(t, err)
	require.True(t, pair.Empty())

	select {
	case <-ended:
	default:
		t.Fatal("expected a session-ended event")
	}

	require.Eventually(t, func() bool {
		return f.api.LogoutCalls() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClient_SingleFlightRefresh(t *testing.T) {
	f := setupTestFixture(t)
	f.api.ExpireAccessToken()
	f.api.RotateOnRefresh(newAccessToken, newRefreshToken)
	f.api.SetRefreshDelay(300 * time.Millisecond)

	const concurrent = 5
	results := make(chan error, concurrent)

	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.client.Get(context.Background(), "/orders")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		require.NoError(t, err)
	}
	require.Equal(t, 1, f.api.RefreshCalls())

	pair, err := f.creds.Get()
	require.NoError(t, err)
	require.Equal(t, credentials.Pair{AccessToken: newAccessToken, RefreshToken: newRefreshToken}, pair)
}

func TestClient_RefreshFailurePropagation(t *testing.T) {
	f := setupTestFixture(t)
	ended := f.client.SessionEnded()
	f.api.ExpireAccessToken()
	f.api.FailRefresh(http.StatusInternalServerError)
	f.api.SetRefreshDelay(300 * time.Millisecond)

	const concurrent = 5
	results := make(chan error, concurrent)

	var wg sync.WaitGroup
	for i := 0; i < concurrent; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.client.Get(context.Background(), "/orders")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	for err := range results {
		require.ErrorIs(t, err, session.ErrSessionExpired)
		require.ErrorIs(t, err, session.ErrRefreshFailed)
	}
	require.Equal(t, 1, f.api.RefreshCalls())

	pair, err := f.creds.Get()
	require.NoError(t, err)
	require.True(t, pair.Empty())

	// All five failures collapse into one expiry episode: one event, one
	// best-effort logout.
	select {
	case <-ended:
	default:
		t.Fatal("expected a session-ended event")
	}
	select {
	case <-ended:
		t.Fatal("expected exactly one session-ended event")
	default:
	}
	require.Eventually(t, func() bool {
		return f.api.LogoutCalls() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestClient_SetCredentials(t *testing.T) {
	f := setupTestFixture(t)
	ended := f.client.SessionEnded()
	f.api.SetFailureCode(session.ReasonInvalidToken)
	f.api.ExpireAccessToken()

	_, err := f.client.Get(context.Background(), "/orders")
	require.ErrorIs(t, err, session.ErrSessionExpired)
	<-ended

	// A fresh login re-arms the notifier for the next expiry episode.
	require.NoError(t, f.client.SetCredentials(credentials.Pair{
		AccessToken:  newAccessToken,
		RefreshToken: newRefreshToken,
	}))

	_, err = f.client.Get(context.Background(), "/orders")
	require.ErrorIs(t, err, session.ErrSessionExpired)

	select {
	case <-ended:
	default:
		t.Fatal("expected a second session-ended event after re-login")
	}
}

func TestClient_PreemptiveRefresh(t *testing.T) {
	nearExpiry := signedToken(t, time.Now().Add(10*time.Second))

	api := apitest.New(t, nearExpiry, testRefreshToken)
	api.RotateOnRefresh(newAccessToken, newRefreshToken)
	creds := credentials.NewMemoryStore(credentials.Pair{
		AccessToken:  nearExpiry,
		RefreshToken: testRefreshToken,
	})

	client, err := session.New(session.Config{BaseURL: api.URL}, creds, nil,
		session.WithExpiryBuffer(30*time.Second))
	require.NoError(t, err)

	body, err := client.Get(context.Background(), "/orders")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"ok": true}, body)

	// The refresh happened before the resource round trip, so the resource
	// saw exactly one request, already carrying the new token.
	require.Equal(t, 1, api.RefreshCalls())
	require.Equal(t, 1, api.ResourceCalls())
	require.Equal(t, "Bearer "+newAccessToken, api.LastResourceHeader().Get("Authorization"))
}

func signedToken(t *testing.T, expiresAt time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(expiresAt),
	})
	signed, err := token.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return signed
}

func TestClient_NetworkErrorPropagates(t *testing.T) {
	creds := credentials.NewMemoryStore(credentials.Pair{AccessToken: testAccessToken})
	client, err := session.New(session.Config{
		BaseURL:     "http://127.0.0.1:1", // nothing listens here
		HTTPTimeout: 200 * time.Millisecond,
	}, creds, nil)
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "/orders")
	require.Error(t, err)
	require.False(t, errors.Is(err, session.ErrSessionExpired))
}
