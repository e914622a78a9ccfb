// Package apitest provides an in-process fake of the back-office API for
// exercising the session client: a refresh endpoint with configurable
// outcomes, a logout endpoint, and authenticated resources that answer 401
// with machine-readable reason codes.
package apitest

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jrsteele09/go-session-client/internal/utils"
)

const (
	RefreshPath = "/auth/refresh"
	LogoutPath  = "/auth/logout"
)

// tokenResponse mirrors the OAuth2 token endpoint response shape.
type tokenResponse struct {
	AccessToken  *string `json:"access_token,omitempty"`
	RefreshToken *string `json:"refresh_token,omitempty"`
	TokenType    string  `json:"token_type,omitempty"`
}

// Server is a fake back-office API. All knobs and counters are safe for
// concurrent use, so tests can hammer it from many goroutines.
type Server struct {
	*httptest.Server

	mu sync.Mutex

	validAccess  string
	validRefresh string
	nextAccess   string
	nextRefresh  string // empty: the refresh response omits the field

	refreshStatus int // non-zero: the refresh endpoint fails with this status
	refreshDelay  time.Duration
	failureCode   string
	rejectAll     bool

	resourceStatus      int
	resourceContentType string
	resourceBody        string

	refreshCalls  int
	logoutCalls   int
	resourceCalls int

	lastResourceQuery  url.Values
	lastResourceHeader http.Header
	lastRefreshToken   string
}

// New starts a fake API accepting accessToken/refreshToken as the current
// valid credential pair. The server is shut down when the test finishes.
func New(t *testing.T, accessToken, refreshToken string) *Server {
	t.Helper()

	s := &Server{
		validAccess:         accessToken,
		validRefresh:        refreshToken,
		failureCode:         "TOKEN_EXPIRED",
		resourceStatus:      http.StatusOK,
		resourceContentType: "application/json",
		resourceBody:        `{"ok":true}`,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST "+RefreshPath, s.handleRefresh)
	mux.HandleFunc("POST "+LogoutPath, s.handleLogout)
	mux.HandleFunc("/", s.handleResource)

	s.Server = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

// RotateOnRefresh configures the tokens issued by the next successful
// refresh. An empty refreshToken means the response omits the field and the
// old refresh token stays valid.
func (s *Server) RotateOnRefresh(accessToken, refreshToken string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextAccess = accessToken
	s.nextRefresh = refreshToken
}

// FailRefresh makes the refresh endpoint answer with the given status.
func (s *Server) FailRefresh(status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshStatus = status
}

// SetRefreshDelay holds every refresh response for d, widening the window in
// which concurrent callers must share a single in-flight refresh.
func (s *Server) SetRefreshDelay(d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refreshDelay = d
}

// SetFailureCode sets the reason code carried in 401 resource responses.
func (s *Server) SetFailureCode(code string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failureCode = code
}

// SetResource configures the response of every authenticated resource.
func (s *Server) SetResource(status int, contentType, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resourceStatus = status
	s.resourceContentType = contentType
	s.resourceBody = body
}

// ExpireAccessToken invalidates the currently accepted access token without
// touching the refresh token, so the next resource request answers 401.
func (s *Server) ExpireAccessToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validAccess = ""
}

// RejectResources makes every resource request answer 401 with the configured
// failure code, no matter which token it carries.
func (s *Server) RejectResources() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rejectAll = true
}

func (s *Server) RefreshCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshCalls
}

func (s *Server) LogoutCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.logoutCalls
}

func (s *Server) ResourceCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resourceCalls
}

// LastResourceQuery returns the query of the most recent resource request.
func (s *Server) LastResourceQuery() url.Values {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResourceQuery
}

// LastResourceHeader returns the headers of the most recent resource request.
func (s *Server) LastResourceHeader() http.Header {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastResourceHeader
}

// LastRefreshToken returns the refresh token received by the most recent
// refresh call.
func (s *Server) LastRefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastRefreshToken
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = json.NewDecoder(r.Body).Decode(&payload)

	s.mu.Lock()
	s.refreshCalls++
	s.lastRefreshToken = payload.RefreshToken
	delay := s.refreshDelay
	failStatus := s.refreshStatus
	validRefresh := s.validRefresh
	s.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}

	if failStatus != 0 {
		writeJSON(w, failStatus, map[string]string{"message": "refresh unavailable"})
		return
	}
	if payload.RefreshToken == "" || payload.RefreshToken != validRefresh {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": "INVALID_TOKEN"})
		return
	}

	s.mu.Lock()
	s.validAccess = s.nextAccess
	resp := tokenResponse{
		AccessToken: utils.Ptr(s.nextAccess),
		TokenType:   "bearer",
	}
	if s.nextRefresh != "" {
		s.validRefresh = s.nextRefresh
		resp.RefreshToken = utils.Ptr(s.nextRefresh)
	}
	s.mu.Unlock()

	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.logoutCalls++
	s.mu.Unlock()
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResource(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	s.resourceCalls++
	s.lastResourceQuery = r.URL.Query()
	s.lastResourceHeader = r.Header.Clone()
	validAccess := s.validAccess
	code := s.failureCode
	status := s.resourceStatus
	contentType := s.resourceContentType
	body := s.resourceBody
	rejectAll := s.rejectAll
	s.mu.Unlock()

	token := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
	if rejectAll || validAccess == "" || token != validAccess {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"code": code})
		return
	}

	if status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
