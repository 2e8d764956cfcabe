package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
)

// Codes and tokens understood by MockLichessServer
const (
	LichessValidCode      = "valid_code"
	LichessUnratedCode    = "unrated_code"
	LichessErrorCode      = "error_code"
	LichessServerErrCode  = "server_error"
	LichessAccessToken    = "mock_access_token_123"
	LichessUnratedToken   = "mock_unrated_token"
	LichessRateLimitToken = "rate_limited"
)

// MockLichessServer is a fake Lichess OAuth and account API
type MockLichessServer struct {
	Server *httptest.Server

	mu           sync.Mutex
	tokenCalls   int
	accountCalls int
	lastVerifier string
	lastRedirect string
}

// LichessTokenResponse is the token endpoint response
type LichessTokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// LichessErrorResponse is an OAuth error response
type LichessErrorResponse struct {
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description,omitempty"`
}

// NewMockLichessServer starts the mock. Account "magnus" has blitz 2850 and a provisional bullet rating.
func NewMockLichessServer() *MockLichessServer {
	mls := &MockLichessServer{}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/token", func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		mls.mu.Lock()
		mls.tokenCalls++
		mls.lastVerifier = r.FormValue("code_verifier")
		mls.lastRedirect = r.FormValue("redirect_uri")
		mls.mu.Unlock()

		if r.FormValue("grant_type") != "authorization_code" || r.FormValue("code_verifier") == "" {
			writeJSON(w, http.StatusBadRequest, LichessErrorResponse{Error: "invalid_request"})
			return
		}

		switch r.FormValue("code") {
		case LichessValidCode:
			writeJSON(w, http.StatusOK, LichessTokenResponse{
				AccessToken: LichessAccessToken,
				TokenType:   "Bearer",
				ExpiresIn:   31536000,
			})
		case LichessUnratedCode:
			writeJSON(w, http.StatusOK, LichessTokenResponse{
				AccessToken: LichessUnratedToken,
				TokenType:   "Bearer",
				ExpiresIn:   31536000,
			})
		case LichessServerErrCode:
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte("Internal Server Error"))
		default:
			writeJSON(w, http.StatusBadRequest, LichessErrorResponse{
				Error:            "invalid_grant",
				ErrorDescription: "authorization code invalid or expired",
			})
		}
	})

	mux.HandleFunc("GET /api/account", func(w http.ResponseWriter, r *http.Request) {
		mls.mu.Lock()
		mls.accountCalls++
		mls.mu.Unlock()

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeJSON(w, http.StatusUnauthorized, LichessErrorResponse{Error: "No such token"})
			return
		}

		switch token {
		case LichessAccessToken:
			writeJSON(w, http.StatusOK, map[string]any{
				"id":       "magnus",
				"username": "Magnus",
				"perfs": map[string]any{
					"bullet": map[string]any{"games": 3, "rating": 3100, "rd": 150, "prog": 0, "prov": true},
					"blitz":  map[string]any{"games": 900, "rating": 2850, "rd": 45, "prog": 12},
					"rapid":  map[string]any{"games": 40, "rating": 2700, "rd": 60, "prog": -4},
				},
			})
		case LichessUnratedToken:
			writeJSON(w, http.StatusOK, map[string]any{
				"id":       "newcomer",
				"username": "Newcomer",
				"perfs": map[string]any{
					"blitz": map[string]any{"games": 2, "rating": 1500, "rd": 350, "prog": 0, "prov": true},
				},
			})
		case LichessRateLimitToken:
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			writeJSON(w, http.StatusUnauthorized, LichessErrorResponse{Error: "No such token"})
		}
	})

	mls.Server = httptest.NewServer(mux)
	return mls
}

// URL returns the base URL to configure as the Lichess host
func (mls *MockLichessServer) URL() string {
	return mls.Server.URL
}

// Close closes the mock server.
func (mls *MockLichessServer) Close() {
	mls.Server.Close()
}

// TokenCalls returns the number of token exchanges
func (mls *MockLichessServer) TokenCalls() int {
	mls.mu.Lock()
	defer mls.mu.Unlock()
	return mls.tokenCalls
}

// AccountCalls returns the number of account lookups
func (mls *MockLichessServer) AccountCalls() int {
	mls.mu.Lock()
	defer mls.mu.Unlock()
	return mls.accountCalls
}

// LastVerifier returns the code_verifier sent with the most recent token exchange
func (mls *MockLichessServer) LastVerifier() string {
	mls.mu.Lock()
	defer mls.mu.Unlock()
	return mls.lastVerifier
}

// LastRedirectURI returns the redirect_uri sent with the most recent token exchange
func (mls *MockLichessServer) LastRedirectURI() string {
	mls.mu.Lock()
	defer mls.mu.Unlock()
	return mls.lastRedirect
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
