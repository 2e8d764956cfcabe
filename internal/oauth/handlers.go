// Package oauth serves the web side of account linking: the link redirect and the Lichess callback.
package oauth

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/parsascontentcorner/liro/internal/auth"
)

// ChallengeFinder resolves linking challenges
type ChallengeFinder interface {
	Find(ctx context.Context, id uint64) (*auth.Challenge, error)
}

// CallbackHandler completes a link from the OAuth callback parameters
type CallbackHandler interface {
	HandleCallback(ctx context.Context, code, state string) (*auth.LinkResult, error)
}

// HealthChecker reports whether a dependency is usable
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Handlers contains all HTTP handlers
type Handlers struct {
	challenges ChallengeFinder
	callback   CallbackHandler
	health     HealthChecker
	logger     *zap.Logger
}

// NewHandlers creates a new handlers instance. health may be nil.
func NewHandlers(challenges ChallengeFinder, callback CallbackHandler, health HealthChecker, logger *zap.Logger) *Handlers {
	return &Handlers{
		challenges: challenges,
		callback:   callback,
		health:     health,
		logger:     logger,
	}
}

// HealthHandler handles health check requests
func (h *Handlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "store unavailable", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	if _, err := w.Write([]byte("OK")); err != nil {
		h.logger.Error("failed to write health check response", zap.Error(err))
	}
}

// ConnectHandler redirects the user to Lichess for the challenge in the path
func (h *Handlers) ConnectHandler(w http.ResponseWriter, r *http.Request) {
	id, err := auth.ParseState(r.PathValue("id"))
	if err != nil {
		h.renderError(w, http.StatusBadRequest, "Invalid link", "This linking URL is not valid. Run the account command again to get a new one.")
		return
	}

	challenge, err := h.challenges.Find(r.Context(), id)
	switch {
	case errors.Is(err, auth.ErrChallengeNotFound), errors.Is(err, auth.ErrChallengeExpired):
		h.renderError(w, http.StatusBadRequest, "Link expired", "This linking URL has expired or was never issued. Run the account command again to get a new one.")
		return
	case err != nil:
		h.logger.Error("failed to load challenge", zap.Uint64("challenge_id", id), zap.Error(err))
		h.renderError(w, http.StatusInternalServerError, "Something went wrong", "We could not start linking right now. Please try again later.")
		return
	}

	h.logger.Debug("redirecting to lichess",
		zap.Uint64("challenge_id", challenge.ID),
		zap.Uint64("account_id", challenge.AccountID),
	)

	http.Redirect(w, r, challenge.AuthorizationURL(), http.StatusFound)
}

// CallbackHandler handles the OAuth callback from Lichess
func (h *Handlers) CallbackHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	code := query.Get("code")
	state := query.Get("state")

	// Lichess reports a denied or failed authorization with an error parameter
	if errParam := query.Get("error"); errParam != "" {
		errDesc := query.Get("error_description")
		h.logger.Info("oauth error from lichess",
			zap.String("error", errParam),
			zap.String("description", errDesc),
		)
		message := "Lichess did not authorize the link."
		if errDesc != "" {
			message = fmt.Sprintf("Lichess returned an error: %s", errDesc)
		}
		h.renderError(w, http.StatusBadRequest, "Linking cancelled", message)
		return
	}

	if code == "" || state == "" {
		h.logger.Warn("missing required parameters", zap.Bool("has_code", code != ""), zap.Bool("has_state", state != ""))
		h.renderError(w, http.StatusBadRequest, "Invalid request", "Missing required parameters (code or state).")
		return
	}

	result, err := h.callback.HandleCallback(r.Context(), code, state)
	if err != nil {
		switch {
		case errors.Is(err, auth.ErrSessionInvalid):
			h.renderError(w, http.StatusBadRequest, "Link expired", "This linking session is no longer valid. Run the account command again to get a new link.")
		case errors.Is(err, auth.ErrExternalService):
			h.renderError(w, http.StatusBadGateway, "Lichess is unavailable", "We could not reach Lichess to finish linking. Please try again in a few minutes.")
		default:
			h.renderError(w, http.StatusInternalServerError, "Something went wrong", "We could not finish linking your account. Please try again later.")
		}
		return
	}

	h.render(w, http.StatusOK, page{
		Title:   "Account linked!",
		Lines:   successLines(result),
		Success: true,
	})
}

func successLines(result *auth.LinkResult) []string {
	lines := []string{fmt.Sprintf("Your Discord account is now linked to Lichess user %s.", result.LichessUsername)}

	switch {
	case !result.Rated:
		lines = append(lines, "You have no established rating yet, so no rating role was assigned.")
	case result.Tier != "":
		lines = append(lines, fmt.Sprintf("Your %s rating is %d, which puts you in the %s tier.", result.Perf, result.Rating, result.Tier))
	default:
		lines = append(lines, fmt.Sprintf("Your %s rating is %d.", result.Perf, result.Rating))
	}

	if result.RoleSyncErr != nil {
		lines = append(lines, "We could not update your server role right now. Use the rating command to try again.")
	}
	return lines
}
