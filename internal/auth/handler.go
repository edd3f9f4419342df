package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
)

var nationalIDRegex = regexp.MustCompile(`^[0-9]{1,10}$`)

const (
	maxJSONBodyBytes  = 1 << 20
	maxSecretLength   = 200
	accessCookieName  = "access_token"
	refreshCookieName = "refresh_token"
)

type Handler struct {
	service *Service
}

func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

type loginRequest struct {
	NationalID string `json:"national_id"`
	Password   string `json:"password"`
	Role       string `json:"role,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	var body loginRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	body.NationalID = strings.TrimSpace(body.NationalID)
	if !nationalIDRegex.MatchString(body.NationalID) {
		writeError(w, http.StatusBadRequest, "national id format is invalid")
		return
	}
	if body.Password == "" || len(body.Password) > maxSecretLength {
		writeError(w, http.StatusBadRequest, "password format is invalid")
		return
	}

	result, err := h.service.Login(r.Context(), body.NationalID, body.Password, body.Role)
	if err != nil {
		h.writeLoginError(w, err)
		return
	}

	h.setSessionCookies(w, result.Tokens)
	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) Refresh(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	tokens, err := h.service.Refresh(r.Context(), h.presentedRefreshToken(r))
	if err != nil {
		if errors.Is(err, ErrInvalidSession) {
			writeError(w, http.StatusUnauthorized, "invalid session")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to refresh session")
		return
	}

	h.setSessionCookies(w, tokens)
	writeJSON(w, http.StatusOK, tokens)
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)

	err := h.service.Logout(r.Context(), h.presentedRefreshToken(r))
	if err != nil && !errors.Is(err, ErrInvalidSession) {
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to logout")
		return
	}

	h.clearSessionCookies(w)
	w.WriteHeader(http.StatusNoContent)
}

// Me echoes the verified access-token claims. Mounted behind
// Middleware, which put the claims on the context.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	claims, ok := ClaimsFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "missing authorization token")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"account_id":  claims.AccountID,
		"national_id": claims.NationalID,
		"role":        claims.Role,
		"issued_at":   claims.IssuedAt.Format(time.RFC3339),
		"expires_at":  claims.ExpiresAt.Format(time.RFC3339),
	})
}

func (h *Handler) writeLoginError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrInvalidCredentials):
		writeError(w, http.StatusUnauthorized, "invalid credentials")
	case errors.Is(err, ErrAccountDisabled):
		writeError(w, http.StatusForbidden, "account disabled")
	default:
		var locked ErrAccountLocked
		if errors.As(err, &locked) {
			retryAfter := int(time.Until(locked.Until).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
			writeError(w, http.StatusTooManyRequests, "account temporarily locked")
			return
		}
		sentry.CaptureException(err)
		writeError(w, http.StatusInternalServerError, "failed to login")
	}
}

// presentedRefreshToken reads the token from the JSON body, falling
// back to the session cookie for browser clients.
func (h *Handler) presentedRefreshToken(r *http.Request) string {
	var body refreshRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&body); err == nil {
		if token := strings.TrimSpace(body.RefreshToken); token != "" {
			return token
		}
	}

	if cookie, err := r.Cookie(refreshCookieName); err == nil {
		return strings.TrimSpace(cookie.Value)
	}

	return ""
}

func (h *Handler) setSessionCookies(w http.ResponseWriter, tokens Tokens) {
	issuer := h.service.Issuer()
	http.SetCookie(w, &http.Cookie{
		Name:     accessCookieName,
		Value:    tokens.AccessToken,
		Path:     "/",
		MaxAge:   int(issuer.AccessTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name:     refreshCookieName,
		Value:    tokens.RefreshToken,
		Path:     "/auth",
		MaxAge:   int(issuer.RefreshTTL().Seconds()),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteStrictMode,
	})
}

func (h *Handler) clearSessionCookies(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name: accessCookieName, Value: "", Path: "/", MaxAge: -1,
		HttpOnly: true, Secure: true, SameSite: http.SameSiteStrictMode,
	})
	http.SetCookie(w, &http.Cookie{
		Name: refreshCookieName, Value: "", Path: "/auth", MaxAge: -1,
		HttpOnly: true, Secure: true, SameSite: http.SameSiteStrictMode,
	})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
