package auth

import (
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/dropforge/sessiongate/internal/ratelimit"
	"github.com/dropforge/sessiongate/internal/session"
)

const (
	// userIDCookieName is deliberately not HttpOnly: client-side scripts
	// read the current identity from it without a round trip. It carries
	// no secret, only the provider user id; the session itself stays
	// server-side.
	userIDCookieName = "user_id"
	userIDCookieTTL  = 7 * 24 * time.Hour

	csrfHeaderName = "X-CSRF-Token"
)

type callbackRequest struct {
	User PrivyUser `json:"user"`
}

type userResponse struct {
	ID            string `json:"id"`
	Email         string `json:"email,omitempty"`
	WalletAddress string `json:"walletAddress,omitempty"`
	Role          string `json:"role,omitempty"`
}

// Callback handles the post-login round trip: the client presents its
// provider access token plus the provider user object, and gets back an
// application session, a CSRF token and the user_id cookie.
func (s *Service) Callback(c echo.Context) error {
	token := bearerToken(c.Request())
	if token == "" {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "missing access token", "code": "UNAUTHORIZED"})
	}

	claims, err := s.verifier.VerifyAccessToken(token)
	if err != nil {
		log.Printf("auth: token verification failed error=%v", err)
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "invalid access token", "code": "UNAUTHORIZED"})
	}

	var req callbackRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{"error": "malformed payload", "code": "BAD_REQUEST"})
	}
	if strings.TrimSpace(req.User.ID) == "" || req.User.ID != claims.Subject {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "token subject mismatch", "code": "UNAUTHORIZED"})
	}

	ctx := c.Request().Context()
	u, err := s.HandlePrivyAuth(ctx, req.User)
	if err != nil {
		return c.JSON(http.StatusBadGateway, map[string]string{"error": "could not provision user, please try again", "code": "PROVISIONING_FAILED"})
	}

	userAgent := c.Request().UserAgent()
	ip := ratelimit.ClientIP(c.Request().Header)
	_, csrfToken, err := s.createSession(ctx, u, req.User, userAgent, ip)
	if err != nil {
		log.Printf("auth: session creation failed user=%s error=%v", u.PrivyID, err)
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "could not create session", "code": "SESSION_FAILED"})
	}

	s.setUserIDCookie(c, u.PrivyID)

	return c.JSON(http.StatusOK, map[string]any{
		"user": userResponse{
			ID:            u.PrivyID,
			Email:         u.Email,
			WalletAddress: u.WalletAddress,
			Role:          u.Role,
		},
		"csrfToken": csrfToken,
	})
}

// Status reports the caller's session state. Lifecycle checks run in
// activeSession; an expired or hijack-suspect session reads as logged out.
func (s *Service) Status(c echo.Context) error {
	ctx := c.Request().Context()

	sess, err := s.activeSession(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session check failed", "code": "SESSION_FAILED"})
	}
	if sess == nil {
		return c.JSON(http.StatusUnauthorized, map[string]any{"isLoggedIn": false})
	}

	// Touch the session so activity tracking reflects this request.
	sess.Touch()
	if err := sess.Save(ctx); err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session save failed", "code": "SESSION_FAILED"})
	}

	ident := sess.User()
	resp := map[string]any{"isLoggedIn": sess.IsLoggedIn()}
	if ident != nil {
		resp["user"] = userResponse{
			ID:            ident.ID,
			Email:         ident.Email,
			WalletAddress: ident.WalletAddress,
			Role:          ident.Role,
		}
	}
	return c.JSON(http.StatusOK, resp)
}

// CSRFToken returns the session's CSRF token, minting one if the session
// does not have one yet.
func (s *Service) CSRFToken(c echo.Context) error {
	ctx := c.Request().Context()

	sess, err := s.activeSession(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session lookup failed", "code": "SESSION_FAILED"})
	}
	if sess == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not authenticated", "code": "UNAUTHORIZED"})
	}

	token := sess.CSRFToken()
	if token == "" {
		token, err = sess.GenerateCSRFToken()
		if err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "token generation failed", "code": "SESSION_FAILED"})
		}
		if err := sess.Save(ctx); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session save failed", "code": "SESSION_FAILED"})
		}
	}

	return c.JSON(http.StatusOK, map[string]string{"csrfToken": token})
}

// Logout destroys the session and clears the identity cookie. CSRF
// verification is enforced by CSRFMiddleware on the route.
func (s *Service) Logout(c echo.Context) error {
	ctx := c.Request().Context()

	sess, err := s.currentSession(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session lookup failed", "code": "SESSION_FAILED"})
	}
	if sess != nil {
		if err := sess.Destroy(ctx); err != nil {
			return c.JSON(http.StatusInternalServerError, map[string]string{"error": "logout failed", "code": "SESSION_FAILED"})
		}
	}

	s.clearUserIDCookie(c)
	return c.JSON(http.StatusOK, map[string]string{"status": "logged out"})
}

// Me returns the session identity for downstream app code; mounted behind
// the api rate-limit policy.
func (s *Service) Me(c echo.Context) error {
	sess, err := s.activeSession(c)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session lookup failed", "code": "SESSION_FAILED"})
	}
	if sess == nil || sess.User() == nil {
		return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not authenticated", "code": "UNAUTHORIZED"})
	}

	ident := sess.User()
	return c.JSON(http.StatusOK, userResponse{
		ID:            ident.ID,
		Email:         ident.Email,
		WalletAddress: ident.WalletAddress,
		Role:          ident.Role,
	})
}

// CSRFMiddleware rejects mutating requests whose X-CSRF-Token header does
// not match the caller's session token.
func (s *Service) CSRFMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !requiresCSRFValidation(c.Request().Method) {
				return next(c)
			}

			sess, err := s.activeSession(c)
			if err != nil {
				return c.JSON(http.StatusInternalServerError, map[string]string{"error": "session lookup failed", "code": "SESSION_FAILED"})
			}
			if sess == nil {
				return c.JSON(http.StatusUnauthorized, map[string]string{"error": "not authenticated", "code": "UNAUTHORIZED"})
			}

			provided := strings.TrimSpace(c.Request().Header.Get(csrfHeaderName))
			if !sess.VerifyCSRFToken(provided) {
				log.Printf("auth: csrf verification failed user=%s", sess.UserID())
				return c.JSON(http.StatusForbidden, map[string]string{"error": "invalid csrf token", "code": "CSRF_FAILED"})
			}

			return next(c)
		}
	}
}

func requiresCSRFValidation(method string) bool {
	switch strings.ToUpper(strings.TrimSpace(method)) {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

// currentSession resolves the caller's session from the user_id cookie.
// (nil, nil) means no cookie or no stored session.
func (s *Service) currentSession(c echo.Context) (*session.Session, error) {
	cookie, err := c.Cookie(userIDCookieName)
	if err != nil || strings.TrimSpace(cookie.Value) == "" {
		return nil, nil
	}
	return session.Load(c.Request().Context(), s.sessions, strings.TrimSpace(cookie.Value), s.opts)
}

// activeSession resolves the caller's session and runs the checks every
// resumed session must pass: the activity timeout and the fingerprint
// binding. An expired session is destroyed by CheckActivity; a hijack
// suspect (fingerprint mismatch) is destroyed here. Both clear the identity
// cookie and come back as (nil, nil), the same as no session at all.
func (s *Service) activeSession(c echo.Context) (*session.Session, error) {
	sess, err := s.currentSession(c)
	if err != nil || sess == nil {
		return nil, err
	}

	ctx := c.Request().Context()
	active, err := sess.CheckActivity(ctx)
	if err != nil {
		return nil, err
	}
	if !active {
		s.clearUserIDCookie(c)
		return nil, nil
	}

	userAgent := c.Request().UserAgent()
	ip := ratelimit.ClientIP(c.Request().Header)
	if !sess.VerifyFingerprint(userAgent, ip) {
		log.Printf("auth: fingerprint mismatch user=%s ip=%s", sess.UserID(), ip)
		if err := sess.Destroy(ctx); err != nil {
			log.Printf("auth: destroy after fingerprint mismatch failed user=%s error=%v", sess.UserID(), err)
		}
		s.clearUserIDCookie(c)
		return nil, nil
	}

	return sess, nil
}

func (s *Service) setUserIDCookie(c echo.Context, userID string) {
	c.SetCookie(&http.Cookie{
		Name:     userIDCookieName,
		Value:    userID,
		Path:     "/",
		MaxAge:   int(userIDCookieTTL.Seconds()),
		HttpOnly: false,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Service) clearUserIDCookie(c echo.Context) {
	c.SetCookie(&http.Cookie{
		Name:     userIDCookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: false,
		Secure:   s.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get(echo.HeaderAuthorization))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
