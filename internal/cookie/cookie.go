package cookie

import (
	"net/http"
	"time"

	"github.com/drivemind-app/drivemind/internal/envutil"
	"github.com/drivemind-app/drivemind/internal/log"
)

// Cookie names used for Drive sessions
const (
	AccessTokenCookie  = "access_token"
	RefreshTokenCookie = "refresh_token"
)

// SetAccessToken sets the short-lived access token cookie
func SetAccessToken(w http.ResponseWriter, value string, maxAge time.Duration) {
	set(w, AccessTokenCookie, value, maxAge)
}

// SetRefreshToken sets the long-lived refresh token cookie
func SetRefreshToken(w http.ResponseWriter, value string, maxAge time.Duration) {
	set(w, RefreshTokenCookie, value, maxAge)
}

func set(w http.ResponseWriter, name, value string, maxAge time.Duration) {
	secure := !envutil.IsDev()
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteStrictMode,
		MaxAge:   int(maxAge.Seconds()),
	})

	log.LogDebugWithFields("cookie", "Cookie set", map[string]any{
		"name":   name,
		"maxAge": maxAge.String(),
		"secure": secure,
	})
}

// Clear removes a cookie by setting MaxAge to -1
func Clear(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	})
}

// ClearAuth removes both token cookies
func ClearAuth(w http.ResponseWriter) {
	Clear(w, AccessTokenCookie)
	Clear(w, RefreshTokenCookie)
	log.LogDebugWithFields("cookie", "Auth cookies cleared", nil)
}

// Get retrieves a cookie value from the request
func Get(r *http.Request, name string) (string, error) {
	cookie, err := r.Cookie(name)
	if err != nil {
		return "", err
	}
	return cookie.Value, nil
}

// GetAccessToken retrieves the access token cookie value
func GetAccessToken(r *http.Request) (string, error) {
	return Get(r, AccessTokenCookie)
}

// GetRefreshToken retrieves the refresh token cookie value
func GetRefreshToken(r *http.Request) (string, error) {
	return Get(r, RefreshTokenCookie)
}
