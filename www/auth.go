package www

import (
	"crypto/sha256"
	"net/http"
	"time"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	"golang.org/x/crypto/bcrypt"
)

const (
	sessionName = "mmcd_session"
	sessionTTL  = 12 * time.Hour
	userKey     = "username"
)

// sessionStore keeps the logged-in admin in a signed, encrypted cookie.
type sessionStore struct {
	cookies *sessions.CookieStore
}

// newSessionStore derives the signing and encryption keys from secret. With
// no secret the keys are random, so sessions end when the process restarts.
func newSessionStore(secret string) *sessionStore {
	var hashKey, blockKey []byte
	if secret != "" {
		h := sha256.Sum256([]byte("hash:" + secret))
		b := sha256.Sum256([]byte("block:" + secret))
		hashKey, blockKey = h[:], b[:]
	} else {
		hashKey = securecookie.GenerateRandomKey(32)
		blockKey = securecookie.GenerateRandomKey(32)
	}
	cs := sessions.NewCookieStore(hashKey, blockKey)
	cs.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   int(sessionTTL / time.Second),
		HttpOnly: true,
		SameSite: http.SameSiteStrictMode,
	}
	return &sessionStore{cookies: cs}
}

// user returns the logged-in username, or "" when there is none. A cookie
// that fails to decode counts as logged out.
func (s *sessionStore) user(r *http.Request) string {
	sess, err := s.cookies.Get(r, sessionName)
	if err != nil {
		return ""
	}
	name, _ := sess.Values[userKey].(string)
	return name
}

func (s *sessionStore) login(w http.ResponseWriter, r *http.Request, username string) error {
	sess, _ := s.cookies.Get(r, sessionName)
	sess.Values[userKey] = username
	return sess.Save(r, w)
}

func (s *sessionStore) logout(w http.ResponseWriter, r *http.Request) {
	sess, _ := s.cookies.Get(r, sessionName)
	sess.Values = map[interface{}]interface{}{}
	sess.Options.MaxAge = -1
	if err := sess.Save(r, w); err != nil {
		http.SetCookie(w, &http.Cookie{Name: sessionName, Path: "/", MaxAge: -1})
	}
}

func checkPassword(password, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

func hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	return string(hash), err
}
