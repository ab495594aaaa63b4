package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/BearBump/PartnerGate/internal/cache"
	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/pkg/errors"
)

var ErrUnauthorized = errors.New("unauthorized")

const (
	PermissionRead  = "read"
	PermissionWrite = "write"
)

type Identity struct {
	Name       string
	Permission string
	Operator   bool
}

type KeyStore interface {
	GetPartnerKey(ctx context.Context, key string) (*models.PartnerKey, error)
	BumpPartnerKeyUsage(ctx context.Context, key string) error
}

type Session struct {
	User string `json:"user"`
	Role string `json:"role"`
}

// SessionStore — операторские сессии. Хранилище сессий внешнее,
// мы только читаем session:<token>.
type SessionStore interface {
	Get(ctx context.Context, token string) (*Session, error)
}

type RedisSessionStore struct {
	c cache.BytesCache
}

func NewRedisSessionStore(c cache.BytesCache) *RedisSessionStore {
	return &RedisSessionStore{c: c}
}

func (s *RedisSessionStore) Get(ctx context.Context, token string) (*Session, error) {
	b, ok, err := s.c.Get(ctx, "session:"+token)
	if err != nil {
		return nil, errors.Wrap(err, "session get")
	}
	if !ok {
		return nil, nil
	}
	var sess Session
	if err := json.Unmarshal(b, &sess); err != nil {
		return nil, errors.Wrap(err, "session decode")
	}
	return &sess, nil
}

type Authenticator struct {
	allowList map[string]string // key -> имя партнёра
	keys      KeyStore
	sessions  SessionStore

	operatorRoles map[string]struct{}
	now           func() time.Time
}

func New(allowList map[string]string, keys KeyStore, sessions SessionStore) *Authenticator {
	return &Authenticator{
		allowList: allowList,
		keys:      keys,
		sessions:  sessions,
		operatorRoles: map[string]struct{}{
			"admin":     {},
			"warehouse": {},
		},
		now: time.Now,
	}
}

// Authenticate резолвит identity запроса: первый источник, чей токен
// находится в allow-list или среди активных ключей, выигрывает.
// Валидная операторская сессия — равноправная альтернатива (OR, не слои).
func (a *Authenticator) Authenticate(ctx context.Context, r *http.Request, body map[string]any, extractors []CredentialExtractor) (Identity, error) {
	for _, e := range extractors {
		token, ok := e.Extract(r, body)
		if !ok {
			continue
		}
		if id, ok := a.resolveKey(ctx, token); ok {
			return id, nil
		}
	}

	if id, ok := a.resolveSession(ctx, r); ok {
		return id, nil
	}

	return Identity{}, ErrUnauthorized
}

func (a *Authenticator) resolveKey(ctx context.Context, token string) (Identity, bool) {
	if name, ok := a.allowList[token]; ok {
		return Identity{Name: name, Permission: PermissionWrite}, true
	}

	if a.keys == nil {
		return Identity{}, false
	}
	rec, err := a.keys.GetPartnerKey(ctx, token)
	if err != nil || rec == nil {
		return Identity{}, false
	}
	if !rec.Active {
		return Identity{}, false
	}
	if rec.ExpiresAt != nil && !a.now().UTC().Before(*rec.ExpiresAt) {
		return Identity{}, false
	}

	// Счётчик использования — best-effort, запрос из-за него не падает.
	go func(key string) {
		bctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.keys.BumpPartnerKeyUsage(bctx, key); err != nil {
			slog.Warn("partner key usage bump failed", "err", err)
		}
	}(rec.Key)

	return Identity{Name: rec.Label, Permission: rec.Permission}, true
}

func (a *Authenticator) resolveSession(ctx context.Context, r *http.Request) (Identity, bool) {
	if a.sessions == nil {
		return Identity{}, false
	}

	token := r.Header.Get("X-Session-Token")
	if token == "" {
		if c, err := r.Cookie("session"); err == nil {
			token = c.Value
		}
	}
	if token == "" {
		return Identity{}, false
	}

	sess, err := a.sessions.Get(ctx, token)
	if err != nil || sess == nil {
		return Identity{}, false
	}
	if _, ok := a.operatorRoles[sess.Role]; !ok {
		return Identity{}, false
	}
	return Identity{Name: sess.User, Permission: PermissionWrite, Operator: true}, true
}
