package auth

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/BearBump/PartnerGate/internal/models"
	"github.com/stretchr/testify/require"
)

type fakeKeys struct {
	mu      sync.Mutex
	recs    map[string]*models.PartnerKey
	bumped  []string
	bumpErr error
}

func (f *fakeKeys) GetPartnerKey(ctx context.Context, key string) (*models.PartnerKey, error) {
	if r, ok := f.recs[key]; ok {
		return r, nil
	}
	return nil, nil
}

func (f *fakeKeys) BumpPartnerKeyUsage(ctx context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bumped = append(f.bumped, key)
	return f.bumpErr
}

type fakeSessions struct {
	m map[string]*Session
}

func (f *fakeSessions) Get(ctx context.Context, token string) (*Session, error) {
	return f.m[token], nil
}

func TestAuthenticate_AllowList(t *testing.T) {
	a := New(map[string]string{"secret-1": "warehouse-mia"}, nil, nil)

	r := httptest.NewRequest("POST", "/v1/packages", nil)
	r.Header.Set("X-Partner-Key", "secret-1")

	id, err := a.Authenticate(context.Background(), r, nil, WriteExtractors())
	require.NoError(t, err)
	require.Equal(t, "warehouse-mia", id.Name)
	require.Equal(t, PermissionWrite, id.Permission)
	require.False(t, id.Operator)
}

func TestAuthenticate_ExtractorPriority(t *testing.T) {
	a := New(map[string]string{
		"from-header": "by-header",
		"from-body":   "by-body",
	}, nil, nil)

	r := httptest.NewRequest("POST", "/v1/packages", nil)
	r.Header.Set("X-Partner-Key", "from-header")
	body := map[string]any{"apiToken": "from-body"}

	id, err := a.Authenticate(context.Background(), r, body, WriteExtractors())
	require.NoError(t, err)
	require.Equal(t, "by-header", id.Name)
}

func TestAuthenticate_FallsThroughUnresolvedSource(t *testing.T) {
	// Токен в заголовке есть, но не резолвится; побеждает токен из тела.
	a := New(map[string]string{"good": "partner"}, nil, nil)

	r := httptest.NewRequest("POST", "/v1/packages", nil)
	r.Header.Set("X-Api-Key", "bogus")

	id, err := a.Authenticate(context.Background(), r, map[string]any{"apiToken": "good"}, WriteExtractors())
	require.NoError(t, err)
	require.Equal(t, "partner", id.Name)
}

func TestAuthenticate_StoredKey(t *testing.T) {
	exp := time.Now().UTC().Add(time.Hour)
	keys := &fakeKeys{recs: map[string]*models.PartnerKey{
		"db-key": {Key: "db-key", Label: "acme-freight", Permission: PermissionWrite, Active: true, ExpiresAt: &exp},
	}}
	a := New(nil, keys, nil)

	r := httptest.NewRequest("POST", "/v1/packages", nil)
	r.Header.Set("X-Api-Key", "db-key")

	id, err := a.Authenticate(context.Background(), r, nil, WriteExtractors())
	require.NoError(t, err)
	require.Equal(t, "acme-freight", id.Name)

	require.Eventually(t, func() bool {
		keys.mu.Lock()
		defer keys.mu.Unlock()
		return len(keys.bumped) == 1 && keys.bumped[0] == "db-key"
	}, time.Second, 10*time.Millisecond)
}

func TestAuthenticate_StoredKeyInactiveOrExpired(t *testing.T) {
	past := time.Now().UTC().Add(-time.Hour)
	keys := &fakeKeys{recs: map[string]*models.PartnerKey{
		"inactive": {Key: "inactive", Label: "x", Permission: PermissionWrite, Active: false},
		"expired":  {Key: "expired", Label: "y", Permission: PermissionWrite, Active: true, ExpiresAt: &past},
	}}
	a := New(nil, keys, nil)

	for _, k := range []string{"inactive", "expired"} {
		r := httptest.NewRequest("POST", "/v1/packages", nil)
		r.Header.Set("X-Partner-Key", k)
		_, err := a.Authenticate(context.Background(), r, nil, WriteExtractors())
		require.ErrorIs(t, err, ErrUnauthorized, k)
	}
}

func TestAuthenticate_QueryTokenOnlyOnReadRoutes(t *testing.T) {
	a := New(map[string]string{"q-token": "reader"}, nil, nil)

	r := httptest.NewRequest("GET", "/v1/customers?token=q-token", nil)

	_, err := a.Authenticate(context.Background(), r, nil, WriteExtractors())
	require.ErrorIs(t, err, ErrUnauthorized)

	id, err := a.Authenticate(context.Background(), r, nil, ReadExtractors())
	require.NoError(t, err)
	require.Equal(t, "reader", id.Name)
}

func TestAuthenticate_OperatorSession(t *testing.T) {
	sessions := &fakeSessions{m: map[string]*Session{
		"sess-ok":  {User: "olga", Role: "warehouse"},
		"sess-bad": {User: "guest", Role: "customer"},
	}}
	a := New(nil, nil, sessions)

	r := httptest.NewRequest("POST", "/v1/packages", nil)
	r.Header.Set("X-Session-Token", "sess-ok")
	id, err := a.Authenticate(context.Background(), r, nil, WriteExtractors())
	require.NoError(t, err)
	require.True(t, id.Operator)
	require.Equal(t, "olga", id.Name)

	r = httptest.NewRequest("POST", "/v1/packages", nil)
	r.Header.Set("X-Session-Token", "sess-bad")
	_, err = a.Authenticate(context.Background(), r, nil, WriteExtractors())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestAuthenticate_NoCredentials(t *testing.T) {
	a := New(nil, nil, nil)
	r := httptest.NewRequest("POST", "/v1/packages", nil)
	_, err := a.Authenticate(context.Background(), r, map[string]any{}, WriteExtractors())
	require.ErrorIs(t, err, ErrUnauthorized)
}

func TestRedisSessionStore_Decode(t *testing.T) {
	c := &fakeBytesCache{m: map[string][]byte{
		"session:tok": []byte(`{"user":"ivan","role":"admin"}`),
	}}
	s := NewRedisSessionStore(c)

	sess, err := s.Get(context.Background(), "tok")
	require.NoError(t, err)
	require.NotNil(t, sess)
	require.Equal(t, "ivan", sess.User)
	require.Equal(t, "admin", sess.Role)

	sess, err = s.Get(context.Background(), "absent")
	require.NoError(t, err)
	require.Nil(t, sess)
}

type fakeBytesCache struct {
	m map[string][]byte
}

func (c *fakeBytesCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, ok := c.m[key]
	return b, ok, nil
}

func (c *fakeBytesCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.m[key] = value
	return nil
}
