package main

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gravitalia/signaly/auth"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeBackends struct {
	mu       sync.Mutex
	calls    []string
	platform *httptest.Server
	identity *httptest.Server
}

func (f *fakeBackends) record(r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, r.Method+" "+r.URL.RequestURI())
}

func (f *fakeBackends) callLog() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newFakeBackends(t *testing.T, modToken string) *fakeBackends {
	f := &fakeBackends{}

	pmux := http.NewServeMux()
	pmux.HandleFunc("GET /users/{vanity}", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		json.NewEncoder(w).Encode(map[string]any{"followers": 0, "suspended": false})
	})
	pmux.HandleFunc("/account/", func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		w.WriteHeader(http.StatusOK)
	})
	f.platform = httptest.NewServer(pmux)
	t.Cleanup(f.platform.Close)

	f.identity = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.record(r)
		if r.Method == http.MethodGet {
			flags := 0
			if r.Header.Get("Authorization") == modToken {
				flags = 32
			}
			json.NewEncoder(w).Encode(map[string]any{"vanity": "x", "flags": flags})
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(f.identity.Close)
	return f
}

func signToken(t *testing.T, priv *rsa.PrivateKey, sub string) string {
	claims := auth.Claims{RegisteredClaims: jwt.RegisteredClaims{
		Subject:   sub,
		IssuedAt:  jwt.NewNumericDate(time.Now()),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}}
	s, err := jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(priv)
	require.NoError(t, err)
	return s
}

type testEnv struct {
	srv      *Server
	backends *fakeBackends
	tokens   map[string]string
}

func newTestEnv(t *testing.T) *testEnv {
	priv, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	der, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	require.NoError(t, err)
	pubPEM := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})

	tokens := map[string]string{
		"bob":   signToken(t, priv, "bob"),
		"carol": signToken(t, priv, "carol"),
		"mod":   signToken(t, priv, "mod"),
	}
	backends := newFakeBackends(t, tokens["mod"])

	name := strings.ReplaceAll(t.Name(), "/", "_")
	srv, err := NewServer(Config{
		Bind:               ":0",
		DatabaseURL:        "sqlite://file:" + name + "?mode=memory&cache=shared",
		MaxDatabaseConns:   1,
		PublicKey:          string(pubPEM),
		IdentityHost:       backends.identity.URL,
		GlobalAuth:         "global",
		Platforms:          map[string]string{"gravitalia": backends.platform.URL + "/"},
		Services:           []string{backends.platform.URL},
		SuspendQuotaPerDay: 50,
	})
	require.NoError(t, err)
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, backends: backends, tokens: tokens}
}

func (env *testEnv) do(t *testing.T, path, token, body string) (int, Response) {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)

	var resp Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	return rec.Code, resp
}

func TestHealthCheck(t *testing.T) {
	env := newTestEnv(t)
	req := httptest.NewRequest(http.MethodGet, "/_health", nil)
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"error":false,"message":"OK"}`, rec.Body.String())
}

func TestReportEndpoint(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)

	code, resp := env.do(t, "/report", env.tokens["bob"], `{"vanity":"alice","platform":"gravitalia","reason":2}`)
	assert.Equal(http.StatusOK, code)
	assert.False(resp.Error)
	assert.Equal("OK", resp.Message)

	code, resp = env.do(t, "/report", env.tokens["bob"], `{"vanity":"alice","platform":"gravitalia","reason":2}`)
	assert.Equal(http.StatusTooManyRequests, code)
	assert.True(resp.Error)

	code, resp = env.do(t, "/report", env.tokens["bob"], `{"vanity":"bob","platform":"gravitalia","reason":0}`)
	assert.Equal(http.StatusBadRequest, code)
	assert.Equal("You can't report yourself", resp.Message)

	code, resp = env.do(t, "/report", "garbage", `{"vanity":"alice","platform":"gravitalia","reason":0}`)
	assert.Equal(http.StatusBadRequest, code)
	assert.Equal("Invalid token", resp.Message)

	code, _ = env.do(t, "/report", env.tokens["bob"], `{"vanity":`)
	assert.Equal(http.StatusBadRequest, code)

	// a second reporter pushes the zero-follower account over the threshold
	code, resp = env.do(t, "/report", env.tokens["carol"], `{"vanity":"alice","platform":"gravitalia","reason":2}`)
	assert.Equal(http.StatusOK, code)
	assert.Contains(env.backends.callLog(), "POST /account/suspend?vanity=alice")
}

func TestErrorResponseWrittenOnce(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)

	req := httptest.NewRequest(http.MethodPost, "/report", strings.NewReader(`{"vanity":`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(http.StatusBadRequest, rec.Code)
	assert.JSONEq(`{"error":true,"message":"Invalid body"}`, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/nowhere", nil)
	rec = httptest.NewRecorder()
	env.srv.ServeHTTP(rec, req)
	assert.Equal(http.StatusNotFound, rec.Code)
	assert.JSONEq(`{"error":true,"message":"Not Found"}`, rec.Body.String())
}

func TestSuspendEndpoint(t *testing.T) {
	assert := assert.New(t)
	env := newTestEnv(t)

	code, resp := env.do(t, "/suspend", env.tokens["bob"], `{"vanity":"alice","platform":"all"}`)
	assert.Equal(http.StatusBadRequest, code)
	assert.Equal("You haven't enough flags to perform this action", resp.Message)

	code, resp = env.do(t, "/suspend", env.tokens["mod"], `{"vanity":"mod","platform":"all"}`)
	assert.Equal(http.StatusBadRequest, code)
	assert.Equal("You can't suspend yourself", resp.Message)

	code, resp = env.do(t, "/suspend", env.tokens["mod"], `{"vanity":"alice","platform":"all"}`)
	assert.Equal(http.StatusOK, code)
	assert.False(resp.Error)
	calls := env.backends.callLog()
	assert.Contains(calls, "POST /account/suspend?vanity=alice")

	code, _ = env.do(t, "/unsuspend", env.tokens["mod"], `{"vanity":"alice","platform":"gravitalia"}`)
	assert.Equal(http.StatusOK, code)
	assert.Contains(env.backends.callLog(), "POST /account/unsuspend?vanity=alice")
}

func TestParsePlatforms(t *testing.T) {
	assert := assert.New(t)

	out, err := parsePlatforms([]string{"Gravitalia=https://api.gravitalia.com/", "other=http://localhost:8080"})
	assert.NoError(err)
	assert.Equal(map[string]string{
		"gravitalia": "https://api.gravitalia.com/",
		"other":      "http://localhost:8080",
	}, out)

	_, err = parsePlatforms([]string{"nourl"})
	assert.Error(err)
	_, err = parsePlatforms([]string{"all=https://example.com"})
	assert.Error(err)
	_, err = parsePlatforms([]string{"x=ftp://example.com"})
	assert.Error(err)
}

func TestLoadServicesConfig(t *testing.T) {
	assert := assert.New(t)
	dir := t.TempDir()

	path := dir + "/config.yaml"
	require.NoError(t, writeFile(path, "services:\n  - https://api.gravitalia.com\n  - https://other.example.com\n"))
	cfg, err := loadServicesConfig(path)
	assert.NoError(err)
	assert.Equal([]string{"https://api.gravitalia.com", "https://other.example.com"}, cfg.Services)

	cfg, err = loadServicesConfig(dir + "/missing.yaml")
	assert.NoError(err)
	assert.Empty(cfg.Services)

	require.NoError(t, writeFile(path, "services:\n  - not a url\n"))
	_, err = loadServicesConfig(path)
	assert.Error(err)
}

func writeFile(path, content string) error {
	return os.WriteFile(path, []byte(content), 0o644)
}
