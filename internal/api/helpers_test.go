package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"memorial/internal/auth"
	"memorial/internal/auth/authtest"
	"memorial/internal/config"
	"memorial/internal/content"
	"memorial/internal/database"
	"memorial/internal/site"
	"memorial/internal/storage"
)

func init() { gin.SetMode(gin.TestMode) }

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeRedis implements the handful of commands the auth handler uses.
type fakeRedis struct {
	mu     sync.Mutex
	values map[string]string
	ttls   map[string]time.Duration
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{values: map[string]string{}, ttls: map[string]time.Duration{}}
}

func (f *fakeRedis) Incr(_ context.Context, key string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	if v, ok := f.values[key]; ok {
		_ = json.Unmarshal([]byte(v), &n)
	}
	n++
	raw, _ := json.Marshal(n)
	f.values[key] = string(raw)
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Expire(_ context.Context, key string, ttl time.Duration) *redis.BoolCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ttls[key] = ttl
	return redis.NewBoolResult(true, nil)
}

func (f *fakeRedis) TTL(_ context.Context, key string) *redis.DurationCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.values[key]; !ok {
		return redis.NewDurationResult(-2*time.Second, nil)
	}
	return redis.NewDurationResult(f.ttls[key], nil)
}

func (f *fakeRedis) Del(_ context.Context, keys ...string) *redis.IntCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, k := range keys {
		if _, ok := f.values[k]; ok {
			delete(f.values, k)
			n++
		}
	}
	return redis.NewIntResult(n, nil)
}

func (f *fakeRedis) Get(_ context.Context, key string) *redis.StringCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeRedis) Set(_ context.Context, key string, value interface{}, ttl time.Duration) *redis.StatusCmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	switch v := value.(type) {
	case string:
		f.values[key] = v
	default:
		raw, _ := json.Marshal(v)
		f.values[key] = string(raw)
	}
	f.ttls[key] = ttl
	return redis.NewStatusResult("OK", nil)
}

type fakeStorage struct {
	mu       sync.Mutex
	uploaded map[string][]byte
	types    map[string]string
	putErr   error
}

func newFakeStorage() *fakeStorage {
	return &fakeStorage{uploaded: map[string][]byte{}, types: map[string]string{}}
}

func (s *fakeStorage) UploadFile(_ context.Context, objectName string, reader io.Reader, _ int64, contentType string) (*minio.UploadInfo, error) {
	b, _ := io.ReadAll(reader)
	if s.putErr != nil {
		return nil, s.putErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploaded[objectName] = b
	s.types[objectName] = contentType
	return &minio.UploadInfo{Key: objectName}, nil
}

func (s *fakeStorage) PublicURL(objectKey string) string {
	return "http://localhost:9000/memorial/" + objectKey
}

func (s *fakeStorage) ObjectKeyFromURL(rawURL string) (string, bool) {
	key, ok := strings.CutPrefix(rawURL, "http://localhost:9000/memorial/")
	if !ok || !strings.HasPrefix(key, storage.ImagePrefix) {
		return "", false
	}
	return key, true
}

func (s *fakeStorage) deleted(objectKey string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.uploaded[objectKey]
	return !ok
}

func (s *fakeStorage) DeleteObject(_ context.Context, objectKey string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploaded, objectKey)
	return nil
}

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type testServer struct {
	router  *gin.Engine
	db      *gorm.DB
	auth    *auth.AuthService
	content *content.Service
	storage *fakeStorage
	redis   *fakeRedis
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db := newTestDB(t)
	authService := authtest.NewService(t)
	store := newFakeStorage()
	rdb := newFakeRedis()
	svc := content.NewService(db, nil, store, quietLogger())

	tmpl, err := site.ParseIndex()
	require.NoError(t, err)
	pages := site.NewCache(nil, site.NewBuilder(svc, quietLogger()), 0, quietLogger())

	router := NewRouter(&config.Config{}, quietLogger())
	RegisterRoutes(router, Dependencies{
		Logger:                quietLogger(),
		DB:                    db,
		AuthService:           authService,
		AuthRedis:             rdb,
		Content:               svc,
		Pages:                 NewSiteHandler(pages, tmpl),
		Assets:                NewAssetHandler(store, nil, quietLogger(), 1024*1024),
		LoginRateLimitPerHour: 10,
		LoginLockThreshold:    3,
		LoginLockTTL:          time.Minute,
	})

	return &testServer{router: router, db: db, auth: authService, content: svc, storage: store, redis: rdb}
}

func (s *testServer) createUser(t *testing.T, username, password string, mustChange bool) database.User {
	t.Helper()
	hash, err := auth.HashPassword(password)
	require.NoError(t, err)
	user := database.User{Username: username, PasswordHash: hash, MustChangePassword: mustChange}
	require.NoError(t, s.db.Create(&user).Error)
	return user
}

func (s *testServer) token(t *testing.T, user database.User) string {
	t.Helper()
	pair, err := s.auth.GenerateTokenPair(user.ID, user.Username, user.MustChangePassword)
	require.NoError(t, err)
	return pair.AccessToken
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func newMultipartUpload(t *testing.T, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(data); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func wsURL(serverURL, path string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http") + path
}
