package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte("\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR")

type fakeScanner struct{ err error }

func (f fakeScanner) Scan(r io.Reader) error {
	_, _ = io.Copy(io.Discard, r)
	return f.err
}

func runUpload(t *testing.T, h *AssetHandler, filename string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := newMultipartUpload(t, filename, data)
	req := httptest.NewRequest(http.MethodPost, "/v1/admin/assets", body)
	req.Header.Set("Content-Type", contentType)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	h.UploadAsset(c)
	return w
}

func TestUploadAsset_StoresImage(t *testing.T) {
	store := newFakeStorage()
	h := NewAssetHandler(store, fakeScanner{}, quietLogger(), 1024)

	w := runUpload(t, h, "anne.png", pngHeader)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[map[string]string](t, w)
	key := resp["image_key"]
	assert.True(t, strings.HasPrefix(key, "characters/"))
	assert.True(t, strings.HasSuffix(key, ".png"))
	assert.True(t, isValidImageObjectKey(key))
	assert.Equal(t, "http://localhost:9000/memorial/"+key, resp["image_url"])
	assert.Equal(t, "image/png", store.types[key])
	assert.True(t, bytes.Equal(pngHeader, store.uploaded[key]))
}

func TestUploadAsset_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		scanner VirusScanner
		data    []byte
		status  int
	}{
		{"not an image", nil, []byte("#!/bin/sh\necho hi\n"), http.StatusBadRequest},
		{"infected", fakeScanner{err: errInfected}, pngHeader, http.StatusBadRequest},
		{"scanner down", fakeScanner{err: errors.New("dial tcp: refused")}, pngHeader, http.StatusInternalServerError},
		{"too large", nil, append(append([]byte{}, pngHeader...), make([]byte, 2048)...), http.StatusRequestEntityTooLarge},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStorage()
			h := NewAssetHandler(store, tc.scanner, quietLogger(), 1024)

			w := runUpload(t, h, "file.bin", tc.data)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Empty(t, store.uploaded)
		})
	}
}

func TestUploadAsset_StorageFailures(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"bucket unreachable", fmt.Errorf("put object: %w", context.DeadlineExceeded), http.StatusServiceUnavailable},
		{"access denied", minio.ErrorResponse{Code: "AccessDenied", StatusCode: http.StatusForbidden}, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStorage()
			store.putErr = tc.err
			h := NewAssetHandler(store, nil, quietLogger(), 1024)

			w := runUpload(t, h, "anne.png", pngHeader)
			assert.Equal(t, tc.status, w.Code, w.Body.String())
			assert.Empty(t, store.uploaded)
		})
	}
}

func TestUploadAsset_MissingFile(t *testing.T) {
	h := NewAssetHandler(newFakeStorage(), nil, quietLogger(), 1024)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/v1/admin/assets", nil)
	h.UploadAsset(c)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestIsValidImageObjectKey(t *testing.T) {
	assert.True(t, isValidImageObjectKey("characters/2024/01/a.webp"))
	assert.False(t, isValidImageObjectKey("characters/2024/01/a.svg"))
	assert.False(t, isValidImageObjectKey("resumes/a.png"))
	assert.False(t, isValidImageObjectKey("characters//a.png"))
	assert.False(t, isValidImageObjectKey("characters/../a.png"))
	assert.False(t, isValidImageObjectKey(""))
}
