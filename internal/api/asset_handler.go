package api

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/dutchcoders/go-clamd"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"

	"memorial/internal/api/middleware"
	"memorial/internal/storage"
)

// ImageStorage is the object store used for character images.
type ImageStorage interface {
	UploadFile(ctx context.Context, objectName string, reader io.Reader, size int64, contentType string) (*minio.UploadInfo, error)
	PublicURL(objectKey string) string
	ObjectKeyFromURL(rawURL string) (string, bool)
}

// VirusScanner inspects an upload before it is stored.
type VirusScanner interface {
	Scan(r io.Reader) error
}

var errInfected = errors.New("malicious file detected")

// clamdScanner scans through a clamd daemon.
type clamdScanner struct {
	client *clamd.Clamd
}

// NewClamdScanner returns a scanner for addr, or nil when addr is empty.
func NewClamdScanner(addr string) VirusScanner {
	if strings.TrimSpace(addr) == "" {
		return nil
	}
	return &clamdScanner{client: clamd.NewClamd(addr)}
}

func (s *clamdScanner) Scan(r io.Reader) error {
	abortChan := make(chan bool)
	defer close(abortChan)

	scanChan, err := s.client.ScanStream(r, abortChan)
	if err != nil {
		return fmt.Errorf("scan stream: %w", err)
	}
	for result := range scanChan {
		if result.Status != clamd.RES_OK {
			return errInfected
		}
	}
	return nil
}

// AssetHandler uploads character images.
type AssetHandler struct {
	Storage  ImageStorage
	Scanner  VirusScanner
	Logger   *slog.Logger
	MaxBytes int64
	now      func() time.Time
}

// NewAssetHandler returns an AssetHandler. scanner may be nil.
func NewAssetHandler(storageClient ImageStorage, scanner VirusScanner, logger *slog.Logger, maxBytes int64) *AssetHandler {
	return &AssetHandler{
		Storage:  storageClient,
		Scanner:  scanner,
		Logger:   logger,
		MaxBytes: maxBytes,
		now:      time.Now,
	}
}

// UploadAsset stores an image and returns its key and public URL. Characters
// store the URL; the key is derived from it again on save.
func (h *AssetHandler) UploadAsset(c *gin.Context) {
	logger := h.loggerFromContext(c)

	if h.MaxBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.MaxBytes+1024*1024)
	}
	file, err := c.FormFile("file")
	if err != nil {
		BadRequest(c, "missing file")
		return
	}
	if h.MaxBytes > 0 && file.Size > h.MaxBytes {
		Error(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	fileReader, err := file.Open()
	if err != nil {
		Internal(c, "failed to open file")
		return
	}
	data, err := io.ReadAll(fileReader)
	fileReader.Close()
	if err != nil {
		Internal(c, "failed to read file")
		return
	}

	contentType := http.DetectContentType(data)
	ext, ok := imageExtensions[contentType]
	if !ok {
		BadRequest(c, "unsupported image type")
		return
	}

	if h.Scanner != nil {
		if err := h.Scanner.Scan(bytes.NewReader(data)); err != nil {
			if errors.Is(err, errInfected) {
				logger.Warn("infected upload rejected", slog.String("filename", file.Filename))
				BadRequest(c, errInfected.Error())
				return
			}
			logger.Error("scan file", slog.Any("error", err))
			Internal(c, "failed to scan file")
			return
		}
	}

	now := h.now().UTC()
	objectKey := fmt.Sprintf("%s%04d/%02d/%s%s", storage.ImagePrefix, now.Year(), int(now.Month()), uuid.NewString(), ext)
	if _, err := h.Storage.UploadFile(c.Request.Context(), objectKey, bytes.NewReader(data), int64(len(data)), contentType); err != nil {
		logger.Error("upload file", slog.Any("error", err))
		if storage.Classify(err) == storage.FailureUnavailable {
			Error(c, http.StatusServiceUnavailable, "image storage unavailable")
			return
		}
		Internal(c, "failed to upload file")
		return
	}

	logger.Info("character image uploaded", slog.String("object_key", objectKey), slog.Int("size", len(data)))
	c.JSON(http.StatusCreated, gin.H{
		"image_key": objectKey,
		"image_url": h.Storage.PublicURL(objectKey),
	})
}

func (h *AssetHandler) loggerFromContext(c *gin.Context) *slog.Logger {
	if logger := middleware.LoggerFromContext(c); logger != nil {
		return logger
	}
	if h.Logger != nil {
		return h.Logger
	}
	return slog.Default()
}
