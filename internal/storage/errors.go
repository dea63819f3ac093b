package storage

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/minio/minio-go/v7"
)

// Failure classifies a bucket error for the image handlers.
type Failure int

const (
	FailureOther Failure = iota
	// FailureMissing: the image object is already gone.
	FailureMissing
	// FailureDenied: the configured credentials may not touch the object.
	FailureDenied
	// FailureUnavailable: the bucket could not be reached in time.
	FailureUnavailable
)

// Classify maps a MinIO error onto a Failure. nil is FailureOther.
func Classify(err error) Failure {
	if err == nil {
		return FailureOther
	}

	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch {
		case resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound:
			return FailureMissing
		case resp.Code == "AccessDenied" || resp.StatusCode == http.StatusForbidden:
			return FailureDenied
		case resp.StatusCode == http.StatusServiceUnavailable || resp.Code == "SlowDown":
			return FailureUnavailable
		}
		return FailureOther
	}

	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || errors.As(err, &netErr) {
		return FailureUnavailable
	}
	return FailureOther
}

// IsNoSuchKey reports whether err means the image object does not exist.
func IsNoSuchKey(err error) bool {
	return Classify(err) == FailureMissing
}
