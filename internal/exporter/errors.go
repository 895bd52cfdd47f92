package exporter

import "codeberg.org/mutker/bmctelemetry/internal/errors"

const (
	ErrInvalidListen = errors.ErrorCode("exporter_invalid_listen")
	ErrServe         = errors.ErrorCode("exporter_serve_failed")
	ErrShutdown      = errors.ErrShutdownFailed
)
