package platform

import "codeberg.org/mutker/bmctelemetry/internal/errors"

const (
	ErrUnknownPlatform = errors.ErrResourceNotFound
)
