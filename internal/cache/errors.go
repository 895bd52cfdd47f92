package cache

import "codeberg.org/mutker/bmctelemetry/internal/errors"

const (
	ErrConnect = errors.ErrUnavailable
	ErrWrite   = errors.ErrorCode("cache_write_failed")
	ErrRead    = errors.ErrorCode("cache_read_failed")
	ErrEncode  = errors.ErrorCode("cache_encode_failed")
)
