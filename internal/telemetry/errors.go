package telemetry

import "codeberg.org/mutker/bmctelemetry/internal/errors"

const (
	// Configuration Errors
	ErrInvalidConfig   = errors.ErrorCode("telemetry_invalid_config")
	ErrInvalidInterval = errors.ErrorCode("telemetry_invalid_interval")
	ErrInvalidProperty = errors.ErrorCode("telemetry_invalid_property")
	ErrUnknownProperty = errors.ErrorCode("telemetry_unknown_property")

	// Context Errors
	ErrContextCreate   = errors.ErrorCode("telemetry_context_create_failed")
	ErrContextUpdate   = errors.ErrorCode("telemetry_context_update_failed")
	ErrContextType     = errors.ErrorCode("telemetry_context_type_mismatch")
	ErrSDRLoop         = errors.ErrorCode("telemetry_sdr_loop")
	ErrPackageMismatch = errors.ErrorCode("telemetry_package_size_mismatch")

	// Read Errors
	ErrRead          = errors.ErrorCode("telemetry_read_failed")
	ErrMetricMissing = errors.ErrorCode("telemetry_metric_missing")

	// Publishing Errors
	ErrPublish = errors.ErrorCode("telemetry_publish_failed")
)
