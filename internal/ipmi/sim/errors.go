package sim

import "codeberg.org/mutker/bmctelemetry/internal/errors"

const (
	ErrLoadFixture  = errors.ErrorCode("sim_load_fixture_failed")
	ErrParseFixture = errors.ErrorCode("sim_parse_fixture_failed")
)
