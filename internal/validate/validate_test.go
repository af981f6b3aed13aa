package validate_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vortexbot/vortex/internal/validate"
	"github.com/vortexbot/vortex/pkg/logger"
)

func init() {
	logger.SetMinLoggingLevel(logger.FATAL.Level())
}

type stubProber struct {
	duration float64
	err      error
	calls    int
}

func (stub *stubProber) ProbeDuration(string) (float64, error) {
	stub.calls++
	return stub.duration, stub.err
}

func writeFixture(t *testing.T, size int) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "fixture.mp4")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func Test_Validate_MissingFileIsDistinguishedViolation(t *testing.T) {
	prober := &stubProber{}
	outcome := validate.New(prober).Validate("/does/not/exist.mp4", 1024, 60)

	assert.False(t, outcome.Valid)
	assert.Equal(t, []string{validate.FileNotFoundViolation}, outcome.Violations)
	assert.Zero(t, prober.calls, "missing file must fail fast without probing")
}

func Test_Validate_WithinLimits(t *testing.T) {
	path := writeFixture(t, 512)
	outcome := validate.New(&stubProber{duration: 30}).Validate(path, 1024, 60)

	assert.True(t, outcome.Valid)
	assert.Empty(t, outcome.Violations)
	assert.EqualValues(t, 512, outcome.SizeBytes)
	assert.EqualValues(t, 30, outcome.DurationSeconds)
}

func Test_Validate_OversizeReportsSingleSizeViolation(t *testing.T) {
	path := writeFixture(t, 2048)
	outcome := validate.New(&stubProber{duration: 30}).Validate(path, 1024, 60)

	assert.False(t, outcome.Valid)
	require.Len(t, outcome.Violations, 1)
	assert.Contains(t, outcome.Violations[0], "too large")
}

func Test_Validate_AllViolationsReportedInOnePass(t *testing.T) {
	path := writeFixture(t, 2048)
	outcome := validate.New(&stubProber{duration: 120}).Validate(path, 1024, 60)

	assert.False(t, outcome.Valid)
	require.Len(t, outcome.Violations, 2)
	assert.Contains(t, outcome.Violations[0], "too large")
	assert.Contains(t, outcome.Violations[1], "too long")
}

func Test_Validate_ProbeFailureSkipsDurationCheck(t *testing.T) {
	path := writeFixture(t, 512)
	prober := &stubProber{err: errors.New("not a media file")}
	outcome := validate.New(prober).Validate(path, 1024, 60)

	assert.True(t, outcome.Valid, "unknown duration must pass the duration gate")
	assert.EqualValues(t, -1, outcome.DurationSeconds)
}

func Test_Validate_IsIdempotent(t *testing.T) {
	path := writeFixture(t, 2048)
	validator := validate.New(&stubProber{duration: 120})

	first := validator.Validate(path, 1024, 60)
	second := validator.Validate(path, 1024, 60)

	assert.Equal(t, first, second)

	// The file must remain untouched by validation.
	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.EqualValues(t, 2048, info.Size())
}
