package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_MessageIncludesContextAndCause(t *testing.T) {
	cause := errors.New("unique constraint")
	err := Wrap(cause, ErrDuplicateRecord, "raw transcription already exists").
		WithContext("video_id", "v1").
		WithContext("id", "r1")

	msg := err.Error()
	assert.Contains(t, msg, "[DuplicateRecord] raw transcription already exists")
	assert.Contains(t, msg, "context: id=r1, video_id=v1")
	assert.Contains(t, msg, "cause: unique constraint")
	assert.ErrorIs(t, err, cause)
}

func TestIsErrorType_ThroughWrapping(t *testing.T) {
	base := New(ErrAllEndpointsUnavailable, "exhausted")
	wrapped := fmt.Errorf("translate cue 3: %w", base)

	assert.True(t, IsAllEndpointsUnavailable(wrapped))
	assert.False(t, IsDuplicate(wrapped))
	assert.Equal(t, ErrAllEndpointsUnavailable, TypeOf(wrapped))
	assert.Equal(t, ErrUnknown, TypeOf(errors.New("plain")))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{New(ErrValidation, "bad"), http.StatusBadRequest},
		{New(ErrNotFound, "missing"), http.StatusNotFound},
		{New(ErrDuplicateRecord, "dup"), http.StatusConflict},
		{New(ErrAllEndpointsUnavailable, "down"), http.StatusServiceUnavailable},
		{New(ErrExtraction, "ffmpeg"), http.StatusBadGateway},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestReport(t *testing.T) {
	assert.False(t, Report(nil))
	assert.False(t, Report(errors.New("untyped")))
	assert.True(t, Report(New(ErrStorage, "disk full")))
}
