// Package apperrors defines the daemon's error taxonomy: kinds of failure,
// not HTTP statuses, since this daemon's only external surface is the job
// websocket protocol, not a REST API.
package apperrors

import (
	"errors"
	"fmt"
)

// VideoMissingError indicates the admission-time check that video_path
// must exist failed.
type VideoMissingError struct {
	Path string
}

func (e VideoMissingError) Error() string {
	return fmt.Sprintf("video not found: %s", e.Path)
}

func NewVideoMissingError(path string) error {
	return VideoMissingError{Path: path}
}

func IsVideoMissing(err error) bool {
	return errors.As(err, &VideoMissingError{})
}

// AlreadyProcessingError is returned when a video_path is already present
// in either active job set.
type AlreadyProcessingError struct {
	Path string
}

func (e AlreadyProcessingError) Error() string {
	return "Video already being processed"
}

func NewAlreadyProcessingError(path string) error {
	return AlreadyProcessingError{Path: path}
}

func IsAlreadyProcessing(err error) bool {
	return errors.As(err, &AlreadyProcessingError{})
}

// CapacitySaturatedError is returned when a kind's active set is already at
// its configured cap.
type CapacitySaturatedError struct {
	Kind string
	Cap  int
}

func (e CapacitySaturatedError) Error() string {
	return fmt.Sprintf("%s capacity saturated: %d job(s) already running", e.Kind, e.Cap)
}

func NewCapacitySaturatedError(kind string, cap int) error {
	return CapacitySaturatedError{Kind: kind, Cap: cap}
}

func IsCapacitySaturated(err error) bool {
	return errors.As(err, &CapacitySaturatedError{})
}

// ExtractionError wraps failures from the frame extractor:
// failure to open the container, an unknown/zero frame count, or a
// mid-stream decode failure.
type ExtractionError struct {
	Path  string
	cause error
}

func (e ExtractionError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("extraction error for %s: %s", e.Path, e.cause)
	}
	return fmt.Sprintf("extraction error for %s", e.Path)
}

func (e ExtractionError) Unwrap() error {
	return e.cause
}

func NewExtractionError(path string, cause error) error {
	return ExtractionError{Path: path, cause: cause}
}

func IsExtractionError(err error) bool {
	return errors.As(err, &ExtractionError{})
}

// PipelineError wraps an unrecoverable failure from a pipeline (analysis or
// transcription) that is not attributable to a single plugin or frame.
type PipelineError struct {
	msg   string
	cause error
}

func (e PipelineError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s", e.msg, e.cause)
	}
	return e.msg
}

func (e PipelineError) Unwrap() error {
	return e.cause
}

func NewPipelineError(msg string, cause error) error {
	return PipelineError{msg: msg, cause: cause}
}

func IsPipelineError(err error) bool {
	return errors.As(err, &PipelineError{})
}

// BadRequestError marks malformed client input: malformed
// JSON, a non-string type, a non-object payload, or missing required
// fields. These never close the session.
type BadRequestError struct {
	msg string
}

func (e BadRequestError) Error() string {
	return e.msg
}

func NewBadRequestError(msg string) error {
	return BadRequestError{msg: msg}
}

func IsBadRequest(err error) bool {
	return errors.As(err, &BadRequestError{})
}
