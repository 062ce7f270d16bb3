// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

// Package errdefs defines the error kinds surfaced by instance compilation.
package errdefs

import (
	"errors"
	"fmt"
	"net/http"
)

// A plan that is malformed or inconsistent with its template.
// Raised before any side effect, so nothing needs to be rolled back.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

func Validationf(format string, args ...any) error {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// An ambiguous lookup, e.g. more than one backend image matching a fingerprint.
type ConflictError struct {
	Msg string
}

func (e *ConflictError) Error() string { return e.Msg }

func Conflictf(format string, args ...any) error {
	return &ConflictError{Msg: fmt.Sprintf(format, args...)}
}

// A failure reported by (or while talking to) a vim or wan backend.
type BackendError struct {
	// HTTP style status code, e.g. 404 or 503.
	Code int
	Msg  string
	Err  error
}

func (e *BackendError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *BackendError) Unwrap() error { return e.Err }

func Backendf(code int, format string, args ...any) error {
	return &BackendError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Wrap err into a backend error with the given code.
func WrapBackend(code int, err error, format string, args ...any) error {
	return &BackendError{Code: code, Msg: fmt.Sprintf(format, args...), Err: err}
}

// A failure of the storage layer.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return fmt.Sprintf("%s: %v", e.Op, e.Err) }

func (e *PersistenceError) Unwrap() error { return e.Err }

func Persistence(op string, err error) error {
	if err == nil {
		return nil
	}
	return &PersistenceError{Op: op, Err: err}
}

// Code maps an error to the http status reported to api clients.
func Code(err error) int {
	var validation *ValidationError
	var conflict *ConflictError
	var backend *BackendError
	var persistence *PersistenceError
	var notFound *NotFoundError
	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &notFound):
		return http.StatusNotFound
	case errors.As(err, &validation):
		return http.StatusBadRequest
	case errors.As(err, &conflict):
		return http.StatusConflict
	case errors.As(err, &backend):
		if backend.Code == 0 {
			return http.StatusInternalServerError
		}
		return backend.Code
	case errors.As(err, &persistence):
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// IsNotFound reports whether err is a missing catalog object or a backend
// error with status 404.
func IsNotFound(err error) bool {
	var notFound *NotFoundError
	if errors.As(err, &notFound) {
		return true
	}
	var backend *BackendError
	return errors.As(err, &backend) && backend.Code == http.StatusNotFound
}

// A catalog object that does not exist, e.g. an unknown instance id.
type NotFoundError struct {
	Msg string
}

func (e *NotFoundError) Error() string { return e.Msg }

func NotFoundf(format string, args ...any) error {
	return &NotFoundError{Msg: fmt.Sprintf(format, args...)}
}
