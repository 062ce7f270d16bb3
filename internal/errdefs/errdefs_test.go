// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package errdefs

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", Validationf("bad %s", "input"), http.StatusBadRequest},
		{"conflict", Conflictf("two images"), http.StatusConflict},
		{"backend", Backendf(http.StatusServiceUnavailable, "down"), http.StatusServiceUnavailable},
		{"backend without code", &BackendError{Msg: "?"}, http.StatusInternalServerError},
		{"persistence", Persistence("insert", errors.New("disk full")), http.StatusInternalServerError},
		{"wrapped", fmt.Errorf("outer: %w", Backendf(http.StatusNotFound, "gone")), http.StatusNotFound},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Code(tt.err); got != tt.want {
				t.Fatalf("expected %d, got %d", tt.want, got)
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(fmt.Errorf("wrap: %w", Backendf(http.StatusNotFound, "no such image"))) {
		t.Fatal("expected wrapped 404 to be not found")
	}
	if IsNotFound(Backendf(http.StatusConflict, "conflict")) {
		t.Fatal("expected 409 to not be not found")
	}
	if IsNotFound(errors.New("404")) {
		t.Fatal("expected plain error to not be not found")
	}
}

func TestBackendErrorUnwrap(t *testing.T) {
	cause := errors.New("connection reset")
	err := WrapBackend(http.StatusServiceUnavailable, cause, "list images at %s", "acc-1")
	if !errors.Is(err, cause) {
		t.Fatal("expected cause to be reachable")
	}
	if err.Error() != "list images at acc-1: connection reset" {
		t.Fatalf("unexpected message %q", err.Error())
	}
}

func TestNotFound(t *testing.T) {
	err := fmt.Errorf("load: %w", NotFoundf("instance %s not found", "i-1"))
	if Code(err) != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", Code(err))
	}
	if !IsNotFound(err) {
		t.Fatal("expected missing instance to be not found")
	}
}
