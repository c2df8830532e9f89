package errcode

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	err := New(KeyNotFound, "F100", "gone")
	if err.Error() != "KEY_NOT_FOUND key=F100: gone" {
		t.Errorf("Unexpected message: %s", err.Error())
	}
	if New(LockConflict, "", "").Error() != "LOCK_CONFLICT" {
		t.Error("Expected bare code for empty key and message")
	}
}

func TestCodeOfWrappedError(t *testing.T) {
	err := fmt.Errorf("outer: %w", New(VersionConflict, "k", ""))
	if CodeOf(err) != VersionConflict {
		t.Errorf("Expected VERSION_CONFLICT, got %s", CodeOf(err))
	}
	if !Is(err, VersionConflict) {
		t.Error("Expected Is to see through wrapping")
	}
	if Is(err, KeyExists) {
		t.Error("Expected Is to reject other codes")
	}
	if CodeOf(errors.New("plain")) != InternalInvariant {
		t.Error("Expected plain errors to map to INTERNAL_INVARIANT")
	}
}

func TestHTTPStatus(t *testing.T) {
	cases := map[Code]int{
		KeyExists:                http.StatusConflict,
		LockConflict:             http.StatusConflict,
		VersionConflict:          http.StatusConflict,
		InsufficientAvailability: http.StatusConflict,
		KeyNotFound:              http.StatusNotFound,
		Timeout:                  http.StatusGatewayTimeout,
		InternalInvariant:        http.StatusInternalServerError,
	}
	for code, want := range cases {
		if got := HTTPStatus(code); got != want {
			t.Errorf("Expected %d for %s, got %d", want, code, got)
		}
	}
}

func TestFromWireRoundTrip(t *testing.T) {
	orig := New(InsufficientAvailability, "F100", "requested 3, available 1")
	back := FromWire(string(orig.Code), orig.Key, orig.Message)
	if back.Code != orig.Code || back.Key != orig.Key || back.Message != orig.Message {
		t.Error("Expected wire round trip to preserve fields")
	}
}
