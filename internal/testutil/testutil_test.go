package testutil

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/banshee-data/footfall.report/internal/monitoring"
)

func TestAssertStatusCode_Matching(t *testing.T) {
	fakeT := &testing.T{}
	AssertStatusCode(fakeT, http.StatusOK, http.StatusOK)
	if fakeT.Failed() {
		t.Error("expected no failure for matching status codes")
	}
}

func TestAssertNoError_NilErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertNoError(fakeT, nil)
	if fakeT.Failed() {
		t.Error("expected no failure for nil error")
	}
}

func TestAssertError_WithErr(t *testing.T) {
	fakeT := &testing.T{}
	AssertError(fakeT, errors.New("something wrong"))
	if fakeT.Failed() {
		t.Error("expected no failure when error is present")
	}
}

func TestLocalhostRequest(t *testing.T) {
	req := LocalhostRequest(http.MethodGet, "/debug/events", nil)
	if req.RemoteAddr != "127.0.0.1:12345" {
		t.Errorf("RemoteAddr = %q", req.RemoteAddr)
	}
	if req.URL.Path != "/debug/events" {
		t.Errorf("path = %s", req.URL.Path)
	}
}

func TestDecodeJSON(t *testing.T) {
	w := httptest.NewRecorder()
	w.WriteString(`{"in":2,"out":1,"present":1}`)

	var got struct{ In, Out, Present int }
	DecodeJSON(t, w, &got)
	if got.In != 2 || got.Out != 1 || got.Present != 1 {
		t.Errorf("decoded %+v", got)
	}
}

func TestQuiet(t *testing.T) {
	calls := 0
	original := monitoring.Logf
	monitoring.SetLogger(func(string, ...interface{}) { calls++ })
	defer func() { monitoring.Logf = original }()

	t.Run("muted", func(t *testing.T) {
		Quiet(t)
		monitoring.Logf("dropped")
	})
	monitoring.Logf("kept")
	if calls != 1 {
		t.Errorf("logger calls = %d, want 1", calls)
	}
}
