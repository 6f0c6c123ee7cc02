package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestVerifyMatchingSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("access_token") != "tok-1" {
			t.Errorf("unexpected access_token %q", r.URL.Query().Get("access_token"))
		}
		w.Write([]byte(`{"id":"fb-user-1"}`))
	}))
	defer srv.Close()

	v := NewFacebookVerifier(srv.URL)
	ok, err := v.Verify(context.Background(), "fb-user-1", "tok-1")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !ok {
		t.Error("expected token to verify")
	}
}

func TestVerifyMismatchedSubject(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":"someone-else"}`))
	}))
	defer srv.Close()

	v := NewFacebookVerifier(srv.URL)
	ok, err := v.Verify(context.Background(), "fb-user-1", "tok-1")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("expected verification to fail for another user's token")
	}
}

func TestVerifyRejectedToken(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		w.Write([]byte(`{"error":{"message":"Invalid OAuth access token"}}`))
	}))
	defer srv.Close()

	v := NewFacebookVerifier(srv.URL)
	ok, err := v.Verify(context.Background(), "fb-user-1", "bad")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ok {
		t.Error("expected rejected token to verify as false")
	}
}

func TestVerifyUpstreamFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := NewFacebookVerifier(srv.URL)
	if _, err := v.Verify(context.Background(), "fb-user-1", "tok"); err == nil {
		t.Error("expected error on upstream failure")
	}

	malformed := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer malformed.Close()

	v = NewFacebookVerifier(malformed.URL)
	if _, err := v.Verify(context.Background(), "fb-user-1", "tok"); err == nil {
		t.Error("expected error on malformed response")
	}
}
