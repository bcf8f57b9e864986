package vin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDecode_OK(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Fatalf("method = %s, want GET", r.Method)
		}
		if r.URL.Path != "/vehicles/DecodeVinValues/1HGCM82633A123456" {
			t.Fatalf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("format") != "json" {
			t.Fatalf("format = %q, want json", r.URL.Query().Get("format"))
		}

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Results":[{"Make":"HONDA","Model":"Accord","ModelYear":"2003","BodyClass":"Sedan","EngineCylinders":"6","FuelTypePrimary":"Gasoline","DriveType":"FWD","PlantCountry":"UNITED STATES (USA)"}]}`)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	specs, err := client.Decode(ctx, "1HGCM82633A123456")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if specs.Make != "HONDA" || specs.Model != "Accord" || specs.Year != "2003" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
}

func TestDecode_RetriesTransientErrors(t *testing.T) {
	var calls atomic.Int64

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Results":[{"Make":"BMW","Model":"328i","ModelYear":"2013"}]}`)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	specs, err := client.Decode(ctx, "WBA3B1C50DF461234")
	if err != nil {
		t.Fatalf("Decode error: %v", err)
	}
	if specs.Make != "BMW" {
		t.Fatalf("unexpected specs: %+v", specs)
	}
	if calls.Load() < 2 {
		t.Fatalf("calls = %d, want at least 2", calls.Load())
	}
}

func TestDecode_EmptyResults(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"Results":[]}`)
	}))
	defer ts.Close()

	client := NewClient(ts.URL)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if _, err := client.Decode(ctx, "1HGCM82633A123456"); err == nil {
		t.Fatalf("expected error for empty results")
	}
}

func TestDecode_NotConfigured(t *testing.T) {
	var client *Client

	if _, err := client.Decode(context.Background(), "1HGCM82633A123456"); err == nil {
		t.Fatalf("expected error for nil client")
	}
}
