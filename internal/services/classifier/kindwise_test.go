package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/upstream"
)

const detailsBody = `{
  "result": {
    "disease": {
      "suggestions": [
        {
          "name": "Powdery mildew",
          "probability": 0.82,
          "details": {
            "common_names": ["white mold", "oidium"],
            "wiki_description": {"value": "A fungal disease."},
            "symptoms": {"leaf": "White spots on leaves", "stem": "Stunted growth"},
            "treatment": {
              "prevention": ["Improve airflow", "Avoid overhead watering"],
              "biological": "Bacillus subtilis",
              "chemical": []
            }
          }
        },
        {"name": "Leaf spot", "probability": 0.1}
      ]
    }
  }
}`

func kindwiseServer(t *testing.T, details string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Api-Key") != "k" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/v1/identification":
			var body struct{ Images []string }
			if err := json.NewDecoder(r.Body).Decode(&body); err != nil || len(body.Images) != 1 {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(`{"access_token":"tok123"}`))
		case r.Method == http.MethodGet && r.URL.Path == "/api/v1/identification/tok123":
			if !strings.Contains(r.URL.Query().Get("details"), "treatment") {
				w.WriteHeader(http.StatusBadRequest)
				return
			}
			_, _ = w.Write([]byte(details))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
}

func TestKindwiseDiagnose(t *testing.T) {
	srv := kindwiseServer(t, detailsBody)
	defer srv.Close()

	up := upstream.New("kindwise", srv.URL+"/api/v1", time.Second, nil).WithHeader("Api-Key", "k")
	d, err := NewKindwiseClient(up).Diagnose(context.Background(), writeImage(t))
	if err != nil {
		t.Fatalf("Diagnose: %v", err)
	}
	if d.Name != "Powdery mildew" || d.Probability != 0.82 {
		t.Fatalf("unexpected diagnosis %+v", d)
	}
	if d.CommonNames != "white mold, oidium" || d.Description != "A fungal disease." {
		t.Fatalf("unexpected details %+v", d)
	}
	if d.Symptoms != "White spots on leaves. Stunted growth" {
		t.Fatalf("symptoms = %q", d.Symptoms)
	}
	want := "prevention: Improve airflow, Avoid overhead watering\nbiological: Bacillus subtilis"
	if d.Treatment != want {
		t.Fatalf("treatment = %q", d.Treatment)
	}
}

func TestKindwiseNoDisease(t *testing.T) {
	srv := kindwiseServer(t, `{"result":{"is_plant":{"binary":true}}}`)
	defer srv.Close()

	up := upstream.New("kindwise", srv.URL+"/api/v1", time.Second, nil).WithHeader("Api-Key", "k")
	_, err := NewKindwiseClient(up).Diagnose(context.Background(), writeImage(t))
	if !errors.Is(err, ErrNoDiagnosis) {
		t.Fatalf("expected ErrNoDiagnosis, got %v", err)
	}
}

func TestKindwiseBadKey(t *testing.T) {
	srv := kindwiseServer(t, detailsBody)
	defer srv.Close()

	up := upstream.New("kindwise", srv.URL+"/api/v1", time.Second, nil).WithHeader("Api-Key", "wrong")
	if _, err := NewKindwiseClient(up).Diagnose(context.Background(), writeImage(t)); err == nil {
		t.Fatal("expected error")
	}
}
