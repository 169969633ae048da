package classifier

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/LeonardoBeccarini/smartfarm/internal/model/entities"
	"github.com/LeonardoBeccarini/smartfarm/internal/upstream"
)

func TestResolveConditionPriority(t *testing.T) {
	cases := []struct {
		labels []string
		want   entities.Condition
	}{
		{nil, entities.ConditionUnclassified},
		{[]string{"banana"}, entities.ConditionUnclassified},
		{[]string{"belum-siap"}, entities.ConditionNotReady},
		{[]string{"belum-siap", "siap-panen"}, entities.ConditionReadyToHarvest},
		{[]string{"siap-panen", "healty", "belum-siap"}, entities.ConditionHealthy},
		{[]string{"healty", "healty", "healty", "not healty"}, entities.ConditionUnhealthy},
		{[]string{"not healty", "healty", "healty"}, entities.ConditionUnhealthy},
		{[]string{"Ready_To_Harvest", "not_ready"}, entities.ConditionReadyToHarvest},
	}
	for _, tc := range cases {
		if got := ResolveCondition(tc.labels); got != tc.want {
			t.Fatalf("ResolveCondition(%v) = %s, want %s", tc.labels, got, tc.want)
		}
	}
}

func writeImage(t *testing.T) string {
	t.Helper()
	p := filepath.Join(t.TempDir(), "plant_3.jpg")
	if err := os.WriteFile(p, []byte("\xff\xd8jpeg-bytes"), 0o600); err != nil {
		t.Fatalf("write image: %v", err)
	}
	return p
}

func TestHTTPDetector(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f, hdr, err := r.FormFile("image")
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		defer f.Close()
		data, _ := io.ReadAll(f)
		if hdr.Filename != "plant_3.jpg" || string(data) != "\xff\xd8jpeg-bytes" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		_, _ = w.Write([]byte(`{"detections":[{"label":"healty","confidence":0.91},{"class":"not healty","confidence":0.55},{"label":"siap-panen","confidence":0.1}]}`))
	}))
	defer srv.Close()

	d := NewHTTPDetector(upstream.New("detector", srv.URL, time.Second, nil), "/detect", 0.25)
	labels, err := d.Detect(context.Background(), writeImage(t))
	if err != nil {
		t.Fatalf("Detect: %v", err)
	}
	if len(labels) != 2 || labels[0] != "healty" || labels[1] != "not healty" {
		t.Fatalf("labels = %v", labels)
	}

	if _, err := d.Detect(context.Background(), "/does/not/exist.jpg"); err == nil {
		t.Fatal("expected error for missing image")
	}
}
