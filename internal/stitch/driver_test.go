package stitch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hoogenboom-lab/render-pipeline/internal/pipelinecfg"
	"github.com/hoogenboom-lab/render-pipeline/internal/renderclient"
	"github.com/hoogenboom-lab/render-pipeline/internal/workpool"
)

func newTestStitchConfig(baseURL string) pipelinecfg.StitchConfig {
	cfg := pipelinecfg.DefaultStitchConfig()
	cfg.Server = pipelinecfg.Server{BaseURL: baseURL, Owner: "acme", Project: "proj1"}
	cfg.SourceStack = "stack01"
	cfg.CPUParallel = 2
	return cfg
}

func TestRunReturnsErrorWhenStackHasNoZValues(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/render-ws/v1/owner/acme/project/proj1/stack/stack01/zValues", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("[]"))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := renderclient.New(srv.URL, "acme", "proj1", nil)
	cfg := newTestStitchConfig(srv.URL)

	_, err := Run(context.Background(), client, cfg, nil)
	if err == nil {
		t.Fatalf("expected an error for a stack with no z values")
	}
}

func TestRunPropagatesZValuesFetchError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/render-ws/v1/owner/acme/project/proj1/stack/stack01/zValues", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := renderclient.New(srv.URL, "acme", "proj1", nil)
	cfg := newTestStitchConfig(srv.URL)

	_, err := Run(context.Background(), client, cfg, nil)
	if err == nil {
		t.Fatalf("expected z-values fetch failure to propagate")
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	cfg := pipelinecfg.DefaultStitchConfig() // missing Server, SourceStack
	client := renderclient.New("http://render.example", "acme", "proj1", nil)
	_, err := Run(context.Background(), client, cfg, nil)
	if err == nil {
		t.Fatalf("expected validation error for an incomplete config")
	}
}

func TestGatedFetcherSurfacesRequestError(t *testing.T) {
	var served int
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		served++
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	client := renderclient.New(srv.URL, "acme", "proj1", nil)
	fetcher := gatedFetcher{client: client, gate: workpool.NewImageDownloadGate()}
	_, err := fetcher.BBImage(context.Background(), "stack01", 0, 0, 0, 10, 10, 1)
	if err == nil {
		t.Fatalf("expected the underlying request failure to surface")
	}
	if served != 1 {
		t.Fatalf("expected exactly one request to reach the server, got %d", served)
	}
}

func TestSeedForIsDeterministic(t *testing.T) {
	pair := Tilepair{PID: "p1", QID: "q2"}
	a := seedFor(pair)
	b := seedFor(pair)
	if a != b {
		t.Fatalf("expected seedFor to be deterministic: %d vs %d", a, b)
	}
	other := Tilepair{PID: "p1", QID: "q3"}
	if seedFor(other) == a {
		t.Fatalf("expected different tilepairs to produce different seeds")
	}
}
