package showcase

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tjfontaine/polyglot-rewrite/internal/core/ports"
	"github.com/tjfontaine/polyglot-rewrite/internal/registry"
	"github.com/tjfontaine/polyglot-rewrite/internal/rewrite"
	"github.com/tjfontaine/polyglot-rewrite/internal/storage"
	"github.com/tjfontaine/polyglot-rewrite/internal/storage/memory"
)

func newStore(t *testing.T) (http.Handler, *memory.Store, *bool) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memory.New()

	reg := registry.New(registry.Participants{
		Providers: []ports.RuleProvider{NewProvider(store, logger)},
		Inbound:   []ports.InboundProducer{rewrite.NewHTTPInboundProducer()},
	}, logger)
	eng, err := rewrite.New(context.Background(), reg, rewrite.WithLogger(logger))
	if err != nil {
		t.Fatalf("rewrite.New() error = %v", err)
	}

	appCalled := new(bool)
	app := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*appCalled = true
		http.NotFound(w, r)
	})
	return eng.Handler(app), store, appCalled
}

func do(h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, target, r))
	return rec
}

func TestShowcase_GetProduct(t *testing.T) {
	h, store, appCalled := newStore(t)
	if _, err := store.Add(context.Background(), storage.Product{Name: "lamp", Price: 9.5}); err != nil {
		t.Fatalf("Add() error = %v", err)
	}

	rec := do(h, http.MethodGet, "/store/product/1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/xml") {
		t.Errorf("Content-Type = %q", ct)
	}
	body := rec.Body.String()
	if !strings.Contains(body, `<product id="1"><name>lamp</name><price>9.5</price></product>`) {
		t.Errorf("body = %s", body)
	}
	if *appCalled {
		t.Error("application handler should not run for a HANDLED flow")
	}
}

func TestShowcase_ProductNotFound(t *testing.T) {
	h, _, appCalled := newStore(t)

	for _, target := range []string{"/store/product/7", "/store/product/abc"} {
		rec := do(h, http.MethodGet, target, "")
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
		}
	}
	if *appCalled {
		t.Error("application handler should not run")
	}
}

func TestShowcase_AddAndList(t *testing.T) {
	h, store, _ := newStore(t)

	rec := do(h, http.MethodPost, "/store/products",
		`<product><name>desk</name><description>oak</description><price>120</price></product>`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201: %s", rec.Code, rec.Body.String())
	}
	if loc := rec.Header().Get("Location"); loc != "/store/product/1" {
		t.Errorf("Location = %q, want /store/product/1", loc)
	}

	p, err := store.Get(context.Background(), 1)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if p.Name != "desk" || p.Description != "oak" || p.Price != 120 {
		t.Errorf("stored = %+v", p)
	}

	do(h, http.MethodPost, "/store/products", `<product><name>chair</name></product>`)

	rec = do(h, http.MethodGet, "/store/products", "")
	body := rec.Body.String()
	if !strings.Contains(body, "<products>") || strings.Count(body, "<product ") != 2 {
		t.Errorf("list body = %s", body)
	}
	if strings.Index(body, "desk") > strings.Index(body, "chair") {
		t.Errorf("products not ordered by id: %s", body)
	}
}

func TestShowcase_InvalidPost(t *testing.T) {
	h, store, _ := newStore(t)

	tests := []struct {
		name string
		body string
	}{
		{"malformed", "<product>"},
		{"missing name", "<product><price>1</price></product>"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(h, http.MethodPost, "/store/products", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", rec.Code)
			}
		})
	}

	list, _ := store.List(context.Background())
	if len(list) != 0 {
		t.Errorf("stored %d products, want 0", len(list))
	}
}

func TestShowcase_OtherPathsReachApplication(t *testing.T) {
	h, _, appCalled := newStore(t)

	do(h, http.MethodDelete, "/store/products", "")
	if !*appCalled {
		t.Error("unmatched request should reach the application")
	}
}
