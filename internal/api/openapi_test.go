package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestOpenAPIDocumentsEveryRoute(t *testing.T) {
	doc, err := LoadOpenAPI(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	r := NewRouter(nil, Options{})
	err = chi.Walk(r, func(method, route string, _ http.Handler, _ ...func(http.Handler) http.Handler) error {
		route = strings.TrimSuffix(route, "/")
		if route == "/openapi.json" || route == "/docs" {
			return nil
		}
		item := doc.Paths.Find("/api" + route)
		if item == nil {
			t.Errorf("route %s %s not documented", method, route)
			return nil
		}
		if item.GetOperation(method) == nil {
			t.Errorf("method %s not documented for %s", method, route)
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestOpenAPIHandler(t *testing.T) {
	rr := httptest.NewRecorder()
	OpenAPIHandler()(rr, httptest.NewRequest(http.MethodGet, "/api/openapi.json", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d: %s", rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"/api/query"`) {
		t.Fatalf("schema not rendered")
	}
}

func TestOpenAPIResponseDescriptions(t *testing.T) {
	doc, err := LoadOpenAPI(context.Background())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	op := doc.Paths.Find("/api/rag/search").Get
	if op == nil {
		t.Fatalf("search not documented")
	}
	resp := op.Responses.Status(http.StatusOK)
	if resp == nil || resp.Value.Description == nil || *resp.Value.Description != "Matches, best first" {
		t.Fatalf("unexpected search response: %+v", resp)
	}
}

func TestSwaggerHandlerPointsAtMountedDocument(t *testing.T) {
	rr := httptest.NewRecorder()
	SwaggerHandler()(rr, httptest.NewRequest(http.MethodGet, "/api/docs", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "openapi.json") {
		t.Fatalf("spec url missing: %s", rr.Body.String())
	}
}
