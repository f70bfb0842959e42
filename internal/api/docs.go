package api

import (
	"html/template"
	"net/http"
	"strings"

	"github.com/kabir325/fogpool/internal/logx"
)

// OpenAPIHandler serves the embedded OpenAPI document as JSON.
func OpenAPIHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b, err := openAPIJSON()
		if err != nil {
			logx.Log.Error().Err(err).Msg("render openapi")
			http.Error(w, "openapi document unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if _, err := w.Write(b); err != nil {
			logx.Log.Error().Err(err).Msg("write openapi")
		}
	}
}

var docsPage = template.Must(template.New("docs").Parse(`<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>fogpool API</title>
<link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
<div id="swagger-ui"></div>
<script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
<script>
SwaggerUIBundle({url: {{.SpecURL}}, dom_id: '#swagger-ui', persistAuthorization: true});
</script>
</body>
</html>`))

// SwaggerHandler serves Swagger UI for the document next to it, so the page
// works wherever the router is mounted.
func SwaggerHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		base := strings.TrimSuffix(r.URL.Path, "/docs")
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		if err := docsPage.Execute(w, struct{ SpecURL string }{base + "/openapi.json"}); err != nil {
			logx.Log.Error().Err(err).Msg("render docs page")
		}
	}
}
