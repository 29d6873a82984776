package server

import (
	_ "embed"
	"net/http"
)

//go:embed openapi.json
var openAPISpec []byte

// swaggerPage is a minimal Swagger UI shell; the heavy assets come from
// the swagger-ui-dist CDN so nothing is vendored into the binary.
const swaggerPage = `<!DOCTYPE html>
<html lang="en">
<head>
  <meta charset="utf-8">
  <title>Raskol API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    SwaggerUIBundle({url: "/api-docs/openapi.json", dom_id: "#swagger-ui"});
  </script>
</body>
</html>
`

var htmlCT = []string{"text/html; charset=utf-8"}

func (s *server) handleOpenAPI(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = jsonCT
	w.WriteHeader(http.StatusOK)
	w.Write(openAPISpec)
}

func (s *server) handleSwaggerUI(w http.ResponseWriter, _ *http.Request) {
	w.Header()["Content-Type"] = htmlCT
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(swaggerPage))
}
