package handler

import (
	"bytes"
	_ "embed"
	"net/http"
	"time"
)

//go:embed openapi.yaml
var openAPISpec []byte

// DocsHandler serves the API description. It is mounted outside auth.
func DocsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/yaml")
	http.ServeContent(w, r, "openapi.yaml", time.Time{}, bytes.NewReader(openAPISpec))
}
