package jwttrust

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"github.com/goccy/go-json"

	"github.com/finplat/jwt-trust/core"
	"github.com/finplat/jwt-trust/keys"
)

// DocumentSource supplies the JWKS document to publish. *keys.Publisher
// implements it.
type DocumentSource interface {
	Document(ctx context.Context) (*keys.Document, error)
}

// JWKSHandler serves the document of src as application/json. Responses carry
// a content ETag and honour If-None-Match.
func JWKSHandler(src DocumentSource, logger core.Logger) http.Handler {
	if logger == nil {
		logger = core.NopLogger{}
	}

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		doc, err := src.Document(r.Context())
		if err != nil {
			logger.Error("could not build JWKS document", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, ErrorResponse{Message: "Signing keys are unavailable."})
			return
		}

		body, err := json.Marshal(doc)
		if err != nil {
			logger.Error("could not encode JWKS document", "error", err)
			writeJSON(w, http.StatusInternalServerError, ErrorResponse{Message: "Signing keys are unavailable."})
			return
		}

		sum := sha256.Sum256(body)
		etag := `"` + hex.EncodeToString(sum[:]) + `"`
		if inm := r.Header.Get("If-None-Match"); inm != "" && inm == etag {
			w.WriteHeader(http.StatusNotModified)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "public, max-age=300, must-revalidate")
		w.Header().Set("ETag", etag)
		_, _ = w.Write(body)
	})
}
