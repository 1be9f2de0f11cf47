// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"
	"strings"

	"github.com/relabs-tech/testall/core/logger"
)

// CORSAllowedHeaders are the request headers browsers may send to the backend.
// Besides the usual ones these are the headers of the BaaS client libraries.
var CORSAllowedHeaders = []string{
	"Accept", "Content-Type", "Content-Length", "Accept-Encoding", "Authorization",
	"apikey", "x-client-info", "x-upsert", "prefer", "cache-control", "X-Request-Id",
}

func (b *Backend) handleCORS() {
	allowedHeaders := strings.Join(CORSAllowedHeaders, ", ")

	corsMiddleware := func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS, PUT, DELETE, PATCH")
			w.Header().Set("Access-Control-Allow-Headers", allowedHeaders)
			w.Header().Set("Access-Control-Expose-Headers", "*")
			w.Header().Set("Access-Control-Max-Age", "86400") // 24 hours

			// Handle preflight OPTIONS request
			if r.Method == http.MethodOptions {
				logger.FromContext(r.Context()).Debugln("called route for", r.URL, r.Method, " (handled by CORS middleware)")
				w.WriteHeader(http.StatusNoContent)
				return
			}

			h.ServeHTTP(w, r)
		})
	}
	b.router.Use(corsMiddleware)
}
