// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package backend

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/relabs-tech/testall/core/logger"
)

var (
	// Version is the version of the curent build
	Version = "unset"
)

func (b *Backend) handleVersion(router *mux.Router) {
	logger.Default().Debugln("version")
	logger.Default().Debugln("  handle version route: /version GET")
	router.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"version": Version})
	}).Methods(http.MethodOptions, http.MethodGet)
}
