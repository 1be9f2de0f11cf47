// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/testall/baas"
	"github.com/relabs-tech/testall/core/logger"
	"github.com/relabs-tech/testall/core/web"
)

// Service holds the configuration for this service
//
// use BAAS_URL=http://localhost:54321 BAAS_ANON_KEY=<key> to test a backend
type Service struct {
	BaaSURL     string `env:"BAAS_URL,default=http://localhost:54321" description:"the URL of the backend"`
	BaaSAnonKey string `env:"BAAS_ANON_KEY,default=<YOUR_ANON_KEY>" description:"the public API key of the backend"`
	BaaSBucket  string `env:"BAAS_BUCKET,default=test-bucket" description:"the storage bucket to test"`
	Port        int    `env:"PORT,default=3000" description:"the listen port"`
	LogLevel    string `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		panic(err)
	}
	logger.InitLoggerWithLevel(service.LogLevel)
	rlog := logger.Default()

	client := baas.NewREST(&baas.RESTBuilder{
		URL:     service.BaaSURL,
		AnonKey: service.BaaSAnonKey,
	})
	rlog.Infoln("testing backend", service.BaaSURL, "bucket", service.BaaSBucket)

	router := mux.NewRouter()
	logger.AddRequestID(router)
	w := web.New(&web.Builder{
		Router: router,
		Client: client,
		Bucket: service.BaaSBucket,
	})

	address := fmt.Sprintf(":%d", service.Port)
	rlog.Infoln("listen on port", address)
	srv := &http.Server{
		Addr:              address,
		Handler:           w.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		rlog.WithError(err).Fatalln("server stopped")
	}
}
