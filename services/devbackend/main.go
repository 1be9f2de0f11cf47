// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package main

import (
	"context"
	"embed"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/joeshaw/envdecode"

	"github.com/relabs-tech/testall/core"
	"github.com/relabs-tech/testall/core/access"
	"github.com/relabs-tech/testall/core/backend"
	"github.com/relabs-tech/testall/core/backend/kss"
	"github.com/relabs-tech/testall/core/csql"
	"github.com/relabs-tech/testall/core/logger"
	"github.com/relabs-tech/testall/core/schema"
)

//go:embed backend.json
var configurationJSON string

//go:embed schemas/*.json
var schemasFS embed.FS

// Service holds the configuration for this service
//
// use POSTGRES="host=localhost port=5432 user=postgres dbname=postgres sslmode=disable"
// and POSTGRES_PASSWORD=docker for persistent accounts and tables. Without POSTGRES
// everything but the objects is kept in memory.
type Service struct {
	Port             int           `env:"PORT,default=54321" description:"the listen port"`
	AnonKey          string        `env:"ANON_KEY,default=<YOUR_ANON_KEY>" description:"the public API key every request must carry"`
	JWTSecret        string        `env:"JWT_SECRET,default=testall-local-development-secret" description:"the HS256 secret of access tokens"`
	JWTExpiry        time.Duration `env:"JWT_EXPIRY,default=1h" description:"validity of access tokens"`
	Autoconfirm      bool          `env:"AUTOCONFIRM,default=true" description:"new accounts can login without confirmation"`
	Postgres         string        `env:"POSTGRES,optional" description:"the connection string for the Postgres DB without password"`
	PostgresPassword string        `env:"POSTGRES_PASSWORD,optional" description:"password for the Postgres DB"`
	PostgresSchema   string        `env:"POSTGRES_SCHEMA,default=testall" description:"the schema of all tables"`
	KssDriver        string        `env:"KSS_DRIVER,default=Local" description:"the object storage driver, Local or AWSS3"`
	KssLocalPath     string        `env:"KSS_LOCAL_PATH,default=./storage" description:"base folder of the Local driver"`
	AWSRegion        string        `env:"AWS_REGION,optional" description:"region of the AWSS3 driver"`
	AWSBucketName    string        `env:"AWS_BUCKET_NAME,optional" description:"bucket of the AWSS3 driver"`
	AWSAccessID      string        `env:"AWS_ACCESS_ID,optional" description:"access id of the AWSS3 driver"`
	AWSAccessKey     string        `env:"AWS_ACCESS_KEY,optional" description:"access key of the AWSS3 driver"`
	AWSEndpoint      string        `env:"AWS_ENDPOINT,optional" description:"endpoint of S3 compatible stores"`
	KafkaBrokers     string        `env:"KAFKA_BROKERS,optional" description:"comma separated kafka brokers, enables kafka notifications"`
	KafkaTopic       string        `env:"KAFKA_TOPIC,default=resource_notification" description:"topic of kafka notifications"`
	SQSQueueURL      string        `env:"SQS_QUEUE_URL,optional" description:"enables SQS notifications"`
	LogLevel         string        `env:"LOG_LEVEL,default=info" description:"the log level"`
}

func main() {
	service := &Service{}
	if err := envdecode.Decode(service); err != nil && err != envdecode.ErrNoTargetFieldsAreSet {
		panic(err)
	}
	logger.InitLoggerWithLevel(service.LogLevel)
	rlog := logger.Default()
	ctx := context.Background()

	var accounts access.Store = access.NewMemoryStore()
	var tables backend.TableStore = backend.NewMemoryTables()
	if service.Postgres != "" {
		db := csql.OpenWithSchema(service.Postgres, service.PostgresPassword, service.PostgresSchema)
		defer db.Close()
		accounts = access.NewPostgresStore(db)
		tables = backend.NewPostgresTables(db)
		rlog.Infoln("using postgres schema", service.PostgresSchema)
	}

	kssConfig := kss.Configuration{DriverType: kss.DriverType(service.KssDriver)}
	switch kssConfig.DriverType {
	case kss.DriverTypeLocal:
		kssConfig.LocalConfiguration = &kss.LocalConfiguration{BasePath: service.KssLocalPath}
	case kss.DriverTypeAWSS3:
		kssConfig.S3Configuration = &kss.S3Configuration{
			AWSRegion:     service.AWSRegion,
			AWSBucketName: service.AWSBucketName,
			AccessID:      service.AWSAccessID,
			AccessKey:     service.AWSAccessKey,
			Endpoint:      service.AWSEndpoint,
		}
	}
	driver, err := kss.New(ctx, kssConfig)
	if err != nil {
		panic(err)
	}

	schemas, err := fs.Sub(schemasFS, "schemas")
	if err != nil {
		panic(err)
	}
	validator, err := schema.NewValidatorFromFS(schemas)
	if err != nil {
		panic(err)
	}

	var notifiers backend.MultiNotifier
	if service.KafkaBrokers != "" {
		kafkaNotifier := backend.NewKafkaNotifier(strings.Split(service.KafkaBrokers, ","), service.KafkaTopic)
		defer kafkaNotifier.Close()
		notifiers = append(notifiers, kafkaNotifier)
		rlog.Infoln("kafka notifications to topic", service.KafkaTopic)
	}
	if service.SQSQueueURL != "" {
		sqsNotifier, err := backend.NewSQSNotifier(ctx, service.SQSQueueURL)
		if err != nil {
			panic(err)
		}
		notifiers = append(notifiers, sqsNotifier)
		rlog.Infoln("sqs notifications to", service.SQSQueueURL)
	}
	var notifier core.Notifier
	if len(notifiers) > 0 {
		notifier = notifiers
	}

	router := mux.NewRouter()
	logger.AddRequestID(router)
	backend.New(&backend.Builder{
		Config:      configurationJSON,
		Router:      router,
		AnonKey:     service.AnonKey,
		Accounts:    accounts,
		JWTSecret:   service.JWTSecret,
		JWTExpiry:   service.JWTExpiry,
		Autoconfirm: service.Autoconfirm,
		Tables:      tables,
		KSS:         driver,
		Validator:   validator,
		Notifier:    notifier,
	})

	address := fmt.Sprintf(":%d", service.Port)
	rlog.Infoln("listen on port", address)
	srv := &http.Server{
		Addr:              address,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		rlog.WithError(err).Fatalln("server stopped")
	}
}
