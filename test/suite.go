// Copyright 2021 Dalarub & Ettrich GmbH - All Rights Reserved
// Unauthorized copying of this file, via any medium is strictly prohibited
// Proprietary and confidential
// info@dalarub.com
//

package test

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/testall/baas"
	"github.com/relabs-tech/testall/core/access"
	"github.com/relabs-tech/testall/core/backend"
	"github.com/relabs-tech/testall/core/backend/kss"
	"github.com/relabs-tech/testall/core/csql"
	"github.com/relabs-tech/testall/core/schema"
)

const (
	anonKey           = "integration-anon-key"
	notificationTopic = "resource_notification"
	profileSchema     = `{
	  "$id": "https://testall.local/schemas/profile.json",
	  "type": "object",
	  "required": ["name"],
	  "properties": { "name": { "type": "string", "minLength": 1 } }
	}`
)

var configurationJSON = `{
	"tables": [
	  {
		"table": "profiles",
		"columns": ["name"],
		"schema_id": "https://testall.local/schemas/profile.json"
	  }
	],
	"buckets": [
	  {
		"bucket": "test-bucket"
	  }
	]
  }`

// IntegrationTestSuite runs the development backend on postgres and kafka containers
// and talks to it over HTTP with the REST client
type IntegrationTestSuite struct {
	suite.Suite
	*backend.Backend
	srv *http.Server

	dbConn   *csql.DB
	router   *mux.Router
	client   *baas.REST
	accounts *access.PostgresStore
	notifier *backend.KafkaNotifier
	kssDir   string

	network            testcontainers.Network
	kafkaContainer     testcontainers.Container
	zookeeperContainer testcontainers.Container
	postgresContainer  testcontainers.Container
	kafkaConn          *kafka.Conn
	kafkaAddr          string
	postgresAddr       string
	postgresUser       string
	postgresPassword   string
	postgresDB         string
}

func (s *IntegrationTestSuite) createTopic(topic string, numPartitions int) error {
	if s.kafkaConn == nil {
		return fmt.Errorf("kafka connection is not established")
	}

	err := s.kafkaConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     numPartitions,
		ReplicationFactor: 1,
	})
	if err != nil {
		return fmt.Errorf("failed to create topic %s: %w", topic, err)
	}
	return nil
}

func (s *IntegrationTestSuite) SetupSuite() {
	ctx := context.Background()

	// Create a shared Docker network for Kafka and Zookeeper
	networkName := "testall-network_" + fmt.Sprintf("%d", time.Now().Unix())
	network, err := testcontainers.GenericNetwork(ctx, testcontainers.GenericNetworkRequest{
		NetworkRequest: testcontainers.NetworkRequest{
			Name:           networkName,
			CheckDuplicate: true,
		},
	})
	s.Require().NoError(err)
	s.network = network

	postgresUser := "testuser"
	postgresPassword := "testpass"
	postgresDB := "testdb"

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:15",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     postgresUser,
			"POSTGRES_PASSWORD": postgresPassword,
			"POSTGRES_DB":       postgresDB,
		},
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"postgres"}},
		WaitingFor:     wait.ForLog("database system is ready to accept connections").WithOccurrence(2),
	}
	pgC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.postgresContainer = pgC

	pgHost, err := pgC.Host(ctx)
	s.Require().NoError(err)
	pgPort, err := pgC.MappedPort(ctx, "5432")
	s.Require().NoError(err)
	s.postgresAddr = fmt.Sprintf("%s:%s", pgHost, pgPort.Port())
	s.postgresUser = postgresUser
	s.postgresPassword = postgresPassword
	s.postgresDB = postgresDB

	zooReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-zookeeper:7.5.0",
		ExposedPorts: []string{"2181/tcp"},
		Env: map[string]string{
			"ZOOKEEPER_CLIENT_PORT": "2181",
			"ZOOKEEPER_TICK_TIME":   "2000",
		},
		WaitingFor:     wait.ForListeningPort("2181/tcp"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
	}
	zooC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: zooReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.zookeeperContainer = zooC

	kafkaReq := testcontainers.ContainerRequest{
		Image:        "confluentinc/cp-kafka:7.5.0",
		ExposedPorts: []string{"9092:9092/tcp", "29092:29092/tcp"},
		Env: map[string]string{
			"KAFKA_BROKER_ID":                        "1",
			"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
			"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,PLAINTEXT_HOST://0.0.0.0:29092,EXTERNAL://0.0.0.0:9093",
			"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,PLAINTEXT_HOST://localhost:29092,EXTERNAL://kafka:9093",
			"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,PLAINTEXT_HOST:PLAINTEXT,EXTERNAL:PLAINTEXT",
			"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			"ALLOW_PLAINTEXT_LISTENER":               "yes",
		},
		WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)"),
		Networks:       []string{networkName},
		NetworkAliases: map[string][]string{networkName: {"kafka"}},
	}
	kafkaC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: kafkaReq,
		Started:          true,
	})
	s.Require().NoError(err)
	s.kafkaContainer = kafkaC

	kafkaHost, err := kafkaC.Host(ctx)
	s.Require().NoError(err)
	kafkaPort, err := kafkaC.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", kafkaHost, kafkaPort.Port())

	s.kafkaConn, err = kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	err = s.createTopic(notificationTopic, 1)
	s.Require().NoError(err, "Failed to create resource_notification topic")

	s.dbConn = csql.OpenWithSchema(fmt.Sprintf("host=%s port=%s user=%s dbname=%s sslmode=disable",
		pgHost, pgPort.Port(), s.postgresUser, s.postgresDB), s.postgresPassword, "testall_it")

	s.kssDir, err = os.MkdirTemp("", "testall-integration")
	s.Require().NoError(err)
	driver, err := kss.NewLocalFilesystem(kss.LocalConfiguration{BasePath: s.kssDir})
	s.Require().NoError(err)
	validator, err := schema.NewValidator([]string{profileSchema}, nil)
	s.Require().NoError(err)

	s.accounts = access.NewPostgresStore(s.dbConn)
	s.notifier = backend.NewKafkaNotifier([]string{s.kafkaAddr}, notificationTopic)
	s.router = mux.NewRouter()
	s.Backend = backend.New(&backend.Builder{
		Config:      configurationJSON,
		Router:      s.router,
		AnonKey:     anonKey,
		Accounts:    s.accounts,
		JWTSecret:   "integration-secret",
		Autoconfirm: true,
		Tables:      backend.NewPostgresTables(s.dbConn),
		KSS:         driver,
		Validator:   validator,
		Notifier:    s.notifier,
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	s.Require().NoError(err)
	s.srv = &http.Server{
		Handler: s.router,
	}
	go func() {
		err := s.srv.Serve(listener)
		if err != nil && err != http.ErrServerClosed {
			s.T().Errorf("Failed to start HTTP server: %v", err)
		}
	}()
	s.client = baas.NewREST(&baas.RESTBuilder{
		URL:     "http://" + listener.Addr().String(),
		AnonKey: anonKey,
	})
}

func (s *IntegrationTestSuite) TearDownSuite() {
	ctx := context.Background()
	if s.srv != nil {
		err := s.srv.Shutdown(ctx)
		s.Require().NoError(err)
	}
	if s.notifier != nil {
		s.notifier.Close()
	}
	if s.kafkaConn != nil {
		s.kafkaConn.Close()
	}
	if s.dbConn != nil {
		s.dbConn.ClearSchema()
		s.dbConn.Close()
	}
	if s.kssDir != "" {
		os.RemoveAll(s.kssDir)
	}

	for _, c := range []testcontainers.Container{s.kafkaContainer, s.zookeeperContainer, s.postgresContainer} {
		if c != nil {
			err := c.Terminate(ctx)
			s.Require().NoError(err)
		}
	}
	if s.network != nil {
		s.network.Remove(ctx)
	}
}
