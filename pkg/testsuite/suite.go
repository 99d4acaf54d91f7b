package testsuite

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	tcRedis "github.com/testcontainers/testcontainers-go/modules/redis"
	"github.com/testcontainers/testcontainers-go/wait"
)

type Options struct {
	MigrationsPath string
	WithKafka      bool
	WithRedis      bool
}

type BaseSuite struct {
	suite.Suite
	PgContainer    *postgres.PostgresContainer
	KafkaContainer *kafka.KafkaContainer
	RedisContainer *tcRedis.RedisContainer
	DbPool         *pgxpool.Pool
	DbURL          string
	KafkaBrokers   []string
	RedisAddr      string
	Ctx            context.Context
}

func (s *BaseSuite) SetupInfrastructure(opts Options) {
	s.Ctx = context.Background()

	if testing.Short() {
		s.T().Skip("integration suite skipped in -short mode")
	}
	testcontainers.SkipIfProviderIsNotHealthy(s.T())

	var err error
	s.PgContainer, err = postgres.Run(
		s.Ctx,
		"postgres:17-alpine",
		postgres.WithDatabase("test_db"),
		postgres.WithUsername("test_user"),
		postgres.WithPassword("test_password"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	s.Require().NoError(err)

	s.DbURL, err = s.PgContainer.ConnectionString(s.Ctx, "sslmode=disable")
	s.Require().NoError(err)

	if opts.WithKafka {
		s.KafkaContainer, err = kafka.Run(
			s.Ctx,
			"confluentinc/cp-kafka:7.5.0",
			kafka.WithClusterID("test-cluster"),
		)
		s.Require().NoError(err)

		s.KafkaBrokers, err = s.KafkaContainer.Brokers(s.Ctx)
		s.Require().NoError(err)
	}

	if opts.WithRedis {
		s.RedisContainer, err = tcRedis.Run(s.Ctx, "redis:7-alpine")
		s.Require().NoError(err)

		endpoint, err := s.RedisContainer.Endpoint(s.Ctx, "")
		s.Require().NoError(err)
		s.RedisAddr = endpoint
	}

	absPath, err := filepath.Abs(opts.MigrationsPath)
	s.Require().NoError(err)

	sourceURL := "file://" + absPath
	s.T().Logf("running migrations from: %s", sourceURL)

	m, err := migrate.New(sourceURL, s.DbURL)
	s.Require().NoError(err)
	s.Require().NoError(m.Up())

	s.DbPool, err = pgxpool.New(s.Ctx, s.DbURL)
	s.Require().NoError(err)
}

func (s *BaseSuite) TearDownInfrastructure() {
	if s.DbPool != nil {
		s.DbPool.Close()
	}
	if s.PgContainer != nil {
		if err := s.PgContainer.Terminate(s.Ctx); err != nil {
			s.T().Logf("failed to terminate postgres container: %v", err)
		}
	}
	if s.KafkaContainer != nil {
		if err := s.KafkaContainer.Terminate(s.Ctx); err != nil {
			s.T().Logf("failed to terminate kafka container: %v", err)
		}
	}
	if s.RedisContainer != nil {
		if err := s.RedisContainer.Terminate(s.Ctx); err != nil {
			s.T().Logf("failed to terminate redis container: %v", err)
		}
	}
}

func (s *BaseSuite) TruncateTables(tableNames ...string) {
	_, err := s.DbPool.Exec(s.Ctx, fmt.Sprintf("TRUNCATE %s RESTART IDENTITY CASCADE", strings.Join(tableNames, ", ")))
	s.Require().NoError(err)
}
