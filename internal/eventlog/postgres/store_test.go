package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/clawderpunk/workspace-memory/internal/envelope"
	"github.com/clawderpunk/workspace-memory/internal/eventlog"
	"github.com/clawderpunk/workspace-memory/internal/eventlog/postgres"
)

func TestEventStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "eventlog/postgres Integration Suite")
}

var (
	ctx      context.Context
	pool     *pgxpool.Pool
	teardown func()
	store    eventlog.Store
)

var _ = BeforeSuite(func() {
	ctx = context.Background()
	req := testcontainers.ContainerRequest{
		Image:        "postgres:15-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_PASSWORD": "secret",
			"POSTGRES_USER":     "user",
			"POSTGRES_DB":       "testdb",
		},
		WaitingFor: wait.ForListeningPort("5432/tcp"),
	}
	postgresC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	Expect(err).NotTo(HaveOccurred())

	host, err := postgresC.Host(ctx)
	Expect(err).NotTo(HaveOccurred())
	port, err := postgresC.MappedPort(ctx, "5432")
	Expect(err).NotTo(HaveOccurred())

	dsn := fmt.Sprintf("postgres://user:secret@%s:%s/testdb?sslmode=disable", host, port.Port())
	pool, err = pgxpool.New(ctx, dsn)
	Expect(err).NotTo(HaveOccurred())

	Eventually(func() error {
		return pool.Ping(ctx)
	}, 10*time.Second, 200*time.Millisecond).Should(Succeed())

	_, err = pool.Exec(ctx, postgres.Schema)
	Expect(err).NotTo(HaveOccurred())

	store, err = postgres.New(ctx, pool)
	Expect(err).NotTo(HaveOccurred())

	teardown = func() {
		if pool != nil {
			pool.Close()
		}
		if postgresC != nil {
			_ = postgresC.Terminate(ctx)
		}
	}
})

var _ = AfterSuite(func() {
	if teardown != nil {
		teardown()
	}
})

func newEnvelope(workspace string, typ envelope.Type, opts ...envelope.Option) envelope.Envelope {
	e, err := envelope.New(workspace, "sat-1", uuid.New(), typ, envelope.SeverityLow, 0.5, map[string]any{"k": "v"}, opts...)
	Expect(err).NotTo(HaveOccurred())
	return e
}

var _ = Describe("eventlog/postgres.Store", func() {
	BeforeEach(func() {
		_, err := pool.Exec(ctx, "TRUNCATE TABLE events")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("Persist", func() {
		It("inserts a new envelope", func() {
			env := newEnvelope("ws-A", envelope.TypeTaskCreated)
			outcome, err := store.Persist(ctx, env)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(eventlog.Inserted))
		})

		It("reports a duplicate event_id as Duplicate rather than erroring", func() {
			env := newEnvelope("ws-A", envelope.TypeTaskCreated)
			_, err := store.Persist(ctx, env)
			Expect(err).NotTo(HaveOccurred())

			outcome, err := store.Persist(ctx, env)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(eventlog.Duplicate))
		})
	})

	Describe("Query", func() {
		It("filters by workspace and orders ascending by ts", func() {
			base := time.Now().UTC().Add(-time.Hour)
			e1 := newEnvelope("ws-B", envelope.TypeTaskCreated, envelope.WithTimestamp(base))
			e2 := newEnvelope("ws-B", envelope.TypeTaskCreated, envelope.WithTimestamp(base.Add(time.Minute)))
			_, err := store.Persist(ctx, e1)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Persist(ctx, e2)
			Expect(err).NotTo(HaveOccurred())
			_, err = store.Persist(ctx, newEnvelope("ws-other", envelope.TypeTaskCreated))
			Expect(err).NotTo(HaveOccurred())

			events, total, err := store.Query(ctx, "ws-B", eventlog.QueryFilter{Limit: eventlog.MaxLimit})
			Expect(err).NotTo(HaveOccurred())
			Expect(total).To(Equal(2))
			Expect(events).To(HaveLen(2))
			Expect(events[0].EventID).To(Equal(e1.EventID))
			Expect(events[1].EventID).To(Equal(e2.EventID))
		})
	})

	Describe("CountReferences and HasEventTypeInTrace", func() {
		It("scopes counts to the given workspace, trace and time window", func() {
			trace := uuid.New()
			since := time.Now().UTC().Add(-time.Minute)
			env := newEnvelope("ws-C", envelope.TypeDecisionRecorded, func(e *envelope.Envelope) { e.TraceID = trace })
			_, err := store.Persist(ctx, env)
			Expect(err).NotTo(HaveOccurred())

			n, err := store.CountReferences(ctx, "ws-C", trace, since)
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			has, err := store.HasEventTypeInTrace(ctx, "ws-C", trace, envelope.TypeDecisionRecorded)
			Expect(err).NotTo(HaveOccurred())
			Expect(has).To(BeTrue())
		})
	})
})
