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

	"github.com/clawderpunk/workspace-memory/internal/memory"
	"github.com/clawderpunk/workspace-memory/internal/memory/postgres"
)

func TestMemoryStore(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "memory/postgres Integration Suite")
}

var (
	ctx      context.Context
	pool     *pgxpool.Pool
	teardown func()
	store    memory.Store
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

func newCandidate(workspace string) memory.Entry {
	now := time.Now().UTC()
	return memory.Entry{
		EntryID:       uuid.New(),
		WorkspaceID:   workspace,
		Bucket:        memory.BucketWorkspace,
		Key:           "risk.flag",
		Value:         map[string]any{"level": "high"},
		Status:        memory.StatusCandidate,
		Confidence:    0.8,
		SourceEventID: uuid.New(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

var _ = Describe("memory/postgres.Store", func() {
	BeforeEach(func() {
		_, err := pool.Exec(ctx, "TRUNCATE TABLE memory_entries")
		Expect(err).NotTo(HaveOccurred())
		_, err = pool.Exec(ctx, "TRUNCATE TABLE projection_cursor")
		Expect(err).NotTo(HaveOccurred())
	})

	Describe("CreateEntry", func() {
		It("inserts a new candidate entry", func() {
			entry := newCandidate("ws-A")
			outcome, err := store.CreateEntry(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.Inserted))
		})

		It("reports a repeat source_event_id as Duplicate", func() {
			entry := newCandidate("ws-A")
			_, err := store.CreateEntry(ctx, entry)
			Expect(err).NotTo(HaveOccurred())

			entry.EntryID = uuid.New()
			outcome, err := store.CreateEntry(ctx, entry)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.Duplicate))
		})
	})

	Describe("UpdateStatus", func() {
		It("transitions candidate to promoted and stamps promoted_at", func() {
			entry := newCandidate("ws-B")
			_, err := store.CreateEntry(ctx, entry)
			Expect(err).NotTo(HaveOccurred())

			ts := time.Now().UTC()
			outcome, err := store.UpdateStatus(ctx, entry.EntryID, memory.StatusPromoted, ts)
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.Updated))

			status := memory.StatusPromoted
			entries, err := store.GetEntries(ctx, "ws-B", memory.GetEntriesFilter{Status: &status})
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(HaveLen(1))
			Expect(entries[0].PromotedAt).NotTo(BeNil())
		})

		It("reports NotFound for an unknown entry_id", func() {
			outcome, err := store.UpdateStatus(ctx, uuid.New(), memory.StatusPromoted, time.Now().UTC())
			Expect(err).NotTo(HaveOccurred())
			Expect(outcome).To(Equal(memory.NotFound))
		})
	})

	Describe("GetEntries", func() {
		It("defaults to promoted-only", func() {
			candidate := newCandidate("ws-C")
			_, err := store.CreateEntry(ctx, candidate)
			Expect(err).NotTo(HaveOccurred())

			entries, err := store.GetEntries(ctx, "ws-C", memory.GetEntriesFilter{})
			Expect(err).NotTo(HaveOccurred())
			Expect(entries).To(BeEmpty())
		})
	})

	Describe("Cursor", func() {
		It("round-trips the projection cursor", func() {
			_, ok, err := store.GetCursor(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeFalse())

			cursor := memory.Cursor{LastEventID: uuid.New(), LastEventTS: time.Now().UTC(), UpdatedAt: time.Now().UTC()}
			Expect(store.UpdateCursor(ctx, cursor)).To(Succeed())

			got, ok, err := store.GetCursor(ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(ok).To(BeTrue())
			Expect(got.LastEventID).To(Equal(cursor.LastEventID))
		})
	})
})
