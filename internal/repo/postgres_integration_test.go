//go:build integration

package repo

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/tbourn/go-complaints-backend/internal/config"
	"github.com/tbourn/go-complaints-backend/internal/domain"
)

func newPostgres(t *testing.T) config.DBConfig {
	t.Helper()
	ctx := context.Background()

	pg, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("complaints"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = testcontainers.TerminateContainer(pg) })

	dsn, err := pg.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	return config.DBConfig{Driver: "postgres", DSN: dsn}
}

// Concurrent first submissions race on insert; every loser must see
// ErrDuplicate and land on the increment path.
func TestPostgres_ConcurrentInsertRace(t *testing.T) {
	db, err := Open(newPostgres(t))
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))

	ctx := context.Background()
	const workers = 16

	var wg sync.WaitGroup
	errs := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := &domain.Complaint{
				ProductID: "prod123", Content: "Broken", Complainant: "John Doe",
				Country: "Unknown", Counter: 1, CreatedDate: time.Now(),
			}
			err := CreateComplaint(ctx, db, c)
			if errors.Is(err, ErrDuplicate) {
				_, err = IncrementComplaintCounter(ctx, db, "prod123", "John Doe")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}

	all, err := ListComplaints(ctx, db)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, workers, all[0].Counter)
}

func TestPostgres_IdempotencyAndStats(t *testing.T) {
	db, err := Open(newPostgres(t))
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	ctx := context.Background()

	c := &domain.Complaint{ProductID: "p", Content: "c", Complainant: "a", Country: "Poland", Counter: 1, CreatedDate: time.Now()}
	require.NoError(t, CreateComplaint(ctx, db, c))

	_, err = CreateIdempotency(ctx, db, "203.0.113.5", "k", c.ID, 201, time.Hour)
	require.NoError(t, err)
	_, err = CreateIdempotency(ctx, db, "203.0.113.5", "k", c.ID, 201, time.Hour)
	assert.ErrorIs(t, err, ErrDuplicate)

	rec, err := GetIdempotency(ctx, db, "203.0.113.5", "k", time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, c.ID, rec.ComplaintID)

	n, maxAt, err := ComplaintsStats(ctx, db)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
	require.NotNil(t, maxAt)
}
