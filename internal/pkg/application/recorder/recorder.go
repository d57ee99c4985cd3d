package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/logging"
	"github.com/diwise/service-chassis/pkg/infrastructure/o11y/tracing"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Recorder persists put events to Postgres so that the change history of the
// watched locations survives stream restarts.
type Recorder interface {
	Start() error
	Stop() error

	StorePut(ctx context.Context, target string, data map[string]any) error
}

type action func()

type recorder struct {
	started bool
	pool    *pgxpool.Pool

	queue chan action
}

func New(ctx context.Context, connStr string) (Recorder, error) {
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}

	err = pool.Ping(ctx)
	if err != nil {
		return nil, err
	}

	err = createTables(ctx, pool)
	if err != nil {
		return nil, err
	}

	return &recorder{
		pool:  pool,
		queue: make(chan action, 32),
	}, nil
}

func (r *recorder) Start() error {
	if r.started {
		return fmt.Errorf("already started")
	}

	r.started = true

	go r.run()

	return nil
}

func (r *recorder) Stop() error {
	if r.started {
		resultChan := make(chan bool)

		r.queue <- func() {
			// close the queue to signal the consumer that we are going out of business
			close(r.queue)
			resultChan <- true
		}

		<-resultChan

		r.pool.Close()
		r.started = false
	}

	return nil
}

func (r *recorder) StorePut(ctx context.Context, target string, data map[string]any) error {
	if !r.started {
		return fmt.Errorf("not started")
	}

	logger := logging.GetFromContext(ctx)

	payload, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("marshalling error (%w)", err)
	}

	path, _ := data["path"].(string)
	receivedAt := time.Now().UTC()

	// queued writes must not be cancelled along with the caller
	ctx = detachContext(ctx)

	r.queue <- func() {
		err := r.insert(ctx, target, path, payload, receivedAt)
		if err != nil {
			logger.Error("failed to record put event", "target", target, "err", err.Error())
		}
	}

	return nil
}

func (r *recorder) insert(ctx context.Context, target, path string, payload []byte, receivedAt time.Time) error {
	sql := `INSERT INTO rtdb_events (id, target, path, payload, received_at) VALUES ($1, $2, $3, $4, $5);`

	_, err := r.pool.Exec(ctx, sql, uuid.New(), target, path, payload, receivedAt)

	return err
}

// detachContext carries the trace headers over to a context that outlives
// the caller's cancellation.
func detachContext(ctx context.Context) context.Context {
	return tracing.ExtractHeaders(context.Background(), tracing.InjectHeaders(ctx))
}

func (r *recorder) run() {
	// repeat until the queue is closed
	for action := range r.queue {
		if action == nil {
			return
		}

		action()
	}
}

func createTables(ctx context.Context, pool *pgxpool.Pool) error {
	sql := `
		CREATE TABLE IF NOT EXISTS rtdb_events (
			id uuid PRIMARY KEY,
			target text NOT NULL,
			path text NOT NULL,
			payload jsonb NOT NULL,
			received_at timestamptz NOT NULL
		);`

	_, err := pool.Exec(ctx, sql)

	return err
}
