package bus_test

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/spesialist/internal/bus"
	"github.com/ashita-ai/spesialist/internal/storage"
	"github.com/ashita-ai/spesialist/internal/testutil"
)

var testDB *storage.DB

func TestMain(m *testing.M) {
	tc := testutil.MustStartPostgres()

	var err error
	testDB, err = tc.NewTestDB(context.Background(), testutil.TestLogger())
	if err != nil {
		tc.Terminate()
		panic(err)
	}

	code := m.Run()
	testDB.Close(context.Background())
	tc.Terminate()
	os.Exit(code)
}

// fangPublisher records publications and fails every message for the keys in feil.
type fangPublisher struct {
	mu        sync.Mutex
	publisert []bus.Melding
	feil      map[string]bool
}

func (p *fangPublisher) Publiser(_ context.Context, nøkkel string, m bus.Melding) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.feil[nøkkel] {
		return errors.New("bus nede")
	}
	p.publisert = append(p.publisert, m)
	return nil
}

func (p *fangPublisher) publisertFor(nøkkel string) []uuid.UUID {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []uuid.UUID
	for _, m := range p.publisert {
		if m.Nøkkel() == nøkkel {
			out = append(out, m.ID)
		}
	}
	return out
}

func leggIUtboks(t *testing.T, nøkkel string, n int) []uuid.UUID {
	t.Helper()
	meldinger := make([]bus.Melding, n)
	ids := make([]uuid.UUID, n)
	for i := range meldinger {
		m, err := bus.Ny(bus.OppgaveOppdatert, nøkkel, uuid.New(), map[string]int{"nr": i})
		require.NoError(t, err)
		meldinger[i], ids[i] = m, m.ID
	}
	require.NoError(t, testDB.WithTx(context.Background(), func(ctx context.Context, tx *storage.Tx) error {
		return tx.LeggIUtboks(ctx, meldinger...)
	}))
	return ids
}

func gjenstående(t *testing.T, nøkkel string) (antall, forsøk int) {
	t.Helper()
	require.NoError(t, testDB.Pool().QueryRow(context.Background(),
		`SELECT COUNT(*), COALESCE(MAX(attempts), 0) FROM utgaende_melding WHERE nokkel = $1`, nøkkel,
	).Scan(&antall, &forsøk))
	return antall, forsøk
}

func TestOutboxPublishesInOrderAndDeletes(t *testing.T) {
	nøkkel := uuid.NewString()[:11]
	ids := leggIUtboks(t, nøkkel, 3)

	p := &fangPublisher{}
	w := bus.NewOutboxWorker(testDB.Pool(), p, testutil.TestLogger(), 10*time.Millisecond, 10)
	w.Start(context.Background())

	require.Eventually(t, func() bool { return len(p.publisertFor(nøkkel)) == 3 }, 10*time.Second, 20*time.Millisecond)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.Equal(t, ids, p.publisertFor(nøkkel))
	antall, _ := gjenstående(t, nøkkel)
	assert.Zero(t, antall)
}

func TestOutboxFailureBlocksOnlyItsKey(t *testing.T) {
	feiler, frisk := uuid.NewString()[:11], uuid.NewString()[:11]
	leggIUtboks(t, feiler, 2)
	ids := leggIUtboks(t, frisk, 1)

	p := &fangPublisher{feil: map[string]bool{feiler: true}}
	w := bus.NewOutboxWorker(testDB.Pool(), p, testutil.TestLogger(), 10*time.Millisecond, 10)
	w.Start(context.Background())

	require.Eventually(t, func() bool { return len(p.publisertFor(frisk)) == 1 }, 10*time.Second, 20*time.Millisecond)
	require.Eventually(t, func() bool {
		_, forsøk := gjenstående(t, feiler)
		return forsøk >= 1
	}, 10*time.Second, 20*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.Equal(t, ids, p.publisertFor(frisk))
	assert.Empty(t, p.publisertFor(feiler))
	antall, _ := gjenstående(t, feiler)
	assert.Equal(t, 2, antall, "failed rows stay for retry")
}

func TestOutboxDrainFlushesPending(t *testing.T) {
	nøkkel := uuid.NewString()[:11]
	p := &fangPublisher{}
	w := bus.NewOutboxWorker(testDB.Pool(), p, testutil.TestLogger(), time.Hour, 10)
	w.Start(context.Background())

	ids := leggIUtboks(t, nøkkel, 2)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	w.Drain(ctx)

	assert.Equal(t, ids, p.publisertFor(nøkkel))
}
