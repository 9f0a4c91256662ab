package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"interviewprep/pkg/ai"
	"interviewprep/pkg/domain"
	"interviewprep/pkg/notify"
	"interviewprep/pkg/queue"
	"interviewprep/pkg/storage"
	"interviewprep/pkg/store"
)

type fakeGenerator struct {
	mu        sync.Mutex
	responses []string
	err       error
	panicMsg  string
	prompts   []string
}

func (g *fakeGenerator) GenerateText(_ context.Context, _, userPrompt string) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.prompts = append(g.prompts, userPrompt)
	if g.panicMsg != "" {
		panic(g.panicMsg)
	}
	if g.err != nil {
		return "", g.err
	}
	if len(g.responses) == 0 {
		return "", errors.New("no scripted response")
	}
	out := g.responses[0]
	g.responses = g.responses[1:]
	return out, nil
}

func (g *fakeGenerator) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.prompts)
}

type fakeQueue struct {
	mu         sync.Mutex
	deliveries []queue.Delivery
	err        error
}

func (q *fakeQueue) Enqueue(_ context.Context, d queue.Delivery) (queue.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return queue.Delivery{}, q.err
	}
	d.ID = d.JobID
	d.Status = queue.StatusQueued
	q.deliveries = append(q.deliveries, d)
	return d, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	events  []notify.Event
	err     error
	panicOn string
}

func (n *recordingNotifier) Notify(_ context.Context, e notify.Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, e)
	if e.Type == n.panicOn {
		panic("notifier exploded on " + e.Type)
	}
	return n.err
}

type testEnv struct {
	app      *App
	store    *store.MemoryStore
	gen      *fakeGenerator
	queue    *fakeQueue
	notifier *recordingNotifier
	objects  *storage.MemoryObjectStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithStore(t, func(m *store.MemoryStore) store.Store { return m })
}

// newTestEnvWithStore lets a test wrap the memory store the app talks to.
func newTestEnvWithStore(t *testing.T, wrap func(*store.MemoryStore) store.Store) *testEnv {
	t.Helper()
	env := &testEnv{
		store:    store.NewMemoryStore(),
		gen:      &fakeGenerator{},
		queue:    &fakeQueue{},
		notifier: &recordingNotifier{},
		objects:  storage.NewMemoryObjectStore(),
	}
	a, err := New(Config{
		Store:             wrap(env.store),
		Generator:         env.gen,
		Retry:             ai.RetryPolicy{MaxAttempts: 1},
		GenerationTimeout: 5 * time.Second,
		Queue:             env.queue,
		Archive:           storage.NewRawOutputArchive(env.objects, time.Minute),
		Notifier:          env.notifier,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	env.app = a
	return env
}

func (env *testEnv) seedInterview(t *testing.T, userID string) domain.Interview {
	t.Helper()
	iv, err := env.app.CreateInterview(context.Background(), userID, InterviewInput{
		Company:     "Acme",
		Position:    "Backend Engineer",
		Resume:      "Five years of Go services.",
		CoverLetter: "I like building reliable systems.",
	})
	if err != nil {
		t.Fatalf("create interview: %v", err)
	}
	return iv
}

// seedVersion stores a full default question set for iv.
func (env *testEnv) seedVersion(t *testing.T, iv domain.Interview) domain.QAVersion {
	t.Helper()
	v := domain.QAVersion{
		ID:          "qa-seed",
		InterviewID: iv.ID,
		UserID:      iv.UserID,
		Questions:   questionGrid(domain.QuestionsPerCategory),
		Answers:     domain.EmptyAnswers(),
		IsDefault:   true,
		Type:        domain.JobQuestionsGenerated,
		CreatedAt:   time.Now().UTC().Add(-time.Hour),
	}
	env.store.SaveQAVersion(v)
	return v
}

func (env *testEnv) balance(t *testing.T, userID string) decimal.Decimal {
	t.Helper()
	b, err := env.app.Balance(context.Background(), userID)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return b
}

func (env *testEnv) job(t *testing.T, id string) domain.Job {
	t.Helper()
	job, ok, err := env.store.GetJob(context.Background(), id)
	if err != nil || !ok {
		t.Fatalf("get job %s: ok=%v err=%v", id, ok, err)
	}
	return job
}

func (env *testEnv) deliver(t *testing.T, jobID string) WorkerResult {
	t.Helper()
	job := env.job(t, jobID)
	res, err := env.app.HandleDelivery(context.Background(), Delivery{
		JobID:       job.ID,
		UserID:      job.UserID,
		InterviewID: job.InterviewID,
	})
	if err != nil {
		t.Fatalf("handle delivery: %v", err)
	}
	return res
}

func questionGrid(perCategory int) map[string][]string {
	grid := make(map[string][]string, len(domain.Categories))
	for _, c := range domain.Categories {
		items := make([]string, perCategory)
		for i := range items {
			items[i] = fmt.Sprintf("%s question %d?", c, i+1)
		}
		grid[c] = items
	}
	return grid
}

func questionSetJSON(t *testing.T, grid map[string][]string) string {
	t.Helper()
	data, err := json.Marshal(grid)
	if err != nil {
		t.Fatalf("marshal grid: %v", err)
	}
	return string(data)
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertBalance(t *testing.T, env *testEnv, userID, want string) {
	t.Helper()
	if got := env.balance(t, userID); !got.Equal(dec(want)) {
		t.Fatalf("balance = %s, want %s", got, want)
	}
}
