package service

import (
	"context"
	"sync"
	"testing"

	"github.com/and161185/sharevault/internal/blob"
	"github.com/and161185/sharevault/internal/crypto"
	"github.com/and161185/sharevault/internal/events"
	"github.com/and161185/sharevault/internal/model"
	"github.com/and161185/sharevault/internal/repository"
	"github.com/and161185/sharevault/internal/repository/memory"
	"go.uber.org/zap/zaptest"
)

var (
	engineOnce sync.Once
	engine     *crypto.Engine
	engineErr  error
)

// testEngine shares one engine across tests; RSA keygen is slow.
func testEngine(t *testing.T) *crypto.Engine {
	t.Helper()
	engineOnce.Do(func() { engine, engineErr = crypto.NewEngine(nil) })
	if engineErr != nil {
		t.Fatalf("engine: %v", engineErr)
	}
	return engine
}

type recorder struct {
	mu     sync.Mutex
	events []model.RoomEvent
}

func (r *recorder) handle(ev model.RoomEvent) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
}

func (r *recorder) types() []model.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.EventType, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

type fixture struct {
	files  *memory.FileRepo
	blobs  *blob.Memory
	rooms  *RoomServiceImpl
	fs     *FileServiceImpl
	events *recorder
}

func newFixture(t *testing.T, fopts FileOptions, ropts RoomOptions) *fixture {
	t.Helper()
	log := zaptest.NewLogger(t)
	bus := events.NewBus(log)
	rec := &recorder{}
	bus.SubscribeFunc(rec.handle)

	files := memory.NewFileRepo()
	blobs := blob.NewMemory()
	rooms := NewRoomService(memory.NewRoomRepo(), bus, ropts, log)
	fs, err := NewFileService(files, blobs, testEngine(t), rooms, fopts, log)
	if err != nil {
		t.Fatalf("NewFileService: %v", err)
	}
	return &fixture{files: files, blobs: blobs, rooms: rooms, fs: fs, events: rec}
}

// failingFileRepo fails Create after the blob has been written.
type failingFileRepo struct {
	repository.FileRepository
	err error
}

func (f *failingFileRepo) Create(context.Context, *model.FileRecord) error { return f.err }
