package assembly

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/ctxpack/internal/backend"
)

// fakeBackend is an in-memory backend.Backend with hooks for failures and
// slow responses.
type fakeBackend struct {
	mu       sync.Mutex
	nextID   int
	contexts map[string]*backend.ContextSummary
	calls    map[string]int
	deleted  []string

	// streamErr decides the outcome of each streaming call.
	streamErr func(paths []string) error
	batchErr  error
	// gate returns a channel the nth streaming call (1-based) waits on.
	gate func(n int) <-chan struct{}
	// entered receives the call number when a streaming call starts.
	entered chan int
	// buildDuration is reported in the summary metadata.
	buildDuration time.Duration
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		contexts: map[string]*backend.ContextSummary{},
		calls:    map[string]int{},
	}
}

func (f *fakeBackend) count(method string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[method]
}

func (f *fakeBackend) deletedIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.deleted...)
}

func (f *fakeBackend) has(id string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.contexts[id]
	return ok
}

// forget removes a context without recording a delete, as if the backend
// expired it.
func (f *fakeBackend) forget(id string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.contexts, id)
}

func (f *fakeBackend) create(projectPath string, paths []string) *backend.ContextSummary {
	f.nextID++
	now := time.Now()
	sum := &backend.ContextSummary{
		ID:          fmt.Sprintf("ctx-%d", f.nextID),
		ProjectPath: projectPath,
		FileCount:   len(paths),
		TotalSize:   int64(100 * len(paths)),
		TokenCount:  1000 * len(paths),
		LineCount:   25 * len(paths),
		CreatedAt:   now,
		UpdatedAt:   now,
		Status:      backend.StatusReady,
		Metadata: backend.Metadata{
			SelectedFiles: append([]string(nil), paths...),
			BuildDuration: f.buildDuration,
		},
	}
	f.contexts[sum.ID] = sum
	return sum
}

func (f *fakeBackend) CreateStreamingContext(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions) (*backend.StreamingContext, error) {
	f.mu.Lock()
	f.calls["stream"]++
	n := f.calls["stream"]
	gate, entered, streamErr := f.gate, f.entered, f.streamErr
	f.mu.Unlock()

	if entered != nil {
		entered <- n
	}
	if gate != nil {
		if ch := gate(n); ch != nil {
			<-ch
		}
	}
	if streamErr != nil {
		if err := streamErr(paths); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	sum := f.create(projectPath, paths)
	return &backend.StreamingContext{
		ID:          sum.ID,
		ProjectPath: projectPath,
		Files:       sum.Metadata.SelectedFiles,
		TotalLines:  sum.LineCount,
		TotalChars:  sum.TotalSize,
		TokenCount:  sum.TokenCount,
		CreatedAt:   sum.CreatedAt,
		UpdatedAt:   sum.UpdatedAt,
		Metadata:    sum.Metadata,
	}, nil
}

func (f *fakeBackend) BuildContext(ctx context.Context, projectPath string, paths []string, opts backend.BuildOptions) (*backend.ContextSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["batch"]++
	if f.batchErr != nil {
		return nil, f.batchErr
	}
	return f.create(projectPath, paths).Clone(), nil
}

func (f *fakeBackend) GetContextContent(ctx context.Context, id string, req backend.ChunkRequest) (*backend.ContextChunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["content"]++
	sum, ok := f.contexts[id]
	if !ok {
		return nil, backend.NewError(backend.CodeNotFound, "context not found").WithContextID(id)
	}
	chunk := &backend.ContextChunk{ContextID: id, ChunkID: fmt.Sprintf("%s:%d", id, req.StartLine), StartLine: req.StartLine, TotalLines: sum.LineCount}
	for i := req.StartLine; i < sum.LineCount && len(chunk.Lines) < req.LineCount; i++ {
		chunk.Lines = append(chunk.Lines, fmt.Sprintf("line %d", i))
	}
	chunk.LineCount = len(chunk.Lines)
	chunk.HasMore = req.StartLine+chunk.LineCount < sum.LineCount
	return chunk, nil
}

func (f *fakeBackend) DeleteContext(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["delete"]++
	if _, ok := f.contexts[id]; !ok {
		return backend.NewError(backend.CodeNotFound, "context not found").WithContextID(id)
	}
	delete(f.contexts, id)
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) GetContextSummary(ctx context.Context, id string) (*backend.ContextSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls["summary"]++
	sum, ok := f.contexts[id]
	if !ok {
		return nil, backend.NewError(backend.CodeNotFound, "context not found").WithContextID(id)
	}
	return sum.Clone(), nil
}

func (f *fakeBackend) ListContexts(ctx context.Context, projectPath string) ([]*backend.ContextSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*backend.ContextSummary
	for _, s := range f.contexts {
		out = append(out, s.Clone())
	}
	return out, nil
}

// mapSizes is a SizeLookup over a fixed map.
type mapSizes map[string]int64

func (m mapSizes) Size(path string) (int64, bool) {
	n, ok := m[path]
	return n, ok
}

type fixedHeap struct {
	heap uint64
	err  error
}

func (p fixedHeap) HeapBytes() (uint64, error) { return p.heap, p.err }

type recordingGuard struct {
	mu     sync.Mutex
	before int
	after  int
}

func (g *recordingGuard) BeforeBuild(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.before++
}

func (g *recordingGuard) AfterBuild(context.Context) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.after++
}

func (g *recordingGuard) counts() (int, int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.before, g.after
}
