package ingest

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"study-rag/internal/blob"
	"study-rag/internal/models"
	"study-rag/internal/parser"
	"study-rag/internal/store/memory"
)

type stubEmbedder struct {
	err   error
	block bool
	calls int
}

func (s *stubEmbedder) EmbedChunks(ctx context.Context, chunks []string) ([][]float32, error) {
	s.calls++
	if s.block {
		<-ctx.Done()
		return nil, &models.EmbeddingError{Err: ctx.Err()}
	}
	if s.err != nil {
		return nil, &models.EmbeddingError{Err: s.err}
	}
	out := make([][]float32, len(chunks))
	for i := range chunks {
		out[i] = []float32{float32(i + 1), 1}
	}
	return out, nil
}

type stubSummarizer struct {
	summary string
	err     error
	panics  bool
}

func (s *stubSummarizer) Summarize(context.Context, string) (string, error) {
	if s.panics {
		panic("summarizer blew up")
	}
	return s.summary, s.err
}

// ctxStatusStore rejects status writes on a done context, like a SQL driver.
type ctxStatusStore struct {
	*memory.Store
}

func (c ctxStatusStore) SetStatus(ctx context.Context, id string, status models.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return c.Store.SetStatus(ctx, id, status)
}

// batchRecorder wraps the memory store to record InsertChunks batch sizes.
type batchRecorder struct {
	*memory.Store
	batches []int
	failAt  int
}

func (b *batchRecorder) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	b.batches = append(b.batches, len(chunks))
	if b.failAt > 0 && len(b.batches) == b.failAt {
		return errors.New("connection reset")
	}
	return b.Store.InsertChunks(ctx, chunks)
}

type fixture struct {
	svc      *Service
	mem      *memory.Store
	chunks   *batchRecorder
	embedder *stubEmbedder
	summary  *stubSummarizer
	blobs    *blob.FileStore
	pool     *Pool
}

func newFixture(t *testing.T, opts Options) *fixture {
	return newFixtureWithPool(t, opts, NewPool(2))
}

func newFixtureWithPool(t *testing.T, opts Options, pool *Pool) *fixture {
	t.Helper()
	blobs, err := blob.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	mem := memory.NewStore()
	f := &fixture{
		mem:      mem,
		chunks:   &batchRecorder{Store: mem},
		embedder: &stubEmbedder{},
		summary:  &stubSummarizer{summary: "A short summary."},
		blobs:    blobs,
		pool:     pool,
	}
	if opts.AllowedExtensions == nil {
		opts.AllowedExtensions = []string{".pdf", ".txt"}
	}
	f.svc = NewService(Deps{
		Documents:  ctxStatusStore{Store: mem},
		Chunks:     f.chunks,
		Index:      mem,
		Blobs:      blobs,
		Embedder:   f.embedder,
		Summarizer: f.summary,
		Pool:       f.pool,
	}, opts)
	return f
}

func sentences(n int) string {
	var b strings.Builder
	for i := 0; i < n; i++ {
		b.WriteString("Photosynthesis converts light energy into chemical energy. ")
	}
	return b.String()
}

func TestUpload_ProcessesInBackground(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{Chunk: parser.ChunkOptions{Size: 200, Overlap: 20}, InsertBatchSize: 2})

	doc, err := f.svc.Upload(ctx, "alice", "notes.txt", []byte(sentences(20)))
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if doc.Status != models.StatusProcessing || doc.FilePath != "alice/"+doc.ID+".txt" || doc.Title != "notes.txt" {
		t.Errorf("Upload() = %+v", doc)
	}
	f.pool.Wait()

	st, err := f.svc.Status(ctx, doc.ID, "alice")
	if err != nil {
		t.Fatal(err)
	}
	if !st.IsReady || st.Status != models.StatusReady || st.PageCount != 1 || st.ChunksCreated == 0 {
		t.Errorf("Status() = %+v", st)
	}
	for i, n := range f.chunks.batches {
		if n > 2 {
			t.Errorf("batch %d has %d chunks, want <= 2", i, n)
		}
	}

	got, _ := f.svc.Get(ctx, doc.ID, "alice")
	if got.Summary != "A short summary." {
		t.Errorf("Summary = %q", got.Summary)
	}

	chunks, _ := f.mem.ListChunks(ctx, []string{doc.ID})
	for i, c := range chunks {
		if c.ChunkIndex != i || models.PageOf(c.Content) == nil || *models.PageOf(c.Content) != 1 {
			t.Errorf("chunk %d = index %d, content %q", i, c.ChunkIndex, c.Content[:12])
		}
	}
}

func TestProcess_Failures(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		setup   func(f *fixture)
		wantErr func(error) bool
	}{
		{
			name:  "embedding failure",
			data:  sentences(3),
			setup: func(f *fixture) { f.embedder.err = errors.New("quota exceeded") },
			wantErr: func(err error) bool {
				var e *models.EmbeddingError
				return errors.As(err, &e)
			},
		},
		{
			name:    "no text",
			data:    "   \n\n  ",
			setup:   func(*fixture) {},
			wantErr: func(err error) bool { return errors.Is(err, models.ErrEmptyDocument) },
		},
		{
			name:    "insert failure leaves partial chunks",
			data:    sentences(20),
			setup:   func(f *fixture) { f.chunks.failAt = 2 },
			wantErr: func(err error) bool { return err != nil && strings.Contains(err.Error(), "connection reset") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t, Options{Chunk: parser.ChunkOptions{Size: 200, Overlap: 20}, InsertBatchSize: 2})
			tt.setup(f)

			doc, err := f.svc.Ingest(ctx, "bob", "a.txt", []byte(tt.data))
			if !tt.wantErr(err) {
				t.Fatalf("Ingest() error = %v", err)
			}
			got, _ := f.svc.Get(ctx, doc.ID, "bob")
			if got.Status != models.StatusFailed {
				t.Errorf("status = %s, want failed", got.Status)
			}
		})
	}
}

func TestProcess_SummaryFailureIsNotFatal(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.summary.err = errors.New("llm down")

	doc, err := f.svc.Ingest(ctx, "u", "a.txt", []byte(sentences(2)))
	if err != nil {
		t.Fatalf("Ingest() error = %v", err)
	}
	if doc.Status != models.StatusReady || doc.Summary != "" {
		t.Errorf("document = %+v, want ready without summary", doc)
	}
}

func TestUpload_PanicMarksFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	f.summary.panics = true

	doc, err := f.svc.Upload(ctx, "u", "a.txt", []byte(sentences(2)))
	if err != nil {
		t.Fatal(err)
	}
	f.pool.Wait()

	got, _ := f.svc.Get(ctx, doc.ID, "u")
	if got.Status != models.StatusFailed {
		t.Errorf("status = %s, want failed", got.Status)
	}
}

func TestUpload_ShutdownMarksPendingFailed(t *testing.T) {
	reqCtx, cancelReq := context.WithCancel(context.Background())
	f := newFixtureWithPool(t, Options{}, NewPool(1))
	f.embedder.block = true

	var ids []string
	for _, name := range []string{"running.txt", "queued.txt"} {
		doc, err := f.svc.Upload(reqCtx, "u", name, []byte(sentences(2)))
		if err != nil {
			t.Fatal(err)
		}
		ids = append(ids, doc.ID)
	}
	cancelReq()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := f.pool.Shutdown(shutdownCtx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Shutdown() error = %v, want deadline exceeded", err)
	}

	for _, id := range ids {
		got, err := f.svc.Get(context.Background(), id, "u")
		if err != nil {
			t.Fatal(err)
		}
		if got.Status != models.StatusFailed {
			t.Errorf("%s status = %s, want failed", got.Title, got.Status)
		}
	}
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t, Options{MaxUploadSize: 10, AllowedExtensions: []string{".pdf"}})
	ctx := context.Background()

	if _, err := f.svc.Upload(ctx, "u", "deck.pptx", []byte("x")); !errors.Is(err, models.ErrUnsupportedFile) {
		t.Errorf("Upload(.pptx) error = %v, want ErrUnsupportedFile", err)
	}
	if _, err := f.svc.Upload(ctx, "u", "big.PDF", make([]byte, 11)); !errors.Is(err, models.ErrFileTooLarge) {
		t.Errorf("Upload(11 bytes) error = %v, want ErrFileTooLarge", err)
	}
	if _, err := f.svc.Upload(ctx, "u", "empty.pdf", nil); !errors.Is(err, models.ErrEmptyDocument) {
		t.Errorf("Upload(empty) error = %v, want ErrEmptyDocument", err)
	}
	if docs, _ := f.svc.List(ctx, "u"); len(docs) != 0 {
		t.Errorf("rejected uploads created %d records", len(docs))
	}
}

func TestUpload_NotAPDFFails(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	doc, err := f.svc.Upload(ctx, "u", "broken.pdf", []byte("definitely not a pdf"))
	if err != nil {
		t.Fatal(err)
	}
	f.pool.Wait()
	st, _ := f.svc.Status(ctx, doc.ID, "u")
	if st.Status != models.StatusFailed || st.IsReady {
		t.Errorf("Status() = %+v, want failed", st)
	}
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, Options{})
	doc, err := f.svc.Ingest(ctx, "u", "a.txt", []byte(sentences(5)))
	if err != nil {
		t.Fatal(err)
	}

	if err := f.svc.Delete(ctx, doc.ID, "intruder"); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("Delete(other user) error = %v", err)
	}
	if err := f.svc.Delete(ctx, doc.ID, "u"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := f.svc.Get(ctx, doc.ID, "u"); !errors.Is(err, models.ErrDocumentNotFound) {
		t.Errorf("Get() after delete error = %v", err)
	}
	if n, _ := f.mem.CountChunks(ctx, doc.ID); n != 0 {
		t.Errorf("%d chunks left", n)
	}
	if _, err := f.blobs.Download(ctx, doc.FilePath); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("blob still present: %v", err)
	}
}

func TestPool(t *testing.T) {
	p := NewPool(2)
	var running, peak, done atomic.Int32
	aborted := make(chan error, 1)

	p.Submit("panics", func(context.Context) { panic("boom") }, func(err error) { aborted <- err })
	for i := 0; i < 6; i++ {
		p.Submit("work", func(context.Context) {
			n := running.Add(1)
			for {
				old := peak.Load()
				if n <= old || peak.CompareAndSwap(old, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			running.Add(-1)
			done.Add(1)
		}, nil)
	}
	p.Wait()

	select {
	case err := <-aborted:
		if !strings.Contains(err.Error(), "boom") {
			t.Errorf("abort error = %v", err)
		}
	default:
		t.Error("panicking job was not reported")
	}

	if done.Load() != 6 {
		t.Errorf("%d jobs finished, want 6", done.Load())
	}
	if peak.Load() > 2 {
		t.Errorf("peak concurrency = %d, want <= 2", peak.Load())
	}

	if err := p.Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := p.Submit("late", func(context.Context) {}, nil); !errors.Is(err, ErrPoolClosed) {
		t.Errorf("Submit() after shutdown error = %v", err)
	}
}
