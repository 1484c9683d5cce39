package regen

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	stdimage "image"
	"image/color"
	"io"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"server/internal/domain"
	"server/internal/fetch"
	imageprovider "server/internal/providers/image"
)

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, imaging.New(w, h, color.NRGBA{R: 200, A: 255}), imaging.PNG); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	return buf.Bytes()
}

func sourceImage(w, h int) *fetch.SourceImage {
	img := imaging.New(w, h, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	return &fetch.SourceImage{Image: img, MIME: "image/png", Width: w, Height: h}
}

type fakeFetcher struct {
	images map[string]*fetch.SourceImage
	errs   map[string]error
}

func (f *fakeFetcher) Fetch(ctx context.Context, uri string) (*fetch.SourceImage, error) {
	if err, ok := f.errs[uri]; ok {
		return nil, err
	}
	if img, ok := f.images[uri]; ok {
		return img, nil
	}
	return nil, fmt.Errorf("uri %s: %w", uri, domain.ErrNotFound)
}

type fakeEditor struct {
	fn       func(req imageprovider.EditRequest) (*imageprovider.EditResult, error)
	requests []imageprovider.EditRequest
}

func (f *fakeEditor) Edit(ctx context.Context, req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
	f.requests = append(f.requests, req)
	if f.fn == nil {
		return nil, domain.ErrProviderFailure
	}
	return f.fn(req)
}

type memStore struct {
	keys []string
	err  error
}

func (m *memStore) Write(ctx context.Context, key string, data []byte) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.keys = append(m.keys, key)
	return key, nil
}

type fakeCommitter struct {
	commits []CommitRequest
	err     error
}

func (f *fakeCommitter) Commit(ctx context.Context, req CommitRequest) (*domain.RegenerationHistoryEntry, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.commits = append(f.commits, req)
	return &domain.RegenerationHistoryEntry{
		ID:          fmt.Sprintf("hist-%d", len(f.commits)),
		SectionID:   req.SectionID,
		Field:       req.Field,
		NewImageRef: req.Asset.ID,
		ActionKind:  req.ActionKind,
	}, nil
}

type fakeEntitlements struct {
	err   error
	calls int
}

func (f *fakeEntitlements) CheckAllowed(ctx context.Context, userID string, kind domain.ActionKind, itemCount int) error {
	f.calls++
	return f.err
}

type fakeUsage struct {
	records []GenerationRecord
}

func (f *fakeUsage) RecordGeneration(ctx context.Context, rec GenerationRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type orchestratorFixture struct {
	orch      *Orchestrator
	fetcher   *fakeFetcher
	editor    *fakeEditor
	store     *memStore
	committer *fakeCommitter
	quota     *fakeEntitlements
	usage     *fakeUsage
}

func newFixture(editor *fakeEditor) *orchestratorFixture {
	f := &orchestratorFixture{
		fetcher: &fakeFetcher{
			images: map[string]*fetch.SourceImage{
				"http://img.test/1.png": sourceImage(100, 50),
				"http://img.test/2.png": sourceImage(100, 50),
				"http://img.test/3.png": sourceImage(100, 50),
			},
			errs: map[string]error{},
		},
		editor:    editor,
		store:     &memStore{},
		committer: &fakeCommitter{},
		quota:     &fakeEntitlements{},
		usage:     &fakeUsage{},
	}
	f.orch = NewOrchestrator(Options{
		Fetcher:         f.fetcher,
		Editor:          f.editor,
		Store:           f.store,
		Committer:       f.committer,
		Entitlements:    f.quota,
		Usage:           f.usage,
		Logger:          zerolog.New(io.Discard),
		StorageBaseURL:  "http://localhost:8080/static",
		MaxUpscaleWidth: 3840,
	})
	return f
}

func upscaleJob(widths int, items ...WorkItem) Job {
	return Job{
		UserID:         "user-1",
		PageID:         "page-1",
		Kind:           domain.ActionUpscale,
		Field:          domain.FieldPrimary,
		RequestedWidth: widths,
		Items:          items,
	}
}

func workItem(id, uri string) WorkItem {
	return WorkItem{
		Section:       domain.Section{ID: id, PageID: "page-1"},
		SourceAssetID: "asset-" + id,
		SourceURI:     uri,
	}
}

func eventTypes(events []Event) []EventType {
	out := make([]EventType, 0, len(events))
	for _, e := range events {
		out = append(out, e.Type)
	}
	return out
}

func TestRunEmitsOrderedEvents(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 200, 100), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	sink := &BufferSink{}

	job := upscaleJob(200,
		workItem("sec-1", "http://img.test/1.png"),
		workItem("sec-2", "http://img.test/2.png"),
	)
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []EventType{EventStart, EventProgress, EventItemComplete, EventProgress, EventItemComplete, EventComplete}
	got := eventTypes(sink.Events)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	final := sink.Events[len(sink.Events)-1]
	if final.SucceededCount != 2 || len(final.Results) != 2 {
		t.Fatalf("complete event = %+v, want 2 successes", final)
	}
	for _, res := range final.Results {
		if res.Status != StatusSucceeded {
			t.Fatalf("result %s status = %s, want %s", res.SectionID, res.Status, StatusSucceeded)
		}
		if res.NewImageURI == "" {
			t.Fatalf("result %s missing image uri", res.SectionID)
		}
	}
	if len(fx.committer.commits) != 2 {
		t.Fatalf("commits = %d, want 2", len(fx.committer.commits))
	}
	if kind := fx.committer.commits[0].Asset.SourceKind; kind != domain.SourceKindGenerated {
		t.Fatalf("source kind = %s, want %s", kind, domain.SourceKindGenerated)
	}
}

func TestRunReportsBeforeAndAfterSizes(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 200, 100), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	sink := &BufferSink{}

	job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	var complete *Event
	for i := range sink.Events {
		if sink.Events[i].Type == EventItemComplete {
			complete = &sink.Events[i]
		}
	}
	if complete == nil {
		t.Fatal("no item_complete event")
	}
	if complete.BeforeSize == nil || complete.BeforeSize.Width != 100 || complete.BeforeSize.Height != 50 {
		t.Fatalf("before size = %+v, want 100x50", complete.BeforeSize)
	}
	if complete.AfterSize == nil || complete.AfterSize.Width != 200 || complete.AfterSize.Height != 100 {
		t.Fatalf("after size = %+v, want 200x100", complete.AfterSize)
	}
}

func TestRunFallsBackToResampleWhenGenerativeFails(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return nil, domain.ErrProviderFailure
	}}
	fx := newFixture(editor)
	sink := &BufferSink{}

	job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	final := sink.Events[len(sink.Events)-1]
	if final.Type != EventComplete || final.SucceededCount != 1 {
		t.Fatalf("final event = %+v, want complete with one success", final)
	}
	if final.Results[0].Status != StatusSucceededFallback {
		t.Fatalf("status = %s, want %s", final.Results[0].Status, StatusSucceededFallback)
	}
	// Upscale retries with the dedicated upscale model before falling back.
	if len(editor.requests) != 2 {
		t.Fatalf("editor calls = %d, want 2", len(editor.requests))
	}
	if !editor.requests[1].UseUpscaleModel {
		t.Fatal("second attempt should request the upscale model")
	}
	if kind := fx.committer.commits[0].Asset.SourceKind; kind != domain.SourceKindFallback {
		t.Fatalf("source kind = %s, want %s", kind, domain.SourceKindFallback)
	}
	if got := fx.committer.commits[0].Asset.Width; got != 200 {
		t.Fatalf("fallback width = %d, want exact target 200", got)
	}
}

func TestRunStyleDoesNotTryUpscaleModel(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return nil, domain.ErrProviderFailure
	}}
	fx := newFixture(editor)
	sink := &BufferSink{}

	job := Job{
		UserID: "user-1",
		PageID: "page-1",
		Kind:   domain.ActionStyle,
		Field:  domain.FieldPrimary,
		Items:  []WorkItem{workItem("sec-1", "http://img.test/1.png")},
	}
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(editor.requests) != 1 {
		t.Fatalf("editor calls = %d, want 1 for style", len(editor.requests))
	}
}

func TestRunIsolatesItemFailures(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 200, 100), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	fx.fetcher.errs["http://img.test/2.png"] = errors.New("connection refused")
	sink := &BufferSink{}

	job := upscaleJob(200,
		workItem("sec-1", "http://img.test/1.png"),
		workItem("sec-2", "http://img.test/2.png"),
		workItem("sec-3", "http://img.test/3.png"),
	)
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []EventType{EventStart, EventProgress, EventItemComplete, EventProgress, EventItemError, EventProgress, EventItemComplete, EventComplete}
	got := eventTypes(sink.Events)
	if len(got) != len(want) {
		t.Fatalf("event types = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %s, want %s", i, got[i], want[i])
		}
	}

	final := sink.Events[len(sink.Events)-1]
	if final.SucceededCount != 2 {
		t.Fatalf("succeeded = %d, want 2", final.SucceededCount)
	}
	if final.Results[1].Status != StatusFailed || final.Results[1].Error == "" {
		t.Fatalf("failed result = %+v, want failed with message", final.Results[1])
	}
	if len(fx.committer.commits) != 2 {
		t.Fatalf("commits = %d, want 2 (failed item must not commit)", len(fx.committer.commits))
	}
}

func TestRunStyleThreadsReferenceImage(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 100, 50), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	sink := &BufferSink{}

	job := Job{
		UserID: "user-1",
		PageID: "page-1",
		Kind:   domain.ActionStyle,
		Field:  domain.FieldPrimary,
		Items: []WorkItem{
			workItem("sec-1", "http://img.test/1.png"),
			workItem("sec-2", "http://img.test/2.png"),
		},
	}
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(editor.requests) != 2 {
		t.Fatalf("editor calls = %d, want 2", len(editor.requests))
	}
	if len(editor.requests[0].Reference) != 0 {
		t.Fatal("first item must not carry a style reference")
	}
	if len(editor.requests[1].Reference) == 0 {
		t.Fatal("second item must reuse the first committed result as reference")
	}
}

func TestRunCommitFailureIsJobFatal(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 200, 100), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	fx.committer.err = errors.New("deadlock detected")
	sink := &BufferSink{}

	job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
	err := fx.orch.Run(context.Background(), job, sink)
	if err == nil {
		t.Fatal("Run() error = nil, want commit failure")
	}

	final := sink.Events[len(sink.Events)-1]
	if final.Type != EventError {
		t.Fatalf("final event = %s, want %s", final.Type, EventError)
	}
}

func TestRunCanceledBetweenItems(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 200, 100), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	sink := &BufferSink{}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
	if err := fx.orch.Run(ctx, job, sink); err == nil {
		t.Fatal("Run() error = nil, want context error")
	}

	final := sink.Events[len(sink.Events)-1]
	if final.Type != EventError || final.Message != "job canceled" {
		t.Fatalf("final event = %+v, want job canceled error", final)
	}
	if len(fx.committer.commits) != 0 {
		t.Fatalf("commits = %d, want 0 after cancel", len(fx.committer.commits))
	}
}

func TestPrecheckConsultsQuotaOnce(t *testing.T) {
	fx := newFixture(&fakeEditor{})
	fx.quota.err = domain.ErrQuotaExceeded

	job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
	if err := fx.orch.Precheck(context.Background(), job); !errors.Is(err, domain.ErrQuotaExceeded) {
		t.Fatalf("Precheck() = %v, want ErrQuotaExceeded", err)
	}
	if fx.quota.calls != 1 {
		t.Fatalf("quota calls = %d, want 1", fx.quota.calls)
	}
}

func TestRunCropsExpandedGeneration(t *testing.T) {
	// Seam item with a 100px top strip: the canvas sent to the model is
	// 100x150, the model answers at 2x, and the committed image must be
	// cropped back to the target frame at the generated scale.
	var sentCanvas stdimage.Image
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		decoded, err := fetch.Decode(req.Primary, req.PrimaryMIME)
		if err != nil {
			return nil, err
		}
		sentCanvas = decoded.Image
		return &imageprovider.EditResult{Data: pngBytes(t, 200, 300), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	fx.fetcher.images["http://img.test/top.png"] = sourceImage(100, 200)
	sink := &BufferSink{}

	item := workItem("sec-2", "http://img.test/2.png")
	item.TopNeighborURI = "http://img.test/top.png"
	item.Offsets = domain.BoundaryOffset{Top: 100}

	job := Job{
		UserID: "user-1",
		PageID: "page-1",
		Kind:   domain.ActionSeam,
		Field:  domain.FieldPrimary,
		Items:  []WorkItem{item},
	}
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if sentCanvas == nil {
		t.Fatal("editor never received the canvas")
	}
	if got := sentCanvas.Bounds(); got.Dx() != 100 || got.Dy() != 150 {
		t.Fatalf("canvas = %dx%d, want 100x150", got.Dx(), got.Dy())
	}
	committed := fx.committer.commits[0].Asset
	if committed.Width != 200 || committed.Height != 100 {
		t.Fatalf("committed = %dx%d, want cropped 200x100", committed.Width, committed.Height)
	}
}

func TestRunRecordsGenerationAttempts(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return nil, domain.ErrProviderFailure
	}}
	fx := newFixture(editor)
	sink := &BufferSink{}

	job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	// Two failed generative attempts plus the fallback success.
	if len(fx.usage.records) != 3 {
		t.Fatalf("usage records = %d, want 3", len(fx.usage.records))
	}
	last := fx.usage.records[len(fx.usage.records)-1]
	if last.Status != StatusSucceededFallback {
		t.Fatalf("last record status = %s, want %s", last.Status, StatusSucceededFallback)
	}
}

type unreadyEditor struct{ fakeEditor }

func (u *unreadyEditor) Ready() bool { return false }

func TestPrecheckRejectsMissingCredential(t *testing.T) {
	fx := newFixture(&fakeEditor{})
	orch := NewOrchestrator(Options{
		Fetcher:         fx.fetcher,
		Editor:          &unreadyEditor{},
		Store:           fx.store,
		Committer:       fx.committer,
		Entitlements:    fx.quota,
		Usage:           fx.usage,
		Logger:          zerolog.New(io.Discard),
		StorageBaseURL:  "http://localhost:8080/static",
		MaxUpscaleWidth: 3840,
	})

	job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
	if err := orch.Precheck(context.Background(), job); !errors.Is(err, domain.ErrMissingAPIKey) {
		t.Fatalf("Precheck() = %v, want ErrMissingAPIKey", err)
	}
	if fx.quota.calls != 1 {
		t.Fatalf("quota calls = %d, want 1", fx.quota.calls)
	}
}

// chainCommitter keeps the current ref per section so successive commits link
// previous_image_ref the way the transactional repository does.
type chainCommitter struct {
	refs    map[string]string
	history []domain.RegenerationHistoryEntry
}

func (c *chainCommitter) Commit(ctx context.Context, req CommitRequest) (*domain.RegenerationHistoryEntry, error) {
	prev := c.refs[req.SectionID]
	c.refs[req.SectionID] = req.Asset.ID
	entry := domain.RegenerationHistoryEntry{
		ID:               fmt.Sprintf("hist-%d", len(c.history)+1),
		SectionID:        req.SectionID,
		Field:            req.Field,
		PreviousImageRef: prev,
		NewImageRef:      req.Asset.ID,
		ActionKind:       req.ActionKind,
	}
	c.history = append(c.history, entry)
	return &entry, nil
}

func TestRunSequentialJobsChainHistoryBackToOriginal(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 200, 100), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	committer := &chainCommitter{refs: map[string]string{"sec-1": "asset-sec-1"}}
	orch := NewOrchestrator(Options{
		Fetcher:         fx.fetcher,
		Editor:          fx.editor,
		Store:           fx.store,
		Committer:       committer,
		Entitlements:    fx.quota,
		Usage:           fx.usage,
		Logger:          zerolog.New(io.Discard),
		StorageBaseURL:  "http://localhost:8080/static",
		MaxUpscaleWidth: 3840,
	})

	for i := 0; i < 3; i++ {
		sink := &BufferSink{}
		job := upscaleJob(200, workItem("sec-1", "http://img.test/1.png"))
		if err := orch.Run(context.Background(), job, sink); err != nil {
			t.Fatalf("Run() #%d: %v", i+1, err)
		}
	}

	if len(committer.history) != 3 {
		t.Fatalf("history entries = %d, want 3", len(committer.history))
	}
	// Walk previous refs from the newest entry back to the original asset.
	byNewRef := make(map[string]domain.RegenerationHistoryEntry, len(committer.history))
	for _, e := range committer.history {
		byNewRef[e.NewImageRef] = e
	}
	ref := committer.refs["sec-1"]
	for i := 0; i < 3; i++ {
		entry, ok := byNewRef[ref]
		if !ok {
			t.Fatalf("no history entry produced ref %q", ref)
		}
		ref = entry.PreviousImageRef
	}
	if ref != "asset-sec-1" {
		t.Fatalf("chain terminates at %q, want original asset-sec-1", ref)
	}
}

func TestRunStyleRestoresUndersizedModelOutput(t *testing.T) {
	editor := &fakeEditor{fn: func(req imageprovider.EditRequest) (*imageprovider.EditResult, error) {
		return &imageprovider.EditResult{Data: pngBytes(t, 40, 20), MIME: "image/png", Model: "gemini-test"}, nil
	}}
	fx := newFixture(editor)
	fx.fetcher.images["http://img.test/wide.png"] = sourceImage(1200, 800)
	sink := &BufferSink{}

	job := Job{
		UserID: "user-1",
		PageID: "page-1",
		Kind:   domain.ActionStyle,
		Field:  domain.FieldPrimary,
		Items:  []WorkItem{workItem("sec-1", "http://img.test/wide.png")},
	}
	if err := fx.orch.Run(context.Background(), job, sink); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fx.committer.commits) != 1 {
		t.Fatalf("commits = %d, want 1", len(fx.committer.commits))
	}
	asset := fx.committer.commits[0].Asset
	if asset.Width != 1200 || asset.Height != 800 {
		t.Fatalf("committed size = %dx%d, want 1200x800", asset.Width, asset.Height)
	}
	if asset.SourceKind != domain.SourceKindGenerated {
		t.Fatalf("source kind = %q, want generated", asset.SourceKind)
	}

	var complete *Event
	for i := range sink.Events {
		if sink.Events[i].Type == EventComplete {
			complete = &sink.Events[i]
		}
	}
	if complete == nil || len(complete.Results) != 1 {
		t.Fatal("missing complete event with one result")
	}
	if complete.Results[0].Status != StatusSucceeded {
		t.Fatalf("status = %q, want %q", complete.Results[0].Status, StatusSucceeded)
	}
}
