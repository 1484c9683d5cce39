package regen

import (
	"bytes"
	"context"
	"fmt"
	stdimage "image"
	"time"

	"github.com/disintegration/imaging"
	"github.com/google/uuid"

	"server/internal/compose"
	"server/internal/domain"
	"server/internal/fetch"
	"server/internal/infra"
	"server/internal/prompt"
	imageprovider "server/internal/providers/image"
	"server/internal/resample"
)

// Fetcher downloads and decodes a source image.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) (*fetch.SourceImage, error)
}

// BlobStore persists generated image bytes and returns the canonical key.
type BlobStore interface {
	Write(ctx context.Context, key string, data []byte) (string, error)
}

// CommitRequest asks the version tracker to persist one regeneration result:
// a fresh asset row, the section reference update, and the history entry, as
// one transaction.
type CommitRequest struct {
	SectionID  string
	Field      domain.ImageField
	ActionKind domain.ActionKind
	PromptText string
	Asset      domain.ImageAsset
}

// Committer is the version/history tracker boundary.
type Committer interface {
	Commit(ctx context.Context, req CommitRequest) (*domain.RegenerationHistoryEntry, error)
}

// Entitlements is the external quota/plan collaborator, consulted once per
// job before any item starts.
type Entitlements interface {
	CheckAllowed(ctx context.Context, userID string, kind domain.ActionKind, itemCount int) error
}

// GenerationRecord is one row of the append-only attempt log.
type GenerationRecord struct {
	UserID    string
	Kind      domain.ActionKind
	Model     string
	Status    ItemStatus
	StartedAt time.Time
}

// UsageRecorder receives attempt records for cost and latency observability.
type UsageRecorder interface {
	RecordGeneration(ctx context.Context, rec GenerationRecord) error
}

// Options wires an Orchestrator. All collaborators are explicit so tests can
// substitute fakes; there is no ambient state.
type Options struct {
	Fetcher           Fetcher
	Editor            imageprovider.Editor
	Resampler         *resample.Engine
	Store             BlobStore
	Committer         Committer
	Entitlements      Entitlements
	Usage             UsageRecorder
	Logger            infra.Logger
	StorageBaseURL    string
	MaxUpscaleWidth   int
	GenerationTimeout time.Duration
}

// Orchestrator runs regeneration jobs: it resolves each work item through the
// generative path, applies the fallback chain, and persists the result, while
// reporting ordered progress events. Items are processed strictly
// sequentially so events reflect true completion order and later sections can
// reference earlier committed output.
type Orchestrator struct {
	fetcher           Fetcher
	editor            imageprovider.Editor
	resampler         *resample.Engine
	store             BlobStore
	committer         Committer
	entitlements      Entitlements
	usage             UsageRecorder
	logger            infra.Logger
	storageBaseURL    string
	maxUpscaleWidth   int
	generationTimeout time.Duration
}

func NewOrchestrator(opts Options) *Orchestrator {
	resampler := opts.Resampler
	if resampler == nil {
		resampler = resample.NewEngine()
	}
	maxWidth := opts.MaxUpscaleWidth
	if maxWidth <= 0 {
		maxWidth = 3840
	}
	timeout := opts.GenerationTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Orchestrator{
		fetcher:           opts.Fetcher,
		editor:            opts.Editor,
		resampler:         resampler,
		store:             opts.Store,
		committer:         opts.Committer,
		entitlements:      opts.Entitlements,
		usage:             opts.Usage,
		logger:            opts.Logger,
		storageBaseURL:    opts.StorageBaseURL,
		maxUpscaleWidth:   maxWidth,
		generationTimeout: timeout,
	}
}

// Job is one regeneration request after the handler resolved the work list.
type Job struct {
	UserID         string
	PageID         string
	Kind           domain.ActionKind
	Field          domain.ImageField
	RequestedWidth int
	Style          prompt.Style
	Items          []WorkItem
}

// Precheck runs the preconditions once before the stream opens: the quota
// collaborator and, when the editor exposes readiness, the model credential.
// Individual items are not re-checked.
func (o *Orchestrator) Precheck(ctx context.Context, job Job) error {
	if o.entitlements != nil {
		if err := o.entitlements.CheckAllowed(ctx, job.UserID, job.Kind, len(job.Items)); err != nil {
			return err
		}
	}
	if r, ok := o.editor.(interface{ Ready() bool }); ok && !r.Ready() {
		return domain.ErrMissingAPIKey
	}
	return nil
}

// Run processes the job's items in order and emits the event sequence:
// one start, one progress per item, one item_complete or item_error per item,
// and a terminal complete (or error on job-level failure). Consumer
// disconnects are honored between items, never mid-item.
func (o *Orchestrator) Run(ctx context.Context, job Job, sink EventSink) error {
	total := len(job.Items)
	if err := sink.Send(Event{Type: EventStart, Total: total}); err != nil {
		return err
	}

	results := make([]ItemResult, 0, total)
	succeeded := 0
	var styleRef []byte
	var styleRefMIME string

	for i, item := range job.Items {
		if err := ctx.Err(); err != nil {
			_ = sink.Send(Event{Type: EventError, Message: "job canceled"})
			return err
		}
		if err := sink.Send(Event{
			Type:    EventProgress,
			Current: i + 1,
			Total:   total,
			Message: fmt.Sprintf("regenerating section %d of %d", i+1, total),
		}); err != nil {
			return err
		}

		outcome, fatal := o.processItem(ctx, job, item, styleRef, styleRefMIME)
		if fatal != nil {
			_ = sink.Send(Event{Type: EventError, Message: fatal.Error()})
			return fatal
		}

		if outcome.result.Status == StatusFailed {
			_ = sink.Send(Event{Type: EventItemError, ItemID: item.Section.ID, Message: outcome.result.Error})
		} else {
			succeeded++
			if job.Kind == domain.ActionStyle {
				// Each section references the most recent committed result,
				// so the style carries forward section to section and the
				// page converges on one rendition.
				styleRef, styleRefMIME = outcome.finalData, outcome.finalMIME
			}
			_ = sink.Send(Event{
				Type:        EventItemComplete,
				ItemID:      item.Section.ID,
				BeforeSize:  outcome.before,
				AfterSize:   outcome.after,
				NewImageURI: outcome.result.NewImageURI,
			})
		}
		results = append(results, outcome.result)
	}

	return sink.Send(Event{
		Type:           EventComplete,
		Total:          total,
		SucceededCount: succeeded,
		Results:        results,
	})
}

type itemOutcome struct {
	result    ItemResult
	before    *Size
	after     *Size
	finalData []byte
	finalMIME string
}

func failedItem(sectionID string, err error) itemOutcome {
	return itemOutcome{result: ItemResult{
		SectionID: sectionID,
		Status:    StatusFailed,
		Error:     err.Error(),
	}}
}

// processItem walks one work item through fetch, context expansion, the
// fallback chain, crop-back, and the transactional commit. The returned error
// is job-fatal (storage or commit failure); everything recoverable is folded
// into the item result.
func (o *Orchestrator) processItem(ctx context.Context, job Job, item WorkItem, styleRef []byte, styleRefMIME string) (itemOutcome, error) {
	src, err := o.fetcher.Fetch(ctx, item.SourceURI)
	if err != nil {
		o.logger.Warn().Err(err).Str("section_id", item.Section.ID).Msg("regen: fetch source failed")
		return failedItem(item.Section.ID, fmt.Errorf("fetch source: %w", err)), nil
	}
	before := &Size{Width: src.Width, Height: src.Height}
	plan := planTarget(job.Kind, src.Width, src.Height, job.RequestedWidth, o.maxUpscaleWidth)

	canvas, meta := o.expandContext(ctx, src, item)
	primary, err := encodePNG(canvas)
	if err != nil {
		return failedItem(item.Section.ID, fmt.Errorf("encode canvas: %w", err)), nil
	}

	instruction := prompt.Build(prompt.Config{
		Kind:           job.Kind,
		Style:          job.Style,
		TargetWidth:    plan.Width,
		TargetHeight:   plan.Height,
		HasReference:   len(styleRef) > 0,
		HasTopStrip:    meta.TopOffset > 0,
		HasBottomStrip: meta.BottomOffset > 0,
		EnhanceOnly:    plan.EnhanceOnly,
	})

	final, status := o.runAttempts(ctx, job, item, src, plan, meta, primary, styleRef, styleRefMIME, instruction)

	finalBounds := final.image.Bounds()
	after := &Size{Width: finalBounds.Dx(), Height: finalBounds.Dy()}
	data, err := encodePNG(final.image)
	if err != nil {
		return failedItem(item.Section.ID, fmt.Errorf("encode result: %w", err)), nil
	}

	key := fmt.Sprintf("generated/pages/%s/%s-%s.png", job.PageID, item.Section.ID, uuid.NewString())
	savedKey, err := o.store.Write(ctx, key, data)
	if err != nil {
		return itemOutcome{}, fmt.Errorf("persist image: %w", err)
	}

	sourceKind := domain.SourceKindGenerated
	if status == StatusSucceededFallback {
		sourceKind = domain.SourceKindFallback
	}
	asset := domain.ImageAsset{
		ID:            uuid.NewString(),
		URI:           o.storageBaseURL + "/" + savedKey,
		MIME:          "image/png",
		Width:         after.Width,
		Height:        after.Height,
		SourceKind:    sourceKind,
		SourceAssetID: item.SourceAssetID,
	}
	if _, err := o.committer.Commit(ctx, CommitRequest{
		SectionID:  item.Section.ID,
		Field:      job.Field,
		ActionKind: job.Kind,
		PromptText: instruction,
		Asset:      asset,
	}); err != nil {
		return itemOutcome{}, fmt.Errorf("commit section %s: %w", item.Section.ID, err)
	}

	return itemOutcome{
		result: ItemResult{
			SectionID:   item.Section.ID,
			Status:      status,
			NewImageID:  asset.ID,
			NewImageURI: asset.URI,
		},
		before:    before,
		after:     after,
		finalData: data,
		finalMIME: asset.MIME,
	}, nil
}

type finalImage struct {
	image stdimage.Image
	model string
}

// runAttempts walks the ordered fallback chain. The deterministic resample is
// the last level and cannot fail, so the chain always yields an image.
func (o *Orchestrator) runAttempts(ctx context.Context, job Job, item WorkItem, src *fetch.SourceImage, plan TargetPlan, meta compose.ExpansionMeta, primary, styleRef []byte, styleRefMIME, instruction string) (finalImage, ItemStatus) {
	chain := []attempt{{
		name:   "generative",
		status: StatusSucceeded,
		run: func() (stdimage.Image, attemptOutcome, error) {
			return o.generativeAttempt(ctx, job, item, plan, meta, primary, styleRef, styleRefMIME, instruction, false)
		},
	}}
	if job.Kind == domain.ActionUpscale {
		chain = append(chain, attempt{
			name:   "generative_upscale",
			status: StatusSucceeded,
			run: func() (stdimage.Image, attemptOutcome, error) {
				return o.generativeAttempt(ctx, job, item, plan, meta, primary, styleRef, styleRefMIME, instruction, true)
			},
		})
	}
	chain = append(chain, attempt{
		name:   "resample",
		status: StatusSucceededFallback,
		run: func() (stdimage.Image, attemptOutcome, error) {
			return o.resampler.Resize(src.Image, plan.Width, plan.Height, true), outcomeSuccess, nil
		},
	})

	for _, att := range chain {
		started := time.Now()
		img, outcome, err := att.run()
		model := att.name
		if fi, ok := img.(taggedImage); ok {
			img, model = fi.Image, fi.model
		}
		switch outcome {
		case outcomeSuccess:
			o.recordAttempt(ctx, job, model, att.status, started)
			return finalImage{image: img, model: model}, att.status
		case outcomeFatal:
			o.recordAttempt(ctx, job, model, StatusFailed, started)
			o.logger.Error().Err(err).Str("attempt", att.name).Str("section_id", item.Section.ID).Msg("regen: attempt failed fatally")
			return finalImage{image: o.resampler.Resize(src.Image, plan.Width, plan.Height, true), model: "resample"}, StatusSucceededFallback
		default:
			o.recordAttempt(ctx, job, model, StatusFailed, started)
			o.logger.Warn().Err(err).Str("attempt", att.name).Str("section_id", item.Section.ID).Msg("regen: attempt failed, advancing to next level")
		}
	}
	// Unreachable: the resample level always succeeds.
	return finalImage{image: src.Image, model: "source"}, StatusSucceededFallback
}

// taggedImage lets the generative attempt report which model produced the
// image through the attempt chain's image return.
type taggedImage struct {
	stdimage.Image
	model string
}

func (o *Orchestrator) generativeAttempt(ctx context.Context, job Job, item WorkItem, plan TargetPlan, meta compose.ExpansionMeta, primary, styleRef []byte, styleRefMIME, instruction string, useUpscaleModel bool) (stdimage.Image, attemptOutcome, error) {
	if o.editor == nil {
		return nil, outcomeRetryable, domain.ErrProviderFailure
	}
	tctx, cancel := context.WithTimeout(ctx, o.generationTimeout)
	defer cancel()

	result, err := o.editor.Edit(tctx, imageprovider.EditRequest{
		Primary:         primary,
		PrimaryMIME:     "image/png",
		Reference:       styleRef,
		ReferenceMIME:   styleRefMIME,
		Instruction:     instruction,
		RequestID:       item.Section.ID,
		UseUpscaleModel: useUpscaleModel,
	})
	if err != nil {
		return nil, outcomeRetryable, err
	}

	decoded, err := fetch.Decode(result.Data, result.MIME)
	if err != nil {
		return nil, outcomeRetryable, fmt.Errorf("decode generated image: %w", err)
	}

	img := stdimage.Image(decoded.Image)
	if meta.Expanded() {
		img = compose.Crop(img, meta)
	}
	if plan.Width > 0 && img.Bounds().Dx() < plan.Width {
		// Model under-delivered on resolution; top up deterministically. In
		// enhance-only mode the plan carries the source geometry, so an
		// unexpectedly shrunken output is restored to the section's size.
		img = o.resampler.Resize(img, plan.Width, plan.Height, true)
	}
	return taggedImage{Image: img, model: result.Model}, outcomeSuccess, nil
}

// expandContext folds neighbor strips into the work canvas. A failed neighbor
// fetch only drops that side's context; partial context is acceptable.
func (o *Orchestrator) expandContext(ctx context.Context, src *fetch.SourceImage, item WorkItem) (stdimage.Image, compose.ExpansionMeta) {
	if item.Offsets.Top <= 0 && item.Offsets.Bottom <= 0 {
		return src.Image, compose.ExpansionMeta{
			TargetWidth:    src.Width,
			TargetHeight:   src.Height,
			ExpandedWidth:  src.Width,
			ExpandedHeight: src.Height,
		}
	}
	top := o.fetchNeighbor(ctx, item.TopNeighborURI)
	bottom := o.fetchNeighbor(ctx, item.BottomNeighborURI)
	return compose.Expand(src.Image, top, bottom, item.Offsets.Top, item.Offsets.Bottom)
}

func (o *Orchestrator) fetchNeighbor(ctx context.Context, uri string) stdimage.Image {
	if uri == "" {
		return nil
	}
	neighbor, err := o.fetcher.Fetch(ctx, uri)
	if err != nil {
		o.logger.Warn().Err(err).Str("uri", uri).Msg("regen: neighbor fetch failed, continuing without context")
		return nil
	}
	return neighbor.Image
}

func (o *Orchestrator) recordAttempt(ctx context.Context, job Job, model string, status ItemStatus, started time.Time) {
	if o.usage == nil {
		return
	}
	if err := o.usage.RecordGeneration(ctx, GenerationRecord{
		UserID:    job.UserID,
		Kind:      job.Kind,
		Model:     model,
		Status:    status,
		StartedAt: started,
	}); err != nil {
		o.logger.Warn().Err(err).Msg("regen: record generation attempt failed")
	}
}

func encodePNG(img stdimage.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, img, imaging.PNG); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
