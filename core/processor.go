package core

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/Skryldev/image-upscaler/config"
	apperrors "github.com/Skryldev/image-upscaler/errors"
	"github.com/Skryldev/image-upscaler/utils"
)

// StepFactory builds a step chain for an upscale configuration. The root
// package injects pipeline-backed factories so core never imports the step
// implementations (avoiding a circular dependency).
type StepFactory func(cfg UpscaleConfig) []Step

// Processor is the central orchestrator.  It is safe for concurrent use.
type Processor struct {
	cfg      config.Config
	registry Registry
	hooks    []Hook
	logger   Logger
	metrics  MetricsCollector

	// Step chains for jobs that carry no explicit steps.
	jobSteps     StepFactory // full chain: decode, upscale, encode
	variantSteps StepFactory // post-decode chain used for variants
	decodeSteps  []Step      // decode-only prefix used by variant jobs

	// Worker pool.
	jobQueue chan Job
	wg       sync.WaitGroup
	once     sync.Once
	stopOnce sync.Once
	shutdown chan struct{}

	// Atomic counters for lightweight internal metrics.
	processedCount int64
	errorCount     int64
}

// New creates a Processor with the given config.  Call Start() before
// submitting jobs; call Stop() when done.
func New(cfg config.Config, reg Registry) *Processor {
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Processor{
		cfg:      cfg,
		registry: reg,
		jobQueue: make(chan Job, queueSize),
		shutdown: make(chan struct{}),
	}
}

// SetLogger attaches a structured logger.
func (p *Processor) SetLogger(l Logger) { p.logger = l }

// SetMetrics attaches a metrics collector.
func (p *Processor) SetMetrics(m MetricsCollector) { p.metrics = m }

// AddHook registers a pipeline hook.
func (p *Processor) AddHook(h Hook) { p.hooks = append(p.hooks, h) }

// Registry returns the underlying registry so callers can register
// encoders/decoders after construction.
func (p *Processor) Registry() Registry { return p.registry }

// SetStepFactories injects the default job chain and the per-variant chain
// builders, plus the decode-only prefix variant jobs start from. Jobs
// submitted without explicit steps run the job chain built from their
// config; ProcessVariants runs one variant chain per config on the decoded
// base image.
func (p *Processor) SetStepFactories(job, variant StepFactory, decode ...Step) {
	p.jobSteps = job
	p.variantSteps = variant
	p.decodeSteps = decode
}

// Start launches the worker pool.  It is idempotent.
func (p *Processor) Start() {
	p.once.Do(func() {
		workerCount := p.cfg.WorkerCount
		if workerCount <= 0 {
			workerCount = runtime.NumCPU()
		}
		for i := 0; i < workerCount; i++ {
			p.wg.Add(1)
			go p.worker()
		}
	})
}

// Stop shuts down all workers.  Safe to call more than once.
func (p *Processor) Stop() {
	p.stopOnce.Do(func() {
		close(p.shutdown)
		p.wg.Wait()
	})
}

// Process is the primary synchronous API.  It reads from src, runs steps, and
// returns a ProcessResult.
func (p *Processor) Process(ctx context.Context, src Source, steps ...Step) (*ProcessResult, error) {
	return p.processWith(ctx, src, p.cfg.MaxRetries, p.cfg.RetryDelay, steps)
}

func (p *Processor) processWith(ctx context.Context, src Source, maxRetries int, retryDelay time.Duration, steps []Step) (*ProcessResult, error) {
	if len(steps) == 0 {
		return nil, apperrors.New(apperrors.CategoryPipeline, "process", apperrors.ErrEmptyInput)
	}

	start := time.Now()

	// --- 1. Drain source into memory (respecting max size limit) -------------
	var limitedR = src.Reader
	if p.cfg.MaxImageBytes > 0 {
		limitedR = &utils.LimitedReader{R: src.Reader, Max: p.cfg.MaxImageBytes}
	}

	buf, err := utils.DrainReader(ctx, limitedR, p.cfg.ChunkSize)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CategoryDecode, "process.drain", err)
	}
	rawBytes := utils.CloneBytes(buf.Bytes())
	utils.ReleaseBuffer(buf)

	// --- 2. Detect format ----------------------------------------------------
	format := Format(utils.DetectFormat(rawBytes))
	if src.ContentType != "" {
		if f := contentTypeToFormat(src.ContentType); f != FormatUnknown {
			format = f
		}
	}

	img := &ImageEnvelope{
		Data:         rawBytes,
		Format:       format,
		OriginalSize: int64(len(rawBytes)),
	}

	// --- 3. Run steps --------------------------------------------------------
	timings := make(map[string]time.Duration, len(steps))
	current := img
	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), err)
		}
		p.notifyBefore(ctx, step.Name(), current)
		t := time.Now()
		next, stepErr := p.runWithRetry(ctx, step, current, maxRetries, retryDelay)
		elapsed := time.Since(t)
		timings[step.Name()] = elapsed
		p.notifyAfter(ctx, step.Name(), next, elapsed, stepErr)
		if stepErr != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, stepErr
		}
		current = next
	}

	atomic.AddInt64(&p.processedCount, 1)

	total := time.Since(start)
	return &ProcessResult{
		Primary:        current,
		ProcessingTime: total,
		StepTimings:    timings,
	}, nil
}

// Submit enqueues an async job and returns its ID (assigned when empty).
// Returns ErrWorkerPoolFull if the queue is saturated and ErrProcessorStopped
// after Stop.
func (p *Processor) Submit(job Job) (string, error) {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	select {
	case <-p.shutdown:
		return "", apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrProcessorStopped)
	default:
	}
	select {
	case p.jobQueue <- job:
		return job.ID, nil
	default:
		return "", apperrors.New(apperrors.CategoryPipeline, "submit", apperrors.ErrWorkerPoolFull)
	}
}

// Batch processes multiple sources concurrently (fan-out / fan-in).
// Results and errors are index-aligned with sources.
func (p *Processor) Batch(ctx context.Context, sources []Source, steps ...Step) ([]*ProcessResult, []error) {
	results := make([]*ProcessResult, len(sources))
	errs := make([]error, len(sources))
	var wg sync.WaitGroup

	for i, src := range sources {
		wg.Add(1)
		go func(idx int, s Source) {
			defer wg.Done()
			r, e := p.Process(ctx, s, steps...)
			results[idx] = r
			errs[idx] = e
		}(i, src)
	}
	wg.Wait()
	return results, errs
}

// ProcessVariants runs the decode steps once, then builds one post-decode
// chain per config and runs them against the shared decoded image in
// parallel. The base config's output becomes Primary; each variant lands in
// the Variants map under its name.
func (p *Processor) ProcessVariants(ctx context.Context, src Source, decodeSteps []Step, base UpscaleConfig, variants []VariantDefinition) (*ProcessResult, error) {
	if p.variantSteps == nil {
		return nil, apperrors.New(apperrors.CategoryPipeline, "variants",
			fmt.Errorf("no variant step factory configured"))
	}
	start := time.Now()

	decoded, err := p.Process(ctx, src, decodeSteps...)
	if err != nil {
		return nil, err
	}

	run := func(cfg UpscaleConfig) (*ImageEnvelope, error) {
		// Shallow-copy the decoded envelope: steps never write through the
		// shared raster, they replace it.
		clone := *decoded.Primary
		out := &clone
		for _, step := range p.variantSteps(cfg) {
			var stepErr error
			out, stepErr = step.Execute(ctx, out)
			if stepErr != nil {
				return nil, stepErr
			}
		}
		return out, nil
	}

	// Slot 0 is the base config; it becomes Primary.
	outs := make([]*ImageEnvelope, len(variants)+1)
	errs := make([]error, len(variants)+1)
	var wg sync.WaitGroup
	exec := func(i int, cfg UpscaleConfig) {
		defer wg.Done()
		outs[i], errs[i] = run(cfg)
	}
	wg.Add(len(variants) + 1)
	go exec(0, base)
	for i, v := range variants {
		go exec(i+1, v.Config)
	}
	wg.Wait()

	for _, runErr := range errs {
		if runErr != nil {
			atomic.AddInt64(&p.errorCount, 1)
			return nil, runErr
		}
	}

	result := &ProcessResult{
		Primary:        outs[0],
		Variants:       make(map[string]*ImageEnvelope, len(variants)),
		ProcessingTime: time.Since(start),
		StepTimings:    decoded.StepTimings,
	}
	for i, v := range variants {
		result.Variants[v.Name] = outs[i+1]
	}
	return result, nil
}

// ── worker pool internals ──────────────────────────────────────────────────────

func (p *Processor) worker() {
	defer p.wg.Done()
	for {
		select {
		case <-p.shutdown:
			return
		case job, ok := <-p.jobQueue:
			if !ok {
				return
			}
			p.processJob(job)
		}
	}
}

func (p *Processor) processJob(job Job) {
	ctx := job.Ctx
	if ctx == nil {
		ctx = context.Background()
	}
	timeout := p.cfg.JobTimeout
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	steps := job.Steps
	if len(steps) == 0 && p.jobSteps != nil {
		steps = p.jobSteps(job.Config)
	}

	maxRetries := p.cfg.MaxRetries
	retryDelay := p.cfg.RetryDelay
	if job.Options.MaxRetries > 0 {
		maxRetries = job.Options.MaxRetries
	}
	if job.Options.RetryDelay > 0 {
		retryDelay = job.Options.RetryDelay
	}

	var (
		result *ProcessResult
		err    error
	)
	if len(job.Options.VariantDefs) > 0 {
		result, err = p.ProcessVariants(ctx, job.Source, p.decodeSteps, job.Config, job.Options.VariantDefs)
	} else {
		result, err = p.processWith(ctx, job.Source, maxRetries, retryDelay, steps)
	}
	if job.ResultCh != nil {
		job.ResultCh <- JobResult{JobID: job.ID, Result: result, Err: err}
	}
}

func (p *Processor) runWithRetry(ctx context.Context, step Step, img *ImageEnvelope, maxRetries int, delay time.Duration) (*ImageEnvelope, error) {
	var (
		result *ImageEnvelope
		err    error
	)
	for i := 0; i <= maxRetries; i++ {
		result, err = step.Execute(ctx, img)
		if err == nil || !apperrors.IsRetryable(err) {
			return result, err
		}
		if i < maxRetries {
			select {
			case <-ctx.Done():
				return nil, apperrors.Wrap(apperrors.CategoryPipeline, step.Name(), ctx.Err())
			case <-time.After(delay):
			}
		}
	}
	return result, err
}

func (p *Processor) notifyBefore(ctx context.Context, name string, img *ImageEnvelope) {
	for _, h := range p.hooks {
		h.BeforeStep(ctx, name, img)
	}
}

func (p *Processor) notifyAfter(ctx context.Context, name string, img *ImageEnvelope, d time.Duration, err error) {
	for _, h := range p.hooks {
		h.AfterStep(ctx, name, img, d, err)
	}
}

// contentTypeToFormat maps MIME types to Format values.
func contentTypeToFormat(ct string) Format {
	switch ct {
	case "image/jpeg", "image/jpg":
		return FormatJPEG
	case "image/png":
		return FormatPNG
	case "image/webp":
		return FormatWebP
	case "image/tiff":
		return FormatTIFF
	}
	return FormatUnknown
}

// ProcessedCount returns the total number of successfully processed images.
func (p *Processor) ProcessedCount() int64 { return atomic.LoadInt64(&p.processedCount) }

// ErrorCount returns the total number of processing errors.
func (p *Processor) ErrorCount() int64 { return atomic.LoadInt64(&p.errorCount) }
