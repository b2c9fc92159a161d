// Package upscale implements the quality-tuned multi-stage upscaling
// pipeline: a resampling strategy selected by scale-factor bucket, followed
// by optional denoise, edge-enhancement, color-correction and sharpening
// passes in a fixed linear order.
//
// Run is a pure function of (image, config): no shared mutable state, no
// randomness, and a fresh buffer for every stage output, so identical
// inputs produce byte-identical results and concurrent runs need no
// coordination. The input image is never written.
package upscale

import (
	"context"
	"fmt"
	"time"

	"github.com/Skryldev/image-upscaler/core"
	apperrors "github.com/Skryldev/image-upscaler/errors"
)

const op = "upscale.run"

type recorder struct {
	stages []core.StageRecord
}

func (r *recorder) add(stage core.Stage, detail string, start time.Time) {
	r.stages = append(r.stages, core.StageRecord{
		Stage:    stage,
		Detail:   detail,
		Duration: time.Since(start),
	})
}

// Run upscales img according to cfg and reports the stages applied.
//
// Invalid images or configs fail with *errors.InvalidInputError before any
// stage executes. Stage failures and cancellation surface as
// *errors.ProcessingError carrying the stage identifier; the partially
// computed image is discarded. Cancellation is checked between stage
// boundaries (and between doubling passes), never mid-stage.
func Run(ctx context.Context, img *core.RasterImage, cfg core.UpscaleConfig) (res *core.UpscaleResult, err error) {
	start := time.Now()

	if err := validate(img, cfg); err != nil {
		return nil, err
	}
	p := planFor(cfg, img.Width, img.Height)
	if p.targetW < 1 || p.targetH < 1 {
		return nil, apperrors.InvalidInput(op, fmt.Errorf("%w: target %dx%d",
			apperrors.ErrInvalidDimensions, p.targetW, p.targetH))
	}
	if p.targetW > core.MaxDimension || p.targetH > core.MaxDimension {
		return nil, apperrors.InvalidInput(op, fmt.Errorf("%w: target %dx%d, limit %d",
			apperrors.ErrImageTooLarge, p.targetW, p.targetH, core.MaxDimension))
	}

	current := core.StageResample
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = apperrors.Stage(op, current.String(), fmt.Errorf("panic: %v", r))
		}
	}()

	rec := &recorder{}
	cur := img.ToNRGBA()

	// Base resample: a single pass for the blend and cubic buckets, the
	// iterative 2x chain for the doubling bucket.
	if p.doublings > 0 {
		for i := 1; i <= p.doublings; i++ {
			if err := checkCancel(ctx, core.StageResample); err != nil {
				return nil, err
			}
			st := time.Now()
			cur = doublePass(cur, p.tuning, cfg.EnablePostprocess)
			rec.add(core.StageResample, fmt.Sprintf("doubling pass %d/%d", i, p.doublings), st)
		}
	} else {
		if err := checkCancel(ctx, core.StageResample); err != nil {
			return nil, err
		}
		st := time.Now()
		if p.bucket == bucketBlend {
			cur = resampleBlend(cur, p.targetW, p.targetH)
			rec.add(core.StageResample, "lanczos4+catmullrom 70/30", st)
		} else {
			cur = resampleCubic(cur, p.targetW, p.targetH)
			rec.add(core.StageResample, "catmullrom", st)
		}
	}

	// Denoise: bilateral for the single-pass buckets; non-local means for
	// the doubling bucket, where it runs before the exact-fit resample so
	// the fit never re-amplifies the removed noise.
	if p.wants(core.StageDenoise) {
		if err := checkCancel(ctx, core.StageDenoise); err != nil {
			return nil, err
		}
		current = core.StageDenoise
		st := time.Now()
		if p.bucket == bucketDouble {
			cur = nlmDenoise(cur, p.tuning.nlmPatch, p.tuning.nlmSearch, p.tuning.nlmStrength)
			rec.add(core.StageDenoise, fmt.Sprintf("nlm search=%d", 2*p.tuning.nlmSearch+1), st)
		} else {
			cur = bilateral(cur, p.tuning.bilateralRadius, p.tuning.bilateralSigma, p.tuning.rangeSigma)
			rec.add(core.StageDenoise, fmt.Sprintf("bilateral r=%d", p.tuning.bilateralRadius), st)
		}
	}

	if p.fitNeeded {
		if err := checkCancel(ctx, core.StageResample); err != nil {
			return nil, err
		}
		current = core.StageResample
		st := time.Now()
		cur = resampleFit(cur, p.targetW, p.targetH)
		rec.add(core.StageResample, fmt.Sprintf("fit %dx%d", p.targetW, p.targetH), st)
	}

	if p.wants(core.StageEdgeEnhance) {
		if err := checkCancel(ctx, core.StageEdgeEnhance); err != nil {
			return nil, err
		}
		current = core.StageEdgeEnhance
		st := time.Now()
		cur = edgeEnhance(cur, p.tuning)
		rec.add(core.StageEdgeEnhance, "sobel boost + local contrast", st)
	}

	if p.wants(core.StageColorCorrect) {
		if err := checkCancel(ctx, core.StageColorCorrect); err != nil {
			return nil, err
		}
		current = core.StageColorCorrect
		st := time.Now()
		cur = colorCorrect(cur, p.tuning)
		rec.add(core.StageColorCorrect,
			fmt.Sprintf("clahe clip=%.1f sat=+%.0f%%", p.tuning.claheClip, p.tuning.satBoost*100), st)
	}

	if p.wants(core.StageSharpen) {
		if err := checkCancel(ctx, core.StageSharpen); err != nil {
			return nil, err
		}
		current = core.StageSharpen
		st := time.Now()
		cur = sharpenMasked(cur, p.tuning)
		rec.add(core.StageSharpen, fmt.Sprintf("masked unsharp amount=%.2f", p.tuning.unsharpAmount), st)
	}

	out := core.FromNRGBA(cur, img.Channels)
	return &core.UpscaleResult{
		Image:   out,
		Width:   out.Width,
		Height:  out.Height,
		Stages:  rec.stages,
		Elapsed: time.Since(start),
	}, nil
}

func validate(img *core.RasterImage, cfg core.UpscaleConfig) error {
	if err := img.Validate(); err != nil {
		return apperrors.InvalidInput("upscale.validate", err)
	}
	if err := cfg.Validate(); err != nil {
		return apperrors.InvalidInput("upscale.validate", err)
	}
	return nil
}

func checkCancel(ctx context.Context, next core.Stage) error {
	if err := ctx.Err(); err != nil {
		return apperrors.Stage(op, next.String(), err)
	}
	return nil
}
