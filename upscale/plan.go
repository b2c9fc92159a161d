package upscale

import (
	"github.com/Skryldev/image-upscaler/core"
	"github.com/Skryldev/image-upscaler/utils"
)

// bucket groups scale factors that share one resampling and enhancement
// strategy. The edges resolve to exactly one bucket: 2.5 is cubic, 6.0 is
// cubic, anything above 6.0 doubles.
type bucket uint8

const (
	bucketBlend  bucket = iota // scale < 2.5: 70/30 Lanczos-4 + Catmull-Rom blend
	bucketCubic                // 2.5 <= scale <= 6: Catmull-Rom
	bucketDouble               // scale > 6: iterative 2x doubling
)

func (b bucket) String() string {
	switch b {
	case bucketBlend:
		return "blend"
	case bucketCubic:
		return "cubic"
	default:
		return "double"
	}
}

func bucketFor(scale float64) bucket {
	switch {
	case scale < 2.5:
		return bucketBlend
	case scale <= 6.0:
		return bucketCubic
	default:
		return bucketDouble
	}
}

// enhancementPlan is the bucket -> stage list lookup table. Selection is
// data, not dispatch: the runner switches on these tags in a fixed linear
// order. The blend bucket skips edge enhancement; the doubling bucket
// applies every enhancement to the final image only.
var enhancementPlan = [...][]core.Stage{
	bucketBlend:  {core.StageDenoise, core.StageColorCorrect, core.StageSharpen},
	bucketCubic:  {core.StageDenoise, core.StageEdgeEnhance, core.StageColorCorrect, core.StageSharpen},
	bucketDouble: {core.StageDenoise, core.StageEdgeEnhance, core.StageColorCorrect, core.StageSharpen},
}

// tuning holds the stage intensity parameters for one (bucket, profile)
// pair. These are starting defaults meant to be adjusted against
// golden-image regression runs, not exact constants.
type tuning struct {
	// denoise
	bilateralRadius int     // spatial window radius, px
	bilateralSigma  float64 // spatial Gaussian sigma
	rangeSigma      float64 // intensity sigma for the range weight
	nlmPatch        int     // NLM patch radius
	nlmSearch       int     // NLM search window radius
	nlmStrength     float64 // NLM filtering strength (h)

	// edge enhance
	edgeGain      float64 // boost at the strongest gradient
	localContrast float64 // luminance equalization blend weight

	// color correct
	claheClip  float64 // clip limit multiple over the uniform bin level
	claheTiles int     // tile grid per axis
	satBoost   float64 // chroma saturation gain, capped at 0.10

	// sharpen
	unsharpAmount float64
	unsharpSigma  float64
	cannyLow      float64 // hysteresis thresholds as fractions of max magnitude
	cannyHigh     float64
	dilateRadius  int
}

// baseTuning is the balanced-profile parameter table per bucket. The blend
// bucket smooths mildly inside a small window; the cubic bucket widens both
// the window and the range weight; the doubling bucket's bilateral entry is
// the light per-pass smoothing and its denoise stage runs non-local means.
var baseTuning = [...]tuning{
	bucketBlend: {
		bilateralRadius: 3, bilateralSigma: 1.4, rangeSigma: 24,
		edgeGain: 0.30, localContrast: 0.20,
		claheClip: 2.0, claheTiles: 8, satBoost: 0.06,
		unsharpAmount: 0.10, unsharpSigma: 1.0,
		cannyLow: 0.10, cannyHigh: 0.25, dilateRadius: 1,
	},
	bucketCubic: {
		bilateralRadius: 5, bilateralSigma: 2.2, rangeSigma: 36,
		edgeGain: 0.50, localContrast: 0.30,
		claheClip: 2.0, claheTiles: 8, satBoost: 0.06,
		unsharpAmount: 0.15, unsharpSigma: 1.2,
		cannyLow: 0.10, cannyHigh: 0.25, dilateRadius: 1,
	},
	bucketDouble: {
		bilateralRadius: 2, bilateralSigma: 1.0, rangeSigma: 16,
		nlmPatch: 1, nlmSearch: 5, nlmStrength: 10,
		edgeGain: 0.50, localContrast: 0.30,
		claheClip: 2.0, claheTiles: 8, satBoost: 0.06,
		unsharpAmount: 0.18, unsharpSigma: 1.2,
		cannyLow: 0.10, cannyHigh: 0.25, dilateRadius: 1,
	},
}

// tuningFor scales the base table by quality profile. Profiles adjust
// intensity only, never the stage list, so diagnostics stay
// bucket-determined.
func tuningFor(profile core.QualityProfile, b bucket) tuning {
	t := baseTuning[b]
	switch profile {
	case core.ProfileFast:
		t.rangeSigma *= 0.75
		t.nlmSearch = 3
		t.nlmStrength = 8
		t.claheClip = 1.6
		t.satBoost = 0.04
		t.edgeGain *= 0.7
		t.unsharpAmount *= 0.8
	case core.ProfileMaximum:
		t.rangeSigma *= 1.25
		t.nlmSearch = 7
		t.nlmStrength = 12
		t.claheClip = 2.4
		t.satBoost = 0.08
		t.edgeGain *= 1.3
		t.unsharpAmount *= 1.2
		t.dilateRadius = 2
	}
	return t
}

// plan is the resolved execution recipe for one run.
type plan struct {
	bucket    bucket
	doublings int  // 2x passes for bucketDouble, else 0
	fitNeeded bool // exact resample to target after doubling overshoot
	enhance   []core.Stage
	tuning    tuning
	targetW   int
	targetH   int
}

func planFor(cfg core.UpscaleConfig, srcW, srcH int) plan {
	b := bucketFor(cfg.ScaleFactor)
	tw, th := utils.TargetDimensions(srcW, srcH, cfg.ScaleFactor)
	p := plan{
		bucket:  b,
		tuning:  tuningFor(cfg.Profile, b),
		targetW: tw,
		targetH: th,
	}
	if b == bucketDouble {
		p.doublings = utils.DoublingPasses(cfg.ScaleFactor)
		p.fitNeeded = srcW<<p.doublings != tw || srcH<<p.doublings != th
	}
	if cfg.EnablePostprocess {
		p.enhance = enhancementPlan[b]
	}
	return p
}

func (p plan) wants(s core.Stage) bool {
	for _, e := range p.enhance {
		if e == s {
			return true
		}
	}
	return false
}
