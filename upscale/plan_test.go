package upscale

import (
	"strings"
	"testing"

	"github.com/Skryldev/image-upscaler/core"
)

func TestBucketFor(t *testing.T) {
	tests := []struct {
		scale float64
		want  bucket
	}{
		{1.01, bucketBlend},
		{1.5, bucketBlend},
		{2.0, bucketBlend},
		{2.49, bucketBlend},
		{2.5, bucketCubic},
		{4.0, bucketCubic},
		{6.0, bucketCubic},
		{6.01, bucketDouble},
		{8.0, bucketDouble},
		{16.0, bucketDouble},
	}
	for _, tt := range tests {
		if got := bucketFor(tt.scale); got != tt.want {
			t.Errorf("bucketFor(%v) = %s, want %s", tt.scale, got, tt.want)
		}
	}
}

func TestEnhancementPlan_StageSets(t *testing.T) {
	for _, s := range enhancementPlan[bucketBlend] {
		if s == core.StageEdgeEnhance {
			t.Error("blend bucket must not run edge enhancement")
		}
	}
	for b := bucketBlend; b <= bucketDouble; b++ {
		stages := enhancementPlan[b]
		for i := 1; i < len(stages); i++ {
			if stages[i] <= stages[i-1] {
				t.Errorf("%s bucket: stage %s listed after %s, order must be linear",
					b, stages[i], stages[i-1])
			}
		}
	}
}

func TestPlanFor_ProfileNeverChangesStages(t *testing.T) {
	profiles := []core.QualityProfile{core.ProfileFast, core.ProfileBalanced, core.ProfileMaximum}
	for _, scale := range []float64{1.5, 4, 8} {
		var want string
		for i, profile := range profiles {
			cfg := core.DefaultUpscaleConfig()
			cfg.ScaleFactor = scale
			cfg.Profile = profile
			var names []string
			for _, s := range planFor(cfg, 100, 100).enhance {
				names = append(names, s.String())
			}
			got := strings.Join(names, ",")
			if i == 0 {
				want = got
				continue
			}
			if got != want {
				t.Errorf("scale %v, profile %s: stages %q, want %q", scale, profile, got, want)
			}
		}
	}
}

func TestTuningFor_SaturationCap(t *testing.T) {
	profiles := []core.QualityProfile{core.ProfileFast, core.ProfileBalanced, core.ProfileMaximum}
	for b := bucketBlend; b <= bucketDouble; b++ {
		for _, profile := range profiles {
			if got := tuningFor(profile, b).satBoost; got > 0.10 {
				t.Errorf("satBoost(%s, %s) = %v, cap is 0.10", profile, b, got)
			}
		}
	}
}

func TestPlanFor_Doublings(t *testing.T) {
	tests := []struct {
		name       string
		scale      float64
		srcW, srcH int
		doublings  int
		fit        bool
		tw, th     int
	}{
		{"exact 8x", 8, 100, 100, 3, false, 800, 800},
		{"7x overshoots", 7, 100, 100, 3, true, 700, 700},
		{"6.5x rect", 6.5, 50, 40, 3, true, 325, 260},
		{"exact 16x", 16, 20, 20, 4, false, 320, 320},
		{"9x overshoots", 9, 10, 10, 4, true, 90, 90},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := core.DefaultUpscaleConfig()
			cfg.ScaleFactor = tt.scale
			p := planFor(cfg, tt.srcW, tt.srcH)
			if p.bucket != bucketDouble {
				t.Fatalf("bucket = %s, want double", p.bucket)
			}
			if p.doublings != tt.doublings {
				t.Errorf("doublings = %d, want %d", p.doublings, tt.doublings)
			}
			if p.fitNeeded != tt.fit {
				t.Errorf("fitNeeded = %v, want %v", p.fitNeeded, tt.fit)
			}
			if p.targetW != tt.tw || p.targetH != tt.th {
				t.Errorf("target = %dx%d, want %dx%d", p.targetW, p.targetH, tt.tw, tt.th)
			}
		})
	}
}

func TestPlanFor_SinglePassBucketsNeverFit(t *testing.T) {
	for _, scale := range []float64{1.5, 2.49, 2.5, 6.0} {
		cfg := core.DefaultUpscaleConfig()
		cfg.ScaleFactor = scale
		p := planFor(cfg, 33, 17)
		if p.doublings != 0 || p.fitNeeded {
			t.Errorf("scale %v: doublings=%d fit=%v, single-pass buckets resample once",
				scale, p.doublings, p.fitNeeded)
		}
	}
}

func TestPlanFor_PostprocessOff(t *testing.T) {
	cfg := core.DefaultUpscaleConfig()
	cfg.EnablePostprocess = false
	for _, scale := range []float64{2, 4, 8} {
		cfg.ScaleFactor = scale
		if p := planFor(cfg, 64, 64); len(p.enhance) != 0 {
			t.Errorf("scale %v: %d enhancement stages planned with postprocessing off", scale, len(p.enhance))
		}
	}
}
