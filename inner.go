package imageupscaler

import "github.com/Skryldev/image-upscaler/core"

// Inner exposes the underlying core.Processor for advanced use (e.g., direct
// registry access in tests).  Prefer the high-level API for normal usage.
func (u *Upscaler) Inner() *core.Processor { return u.inner }
