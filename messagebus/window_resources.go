package messagebus

import "github.com/MyriadMinds/virtual-circus/allocator"

// WindowResources bundles the render targets the presentation layer needs,
// one depth image and one color image per frame in flight. Produced by the
// asset manager in response to MessageRequestWindowResources and handed over
// the bus in a one-shot payload.
type WindowResources struct {
	DepthImages []*allocator.Image
	ColorImages []*allocator.Image
}

// Destroy releases every render target. The images return their memory to
// the allocator that produced them.
func (w *WindowResources) Destroy() {
	for _, image := range w.DepthImages {
		image.Destroy()
	}
	for _, image := range w.ColorImages {
		image.Destroy()
	}
	w.DepthImages = nil
	w.ColorImages = nil
}
