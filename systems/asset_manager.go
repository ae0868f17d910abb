package systems

import (
	"time"

	"github.com/MyriadMinds/virtual-circus/allocator"
	"github.com/MyriadMinds/virtual-circus/asset"
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/messagebus"
	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

const (
	defaultFramesInFlight = 2

	depthFormat = gpu.FormatD32SFloat
	colorFormat = gpu.FormatR8G8B8A8SRGB

	// idleInterval paces the polling loop when neither messages nor
	// deallocations are arriving.
	idleInterval = time.Millisecond
)

// AssetManagerOptions configures NewAssetManager.
type AssetManagerOptions struct {
	// Device is the logical device the manager's allocator lives on. Required.
	Device gpu.Device
	// Loader parses model archives into upload-ready sources. Required.
	Loader asset.Loader
	// Mailbox is the manager's receiving end on the message bus. Required.
	Mailbox *messagebus.Mailbox
	// Logger defaults to slog.Default().
	Logger *slog.Logger
	// WindowExtent sizes the render targets built for
	// MessageRequestWindowResources.
	WindowExtent gpu.Extent3D
	// FramesInFlight is the number of depth/color image pairs to build.
	// Defaults to 2.
	FramesInFlight int
	// CPUVisibleHeapSize and GPUOnlyHeapSize pass through to the allocator.
	CPUVisibleHeapSize int
	GPUOnlyHeapSize    int
}

// AssetManager owns the engine's allocator and services resource requests
// from the bus: model uploads and window render targets. It is the producer
// side of the resource lifecycle; consumers take the finished resources off
// the bus and destroy them from their own goroutines, and the manager's
// polling loop reclaims the memory.
type AssetManager struct {
	logger         *slog.Logger
	allocator      *allocator.Allocator
	loader         asset.Loader
	mailbox        *messagebus.Mailbox
	windowExtent   gpu.Extent3D
	framesInFlight int
}

// NewAssetManager creates the manager and its allocator.
func NewAssetManager(options AssetManagerOptions) (*AssetManager, error) {
	logger := options.Logger
	if logger == nil {
		logger = slog.Default()
	}

	framesInFlight := options.FramesInFlight
	if framesInFlight == 0 {
		framesInFlight = defaultFramesInFlight
	}

	alloc, err := allocator.New(allocator.CreateOptions{
		Device:             options.Device,
		Logger:             logger,
		CPUVisibleHeapSize: options.CPUVisibleHeapSize,
		GPUOnlyHeapSize:    options.GPUOnlyHeapSize,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create the asset manager's allocator")
	}

	return &AssetManager{
		logger:         logger,
		allocator:      alloc,
		loader:         options.Loader,
		mailbox:        options.Mailbox,
		windowExtent:   options.WindowExtent,
		framesInFlight: framesInFlight,
	}, nil
}

// Name identifies the manager when run in a Group.
func (m *AssetManager) Name() string {
	return "asset-manager"
}

// Run services the bus until a Stop message arrives or the release channel
// is lost, then drains all outstanding resources and tears the allocator
// down. Deallocations are processed ahead of new requests on every pass to
// keep memory pressure low.
func (m *AssetManager) Run() {
	for {
		if err := m.allocator.ProcessDeallocations(); err != nil {
			// The channel disconnecting while the manager still runs means
			// the allocator cannot reclaim anything ever again.
			m.logger.Error("asset manager lost its release channel, requesting shutdown", slog.Any("error", err))
			m.mailbox.Post(messagebus.StopMessage())
			break
		}

		messages := m.mailbox.Check()
		for _, message := range messages {
			switch message.Kind {
			case messagebus.MessageRequestAsset:
				m.loadAsset(message.AssetPath)
			case messagebus.MessageRequestWindowResources:
				m.prepareWindowResources()
			}
		}

		if m.mailbox.ShouldClose() {
			break
		}
		if len(messages) == 0 {
			time.Sleep(idleInterval)
		}
	}

	m.allocator.Cleanup()
	if err := m.allocator.Destroy(); err != nil {
		m.logger.Error("failed to destroy the asset manager's allocator", slog.Any("error", err))
	}
}

// loadAsset loads, uploads, and announces one model. Failures are logged and
// the request is skipped; the rest of the engine keeps running.
func (m *AssetManager) loadAsset(path string) {
	m.logger.Debug("loading asset", slog.String("path", path))

	source, err := m.loader.LoadModel(path)
	if err != nil {
		m.logger.Error("failed to load model", slog.String("path", path), slog.Any("error", err))
		return
	}

	request, err := asset.UploadModel(m.allocator, source)
	if err != nil {
		m.logger.Error("failed to upload model", slog.String("path", path), slog.Any("error", err))
		return
	}

	if err := m.allocator.Flush(); err != nil {
		m.logger.Error("failed to flush model transfer commands", slog.String("path", path), slog.Any("error", err))
		return
	}

	model, err := request.Finalize()
	if err != nil {
		m.logger.Error("failed to finalize model request", slog.String("path", path), slog.Any("error", err))
		return
	}

	m.mailbox.Post(messagebus.ModelReadyMessage(path, model))
	m.logger.Debug("asset ready", slog.String("path", path))
}

// prepareWindowResources builds one depth and one color target per frame in
// flight and announces them on the bus.
func (m *AssetManager) prepareWindowResources() {
	m.logger.Debug("preparing window resources")

	resources := &messagebus.WindowResources{}
	for i := 0; i < m.framesInFlight; i++ {
		depth, err := m.allocator.CreateImage(nil, gpu.ImageCreateInfo{
			Format: depthFormat,
			Extent: m.windowExtent,
		}, allocator.ImagePurposeDepthBuffer)
		if err != nil {
			m.logger.Error("failed to create depth image", slog.Any("error", err))
			resources.Destroy()
			return
		}
		resources.DepthImages = append(resources.DepthImages, depth)

		color, err := m.allocator.CreateImage(nil, gpu.ImageCreateInfo{
			Format: colorFormat,
			Extent: m.windowExtent,
		}, allocator.ImagePurposeColorAttachment)
		if err != nil {
			m.logger.Error("failed to create color image", slog.Any("error", err))
			resources.Destroy()
			return
		}
		resources.ColorImages = append(resources.ColorImages, color)
	}

	if err := m.allocator.Flush(); err != nil {
		m.logger.Error("failed to flush window resource transitions", slog.Any("error", err))
		resources.Destroy()
		return
	}

	m.mailbox.Post(messagebus.WindowResourcesReadyMessage(resources))
	m.logger.Debug("window resources ready")
}
