package asset

import (
	"io"
	"testing"

	"github.com/MyriadMinds/virtual-circus/allocator"
	"github.com/MyriadMinds/virtual-circus/gpu"
	"github.com/MyriadMinds/virtual-circus/gpu/gputest"
	"github.com/stretchr/testify/require"
	"golang.org/x/exp/slog"
)

func readyUpload(t *testing.T) (*gputest.Device, *allocator.Allocator) {
	t.Helper()

	device := gputest.NewDevice()
	alloc, err := allocator.New(allocator.CreateOptions{
		Device: device,
		Logger: slog.New(slog.NewJSONHandler(io.Discard)),
	})
	require.NoError(t, err)
	return device, alloc
}

func texels(count int) []byte {
	data := make([]byte, count)
	for i := range data {
		data[i] = byte(i % 256)
	}
	return data
}

func knightSource() *ModelSource {
	return &ModelSource{
		Name: "knight",
		Scenes: []Scene{{
			Name:  "default",
			Nodes: []Node{{Name: "root", Mesh: 0}},
		}},
		Meshes: []Mesh{{
			Name:       "body",
			Primitives: []Primitive{{Vertices: 0, Indices: 1, Material: 0}},
		}},
		Views: []BufferView{
			{Buffer: 0, Offset: 0, Length: 96},
			{Buffer: 1, Offset: 0, Length: 24},
		},
		Accessors: []Accessor{
			{View: 0, Count: 8, Stride: 12},
			{View: 1, Count: 12, Stride: 2},
		},
		BufferBlobs: [][]byte{texels(96), texels(24)},
		Images: []ImageSource{{
			Pixels: texels(2 * 2 * gpu.FormatR8G8B8A8SRGB.TexelSize()),
			Width:  2,
			Height: 2,
			Format: gpu.FormatR8G8B8A8SRGB,
		}},
	}
}

func TestUploadModel(t *testing.T) {
	device, alloc := readyUpload(t)
	source := knightSource()

	request, err := UploadModel(alloc, source)
	require.NoError(t, err)
	require.NoError(t, request.Poll())

	require.NoError(t, alloc.Flush())

	model, err := request.Finalize()
	require.NoError(t, err)
	require.Equal(t, "knight", model.Name)
	require.Len(t, model.Buffers, 2)
	require.Len(t, model.Images, 1)
	require.Equal(t, gpu.ImageLayoutShaderReadOnlyOptimal, gputest.ImageLayout(model.Images[0].Handle()))

	// The uploaded bytes must match the source blobs.
	for i, blob := range source.BufferBlobs {
		download, err := alloc.DownloadBuffer(model.Buffers[i])
		require.NoError(t, err)
		require.NoError(t, alloc.Flush())

		uploaded, err := download.Bytes()
		require.NoError(t, err)
		require.Equal(t, blob, uploaded)
		download.Destroy()
	}

	model.Destroy()
	require.NoError(t, alloc.ProcessDeallocations())
	require.Equal(t, 0, alloc.Engine().OutstandingAllocations())

	alloc.Cleanup()
	require.NoError(t, alloc.Destroy())
	require.Equal(t, 0, device.LiveMemoryBlocks())
	require.Equal(t, 0, device.LiveBuffers())
	require.Equal(t, 0, device.LiveImages())
}

func TestUploadModelEmptyTextureFails(t *testing.T) {
	device, alloc := readyUpload(t)

	source := knightSource()
	source.Images[0].Pixels = nil

	_, err := UploadModel(alloc, source)
	require.ErrorIs(t, err, allocator.ErrNoImageData)
	require.Equal(t, 0, device.LiveImages())

	// Everything the failed upload created comes back after one pass.
	require.NoError(t, alloc.ProcessDeallocations())

	alloc.Cleanup()
	require.NoError(t, alloc.Destroy())
	require.Equal(t, 0, device.LiveMemoryBlocks())
	require.Equal(t, 0, device.LiveBuffers())
}
