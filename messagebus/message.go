package messagebus

import (
	"github.com/MyriadMinds/virtual-circus/asset"
	"golang.org/x/exp/slog"
)

// MessageKind identifies what a bus message asks for or announces.
type MessageKind uint32

const (
	// MessageStop asks every system to finish its current work and shut down.
	MessageStop MessageKind = iota
	// MessageRequestAsset asks the asset manager to load the model archive at
	// AssetPath and upload it to the GPU.
	MessageRequestAsset
	// MessageRequestWindowResources asks the asset manager to build the
	// per-frame render targets.
	MessageRequestWindowResources
	// MessageModelReady announces that a requested model finished uploading;
	// the model rides in the Model payload.
	MessageModelReady
	// MessageWindowResourcesReady announces the per-frame render targets; they
	// ride in the WindowResources payload.
	MessageWindowResourcesReady
)

var messageKindMapping = make(map[MessageKind]string)

func (k MessageKind) String() string {
	return messageKindMapping[k]
}

func init() {
	messageKindMapping[MessageStop] = "Stop"
	messageKindMapping[MessageRequestAsset] = "RequestAsset"
	messageKindMapping[MessageRequestWindowResources] = "RequestWindowResources"
	messageKindMapping[MessageModelReady] = "ModelReady"
	messageKindMapping[MessageWindowResourcesReady] = "WindowResourcesReady"
}

// Message is one bus message. Messages are copied into every mailbox, so
// everything in them must be cheap to copy; resources travel in shared
// one-shot Payload slots.
type Message struct {
	Kind      MessageKind
	AssetPath string

	Model           *Payload[*asset.Model]
	WindowResources *Payload[*WindowResources]
}

// StopMessage builds the shutdown broadcast.
func StopMessage() Message {
	return Message{Kind: MessageStop}
}

// RequestAssetMessage asks for the model archive at path.
func RequestAssetMessage(path string) Message {
	return Message{Kind: MessageRequestAsset, AssetPath: path}
}

// RequestWindowResourcesMessage asks for the per-frame render targets.
func RequestWindowResourcesMessage() Message {
	return Message{Kind: MessageRequestWindowResources}
}

// ModelReadyMessage announces a finished model upload.
func ModelReadyMessage(path string, model *asset.Model) Message {
	return Message{Kind: MessageModelReady, AssetPath: path, Model: NewPayload(model)}
}

// WindowResourcesReadyMessage announces finished per-frame render targets.
func WindowResourcesReadyMessage(resources *WindowResources) Message {
	return Message{Kind: MessageWindowResourcesReady, WindowResources: NewPayload(resources)}
}

// LogValue renders the message for logging without touching its payloads.
func (m Message) LogValue() slog.Value {
	if m.AssetPath == "" {
		return slog.StringValue(m.Kind.String())
	}
	return slog.GroupValue(
		slog.String("kind", m.Kind.String()),
		slog.String("path", m.AssetPath),
	)
}
