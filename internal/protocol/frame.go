package protocol

import (
	"encoding/json"
	"fmt"

	"github.com/klauspost/compress/zstd"
)

// EncodeAll/DecodeAll are safe for concurrent use on shared coders.
var (
	frameEncoder, _ = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedFastest))
	frameDecoder, _ = zstd.NewReader(nil, zstd.WithDecoderConcurrency(0), zstd.WithDecoderMaxMemory(maxFrameSize))
)

// maxFrameSize bounds a decompressed binary frame.
const maxFrameSize = 16 << 20

func NewSceneFrame(s Scene) ([]byte, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return nil, err
	}
	return json.Marshal(SceneFrame{Type: TypeScene, ProtocolVersion: Version, Scene: raw})
}

func NewCommandFrame(ev CommandEvent) ([]byte, error) {
	return json.Marshal(CommandFrame{Type: TypeCommand, ProtocolVersion: Version, Command: ev})
}

// CompressFrame wraps a JSON frame for a binary websocket message.
func CompressFrame(b []byte) []byte {
	return frameEncoder.EncodeAll(b, make([]byte, 0, len(b)/2))
}

// DecompressFrame unwraps a binary websocket message into its JSON frame.
func DecompressFrame(b []byte) ([]byte, error) {
	out, err := frameDecoder.DecodeAll(b, nil)
	if err != nil {
		return nil, fmt.Errorf("decompress frame: %w", err)
	}
	return out, nil
}

// Frame is one decoded stream message. Exactly one of Scene and Command is set.
type Frame struct {
	Type    string
	Scene   *Scene
	Command *CommandEvent
}

// DecodeFrame routes a JSON stream frame by type. Unknown types return a
// Frame with only Type set.
func DecodeFrame(b []byte) (Frame, error) {
	base, err := DecodeBase(b)
	if err != nil {
		return Frame{}, fmt.Errorf("decode frame: %w", err)
	}
	if base.ProtocolVersion != "" && base.ProtocolVersion != Version {
		return Frame{}, fmt.Errorf("decode frame: unsupported protocol_version %q", base.ProtocolVersion)
	}
	switch base.Type {
	case TypeScene:
		var f SceneFrame
		if err := json.Unmarshal(b, &f); err != nil {
			return Frame{}, fmt.Errorf("decode scene frame: %w", err)
		}
		s, err := DecodeScene(f.Scene)
		if err != nil {
			return Frame{}, err
		}
		return Frame{Type: base.Type, Scene: &s}, nil
	case TypeCommand:
		var f CommandFrame
		if err := json.Unmarshal(b, &f); err != nil {
			return Frame{}, fmt.Errorf("decode command frame: %w", err)
		}
		if f.Command.AgentID == "" || f.Command.Action == "" {
			return Frame{}, fmt.Errorf("decode command frame: missing agentId or action")
		}
		return Frame{Type: base.Type, Command: &f.Command}, nil
	default:
		return Frame{Type: base.Type}, nil
	}
}
