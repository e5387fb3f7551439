package scenefile

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zstd"

	"outpost.ai/internal/protocol"
)

// Ext marks compressed scene files. Plain .json files are read as-is.
const Ext = ".scene.json.zst"

// Write stores a scene as zstd-compressed JSON. The file is written next to
// path and renamed into place so readers never see a partial scene.
func Write(path string, sc protocol.Scene) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if err := writeTo(f, sc); err != nil {
		_ = f.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

func writeTo(f *os.File, sc protocol.Scene) error {
	enc, err := zstd.NewWriter(f, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return err
	}
	bw := bufio.NewWriterSize(enc, 64*1024)
	if err := json.NewEncoder(bw).Encode(sc); err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode scene: %w", err)
	}
	if err := bw.Flush(); err != nil {
		_ = enc.Close()
		return err
	}
	return enc.Close()
}

// Read loads a scene file and validates it like any other snapshot.
func Read(path string) (protocol.Scene, error) {
	f, err := os.Open(path)
	if err != nil {
		return protocol.Scene{}, err
	}
	defer f.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".zst") {
		dec, err := zstd.NewReader(f, zstd.WithDecoderMaxMemory(64<<20))
		if err != nil {
			return protocol.Scene{}, err
		}
		defer dec.Close()
		r = dec
	}
	b, err := io.ReadAll(bufio.NewReaderSize(r, 64*1024))
	if err != nil {
		return protocol.Scene{}, fmt.Errorf("read scene %s: %w", filepath.Base(path), err)
	}
	sc, err := protocol.DecodeScene(b)
	if err != nil {
		return protocol.Scene{}, fmt.Errorf("scene %s: %w", filepath.Base(path), err)
	}
	return sc, nil
}
