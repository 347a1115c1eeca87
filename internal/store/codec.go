// Package store provides AlertStore implementations that keep the whole
// alert table as one unit: in memory, in a local file, in an S3 object, or
// in a Redis hash.
package store

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"meetingalert/internal/types"
)

// snapshotVersion is bumped when the snapshot layout changes incompatibly.
const snapshotVersion = 1

// snapshot is the document written by the file and S3 stores.
type snapshot struct {
	Version int                    `json:"version"`
	SavedAt time.Time              `json:"saved_at"`
	Alerts  []types.ScheduledAlert `json:"alerts"`
}

var (
	encoderPool = sync.Pool{
		New: func() any {
			e, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault), zstd.WithEncoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd encoder: %v", err))
			}
			return e
		},
	}
	decoderPool = sync.Pool{
		New: func() any {
			d, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
			if err != nil {
				panic(fmt.Sprintf("failed to create zstd decoder: %v", err))
			}
			return d
		},
	}
)

// encodeSnapshot serializes alerts as zstd-compressed JSON.
func encodeSnapshot(alerts []types.ScheduledAlert, now time.Time) ([]byte, error) {
	if alerts == nil {
		alerts = []types.ScheduledAlert{}
	}
	raw, err := json.Marshal(snapshot{Version: snapshotVersion, SavedAt: now.UTC(), Alerts: alerts})
	if err != nil {
		return nil, fmt.Errorf("store: failed to marshal snapshot: %w", err)
	}

	enc := encoderPool.Get().(*zstd.Encoder)
	defer encoderPool.Put(enc)
	return enc.EncodeAll(raw, make([]byte, 0, len(raw)/2)), nil
}

// decodeSnapshot reverses encodeSnapshot.
func decodeSnapshot(data []byte) ([]types.ScheduledAlert, error) {
	dec := decoderPool.Get().(*zstd.Decoder)
	defer decoderPool.Put(dec)

	raw, err := dec.DecodeAll(data, nil)
	if err != nil {
		return nil, fmt.Errorf("store: zstd decompression failed: %w", err)
	}

	var snap snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("store: failed to unmarshal snapshot: %w", err)
	}
	if snap.Version != snapshotVersion {
		return nil, fmt.Errorf("store: unsupported snapshot version %d", snap.Version)
	}
	return snap.Alerts, nil
}
