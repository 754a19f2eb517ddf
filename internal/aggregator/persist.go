package aggregator

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vmihailenco/msgpack/v5"

	"federated-traffic-rl/internal/wire"
)

// Checkpoint is the persisted form of the global model.
type Checkpoint struct {
	RunID     string       `msgpack:"run_id"`
	Round     int          `msgpack:"round"`
	StateDim  int          `msgpack:"state_dim"`
	ActionDim int          `msgpack:"action_dim"`
	Weights   wire.Weights `msgpack:"weights"`
}

// checkWritable fails fast at startup when a persistence path cannot be
// created, instead of discovering it rounds into training.
func checkWritable(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("aggregator: create %s: %w", dir, err)
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("aggregator: open %s: %w", path, err)
	}
	return f.Close()
}

func writeCheckpoint(path string, cp Checkpoint) error {
	data, err := msgpack.Marshal(cp)
	if err != nil {
		return fmt.Errorf("aggregator: encode checkpoint: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadCheckpoint loads a persisted global model, e.g. for inference.
func ReadCheckpoint(path string) (Checkpoint, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Checkpoint{}, err
	}
	var cp Checkpoint
	if err := msgpack.Unmarshal(data, &cp); err != nil {
		return Checkpoint{}, fmt.Errorf("aggregator: decode checkpoint: %w", err)
	}
	return cp, nil
}

// writeRoundLogs rewrites the whole log file so a crash loses at most
// the in-flight round.
func writeRoundLogs(path string, logs []RoundLog) error {
	data, err := json.MarshalIndent(logs, "", "  ")
	if err != nil {
		return fmt.Errorf("aggregator: encode round logs: %w", err)
	}
	return os.WriteFile(path, data, 0o644)
}
