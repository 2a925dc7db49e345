package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"

	"github.com/storyloom/loom"
)

// SaveTurns persists the full turn list.
func SaveTurns(ctx context.Context, kv KV, turns []*loom.Turn) error {
	data, err := json.Marshal(turns)
	if err != nil {
		return fmt.Errorf("marshal turns: %w", err)
	}
	return kv.Save(ctx, KeyTurns, data)
}

// LoadTurns restores the turn list. A missing key yields an empty list.
func LoadTurns(ctx context.Context, kv KV) ([]*loom.Turn, error) {
	data, err := kv.Load(ctx, KeyTurns)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var turns []*loom.Turn
	if err := json.Unmarshal(data, &turns); err != nil {
		return nil, fmt.Errorf("unmarshal turns: %w", err)
	}
	return turns, nil
}

// SaveJSON persists any JSON-marshalable value under key.
func SaveJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", key, err)
	}
	return kv.Save(ctx, key, data)
}

// LoadJSON restores a value saved with SaveJSON. Returns ErrNotFound when
// the key was never saved.
func LoadJSON(ctx context.Context, kv KV, key string, v any) error {
	data, err := kv.Load(ctx, key)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SaveFloat persists a float value under key.
func SaveFloat(ctx context.Context, kv KV, key string, v float64) error {
	return kv.Save(ctx, key, strconv.AppendFloat(nil, v, 'g', -1, 64))
}

// LoadFloat restores a float saved with SaveFloat; missing keys yield zero.
func LoadFloat(ctx context.Context, kv KV, key string) (float64, error) {
	data, err := kv.Load(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return strconv.ParseFloat(string(data), 64)
}
