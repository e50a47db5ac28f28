package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
)

// SaveSetting stores v as the JSON document for (kind, guildID).
func SaveSetting[T any](ctx context.Context, st Store, kind, guildID string, v T) error {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s setting: %w", kind, err)
	}
	return st.PutSetting(ctx, kind, guildID, b)
}

// LoadSetting returns ErrNotFound when nothing is stored.
func LoadSetting[T any](ctx context.Context, st Store, kind, guildID string) (T, error) {
	var v T
	b, err := st.GetSetting(ctx, kind, guildID)
	if err != nil {
		return v, err
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode %s setting for %s: %w", kind, guildID, err)
	}
	return v, nil
}

// LoadSettings returns every stored document of kind, ordered by guild id.
// Undecodable rows are skipped and reported in the returned error.
func LoadSettings[T any](ctx context.Context, st Store, kind string) ([]T, error) {
	raw, err := st.ListSettings(ctx, kind)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(raw))
	for g := range raw {
		ids = append(ids, g)
	}
	sort.Strings(ids)

	out := make([]T, 0, len(ids))
	var bad []string
	for _, g := range ids {
		var v T
		if err := json.Unmarshal(raw[g], &v); err != nil {
			bad = append(bad, g)
			continue
		}
		out = append(out, v)
	}
	if len(bad) > 0 {
		return out, fmt.Errorf("decode %s settings: %d bad rows (%v)", kind, len(bad), bad)
	}
	return out, nil
}
