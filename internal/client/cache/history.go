package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"
)

const historyLimit = 10

// SearchHistory remembers the recent search terms of each channel.
type SearchHistory struct {
	store Store
}

func NewSearchHistory(store Store) *SearchHistory {
	return &SearchHistory{store: store}
}

func historyKey(channel string) string { return "search:" + channel }

// Terms returns the remembered terms of channel, most recent first.
func (h *SearchHistory) Terms(ctx context.Context, channel string) ([]string, error) {
	raw, err := h.store.Get(ctx, historyKey(channel))
	if err != nil || raw == nil {
		return nil, err
	}
	var terms []string
	if err := json.Unmarshal(raw, &terms); err != nil {
		// Corrupt entries are dropped.
		_ = h.store.Evict(ctx, historyKey(channel))
		return nil, nil
	}
	return terms, nil
}

// Remember puts term at the front of channel's history.
func (h *SearchHistory) Remember(ctx context.Context, channel, term string) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return nil
	}

	terms, err := h.Terms(ctx, channel)
	if err != nil {
		return err
	}
	terms = slices.DeleteFunc(terms, func(t string) bool { return t == term })
	terms = slices.Insert(terms, 0, term)
	if len(terms) > historyLimit {
		terms = terms[:historyLimit]
	}

	raw, err := json.Marshal(terms)
	if err != nil {
		return fmt.Errorf("encode search history: %w", err)
	}
	return h.store.Set(ctx, historyKey(channel), raw, 0)
}
