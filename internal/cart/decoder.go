// Package cart decodes the untrusted client cart snapshot attached to a
// checkout session. Nothing decoded here is authoritative: ids and types
// are reconciled against the catalog at fulfillment time, and claimed
// prices are only ever shown on receipts.
package cart

import (
	"encoding/json"
	"math"

	"midistore/internal/models"
)

type rawEntry struct {
	ID    string      `json:"id"`
	Type  string      `json:"type"`
	Title string      `json:"title"`
	Price json.Number `json:"price"`
}

// Decode parses a cart snapshot into entries, preserving order. Decoding
// is lenient: entries missing an id or type, carrying an unknown type, or
// failing to parse at all are dropped rather than aborting the snapshot.
// A malformed blob yields no entries and a non-nil error so callers can
// log the anomaly; it is never fatal to fulfillment.
func Decode(snapshot []byte) ([]models.CartEntry, int, error) {
	if len(snapshot) == 0 {
		return nil, 0, nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(snapshot, &raws); err != nil {
		return nil, 0, err
	}

	entries := make([]models.CartEntry, 0, len(raws))
	dropped := 0

	for _, raw := range raws {
		var r rawEntry
		if err := json.Unmarshal(raw, &r); err != nil {
			dropped++
			continue
		}
		if r.ID == "" || r.Type == "" {
			dropped++
			continue
		}
		if r.Type != models.ItemTypeMidi && r.Type != models.ItemTypePack {
			dropped++
			continue
		}

		entries = append(entries, models.CartEntry{
			ID:         r.ID,
			Type:       r.Type,
			Title:      r.Title,
			PriceCents: parsePriceCents(r.Price),
		})
	}

	return entries, dropped, nil
}

// parsePriceCents reads a claimed price as integer cents. Fractional
// values are tolerated and rounded; an unparseable price becomes zero
// since it is display-only anyway.
func parsePriceCents(n json.Number) int64 {
	if n == "" {
		return 0
	}
	if cents, err := n.Int64(); err == nil {
		return cents
	}
	if f, err := n.Float64(); err == nil {
		return int64(math.Round(f))
	}
	return 0
}
