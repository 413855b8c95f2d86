package syncer

import (
	"encoding/json"
	"sort"

	"github.com/rs/zerolog/log"

	"github.com/mcdev12/planningpoker/go/internal/models"
)

// Decoders never fail: null, missing and malformed payloads become empty
// values.

func decodeMeta(raw json.RawMessage) models.SessionMeta {
	var meta models.SessionMeta
	if len(raw) == 0 {
		return meta
	}
	if err := json.Unmarshal(raw, &meta); err != nil {
		log.Warn().Err(err).Msg("malformed session meta")
		return models.SessionMeta{}
	}
	return meta
}

func decodeParticipants(raw json.RawMessage) map[string]models.Participant {
	out := map[string]models.Participant{}
	var entries map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil {
		return out
	}
	for name, v := range entries {
		var p models.Participant
		if err := json.Unmarshal(v, &p); err != nil {
			log.Warn().Err(err).Str("participant", name).Msg("skipping malformed participant")
			continue
		}
		p.Name = name
		out[name] = p
	}
	return out
}

// decodeItems returns items ordered by id, which is insertion order for
// store generated ids.
func decodeItems(raw json.RawMessage) []models.Item {
	var entries map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil {
		return nil
	}
	ids := make([]string, 0, len(entries))
	for id := range entries {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	items := make([]models.Item, 0, len(ids))
	for _, id := range ids {
		var it models.Item
		if err := json.Unmarshal(entries[id], &it); err != nil {
			log.Warn().Err(err).Str("item_id", id).Msg("skipping malformed item")
			continue
		}
		it.ID = id
		if it.Status == "" {
			it.Status = models.ItemStatusPending
		}
		items = append(items, it)
	}
	return items
}

func decodeVotes(raw json.RawMessage) map[string]string {
	out := map[string]string{}
	var entries map[string]json.RawMessage
	if len(raw) == 0 || json.Unmarshal(raw, &entries) != nil {
		return out
	}
	for name, v := range entries {
		var s string
		if err := json.Unmarshal(v, &s); err == nil {
			out[name] = s
			continue
		}
		var n json.Number
		if err := json.Unmarshal(v, &n); err == nil {
			out[name] = n.String()
		}
	}
	return out
}

func decodeCurrentItem(raw json.RawMessage) *models.Item {
	if len(raw) == 0 {
		return nil
	}
	var it models.Item
	if err := json.Unmarshal(raw, &it); err != nil || it.ID == "" {
		return nil
	}
	return &it
}

func decodeRevealed(raw json.RawMessage) bool {
	var b bool
	if len(raw) == 0 || json.Unmarshal(raw, &b) != nil {
		return false
	}
	return b
}
