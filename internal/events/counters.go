package events

import (
	"strings"

	"streamhub/internal/catalog"
	"streamhub/internal/storage"
)

// defaultRules are the counter rules applied when a catalog entry does not
// define its own.
var defaultRules = map[string][]catalog.CounterRule{
	TypeSub:           {{Counter: storage.CounterSubs}},
	TypeResub:         {{Counter: storage.CounterSubs}},
	TypeSubGift:       {{Counter: storage.CounterGifts}, {Counter: storage.CounterGiftSubs, By: "count"}},
	TypeCommunityGift: {{Counter: storage.CounterGifts}, {Counter: storage.CounterGiftSubs, By: "count"}},
	TypeRaid:          {{Counter: storage.CounterRaids}, {Counter: storage.CounterRaidViewers, By: "count"}},
	TypeFirst:         {{Counter: storage.CounterFirst}},
}

// counterUpdate builds the store update for an occurrence. Follows set the
// follow date; everything else goes through counter rules.
func counterUpdate(typ string, entry *catalog.EventEntry, occ storage.Occurrence) storage.CounterUpdate {
	var u storage.CounterUpdate
	if typ == TypeFollow {
		u.FollowDate = occ.Timestamp
	}
	rules, ok := defaultRules[typ]
	if !ok {
		// tiered variants such as resub3 share their base rules
		rules = defaultRules[strings.TrimRight(typ, "0123456789")]
	}
	if entry != nil && entry.Counters != nil {
		rules = entry.Counters
	}
	for _, r := range rules {
		if !storage.IsCounter(r.Counter) {
			continue
		}
		d := int64(1)
		if strings.EqualFold(r.By, "count") {
			d = occ.Count
			if d <= 0 {
				d = 1
			}
		}
		if u.Increments == nil {
			u.Increments = map[string]int64{}
		}
		u.Increments[r.Counter] += d
	}
	return u
}
