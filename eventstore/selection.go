package eventstore

import (
	"slices"
)

// SelectEvents applies query and options to envelopes, which must be sorted by ascending position.
//
// Per QueryItem it selects the in-range matches, keeping only the highest one for OnlyLastEvent items.
// The union is deduplicated by position, sorted, reversed for backwards reads, and truncated to the limit.
func SelectEvents(envelopes []EventEnvelope, query Query, options ReadOptions) []EventEnvelope {
	var selected []EventEnvelope

	if query.IsAll() {
		for _, envelope := range envelopes {
			if options.InRange(envelope.SequencePosition) {
				selected = append(selected, envelope)
			}
		}
	} else {
		chosen := make(map[SequencePosition]struct{})

		for _, item := range query.items {
			var last *EventEnvelope

			for i := range envelopes {
				envelope := envelopes[i]
				if !options.InRange(envelope.SequencePosition) || !MatchesQueryItem(item, envelope.Event) {
					continue
				}

				if item.onlyLastEvent {
					last = &envelopes[i]
					continue
				}

				chosen[envelope.SequencePosition] = struct{}{}
			}

			if last != nil {
				chosen[last.SequencePosition] = struct{}{}
			}
		}

		for _, envelope := range envelopes {
			if _, ok := chosen[envelope.SequencePosition]; ok {
				selected = append(selected, envelope)
			}
		}
	}

	if options.backwards {
		slices.Reverse(selected)
	}

	if limit, ok := options.Limit(); ok && len(selected) > limit {
		selected = selected[:limit]
	}

	return selected
}
