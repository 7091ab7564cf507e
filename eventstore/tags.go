package eventstore

import (
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"
)

var tagPattern = regexp.MustCompile(`^[A-Za-z0-9-]+=[A-Za-z0-9-]+$`)

// Tags is an immutable, ordered list of "key=value" tokens attached to an event or used as a query filter.
//
// Construct Tags only with TagsFrom, TagsFromMap, or MustTagsFrom. The zero value is a valid empty Tags,
// which in a QueryItem means "no tag restriction".
type Tags struct {
	tokens []string
}

// TagsFrom validates the given tokens and returns them as Tags.
//
// Duplicate tokens are removed, the first occurrence wins.
// Returns ErrValidation wrapping ErrInvalidTag for the first invalid token.
func TagsFrom(tokens ...string) (Tags, error) {
	result := make([]string, 0, len(tokens))

	for _, token := range tokens {
		if !tagPattern.MatchString(token) {
			return Tags{}, validationError(ErrInvalidTag, strconv.Quote(token))
		}

		if slices.Contains(result, token) {
			continue
		}

		result = append(result, token)
	}

	return Tags{tokens: slices.Clip(result)}, nil
}

// TagsFromMap builds Tags from key/value pairs, ordered by key.
//
// Returns ErrValidation wrapping ErrEmptyTags for an empty map, or ErrInvalidTag for the first invalid entry.
func TagsFromMap(pairs map[string]string) (Tags, error) {
	if len(pairs) == 0 {
		return Tags{}, validationError(ErrEmptyTags, "")
	}

	keys := make([]string, 0, len(pairs))
	for key := range pairs {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	tokens := make([]string, 0, len(keys))
	for _, key := range keys {
		tokens = append(tokens, key+"="+pairs[key])
	}

	return TagsFrom(tokens...)
}

// MustTagsFrom is like TagsFrom but panics on invalid input.
// It is meant for static declarations and tests.
func MustTagsFrom(tokens ...string) Tags {
	tags, err := TagsFrom(tokens...)
	if err != nil {
		panic(err)
	}

	return tags
}

// Strings returns a copy of the tokens in their original order.
func (t Tags) Strings() []string {
	return slices.Clone(t.tokens)
}

func (t Tags) Len() int {
	return len(t.tokens)
}

func (t Tags) IsEmpty() bool {
	return len(t.tokens) == 0
}

// Contains reports whether every token of other is present in t.
func (t Tags) Contains(other Tags) bool {
	for _, token := range other.tokens {
		if !slices.Contains(t.tokens, token) {
			return false
		}
	}

	return true
}

// Equals compares as sets, the order of tokens is irrelevant.
func (t Tags) Equals(other Tags) bool {
	return len(t.tokens) == len(other.tokens) && t.Contains(other)
}

func (t Tags) String() string {
	return "[" + strings.Join(t.tokens, ", ") + "]"
}

// MatchTags reports whether an event carrying eventTags satisfies filterTags.
// An empty filter matches every event.
func MatchTags(eventTags Tags, filterTags Tags) bool {
	if filterTags.IsEmpty() {
		return true
	}

	return eventTags.Contains(filterTags)
}

// RestoreTags rebuilds Tags from persisted tokens without validation.
// Engines use it when scanning rows they wrote themselves.
func RestoreTags(tokens []string) Tags {
	return Tags{tokens: slices.Clip(tokens)}
}
