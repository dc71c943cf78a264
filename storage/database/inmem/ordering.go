package inmemdb

import (
	"sort"
	"strings"
	"time"

	"github.com/learnplus/learnplus/core"
)

type compareFunc[T any] func(a, b T) int

// sortBy sorts items following `ordering`; fields not found in `fields` are ignored.
func sortBy[T any](items []T, ordering []core.DBOrdering, fields map[string]compareFunc[T]) {
	sort.SliceStable(items, func(i, j int) bool {
		for _, ord := range ordering {
			cmp, ok := fields[ord.Field]
			if !ok {
				continue
			}
			res := cmp(items[i], items[j])
			if res == 0 {
				continue
			}
			if ord.Ascending {
				return res < 0
			}
			return res > 0
		}
		return false
	})
}

func compareStrings(a, b string) int { return strings.Compare(strings.ToLower(a), strings.ToLower(b)) }

func compareTimes(a, b time.Time) int {
	switch {
	case a.Before(b):
		return -1
	case a.After(b):
		return 1
	default:
		return 0
	}
}

func compareFloatPtrs(a, b *float64) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil: // NULLS FIRST
		return -1
	case b == nil:
		return 1
	case *a < *b:
		return -1
	case *a > *b:
		return 1
	default:
		return 0
	}
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
