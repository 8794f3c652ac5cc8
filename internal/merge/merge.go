// Package merge combines per-platform query results into one ordered,
// platform-tagged sequence. Adapters are queried independently; one
// platform failing never hides another platform's results.
package merge

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Napageneral/crosstalk/internal/platform"
)

// Engine fans a query out across adapters and merges what comes back.
type Engine struct {
	adapters []platform.Adapter
}

func New(adapters ...platform.Adapter) *Engine {
	return &Engine{adapters: adapters}
}

// included applies the platform restriction. Without one, absent stores
// are skipped; with one, the named adapter is consulted even if a probe
// says it is missing, so its own error reaches the user.
func (e *Engine) included(restrict platform.ID) []platform.Adapter {
	var out []platform.Adapter
	for _, a := range e.adapters {
		if restrict != "" {
			if a.Platform() == restrict {
				out = append(out, a)
			}
			continue
		}
		if a.Available() {
			out = append(out, a)
		}
	}
	return out
}

// fanOut runs fn once per included adapter concurrently and collects
// results and failures by adapter index, keeping everything deterministic.
func fanOut[T any](ctx context.Context, adapters []platform.Adapter, fn func(context.Context, platform.Adapter) ([]T, error)) ([]T, []error) {
	results := make([][]T, len(adapters))
	failures := make([]error, len(adapters))

	var wg sync.WaitGroup
	for i, adapter := range adapters {
		wg.Add(1)
		go func(i int, adapter platform.Adapter) {
			defer wg.Done()
			items, err := fn(ctx, adapter)
			if err != nil {
				failures[i] = fmt.Errorf("%s: %w", adapter.Platform(), err)
				return
			}
			results[i] = items
		}(i, adapter)
	}
	wg.Wait()

	var merged []T
	for _, items := range results {
		merged = append(merged, items...)
	}
	var errs []error
	for _, err := range failures {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return merged, errs
}

// RecentChats merges each platform's most recent chats. Every adapter is
// asked for up to limit chats of its own; the merged sequence is then
// re-sorted globally and truncated to limit.
func (e *Engine) RecentChats(ctx context.Context, restrict platform.ID, limit int) ([]platform.Chat, []error) {
	chats, errs := fanOut(ctx, e.included(restrict), func(ctx context.Context, a platform.Adapter) ([]platform.Chat, error) {
		return a.ListChats(ctx, limit)
	})
	sortChats(chats)
	return truncate(chats, limit), errs
}

// FindChats merges substring chat matches across platforms.
func (e *Engine) FindChats(ctx context.Context, restrict platform.ID, query string) ([]platform.Chat, []error) {
	chats, errs := fanOut(ctx, e.included(restrict), func(ctx context.Context, a platform.Adapter) ([]platform.Chat, error) {
		return a.FindChats(ctx, query)
	})
	sortChats(chats)
	return chats, errs
}

// Search merges body-text matches, most recent first.
func (e *Engine) Search(ctx context.Context, restrict platform.ID, query string, limit int) ([]platform.Message, []error) {
	msgs, errs := fanOut(ctx, e.included(restrict), func(ctx context.Context, a platform.Adapter) ([]platform.Message, error) {
		return a.SearchMessages(ctx, query, limit)
	})
	sortMessages(msgs)
	return truncate(msgs, limit), errs
}

// Stats reports per-platform counts. Counts are never summed across
// platforms: the stores overlap in contacts but not in messages, and a
// single total would suggest a precision the data does not have.
func (e *Engine) Stats(ctx context.Context, restrict platform.ID) ([]platform.Counts, []error) {
	counts, errs := fanOut(ctx, e.included(restrict), func(ctx context.Context, a platform.Adapter) ([]platform.Counts, error) {
		c, err := a.Counts(ctx)
		if err != nil {
			return nil, err
		}
		return []platform.Counts{c}, nil
	})
	sort.Slice(counts, func(i, j int) bool {
		return counts[i].Platform.Priority() < counts[j].Platform.Priority()
	})
	return counts, errs
}

// sortChats applies the global chat ordering: last activity descending,
// ties by platform priority, then lexical name.
func sortChats(chats []platform.Chat) {
	sort.Slice(chats, func(i, j int) bool {
		a, b := chats[i], chats[j]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		if a.Platform != b.Platform {
			return a.Platform.Priority() < b.Platform.Priority()
		}
		return a.Name() < b.Name()
	})
}

// sortMessages orders search hits most recent first with the same
// deterministic tie-breaks.
func sortMessages(msgs []platform.Message) {
	sort.Slice(msgs, func(i, j int) bool {
		a, b := msgs[i], msgs[j]
		if !a.Timestamp.Equal(b.Timestamp) {
			return a.Timestamp.After(b.Timestamp)
		}
		if a.Platform != b.Platform {
			return a.Platform.Priority() < b.Platform.Priority()
		}
		if a.ChatName != b.ChatName {
			return a.ChatName < b.ChatName
		}
		return a.Text < b.Text
	})
}

func truncate[T any](items []T, limit int) []T {
	if limit > 0 && len(items) > limit {
		return items[:limit]
	}
	return items
}
