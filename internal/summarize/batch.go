package summarize

import "digestbot/internal/source"

// Batch is a bounded, ordered slice of one channel's posts.
// Index is 1-based; Total is the channel's batch count.
type Batch struct {
	Channel string
	Index   int
	Total   int
	Posts   []source.Post
}

// SplitBatches groups posts by channel (stable: per-channel input order is
// preserved, channels appear in first-seen order) and slices each channel's
// posts into consecutive batches of at most size posts.
//
// Pure and deterministic; performs no I/O.
func SplitBatches(posts []source.Post, size int) []Batch {
	if size <= 0 {
		size = 1
	}

	var order []string
	grouped := make(map[string][]source.Post)
	for _, p := range posts {
		if _, ok := grouped[p.Channel]; !ok {
			order = append(order, p.Channel)
		}
		grouped[p.Channel] = append(grouped[p.Channel], p)
	}

	var batches []Batch
	for _, ch := range order {
		chPosts := grouped[ch]
		total := (len(chPosts) + size - 1) / size
		for i := 0; i < total; i++ {
			lo := i * size
			hi := lo + size
			if hi > len(chPosts) {
				hi = len(chPosts)
			}
			batches = append(batches, Batch{
				Channel: ch,
				Index:   i + 1,
				Total:   total,
				Posts:   chPosts[lo:hi],
			})
		}
	}
	return batches
}
