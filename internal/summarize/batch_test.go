package summarize

import (
	"fmt"
	"testing"

	"digestbot/internal/source"
)

func mkPosts(channel string, n int) []source.Post {
	posts := make([]source.Post, 0, n)
	for i := 0; i < n; i++ {
		posts = append(posts, source.Post{Channel: channel, Text: fmt.Sprintf("%s-%d", channel, i)})
	}
	return posts
}

func TestSplitBatches(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name      string
		posts     []source.Post
		size      int
		wantCount int
	}{
		{name: "empty", posts: nil, size: 10, wantCount: 0},
		{name: "single under size", posts: mkPosts("a", 3), size: 10, wantCount: 1},
		{name: "exact multiple", posts: mkPosts("a", 10), size: 5, wantCount: 2},
		{name: "remainder", posts: mkPosts("a", 5), size: 2, wantCount: 3},
		{name: "zero size clamps to one", posts: mkPosts("a", 3), size: 0, wantCount: 3},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := SplitBatches(tt.posts, tt.size)
			if len(got) != tt.wantCount {
				t.Fatalf("batch count = %d, want %d", len(got), tt.wantCount)
			}
			for i, b := range got {
				if b.Index != i+1 {
					t.Fatalf("batch %d has index %d", i, b.Index)
				}
				if b.Total != tt.wantCount {
					t.Fatalf("batch %d total = %d, want %d", i, b.Total, tt.wantCount)
				}
			}
		})
	}
}

func TestSplitBatchesStableGrouping(t *testing.T) {
	t.Parallel()
	posts := []source.Post{
		{Channel: "b", Text: "b-0"},
		{Channel: "a", Text: "a-0"},
		{Channel: "b", Text: "b-1"},
		{Channel: "a", Text: "a-1"},
		{Channel: "a", Text: "a-2"},
	}
	batches := SplitBatches(posts, 2)

	// Channels keep first-seen order: b first, then a.
	if batches[0].Channel != "b" || batches[1].Channel != "a" {
		t.Fatalf("channel order broken: %q, %q", batches[0].Channel, batches[1].Channel)
	}
	// Within a channel, input order is preserved.
	if batches[0].Posts[0].Text != "b-0" || batches[0].Posts[1].Text != "b-1" {
		t.Fatalf("per-channel order broken: %#v", batches[0].Posts)
	}
	if batches[1].Posts[0].Text != "a-0" || batches[2].Posts[0].Text != "a-2" {
		t.Fatalf("channel a slicing broken")
	}
	if batches[1].Total != 2 || batches[0].Total != 1 {
		t.Fatalf("totals wrong: a=%d b=%d", batches[1].Total, batches[0].Total)
	}
}

func TestSplitBatchesDeterministic(t *testing.T) {
	t.Parallel()
	posts := append(mkPosts("x", 7), mkPosts("y", 4)...)
	first := SplitBatches(posts, 3)
	second := SplitBatches(posts, 3)
	if len(first) != len(second) {
		t.Fatal("nondeterministic batch count")
	}
	for i := range first {
		if first[i].Channel != second[i].Channel || first[i].Index != second[i].Index {
			t.Fatalf("nondeterministic batch %d", i)
		}
	}
}
