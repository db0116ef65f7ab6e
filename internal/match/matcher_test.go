package match

import (
	"reflect"
	"testing"
)

func TestMatchSubstring(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		content  string
		keywords []string
		want     []string
	}{
		{
			name:     "case insensitive",
			content:  "Bitcoin hits a new high",
			keywords: []string{"bitcoin"},
			want:     []string{"bitcoin"},
		},
		{
			name:     "substring inside a longer word",
			content:  "the cryptocurrency market",
			keywords: []string{"crypto"},
			want:     []string{"crypto"},
		},
		{
			name:     "preserves keyword order",
			content:  "go and rust and zig",
			keywords: []string{"zig", "go", "rust"},
			want:     []string{"zig", "go", "rust"},
		},
		{
			name:     "repeated occurrences reported once",
			content:  "go go go",
			keywords: []string{"go"},
			want:     []string{"go"},
		},
		{
			name:     "duplicate keyword entries reported once",
			content:  "go time",
			keywords: []string{"go", "go"},
			want:     []string{"go"},
		},
		{
			name:     "no hit",
			content:  "nothing to see",
			keywords: []string{"bitcoin"},
			want:     nil,
		},
		{
			name:     "empty content",
			content:  "",
			keywords: []string{"bitcoin"},
			want:     nil,
		},
		{
			name:     "empty keyword set",
			content:  "Bitcoin hits a new high",
			keywords: nil,
			want:     nil,
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.content, tt.keywords, Policy{})
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Match(%q, %v) = %v, want %v", tt.content, tt.keywords, got, tt.want)
			}
		})
	}
}

func TestMatchWholeWord(t *testing.T) {
	t.Parallel()
	policy := Policy{WholeWord: true}
	tests := []struct {
		name     string
		content  string
		keywords []string
		want     []string
	}{
		{
			name:     "standalone word matches",
			content:  "crypto is volatile",
			keywords: []string{"crypto"},
			want:     []string{"crypto"},
		},
		{
			name:     "embedded token rejected",
			content:  "the cryptocurrency market",
			keywords: []string{"crypto"},
			want:     nil,
		},
		{
			name:     "punctuation counts as a boundary",
			content:  "sold all my crypto, finally",
			keywords: []string{"crypto"},
			want:     []string{"crypto"},
		},
		{
			name:     "later occurrence can satisfy the boundary",
			content:  "cryptozoology aside, crypto moved",
			keywords: []string{"crypto"},
			want:     []string{"crypto"},
		},
		{
			name:     "start and end of content are boundaries",
			content:  "crypto",
			keywords: []string{"crypto"},
			want:     []string{"crypto"},
		},
		{
			name:     "multi word keyword",
			content:  "the bitcoin etf approval",
			keywords: []string{"bitcoin etf"},
			want:     []string{"bitcoin etf"},
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := Match(tt.content, tt.keywords, policy)
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("Match(%q, %v) = %v, want %v", tt.content, tt.keywords, got, tt.want)
			}
		})
	}
}
