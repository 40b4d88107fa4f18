package newsletter

import (
	"testing"
	"time"
)

func at(day, hour, min int) time.Time {
	return time.Date(2026, 8, day, hour, min, 0, 0, time.UTC)
}

func TestNextWake(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		now    time.Time
		active []int
		want   time.Time
	}{
		{
			name:   "no subscribers waits for tomorrow window start",
			now:    at(30, 10, 15),
			active: nil,
			want:   at(31, HourMin, 0),
		},
		{
			name:   "no subscribers before window start waits for today",
			now:    at(30, 7, 0),
			active: nil,
			want:   at(30, HourMin, 0),
		},
		{
			name:   "later hour today",
			now:    at(30, 10, 15),
			active: []int{9, 14, 18},
			want:   at(30, 14, 0),
		},
		{
			name:   "current hour already started, next is later today",
			now:    at(30, 14, 0),
			active: []int{14, 18},
			want:   at(30, 18, 0),
		},
		{
			name:   "all hours passed, earliest tomorrow",
			now:    at(30, 21, 0),
			active: []int{9, 14},
			want:   at(31, 9, 0),
		},
		{
			name:   "out of range hours ignored",
			now:    at(30, 10, 0),
			active: []int{3, 23},
			want:   at(31, HourMin, 0),
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got := NextWake(tt.now, tt.active)
			if !got.Equal(tt.want) {
				t.Fatalf("NextWake(%v, %v) = %v, want %v", tt.now, tt.active, got, tt.want)
			}
			if !got.After(tt.now) {
				t.Fatalf("wake time %v not strictly after now %v", got, tt.now)
			}
		})
	}
}
