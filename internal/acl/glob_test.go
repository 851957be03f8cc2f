package acl

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMatchPattern(t *testing.T) {
	tests := []struct {
		name         string
		pattern      string
		resourcePath string
		want         bool
	}{
		{name: "exact match", pattern: "/calendars/alice/work", resourcePath: "/calendars/alice/work", want: true},
		{name: "exact mismatch", pattern: "/calendars/alice/work", resourcePath: "/calendars/alice/home", want: false},
		{name: "single wildcard segment", pattern: "/calendars/*/work", resourcePath: "/calendars/alice/work", want: true},
		{name: "single wildcard does not cross segments", pattern: "/calendars/*", resourcePath: "/calendars/alice/work", want: false},
		{name: "trailing double star matches one segment", pattern: "/calendars/alice/**", resourcePath: "/calendars/alice/work", want: true},
		{name: "trailing double star matches many segments", pattern: "/calendars/alice/**", resourcePath: "/calendars/alice/work/event1.ics", want: true},
		{name: "trailing double star requires at least one segment", pattern: "/calendars/alice/**", resourcePath: "/calendars/alice", want: false},
		{name: "shorter resource path fails literal segment", pattern: "/calendars/alice/work", resourcePath: "/calendars/alice", want: false},
		{name: "longer resource path without glob fails", pattern: "/calendars/alice", resourcePath: "/calendars/alice/work", want: false},
		{name: "leading and trailing slashes tolerated", pattern: "/calendars/alice/work/", resourcePath: "calendars/alice/work", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := MatchPattern(tt.pattern, tt.resourcePath)
			assert.Equal(t, tt.want, got)
		})
	}
}
