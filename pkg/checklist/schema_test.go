package checklist

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKeyPatterns(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"criteria", CriteriaKey("default", "s1"), "rubricwatch:default:session:s1:criteria"},
		{"progress", ProgressKey("default", "s1", 3), "rubricwatch:default:session:s1:group:3:progress"},
		{"groups", GroupsKey("default", "s1"), "rubricwatch:default:session:s1:groups"},
		{"meta", SessionMetaKey("default", "s1"), "rubricwatch:default:session:s1:meta"},
		{"release field", ReleaseField(3), "released:3"},
		{"session channel", SessionChannel("default", "s1"), "rubricwatch:default:s1:checklist"},
		{"group channel", GroupChannel("default", "s1", 3), "rubricwatch:default:s1-3:checklist"},
		{"progress events", ProgressEventsChannel("default", "s1"), "rubricwatch:default:s1:progress_events"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.got)
		})
	}
}

func TestKeysAreInstanceScoped(t *testing.T) {
	assert.NotEqual(t, CriteriaKey("a", "s1"), CriteriaKey("b", "s1"))
	assert.NotEqual(t, GroupChannel("a", "s1", 1), GroupChannel("b", "s1", 1))
}
