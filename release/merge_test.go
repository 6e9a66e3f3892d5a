package release

import (
	"reflect"
	"testing"
)

func TestMergeConfigurationRightBias(t *testing.T) {
	cases := []struct {
		name     string
		base     map[string]string
		overlay  map[string]string
		expected map[string]string
	}{
		{
			name:     "overlay wins on conflict",
			base:     map[string]string{"k1": "v1", "shared": "base"},
			overlay:  map[string]string{"k2": "v2", "shared": "overlay"},
			expected: map[string]string{"k1": "v1", "k2": "v2", "shared": "overlay"},
		},
		{
			name:     "empty base",
			base:     map[string]string{},
			overlay:  map[string]string{"k": "v"},
			expected: map[string]string{"k": "v"},
		},
		{
			name:     "empty overlay",
			base:     map[string]string{"k": "v"},
			overlay:  map[string]string{},
			expected: map[string]string{"k": "v"},
		},
		{
			name:     "nil maps",
			base:     nil,
			overlay:  nil,
			expected: map[string]string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := mergeConfiguration(tc.base, tc.overlay)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}

	// The merge must copy, never alias.
	base := map[string]string{"k": "v"}
	merged := mergeConfiguration(base, map[string]string{"k2": "v2"})
	merged["k"] = "mutated"
	if base["k"] != "v" {
		t.Fatalf("merge must not mutate base")
	}
}

func TestBranchModifiedItems(t *testing.T) {
	cases := []struct {
		name     string
		base     map[string]string
		branch   map[string]string
		expected map[string]string
	}{
		{
			name:     "empty branch release means nothing modified",
			base:     map[string]string{"k": "v"},
			branch:   map[string]string{},
			expected: map[string]string{},
		},
		{
			name:     "empty base means whole branch modified",
			base:     map[string]string{},
			branch:   map[string]string{"k": "v", "k2": "v2"},
			expected: map[string]string{"k": "v", "k2": "v2"},
		},
		{
			name:     "only differing entries count",
			base:     map[string]string{"k1": "v1", "k2": "v2"},
			branch:   map[string]string{"k1": "v1", "k2": "changed", "k3": "new"},
			expected: map[string]string{"k2": "changed", "k3": "new"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := branchModifiedItems(tc.base, tc.branch)
			if !reflect.DeepEqual(got, tc.expected) {
				t.Fatalf("expected %v, got %v", tc.expected, got)
			}
		})
	}
}

func TestChildConfigToPublishThreeWayLaw(t *testing.T) {
	// When the branch never diverged from the old master, the result is
	// exactly the new master configuration.
	oldMaster := map[string]string{"k1": "v1"}
	branch := map[string]string{"k1": "v1"}
	newMaster := map[string]string{"k1": "v1b", "k2": "v2"}

	got := childConfigToPublish(oldMaster, branch, newMaster)
	if !reflect.DeepEqual(got, newMaster) {
		t.Fatalf("undiverged branch must track master exactly, got %v", got)
	}

	// Overridden keys survive the master change, inherited keys track it.
	branch = map[string]string{"k1": "override"}
	got = childConfigToPublish(oldMaster, branch, newMaster)
	expected := map[string]string{"k1": "override", "k2": "v2"}
	if !reflect.DeepEqual(got, expected) {
		t.Fatalf("expected %v, got %v", expected, got)
	}
}

func TestConfigsEqual(t *testing.T) {
	if !configsEqual(map[string]string{"a": "1"}, map[string]string{"a": "1"}) {
		t.Fatalf("equal maps reported unequal")
	}
	if configsEqual(map[string]string{"a": "1"}, map[string]string{"a": "2"}) {
		t.Fatalf("differing values reported equal")
	}
	if configsEqual(map[string]string{"a": "1"}, map[string]string{"a": "1", "b": "2"}) {
		t.Fatalf("differing sizes reported equal")
	}
	if !configsEqual(nil, map[string]string{}) {
		t.Fatalf("nil and empty must compare equal")
	}
}
