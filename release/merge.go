package release

// mergeConfiguration returns a copy of base with every overlay entry written
// over it. Overlay wins on conflict. Pure and order-independent.
func mergeConfiguration(base, overlay map[string]string) map[string]string {
	merged := make(map[string]string, len(base)+len(overlay))
	for k, v := range base {
		merged[k] = v
	}
	for k, v := range overlay {
		merged[k] = v
	}
	return merged
}

// branchModifiedItems extracts the branch's genuine customizations: the
// entries of the branch's released configuration that differ from the merge
// base, which is the master configuration the branch release was built on.
// An empty branch release yields nothing; an empty base means every branch
// entry counts as modified.
func branchModifiedItems(base, branchReleased map[string]string) map[string]string {
	if len(branchReleased) == 0 {
		return map[string]string{}
	}
	if len(base) == 0 {
		return mergeConfiguration(nil, branchReleased)
	}
	modified := make(map[string]string)
	for k, v := range branchReleased {
		if base[k] != v {
			modified[k] = v
		}
	}
	return modified
}

// childConfigToPublish replays the branch's customizations relative to the
// old master configuration on top of the new master configuration. This is
// the three-way merge at the heart of cascade merging: keys the branch never
// overrode track the master, keys it did override keep the branch value.
func childConfigToPublish(oldMaster, branchReleased, newMaster map[string]string) map[string]string {
	return mergeConfiguration(newMaster, branchModifiedItems(oldMaster, branchReleased))
}

// configsEqual reports whether two configuration maps hold the same entries.
func configsEqual(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if bv, ok := b[k]; !ok || bv != v {
			return false
		}
	}
	return true
}
