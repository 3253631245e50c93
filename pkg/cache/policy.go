package cache

// Action is the save decision for a resolved primary key.
type Action int

const (
	// ActionProceed saves a fresh entry; nothing equivalent was restored.
	ActionProceed Action = iota
	// ActionSkip leaves the existing entry alone.
	ActionSkip
	// ActionUpdate evicts the stale entry, then saves under the same key.
	ActionUpdate
)

func (a Action) String() string {
	switch a {
	case ActionProceed:
		return "proceed"
	case ActionSkip:
		return "skip"
	case ActionUpdate:
		return "update"
	}
	return "unknown"
}

// Decide is the hit/update policy. Skip and update only apply on an exact
// match between the restored key and the primary key; a fallback (prefix)
// match still saves fresh. Updating in place needs both an explicit request
// and a credential for the eviction call.
func Decide(primaryKey, restoredKey string, refresh, hasToken bool) Action {
	if restoredKey == "" || restoredKey != primaryKey {
		return ActionProceed
	}
	if !refresh || !hasToken {
		return ActionSkip
	}
	return ActionUpdate
}
