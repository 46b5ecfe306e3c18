package models

// Scope is the partition a post belongs to: the global feed or exactly one
// community. The zero value is the global scope.
type Scope struct {
	CommunityID string
}

func GlobalScope() Scope { return Scope{} }

func CommunityScope(id string) Scope { return Scope{CommunityID: id} }

func (s Scope) IsGlobal() bool { return s.CommunityID == "" }

// Contains reports whether an entity with the given community reference
// (nil for global) belongs to s.
func (s Scope) Contains(communityID *string) bool {
	if s.IsGlobal() {
		return communityID == nil || *communityID == ""
	}
	return communityID != nil && *communityID == s.CommunityID
}

func (s Scope) String() string {
	if s.IsGlobal() {
		return "global"
	}
	return "community:" + s.CommunityID
}

// Viewer is the authenticated user looking at the feed. The zero value is an
// anonymous viewer.
type Viewer struct {
	ID string
}

func (v Viewer) Anonymous() bool { return v.ID == "" }
