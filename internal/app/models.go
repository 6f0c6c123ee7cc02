package app

// User is a registered account, keyed by its identity-provider id. The
// user's group memberships live in a separate keyed collection at
// users/{id}/groups, not on the document itself.
type User struct {
	ID          string `json:"id"`
	AccessToken string `json:"accessToken"`
	DeviceID    string `json:"deviceId,omitempty"`
	FirstName   string `json:"firstName"`
	LastName    string `json:"lastName"`
	FullName    string `json:"fullName"`
	Photo       string `json:"photo"`
	Kudos       int    `json:"kudos"`
}

// Group is a household. Its members, open tasks and completed tasks are
// keyed collections under groups/{id}.
type Group struct {
	ID      string `json:"id"`
	Creator string `json:"creator"`
	Name    string `json:"name"`
}

// Task is one chore. AssignedTo is empty for unassigned tasks. A completed
// task keeps every field except ID, which is regenerated on completion so
// the completed collection orders by completion time.
type Task struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	Creator    string `json:"creator"`
	AssignedTo string `json:"assignedTo,omitempty"`
}

// Invite maps a deterministic 5-character code to a group and its inviter.
type Invite struct {
	Code    string `json:"code"`
	GroupID string `json:"groupId"`
	Inviter string `json:"inviter"`
}

// membershipEntry is the value stored in the users/{id}/groups and
// groups/{id}/members mirrors: a reference by id under an opaque,
// insertion-ordered entry key.
type membershipEntry struct {
	ID string `json:"id"`
}
