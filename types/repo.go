package types

// Owner is the account a repository belongs to.
type Owner struct {
	Login    string `msgpack:"login" json:"login"`
	Name     string `msgpack:"name,omitempty" json:"name,omitempty"`
	Location string `msgpack:"location,omitempty" json:"location,omitempty"`
	Company  string `msgpack:"company,omitempty" json:"company,omitempty"`
}

// Repo is one enriched output record: a fully-fetched repository tied to the
// candidate that owns it. Repos are immutable once produced by a worker task;
// later update passes produce a replacement record keyed by NameWithOwner,
// never an in-place edit.
type Repo struct {
	// NameWithOwner is the composite identity key ("owner/name").
	NameWithOwner string `msgpack:"name_with_owner" json:"name_with_owner"`
	Name          string `msgpack:"name" json:"name"`
	Description   string `msgpack:"description,omitempty" json:"description,omitempty"`
	URL           string `msgpack:"url" json:"url"`
	// Stars is the primary ranking field. Aggregated output is sorted by
	// Stars descending.
	Stars      int64  `msgpack:"stars" json:"stars"`
	Forks      int64  `msgpack:"forks" json:"forks"`
	Watchers   int64  `msgpack:"watchers" json:"watchers"`
	Language   string `msgpack:"language,omitempty" json:"language,omitempty"`
	CreatedAt  string `msgpack:"created_at" json:"created_at"`
	UpdatedAt  string `msgpack:"updated_at" json:"updated_at"`
	PushedAt   string `msgpack:"pushed_at" json:"pushed_at"`
	OpenIssues int64  `msgpack:"open_issues" json:"open_issues"`
	HasIssues  bool   `msgpack:"has_issues" json:"has_issues"`
	Owner      Owner  `msgpack:"owner" json:"owner"`
}

// Key returns the composite identity key for dedup and secondary updates.
func (r *Repo) Key() string {
	return r.NameWithOwner
}
