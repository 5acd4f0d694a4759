package types

// ChangeSet partitions source ids by how they differ from the ledger's
// prior state. The partitions are disjoint: every current source appears in
// exactly one of New, Modified, or Unchanged, and every ledger-only source
// (no matching current document) appears in Deleted.
type ChangeSet struct {
	New       []string
	Modified  []string
	Deleted   []string
	Unchanged []string
}

// ChangeCounts summarizes a ChangeSet for reports.
type ChangeCounts struct {
	New       int `json:"new"`
	Modified  int `json:"modified"`
	Deleted   int `json:"deleted"`
	Unchanged int `json:"unchanged"`
}

// Counts returns the partition sizes.
func (c *ChangeSet) Counts() ChangeCounts {
	return ChangeCounts{
		New:       len(c.New),
		Modified:  len(c.Modified),
		Deleted:   len(c.Deleted),
		Unchanged: len(c.Unchanged),
	}
}

// Total returns the number of sources across all partitions.
func (c *ChangeSet) Total() int {
	return len(c.New) + len(c.Modified) + len(c.Deleted) + len(c.Unchanged)
}

// IsEmpty reports whether the change set implies no index mutations.
func (c *ChangeSet) IsEmpty() bool {
	return len(c.New) == 0 && len(c.Modified) == 0 && len(c.Deleted) == 0
}
