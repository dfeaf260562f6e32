package catalog

// Orderable is the single visibility rule for branch-scoped products, shared
// by every order engine entry point and by catalog listings.
//
// A global product can be ordered from any branch. A non-global product can
// only be ordered into its home branch. A caller confined to one branch
// (callerScope != nil) can only order into that branch.
func Orderable(p Product, orderBranch *int64, callerScope *int64) bool {
	if callerScope != nil {
		if orderBranch == nil || *orderBranch != *callerScope {
			return false
		}
	}
	if p.IsGlobal {
		return true
	}
	if p.BranchID == nil {
		// Non-global product without a home branch is a data fault; refuse
		// rather than guess.
		return false
	}
	return orderBranch != nil && *orderBranch == *p.BranchID
}
