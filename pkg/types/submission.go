package types

// QuerySubmission is the external query submission surface request object
// (spec.md §6). The REST/HTTP surface that carries it is an out-of-scope
// collaborator; pkg/api implements just enough of it to drive scenarios
// S1 and S6.
type QuerySubmission struct {
	UserQuery      string
	QueryPlan      []byte // query text as bytes, parsed like UserQuery when set
	Placement      PlacementStrategy
	FaultTolerance FaultTolerance
	Lineage        LineageMode
}

// Validate applies the validation rules of spec.md §6/§7, returning a
// human-readable message matching the wording scenario S6 checks for.
func (q *QuerySubmission) Validate() string {
	if q.UserQuery == "" && len(q.QueryPlan) == 0 {
		return "Incorrect or missing key word for user query"
	}
	if q.Placement == "" || !ValidPlacementStrategy(string(q.Placement)) {
		return "Invalid Placement Strategy: " + string(q.Placement)
	}
	if q.FaultTolerance == "" {
		q.FaultTolerance = FaultToleranceNone
	} else if !ValidFaultTolerance(string(q.FaultTolerance)) {
		return "Invalid Fault Tolerance: " + string(q.FaultTolerance)
	}
	if q.Lineage == "" {
		q.Lineage = LineageNone
	} else if !ValidLineageMode(string(q.Lineage)) {
		return "Invalid Lineage mode: " + string(q.Lineage)
	}
	return ""
}
