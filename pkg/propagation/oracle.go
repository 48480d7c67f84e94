package propagation

// RoutingOracle answers reachability questions against the live routing table.
// Implementations are expected to be fast in-memory lookups.
type RoutingOracle interface {
	HasPath(destinationHash []byte) bool
	HopsTo(destinationHash []byte) (int, bool)
}

// OracleFuncs adapts plain functions to RoutingOracle. A nil function
// answers "no path" and "unknown hops".
type OracleFuncs struct {
	HasPathFunc func(destinationHash []byte) bool
	HopsToFunc  func(destinationHash []byte) (int, bool)
}

// HasPath implements RoutingOracle.
func (o OracleFuncs) HasPath(destinationHash []byte) bool {
	if o.HasPathFunc == nil {
		return false
	}
	return o.HasPathFunc(destinationHash)
}

// HopsTo implements RoutingOracle.
func (o OracleFuncs) HopsTo(destinationHash []byte) (int, bool) {
	if o.HopsToFunc == nil {
		return 0, false
	}
	return o.HopsToFunc(destinationHash)
}
