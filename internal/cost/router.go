package cost

import "eino_counsel/pkg"

// Router maps risk tiers to abstract model names
type Router struct {
	capable   string
	efficient string
}

// NewRouter creates a router. capable serves CRISIS and HIGH_RISK turns,
// efficient serves everything else.
func NewRouter(capable, efficient string) *Router {
	return &Router{capable: capable, efficient: efficient}
}

// ModelForTier picks the model that answers a turn of the given tier
func (r *Router) ModelForTier(tier pkg.RiskTier) string {
	if tier.AtLeast(pkg.HighRisk) {
		return r.capable
	}
	return r.efficient
}

// ClassificationModel is the model used for risk classification at any tier
func (r *Router) ClassificationModel() string {
	return r.efficient
}
