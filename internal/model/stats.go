package model

// Stats is the administrator dashboard summary.
type Stats struct {
	UsersByRole    map[string]int64 `json:"users_by_role"`
	ItemsByStatus  map[string]int64 `json:"items_by_status"`
	PointsAwarded  int64            `json:"points_awarded"`
	PointsRedeemed int64            `json:"points_redeemed"`
}
