package game

// Commands accepted on the Game inbox

type Join struct {
	ConnID  string
	Account string
}

type Move struct {
	ConnID string
	X, Y   float64
}

type Tag struct {
	ConnID string
	Target string
}

type Leave struct {
	ConnID string
}

type LeaderboardRequest struct {
	ConnID string
}
