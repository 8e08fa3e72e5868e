package domain

// Level tiers awarded for cumulative community points.
const (
	LevelNewcomer     = "newcomer"
	LevelContributor  = "contributor"
	LevelCollaborator = "collaborator"
	LevelMentor       = "mentor"
	LevelLuminary     = "luminary"
)

// ConnectionAcceptedBonus is the point bonus both parties receive when a
// connection request is accepted.
const ConnectionAcceptedBonus = 25

var levelThresholds = []struct {
	minPoints int
	level     string
}{
	{2500, LevelLuminary},
	{1000, LevelMentor},
	{400, LevelCollaborator},
	{100, LevelContributor},
	{0, LevelNewcomer},
}

// LevelForPoints returns the level tier for a cumulative point total.
func LevelForPoints(points int) string {
	for _, threshold := range levelThresholds {
		if points >= threshold.minPoints {
			return threshold.level
		}
	}
	return LevelNewcomer
}
