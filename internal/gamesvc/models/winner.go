package models

// CountTilesLeft counts a team's unrevealed tiles.
func CountTilesLeft(tiles []*Tile, team Team) int {
	n := 0
	for _, t := range tiles {
		if t.Team == team && !t.Revealed() {
			n++
		}
	}
	return n
}

// Winner derives the board's winner. A team wins when the death tile
// has been revealed by its opponent, or when the opposing team has no
// unrevealed tiles left. TeamNone means the game is still ongoing.
func Winner(tiles []*Tile) Team {
	for _, t := range tiles {
		if t.Team == TeamDeath && t.Revealed() {
			return t.GuessedBy.Opponent()
		}
	}
	if CountTilesLeft(tiles, TeamRed) == 0 {
		return TeamBlue
	}
	if CountTilesLeft(tiles, TeamBlue) == 0 {
		return TeamRed
	}
	return TeamNone
}
