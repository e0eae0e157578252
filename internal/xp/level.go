package xp

import "math"

var titles = []struct {
	maxLevel int
	title    string
}{
	{10, "Débutant"},
	{25, "Intermédiaire"},
	{50, "Avancé"},
	{75, "Expert"},
}

const topTitle = "Maître"

// Threshold returns the total XP needed to reach level, floor(100 * level^1.5).
func Threshold(level int) int64 {
	l := float64(level)
	return int64(math.Floor(100 * l * math.Sqrt(l)))
}

// Level returns the level reached with total XP. Everyone starts at level 1.
func Level(total int64) int {
	l := 1
	for total >= Threshold(l+1) {
		l++
	}
	return l
}

// Title names a level band.
func Title(level int) string {
	for _, t := range titles {
		if level <= t.maxLevel {
			return t.title
		}
	}
	return topTitle
}

func levelStart(level int) int64 {
	if level <= 1 {
		return 0
	}
	return Threshold(level)
}
