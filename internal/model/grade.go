package model

// Grade summarizes the quality of a resolved result.
type Grade string

const (
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
	GradeF Grade = "F"
)

// GradeForScore maps a 0-100 quality score to a letter grade.
func GradeForScore(score float64) Grade {
	switch {
	case score >= 80:
		return GradeA
	case score >= 60:
		return GradeB
	case score >= 50:
		return GradeC
	case score >= 30:
		return GradeD
	default:
		return GradeF
	}
}

// Degrade returns the next lower grade. F stays F.
func (g Grade) Degrade() Grade {
	switch g {
	case GradeA:
		return GradeB
	case GradeB:
		return GradeC
	case GradeC:
		return GradeD
	default:
		return GradeF
	}
}
