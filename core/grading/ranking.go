package grading

import (
	"sort"

	"github.com/shopspring/decimal"
)

type (
	RankEntry struct {
		StudentID string
		Average   decimal.Decimal
	}

	Ranked struct {
		StudentID string          `json:"student_id"`
		Average   decimal.Decimal `json:"average"`
		Rank      int             `json:"rank"`
	}

	Ranking struct {
		Entries  []Ranked `json:"entries"`
		Unranked []string `json:"unranked,omitempty"` // enrolled but without a computable average
		Size     int      `json:"size"`
	}
)

// Rank orders students by descending average using standard competition ranking:
// equal averages share a rank and the next rank skips (1, 2, 2, 4).
// Ties are listed by ascending student id, so ranking twice yields the same result.
// Size counts every enrolled student, ranked or not.
func Rank(entries []RankEntry, unranked ...string) Ranking {
	ranked := make([]Ranked, len(entries))
	for i, e := range entries {
		ranked[i] = Ranked{StudentID: e.StudentID, Average: e.Average}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if c := ranked[i].Average.Cmp(ranked[j].Average); c != 0 {
			return c > 0
		}
		return ranked[i].StudentID < ranked[j].StudentID
	})
	for i := range ranked {
		if i > 0 && ranked[i].Average.Equal(ranked[i-1].Average) {
			ranked[i].Rank = ranked[i-1].Rank
		} else {
			ranked[i].Rank = i + 1
		}
	}

	rest := append([]string(nil), unranked...)
	sort.Strings(rest)
	return Ranking{Entries: ranked, Unranked: rest, Size: len(ranked) + len(rest)}
}

// RankOf returns the rank of a student, false if the student is not ranked.
func (r Ranking) RankOf(studentID string) (int, bool) {
	for _, e := range r.Entries {
		if e.StudentID == studentID {
			return e.Rank, true
		}
	}
	return 0, false
}
