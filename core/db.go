package core

type DBOrdering struct {
	Field     string
	Ascending bool
}

func (ord DBOrdering) String() string {
	direction := "DESC"
	if ord.Ascending {
		direction = "ASC"
	}
	return ord.Field + " " + direction
}

// AllowedOrderings drops orderings on fields missing from `columns` ({field: column})
// and maps the remaining fields to their column names.
func AllowedOrderings(ords []DBOrdering, columns map[string]string) []DBOrdering {
	out := make([]DBOrdering, 0, len(ords))
	for _, ord := range ords {
		if col, ok := columns[ord.Field]; ok {
			out = append(out, DBOrdering{Field: col, Ascending: ord.Ascending})
		}
	}
	return out
}
