package rendersvc

import "strings"

var labels = map[string]map[string]string{
	"en": {
		"title.term":           "Report card",
		"title.annual":         "Annual report card",
		"student":              "Student",
		"class":                "Class",
		"year":                 "Academic year",
		"term":                 "Term",
		"T1":                   "First term",
		"T2":                   "Second term",
		"T3":                   "Third term",
		"subject":              "Subject",
		"continuous":           "Continuous",
		"exam":                 "Exam",
		"score":                "Score",
		"coefficient":          "Coef.",
		"weighted":             "Weighted",
		"remark":               "Remark",
		"section.general":      "General subjects",
		"section.professional": "Professional subjects",
		"section.other":        "Other subjects",
		"average":              "Term average",
		"rank":                 "Rank",
		"trend":                "Trend",
		"trend.up":             "improving",
		"trend.down":           "declining",
		"trend.steady":         "stable",
		"annual_average":       "Annual average",
		"decision":             "Council decision",
		"decision.promoted":    "Promoted",
		"decision.repeat":      "Repeat the year",
		"decision.promoted-with-reservations": "Promoted with reservations",
		"justification":        "Justification",
		"observations":         "Council observations",
		"conduct":              "Conduct",
		"annual_rank":          "Annual rank",
		"signed_by":            "Signed by",
		"excluded":             "Not graded",
		"excellent":            "Excellent",
		"good":                 "Good",
		"fairly-good":          "Fairly good",
		"needs-improvement":    "Needs improvement",
	},
	"fr": {
		"title.term":           "Bulletin scolaire",
		"title.annual":         "Bulletin annuel",
		"student":              "Élève",
		"class":                "Classe",
		"year":                 "Année scolaire",
		"term":                 "Trimestre",
		"T1":                   "Premier trimestre",
		"T2":                   "Deuxième trimestre",
		"T3":                   "Troisième trimestre",
		"subject":              "Matière",
		"continuous":           "Contrôle continu",
		"exam":                 "Examen",
		"score":                "Note",
		"coefficient":          "Coef.",
		"weighted":             "Pondéré",
		"remark":               "Appréciation",
		"section.general":      "Enseignement général",
		"section.professional": "Enseignement professionnel",
		"section.other":        "Autres matières",
		"average":              "Moyenne du trimestre",
		"rank":                 "Rang",
		"trend":                "Évolution",
		"trend.up":             "en progrès",
		"trend.down":           "en baisse",
		"trend.steady":         "stable",
		"annual_average":       "Moyenne annuelle",
		"decision":             "Décision du conseil",
		"decision.promoted":    "Admis en classe supérieure",
		"decision.repeat":      "Redouble",
		"decision.promoted-with-reservations": "Admis sous réserve",
		"justification":        "Motif",
		"observations":         "Observations du conseil",
		"conduct":              "Conduite",
		"annual_rank":          "Rang annuel",
		"signed_by":            "Signé par",
		"excluded":             "Non noté",
		"excellent":            "Excellent",
		"good":                 "Bien",
		"fairly-good":          "Assez bien",
		"needs-improvement":    "Doit faire des efforts",
	},
}

// Languages lists the supported document languages.
var Languages = []string{"en", "fr"}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if _, ok := labels[lang]; ok {
		return lang
	}
	return ""
}

// label falls back to english, then to the key itself.
func label(lang, key string) string {
	if s, ok := labels[lang][key]; ok {
		return s
	}
	if s, ok := labels["en"][key]; ok {
		return s
	}
	return key
}
