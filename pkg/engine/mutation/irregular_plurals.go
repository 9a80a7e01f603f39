package mutation

import "strings"

// Irregular plurals
var irregularPlurals = map[string]string{
	"person":     "people",
	"child":      "children",
	"tooth":      "teeth",
	"foot":       "feet",
	"mouse":      "mice",
	"goose":      "geese",
	"man":        "men",
	"woman":      "women",
	"datum":      "data",
	"medium":     "media",
	"index":      "indices",
	"matrix":     "matrices",
	"vertex":     "vertices",
	"axis":       "axes",
	"analysis":   "analyses",
	"basis":      "bases",
	"crisis":     "crises",
	"thesis":     "theses",
	"diagnosis":  "diagnoses",
	"synopsis":   "synopses",
	"criterion":  "criteria",
	"phenomenon": "phenomena",
	"radius":     "radii",
	"formula":    "formulae",
	"focus":      "foci",
	"nucleus":    "nuclei",
	"syllabus":   "syllabi",
	"curriculum": "curricula",
	"leaf":       "leaves",
	"life":       "lives",
	"knife":      "knives",
	"wife":       "wives",
	"self":       "selves",
	"half":       "halves",
	"loaf":       "loaves",
	"calf":       "calves",
	"hero":       "heroes",
	"potato":     "potatoes",
	"tomato":     "tomatoes",
	"echo":       "echoes",
	"sheep":      "sheep",
	"fish":       "fish",
	"series":     "series",
	"species":    "species",
	"status":     "statuses",
	"alias":      "aliases",
	"bus":        "buses",
}

var irregularSingulars = func() map[string]string {
	result := make(map[string]string, len(irregularPlurals))
	for singular, plural := range irregularPlurals {
		result[plural] = singular
	}
	return result
}()

// TableName derives a table name from an entity name: PascalCase becomes
// snake_case and the last word is pluralized ("OrderItem" -> "order_items").
func TableName(entity string) string {
	var out []rune
	for i, r := range entity {
		if i > 0 && r >= 'A' && r <= 'Z' {
			out = append(out, '_')
		}
		out = append(out, r)
	}
	name := strings.ToLower(string(out))

	head, last := "", name
	if i := strings.LastIndex(name, "_"); i >= 0 {
		head, last = name[:i+1], name[i+1:]
	}

	if plural, ok := irregularPlurals[last]; ok {
		return head + plural
	}
	if _, ok := irregularSingulars[last]; ok {
		return name
	}

	switch {
	case last == "":
		return name
	case strings.HasSuffix(last, "s"), strings.HasSuffix(last, "x"), strings.HasSuffix(last, "ch"), strings.HasSuffix(last, "sh"):
		return head + last + "es"
	case strings.HasSuffix(last, "y") && len(last) > 1 && !strings.ContainsRune("aeiou", rune(last[len(last)-2])):
		return head + last[:len(last)-1] + "ies"
	default:
		return head + last + "s"
	}
}

// SingularizeName undoes the pluralization TableName applies to one word,
// keeping the word's case ("Categories" -> "Category", "people" -> "person").
func SingularizeName(name string) string {
	lower := strings.ToLower(name)
	if singular, ok := irregularSingulars[lower]; ok {
		return applyWordCase(name, singular)
	}
	if _, ok := irregularPlurals[lower]; ok {
		return name
	}

	switch {
	case len(lower) > 3 && strings.HasSuffix(lower, "ies"):
		return name[:len(name)-3] + applyWordCase(name[len(name)-3:], "y")
	case strings.HasSuffix(lower, "sses"), strings.HasSuffix(lower, "xes"),
		strings.HasSuffix(lower, "ches"), strings.HasSuffix(lower, "shes"):
		return name[:len(name)-2]
	case len(lower) > 1 && strings.HasSuffix(lower, "s") && !strings.HasSuffix(lower, "ss"):
		return name[:len(name)-1]
	}
	return name
}

// EntityName is the inverse of TableName: "order_items" -> "OrderItem"
func EntityName(table string) string {
	words := strings.FieldsFunc(table, func(r rune) bool { return r == '_' })
	if len(words) == 0 {
		return ""
	}
	words[len(words)-1] = SingularizeName(words[len(words)-1])

	var b strings.Builder
	for _, w := range words {
		b.WriteString(strings.ToUpper(w[:1]))
		b.WriteString(strings.ToLower(w[1:]))
	}
	return b.String()
}

func applyWordCase(original string, replacement string) string {
	if original == strings.ToUpper(original) {
		return strings.ToUpper(replacement)
	}

	if len(original) > 0 && original[:1] == strings.ToUpper(original[:1]) {
		return strings.ToUpper(replacement[:1]) + replacement[1:]
	}

	return replacement
}
