package core

import "sort"

// MatchThreshold is the minimum score for an entity to be reported by Match.
var MatchThreshold = 0.7

// EntityMatch is an entity whose template fits a header row.
type EntityMatch struct {
	Entity string  `json:"entity"`
	Score  float64 `json:"score"`
}

// MatchHeaders returns the share of template titles present in header.
// Header cells are normalised as on import, aliases included.
func MatchHeaders(header []string, res *Resolution, tmpl *Template) float64 {
	if len(res.Columns) == 0 {
		return 0
	}

	seen := make(map[string]bool, len(header))
	for i, h := range header {
		if i == 0 {
			h = stripBOM(h)
		}
		title, _, _ := headerTitle(h, tmpl.As)
		seen[title] = true
	}

	matched := 0
	for _, c := range res.Columns {
		if seen[c.Title()] {
			matched++
		}
	}
	return float64(matched) / float64(len(res.Columns))
}

// Match ranks the entities whose template headers appear in header,
// best first. Entities scoring below MatchThreshold are left out.
func (s *Service) Match(header []string) []EntityMatch {
	var matches []EntityMatch
	for _, et := range s.schema.Entities() {
		tmpl := s.templates.TemplateFor(et)
		res, err := Resolve(s.schema, s.templates, et, tmpl)
		if err != nil {
			continue
		}
		if score := MatchHeaders(header, res, tmpl); score >= MatchThreshold {
			matches = append(matches, EntityMatch{Entity: et.Name, Score: score})
		}
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Score > matches[j].Score
	})
	return matches
}
