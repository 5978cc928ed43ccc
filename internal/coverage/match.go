package coverage

import (
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/cases"

	"github.com/parkscope/greencover/internal/geo"
)

var folder = cases.Fold()

// MatchFeature finds the boundary feature for a city name. Exact matches
// (case-folded) win; otherwise a substring match is accepted when it is
// unique. Multiple candidates at either level are an error, not a guess,
// so duplicate feature names never resolve to the first one in file order.
func MatchFeature(col *geo.BoundaryCollection, city string) (*geo.Feature, error) {
	want := folder.String(strings.TrimSpace(city))
	if want == "" {
		return nil, eris.Wrap(ErrCityNotFound, "empty city name")
	}

	var exact, partial []*geo.Feature
	for i := range col.Features {
		f := &col.Features[i]
		name := folder.String(f.Name)
		if name == want {
			exact = append(exact, f)
			continue
		}
		if strings.Contains(name, want) || strings.Contains(want, name) {
			partial = append(partial, f)
		}
	}

	if len(exact) > 0 {
		if len(exact) > 1 {
			return nil, ambiguousMatch(city, exact)
		}
		return exact[0], nil
	}

	switch len(partial) {
	case 0:
		return nil, eris.Wrapf(ErrCityNotFound, "%q not in %s", city, col.Path)
	case 1:
		return partial[0], nil
	default:
		return nil, ambiguousMatch(city, partial)
	}
}

func ambiguousMatch(city string, feats []*geo.Feature) error {
	names := make([]string, len(feats))
	for i, f := range feats {
		names[i] = f.Name
	}
	return eris.Wrapf(ErrAmbiguousCity, "%q matches %s", city, strings.Join(names, ", "))
}
