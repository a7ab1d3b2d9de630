package route

import (
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/artpar/hostgate/pkg/httputil"
)

//go:embed data/continents.yaml data/regions.yaml
var geoFS embed.FS

// GeoData holds the continent and region country-code tables geo targets
// are compiled against.
type GeoData struct {
	Continents map[string][]string
	Regions    map[string][]string
}

// LoadGeoData parses the embedded continent/region tables.
func LoadGeoData() (*GeoData, error) {
	g := &GeoData{}

	raw, err := geoFS.ReadFile("data/continents.yaml")
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &g.Continents); err != nil {
		return nil, fmt.Errorf("continents data: %w", err)
	}

	raw, err = geoFS.ReadFile("data/regions.yaml")
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(raw, &g.Regions); err != nil {
		return nil, fmt.Errorf("regions data: %w", err)
	}
	return g, nil
}

// geoGroup is one region or continent entry: the set of country codes that
// selects url.
type geoGroup struct {
	Codes []string `json:"codes"`
	URL   string   `json:"url"`
}

// GeoTarget is a compiled geoTarget map. Lookup order on the client is
// direct country codes, then regions, then continents, then the fallback.
type GeoTarget struct {
	direct     map[string]string
	regions    []geoGroup
	continents []geoGroup
}

// compileGeoTarget expands a declared code/region/continent → URL map.
// Two-letter keys are taken as ISO country codes; other keys must name a
// known region or continent.
func compileGeoTarget(decl map[string]string, geo *GeoData, subs map[string]string) (*GeoTarget, error) {
	gt := &GeoTarget{direct: make(map[string]string)}

	// Deterministic group order: sorted declaration keys.
	keys := make([]string, 0, len(decl))
	for k := range decl {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		u := httputil.Substitute(decl[k], subs)
		name := strings.ToLower(k)
		switch {
		case len(k) == 2 && isAlpha(k):
			gt.direct[strings.ToUpper(k)] = u
		case geo.Regions[name] != nil:
			gt.regions = append(gt.regions, geoGroup{Codes: geo.Regions[name], URL: u})
		case geo.Continents[name] != nil:
			gt.continents = append(gt.continents, geoGroup{Codes: geo.Continents[name], URL: u})
		default:
			return nil, fmt.Errorf("geo target %q is neither a country code, region nor continent", k)
		}
	}
	return gt, nil
}

func isAlpha(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') {
			return false
		}
	}
	return true
}

// Page renders the self-contained HTML redirector. The script reads the
// countryCode cookie and navigates to the geo-specific URL, testing direct
// codes first, then regions, then continents; without a match (or without
// script support, via the meta refresh) the client lands on fallback.
func (g *GeoTarget) Page(fallback string) string {
	direct, _ := json.Marshal(g.direct)
	groups, _ := json.Marshal(append(append([]geoGroup{}, g.regions...), g.continents...))
	fb, _ := json.Marshal(fallback)

	var b strings.Builder
	b.WriteString("<!DOCTYPE html>\n<html>\n<head>\n<meta charset=\"utf-8\">\n")
	b.WriteString("<noscript><meta http-equiv=\"refresh\" content=\"0;url=")
	b.WriteString(htmlAttrEscape(fallback))
	b.WriteString("\"></noscript>\n<script>\n(function() {\n")
	b.WriteString("var direct = ")
	b.Write(direct)
	b.WriteString(";\nvar groups = ")
	b.Write(groups)
	b.WriteString(";\nvar dest = ")
	b.Write(fb)
	b.WriteString(";\n")
	b.WriteString(`var m = document.cookie.match(/(?:^|;\s*)countryCode=([A-Za-z]{2})/);
if (m) {
  var cc = m[1].toUpperCase();
  if (direct[cc]) {
    dest = direct[cc];
  } else {
    for (var i = 0; i < groups.length; i++) {
      if (groups[i].codes.indexOf(cc) >= 0) { dest = groups[i].url; break; }
    }
  }
}
window.location.replace(dest);
`)
	b.WriteString("})();\n</script>\n</head>\n<body></body>\n</html>\n")
	return b.String()
}

func htmlAttrEscape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "\"", "&quot;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
