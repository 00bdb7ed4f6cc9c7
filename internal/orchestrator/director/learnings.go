package director

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

type techPattern struct {
	name string
	re   *regexp.Regexp
}

func tech(name, pattern string) techPattern {
	return techPattern{name, regexp.MustCompile(`(?i)` + pattern)}
}

var techPatterns = []techPattern{
	tech("Go", `\b(golang|go\.mod|go test|\.go\b)`),
	tech("TypeScript", `\b(typescript|tsconfig|\.tsx?\b)`),
	tech("JavaScript", `\b(javascript|node\.?js|package\.json)`),
	tech("Python", `\b(python|pytest|requirements\.txt|pyproject\.toml)`),
	tech("Rust", `\b(rust|cargo\.toml)\b`),
	tech("React", `\breact\b`),
	tech("PostgreSQL", `\b(postgres(ql)?)\b`),
	tech("SQLite", `\bsqlite\b`),
	tech("Redis", `\bredis\b`),
	tech("Docker", `\b(docker|dockerfile)\b`),
	tech("Kubernetes", `\b(kubernetes|k8s|kubectl)\b`),
	tech("GitHub Actions", `\.github/workflows`),
}

var (
	passedRe = regexp.MustCompile(`(?i)(\d+)\s+(?:tests?\s+)?(?:passed|passing)`)
	failedRe = regexp.MustCompile(`(?i)(\d+)\s+(?:tests?\s+)?(?:failed|failing)`)
)

// extractLearnings derives short facts from a role's output. Facts already
// recorded are skipped.
func (d *Director) extractLearnings(role, output string) []string {
	var facts []string

	var found []string
	for _, t := range techPatterns {
		if t.re.MatchString(output) {
			found = append(found, t.name)
		}
	}
	if len(found) > 0 {
		facts = append(facts, fmt.Sprintf("%s: detected technologies: %s", role, strings.Join(found, ", ")))
	}

	if files := d.claimedFiles(output); len(files) > 0 {
		facts = append(facts, fmt.Sprintf("%s: touched %d file(s)", role, len(files)))
	}

	passed, failed := passedRe.FindStringSubmatch(output), failedRe.FindStringSubmatch(output)
	if passed != nil || failed != nil {
		p, f := "0", "0"
		if passed != nil {
			p = passed[1]
		}
		if failed != nil {
			f = failed[1]
		}
		facts = append(facts, fmt.Sprintf("%s: tests %s passed, %s failed", role, p, f))
	}

	switch {
	case strings.Contains(output, RevisionMarker):
		facts = append(facts, fmt.Sprintf("%s: verdict NEEDS_REVISION", role))
	case approvedRe.MatchString(output):
		facts = append(facts, fmt.Sprintf("%s: verdict APPROVED", role))
	}

	return slices.DeleteFunc(facts, func(f string) bool {
		if d.learned[f] {
			return true
		}
		d.learned[f] = true
		return false
	})
}

var approvedRe = regexp.MustCompile(`\b(APPROVED|LGTM)\b`)
