package director

import (
	"fmt"
	"path"
	"regexp"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// DefaultConflictIgnore lists paths that several roles legitimately touch.
var DefaultConflictIgnore = []string{
	".krenk/**",
	"{*.lock,**/*.lock}",
	"{package-lock.json,**/package-lock.json}",
	"{go.sum,**/go.sum}",
}

var fileClaimRe = regexp.MustCompile("(?i)\\b(?:created|creating|modified|modifying|wrote|writing|updated|updating|edited|editing)\\s+(?:the\\s+)?(?:new\\s+)?(?:file\\s+)?[`\"']?([\\w@.~/-]+\\.[A-Za-z0-9]+)[`\"']?")

// FileConflict is a path claimed by more than one role.
type FileConflict struct {
	Path  string
	Roles []string
}

func compileIgnore(patterns []string) []glob.Glob {
	var out []glob.Glob
	for _, p := range patterns {
		g, err := glob.Compile(p, '/')
		if err != nil {
			continue
		}
		out = append(out, g)
	}
	return out
}

func (d *Director) ignored(p string) bool {
	for _, g := range d.ignore {
		if g.Match(p) {
			return true
		}
	}
	return false
}

func normalizeClaim(p string) string {
	p = strings.Trim(p, "`\"'.,:;")
	p = strings.TrimPrefix(p, "./")
	if p == "" {
		return ""
	}
	return path.Clean(p)
}

// claimedFiles returns the distinct, non-ignored paths that output claims to
// have created or modified, sorted.
func (d *Director) claimedFiles(output string) []string {
	seen := make(map[string]bool)
	for _, m := range fileClaimRe.FindAllStringSubmatch(output, -1) {
		p := normalizeClaim(m[1])
		if p == "" || p == "." || d.ignored(p) {
			continue
		}
		seen[p] = true
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	slices.Sort(out)
	return out
}

// findConflicts compares role's claims against every other stored output.
// Only conflicts not reported before are returned.
func (d *Director) findConflicts(role, output string) []FileConflict {
	mine := d.claimedFiles(output)
	if len(mine) == 0 {
		return nil
	}

	others := make([]string, 0, len(d.outputs))
	claims := make(map[string][]string, len(d.outputs))
	for other, out := range d.outputs {
		if other != role {
			others = append(others, other)
			claims[other] = d.claimedFiles(out)
		}
	}
	slices.Sort(others)

	var conflicts []FileConflict
	for _, p := range mine {
		var claimants []string
		for _, other := range others {
			if slices.Contains(claims[other], p) {
				claimants = append(claimants, other)
			}
		}
		if len(claimants) == 0 {
			continue
		}
		key := fmt.Sprintf("%s|%s|%s", p, role, strings.Join(claimants, ","))
		if d.conflictsSeen[key] {
			continue
		}
		d.conflictsSeen[key] = true
		conflicts = append(conflicts, FileConflict{Path: p, Roles: append(claimants, role)})
	}
	return conflicts
}
