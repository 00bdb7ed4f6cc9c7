package director

import (
	"regexp"
	"strings"

	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
	"github.com/Iron-Ham/krenk/internal/roles"
)

// SignalKind classifies a fragment of worker output.
type SignalKind string

const (
	// SignalFatal marks an error indicator such as out-of-memory.
	SignalFatal SignalKind = "fatal"

	// SignalOffTrack marks a worker doing another role's job.
	SignalOffTrack SignalKind = "off_track"
)

// Signal is one classifier match.
type Signal struct {
	Kind    SignalKind
	Pattern string
}

// Classifier inspects worker output. Implementations must be cheap; the
// director calls Classify for every output chunk.
type Classifier interface {
	Classify(role, text string) []Signal
}

type fatalPattern struct {
	name string
	re   *regexp.Regexp
}

var defaultFatalPatterns = []fatalPattern{
	{"out of memory", regexp.MustCompile(`(?i)(out of memory|heap out of memory|\bENOMEM\b|\bOOM\b|MemoryError)`)},
	{"stack overflow", regexp.MustCompile(`(?i)(stack overflow|maximum call stack size exceeded|goroutine stack exceeds)`)},
	{"permission denied", regexp.MustCompile(`(?i)(permission denied|\bEACCES\b|operation not permitted)`)},
	{"module not found", regexp.MustCompile(`(?i)(module not found|cannot find module|no module named|ModuleNotFoundError|cannot find package)`)},
}

// PatternClassifier matches fixed fatal-signal regexes and each role's
// off-track phrases from the role catalog.
type PatternClassifier struct {
	fatal   []fatalPattern
	catalog *roles.Catalog
}

// NewPatternClassifier creates the default classifier. A nil catalog uses
// the embedded one.
func NewPatternClassifier(catalog *roles.Catalog) *PatternClassifier {
	if catalog == nil {
		catalog = roles.Default()
	}
	return &PatternClassifier{fatal: defaultFatalPatterns, catalog: catalog}
}

// Classify implements Classifier. Fatal signals come first.
func (c *PatternClassifier) Classify(role, text string) []Signal {
	var out []Signal
	for _, p := range c.fatal {
		if p.re.MatchString(text) {
			out = append(out, Signal{Kind: SignalFatal, Pattern: p.name})
		}
	}
	if r, ok := c.catalog.Get(role); ok {
		lower := strings.ToLower(text)
		for _, phrase := range r.OffTrack {
			if strings.Contains(lower, phrase) {
				out = append(out, Signal{Kind: SignalOffTrack, Pattern: phrase})
				break
			}
		}
	}
	return out
}

// QualityCheck reports whether output meets the structural expectation for
// role, and if not, a note describing what is missing.
type QualityCheck func(role, output string) (ok bool, note string)

var (
	structureRe = regexp.MustCompile(`(?i)(director(y|ies)|folder|file structure|project structure|\b[\w.-]+/[\w./-]*|\b[\w-]+\.(go|ts|tsx|js|py|rs|java|rb|json|ya?ml|toml|md)\b)`)
	assignRe    = regexp.MustCompile(`(?i)###\s*ASSIGN\s*:`)
	passFailRe  = regexp.MustCompile(`(?i)\b(\d+\s+)?(pass(ed|es|ing)?|fail(ed|s|ing|ures?)?)\b`)
	verdictRe   = regexp.MustCompile(`(?i)\b(APPROVED|NEEDS_REVISION|LGTM|approve[sd]?|reject(ed)?)\b`)
	fileWorkRe  = regexp.MustCompile(`(?i)\b(creat(ed|ing)|modif(ied|ying)|wrote|writ(ten|ing)|updat(ed|ing)|implement(ed|ing)|add(ed|ing))\b`)
	docsRe      = regexp.MustCompile(`(?i)(readme|\.md\b|documentation|docs/|usage)`)
)

// DefaultQualityCheck holds the per-role structural expectations.
func DefaultQualityCheck(role, output string) (bool, string) {
	switch stage.BaseRole(role) {
	case "strategist":
		if !assignRe.MatchString(output) {
			return false, "The plan must contain \"### ASSIGN:<ROLE>\" task markers for every role that has work."
		}
	case "architect":
		if !structureRe.MatchString(output) {
			return false, "The architecture must describe the file and directory structure."
		}
	case "tester":
		if !passFailRe.MatchString(output) {
			return false, "The test report must state how many tests passed and failed."
		}
	case "reviewer", "security":
		if !verdictRe.MatchString(output) {
			return false, "The review must end with an explicit verdict: APPROVED or NEEDS_REVISION."
		}
	case "builder":
		if !fileWorkRe.MatchString(output) {
			return false, "Report the files you created or modified."
		}
	case "documenter":
		if !docsRe.MatchString(output) {
			return false, "Name the documentation files you wrote."
		}
	}
	return true, ""
}
