package worker

import (
	"fmt"
	"strings"

	"github.com/dop251/goja"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

// ExcellentThreshold is the score at which a candidate is accepted and the
// worker completes.
const ExcellentThreshold = 90

// Rubric weights. The scorer is deterministic: the same candidate and task
// always produce the same score.
const (
	isCodePoints       = 15
	domainImportPoints = 20
	domainLifecycle    = 20
	domainScaffolding  = 10
	domainDeduction    = 10
	syntaxPoints       = 15
	structuralTestGate = 40
	perTestPoints      = 5
	testPointsCap      = 20
)

// ScoreResult is one scoring pass over a candidate.
type ScoreResult struct {
	Score       int
	Cleaned     string
	Issues      []string
	Feedback    []string
	TestsPassed int
	TestsFailed int
}

// Score evaluates a raw candidate against the task prompt.
func Score(candidate, taskPrompt string) ScoreResult {
	r := ScoreResult{}
	r.Cleaned = stripMarkdown(candidate)

	if !looksLikeCode(r.Cleaned) {
		r.Issues = append(r.Issues, "response contains no code")
		r.Feedback = append(r.Feedback, "respond with code only, no prose")
		return r
	}

	score := 0
	if hasCodeIntroducer(r.Cleaned) {
		score += isCodePoints
	} else {
		r.Issues = append(r.Issues, "no declarations found (class/function/const/import)")
		r.Feedback = append(r.Feedback, "structure the code with proper declarations")
	}

	if isGameTask(taskPrompt) {
		score += scoreGameDomain(r.Cleaned, &r)
	}

	if diag := checkSyntax(r.Cleaned); diag == "" {
		score += syntaxPoints
	} else {
		r.Issues = append(r.Issues, "syntax error: "+diag)
		r.Feedback = append(r.Feedback, "fix the syntax error: "+diag)
	}

	if score >= structuralTestGate {
		score += runStructuralTests(r.Cleaned, &r)
	}

	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	r.Score = score
	return r
}

// stripMarkdown extracts fenced code-block bodies when the candidate came
// back wrapped in markdown. A candidate without fences passes through
// trimmed.
func stripMarkdown(candidate string) string {
	if !strings.Contains(candidate, "```") {
		return strings.TrimSpace(candidate)
	}

	src := []byte(candidate)
	doc := goldmark.New().Parser().Parse(text.NewReader(src))

	var blocks []string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if fence, ok := n.(*ast.FencedCodeBlock); ok {
			var b strings.Builder
			for i := 0; i < fence.Lines().Len(); i++ {
				seg := fence.Lines().At(i)
				b.Write(seg.Value(src))
			}
			blocks = append(blocks, b.String())
		}
		return ast.WalkContinue, nil
	})

	if len(blocks) == 0 {
		return strings.TrimSpace(candidate)
	}
	return strings.TrimSpace(strings.Join(blocks, "\n"))
}

// looksLikeCode is the hard zero gate: prose with no code-shaped tokens at
// all scores nothing.
func looksLikeCode(s string) bool {
	return strings.Contains(s, "{") || strings.Contains(s, ";") ||
		strings.Contains(s, "=>") || strings.Contains(s, "=")
}

var codeIntroducers = []string{
	"class ", "function ", "function(", "const ", "let ", "var ",
	"import ", "export ", "=>",
}

func hasCodeIntroducer(s string) bool {
	for _, kw := range codeIntroducers {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

func isGameTask(taskPrompt string) bool {
	p := strings.ToLower(taskPrompt)
	return strings.Contains(p, "phaser") || strings.Contains(p, "game")
}

// scoreGameDomain applies the game rubric: module imports, lifecycle
// methods, physics/input scaffolding, minus deductions for anti-patterns.
func scoreGameDomain(code string, r *ScoreResult) int {
	lower := strings.ToLower(code)
	points := 0

	if strings.Contains(lower, "import") && strings.Contains(lower, "phaser") {
		points += domainImportPoints
	} else {
		r.Issues = append(r.Issues, "missing Phaser module import")
		r.Feedback = append(r.Feedback, "import Phaser as an ES module, not a global")
	}

	var missing []string
	for _, method := range []string{"preload", "create", "update"} {
		if !strings.Contains(lower, method) {
			missing = append(missing, method)
		}
	}
	if len(missing) == 0 {
		points += domainLifecycle
	} else {
		r.Issues = append(r.Issues, "missing lifecycle methods: "+strings.Join(missing, ", "))
		r.Feedback = append(r.Feedback, "implement the "+strings.Join(missing, ", ")+" scene methods")
	}

	if strings.Contains(lower, "this.physics") || strings.Contains(lower, "this.input") ||
		strings.Contains(lower, "cursors") {
		points += domainScaffolding
	} else {
		r.Issues = append(r.Issues, "no physics or input scaffolding")
		r.Feedback = append(r.Feedback, "wire up physics bodies and input handling")
	}

	if strings.Contains(lower, "cdn.") || strings.Contains(lower, "<script") {
		points -= domainDeduction
		r.Issues = append(r.Issues, "loads the framework from a CDN script tag")
		r.Feedback = append(r.Feedback, "remove CDN script tags; use module imports")
	}
	if !strings.Contains(lower, "export") && strings.Contains(lower, "window.") {
		points -= domainDeduction
		r.Issues = append(r.Issues, "attaches to window instead of exporting a module")
		r.Feedback = append(r.Feedback, "export the game entry point instead of assigning to window")
	}

	return points
}

// checkSyntax parses the candidate as JavaScript. goja speaks script, not
// ES modules, so module syntax is rewritten to plain declarations before
// the parse.
func checkSyntax(code string) string {
	var kept []string
	for _, line := range strings.Split(code, "\n") {
		t := strings.TrimSpace(line)
		if strings.HasPrefix(t, "import ") {
			continue
		}
		line = strings.Replace(line, "export default ", "", 1)
		line = strings.Replace(line, "export ", "", 1)
		kept = append(kept, line)
	}

	if _, err := goja.Compile("candidate.js", strings.Join(kept, "\n"), false); err != nil {
		return firstLine(err.Error())
	}
	return ""
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

// structuralTest is one fixed check in the post-gate battery.
type structuralTest struct {
	name string
	pass func(code string) bool
}

var structuralTests = []structuralTest{
	{"uses module imports", func(c string) bool { return strings.Contains(c, "import ") }},
	{"has exports", func(c string) bool { return strings.Contains(c, "export ") }},
	{"no markdown residue", func(c string) bool { return !strings.Contains(c, "```") }},
	{"declares a class or function", func(c string) bool {
		return strings.Contains(c, "class ") || strings.Contains(c, "function")
	}},
	{"substantial body", func(c string) bool { return strings.Count(c, "\n") >= 10 }},
}

// runStructuralTests awards points per passed test, capped.
func runStructuralTests(code string, r *ScoreResult) int {
	points := 0
	for _, tc := range structuralTests {
		if tc.pass(code) {
			r.TestsPassed++
			if points < testPointsCap {
				points += perTestPoints
			}
		} else {
			r.TestsFailed++
			r.Issues = append(r.Issues, fmt.Sprintf("structural test failed: %s", tc.name))
			r.Feedback = append(r.Feedback, "make this pass: "+tc.name)
		}
	}
	return points
}
