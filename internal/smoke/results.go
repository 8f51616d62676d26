package smoke

import "encoding/json"

// ScriptResultKind classifies one script run.
type ScriptResultKind string

const (
	ScriptOK ScriptResultKind = "ok"
	// ScriptFailed means the script ran and exited nonzero, or was missing in strict mode.
	ScriptFailed ScriptResultKind = "failed"
	// ScriptErrored means the script could not be invoked at all.
	ScriptErrored ScriptResultKind = "errored"
	// ScriptSkipped means the script was missing and loose mode tolerated it.
	ScriptSkipped ScriptResultKind = "skipped"
)

// RunScriptResult is the outcome of one (package × script) job.
type RunScriptResult struct {
	Kind       ScriptResultKind     `json:"kind"`
	Manifest   RunScriptManifest    `json:"manifest"`
	PkgManager StaticPkgManagerSpec `json:"pkg_manager"`
	Output     ScriptOutput         `json:"output"`
	Err        error                `json:"-"`
	Error      string               `json:"error,omitempty"`
}

// NewRunScriptResult fills in the serializable error text alongside the typed error.
func NewRunScriptResult(kind ScriptResultKind, m RunScriptManifest, pm StaticPkgManagerSpec, out ScriptOutput, err error) RunScriptResult {
	r := RunScriptResult{Kind: kind, Manifest: m, PkgManager: pm, Output: out, Err: err}
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Severity controls whether a rule's violations fail the run.
type Severity string

const (
	SeverityError Severity = "error"
	SeverityWarn  Severity = "warn"
	SeverityOff   Severity = "off"
)

// Valid reports whether s is a known severity.
func (s Severity) Valid() bool {
	return s == SeverityError || s == SeverityWarn || s == SeverityOff
}

// Violation is one issue a rule found in an installed package.
type Violation struct {
	Message  string   `json:"message"`
	Severity Severity `json:"severity"`
	Filepath string   `json:"filepath,omitempty"`
	Data     any      `json:"data,omitempty"`
}

// CheckResult is the outcome of one rule against one installed package.
// Only CheckOK and CheckFailed implement it.
type CheckResult interface {
	RuleName() string
	Target() LintManifest
	checkResult()
}

// CheckOK is a passing check.
type CheckOK struct {
	Rule     string       `json:"rule"`
	Manifest LintManifest `json:"manifest"`
}

func (r CheckOK) RuleName() string     { return r.Rule }
func (r CheckOK) Target() LintManifest { return r.Manifest }
func (CheckOK) checkResult()           {}

// CheckFailed is a check that reported at least one violation.
type CheckFailed struct {
	Rule       string       `json:"rule"`
	Manifest   LintManifest `json:"manifest"`
	Severity   Severity     `json:"severity"`
	Violations []Violation  `json:"violations"`
}

func (r CheckFailed) RuleName() string     { return r.Rule }
func (r CheckFailed) Target() LintManifest { return r.Manifest }
func (CheckFailed) checkResult()           {}

// LintResult groups the checks run against one installed package.
type LintResult struct {
	PkgManager StaticPkgManagerSpec `json:"pkg_manager"`
	Workspace  StaticWorkspace      `json:"workspace"`
	Passed     []CheckOK            `json:"passed"`
	Failed     []CheckFailed        `json:"failed"`
}

// HasErrors reports whether any failed check carries error severity.
func (r LintResult) HasErrors() bool {
	for _, f := range r.Failed {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Add files a check under the matching variant.
func (r *LintResult) Add(c CheckResult) {
	switch v := c.(type) {
	case CheckOK:
		r.Passed = append(r.Passed, v)
	case CheckFailed:
		r.Failed = append(r.Failed, v)
	}
}

// wireCheck is the tagged JSON form of a CheckResult.
type wireCheck struct {
	Status string `json:"status"`
	CheckFailed
}

// MarshalCheck encodes a CheckResult with a status tag so it can be decoded back.
func MarshalCheck(c CheckResult) ([]byte, error) {
	switch v := c.(type) {
	case CheckOK:
		return json.Marshal(wireCheck{Status: "ok", CheckFailed: CheckFailed{Rule: v.Rule, Manifest: v.Manifest}})
	case CheckFailed:
		return json.Marshal(wireCheck{Status: "failed", CheckFailed: v})
	default:
		return []byte("null"), nil
	}
}

// UnmarshalCheck decodes the output of MarshalCheck.
func UnmarshalCheck(data []byte) (CheckResult, error) {
	var w wireCheck
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, err
	}
	if w.Status == "failed" {
		return w.CheckFailed, nil
	}
	return CheckOK{Rule: w.Rule, Manifest: w.Manifest}, nil
}
