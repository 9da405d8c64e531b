package coordinate

import (
	"github.com/d5/tengo/v2"
	"github.com/pkg/errors"
)

// TengoAssessor evaluates a user-supplied Tengo script against the task
// and result, reading back score/issues/suggestions globals. It plays
// the same "small embedded scripting engine for a pluggable policy" role
// Tengo plays elsewhere for trading-strategy scripts, repointed at
// quality assessment.
type TengoAssessor struct {
	Script []byte
}

// NewTengoAssessor compiles script once to reject a script that does not
// compile; Assess compiles and runs a fresh copy on every call.
func NewTengoAssessor(script []byte) (*TengoAssessor, error) {
	a := &TengoAssessor{Script: script}
	if _, err := a.compile(); err != nil {
		return nil, errors.Wrap(err, "coordinate: compiling tengo quality script")
	}
	return a, nil
}

func (a *TengoAssessor) compile() (*tengo.Compiled, error) {
	script := tengo.NewScript(a.Script)
	_ = script.Add("task_instruction", "")
	_ = script.Add("result_response", "")
	_ = script.Add("result_status", "")
	_ = script.Add("score", 0)
	_ = script.Add("issues", []any{})
	_ = script.Add("suggestions", []any{})
	return script.Compile()
}

// Assess implements QualityAssessor.
func (a *TengoAssessor) Assess(task Task, result TaskResult) QualityAssessment {
	compiled, err := a.compile()
	if err != nil {
		panic(errors.Wrap(err, "coordinate: recompiling tengo quality script"))
	}

	_ = compiled.Set("task_instruction", task.Instruction)
	_ = compiled.Set("result_response", result.Response)
	_ = compiled.Set("result_status", string(result.Status))

	if err := compiled.Run(); err != nil {
		panic(errors.Wrap(err, "coordinate: running tengo quality script"))
	}

	score := compiled.Get("score").Int()

	var issues []string
	for _, v := range compiled.Get("issues").Array() {
		issues = append(issues, stringify(v))
	}
	var suggestions []string
	for _, v := range compiled.Get("suggestions").Array() {
		suggestions = append(suggestions, stringify(v))
	}

	return QualityAssessment{Score: score, Issues: issues, Suggestions: suggestions}
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}
