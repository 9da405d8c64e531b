package template

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetectTaskLine(t *testing.T) {
	t.Parallel()

	m := Default.Detect("TASK:FIX_BUG_001:patch the off-by-one in the scheduler")
	require.NotNil(t, m)
	require.Equal(t, KindTask, m.Kind)
	require.Equal(t, []string{"FIX_BUG_001", "patch the off-by-one in the scheduler"}, m.Groups)
	require.GreaterOrEqual(t, m.Confidence, 0.8)
}

func TestDetectReturnsNilOnMiss(t *testing.T) {
	t.Parallel()

	m := Default.Detect("just some chatter in the pane")
	require.Nil(t, m)
}

func TestDetectAllSortsByConfidenceDescending(t *testing.T) {
	t.Parallel()

	matches := Default.DetectAll("WORKER_RESULT:dev1:FIX_BUG_001:done, tests pass")
	require.NotEmpty(t, matches)
	for i := 1; i < len(matches); i++ {
		require.GreaterOrEqual(t, matches[i-1].Confidence, matches[i].Confidence)
	}
}

func TestFormatDetectRoundTrip(t *testing.T) {
	t.Parallel()

	line, err := Format(KindTask, map[string]string{
		"id":          "BUILD_042",
		"instruction": "wire up the release pipeline",
	})
	require.NoError(t, err)

	m := Default.Detect(line)
	require.NotNil(t, m)
	require.Equal(t, KindTask, m.Kind)
	require.Equal(t, "BUILD_042", m.Groups[0])
	require.Equal(t, "wire up the release pipeline", m.Groups[1])
}

func TestFormatRejectsInvalidGroup(t *testing.T) {
	t.Parallel()

	_, err := Format(KindTask, map[string]string{
		"id":          "not-a-valid-id",
		"instruction": "whatever",
	})
	require.Error(t, err)
}

func TestFormatRejectsMissingGroup(t *testing.T) {
	t.Parallel()

	_, err := Format(KindApproval, map[string]string{
		"reviewer": "alice",
		"id":       "TASK_1",
	})
	require.Error(t, err)
}

func TestDetectWithDiagnosisOnMiss(t *testing.T) {
	t.Parallel()

	match, diag := Default.DetectWithDiagnosis("TASK:lowercase_id_not_allowed")
	require.Nil(t, match)
	require.NotNil(t, diag)
	require.Equal(t, KindTask, diag.KnownPrefix)
}

func TestDetectWithDiagnosisOnHitReturnsNoDiagnosis(t *testing.T) {
	t.Parallel()

	match, diag := Default.DetectWithDiagnosis("TASK:ID_1:do the thing")
	require.NotNil(t, match)
	require.Nil(t, diag)
}

func TestValidateConfigAcceptsDefaultRegistry(t *testing.T) {
	t.Parallel()

	require.NoError(t, Default.ValidateConfig())
}

func TestValidateMessageWarnsOnUnknownWorker(t *testing.T) {
	t.Parallel()

	_, issues := Default.ValidateMessage("WORKER_RESULT:ghost:TASK_1:done", []string{"dev1", "dev2"})
	require.NotEmpty(t, issues)

	found := false
	for _, iss := range issues {
		if iss.Severity == "warning" {
			found = true
		}
	}
	require.True(t, found)
}

func TestValidateMessageInfoOnShortPayload(t *testing.T) {
	t.Parallel()

	_, issues := Default.ValidateMessage("TASK:ID_1:ok", nil)
	require.NotEmpty(t, issues)

	found := false
	for _, iss := range issues {
		if iss.Severity == "info" {
			found = true
		}
	}
	require.True(t, found)
}
