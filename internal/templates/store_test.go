package templates

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultsAreValid(t *testing.T) {
	for _, n := range Names() {
		assert.NoError(t, Validate(n, Default(n)), n)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    Name
		format  string
		wantErr bool
	}{
		{PromptHistoryLine, "{USER_NAME}: {USER_MESSAGE}", false},
		{PromptHistoryLine, "plain text", false},
		{PromptHistoryLine, "{AI_NAME} says", true},
		{PromptHistoryLine, "{USER_NAME", true},
		{PromptHistoryLine, "USER_NAME}", true},
		{PromptHistoryLine, "{}", true},
		{Prompt, "{PERSONA}{MESSAGE_HISTORY}{IMAGE_COMING}{AI_NAME}", false},
		{ImageUnauthorized, "{IMAGE_PROMPT}", true},
	}
	for _, tt := range tests {
		t.Run(string(tt.name)+"/"+tt.format, func(t *testing.T) {
			err := Validate(tt.name, tt.format)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewStoreOverrides(t *testing.T) {
	s, err := NewStore(map[string]string{
		"prompt_history_line": "[{USER_NAME}] {USER_MESSAGE}\n",
	})
	require.NoError(t, err)

	got := s.Format(PromptHistoryLine, map[Token]string{UserName: "alice", UserMessage: "hi"})
	assert.Equal(t, "[alice] hi\n", got)
	assert.Equal(t, Default(Prompt), s.Text(Prompt))
}

func TestNewStoreRejects(t *testing.T) {
	_, err := NewStore(map[string]string{"nope": "x"})
	assert.ErrorContains(t, err, "unknown template")

	_, err = NewStore(map[string]string{"prompt_image_coming": "{USER_NAME}"})
	assert.ErrorContains(t, err, "prompt_image_coming")
}

func TestFormatMissingTokensRenderEmpty(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	got := s.Format(PromptHistoryLine, map[Token]string{UserName: "bob"})
	assert.Equal(t, "bob says:\n\n\n", got)
}

func TestFormatDoesNotExpandValues(t *testing.T) {
	s, err := NewStore(nil)
	require.NoError(t, err)
	got := s.Format(PromptHistoryLine, map[Token]string{UserName: "{USER_MESSAGE}", UserMessage: "x"})
	assert.Equal(t, "{USER_MESSAGE} says:\nx\n\n", got)
}
