// Package templates renders the user-configurable text the bot sends to
// the inference server and to Discord.
package templates

import (
	"fmt"
	"slices"
	"sort"
	"strings"
)

// Name identifies a template.
type Name string

const (
	CommandLobotomizeResponse Name = "command_lobotomize_response"
	ExampleDialogue           Name = "example_dialogue"
	ImageDetach               Name = "image_detach"
	ImageConfirmation         Name = "image_confirmation"
	ImageGenerationError      Name = "image_generation_error"
	ImageUnauthorized         Name = "image_unauthorized"
	Prompt                    Name = "prompt"
	PromptHistoryLine         Name = "prompt_history_line"
	PromptImageComing         Name = "prompt_image_coming"
	PromptImageKeywords       Name = "prompt_image_keywords"
	SectionSeparator          Name = "section_separator"
)

// Token is a placeholder written as {TOKEN} inside a template.
type Token string

const (
	AIName         Token = "AI_NAME"
	Persona        Token = "PERSONA"
	ImageComing    Token = "IMAGE_COMING"
	ImagePrompt    Token = "IMAGE_PROMPT"
	MessageHistory Token = "MESSAGE_HISTORY"
	UserMessage    Token = "USER_MESSAGE"
	UserName       Token = "USER_NAME"
)

// Placeholder returns the token as it appears in a template.
func (t Token) Placeholder() string { return "{" + string(t) + "}" }

type definition struct {
	tokens  []Token
	purpose string
	text    string
}

var builtin = map[Name]definition{
	CommandLobotomizeResponse: {
		tokens:  []Token{AIName, UserName},
		purpose: "Shown in Discord after a successful /lobotomize command.",
		text:    "Ummmm... what were we talking about?\n",
	},
	Prompt: {
		tokens:  []Token{AIName, ImageComing, MessageHistory, Persona},
		purpose: "The main prompt sent to the inference server.",
		text: `You are in a chat room with multiple participants.
Below is a transcript of recent messages in the conversation.
Write the next one to three messages that you would send in this
conversation, from the point of view of the participant named
{AI_NAME}.

{PERSONA}

All responses you write must be from the point of view of
{AI_NAME}.
### Transcript:
{MESSAGE_HISTORY}
{IMAGE_COMING}
`,
	},
	PromptHistoryLine: {
		tokens:  []Token{UserMessage, UserName},
		purpose: "Renders one line of chat history inside {MESSAGE_HISTORY}.",
		text:    "{USER_NAME} says:\n{USER_MESSAGE}\n\n",
	},
	PromptImageComing: {
		tokens:  []Token{AIName},
		purpose: "Tells the model an image is being generated.",
		text:    "{AI_NAME}: is currently generating an image, as requested.\n",
	},
	PromptImageKeywords: {
		tokens:  []Token{AIName, UserMessage},
		purpose: "Asks the model for image keywords when use_ai_generated_keywords is set.",
		text: `Below is a request for an image, sent to {AI_NAME}.
Write a short, comma-separated list of keywords that describe the image
{AI_NAME} should draw. Reply with the keywords only.
### Request:
{USER_MESSAGE}
### Keywords:
`,
	},
	ExampleDialogue: {
		tokens:  []Token{AIName},
		purpose: "Sample conversation placed before the transcript while history is short.",
		text:    "",
	},
	SectionSeparator: {
		tokens:  []Token{AIName},
		purpose: "Separates the example dialogue from the transcript.",
		text:    "***",
	},
	ImageDetach: {
		tokens:  []Token{ImagePrompt, UserName},
		purpose: "Shown when a generated image is discarded.",
		text:    "{USER_NAME} asked for an image with the prompt:\n    '{IMAGE_PROMPT}'\n...but couldn't find a suitable one.\n",
	},
	ImageConfirmation: {
		tokens:  []Token{ImagePrompt, UserName},
		purpose: "Posted alongside a freshly generated image.",
		text:    "{USER_NAME}, is this what you wanted?\n",
	},
	ImageGenerationError: {
		tokens:  []Token{ImagePrompt, UserName},
		purpose: "Shown when the image server could not be reached.",
		text:    "Something went wrong generating your image.  Sorry about that!\n",
	},
	ImageUnauthorized: {
		tokens:  []Token{UserName},
		purpose: "Shown privately to a user acting on someone else's image.",
		text:    "Sorry, only {USER_NAME} can press the buttons.\n",
	},
}

// Names returns every template name in sorted order.
func Names() []Name {
	names := make([]Name, 0, len(builtin))
	for n := range builtin {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Default returns the built-in text of a template.
func Default(name Name) string { return builtin[name].text }

// Purpose describes where a template is used.
func Purpose(name Name) string { return builtin[name].purpose }

// Allowed returns the tokens a template may reference.
func Allowed(name Name) []Token { return slices.Clone(builtin[name].tokens) }

// Defaults returns all built-in templates keyed by name.
func Defaults() map[string]string {
	out := make(map[string]string, len(builtin))
	for n, s := range builtin {
		out[string(n)] = s.text
	}
	return out
}

// Store holds validated templates.
type Store struct {
	formats map[Name]string
}

// NewStore builds a Store from the defaults with overrides applied.
// Override keys must be template names and override texts may only
// reference the tokens allowed for that template.
func NewStore(overrides map[string]string) (*Store, error) {
	s := &Store{formats: make(map[Name]string, len(builtin))}
	for n, def := range builtin {
		s.formats[n] = def.text
	}
	var errs []string
	keys := make([]string, 0, len(overrides))
	for k := range overrides {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := Name(k)
		if _, ok := builtin[name]; !ok {
			errs = append(errs, fmt.Sprintf("unknown template %q", k))
			continue
		}
		if err := Validate(name, overrides[k]); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		s.formats[name] = overrides[k]
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid templates: %s", strings.Join(errs, "; "))
	}
	return s, nil
}

// Validate checks that every brace in format belongs to a token allowed
// for the template.
func Validate(name Name, format string) error {
	allowed := builtin[name].tokens
	for i := 0; i < len(format); i++ {
		switch format[i] {
		case '{':
			tok, ok := matchToken(format[i:], allowed)
			if !ok {
				return fmt.Errorf("template %s may only use %s", name, placeholders(allowed))
			}
			i += len(tok.Placeholder()) - 1
		case '}':
			return fmt.Errorf("template %s has an unmatched '}'", name)
		}
	}
	return nil
}

func matchToken(s string, allowed []Token) (Token, bool) {
	for _, t := range allowed {
		if strings.HasPrefix(s, t.Placeholder()) {
			return t, true
		}
	}
	return "", false
}

func placeholders(tokens []Token) string {
	out := make([]string, len(tokens))
	for i, t := range tokens {
		out[i] = t.Placeholder()
	}
	return strings.Join(out, ", ")
}

// Format renders a template. Allowed tokens missing from values render
// as empty strings.
func (s *Store) Format(name Name, values map[Token]string) string {
	allowed := builtin[name].tokens
	pairs := make([]string, 0, 2*len(allowed))
	for _, t := range allowed {
		pairs = append(pairs, t.Placeholder(), values[t])
	}
	return strings.NewReplacer(pairs...).Replace(s.formats[name])
}

// Text returns the raw format of a template.
func (s *Store) Text(name Name) string { return s.formats[name] }
