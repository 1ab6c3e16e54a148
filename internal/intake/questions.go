package intake

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"intake-engine/internal/models"
)

// questionListSchema is applied to the operator-supplied question file at
// startup so a malformed list fails the process instead of a session.
const questionListSchema = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["key", "prompt"],
		"properties": {
			"key": {"type": "string", "minLength": 1},
			"prompt": {"type": "string", "minLength": 1},
			"description": {"type": "string"}
		},
		"additionalProperties": false
	}
}`

// DefaultQuestions is the built-in intake question list, used when no
// question file is deployed. The first question doubles as the applicant's
// display name and server login.
func DefaultQuestions() []models.Question {
	return []models.Question{
		{
			Key:         "Character name",
			Prompt:      "Character name",
			Description: "First and last name of your character. This is also your server login.",
		},
		{
			Key:         "Character age",
			Prompt:      "Character age",
			Description: "How old is your character? The age must fit the server's lore.",
		},
		{
			Key:         "Password",
			Prompt:      "Server access password",
			Description: "This will be your password to log into the server.",
		},
		{
			Key:         "Backstory",
			Prompt:      "Character backstory",
			Description: "Tell your character's story. It must be consistent with the server's lore.",
		},
		{
			Key:         "Steam ID",
			Prompt:      "Steam ID",
			Description: "Provide your SteamID.",
		},
		{
			Key:         "Referral",
			Prompt:      "How did you find our server?",
			Description: "Searching, a friend's invite, etc.",
		},
	}
}

// LoadQuestions reads and validates the question list from path. A missing
// file falls back to the built-in default list.
func LoadQuestions(path string) ([]models.Question, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return DefaultQuestions(), nil
		}
		return nil, fmt.Errorf("read question file %s: %w", path, err)
	}

	var questions []models.Question
	if err := yaml.Unmarshal(data, &questions); err != nil {
		return nil, fmt.Errorf("parse question file %s: %w", path, err)
	}

	if err := ValidateQuestions(questions); err != nil {
		return nil, fmt.Errorf("invalid question file %s: %w", path, err)
	}

	return questions, nil
}

// ValidateQuestions checks the question list against the schema and rejects
// duplicate keys, which would make answers ambiguous.
func ValidateQuestions(questions []models.Question) error {
	doc, err := json.Marshal(questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}

	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(questionListSchema),
		gojsonschema.NewBytesLoader(doc),
	)
	if err != nil {
		return fmt.Errorf("schema validation: %w", err)
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			msgs = append(msgs, desc.String())
		}
		return fmt.Errorf("question list does not match schema: %v", msgs)
	}

	seen := make(map[string]bool, len(questions))
	for _, q := range questions {
		if seen[q.Key] {
			return fmt.Errorf("duplicate question key %q", q.Key)
		}
		seen[q.Key] = true
	}

	return nil
}
