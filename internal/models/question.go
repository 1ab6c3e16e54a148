package models

// Question is one entry of the fixed, ordered intake question list.
type Question struct {
	Key         string `json:"key" yaml:"key"`
	Prompt      string `json:"prompt" yaml:"prompt"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}
