package catalog

import (
	"fmt"
	"strings"
	"unicode"
)

// ModelName is a caller-facing catalogue name split into its provider prefix
// and the model part. The model part may itself contain "/", as in
// "openrouter/meta-llama/llama-3".
type ModelName struct {
	Provider string
	Model    string
}

func (n ModelName) String() string {
	return n.Provider + "/" + n.Model
}

// ParseModelName splits a configured catalogue name at its first "/".
// Both parts are required and must not contain whitespace.
func ParseModelName(name string) (ModelName, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return ModelName{}, fmt.Errorf("model name is required")
	}
	provider, model, ok := strings.Cut(name, "/")
	if !ok || provider == "" || model == "" {
		return ModelName{}, fmt.Errorf("model name %q must be of the form provider/model", name)
	}
	if strings.IndexFunc(name, unicode.IsSpace) >= 0 {
		return ModelName{}, fmt.Errorf("model name %q must not contain whitespace", name)
	}
	return ModelName{Provider: provider, Model: model}, nil
}
