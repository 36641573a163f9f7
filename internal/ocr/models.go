package ocr

import (
	"fmt"
	"os"
	"path/filepath"
)

// ModelStatus reports whether the trained data for one language is installed.
type ModelStatus struct {
	Language  string `json:"language"`
	Path      string `json:"path"`
	Installed bool   `json:"installed"`
	Size      int64  `json:"size,omitempty"`
}

// CheckModels looks for <lang>.traineddata under dir for each language.
func CheckModels(dir string, languages []string) []ModelStatus {
	out := make([]ModelStatus, 0, len(languages))
	for _, lang := range languages {
		path := filepath.Join(dir, lang+".traineddata")
		st := ModelStatus{Language: lang, Path: path}
		if info, err := os.Stat(path); err == nil && !info.IsDir() && info.Size() > 0 {
			st.Installed = true
			st.Size = info.Size()
		}
		out = append(out, st)
	}
	return out
}

// RequireModels returns ErrEngineUnavailable naming the first language whose data is missing.
func RequireModels(dir string, languages []string) error {
	for _, st := range CheckModels(dir, languages) {
		if !st.Installed {
			return fmt.Errorf("%w: missing %s", ErrEngineUnavailable, st.Path)
		}
	}
	return nil
}
