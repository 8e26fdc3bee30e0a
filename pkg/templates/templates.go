// Package templates fills {{ KEY }} placeholders in static assets.
package templates

import (
	"fmt"
	"io/fs"
	"strings"
)

// TemplateData holds variables for template rendering.
type TemplateData map[string]string

// Substitute replaces every {{KEY}} and {{ KEY }} placeholder in content.
// Unknown placeholders are left as they are.
//
// Example:
//
//	data := TemplateData{
//	    "COMMIT":       "4f2a9c1e...",
//	    "SHORT_COMMIT": "4f2a9c1",
//	}
//	page := Substitute(index, data)
func Substitute(content string, data TemplateData) string {
	pairs := make([]string, 0, len(data)*4)
	for key, value := range data {
		pairs = append(pairs,
			"{{"+key+"}}", value,
			"{{ "+key+" }}", value,
		)
	}
	return strings.NewReplacer(pairs...).Replace(content)
}

// RenderFS reads name from fsys and substitutes data into it.
func RenderFS(fsys fs.FS, name string, data TemplateData) (string, error) {
	content, err := fs.ReadFile(fsys, name)
	if err != nil {
		return "", fmt.Errorf("failed to read template %s: %w", name, err)
	}
	return Substitute(string(content), data), nil
}
