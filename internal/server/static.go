package server

import (
	"embed"
	"io/fs"
	"os"

	"hooky/pkg/templates"
)

//go:embed static
var embedded embed.FS

const (
	indexFile   = "index.html"
	faviconFile = "favicon.ico"

	// EnvCommit is set by the hosting platform to the deployed git commit.
	EnvCommit     = "RENDER_GIT_COMMIT"
	unknownCommit = "???"
)

// StaticFS returns the embedded asset filesystem.
func StaticFS() fs.FS {
	sub, err := fs.Sub(embedded, "static")
	if err != nil {
		// the directory is embedded at build time
		panic(err)
	}
	return sub
}

// renderIndex fills the commit placeholders in the info page.
func renderIndex(assets fs.FS, commit string) ([]byte, error) {
	if commit == "" {
		commit = unknownCommit
	}
	short := commit
	if len(short) > 7 {
		short = short[:7]
	}

	page, err := templates.RenderFS(assets, indexFile, templates.TemplateData{
		"COMMIT":       commit,
		"SHORT_COMMIT": short,
	})
	if err != nil {
		return nil, err
	}
	return []byte(page), nil
}

func commitFromEnv() string {
	return os.Getenv(EnvCommit)
}
