package site

import (
	"fmt"
	"html/template"
	"io"
)

// Placeholder copy for empty sections.
const (
	NoHistoryMessage    = "No history content available yet."
	NoCharactersMessage = "No characters have been added yet."
)

// Footer copy. AdminPath is where the admin frontend is mounted.
const (
	MemorialQuote       = "Those who cannot remember the past are condemned to repeat it."
	MemorialQuoteAuthor = "George Santayana"
	DedicationMessage   = "This memorial is dedicated to preserving the memory of Holocaust victims."
	AdminPath           = "/admin"
)

// IndexTemplateString is the public landing page. Cards are laid out in a
// static grid; stored board positions only apply to the admin board.
const IndexTemplateString = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1">
    <title>{{.Page.Title}}</title>
    <style>
        body { margin: 0; font-family: Georgia, serif; background: #1a1a1a; color: #e5e5e5; }
        section { padding: 4rem 1.5rem; max-width: 72rem; margin: 0 auto; }
        .hero { min-height: 60vh; display: flex; flex-direction: column; justify-content: center; text-align: center; }
        .history p { line-height: 1.8; white-space: pre-wrap; }
        .highlight { display: inline-block; font-weight: bold; }
        .wall { display: flex; flex-wrap: wrap; justify-content: center; gap: 2.5rem; padding: 3rem; background: #8b6f47; border-radius: 0.5rem; }
        .card { width: 16rem; min-height: 20rem; padding: 1rem; background: #fdfbf7; color: #2c2c2c; box-shadow: 0 4px 12px rgba(0,0,0,0.3); }
        .card .frame { width: 100%; height: 8rem; overflow: hidden; margin-bottom: 0.75rem; }
        .card img { width: 100%; }
        .card a { color: #666; font-size: 0.8rem; }
        footer.site { padding: 3rem 1.5rem; text-align: center; border-top: 1px solid #333; color: #999; }
        footer.site blockquote { font-style: italic; font-size: 1.15rem; margin: 0 0 2rem; }
        footer.site cite { display: block; margin-top: 0.5rem; font-size: 0.85rem; font-style: normal; }
        footer.site a { color: #999; }
        footer.site .dedication { margin-top: 2rem; font-size: 0.75rem; }
    </style>
</head>
<body>
<section class="hero">
    <h1>{{.Page.Title}}</h1>
    <p>{{.Page.Subtitle}}</p>
</section>
<section class="history">
    <h2>History</h2>
    {{if .Page.History}}<p>{{.History}}</p>{{else}}<p>{{.NoHistory}}</p>{{end}}
</section>
<section class="characters">
    <h2>Remembering the Individuals</h2>
    {{if .Page.Characters}}
    <div class="wall">
        {{range .Page.Characters}}
        <article class="card" style="transform: rotate({{.Rotation}}deg)">
            {{if .ImageURL}}
            <div class="frame">
                <img src="{{.ImageURL}}" alt="{{.Name}}" style="transform: translate({{.ImageOffsetX}}px, {{.ImageOffsetY}}px)">
            </div>
            {{end}}
            <h3>{{.Name}}</h3>
            <p>{{.Description}}</p>
            {{if .ExternalLink}}<a href="{{.ExternalLink}}" target="_blank" rel="noopener noreferrer">Learn more</a>{{end}}
        </article>
        {{end}}
    </div>
    {{else}}
    <p>{{.NoCharacters}}</p>
    {{end}}
</section>
<footer class="site">
    <blockquote>&ldquo;{{.Quote}}&rdquo;<cite>&mdash; {{.QuoteAuthor}}</cite></blockquote>
    <a href="{{.AdminPath}}">Admin</a>
    <p class="dedication">{{.Dedication}}</p>
</footer>
</body>
</html>
`

// ParseIndex compiles the landing page template.
func ParseIndex() (*template.Template, error) {
	return template.New("index").Parse(IndexTemplateString)
}

type indexView struct {
	Page         *Page
	History      template.HTML
	NoHistory    string
	NoCharacters string
	Quote        string
	QuoteAuthor  string
	AdminPath    string
	Dedication   string
}

// RenderIndex writes the landing page for page.
func RenderIndex(w io.Writer, tmpl *template.Template, page *Page) error {
	history, err := page.HistoryHTML()
	if err != nil {
		return fmt.Errorf("render history: %w", err)
	}
	return tmpl.Execute(w, indexView{
		Page:         page,
		History:      history,
		NoHistory:    NoHistoryMessage,
		NoCharacters: NoCharactersMessage,
		Quote:        MemorialQuote,
		QuoteAuthor:  MemorialQuoteAuthor,
		AdminPath:    AdminPath,
		Dedication:   DedicationMessage,
	})
}
