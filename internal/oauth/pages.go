package oauth

import (
	"html/template"
	"net/http"

	"go.uber.org/zap"
)

var pageTemplate = template.Must(template.New("page").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>{{.Title}}</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Oxygen, Ubuntu, Cantarell, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            min-height: 100vh;
            margin: 0;
            background: #262421;
        }
        .container {
            background: white;
            padding: 3rem;
            border-radius: 10px;
            box-shadow: 0 10px 40px rgba(0,0,0,0.2);
            text-align: center;
            max-width: 420px;
        }
        .icon {
            width: 80px;
            height: 80px;
            margin: 0 auto 1rem;
            border-radius: 50%;
            background: {{if .Success}}#629924{{else}}#cc3333{{end}};
            display: flex;
            align-items: center;
            justify-content: center;
        }
        .icon svg {
            width: 50px;
            height: 50px;
            stroke: white;
            stroke-width: 3;
            fill: none;
        }
        h1 {
            color: #333;
            margin: 0 0 1rem;
        }
        p {
            color: #666;
            margin: 0;
            line-height: 1.6;
        }
    </style>
</head>
<body>
    <div class="container">
        <div class="icon">
            <svg viewBox="0 0 52 52">
                {{if .Success}}<path d="M14 27l7.5 7.5L38 18"/>{{else}}<path d="M16 16l20 20M36 16l-20 20"/>{{end}}
            </svg>
        </div>
        <h1>{{.Title}}</h1>
        {{range .Lines}}<p>{{.}}</p>
        {{end}}<p style="margin-top: 1rem;">You can now close this window and return to Discord.</p>
    </div>
</body>
</html>
`))

type page struct {
	Title   string
	Lines   []string
	Success bool
}

func (h *Handlers) render(w http.ResponseWriter, status int, p page) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)

	if err := pageTemplate.Execute(w, p); err != nil {
		h.logger.Error("failed to write page", zap.Int("status", status), zap.Error(err))
	}
}

func (h *Handlers) renderError(w http.ResponseWriter, status int, title, message string) {
	h.render(w, status, page{Title: title, Lines: []string{message}})
}
