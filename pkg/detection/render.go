package detection

import (
	"fmt"
	"html/template"
	"io"
	"time"
)

// Panel headings
const (
	HeadingDetected = "DRONE DETECTED"
	HeadingClear    = "NO DRONE DETECTED"
)

// Panel is the view model of the indicator
type Panel struct {
	Detected   bool
	Heading    string
	Confidence string // empty when not detected
	Class      string // empty when not detected or unclassified
}

// NewPanel derives the indicator for a state
func NewPanel(s State) Panel {
	if !s.Detected() {
		return Panel{Heading: HeadingClear}
	}

	p := Panel{
		Detected:   true,
		Heading:    HeadingDetected,
		Confidence: fmt.Sprintf("CONFIDENCE SCORE: %d%%", s.Percent()),
	}
	if s.UAVType != "" {
		p.Class = "CLASS: " + s.UAVType
	}
	return p
}

type pageData struct {
	Panel          Panel
	RefreshSeconds int
}

// RenderPage writes the full HTML view for a state
func RenderPage(w io.Writer, s State, refresh time.Duration) error {
	secs := int(refresh.Round(time.Second) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return pageTmpl.Execute(w, pageData{Panel: NewPanel(s), RefreshSeconds: secs})
}

var pageTmpl = template.Must(template.New("page").Parse(pageHTML))

const pageHTML = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="UTF-8">
<meta name="viewport" content="width=device-width,initial-scale=1">
<meta http-equiv="refresh" content="{{.RefreshSeconds}}">
<title>{{.Panel.Heading}}</title>
<style>
*{box-sizing:border-box;margin:0;padding:0}
body{display:flex;justify-content:center;align-items:center;height:100vh;font-family:ui-sans-serif,system-ui,sans-serif}
.panel{display:flex;flex-direction:column;gap:20px;padding:40px 80px;text-align:center;font-weight:700;border-radius:8px;box-shadow:0 1px 3px rgba(0,0,0,.2)}
.panel h1{font-size:36px}
.detected{background:#dc2626;color:#fff}
.clear{background:#6b7280;color:rgba(0,0,0,.5)}
</style>
</head>
<body>
{{- with .Panel}}
{{- if .Detected}}
<div class="panel detected">
<h1>{{.Heading}}</h1>
<h2>{{.Confidence}}</h2>
{{- if .Class}}
<h2>{{.Class}}</h2>
{{- end}}
</div>
{{- else}}
<div class="panel clear">
<h1>{{.Heading}}</h1>
</div>
{{- end}}
{{- end}}
</body>
</html>
`
