package notifier

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
)

const (
	subjectFormat = "📰 %s - 新聞電子報 (%s)"
	welcomePrefix = "歡迎訂閱 - "
)

type Rendered struct {
	Subject string
	HTML    string
	Text    string
}

var digestTmpl = template.Must(template.New("digest").Funcs(template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	},
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.Subject}}</title></head>
<body style="font-family: Arial, sans-serif; max-width: 640px; margin: 0 auto;">
<h1>{{.Topic}}</h1>
{{if .Welcome}}<p>感謝您訂閱「{{.Topic}}」，以下是最新的相關新聞。</p>{{end}}
<p>共 {{len .Items}} 則新聞 · {{.Date}}</p>
{{range .Items}}<div style="margin-bottom: 20px;">
<h2><a href="{{.URL}}">{{.Title}}</a></h2>
{{if .Summary}}<p>{{.Summary}}</p>{{end}}
<p><small>{{if .Source}}{{.Source}} · {{end}}{{date .PublishedAt}}</small></p>
</div>
{{end}}<hr>
<p><small>您收到此郵件是因為訂閱了 TopicDigest。</small></p>
</body>
</html>
`))

// Render 生成主题、HTML 正文和 Markdown 纯文本备选
func Render(d Digest, now time.Time) (Rendered, error) {
	date := now.Format("2006-01-02")
	subject := fmt.Sprintf(subjectFormat, d.Topic, date)
	if d.Welcome {
		subject = welcomePrefix + subject
	}

	var buf bytes.Buffer
	err := digestTmpl.Execute(&buf, struct {
		Digest
		Subject string
		Date    string
	}{d, subject, date})
	if err != nil {
		return Rendered{}, fmt.Errorf("render digest: %w", err)
	}
	body := buf.String()

	text, err := md.NewConverter("", true, nil).ConvertString(body)
	if err != nil {
		return Rendered{}, fmt.Errorf("convert digest to text: %w", err)
	}

	return Rendered{Subject: subject, HTML: body, Text: text}, nil
}
