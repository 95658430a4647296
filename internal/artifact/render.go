package artifact

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/a-h/templ"

	"github.com/pavelanni/paperseal/internal/model"
)

// paperPage renders the sealed paper as a standalone HTML document.
func paperPage(doc model.PaperDocument) templ.Component {
	return templ.ComponentFunc(func(ctx context.Context, w io.Writer) error {
		var b strings.Builder
		b.WriteString("<!DOCTYPE html>\n<html><head><meta charset=\"utf-8\"><title>")
		b.WriteString(templ.EscapeString(doc.Paper.Title))
		b.WriteString("</title></head>\n<body>\n<h1>")
		b.WriteString(templ.EscapeString(doc.Paper.Title))
		b.WriteString("</h1>\n")
		fmt.Fprintf(&b, "<p class=\"generated\">%s</p>\n", templ.EscapeString(doc.Generated.UTC().Format("2006-01-02 15:04 MST")))

		n := 0
		for _, sec := range doc.Sections {
			b.WriteString("<section>\n")
			if sec.Name != "" {
				b.WriteString("<h2>")
				b.WriteString(templ.EscapeString(sec.Name))
				if sec.MarksPerQuestion > 0 {
					fmt.Fprintf(&b, " <small>(%d × %d)</small>", len(sec.Questions), sec.MarksPerQuestion)
				}
				b.WriteString("</h2>\n")
			}
			b.WriteString("<ol>\n")
			for _, q := range sec.Questions {
				n++
				fmt.Fprintf(&b, "<li value=\"%d\"><p>%s</p>", n, templ.EscapeString(q.Text))
				if len(q.Options) > 0 {
					b.WriteString("<ol type=\"a\">")
					for _, o := range q.Options {
						b.WriteString("<li>")
						b.WriteString(templ.EscapeString(o))
						b.WriteString("</li>")
					}
					b.WriteString("</ol>")
				}
				b.WriteString("</li>\n")
			}
			b.WriteString("</ol>\n</section>\n")
		}
		b.WriteString("</body></html>\n")
		_, err := io.WriteString(w, b.String())
		return err
	})
}
