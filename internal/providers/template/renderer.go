package template

import (
	"bytes"
	"context"
	"embed"
	"errors"
	"fmt"
	"html"
	htmltemplate "html/template"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/reminder/internal/consolidation/domain"
)

//go:embed templates/*.html
var templateFS embed.FS

const fallbackLanguage = "en"

var ErrTemplateNotFound = errors.New("template_not_found")

type invoiceView struct {
	Number      string
	Amount      decimal.Decimal
	Currency    string
	DueDate     time.Time
	DaysOverdue int
}

type view struct {
	CompanyName   string
	CustomerName  string
	Currency      string
	Total         decimal.Decimal
	InvoiceCount  int
	OldestAgeDays int
	Invoices      []invoiceView
}

// Renderer renders the consolidated reminder for an escalation level and
// language from the embedded templates. Each file defines "subject" and "body".
type Renderer struct {
	templates map[string]*htmltemplate.Template
	now       func() time.Time
}

var _ domain.TemplateRenderer = (*Renderer)(nil)

func NewRenderer(now func() time.Time) (*Renderer, error) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}

	entries, err := templateFS.ReadDir("templates")
	if err != nil {
		return nil, err
	}

	templates := make(map[string]*htmltemplate.Template, len(entries))
	for _, entry := range entries {
		name := strings.TrimSuffix(entry.Name(), ".html")
		tmpl, err := htmltemplate.New(name).Funcs(funcs).ParseFS(templateFS, "templates/"+entry.Name())
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", entry.Name(), err)
		}
		if tmpl.Lookup("subject") == nil || tmpl.Lookup("body") == nil {
			return nil, fmt.Errorf("template %s must define subject and body", entry.Name())
		}
		templates[name] = tmpl
	}

	return &Renderer{templates: templates, now: now}, nil
}

func (r *Renderer) Render(ctx context.Context, req domain.RenderRequest) (domain.RenderedMessage, error) {
	if err := ctx.Err(); err != nil {
		return domain.RenderedMessage{}, err
	}

	lang := normalizeLanguage(req.Language)
	tmpl, ok := r.templates[key(req.Level, lang)]
	if !ok {
		lang = fallbackLanguage
		tmpl, ok = r.templates[key(req.Level, lang)]
	}
	if !ok {
		return domain.RenderedMessage{}, fmt.Errorf("%w: %s", ErrTemplateNotFound, req.Level)
	}

	data := r.buildView(req)

	var subject, body bytes.Buffer
	if err := tmpl.ExecuteTemplate(&subject, "subject", data); err != nil {
		return domain.RenderedMessage{}, fmt.Errorf("render subject: %w", err)
	}
	if err := tmpl.ExecuteTemplate(&body, "body", data); err != nil {
		return domain.RenderedMessage{}, fmt.Errorf("render body: %w", err)
	}

	return domain.RenderedMessage{
		TemplateID: fmt.Sprintf("consolidated/%s/%s", req.Level, lang),
		Subject:    html.UnescapeString(strings.Join(strings.Fields(subject.String()), " ")),
		Body:       strings.TrimSpace(body.String()),
	}, nil
}

func (r *Renderer) buildView(req domain.RenderRequest) view {
	c := req.Candidate
	now := r.now()

	invoices := make([]invoiceView, 0, len(c.Invoices))
	for _, inv := range c.Invoices {
		days := int(now.Sub(inv.DueDate).Hours() / 24)
		if days < 0 {
			days = 0
		}
		invoices = append(invoices, invoiceView{
			Number:      inv.InvoiceNumber,
			Amount:      inv.Amount,
			Currency:    inv.Currency,
			DueDate:     inv.DueDate,
			DaysOverdue: days,
		})
	}

	return view{
		CompanyName:   req.CompanyName,
		CustomerName:  c.CustomerName,
		Currency:      c.Currency,
		Total:         c.TotalAmount,
		InvoiceCount:  c.InvoiceCount,
		OldestAgeDays: c.OldestInvoiceAgeDays,
		Invoices:      invoices,
	}
}

func key(level domain.EscalationLevel, lang string) string {
	return fmt.Sprintf("%s.%s", level, lang)
}

func normalizeLanguage(lang string) string {
	lang = strings.ToLower(strings.TrimSpace(lang))
	if base, _, ok := strings.Cut(lang, "-"); ok {
		lang = base
	}
	if lang == "" {
		return fallbackLanguage
	}
	return lang
}

var funcs = htmltemplate.FuncMap{
	"money": formatMoney,
	"date": func(t time.Time) string {
		return t.Format("02 Jan 2006")
	},
}

// formatMoney renders 12345.5 AED as "AED 12,345.50".
func formatMoney(amount decimal.Decimal, currency string) string {
	fixed := amount.Abs().StringFixed(2)
	whole, frac, _ := strings.Cut(fixed, ".")

	var grouped strings.Builder
	for i, digit := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			grouped.WriteByte(',')
		}
		grouped.WriteRune(digit)
	}

	sign := ""
	if amount.IsNegative() {
		sign = "-"
	}
	return fmt.Sprintf("%s %s%s.%s", currency, sign, grouped.String(), frac)
}
