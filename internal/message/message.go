// Package message builds the in-app HTML body sent to every recipient.
package message

import (
	"bytes"
	"html/template"
	"time"

	"trendcast/internal/domain"
	"trendcast/internal/market"
)

type Content struct {
	ImageURL string
	Tokens   []domain.Token
	Now      time.Time
	// Test marks the body with a visible banner so test sends are never mistaken
	// for the real broadcast.
	Test bool
}

var funcs = template.FuncMap{
	"usd":     market.CompactUSD,
	"percent": market.Percent,
	"price":   market.Price,
	"inc":     func(i int) int { return i + 1 },
}

var body = template.Must(template.New("body").Funcs(funcs).Parse(`
{{- if .Test}}<div style="background-color:#ffe6e6; padding:10px; border-radius:5px; margin-bottom:15px;"><strong>TEST MODE NOTIFICATION</strong> - Sent at {{.SentAt}}</div>
{{end -}}
<h2 style="color:#333; font-size:18px; margin-bottom:10px;">Your Daily Trending Tokens Update</h2>
<p style="margin-bottom:15px;">Here are the trending tokens for {{.Date}}:</p>
<div style="text-align:center; margin:15px 0;"><img src="{{.ImageURL}}" alt="Trending Tokens Today" style="max-width:100%; width:300px; border-radius:8px; border:1px solid #eee;" /></div>
{{- if .Tokens}}
<table style="width:100%; border-collapse:collapse; font-size:14px;">
<tr><th align="left">#</th><th align="left">Token</th><th align="right">Price</th><th align="right">24h</th><th align="right">Market cap</th></tr>
{{- range $i, $t := .Tokens}}
<tr><td>{{inc $i}}</td><td>{{$t.Name}}{{if $t.Symbol}} ({{$t.Symbol}}){{end}}</td><td align="right">{{price $t.PriceUSD}}</td><td align="right" style="color:#2ECC40;">{{percent $t.PriceChange24h}}</td><td align="right">{{usd $t.MarketCapUSD}}</td></tr>
{{- end}}
</table>
{{- end}}
<p style="margin-top:15px;">Track these tokens and more on our platform daily!</p>
`))

// Build renders the body. Token names come from a third-party API and are escaped.
func Build(c Content) (string, error) {
	now := c.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	var b bytes.Buffer
	err := body.Execute(&b, struct {
		Content
		Date   string
		SentAt string
	}{
		Content: c,
		Date:    now.Format("Monday, January 2, 2006"),
		SentAt:  now.Format(time.RFC1123),
	})
	if err != nil {
		return "", err
	}
	return b.String(), nil
}
