// Package i18n selects message printers for the web UI and the CLI.
// Titles, button labels and validation messages of forms pass through
// the printer of the request.
package i18n

import (
	"context"
	"os"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// DefaultLang is the fallback language
var DefaultLang = language.English

// SupportedLangs are the languages with a catalog.
var SupportedLangs = []language.Tag{
	language.English,
	language.German,
}

var matcher = language.NewMatcher(SupportedLangs)

type printerKey struct{}

// MatchLanguage returns the best supported language for an
// Accept-Language header value.
func MatchLanguage(acceptLang string) language.Tag {
	tags, _, _ := language.ParseAcceptLanguage(acceptLang)
	tag, _, _ := matcher.Match(tags...)
	base, _ := tag.Base()
	return language.Make(base.String())
}

// NewPrinter returns a message printer for the given language
func NewPrinter(tag language.Tag) *message.Printer {
	return message.NewPrinter(tag)
}

// WithPrinter returns a new context with the printer injected
func WithPrinter(ctx context.Context, p *message.Printer) context.Context {
	return context.WithValue(ctx, printerKey{}, p)
}

// GetPrinter returns the printer from the context, or a default one
func GetPrinter(ctx context.Context) *message.Printer {
	if p, ok := ctx.Value(printerKey{}).(*message.Printer); ok {
		return p
	}
	return message.NewPrinter(DefaultLang)
}

// T translates key with the printer of ctx.
func T(ctx context.Context, key string, args ...any) string {
	return GetPrinter(ctx).Sprintf(key, args...)
}

// NewCLIPrinter returns a printer for the locale in LC_ALL or LANG,
// e.g. "de_DE.UTF-8".
func NewCLIPrinter() *message.Printer {
	lang := os.Getenv("LC_ALL")
	if lang == "" {
		lang = os.Getenv("LANG")
	}
	if i := strings.IndexAny(lang, ".@"); i != -1 {
		lang = lang[:i]
	}
	if lang == "" || lang == "C" || lang == "POSIX" {
		return message.NewPrinter(DefaultLang)
	}
	return message.NewPrinter(MatchLanguage(strings.ReplaceAll(lang, "_", "-")))
}
