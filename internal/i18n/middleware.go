package i18n

import (
	"net/http"

	"golang.org/x/text/language"
)

// LangCookie holds a language chosen in the web UI. It takes precedence
// over Accept-Language.
const LangCookie = "luci_lang"

// RequestLanguage picks the language of r: the "lang" query parameter,
// then LangCookie, then Accept-Language.
func RequestLanguage(r *http.Request) language.Tag {
	if l := r.URL.Query().Get("lang"); l != "" {
		return MatchLanguage(l)
	}
	if c, err := r.Cookie(LangCookie); err == nil && c.Value != "" {
		return MatchLanguage(c.Value)
	}
	return MatchLanguage(r.Header.Get("Accept-Language"))
}

// Middleware puts the printer for RequestLanguage into the request context
// and announces the language in Content-Language.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tag := RequestLanguage(r)
		w.Header().Set("Content-Language", tag.String())
		next.ServeHTTP(w, r.WithContext(WithPrinter(r.Context(), NewPrinter(tag))))
	})
}
