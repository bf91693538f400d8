package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/text/language"
)

func TestMatchLanguage(t *testing.T) {
	tests := []struct {
		accept   string
		expected language.Tag
	}{
		{"en-US,en;q=0.9", language.English},
		{"de-DE,de;q=0.9", language.German},
		{"fr-FR", language.English},
		{"", language.English},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.expected, MatchLanguage(tt.accept), "Accept: %s", tt.accept)
	}
}

func TestT(t *testing.T) {
	ctx := WithPrinter(context.Background(), NewPrinter(language.German))
	assert.Equal(t, "Speichern", T(ctx, MsgSave))
	assert.Equal(t, "muss eine gültige Zahl sein", T(ctx, MsgMustBe, "eine gültige Zahl"))

	assert.Equal(t, "Save", T(context.Background(), MsgSave))
}

func TestNewCLIPrinter(t *testing.T) {
	t.Setenv("LC_ALL", "")
	t.Setenv("LANG", "de_DE.UTF-8")
	assert.Equal(t, "Löschen", NewCLIPrinter().Sprintf(MsgDelete))

	t.Setenv("LANG", "C")
	assert.Equal(t, "Delete", NewCLIPrinter().Sprintf(MsgDelete))
}

func TestMiddleware(t *testing.T) {
	var got string
	handler := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), MsgReset)
	}))

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("Accept-Language", "de")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.Equal(t, "Zurücksetzen", got)
	assert.Equal(t, "de", w.Header().Get("Content-Language"))
}

func TestRequestLanguage(t *testing.T) {
	req := httptest.NewRequest("GET", "/ui/system", nil)
	req.Header.Set("Accept-Language", "de")
	req.AddCookie(&http.Cookie{Name: LangCookie, Value: "en"})
	assert.Equal(t, language.English, RequestLanguage(req), "cookie beats header")

	req = httptest.NewRequest("GET", "/ui/system?lang=de", nil)
	req.AddCookie(&http.Cookie{Name: LangCookie, Value: "en"})
	assert.Equal(t, language.German, RequestLanguage(req), "query beats cookie")

	req = httptest.NewRequest("GET", "/", nil)
	assert.Equal(t, language.English, RequestLanguage(req))
}
