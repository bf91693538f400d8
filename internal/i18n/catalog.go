package i18n

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// Message keys shared by the renderers.
const (
	MsgSave          = "Save"
	MsgSaveApply     = "Save & Apply"
	MsgReset         = "Reset"
	MsgAdd           = "Add"
	MsgDelete        = "Delete"
	MsgRequired      = "This field is required"
	MsgInvalidFields = "Some fields are invalid, cannot save values!"
	MsgSaved         = "Configuration has been applied."
	MsgNoEntries     = "This section contains no values yet"
	MsgLoading       = "Loading data…"
	MsgNoData        = "No data"
	MsgLogin         = "Log in"
	MsgUsername      = "Username"
	MsgPassword      = "Password"
	MsgMustBe        = "must be %s"
)

var german = map[string]string{
	MsgSave:          "Speichern",
	MsgSaveApply:     "Speichern & Anwenden",
	MsgReset:         "Zurücksetzen",
	MsgAdd:           "Hinzufügen",
	MsgDelete:        "Löschen",
	MsgRequired:      "Dieses Feld wird benötigt",
	MsgInvalidFields: "Einige Felder sind ungültig, Werte können nicht gespeichert werden!",
	MsgSaved:         "Konfiguration wurde angewendet.",
	MsgNoEntries:     "Diese Sektion enthält noch keine Einträge",
	MsgLoading:       "Lade Daten…",
	MsgNoData:        "Keine Daten",
	MsgLogin:         "Anmelden",
	MsgUsername:      "Benutzername",
	MsgPassword:      "Passwort",
	MsgMustBe:        "muss %s sein",
}

func init() {
	for key, msg := range german {
		message.SetString(language.German, key, msg)
	}
}
