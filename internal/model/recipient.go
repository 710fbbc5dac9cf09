// internal/model/recipient.go
package model

import "strings"

// Recipient is a CRM contact a campaign can reach.
type Recipient struct {
	ID        int               `db:"id" json:"id"`
	TenantID  int               `db:"tenant_id" json:"tenant_id"`
	FirstName string            `db:"first_name" json:"first_name"`
	LastName  string            `db:"last_name" json:"last_name"`
	Email     string            `db:"email" json:"email"`
	Phone     string            `db:"phone" json:"phone"`
	Status    string            `db:"status" json:"status"`
	Locale    string            `db:"locale" json:"locale"`
	Fields    map[string]string `db:"fields" json:"fields,omitempty"`
	Consent   map[Channel]bool  `db:"consent" json:"consent,omitempty"`
	Fatigue   FatigueLedger     `db:"fatigue" json:"fatigue,omitempty"`
}

// Attr resolves a field by name: built-in columns first, then free-form
// fields. Lookups are case-insensitive on the name.
func (r *Recipient) Attr(name string) (string, bool) {
	key := strings.ToLower(strings.TrimSpace(name))
	switch key {
	case "first_name":
		return r.FirstName, true
	case "last_name":
		return r.LastName, true
	case "full_name", "name":
		return strings.TrimSpace(r.FirstName + " " + r.LastName), true
	case "email":
		return r.Email, true
	case "phone":
		return r.Phone, true
	case "status":
		return r.Status, true
	case "locale":
		return r.Locale, true
	}
	if r.Fields == nil {
		return "", false
	}
	if v, ok := r.Fields[name]; ok {
		return v, true
	}
	for k, v := range r.Fields {
		if strings.EqualFold(k, key) {
			return v, true
		}
	}
	return "", false
}

// Address returns where a message on channel c is delivered, or "" if the
// recipient cannot be reached there.
func (r *Recipient) Address(c Channel) string {
	switch c {
	case ChannelEmail:
		return strings.TrimSpace(r.Email)
	case ChannelSMS, ChannelWhatsApp:
		return strings.TrimSpace(r.Phone)
	}
	return ""
}

// HasConsent treats a missing flag as not consented.
func (r *Recipient) HasConsent(c Channel) bool {
	return r.Consent[c]
}
