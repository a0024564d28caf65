package handler

import (
	"html/template"
	"log/slog"
	"net/http"
	"time"
)

var privacyPolicyTmpl = template.Must(template.New("privacy").Parse(`<!doctype html>
<html><head><meta charset="utf-8"/><title>Privacy Policy</title>
<style>body{font-family:system-ui,Arial;padding:24px;line-height:1.6}</style></head>
<body><h1>Privacy Policy</h1>
<p>Effective date: <strong>{{.EffectiveDate}}</strong></p>
<p>We collect the Instagram data you authorize: comments, messages and media metadata.</p>
<p>We use it to send automated replies. We do not sell data.</p>
<p>You may revoke permissions at any time from your Instagram or Facebook settings.</p>
<p>Contact: <a href="mailto:{{.Contact}}">{{.Contact}}</a></p>
</body></html>
`))

// PrivacyHandler serves the public privacy policy required for app review
type PrivacyHandler struct {
	contact   string
	effective time.Time
}

// NewPrivacyHandler creates the handler; the effective date is fixed at startup
func NewPrivacyHandler(contact string) *PrivacyHandler {
	return &PrivacyHandler{contact: contact, effective: time.Now().UTC()}
}

// PrivacyPolicy handles GET /privacy-policy
func (h *PrivacyHandler) PrivacyPolicy(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	err := privacyPolicyTmpl.Execute(w, struct {
		EffectiveDate string
		Contact       string
	}{
		EffectiveDate: h.effective.Format(time.DateOnly),
		Contact:       h.contact,
	})
	if err != nil {
		slog.Error("Failed to render privacy policy", "error", err)
	}
}
