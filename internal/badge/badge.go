package badge

import (
	"database/sql"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"regbackend/internal/data"
	"regbackend/internal/forms"
	"regbackend/internal/logger"
	"regbackend/internal/middleware"
)

var badgeTmpl = template.Must(template.New("badge").
	Funcs(template.FuncMap{
		"capitalize": func(s string) string {
			if s == "" {
				return ""
			}
			return strings.ToUpper(s[:1]) + s[1:]
		},
		"formatDateTime": func(t *time.Time) string {
			if t == nil {
				return ""
			}
			return t.Local().Format("Jan 2, 2006 3:04pm")
		},
		"formatCurrency": formatCurrency,
		"currentYear": func() int {
			return time.Now().Year()
		},
		"lower": strings.ToLower,
	}).Parse(badgeTemplateHTML))

// formatCurrency renders a minor-unit amount, e.g. 150000 paise as INR 1500.00.
func formatCurrency(amountMinor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amountMinor/100, amountMinor%100)
}

const badgeTemplateHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Attendee Badge</title>
<style>
body { font-family: sans-serif; background: #f4f4f4; margin: 0; padding: 2em; }
.badge { width: 340px; margin: 0 auto; background: #fff; border-radius: 12px;
  box-shadow: 0 2px 12px rgba(0,0,0,.15); overflow: hidden; }
.badge-header { background: #1a3c6e; color: #fff; padding: 1.2em; text-align: center; }
.badge-body { padding: 1.4em; text-align: center; }
.badge-name { font-size: 1.5em; font-weight: bold; margin-bottom: .2em; }
.badge-org { color: #555; margin-bottom: 1em; }
.badge-category { display: inline-block; background: #e8eef7; color: #1a3c6e;
  border-radius: 999px; padding: .3em 1em; font-size: .9em; margin-bottom: 1.2em; }
.badge-code { font-family: monospace; font-size: 1.1em; letter-spacing: .15em;
  border: 1px dashed #999; padding: .6em; margin-top: .8em; }
.badge-footer { background: #fafafa; color: #888; font-size: .8em;
  padding: .8em; text-align: center; }
</style>
</head>
<body>
<div class="badge">
  <div class="badge-header">
    <div>{{.EventName}}</div>
    <small>{{formatDateTime .EventStart}}</small>
  </div>
  <div class="badge-body">
    <div class="badge-name">{{.AttendeeName}}</div>
    <div class="badge-org">{{.Organization}}</div>
    <span class="badge-category">{{capitalize .CategoryName}}</span>
    <div class="badge-code" data-scan-value="{{.BadgeCode}}">{{.BadgeCode}}</div>
  </div>
  <div class="badge-footer">Registration {{.RegistrationID}} &middot; &copy; {{currentYear}}</div>
</div>
</body>
</html>`

type badgePageData struct {
	EventName      string
	EventStart     *time.Time
	AttendeeName   string
	Organization   string
	CategoryName   string
	BadgeCode      string
	RegistrationID string
}

// EnsureBadge gives a paid registration its badge code, generating one on
// first call and returning the existing code after that.
func EnsureBadge(registrationID string) (string, error) {
	reg, err := data.GetRegistrationByID(registrationID)
	if err != nil {
		return "", fmt.Errorf("failed to load registration: %w", err)
	}
	if !reg.Submitted {
		return "", fmt.Errorf("registration %s is not paid", registrationID)
	}
	if reg.BadgeCode != "" {
		return reg.BadgeCode, nil
	}

	code := strings.ToUpper(uuid.NewString()[:8]) + "-" + strings.ToUpper(uuid.NewString()[9:13])
	if err := data.NewRegistrationRepository().UpdateBadgeCode(registrationID, code); err != nil {
		return "", err
	}

	logger.LogInfo("Badge generated for %s: %s", registrationID, code)
	return code, nil
}

// BadgeHandler renders the printable attendee badge for a paid registration.
func BadgeHandler(w http.ResponseWriter, r *http.Request) {
	registrationID := r.URL.Query().Get("registrationID")
	if registrationID == "" {
		middleware.WriteAPIError(w, r, http.StatusBadRequest, "missing_parameter",
			"registrationID query parameter is required", "")
		return
	}

	token := middleware.GetToken(r.Context())
	if err := middleware.ValidateRegistrationAccess(r.Context(), registrationID, token); err != nil {
		middleware.WriteAPIError(w, r, http.StatusForbidden, "access_denied",
			"Access denied to this registration", "")
		return
	}

	reg, err := data.GetRegistrationByID(registrationID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			middleware.WriteAPIError(w, r, http.StatusNotFound, "not_found",
				"Registration not found", "")
			return
		}
		logger.LogError("Failed to load registration %s: %v", registrationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "database_error",
			"Failed to load registration", "")
		return
	}

	if !reg.Submitted {
		middleware.WriteAPIError(w, r, http.StatusConflict, "not_paid",
			"Badge is available after payment", "")
		return
	}

	code, err := EnsureBadge(registrationID)
	if err != nil {
		logger.LogError("Failed to generate badge for %s: %v", registrationID, err)
		middleware.WriteAPIError(w, r, http.StatusInternalServerError, "badge_error",
			"Failed to generate badge", "")
		return
	}

	eventName := reg.EventID
	var eventStart *time.Time
	if event, err := data.GetEventByID(reg.EventID); err == nil {
		eventName = event.Name
		eventStart = event.StartDate
	}

	categoryName := reg.CategoryID
	if category, err := data.GetCategoryByID(reg.CategoryID); err == nil {
		categoryName = category.Name
	}

	pageData := badgePageData{
		EventName:      eventName,
		EventStart:     eventStart,
		AttendeeName:   reg.Profile[forms.ProfileName],
		Organization:   reg.Profile[forms.ProfileOrganization],
		CategoryName:   categoryName,
		BadgeCode:      code,
		RegistrationID: registrationID,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := badgeTmpl.Execute(w, pageData); err != nil {
		logger.LogError("Failed to render badge for %s: %v", registrationID, err)
	}
}
