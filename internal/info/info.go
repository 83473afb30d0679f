package info

import (
	"fmt"
	"html/template"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"regbackend/internal/data"
	"regbackend/internal/forms"
	"regbackend/internal/logger"
	"regbackend/internal/security"
)

// Pre-parse template at startup (like the other HTML endpoints)
var infoPageTmpl = template.Must(template.New("info").Funcs(template.FuncMap{
	"formatCurrency":    formatCurrency,
	"formatDate":        formatDate,
	"formatDisplayName": formatDisplayName,
	"profileName":       profileName,
	"profileEmail":      profileEmail,
	"lower":             strings.ToLower,
}).Parse(infoPageHTML))

type InfoPageData struct {
	Year               int
	Summary            RegistrationSummary
	Entries            []data.Registration
	PerEvent           []EventRow
	AdminToken         string
	LastUpdated        time.Time
	ProcessingDuration string
}

type RegistrationSummary struct {
	TotalRegistrations int
	PaidRegistrations  int
	PendingPayments    int
	FailedPayments     int
	TotalRevenueMinor  int64
	Currency           string
}

type EventRow struct {
	EventID      string
	Count        int
	Paid         int
	RevenueMinor int64
}

// InfoPageHandler renders the admin overview of registrations for a year.
func InfoPageHandler(w http.ResponseWriter, r *http.Request) {
	logger.LogHTTPRequest(r)
	startTime := time.Now()

	year, err := parseYear(r)
	if err != nil {
		logger.LogHTTPError(r, http.StatusBadRequest, err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	entries, err := data.NewRegistrationRepository().ListByYear(year)
	if err != nil {
		logger.LogHTTPError(r, http.StatusInternalServerError, err)
		http.Error(w, "Failed to load registration data", http.StatusInternalServerError)
		return
	}

	summary, perEvent := computeSummary(entries)

	// Temporary admin token so the overview can link into record views
	adminToken, err := security.GenerateAccessToken()
	if err != nil {
		logger.LogError("Failed to generate admin token: %v", err)
		adminToken = ""
	} else {
		security.StoreAccessToken(adminToken, "ADMIN", "admin_access")
		logger.LogInfo("Generated admin token for info page access")
	}

	pageData := InfoPageData{
		Year:               year,
		Summary:            summary,
		Entries:            entries,
		PerEvent:           perEvent,
		AdminToken:         adminToken,
		LastUpdated:        time.Now(),
		ProcessingDuration: time.Since(startTime).String(),
	}

	logger.LogInfo("Info page generated for year %d in %v (registrations: %d)",
		year, time.Since(startTime), len(entries))

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := infoPageTmpl.Execute(w, pageData); err != nil {
		logger.LogError("Failed to render info template: %v", err)
		http.Error(w, "Error rendering page", http.StatusInternalServerError)
		return
	}
}

func parseYear(r *http.Request) (int, error) {
	yearStr := r.URL.Query().Get("year")
	if yearStr == "" {
		return time.Now().Year(), nil
	}

	year, err := strconv.Atoi(yearStr)
	if err != nil {
		return 0, fmt.Errorf("invalid year parameter")
	}

	currentYear := time.Now().Year()
	if year < currentYear-10 || year > currentYear+1 {
		return 0, fmt.Errorf("year must be between %d and %d", currentYear-10, currentYear+1)
	}

	return year, nil
}

func computeSummary(entries []data.Registration) (RegistrationSummary, []EventRow) {
	summary := RegistrationSummary{
		TotalRegistrations: len(entries),
		Currency:           "INR",
	}
	byEvent := make(map[string]*EventRow)

	for _, entry := range entries {
		row, ok := byEvent[entry.EventID]
		if !ok {
			row = &EventRow{EventID: entry.EventID}
			byEvent[entry.EventID] = row
		}
		row.Count++

		switch {
		case entry.Submitted:
			summary.PaidRegistrations++
			summary.TotalRevenueMinor += entry.AmountMinor
			row.Paid++
			row.RevenueMinor += entry.AmountMinor
			if entry.Currency != "" {
				summary.Currency = entry.Currency
			}
		case entry.PaymentStatus == "failed":
			summary.FailedPayments++
		default:
			summary.PendingPayments++
		}
	}

	perEvent := make([]EventRow, 0, len(byEvent))
	for _, row := range byEvent {
		perEvent = append(perEvent, *row)
	}
	sort.Slice(perEvent, func(i, j int) bool {
		return perEvent[i].EventID < perEvent[j].EventID
	})

	return summary, perEvent
}

// formatDisplayName removes hyphens/underscores and properly capitalizes words
func formatDisplayName(input string) string {
	if input == "" {
		return ""
	}

	words := strings.FieldsFunc(input, func(c rune) bool {
		return c == '-' || c == '_'
	})

	for i, word := range words {
		if len(word) > 0 {
			words[i] = strings.ToUpper(word[:1]) + strings.ToLower(word[1:])
		}
	}

	return strings.Join(words, " ")
}

func formatCurrency(amountMinor int64, currency string) string {
	return fmt.Sprintf("%s %d.%02d", currency, amountMinor/100, amountMinor%100)
}

func formatDate(t time.Time) string {
	return t.Format("Jan 2, 2006 3:04 PM")
}

func profileName(reg data.Registration) string {
	return reg.Profile[forms.ProfileName]
}

func profileEmail(reg data.Registration) string {
	return reg.Profile[forms.ProfileEmail]
}

const infoPageHTML = `<!DOCTYPE html>
<html>
<head>
<meta charset="utf-8">
<title>Registrations {{.Year}}</title>
<style>
body { font-family: sans-serif; margin: 2em; color: #222; }
table { border-collapse: collapse; width: 100%; margin-bottom: 2em; }
th, td { border: 1px solid #ccc; padding: .4em .7em; text-align: left; font-size: .9em; }
th { background: #f0f3f8; }
.summary { display: flex; gap: 2em; margin-bottom: 2em; }
.summary div { background: #f7f7f7; border-radius: 8px; padding: 1em 1.5em; }
.summary b { display: block; font-size: 1.4em; }
.status-paid { color: #1a7f37; }
.status-failed { color: #b42318; }
.footer { color: #888; font-size: .8em; }
</style>
</head>
<body>
<h1>Registrations {{.Year}}</h1>

<div class="summary">
  <div><b>{{.Summary.TotalRegistrations}}</b> total</div>
  <div><b>{{.Summary.PaidRegistrations}}</b> paid</div>
  <div><b>{{.Summary.PendingPayments}}</b> pending</div>
  <div><b>{{.Summary.FailedPayments}}</b> failed</div>
  <div><b>{{formatCurrency .Summary.TotalRevenueMinor .Summary.Currency}}</b> revenue</div>
</div>

<h2>Per Event</h2>
<table>
<tr><th>Event</th><th>Registrations</th><th>Paid</th><th>Revenue</th></tr>
{{range .PerEvent}}
<tr>
  <td>{{formatDisplayName .EventID}}</td>
  <td>{{.Count}}</td>
  <td>{{.Paid}}</td>
  <td>{{formatCurrency .RevenueMinor $.Summary.Currency}}</td>
</tr>
{{end}}
</table>

<h2>Registrations</h2>
<table>
<tr><th>ID</th><th>Name</th><th>Email</th><th>Event</th><th>Category</th><th>Amount</th><th>Status</th><th>Submitted</th></tr>
{{range .Entries}}
<tr>
  <td>{{.RegistrationID}}</td>
  <td>{{profileName .}}</td>
  <td>{{profileEmail .}}</td>
  <td>{{formatDisplayName .EventID}}</td>
  <td>{{formatDisplayName .CategoryID}}</td>
  <td>{{formatCurrency .AmountMinor .Currency}}</td>
  <td>{{if .Submitted}}<span class="status-paid">paid</span>{{else if eq .PaymentStatus "failed"}}<span class="status-failed">failed</span>{{else}}pending{{end}}</td>
  <td>{{formatDate .SubmissionDate}}</td>
</tr>
{{end}}
</table>

<p class="footer">Generated {{formatDate .LastUpdated}} in {{.ProcessingDuration}}</p>
</body>
</html>`
