package view

import (
	"bytes"
	"html/template"

	"github.com/sifan077/TempLogin/internal/app/access"
)

// LoginPageData provides the dynamic fields required by the login status template.
type LoginPageData struct {
	Title  string
	Status access.DisplayStatus
	// ConfirmURL is only set for active links.
	ConfirmURL string
}

type statusCopy struct {
	Heading string
	Message string
}

var statusMessages = map[access.DisplayStatus]statusCopy{
	access.StatusActive: {
		Heading: "Temporary login",
		Message: "This link signs you in without a password. Continue only if you requested it.",
	},
	access.StatusExpired: {
		Heading: "Link expired",
		Message: "This login link has expired. Ask for a new one.",
	},
	access.StatusDeactivated: {
		Heading: "Link disabled",
		Message: "This login link has been disabled by an administrator.",
	},
	access.StatusMaxedOut: {
		Heading: "Link already used",
		Message: "This login link has reached its usage limit.",
	},
	access.StatusNotFound: {
		Heading: "Link not found",
		Message: "This login link is not valid. Check that you copied the whole address.",
	},
}

var loginPageTmpl = template.Must(template.New("login_page").Parse(`
<!DOCTYPE html>
<html lang="en">
<head>
	<meta charset="utf-8" />
	<meta name="viewport" content="width=device-width, initial-scale=1" />
	<meta name="robots" content="noindex, nofollow" />
	<meta name="referrer" content="no-referrer" />
	<title>{{.Title}}</title>
	<style>
		:root {
			--bg: #090a0f;
			--card: rgba(255, 255, 255, 0.05);
			--border: rgba(255, 255, 255, 0.15);
			--text: #e7ecff;
			--muted: #a1acc5;
			--accent: #7dd3fc;
			--accent-strong: #38bdf8;
			--warn: #fca5a5;
			font-family: "Inter", -apple-system, BlinkMacSystemFont, "Segoe UI", sans-serif;
		}
		* { box-sizing: border-box; }
		body {
			margin: 0;
			min-height: 100vh;
			display: flex;
			align-items: center;
			justify-content: center;
			background: radial-gradient(circle at 20% 20%, #111827, #030712 60%);
			color: var(--text);
		}
		.card {
			background: var(--card);
			border: 1px solid var(--border);
			border-radius: 18px;
			padding: 32px;
			width: min(480px, 92vw);
			box-shadow: 0 45px 100px rgba(0,0,0,0.35);
		}
		h1 { font-size: 1.5rem; margin-bottom: 6px; }
		p { color: var(--muted); margin-top: 0; }
		.status {
			display: inline-block;
			margin-bottom: 12px;
			padding: 4px 12px;
			border-radius: 999px;
			font-size: 0.78rem;
			text-transform: uppercase;
			letter-spacing: 0.08em;
			border: 1px solid var(--border);
			color: var(--warn);
		}
		.status.active { color: var(--accent); }
		button {
			margin-top: 24px;
			padding: 0 28px;
			height: 48px;
			border: 0;
			border-radius: 999px;
			background: linear-gradient(120deg, var(--accent), var(--accent-strong));
			color: #050708;
			font-weight: 600;
			font-size: 1rem;
			cursor: pointer;
		}
	</style>
</head>
<body>
	<div class="card">
		<span class="status {{.Status}}">{{.Status}}</span>
		<h1>{{.Heading}}</h1>
		<p>{{.Message}}</p>
		{{if .ConfirmURL}}
		<form method="post" action="{{.ConfirmURL}}">
			<button type="submit">Sign in</button>
		</form>
		{{end}}
	</div>
</body>
</html>
`))

type loginPageModel struct {
	LoginPageData
	Heading string
	Message string
}

// RenderLoginPage expands the login status template.
func RenderLoginPage(data LoginPageData) (string, error) {
	text, ok := statusMessages[data.Status]
	if !ok {
		data.Status = access.StatusNotFound
		text = statusMessages[access.StatusNotFound]
	}
	if data.Status != access.StatusActive {
		data.ConfirmURL = ""
	}
	if data.Title == "" {
		data.Title = text.Heading
	}

	var buf bytes.Buffer
	err := loginPageTmpl.Execute(&buf, loginPageModel{
		LoginPageData: data,
		Heading:       text.Heading,
		Message:       text.Message,
	})
	if err != nil {
		return "", err
	}
	return buf.String(), nil
}
