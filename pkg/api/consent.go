package api

// consentTemplate renders the authorize consent form. The flow parameters
// ride along as hidden fields and are re-validated on submission.
const consentTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Authorize Application</title>
  <style>
    body { font-family: sans-serif; max-width: 32em; margin: 4em auto; }
    .scope { color: #555; }
    button { padding: 0.5em 1.5em; margin-right: 1em; }
  </style>
</head>
<body>
  <h1>Authorize Application</h1>
  <p>The application <strong>{{.ClientID}}</strong> is requesting access to your account.</p>
  {{if .Scope}}<p class="scope">Requested scope: <code>{{.Scope}}</code></p>{{end}}
  <form method="POST" action="/oauth/authorize">
    <input type="hidden" name="client_id" value="{{.ClientID}}">
    <input type="hidden" name="redirect_uri" value="{{.RedirectURI}}">
    <input type="hidden" name="response_type" value="{{.ResponseType}}">
    <input type="hidden" name="scope" value="{{.Scope}}">
    <input type="hidden" name="state" value="{{.State}}">
    <button type="submit" name="decision" value="approve">Approve</button>
    <button type="submit" name="decision" value="deny">Deny</button>
  </form>
</body>
</html>
`

// consentData is the template context for the consent form
type consentData struct {
	ClientID     string
	RedirectURI  string
	ResponseType string
	Scope        string
	State        string
}
