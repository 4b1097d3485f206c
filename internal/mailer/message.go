package mailer

import (
	"fmt"
	"html"
	"net/url"
	"strings"
	"time"
	"unicode"
)

const (
	inviteSubject     = "You're invited to L&D SaaS"
	activationSubject = "Your L&D SaaS account is active"
)

// InviteURL builds the accept-invite link the frontend serves.
func InviteURL(base, email, token string) string {
	q := url.Values{}
	q.Set("email", email)
	q.Set("token", token)
	return strings.TrimRight(base, "/") + "/accept-invite?" + q.Encode()
}

// DisplayName returns name, or a readable guess from the email local part
// ("jane.doe@x" becomes "Jane Doe").
func DisplayName(name, email string) string {
	if n := strings.TrimSpace(name); n != "" {
		return n
	}
	local, _, _ := strings.Cut(email, "@")
	words := strings.Fields(strings.ReplaceAll(local, ".", " "))
	for i, w := range words {
		r := []rune(strings.ToLower(w))
		r[0] = unicode.ToUpper(r[0])
		words[i] = string(r)
	}
	return strings.Join(words, " ")
}

func InviteMessage(to, name, inviteURL string, ttl time.Duration) Message {
	display := DisplayName(name, to)
	hours := int(ttl.Hours())
	text := fmt.Sprintf(`Hi %s,

You've been invited to L&D SaaS. Set your password here:

%s

This link expires in %d hours. If you weren't expecting this invite, you can ignore this email.
`, display, inviteURL, hours)
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>You've been invited to L&amp;D SaaS. <a href="%s">Set your password</a> to get started.</p>
<p>This link expires in %d hours. If you weren't expecting this invite, you can ignore this email.</p>`,
		html.EscapeString(display), html.EscapeString(inviteURL), hours)
	return Message{To: to, ToName: display, Subject: inviteSubject, Text: text, HTML: body}
}

func ActivationMessage(to, name, loginURL string) Message {
	display := DisplayName(name, to)
	text := fmt.Sprintf(`Hi %s,

Your L&D SaaS account is active. Sign in at %s
`, display, loginURL)
	body := fmt.Sprintf(`<p>Hi %s,</p>
<p>Your L&amp;D SaaS account is active. <a href="%s">Sign in</a></p>`,
		html.EscapeString(display), html.EscapeString(loginURL))
	return Message{To: to, ToName: display, Subject: activationSubject, Text: text, HTML: body}
}
