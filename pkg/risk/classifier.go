// Package risk classifies browser actions into risk tiers.
//
// Classification is a pure function of the action description: no session
// state, no configuration, no I/O. The rules are evaluated in priority
// order and the first match wins:
//
//  1. Credential/payment field heuristics block the action outright,
//     regardless of action type. This rule is static and non-overridable.
//  2. Submit actions, and click/type against destructive targets, are high
//     risk and require human approval before executing.
//  3. Navigation off the session's declared target domain is medium risk.
//  4. Everything else is low risk.
package risk

import (
	"net/url"
	"strings"

	"github.com/entrhq/warden/pkg/session"
)

// BlockedReason is the explanation attached to every blocked action. It is
// deliberately explicit so operators can tell policy-blocked from failed.
const BlockedReason = "password/payment field interaction is permanently blocked"

// credentialMarkers match selectors, field names, and values that suggest a
// credential or payment field. Any hit blocks the action permanently.
var credentialMarkers = []string{
	"password",
	"passwd",
	"passphrase",
	"credit-card",
	"creditcard",
	"card-number",
	"cardnumber",
	"card_num",
	"cvc",
	"cvv",
	"ssn",
	"social-security",
	"secret",
	"api-key",
	"api_key",
	"apikey",
	"token",
	"2fa",
	"one-time-code",
	"otp",
	"pin-code",
	"pincode",
	"bank-account",
	"routing-number",
	"iban",
}

// destructiveMarkers match targets whose interaction likely commits an
// irreversible or costly operation.
var destructiveMarkers = []string{
	"delete",
	"remove",
	"destroy",
	"purchase",
	"buy-now",
	"buynow",
	"pay",
	"payment",
	"checkout",
	"place-order",
	"confirm",
	"publish",
	"transfer",
	"wire",
	"send-money",
	"unsubscribe-all",
	"deactivate",
}

// Classification is the outcome of classifying one action.
type Classification struct {
	// Level is the assigned risk tier.
	Level session.RiskLevel

	// Blocked is true when the action must never execute.
	Blocked bool

	// RequiresApproval is true when the action must pause for a human
	// decision before executing.
	RequiresApproval bool

	// Reason is a human-readable explanation of the classification.
	Reason string
}

// Classify assigns a risk tier to a single action. targetDomain is the host
// of the session's declared target URL, used to detect cross-domain
// navigation; it may be empty, in which case all navigation is same-domain.
func Classify(action session.Action, targetDomain string) Classification {
	// Rule 1: credential/payment heuristics block unconditionally.
	if matchesAny(action.Target, credentialMarkers) || matchesAny(action.Value, credentialMarkers) {
		return Classification{
			Level:   session.RiskBlocked,
			Blocked: true,
			Reason:  BlockedReason,
		}
	}

	// Rule 2: submit, or click/type against a destructive target.
	switch action.Type {
	case session.ActionSubmit:
		return Classification{
			Level:            session.RiskHigh,
			RequiresApproval: true,
			Reason:           "form submission requires approval",
		}
	case session.ActionClick, session.ActionTypeText:
		if matchesAny(action.Target, destructiveMarkers) {
			return Classification{
				Level:            session.RiskHigh,
				RequiresApproval: true,
				Reason:           "interaction with a destructive control requires approval",
			}
		}
	case session.ActionNavigate:
		// Rule 3: navigation off the declared target domain.
		if targetDomain != "" && !sameDomain(action.Target, targetDomain) {
			return Classification{
				Level:  session.RiskMedium,
				Reason: "navigation outside the declared target domain",
			}
		}
	case session.ActionExtract, session.ActionScroll, session.ActionScreenshot:
		// Rule 4 below.
	}

	return Classification{Level: session.RiskLow}
}

// Level is a convenience wrapper returning only the risk tier, used when
// deriving a session's plan-wide risk.
func Level(targetDomain string) func(session.Action) session.RiskLevel {
	return func(a session.Action) session.RiskLevel {
		return Classify(a, targetDomain).Level
	}
}

func matchesAny(s string, markers []string) bool {
	if s == "" {
		return false
	}
	lowered := strings.ToLower(s)
	for _, marker := range markers {
		if strings.Contains(lowered, marker) {
			return true
		}
	}
	return false
}

// sameDomain reports whether rawURL resolves to domain or a subdomain of
// it. Unparseable URLs are treated as cross-domain: the navigate executor
// will reject them anyway, and medium is the safer classification.
func sameDomain(rawURL, domain string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	domain = strings.ToLower(domain)
	return host == domain || strings.HasSuffix(host, "."+domain)
}
