package notify

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/angelmondragon/paywallet-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/paywallet-backend/pkg/errors"
)

// Template keys understood by the dispatcher. The ledger consumer picks one
// based on the terminal transaction state.
const (
	TemplateWalletCredited    = "wallet_credited"
	TemplateWalletDebited     = "wallet_debited"
	TemplateTransactionFailed = "transaction_failed"
	TemplateTransactionReview = "transaction_review"
)

// EmailTemplate requires a subject and an HTML body.
type EmailTemplate struct {
	Subject string
	HTML    string
}

// SMSTemplate is a single text body.
type SMSTemplate struct {
	Text string
}

// PushTemplate requires a title and a short body.
type PushTemplate struct {
	Title string
	Body  string
}

// Template holds the channel variants for one template key. A nil variant
// means the template cannot be rendered for that channel.
type Template struct {
	Key   string
	Email *EmailTemplate
	SMS   *SMSTemplate
	Push  *PushTemplate
}

// Rendered is the provider-ready output of a template. Title is empty for
// channels that have no title concept.
type Rendered struct {
	Title   string
	Content string
}

// Registry resolves template variants once at registration time rather than
// sniffing field presence per render.
type Registry struct {
	templates map[string]Template
}

// NewRegistry returns a registry preloaded with the wallet templates.
func NewRegistry() *Registry {
	r := &Registry{templates: make(map[string]Template)}
	r.register(Template{
		Key: TemplateWalletCredited,
		Email: &EmailTemplate{
			Subject: "Your wallet was credited",
			HTML:    "<p>Your wallet was credited with {{currency}} {{amount}}.</p><p>Reference: {{transaction_id}}</p>",
		},
		SMS: &SMSTemplate{
			Text: "Wallet credited: {{currency}} {{amount}}. Ref {{transaction_id}}",
		},
		Push: &PushTemplate{
			Title: "Wallet credited",
			Body:  "{{currency}} {{amount}} received",
		},
	})
	r.register(Template{
		Key: TemplateWalletDebited,
		Email: &EmailTemplate{
			Subject: "Your wallet was debited",
			HTML:    "<p>{{currency}} {{amount}} was deducted from your wallet.</p><p>Reference: {{transaction_id}}</p>",
		},
		SMS: &SMSTemplate{
			Text: "Wallet debited: {{currency}} {{amount}}. Ref {{transaction_id}}",
		},
		Push: &PushTemplate{
			Title: "Wallet debited",
			Body:  "{{currency}} {{amount}} deducted",
		},
	})
	r.register(Template{
		Key: TemplateTransactionFailed,
		Email: &EmailTemplate{
			Subject: "Your transaction could not be completed",
			HTML:    "<p>Transaction {{transaction_id}} for {{currency}} {{amount}} failed.</p><p>Reason: {{reason}}</p>",
		},
		SMS: &SMSTemplate{
			Text: "Transaction {{transaction_id}} failed: {{reason}}",
		},
		Push: &PushTemplate{
			Title: "Transaction failed",
			Body:  "{{transaction_id}}: {{reason}}",
		},
	})
	r.register(Template{
		Key: TemplateTransactionReview,
		Email: &EmailTemplate{
			Subject: "Your transaction is being reviewed",
			HTML:    "<p>Transaction {{transaction_id}} for {{currency}} {{amount}} went through and is under routine review.</p>",
		},
		SMS: &SMSTemplate{
			Text: "Transaction {{transaction_id}} ({{currency}} {{amount}}) is under routine review.",
		},
		Push: &PushTemplate{
			Title: "Transaction under review",
			Body:  "{{transaction_id}} is under routine review",
		},
	})
	return r
}

func (r *Registry) register(tpl Template) {
	r.templates[tpl.Key] = tpl
}

// Register adds or replaces a template. Intended for service wiring, not for
// per-request use.
func (r *Registry) Register(tpl Template) error {
	if strings.TrimSpace(tpl.Key) == "" {
		return pkgerrors.New(pkgerrors.CodeTemplateRender, "template key is required")
	}
	if tpl.Email == nil && tpl.SMS == nil && tpl.Push == nil {
		return pkgerrors.New(pkgerrors.CodeTemplateRender, "template has no channel variants")
	}
	r.register(tpl)
	return nil
}

// Render substitutes variables into the variant for the requested channel.
// Missing variants and unresolved placeholders are configuration defects and
// are never retried.
func (r *Registry) Render(key string, channel enums.NotificationChannel, vars map[string]string) (*Rendered, error) {
	tpl, ok := r.templates[key]
	if !ok {
		return nil, pkgerrors.New(pkgerrors.CodeTemplateRender, fmt.Sprintf("unknown template %q", key))
	}

	switch channel {
	case enums.NotificationChannelEmail:
		if tpl.Email == nil {
			return nil, missingVariant(key, channel)
		}
		subject, err := substitute(tpl.Email.Subject, vars)
		if err != nil {
			return nil, err
		}
		body, err := substitute(tpl.Email.HTML, vars)
		if err != nil {
			return nil, err
		}
		return &Rendered{Title: subject, Content: body}, nil
	case enums.NotificationChannelSMS:
		if tpl.SMS == nil {
			return nil, missingVariant(key, channel)
		}
		text, err := substitute(tpl.SMS.Text, vars)
		if err != nil {
			return nil, err
		}
		return &Rendered{Content: text}, nil
	case enums.NotificationChannelPush:
		if tpl.Push == nil {
			return nil, missingVariant(key, channel)
		}
		title, err := substitute(tpl.Push.Title, vars)
		if err != nil {
			return nil, err
		}
		body, err := substitute(tpl.Push.Body, vars)
		if err != nil {
			return nil, err
		}
		return &Rendered{Title: title, Content: body}, nil
	default:
		return nil, pkgerrors.New(pkgerrors.CodeTemplateRender, fmt.Sprintf("unsupported channel %q", channel))
	}
}

func missingVariant(key string, channel enums.NotificationChannel) error {
	return pkgerrors.New(pkgerrors.CodeTemplateRender, fmt.Sprintf("template %q has no %s variant", key, channel))
}

var placeholderPattern = regexp.MustCompile(`\{\{\s*([a-zA-Z0-9_]+)\s*\}\}`)

func substitute(text string, vars map[string]string) (string, error) {
	var missing []string
	out := placeholderPattern.ReplaceAllStringFunc(text, func(match string) string {
		name := placeholderPattern.FindStringSubmatch(match)[1]
		value, ok := vars[name]
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})
	if len(missing) > 0 {
		return "", pkgerrors.New(pkgerrors.CodeTemplateRender, fmt.Sprintf("missing template variables: %s", strings.Join(missing, ", ")))
	}
	return out, nil
}
