package events

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Payload is a decoded provider payload (JSON body or form values).
// Providers are inconsistent about field casing, so every canonical
// field is resolved through a fixed, ordered alias list: the first
// alias present wins, later ones are ignored.
type Payload map[string]any

// Alias candidates per canonical field, in priority order.
var (
	orderReferenceAliases = []string{"OrderId", "orderId", "ORDER_ID", "order_id", "orderID", "reference", "Reference"}
	subscriptionAliases   = []string{"SubscriptionId", "subscriptionId", "SUBSCRIPTION_ID", "subscription_id", "subscription"}
	transactionAliases    = []string{"TransactionId", "transactionId", "TRANSACTION_ID", "transaction_id", "txn_id", "id"}
	eventIDAliases        = []string{"EventId", "eventId", "EVENT_ID", "event_id", "alert_id", "ORDER_ITEM_ID"}
	amountAliases         = []string{"Amount", "amount", "AMOUNT", "total", "Total", "sale_gross"}
	currencyAliases       = []string{"Currency", "currency", "CURRENCY_CODE", "currency_code"}
	emailAliases          = []string{"Email", "email", "CUSTOMER_EMAIL", "customer_email", "account"}
	occurredAtAliases     = []string{"OccurredAt", "occurredAt", "event_time", "timestamp", "created", "ORDER_PLACED_TIME_UTC"}
)

// OrderReference resolves the order reference field.
func (p Payload) OrderReference() string { return p.firstString(orderReferenceAliases) }

// SubscriptionID resolves the provider subscription id field.
func (p Payload) SubscriptionID() string { return p.firstString(subscriptionAliases) }

// TransactionID resolves the provider transaction id field.
func (p Payload) TransactionID() string { return p.firstString(transactionAliases) }

// EventID resolves the provider event id field.
func (p Payload) EventID() string { return p.firstString(eventIDAliases) }

// CurrencyCode resolves the currency field.
func (p Payload) CurrencyCode() string { return strings.ToUpper(p.firstString(currencyAliases)) }

// CustomerEmail resolves the customer email field.
func (p Payload) CustomerEmail() string { return p.firstString(emailAliases) }

// String resolves a single named field without alias fallback.
func (p Payload) String(key string) string {
	return stringValue(p[key])
}

// Amount resolves the amount field. A missing or unparseable amount maps
// to nil rather than an error; not every event carries money.
func (p Payload) Amount() *decimal.Decimal {
	raw := p.firstString(amountAliases)
	if raw == "" {
		return nil
	}
	parsed, err := decimal.NewFromString(raw)
	if err != nil {
		return nil
	}
	return &parsed
}

// OccurredAt resolves the event timestamp, trying RFC3339 and the
// datetime formats providers actually send. Falls back to now so
// downstream ordering logic always has a value.
func (p Payload) OccurredAt(now time.Time) time.Time {
	raw := p.firstString(occurredAtAliases)
	if raw == "" {
		return now
	}
	for _, layout := range []string{
		time.RFC3339,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
		"2006-01-02",
	} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.UTC()
		}
	}
	if unix, err := strconv.ParseInt(raw, 10, 64); err == nil && unix > 0 {
		return time.Unix(unix, 0).UTC()
	}
	return now
}

func (p Payload) firstString(aliases []string) string {
	for _, alias := range aliases {
		if value, ok := p[alias]; ok {
			if s := stringValue(value); s != "" {
				return s
			}
		}
	}
	return ""
}

func stringValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		if v == float64(int64(v)) {
			return strconv.FormatInt(int64(v), 10)
		}
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}
