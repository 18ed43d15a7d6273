package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/helpers"
	"github.com/felixtosh/taxtool/pkg/logger"
)

type queryVertexClient interface {
	GenerateText(ctx context.Context, req dto.VertexGenerateRequest) (dto.VertexGenerateResponse, error)
}

// queryGenerator produces ranked mailbox search queries and email
// classifications. The LLM path is best effort: any failure, including
// malformed JSON, falls back to the deterministic generator so the
// pipeline never stalls on model unavailability.
type queryGenerator struct {
	vertex queryVertexClient
}

func NewQueryGenerator(vertex queryVertexClient) *queryGenerator {
	return &queryGenerator{vertex: vertex}
}

const maxQueries = 6

// GenerateQueries returns a filtered, deduplicated, ranked query list.
// Never returns an error and never returns an empty list for a
// transaction with any usable text.
func (g *queryGenerator) GenerateQueries(ctx context.Context, tx *models.Transaction, partner *models.Partner) ([]dto.SearchQuery, dto.LLMUsage) {
	log := logger.FromContext(ctx)
	usage := dto.LLMUsage{}

	resp, err := g.vertex.GenerateText(ctx, dto.VertexGenerateRequest{
		System:          querySystemPrompt,
		UserMessage:     queryUserPrompt(tx, partner),
		Temperature:     helpers.Ptr(float32(0.2)),
		MaxOutputTokens: helpers.Ptr(int32(512)),
	})
	usage.Calls++
	usage.Tokens += resp.TokenCount

	if err == nil {
		var queries []dto.SearchQuery
		if perr := decodeModelJSON(resp.Text, &queries); perr == nil {
			if filtered := filterQueries(queries); len(filtered) > 0 {
				return filtered, usage
			}
		} else {
			log.Warn("query generation returned unparseable output", "error", perr)
		}
	} else {
		log.Warn("query generation failed, using fallback", "error", err)
	}

	return filterQueries(fallbackQueries(tx, partner)), usage
}

// ClassifyEmailContent decides whether an email body is itself a mail
// invoice or carries invoice download links. Falls back to keyword
// heuristics on any model failure.
func (g *queryGenerator) ClassifyEmailContent(ctx context.Context, body string, tx *models.Transaction) (dto.EmailClassification, dto.LLMUsage) {
	log := logger.FromContext(ctx)
	usage := dto.LLMUsage{}

	body = helpers.Truncate(body, 6000)

	resp, err := g.vertex.GenerateText(ctx, dto.VertexGenerateRequest{
		System:          classifySystemPrompt,
		UserMessage:     classifyUserPrompt(body, tx),
		Temperature:     helpers.Ptr(float32(0)),
		MaxOutputTokens: helpers.Ptr(int32(256)),
	})
	usage.Calls++
	usage.Tokens += resp.TokenCount

	if err == nil {
		var out dto.EmailClassification
		if perr := decodeModelJSON(resp.Text, &out); perr == nil {
			return out, usage
		}
		log.Warn("email classification returned unparseable output")
	} else {
		log.Warn("email classification failed, using heuristic", "error", err)
	}

	return heuristicClassification(body), usage
}

const querySystemPrompt = "You generate Gmail search queries that locate the receipt or invoice " +
	"for a bank transaction. Respond with a STRICT JSON array of objects " +
	`[{"query": string, "type": "partner"|"amount"|"keyword"|"invoice_number"}] ` +
	"ranked most promising first. No markdown, no code fences, no commentary. " +
	"Queries must be specific: never emit a single generic word like 'invoice' or 'receipt'."

func queryUserPrompt(tx *models.Transaction, partner *models.Partner) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Transaction: name=%q description=%q reference=%q amount=%.2f %s date=%s\n",
		tx.Name, tx.Description, tx.Reference, float64(abs64(tx.Amount))/100, tx.Currency, tx.Date)
	if partner != nil {
		fmt.Fprintf(&b, "Known partner: name=%q website=%q domains=%v\n",
			partner.Name, partner.Website, partner.EmailDomains)
	}
	b.WriteString("Generate at most 6 queries.")
	return b.String()
}

const classifySystemPrompt = "You classify a single email in the context of a bank transaction. " +
	"Respond with STRICT JSON: " +
	`{"hasInvoiceLink": bool, "invoiceLinks": [string], "isMailInvoice": bool, "confidence": number 0..1}. ` +
	"isMailInvoice means the email body itself is the invoice/receipt (totals, line items), " +
	"not just a notification. invoiceLinks are URLs that download or view an invoice. " +
	"No markdown, no commentary."

func classifyUserPrompt(body string, tx *models.Transaction) string {
	return fmt.Sprintf("Transaction: %q for %.2f %s on %s.\n\nEmail body:\n%s",
		tx.Name, float64(abs64(tx.Amount))/100, tx.Currency, tx.Date, body)
}

var (
	codeFenceRe     = regexp.MustCompile("(?s)```(?:json)?\\s*(.*?)```")
	trailingCommaRe = regexp.MustCompile(`,\s*([}\]])`)
	hyphenSpacingRe = regexp.MustCompile(`\s*-\s*`)
	uuidRe          = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
)

// decodeModelJSON parses model output that is supposed to be JSON but
// frequently is not quite: code fences and trailing commas are repaired
// before unmarshalling.
func decodeModelJSON(text string, out any) error {
	text = strings.TrimSpace(text)
	if m := codeFenceRe.FindStringSubmatch(text); m != nil {
		text = strings.TrimSpace(m[1])
	}
	text = trailingCommaRe.ReplaceAllString(text, "$1")
	if text == "" {
		return fmt.Errorf("empty model output")
	}
	return json.Unmarshal([]byte(text), out)
}

// Single words too generic to search a mailbox for.
var genericQueryWords = map[string]bool{
	"invoice": true, "receipt": true, "rechnung": true, "beleg": true,
	"bill": true, "billing": true, "payment": true, "zahlung": true,
	"order": true, "bestellung": true, "statement": true, "total": true,
	"amount": true, "confirmation": true,
}

// filterQueries drops generic single words and bare UUIDs (session ids
// masquerading as references; real invoice numbers carry a short
// letter prefix and don't match the UUID shape), normalizes hyphen
// spacing artifacts, and dedupes case-insensitively. Order is
// preserved.
func filterQueries(queries []dto.SearchQuery) []dto.SearchQuery {
	seen := make(map[string]bool)
	out := make([]dto.SearchQuery, 0, len(queries))

	for _, q := range queries {
		query := hyphenSpacingRe.ReplaceAllString(strings.TrimSpace(q.Query), "-")
		query = strings.Join(strings.Fields(query), " ")
		if query == "" {
			continue
		}
		if !strings.Contains(query, " ") && genericQueryWords[strings.ToLower(query)] {
			continue
		}
		if uuidRe.MatchString(query) {
			continue
		}

		key := strings.ToLower(query)
		if seen[key] {
			continue
		}
		seen[key] = true

		q.Query = query
		out = append(out, q)
		if len(out) == maxQueries {
			break
		}
	}
	return out
}

// fallbackQueries is the deterministic generator: learned partner
// patterns first, then partner identity, then transaction keywords and
// amount variants.
func fallbackQueries(tx *models.Transaction, partner *models.Partner) []dto.SearchQuery {
	var out []dto.SearchQuery

	if partner != nil {
		for _, p := range partner.Patterns {
			if p.Confidence >= 0.5 {
				out = append(out, dto.SearchQuery{Query: p.Pattern, Type: dto.QueryTypeLearned})
			}
		}
		for _, domain := range partner.EmailDomains {
			if domain != "" {
				out = append(out, dto.SearchQuery{Query: "from:" + domain, Type: dto.QueryTypePartner})
			}
		}
		if partner.Name != "" {
			out = append(out, dto.SearchQuery{Query: partner.Name, Type: dto.QueryTypePartner})
		}
	}

	if keywords := keywordQuery(tx); keywords != "" {
		out = append(out, dto.SearchQuery{Query: keywords, Type: dto.QueryTypeKeyword})
	}
	if tx.Reference != "" && !uuidRe.MatchString(tx.Reference) {
		out = append(out, dto.SearchQuery{Query: tx.Reference, Type: dto.QueryTypeInvoiceNumber})
	}

	cents := abs64(tx.Amount)
	euros := float64(cents) / 100
	out = append(out,
		dto.SearchQuery{Query: fmt.Sprintf("%.2f", euros), Type: dto.QueryTypeAmount},
		dto.SearchQuery{Query: strings.ReplaceAll(fmt.Sprintf("%.2f", euros), ".", ","), Type: dto.QueryTypeAmount},
	)
	return out
}

// keywordQuery picks the distinctive tokens from the transaction text.
func keywordQuery(tx *models.Transaction) string {
	seen := make(map[string]bool)
	var words []string
	for _, source := range []string{tx.Name, tx.Description} {
		for _, tok := range strings.Fields(normalizeName(source)) {
			if len(tok) < 3 || genericQueryWords[tok] || isNumeric(tok) || seen[tok] {
				continue
			}
			seen[tok] = true
			words = append(words, tok)
			if len(words) == 3 {
				return strings.Join(words, " ")
			}
		}
	}
	return strings.Join(words, " ")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return len(s) > 0
}

// heuristicClassification is the rule-based stand-in for the LLM
// classifier.
func heuristicClassification(body string) dto.EmailClassification {
	lower := strings.ToLower(body)

	var links []string
	for _, m := range urlRe.FindAllString(body, 10) {
		lm := strings.ToLower(m)
		if strings.Contains(lm, "invoice") || strings.Contains(lm, "rechnung") ||
			strings.Contains(lm, "receipt") || strings.Contains(lm, "billing") {
			links = append(links, m)
		}
	}

	invoiceWords := 0
	for _, w := range []string{"invoice", "rechnung", "receipt", "total", "vat", "ust", "amount due", "summe"} {
		if strings.Contains(lower, w) {
			invoiceWords++
		}
	}

	return dto.EmailClassification{
		HasInvoiceLink: len(links) > 0,
		InvoiceLinks:   links,
		IsMailInvoice:  invoiceWords >= 3,
		Confidence:     0.3,
	}
}

var urlRe = regexp.MustCompile(`https?://[^\s"'<>)]+`)
