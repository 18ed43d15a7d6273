package services

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/texttheater/golang-levenshtein/levenshtein"

	"github.com/felixtosh/taxtool/internal/models"
)

// Signal weights. Combined additively with the partner component taking
// the single best identity signal, then clamped to [0,100].
const (
	amountExactScore   = 45
	amountCloseScore   = 25
	amountFarScore     = 10
	amountUnknownScore = 10

	dateSameDayScore = 25
	dateTightScore   = 20
	dateNearScore    = 12
	dateInWindow     = 6
	dateOutside      = 2
	dateUnknownScore = 8

	vatMatchScore    = 30
	ibanMatchScore   = 30
	domainMatchScore = 28
	aliasMatchScore  = 26
	nameFuzzyMax     = 26

	pdfBonus         = 5
	imageBonus       = 2
	mailInvoiceBonus = 5
	invoiceLinkBonus = 3
)

// ScoreCandidate is the scorer's view of a candidate document: either a
// file's extracted fields or an email-derived stand-in before extraction
// has run.
type ScoreCandidate struct {
	Amount         *int64 // minor units, absolute
	Date           string // YYYY-MM-DD, empty when unknown
	PartnerName    string
	SenderDomain   string
	Text           string // free text to probe for IBAN/VAT
	SourceType     string
	IsPDF          bool
	IsMailInvoice  bool
	HasInvoiceLink bool
}

type MatchScore struct {
	Score   int
	Label   string
	Reasons []string
}

// Scorer is a pure scoring function; it does no I/O. Connect and strong
// thresholds only drive the label, callers compare Score against their
// own configured thresholds.
type Scorer struct {
	connect int
	strong  int
}

func NewScorer(connectThreshold, strongThreshold int) *Scorer {
	return &Scorer{connect: connectThreshold, strong: strongThreshold}
}

// Score rates how well the candidate matches the transaction.
// windowDays is the strategy's full search window; dates inside it but
// far from the transaction score low but nonzero.
func (s *Scorer) Score(c ScoreCandidate, tx *models.Transaction, partner *models.Partner, windowDays int) MatchScore {
	var score int
	var reasons []string

	pts, reason := scoreAmount(c.Amount, tx.Amount)
	score += pts
	reasons = append(reasons, reason)

	pts, reason = scoreDate(c.Date, tx.Date, windowDays)
	score += pts
	reasons = append(reasons, reason)

	if pts, reason = s.scorePartner(c, tx, partner); pts > 0 {
		score += pts
		reasons = append(reasons, reason)
	}

	if c.IsPDF {
		score += pdfBonus
		reasons = append(reasons, "source_pdf")
	} else if strings.HasPrefix(c.SourceType, "image") {
		score += imageBonus
		reasons = append(reasons, "source_image")
	}
	if c.IsMailInvoice {
		score += mailInvoiceBonus
		reasons = append(reasons, "mail_invoice")
	}
	if c.HasInvoiceLink {
		score += invoiceLinkBonus
		reasons = append(reasons, "invoice_link")
	}

	if score > 100 {
		score = 100
	}
	if score < 0 {
		score = 0
	}

	label := "weak"
	switch {
	case score >= s.strong:
		label = "strong"
	case score >= s.connect:
		label = "possible"
	}

	return MatchScore{Score: score, Label: label, Reasons: reasons}
}

func scoreAmount(candidate *int64, txAmount int64) (int, string) {
	if candidate == nil {
		return amountUnknownScore, "amount_unknown"
	}

	want := abs64(txAmount)
	got := abs64(*candidate)
	diff := abs64(got - want)
	rel := float64(diff)
	if want > 0 {
		rel = float64(diff) / float64(want)
	}

	switch {
	case diff <= 3 || rel <= 0.05:
		return amountExactScore, "amount_exact"
	case rel <= 0.10:
		return amountCloseScore, "amount_close"
	case rel <= 0.25:
		return amountFarScore, "amount_far"
	default:
		return 0, "amount_mismatch"
	}
}

func scoreDate(candidate, txDate string, windowDays int) (int, string) {
	cd, err1 := time.Parse("2006-01-02", candidate)
	td, err2 := time.Parse("2006-01-02", txDate)
	if err1 != nil || err2 != nil {
		return dateUnknownScore, "date_unknown"
	}

	days := int(cd.Sub(td).Hours() / 24)
	if days < 0 {
		days = -days
	}

	switch {
	case days == 0:
		return dateSameDayScore, "date_same_day"
	case days <= 7:
		return dateTightScore, "date_tight"
	case days <= 30:
		return dateNearScore, "date_near"
	case days <= windowDays:
		return dateInWindow, "date_in_window"
	default:
		return dateOutside, "date_outside_window"
	}
}

// scorePartner returns the single strongest identity signal rather than
// stacking them; a VAT hit already implies the rest.
func (s *Scorer) scorePartner(c ScoreCandidate, tx *models.Transaction, partner *models.Partner) (int, string) {
	if partner != nil {
		if partner.VatID != "" && containsFold(c.Text, partner.VatID) {
			return vatMatchScore, "vat_match"
		}
		compactText := strings.ReplaceAll(c.Text, " ", "")
		for _, iban := range partner.IBANs {
			if iban != "" && containsFold(compactText, strings.ReplaceAll(iban, " ", "")) {
				return ibanMatchScore, "iban_match"
			}
		}
		for _, domain := range partner.EmailDomains {
			if domain != "" && strings.EqualFold(domain, c.SenderDomain) {
				return domainMatchScore, "sender_domain_match"
			}
		}
		name := normalizeName(c.PartnerName)
		for _, alias := range partner.Aliases {
			if ok, _ := path.Match(strings.ToLower(alias), name); ok {
				return aliasMatchScore, "alias_match"
			}
		}
	}

	best := 0.0
	for _, txName := range []string{tx.Name, tx.Description, tx.Reference} {
		if partner != nil {
			if sim := nameSimilarity(partner.Name, c.PartnerName); sim > best {
				best = sim
			}
		}
		if sim := nameSimilarity(txName, c.PartnerName); sim > best {
			best = sim
		}
	}
	if best >= 0.5 {
		return int(nameFuzzyMax * best), fmt.Sprintf("name_similarity_%.2f", best)
	}
	return 0, ""
}

// nameSimilarity compares normalized names as whole strings and by best
// token pair, so "NETFLIX.COM" still matches "Netflix International".
func nameSimilarity(a, b string) float64 {
	na, nb := normalizeName(a), normalizeName(b)
	if na == "" || nb == "" {
		return 0
	}
	best := levenshtein.RatioForStrings([]rune(na), []rune(nb), levenshtein.DefaultOptions)

	for _, ta := range strings.Fields(na) {
		if len(ta) < 4 {
			continue
		}
		for _, tb := range strings.Fields(nb) {
			if len(tb) < 4 {
				continue
			}
			if r := levenshtein.RatioForStrings([]rune(ta), []rune(tb), levenshtein.DefaultOptions); r > best {
				best = r
			}
		}
	}
	return best
}

func normalizeName(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
