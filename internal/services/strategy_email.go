package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/errs"
	"github.com/felixtosh/taxtool/internal/models"
	"github.com/felixtosh/taxtool/pkg/helpers"
	"github.com/felixtosh/taxtool/pkg/logger"
)

const (
	emailWindowDays = 180
	maxMessagePages = 2
)

type emailQueryGen interface {
	GenerateQueries(ctx context.Context, tx *models.Transaction, partner *models.Partner) ([]dto.SearchQuery, dto.LLMUsage)
	ClassifyEmailContent(ctx context.Context, body string, tx *models.Transaction) (dto.EmailClassification, dto.LLMUsage)
}

type emailClientSource interface {
	Clients(ctx context.Context, uid string) ([]MailboxClient, error)
}

type emailIngester interface {
	Ingest(ctx context.Context, uid string, data []byte, filename, mimeType string, src dto.SourceMetadata, hint *models.PrecisionSearchHint) (string, error)
}

type emailFileStore interface {
	hintFileStore
	GetByHash(ctx context.Context, uid, hash string) (*models.File, error)
}

type emailPartnerStore interface {
	strategyPartnerStore
	AppendInvoiceLinks(ctx context.Context, uid, partnerID string, links []string) error
}

type invoiceRenderer interface {
	Render(ctx context.Context, html string, meta dto.RenderMetadata) (dto.RenderResult, error)
}

type pauseChecker interface {
	IsPaused(ctx context.Context, uid string) (bool, error)
}

// emailAttachmentStrategy searches connected mailboxes for messages
// with attachments, scores PDF and image attachments against the
// transaction, and ingests the ones that clear the connect threshold.
type emailAttachmentStrategy struct {
	source   emailClientSource
	queries  emailQueryGen
	files    emailFileStore
	partners emailPartnerStore
	ingest   emailIngester
	scorer   *Scorer
	pauses   pauseChecker
	cfg      StrategyConfig
}

func NewEmailAttachmentStrategy(source emailClientSource, queries emailQueryGen, files emailFileStore, partners emailPartnerStore, ingest emailIngester, scorer *Scorer, pauses pauseChecker, cfg StrategyConfig) Strategy {
	return &emailAttachmentStrategy{
		source:   source,
		queries:  queries,
		files:    files,
		partners: partners,
		ingest:   ingest,
		scorer:   scorer,
		pauses:   pauses,
		cfg:      cfg,
	}
}

func (s *emailAttachmentStrategy) Name() string { return models.StrategyEmailAttachment }

func (s *emailAttachmentStrategy) Run(ctx context.Context, uid string, tx *models.Transaction) models.SearchAttempt {
	attempt := newAttempt(s.Name())

	clients, err := s.source.Clients(ctx, uid)
	if err != nil {
		attempt.Error = err.Error()
		return finishAttempt(&attempt)
	}
	if len(clients) == 0 {
		return finishAttempt(&attempt)
	}

	partner := partnerContext(ctx, s.partners, uid, tx)
	queries, usage := s.queries.GenerateQueries(ctx, tx, partner)
	recordUsage(&attempt, usage)

	mailQueries := make([]string, 0, len(queries))
	for _, q := range queries {
		mailQueries = append(mailQueries, q.Query+" has:attachment")
		attempt.Queries = append(attempt.Queries, q.Query)
	}

	scanMailboxes(ctx, uid, clients, mailQueries, &attempt, s.pauses, s.cfg, func(ctx context.Context, client MailboxClient, messageID string) (int, error) {
		return s.evaluateMessage(ctx, uid, tx, partner, client, messageID, &attempt)
	})
	return finishAttempt(&attempt)
}

func (s *emailAttachmentStrategy) evaluateMessage(ctx context.Context, uid string, tx *models.Transaction, partner *models.Partner, client MailboxClient, messageID string, attempt *models.SearchAttempt) (int, error) {
	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		return 0, err
	}
	if len(msg.Attachments) == 0 {
		return 0, nil
	}

	cls, usage := s.queries.ClassifyEmailContent(ctx, messageBody(msg), tx)
	recordUsage(attempt, usage)

	hasPDF := false
	for _, att := range msg.Attachments {
		if att.IsPDF() {
			hasPDF = true
			break
		}
	}
	// The email itself is the invoice and there is no PDF to grab;
	// the body-render strategy owns that case.
	if cls.IsMailInvoice && !hasPDF {
		return 0, nil
	}

	great := 0
	matchedPDF := false
	for _, att := range orderedAttachments(msg.Attachments) {
		if !att.IsPDF() && !att.IsImage() {
			continue
		}
		// A connected PDF from this message makes its sibling
		// images redundant previews.
		if att.IsImage() && matchedPDF {
			continue
		}
		attempt.CandidatesEvaluated++

		data, err := client.GetAttachment(ctx, messageID, att.AttachmentID)
		if err != nil {
			if isAuthExpired(err) {
				return great, err
			}
			attempt.Error = err.Error()
			continue
		}

		existing, err := lookupByHash(ctx, s.files, uid, data)
		if err != nil {
			attempt.Error = err.Error()
			continue
		}
		if existing != nil && tx.HasRejected(existing.FileID) {
			continue
		}

		var score int
		var connectedID string
		if existing != nil && !existing.IsDeleted() {
			cand := candidateFromFile(existing)
			cand.IsMailInvoice = cls.IsMailInvoice
			cand.HasInvoiceLink = cls.HasInvoiceLink
			ms := s.scorer.Score(cand, tx, partner, emailWindowDays)
			score = ms.Score
			if score >= s.cfg.ConnectThreshold {
				if ok, herr := writeHint(ctx, s.files, uid, existing.FileID, tx, s.Name(), score); herr != nil {
					attempt.Error = herr.Error()
				} else if ok {
					connectedID = existing.FileID
				}
			}
		} else {
			cand := messageCandidate(msg, cls)
			cand.SourceType = models.FileSourceGmailAttachment
			cand.IsPDF = att.IsPDF()
			ms := s.scorer.Score(cand, tx, partner, emailWindowDays)
			score = ms.Score
			if score >= s.cfg.ConnectThreshold {
				fileID, ierr := s.ingest.Ingest(ctx, uid, data, att.Filename, att.MimeType, dto.SourceMetadata{
					SourceType:   models.FileSourceGmailAttachment,
					SenderDomain: msg.FromDomain,
					MessageID:    msg.ID,
					PartnerID:    tx.PartnerID,
				}, matchHint(tx, s.Name(), score))
				if ierr != nil {
					attempt.Error = ierr.Error()
				} else {
					connectedID = strings.TrimPrefix(fileID, ExistingPrefix)
				}
			}
		}

		if score > attempt.BestScore {
			attempt.BestScore = score
		}
		if connectedID != "" {
			attempt.MatchesFound++
			attempt.ConnectedFileIDs = append(attempt.ConnectedFileIDs, connectedID)
			if att.IsPDF() {
				matchedPDF = true
			}
			if score >= s.cfg.GreatMatchThreshold {
				great++
			}
		}
	}
	return great, nil
}

// emailInvoiceStrategy handles invoices that live in the email body
// itself. Matching bodies are rendered to PDF and ingested; invoice
// download links found along the way are harvested onto the partner
// record even when the message does not match this transaction.
type emailInvoiceStrategy struct {
	source   emailClientSource
	queries  emailQueryGen
	files    emailFileStore
	partners emailPartnerStore
	renderer invoiceRenderer
	ingest   emailIngester
	scorer   *Scorer
	pauses   pauseChecker
	cfg      StrategyConfig
}

func NewEmailInvoiceStrategy(source emailClientSource, queries emailQueryGen, files emailFileStore, partners emailPartnerStore, renderer invoiceRenderer, ingest emailIngester, scorer *Scorer, pauses pauseChecker, cfg StrategyConfig) Strategy {
	return &emailInvoiceStrategy{
		source:   source,
		queries:  queries,
		files:    files,
		partners: partners,
		renderer: renderer,
		ingest:   ingest,
		scorer:   scorer,
		pauses:   pauses,
		cfg:      cfg,
	}
}

func (s *emailInvoiceStrategy) Name() string { return models.StrategyEmailInvoice }

func (s *emailInvoiceStrategy) Run(ctx context.Context, uid string, tx *models.Transaction) models.SearchAttempt {
	attempt := newAttempt(s.Name())

	clients, err := s.source.Clients(ctx, uid)
	if err != nil {
		attempt.Error = err.Error()
		return finishAttempt(&attempt)
	}
	if len(clients) == 0 {
		return finishAttempt(&attempt)
	}

	partner := partnerContext(ctx, s.partners, uid, tx)
	queries, usage := s.queries.GenerateQueries(ctx, tx, partner)
	recordUsage(&attempt, usage)

	mailQueries := make([]string, 0, len(queries))
	for _, q := range queries {
		mailQueries = append(mailQueries, q.Query)
		attempt.Queries = append(attempt.Queries, q.Query)
	}

	scanMailboxes(ctx, uid, clients, mailQueries, &attempt, s.pauses, s.cfg, func(ctx context.Context, client MailboxClient, messageID string) (int, error) {
		return s.evaluateMessage(ctx, uid, tx, partner, client, messageID, &attempt)
	})
	return finishAttempt(&attempt)
}

func (s *emailInvoiceStrategy) evaluateMessage(ctx context.Context, uid string, tx *models.Transaction, partner *models.Partner, client MailboxClient, messageID string, attempt *models.SearchAttempt) (int, error) {
	msg, err := client.GetMessage(ctx, messageID)
	if err != nil {
		return 0, err
	}
	for _, att := range msg.Attachments {
		if att.IsPDF() {
			return 0, nil
		}
	}

	cls, usage := s.queries.ClassifyEmailContent(ctx, messageBody(msg), tx)
	recordUsage(attempt, usage)

	if cls.HasInvoiceLink && len(cls.InvoiceLinks) > 0 && tx.PartnerID != "" {
		if err := s.partners.AppendInvoiceLinks(ctx, uid, tx.PartnerID, cls.InvoiceLinks); err != nil {
			logger.FromContext(ctx).Warn("failed to record invoice links", "partner_id", tx.PartnerID, "error", err)
		}
	}

	if !cls.IsMailInvoice || msg.BodyHTML == "" {
		return 0, nil
	}
	attempt.CandidatesEvaluated++

	cand := messageCandidate(msg, cls)
	cand.SourceType = models.FileSourceEmailBodyPDF
	cand.IsPDF = true
	ms := s.scorer.Score(cand, tx, partner, emailWindowDays)
	if ms.Score > attempt.BestScore {
		attempt.BestScore = ms.Score
	}
	if ms.Score < s.cfg.ConnectThreshold {
		return 0, nil
	}

	rendered, err := s.renderer.Render(ctx, msg.BodyHTML, dto.RenderMetadata{
		Subject: msg.Subject,
		From:    msg.From,
		Date:    msg.Date.Format("2006-01-02"),
	})
	if err != nil {
		attempt.Error = err.Error()
		return 0, nil
	}

	existing, err := lookupByHash(ctx, s.files, uid, rendered.PDF)
	if err != nil {
		attempt.Error = err.Error()
		return 0, nil
	}
	if existing != nil && tx.HasRejected(existing.FileID) {
		return 0, nil
	}

	fileID, err := s.ingest.Ingest(ctx, uid, rendered.PDF, invoiceFilename(msg), "application/pdf", dto.SourceMetadata{
		SourceType:   models.FileSourceEmailBodyPDF,
		SenderDomain: msg.FromDomain,
		MessageID:    msg.ID,
		PartnerID:    tx.PartnerID,
	}, matchHint(tx, s.Name(), ms.Score))
	if err != nil {
		attempt.Error = err.Error()
		return 0, nil
	}
	attempt.MatchesFound++
	attempt.ConnectedFileIDs = append(attempt.ConnectedFileIDs, strings.TrimPrefix(fileID, ExistingPrefix))
	if ms.Score >= s.cfg.GreatMatchThreshold {
		return 1, nil
	}
	return 0, nil
}

type messageVisitor func(ctx context.Context, client MailboxClient, messageID string) (great int, err error)

// scanMailboxes runs each query against each mailbox and visits every
// message once. It stops early when the visitor has accumulated enough
// great matches or the user pauses search mid-run; an expired grant
// skips the rest of that mailbox instead of failing the attempt.
func scanMailboxes(ctx context.Context, uid string, clients []MailboxClient, queries []string, attempt *models.SearchAttempt, pauses pauseChecker, cfg StrategyConfig, visit messageVisitor) {
	log := logger.FromContext(ctx)
	seen := make(map[string]bool)
	great := 0
	visited := 0

clients:
	for _, client := range clients {
		for _, query := range queries {
			pageToken := ""
			for page := 0; page < maxMessagePages; page++ {
				pg, err := client.SearchMessages(ctx, query, pageToken)
				if err != nil {
					if isAuthExpired(err) {
						log.Warn("mailbox grant expired mid-scan", "account", client.Account())
						continue clients
					}
					attempt.Error = err.Error()
					break
				}
				for _, id := range pg.IDs {
					if seen[id] {
						continue
					}
					seen[id] = true
					attempt.CandidatesFound++
					visited++

					if cfg.PauseCheckInterval > 0 && visited%cfg.PauseCheckInterval == 0 {
						if paused, perr := pauses.IsPaused(ctx, uid); perr == nil && paused {
							log.Info("search paused, stopping mailbox scan", "strategy", attempt.Strategy)
							return
						}
					}

					g, err := visit(ctx, client, id)
					great += g
					if err != nil {
						if isAuthExpired(err) {
							log.Warn("mailbox grant expired mid-scan", "account", client.Account())
							continue clients
						}
						attempt.Error = err.Error()
						continue
					}
					if cfg.GreatMatchLimit > 0 && great >= cfg.GreatMatchLimit {
						log.Debug("enough high-confidence matches, stopping scan", "strategy", attempt.Strategy)
						return
					}
				}
				if pg.NextPageToken == "" {
					break
				}
				pageToken = pg.NextPageToken
			}
		}
	}
}

// lookupByHash is a nil-on-miss content hash lookup.
func lookupByHash(ctx context.Context, files emailFileStore, uid string, data []byte) (*models.File, error) {
	sum := sha256.Sum256(data)
	f, err := files.GetByHash(ctx, uid, hex.EncodeToString(sum[:]))
	if err != nil {
		var nf *errs.NotFoundError
		if errors.As(err, &nf) {
			return nil, nil
		}
		return nil, err
	}
	return f, nil
}

func isAuthExpired(err error) bool {
	var expired *errs.AuthExpiredError
	return errors.As(err, &expired)
}

func recordUsage(attempt *models.SearchAttempt, usage dto.LLMUsage) {
	attempt.LLMCalls += usage.Calls
	attempt.LLMTokens += usage.Tokens
}

func matchHint(tx *models.Transaction, strategy string, score int) *models.PrecisionSearchHint {
	return &models.PrecisionSearchHint{
		TransactionID:  tx.TransactionID,
		Amount:         tx.Amount,
		Date:           tx.Date,
		SearchStrategy: strategy,
		Score:          score,
		CreatedAt:      time.Now(),
	}
}

// messageCandidate builds the scorer's view of an email that has no
// ingested file record yet.
func messageCandidate(msg *dto.MailMessage, cls dto.EmailClassification) ScoreCandidate {
	return ScoreCandidate{
		Date:           msg.Date.Format("2006-01-02"),
		PartnerName:    senderName(msg.From),
		SenderDomain:   msg.FromDomain,
		Text:           msg.Subject + "\n" + messageBodyText(msg),
		IsMailInvoice:  cls.IsMailInvoice,
		HasInvoiceLink: cls.HasInvoiceLink,
	}
}

// orderedAttachments puts PDFs before images so a PDF match can
// suppress its preview siblings.
func orderedAttachments(atts []dto.MailAttachment) []dto.MailAttachment {
	ordered := make([]dto.MailAttachment, 0, len(atts))
	for _, a := range atts {
		if a.IsPDF() {
			ordered = append(ordered, a)
		}
	}
	for _, a := range atts {
		if !a.IsPDF() {
			ordered = append(ordered, a)
		}
	}
	return ordered
}

func messageBody(msg *dto.MailMessage) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return msg.BodyHTML
}

func messageBodyText(msg *dto.MailMessage) string {
	if msg.BodyText != "" {
		return msg.BodyText
	}
	return ""
}

func senderName(from string) string {
	addr, err := mail.ParseAddress(from)
	if err != nil || addr.Name == "" {
		return ""
	}
	return addr.Name
}

func invoiceFilename(msg *dto.MailMessage) string {
	subject := strings.TrimSpace(msg.Subject)
	if subject == "" {
		subject = "invoice"
	}
	subject = helpers.Truncate(subject, 60)
	return fmt.Sprintf("%s %s.pdf", msg.Date.Format("2006-01-02"), subject)
}
