package handlers

import (
	"log/slog"

	"firebase.google.com/go/v4/auth"

	"github.com/felixtosh/taxtool/internal/response"
)

type Deps struct {
	Log             *slog.Logger
	ResponseHandler response.ResponseHandler
	QueueSvc        QueueService
	SearchSvc       SearchService
	MailSvc         MailAccountService
	Firebase        *auth.Client
	MailHookKey     string
}
