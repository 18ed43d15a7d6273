package handlers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/felixtosh/taxtool/internal/dto"
	"github.com/felixtosh/taxtool/internal/models"
)

type stubMailService struct {
	accounts []*models.MailAccount

	connectCalled bool
	connectUID    string
	connectReq    dto.ConnectMailAccountRequest

	disconnectID string
	pausedID     string
	resumedID    string

	err error
}

func (s *stubMailService) List(ctx context.Context, uid string) ([]*models.MailAccount, error) {
	return s.accounts, s.err
}

func (s *stubMailService) Connect(ctx context.Context, uid string, req dto.ConnectMailAccountRequest) (*models.MailAccount, error) {
	s.connectCalled = true
	s.connectUID = uid
	s.connectReq = req
	if s.err != nil {
		return nil, s.err
	}
	return &models.MailAccount{AccountID: "a1", Email: req.Email, Status: models.MailAccountActive}, nil
}

func (s *stubMailService) Disconnect(ctx context.Context, uid, accountID string) error {
	s.disconnectID = accountID
	return s.err
}

func (s *stubMailService) Pause(ctx context.Context, uid, accountID string) error {
	s.pausedID = accountID
	return s.err
}

func (s *stubMailService) Resume(ctx context.Context, uid, accountID string) error {
	s.resumedID = accountID
	return s.err
}

func TestConnectMailAccount(t *testing.T) {
	mailSvc := &stubMailService{}
	resp := &stubResponseHandler{}
	h := NewMailHandlers(&Deps{ResponseHandler: resp, MailSvc: mailSvc})

	req := authedRequest(http.MethodPost, "/mail-accounts", `{"email":"billing@acme.com","code":"4/abc"}`)
	rr := httptest.NewRecorder()
	h.Connect(rr, req)

	if !mailSvc.connectCalled || mailSvc.connectUID != "uid-123" {
		t.Fatalf("service received wrong uid: %s", mailSvc.connectUID)
	}
	if mailSvc.connectReq.Email != "billing@acme.com" || mailSvc.connectReq.Code != "4/abc" {
		t.Fatalf("unexpected connect request: %#v", mailSvc.connectReq)
	}
	if !resp.writeSuccessCalled || resp.writeSuccessStatus != http.StatusCreated {
		t.Fatalf("WriteSuccess not called with status 201")
	}
	acct, ok := resp.writeSuccessData.(*models.MailAccount)
	if !ok || acct.AccountID != "a1" {
		t.Fatalf("unexpected response body: %#v", resp.writeSuccessData)
	}
}

func TestConnectMailAccountInvalidJSON(t *testing.T) {
	mailSvc := &stubMailService{}
	resp := &stubResponseHandler{}
	h := NewMailHandlers(&Deps{ResponseHandler: resp, MailSvc: mailSvc})

	req := authedRequest(http.MethodPost, "/mail-accounts", "not-json")
	rr := httptest.NewRecorder()
	h.Connect(rr, req)

	if mailSvc.connectCalled {
		t.Fatalf("Connect should not be called when JSON invalid")
	}
	if !resp.handleErrorCalled {
		t.Fatalf("HandleError should be called on invalid JSON")
	}
}

func TestDisconnectRoutesAccountID(t *testing.T) {
	mailSvc := &stubMailService{}
	resp := &stubResponseHandler{}
	h := NewMailHandlers(&Deps{ResponseHandler: resp, MailSvc: mailSvc})

	// Through the router so the URL param is populated.
	req := authedRequest(http.MethodDelete, "/a9", "")
	rr := httptest.NewRecorder()
	h.MailRoutes().ServeHTTP(rr, req)

	if mailSvc.disconnectID != "a9" {
		t.Fatalf("disconnect account id = %q", mailSvc.disconnectID)
	}
	if !resp.writeSuccessCalled || resp.writeSuccessStatus != http.StatusOK {
		t.Fatalf("WriteSuccess not called with status 200")
	}
}

func TestPauseAndResumeRoutes(t *testing.T) {
	mailSvc := &stubMailService{}
	resp := &stubResponseHandler{}
	h := NewMailHandlers(&Deps{ResponseHandler: resp, MailSvc: mailSvc})

	rr := httptest.NewRecorder()
	h.MailRoutes().ServeHTTP(rr, authedRequest(http.MethodPost, "/a2/pause", ""))
	if mailSvc.pausedID != "a2" {
		t.Fatalf("pause account id = %q", mailSvc.pausedID)
	}

	rr = httptest.NewRecorder()
	h.MailRoutes().ServeHTTP(rr, authedRequest(http.MethodPost, "/a2/resume", ""))
	if mailSvc.resumedID != "a2" {
		t.Fatalf("resume account id = %q", mailSvc.resumedID)
	}
}

func TestListMailAccounts(t *testing.T) {
	mailSvc := &stubMailService{accounts: []*models.MailAccount{{AccountID: "a1"}, {AccountID: "a2"}}}
	resp := &stubResponseHandler{}
	h := NewMailHandlers(&Deps{ResponseHandler: resp, MailSvc: mailSvc})

	req := authedRequest(http.MethodGet, "/mail-accounts", "")
	rr := httptest.NewRecorder()
	h.List(rr, req)

	if !resp.writeSuccessCalled || resp.writeSuccessStatus != http.StatusOK {
		t.Fatalf("WriteSuccess not called with status 200")
	}
	accounts, ok := resp.writeSuccessData.([]*models.MailAccount)
	if !ok || len(accounts) != 2 {
		t.Fatalf("unexpected response body: %#v", resp.writeSuccessData)
	}
}
